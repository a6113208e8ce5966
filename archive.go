/*
Copyright © 2019 the Parcel authors.
This file is part of Parcel.

Parcel is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Parcel is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Parcel.  If not, see <http://www.gnu.org/licenses/>.
*/

package parcel

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// archive is the msgpack form of a ParcelSet.
type archive struct {
	Version        string
	NumSteps       int
	NumVertical    int
	NumHorizontal  int
	Direction      string
	StartTimeIndex int
	Dx, Dt         float64
	Staggered      bool
	StepsCompleted int
	Variables      map[string][]float64
}

// ArchiveSink writes trajectories as zstd-compressed msgpack.
type ArchiveSink struct {
	Path string
}

// Save implements ResultSink.
func (s *ArchiveSink) Save(_ context.Context, p *ParcelSet) error {
	f, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("parcel: creating output file: %v", err)
	}
	if err := p.WriteArchive(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteArchive writes p to w as zstd-compressed msgpack.
func (p *ParcelSet) WriteArchive(w io.Writer) error {
	a := archive{
		Version:        Version,
		NumSteps:       p.NumSteps,
		NumVertical:    p.NumVertical,
		NumHorizontal:  p.NumHorizontal,
		Direction:      p.Direction.String(),
		StartTimeIndex: p.StartTimeIndex,
		Dx:             p.Dx,
		Dt:             p.Dt,
		Staggered:      p.Staggered,
		StepsCompleted: p.StepsCompleted(),
		Variables:      make(map[string][]float64, len(ncfVariables)+len(p.Scalars)),
	}
	for _, v := range ncfVariables {
		a.Variables[v.name] = v.get(p).Elements
	}
	for name, d := range p.Scalars {
		a.Variables[name] = d.Elements
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("parcel: creating archive compressor: %v", err)
	}
	if err := msgpack.NewEncoder(zw).Encode(&a); err != nil {
		zw.Close()
		return fmt.Errorf("parcel: encoding archive: %v", err)
	}
	return zw.Close()
}

// LoadArchive reads a parcel set written by WriteArchive. The returned
// set is finalized unless it was saved before every step was recorded.
func LoadArchive(r io.Reader) (*ParcelSet, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("parcel: opening archive: %v", err)
	}
	defer zr.Close()
	var a archive
	if err := msgpack.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("parcel: decoding archive: %v", err)
	}
	var scalars []string
	for name := range a.Variables {
		if !reservedNames[name] {
			scalars = append(scalars, name)
		}
	}
	p := NewParcelSet(a.NumSteps, a.NumVertical, a.NumHorizontal, scalars)
	if p.Direction, err = ParseDirection(a.Direction); err != nil {
		return nil, fmt.Errorf("parcel: decoding archive: %v", err)
	}
	p.StartTimeIndex = a.StartTimeIndex
	p.Dx, p.Dt = a.Dx, a.Dt
	p.Staggered = a.Staggered
	n := a.NumSteps * a.NumVertical * a.NumHorizontal
	fill := func(name string, dst []float64) error {
		v, ok := a.Variables[name]
		if !ok || len(v) != n {
			return fmt.Errorf("parcel: archive variable %s is missing or has length %d instead of %d", name, len(v), n)
		}
		copy(dst, v)
		return nil
	}
	for _, v := range ncfVariables {
		if err := fill(v.name, v.get(p).Elements); err != nil {
			return nil, err
		}
	}
	for name, d := range p.Scalars {
		if err := fill(name, d.Elements); err != nil {
			return nil, err
		}
	}
	if err := p.markFilled(a.StepsCompleted); err != nil {
		return nil, fmt.Errorf("parcel: decoding archive: %v", err)
	}
	return p, nil
}
