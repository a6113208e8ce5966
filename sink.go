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
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// Version is the version of this software.
const Version = "0.1.0"

// NewSink returns a sink that writes to path, with the format chosen
// by the file extension: ".nc" or ".ncf" for NetCDF, ".csv" for CSV,
// or ".zst" for a compressed msgpack archive.
func NewSink(path string) (ResultSink, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".nc", ".ncf", ".nc4":
		return &NCFSink{Path: path}, nil
	case ".csv":
		return &CSVSink{Path: path}, nil
	case ".zst":
		return &ArchiveSink{Path: path}, nil
	default:
		return nil, configErrorf("OutputFile", "unsupported output file extension %q", ext)
	}
}

// ncfVariables lists the position variables in the order they are
// written.
var ncfVariables = []struct {
	name, description, units string
	get                      func(*ParcelSet) *sparse.DenseArray
}{
	{"x", "Horizontal position along the x axis", "grid index", func(p *ParcelSet) *sparse.DenseArray { return p.X }},
	{"y", "Horizontal position along the y axis", "grid index", func(p *ParcelSet) *sparse.DenseArray { return p.Y }},
	{"z", "Vertical position", "grid index", func(p *ParcelSet) *sparse.DenseArray { return p.Z }},
	{"height", "Height above the datum", "m", func(p *ParcelSet) *sparse.DenseArray { return p.Height }},
	{"dz", "Vertical grid spacing", "m", func(p *ParcelSet) *sparse.DenseArray { return p.Spacing }},
}

// NCFSink writes trajectories to a NetCDF file.
type NCFSink struct {
	Path string
}

// Save implements ResultSink.
func (s *NCFSink) Save(_ context.Context, p *ParcelSet) error {
	w, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("parcel: creating output file: %v", err)
	}
	defer w.Close()
	return p.Write(w)
}

// Write writes p to netcdf file w.
func (p *ParcelSet) Write(w *os.File) error {
	dims := []string{"step", "zseed", "hseed"}
	h := cdf.NewHeader(dims, []int{p.NumSteps, p.NumVertical, p.NumHorizontal})
	h.AddAttribute("", "comment", "Parcel trajectory file")
	h.AddAttribute("", "parcel_version", Version)
	h.AddAttribute("", "direction", p.Direction.String())
	h.AddAttribute("", "start_time_index", []int32{int32(p.StartTimeIndex)})
	h.AddAttribute("", "dx", []float64{p.Dx})
	h.AddAttribute("", "dt", []float64{p.Dt})
	staggered := int32(0)
	if p.Staggered {
		staggered = 1
	}
	h.AddAttribute("", "staggered", []int32{staggered})
	h.AddAttribute("", "steps_completed", []int32{int32(p.StepsCompleted())})

	for _, v := range ncfVariables {
		h.AddVariable(v.name, dims, []float32{0})
		h.AddAttribute(v.name, "description", v.description)
		h.AddAttribute(v.name, "units", v.units)
	}
	names := p.ScalarNames()
	for _, name := range names {
		h.AddVariable(name, dims, []float32{0})
		h.AddAttribute(name, "description", "Tracked field "+name)
	}
	h.Define()

	f, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return err
	}
	for _, v := range ncfVariables {
		if err = writeNCF(f, v.name, v.get(p)); err != nil {
			return fmt.Errorf("parcel: writing variable %s to netcdf file: %v", v.name, err)
		}
	}
	for _, name := range names {
		if err = writeNCF(f, name, p.Scalars[name]); err != nil {
			return fmt.Errorf("parcel: writing variable %s to netcdf file: %v", name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

func writeNCF(f *cdf.File, name string, data *sparse.DenseArray) error {
	// Check that data matches dimensions.
	n := 1
	for _, v := range data.Shape {
		n *= v
	}
	if len(data.Elements) != n {
		return fmt.Errorf("dims are %d but array length is %d", n, len(data.Elements))
	}
	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	_, err := w.Write(data32)
	return err
}

// LoadParcelSet reads a parcel set written by ParcelSet.Write. The
// returned set is finalized unless it was saved before every step was
// recorded.
func LoadParcelSet(rw cdf.ReaderWriterAt) (*ParcelSet, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("parcel.LoadParcelSet: %v", err)
	}
	lengths := f.Header.Lengths("x")
	if len(lengths) != 3 {
		return nil, fmt.Errorf("parcel.LoadParcelSet: file does not contain trajectories")
	}
	var scalars []string
	for _, v := range f.Header.Variables() {
		if !reservedNames[v] {
			scalars = append(scalars, v)
		}
	}
	p := NewParcelSet(lengths[0], lengths[1], lengths[2], scalars)
	if d, ok := f.Header.GetAttribute("", "direction").(string); ok {
		if p.Direction, err = ParseDirection(d); err != nil {
			return nil, fmt.Errorf("parcel.LoadParcelSet: %v", err)
		}
	}
	if v, ok := f.Header.GetAttribute("", "start_time_index").([]int32); ok && len(v) > 0 {
		p.StartTimeIndex = int(v[0])
	}
	if v, ok := f.Header.GetAttribute("", "dx").([]float64); ok && len(v) > 0 {
		p.Dx = v[0]
	}
	if v, ok := f.Header.GetAttribute("", "dt").([]float64); ok && len(v) > 0 {
		p.Dt = v[0]
	}
	if v, ok := f.Header.GetAttribute("", "staggered").([]int32); ok && len(v) > 0 {
		p.Staggered = v[0] != 0
	}
	completed := p.NumSteps
	if v, ok := f.Header.GetAttribute("", "steps_completed").([]int32); ok && len(v) > 0 {
		completed = int(v[0])
	}
	read := func(name string, dst *sparse.DenseArray) error {
		d, err := readNCFNoTime(name, f)
		if err != nil {
			return fmt.Errorf("parcel.LoadParcelSet: %v", err)
		}
		copy(dst.Elements, d.Elements)
		return nil
	}
	for _, v := range ncfVariables {
		if err := read(v.name, v.get(p)); err != nil {
			return nil, err
		}
	}
	for _, name := range scalars {
		if err := read(name, p.Scalars[name]); err != nil {
			return nil, err
		}
	}
	if err := p.markFilled(completed); err != nil {
		return nil, fmt.Errorf("parcel.LoadParcelSet: %v", err)
	}
	return p, nil
}

// markFilled marks the first n steps as recorded, finalizing p if
// that is all of them.
func (p *ParcelSet) markFilled(n int) error {
	if n < 0 || n > p.NumSteps {
		return fmt.Errorf("%d steps completed out of %d", n, p.NumSteps)
	}
	for t := 0; t < n; t++ {
		p.positioned[t] = true
		p.sampled[t] = len(p.Scalars)
	}
	p.frozen = n == p.NumSteps
	return nil
}
