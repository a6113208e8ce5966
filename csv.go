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

	"github.com/gocarina/gocsv"
)

// CSVRecord is one value in a CSV trajectory file.
type CSVRecord struct {
	Step           int     `csv:"step"`
	VerticalSeed   int     `csv:"zseed"`
	HorizontalSeed int     `csv:"hseed"`
	Variable       string  `csv:"variable"`
	Value          float64 `csv:"value"`
}

// CSVSink writes trajectories to a CSV file in long format, with one
// row per step, parcel, and variable.
type CSVSink struct {
	Path string
}

// Save implements ResultSink.
func (s *CSVSink) Save(_ context.Context, p *ParcelSet) error {
	f, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("parcel: creating output file: %v", err)
	}
	defer f.Close()
	if err := gocsv.Marshal(p.Records(), f); err != nil {
		return fmt.Errorf("parcel: writing csv output: %v", err)
	}
	return nil
}

// Records flattens p into CSV records.
func (p *ParcelSet) Records() []*CSVRecord {
	names := p.ScalarNames()
	nvars := len(ncfVariables) + len(names)
	recs := make([]*CSVRecord, 0, p.NumSteps*p.NumParcels()*nvars)
	for t := 0; t < p.NumSteps; t++ {
		for k := 0; k < p.NumVertical; k++ {
			for h := 0; h < p.NumHorizontal; h++ {
				i := (t*p.NumVertical+k)*p.NumHorizontal + h
				for _, v := range ncfVariables {
					recs = append(recs, &CSVRecord{
						Step: t, VerticalSeed: k, HorizontalSeed: h,
						Variable: v.name, Value: v.get(p).Elements[i],
					})
				}
				for _, name := range names {
					recs = append(recs, &CSVRecord{
						Step: t, VerticalSeed: k, HorizontalSeed: h,
						Variable: name, Value: p.Scalars[name].Elements[i],
					})
				}
			}
		}
	}
	return recs
}
