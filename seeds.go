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
	"fmt"
	"io"

	"github.com/ctessum/geom/proj"
	"gopkg.in/yaml.v3"
)

// Seeds holds starting positions read from a seed file.
type Seeds struct {
	// Vertical are vertical grid positions.
	Vertical []float64 `yaml:"vertical"`

	// Horizontal are (x, y) grid positions.
	Horizontal [][]float64 `yaml:"horizontal"`

	// Coordinates are (x, y) locations in the spatial reference
	// given by Projection, which are converted to grid positions
	// by ProjectSeeds.
	Coordinates [][]float64 `yaml:"coordinates"`
	Projection  string      `yaml:"projection"`
}

// ReadSeeds reads seeds in YAML format. For example:
//
//	vertical: [2, 5.5]
//	horizontal:
//	  - [10, 10]
//	  - [12.5, 3]
func ReadSeeds(r io.Reader) (*Seeds, error) {
	s := new(Seeds)
	if err := yaml.NewDecoder(r).Decode(s); err != nil {
		return nil, fmt.Errorf("parcel: reading seed file: %v", err)
	}
	return s, nil
}

// Pairs converts (x, y) lists into pairs, returning a ConfigError
// if any entry does not have exactly two values.
func Pairs(field string, v [][]float64) ([][2]float64, error) {
	o := make([][2]float64, len(v))
	for i, p := range v {
		if len(p) != 2 {
			return nil, configErrorf(field, "entry %d has %d values instead of 2", i, len(p))
		}
		o[i] = [2]float64{p[0], p[1]}
	}
	return o, nil
}

// GridGeometry locates the grid in a projected spatial reference.
type GridGeometry struct {
	// X0 and Y0 are the coordinates of the lower-left corner of the
	// lower-left grid cell.
	X0, Y0 float64

	// Dx and Dy are the grid cell edge lengths in the units of the
	// spatial reference.
	Dx, Dy float64

	// SR is the spatial reference of the grid.
	SR *proj.SR

	// Staggered specifies that grid positions are measured from
	// cell edges rather than cell centers.
	Staggered bool
}

// Position converts a location in the grid's spatial reference to
// horizontal grid position.
func (g GridGeometry) Position(x, y float64) (gx, gy float64) {
	shift := 0.5
	if g.Staggered {
		shift = 0
	}
	return (x-g.X0)/g.Dx - shift, (y-g.Y0)/g.Dy - shift
}

// ProjectSeeds converts (x, y) locations in spatial reference src to
// horizontal grid positions. If src is nil, the locations are assumed
// to already be in the grid's spatial reference.
func ProjectSeeds(pts [][2]float64, src *proj.SR, g GridGeometry) ([][2]float64, error) {
	var trans proj.Transformer
	if src != nil {
		if g.SR == nil {
			return nil, configErrorf("GridProj", "a grid projection is needed to convert seed coordinates")
		}
		var err error
		trans, err = src.NewTransform(g.SR)
		if err != nil {
			return nil, fmt.Errorf("parcel: creating seed projection: %v", err)
		}
	}
	o := make([][2]float64, len(pts))
	for i, p := range pts {
		x, y := p[0], p[1]
		if trans != nil {
			var err error
			x, y, err = trans(x, y)
			if err != nil {
				return nil, fmt.Errorf("parcel: projecting seed %d: %v", i, err)
			}
		}
		o[i][0], o[i][1] = g.Position(x, y)
	}
	return o, nil
}
