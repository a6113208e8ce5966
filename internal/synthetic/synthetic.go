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

// Package synthetic writes small NetCDF model output files with
// analytically known contents for testing.
package synthetic

import (
	"fmt"
	"os"

	"github.com/ctessum/cdf"
)

// Gravity is the gravitational acceleration used to write geopotential.
const Gravity = 9.80665

// Options describes the contents of a synthetic file. Winds are
// uniform. The scalar field T varies linearly along x as
// T = 300 + i + t for scalar cell i and record t.
type Options struct {
	Nx, Ny, Nz, NumRecords int

	// Dx is written to the DX global attribute [m].
	Dx float64

	// Dz is the uniform vertical level spacing [m].
	Dz float64

	// Surface is the uniform terrain height [m]. If NoSurface is
	// true, no terrain height variable is written.
	Surface   float64
	NoSurface bool

	U, V, W float64

	// Staggered writes velocities on staggered grids and centers
	// scalar level k at height (k+0.5)·Dz above ground.
	Staggered bool

	// WRF writes geopotential (PH, PHB) and terrain (HGT) in the
	// style of WRF output instead of level heights (zh) and terrain
	// (zs). WRF files are always staggered.
	WRF bool
}

// Write creates a synthetic file at path.
func Write(path string, o Options) error {
	if o.WRF {
		o.Staggered = true
	}
	s := 0
	offset := 0.
	if o.Staggered {
		s = 1
		offset = 0.5
	}
	h := cdf.NewHeader(
		[]string{"Time", "bottom_top", "south_north", "west_east", "bottom_top_stag", "south_north_stag", "west_east_stag"},
		[]int{o.NumRecords, o.Nz, o.Ny, o.Nx, o.Nz + 1, o.Ny + 1, o.Nx + 1})
	h.AddAttribute("", "DX", []float32{float32(o.Dx)})
	h.AddAttribute("", "TITLE", "synthetic model output")

	uDims := []string{"Time", "bottom_top", "south_north", "west_east"}
	vDims := []string{"Time", "bottom_top", "south_north", "west_east"}
	wDims := []string{"Time", "bottom_top", "south_north", "west_east"}
	if o.Staggered {
		uDims[3] = "west_east_stag"
		vDims[2] = "south_north_stag"
		wDims[1] = "bottom_top_stag"
	}
	h.AddVariable("U", uDims, []float32{0})
	h.AddVariable("V", vDims, []float32{0})
	h.AddVariable("W", wDims, []float32{0})
	h.AddVariable("T", []string{"Time", "bottom_top", "south_north", "west_east"}, []float32{0})
	if o.WRF {
		h.AddVariable("PH", []string{"Time", "bottom_top_stag", "south_north", "west_east"}, []float32{0})
		h.AddVariable("PHB", []string{"Time", "bottom_top_stag", "south_north", "west_east"}, []float32{0})
		if !o.NoSurface {
			h.AddVariable("HGT", []string{"Time", "south_north", "west_east"}, []float32{0})
		}
	} else {
		h.AddVariable("zh", []string{"bottom_top", "south_north", "west_east"}, []float32{0})
		if !o.NoSurface {
			h.AddVariable("zs", []string{"south_north", "west_east"}, []float32{0})
		}
	}
	h.Define()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	ff, err := cdf.Create(f, h)
	if err != nil {
		return err
	}

	nt, nz, ny, nx := o.NumRecords, o.Nz, o.Ny, o.Nx
	surface := o.Surface
	if o.NoSurface {
		surface = 0
	}
	write := func(name string, n int, val func(i int) float64) error {
		data := make([]float32, n)
		for i := range data {
			data[i] = float32(val(i))
		}
		end := ff.Header.Lengths(name)
		w := ff.Writer(name, make([]int, len(end)), end)
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("synthetic: writing %s: %v", name, err)
		}
		return nil
	}
	constant := func(v float64) func(int) float64 { return func(int) float64 { return v } }
	if err := write("U", nt*nz*ny*(nx+s), constant(o.U)); err != nil {
		return err
	}
	if err := write("V", nt*nz*(ny+s)*nx, constant(o.V)); err != nil {
		return err
	}
	if err := write("W", nt*(nz+s)*ny*nx, constant(o.W)); err != nil {
		return err
	}
	err = write("T", nt*nz*ny*nx, func(i int) float64 {
		return 300 + float64(i%nx) + float64(i/(nz*ny*nx))
	})
	if err != nil {
		return err
	}
	if o.WRF {
		if err := write("PH", nt*(nz+1)*ny*nx, constant(0)); err != nil {
			return err
		}
		err = write("PHB", nt*(nz+1)*ny*nx, func(i int) float64 {
			k := (i / (ny * nx)) % (nz + 1)
			return Gravity * (surface + float64(k)*o.Dz)
		})
		if err != nil {
			return err
		}
		if !o.NoSurface {
			if err := write("HGT", nt*ny*nx, constant(surface)); err != nil {
				return err
			}
		}
	} else {
		err = write("zh", nz*ny*nx, func(i int) float64 {
			k := i / (ny * nx)
			return surface + (float64(k)+offset)*o.Dz
		})
		if err != nil {
			return err
		}
		if !o.NoSurface {
			if err := write("zs", ny*nx, constant(surface)); err != nil {
				return err
			}
		}
	}
	return cdf.UpdateNumRecs(f)
}
