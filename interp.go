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
	"math"
	"runtime"

	"github.com/ctessum/sparse"
	"golang.org/x/sync/errgroup"
)

// batchChunk is the smallest number of points that a batched
// interpolation will hand to a single goroutine.
const batchChunk = 2048

// Point is a location in fractional grid-index space.
// Z is ignored when interpolating two-dimensional fields.
type Point struct {
	Z, Y, X float64
}

// Interpolator performs bilinear or trilinear interpolation of gridded
// fields at fractional grid-index coordinates. Queries that fall outside
// of the grid on any axis return Fill.
type Interpolator struct {
	Fill float64
}

// At returns the value of data at the given fractional index coordinates,
// which must be given in the same order as the dimensions of data.
// A coordinate q along an axis of length n is within the grid when
// 0 <= q <= n-1.
func (ip Interpolator) At(data *sparse.DenseArray, coords ...float64) float64 {
	if len(coords) != len(data.Shape) || len(coords) > 3 || len(coords) == 0 {
		panic(fmt.Errorf("parcel: interpolating %d-d array with %d coordinates", len(data.Shape), len(coords)))
	}
	return ip.at(data, strides(data.Shape), coords)
}

// Batch interpolates data at each of the given points. data must be
// two- or three-dimensional. Large batches are split among goroutines;
// the result is the same as evaluating each point with At.
func (ip Interpolator) Batch(data *sparse.DenseArray, pts []Point) []float64 {
	rank := len(data.Shape)
	if rank != 2 && rank != 3 {
		panic(fmt.Errorf("parcel: batch interpolation needs a 2-d or 3-d array instead of %d-d", rank))
	}
	out := make([]float64, len(pts))
	st := strides(data.Shape)
	eval := func(lo, hi int) {
		c := make([]float64, rank)
		for i := lo; i < hi; i++ {
			p := pts[i]
			if rank == 3 {
				c[0], c[1], c[2] = p.Z, p.Y, p.X
			} else {
				c[0], c[1] = p.Y, p.X
			}
			out[i] = ip.at(data, st, c)
		}
	}
	nprocs := runtime.GOMAXPROCS(-1)
	if len(pts) < 2*batchChunk || nprocs == 1 {
		eval(0, len(pts))
		return out
	}
	chunk := (len(pts) + nprocs - 1) / nprocs
	if chunk < batchChunk {
		chunk = batchChunk
	}
	var g errgroup.Group
	for lo := 0; lo < len(pts); lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > len(pts) {
			hi = len(pts)
		}
		g.Go(func() error {
			eval(lo, hi)
			return nil
		})
	}
	g.Wait()
	return out
}

func (ip Interpolator) at(data *sparse.DenseArray, st []int, coords []float64) float64 {
	n := len(coords)
	var i0 [3]int
	var frac [3]float64
	for d, q := range coords {
		size := data.Shape[d]
		if math.IsNaN(q) || q < 0 || q > float64(size-1) {
			return ip.Fill
		}
		i := int(q)
		if i > size-2 {
			// Upper edge, or an axis of length 1.
			i = size - 2
			if i < 0 {
				i = 0
			}
		}
		i0[d] = i
		frac[d] = q - float64(i)
	}
	var v float64
	for corner := 0; corner < 1<<uint(n); corner++ {
		w := 1.
		idx := 0
		for d := 0; d < n; d++ {
			if corner&(1<<uint(d)) != 0 {
				w *= frac[d]
				idx += (i0[d] + 1) * st[d]
			} else {
				w *= 1 - frac[d]
				idx += i0[d] * st[d]
			}
		}
		if w == 0 {
			continue
		}
		v += w * data.Elements[idx]
	}
	return v
}

// strides returns the distance in the flattened array between
// neighbors along each dimension.
func strides(shape []int) []int {
	st := make([]int, len(shape))
	s := 1
	for d := len(shape) - 1; d >= 0; d-- {
		st[d] = s
		s *= shape[d]
	}
	return st
}
