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
	"math"

	"github.com/ctessum/sparse"
)

// Transform converts between grid-index vertical position and height
// above the datum on a terrain-following grid.
type Transform struct {
	levelHeight *sparse.DenseArray // [nz, ny, nx], m
	spacing     *sparse.DenseArray // [nz, ny, nx], m
	surface     *sparse.DenseArray // [ny, nx], m

	// Offset is subtracted from positions to obtain scalar-grid
	// indices. It is 0.5 on a staggered grid and 0 otherwise.
	Offset float64
}

// NewTransform creates a coordinate transform from the heights of the
// scalar levels and the surface height. surface may be nil, in which
// case the terrain is flat at height zero.
func NewTransform(levelHeight, surface *sparse.DenseArray, staggered bool) (*Transform, error) {
	if len(levelHeight.Shape) != 3 {
		return nil, configErrorf("LevelHeight", "need a 3-d array instead of %d-d", len(levelHeight.Shape))
	}
	nz, ny, nx := levelHeight.Shape[0], levelHeight.Shape[1], levelHeight.Shape[2]
	if nz < 2 {
		return nil, configErrorf("LevelHeight", "need at least 2 vertical levels but have %d", nz)
	}
	if surface == nil {
		surface = sparse.ZerosDense(ny, nx)
	} else if len(surface.Shape) != 2 || surface.Shape[0] != ny || surface.Shape[1] != nx {
		return nil, configErrorf("SurfaceHeight", "shape %v does not match level heights %v",
			surface.Shape, levelHeight.Shape)
	}
	t := &Transform{
		levelHeight: levelHeight,
		spacing:     levelSpacing(levelHeight),
		surface:     surface,
	}
	if staggered {
		t.Offset = 0.5
	}
	return t, nil
}

// levelSpacing calculates the vertical distance between adjacent
// levels. The top level has no level above it, so it is given the
// spacing of the level below.
func levelSpacing(heights *sparse.DenseArray) *sparse.DenseArray {
	nz, ny, nx := heights.Shape[0], heights.Shape[1], heights.Shape[2]
	dz := sparse.ZerosDense(nz, ny, nx)
	layer := ny * nx
	for k := 0; k < nz-1; k++ {
		for i := 0; i < layer; i++ {
			dz.Elements[k*layer+i] = heights.Elements[(k+1)*layer+i] - heights.Elements[k*layer+i]
		}
	}
	copy(dz.Elements[(nz-1)*layer:], dz.Elements[(nz-2)*layer:(nz-1)*layer])
	return dz
}

// MinZ is the lowest vertical position a parcel may occupy.
func (t *Transform) MinZ() float64 { return t.Offset }

// Shape returns the number of scalar grid cells in each dimension.
func (t *Transform) Shape() (nz, ny, nx int) {
	return t.levelHeight.Shape[0], t.levelHeight.Shape[1], t.levelHeight.Shape[2]
}

// HeightFromIndex returns the height above the datum of the
// given position. It returns NaN outside of the grid.
func (t *Transform) HeightFromIndex(z, y, x float64) float64 {
	return Interpolator{Fill: math.NaN()}.At(t.levelHeight, z-t.Offset, y-t.Offset, x-t.Offset)
}

// IndexFromHeight converts height h to a vertical position, given the
// local vertical spacing dz and the surface height zs.
func (t *Transform) IndexFromHeight(h, dz, zs float64) float64 {
	return (h - zs) / dz
}

// IndexFromHeightAt is IndexFromHeight with the surface height
// looked up at horizontal position (y, x).
func (t *Transform) IndexFromHeightAt(h, y, x, dz float64) float64 {
	return t.IndexFromHeight(h, dz, t.SurfaceHeightAt(y, x))
}

// SurfaceHeightAt returns the surface height at horizontal position
// (y, x). It returns zero outside of the grid.
func (t *Transform) SurfaceHeightAt(y, x float64) float64 {
	return Interpolator{Fill: 0}.At(t.surface, y-t.Offset, x-t.Offset)
}

// SpacingAt returns the local vertical grid spacing at the given
// position. It returns NaN outside of the grid.
func (t *Transform) SpacingAt(z, y, x float64) float64 {
	return Interpolator{Fill: math.NaN()}.At(t.spacing, z-t.Offset, y-t.Offset, x-t.Offset)
}

// HeightsFromIndex is the batched form of HeightFromIndex.
func (t *Transform) HeightsFromIndex(pts []Point) []float64 {
	return Interpolator{Fill: math.NaN()}.Batch(t.levelHeight, t.scalarPoints(pts))
}

// SpacingsAt is the batched form of SpacingAt.
func (t *Transform) SpacingsAt(pts []Point) []float64 {
	return Interpolator{Fill: math.NaN()}.Batch(t.spacing, t.scalarPoints(pts))
}

// SurfaceHeightsAt is the batched form of SurfaceHeightAt. The Z
// coordinates of pts are ignored.
func (t *Transform) SurfaceHeightsAt(pts []Point) []float64 {
	return Interpolator{Fill: 0}.Batch(t.surface, t.scalarPoints(pts))
}

// scalarPoints shifts positions onto the scalar grid.
func (t *Transform) scalarPoints(pts []Point) []Point {
	return shiftPoints(pts, t.Offset, t.Offset, t.Offset)
}

func shiftPoints(pts []Point, dz, dy, dx float64) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{Z: p.Z - dz, Y: p.Y - dy, X: p.X - dx}
	}
	return out
}
