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

	"github.com/ctessum/sparse"
)

// Grid describes the structure of the gridded input data.
type Grid struct {
	// Nx, Ny, and Nz are the numbers of scalar grid cells
	// in each direction.
	Nx, Ny, Nz int

	// NumTimes is the number of available time indices.
	NumTimes int

	// Dx is the horizontal grid spacing [m].
	Dx float64

	// Dt is the time between adjacent time indices [s].
	Dt float64
}

// A FieldProvider supplies time-sliced gridded fields. Implementations
// must be safe for concurrent use and must not modify returned arrays
// after returning them.
type FieldProvider interface {
	// Grid returns the grid structure.
	Grid() (Grid, error)

	// Field returns the named field at the given time index.
	// An error wrapping ErrMissingField is returned if the field
	// does not exist.
	Field(ctx context.Context, timeIndex int, name string) (*sparse.DenseArray, error)

	// SurfaceHeight returns the [ny, nx] height of the ground
	// above the datum [m], or an error wrapping ErrMissingField if
	// terrain is not available.
	SurfaceHeight() (*sparse.DenseArray, error)

	// LevelHeight returns the [nz, ny, nx] height of each scalar
	// grid cell center above the datum [m].
	LevelHeight() (*sparse.DenseArray, error)
}

// A ResultSink stores finished trajectories.
type ResultSink interface {
	Save(ctx context.Context, p *ParcelSet) error
}

// MemoryProvider is a FieldProvider that holds its fields in memory.
type MemoryProvider struct {
	G       Grid
	Levels  *sparse.DenseArray
	Surface *sparse.DenseArray

	fields map[string][]*sparse.DenseArray
	static map[string]*sparse.DenseArray
}

// NewMemoryProvider creates an empty in-memory provider for the given
// grid. surface may be nil.
func NewMemoryProvider(g Grid, levels, surface *sparse.DenseArray) *MemoryProvider {
	return &MemoryProvider{
		G:       g,
		Levels:  levels,
		Surface: surface,
		fields:  make(map[string][]*sparse.DenseArray),
		static:  make(map[string]*sparse.DenseArray),
	}
}

// Set stores data as field name at the given time index.
func (m *MemoryProvider) Set(name string, timeIndex int, data *sparse.DenseArray) {
	f := m.fields[name]
	if f == nil {
		f = make([]*sparse.DenseArray, m.G.NumTimes)
		m.fields[name] = f
	}
	f[timeIndex] = data
}

// SetStatic stores data as field name for every time index.
func (m *MemoryProvider) SetStatic(name string, data *sparse.DenseArray) {
	m.static[name] = data
}

// Grid implements FieldProvider.
func (m *MemoryProvider) Grid() (Grid, error) { return m.G, nil }

// Field implements FieldProvider.
func (m *MemoryProvider) Field(_ context.Context, timeIndex int, name string) (*sparse.DenseArray, error) {
	if timeIndex < 0 || timeIndex >= m.G.NumTimes {
		return nil, fmt.Errorf("parcel: time index %d out of range [0, %d)", timeIndex, m.G.NumTimes)
	}
	if f, ok := m.fields[name]; ok && f[timeIndex] != nil {
		return f[timeIndex], nil
	}
	if d, ok := m.static[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s at time index %d", ErrMissingField, name, timeIndex)
}

// SurfaceHeight implements FieldProvider.
func (m *MemoryProvider) SurfaceHeight() (*sparse.DenseArray, error) {
	if m.Surface == nil {
		return nil, fmt.Errorf("%w: surface height", ErrMissingField)
	}
	return m.Surface, nil
}

// LevelHeight implements FieldProvider.
func (m *MemoryProvider) LevelHeight() (*sparse.DenseArray, error) {
	if m.Levels == nil {
		return nil, fmt.Errorf("%w: level height", ErrMissingField)
	}
	return m.Levels, nil
}

// TerrainFollowingLevels returns level heights for a grid with uniform
// vertical spacing dz above the given surface (which may be nil for flat
// terrain). The scalar level k is centered at height zs + (k+offset)·dz,
// where offset is 0.5 on a staggered grid.
func TerrainFollowingLevels(nz, ny, nx int, dz float64, surface *sparse.DenseArray, staggered bool) *sparse.DenseArray {
	offset := 0.
	if staggered {
		offset = 0.5
	}
	zh := sparse.ZerosDense(nz, ny, nx)
	layer := ny * nx
	for k := 0; k < nz; k++ {
		for i := 0; i < layer; i++ {
			zs := 0.
			if surface != nil {
				zs = surface.Elements[i]
			}
			zh.Elements[k*layer+i] = zs + (float64(k)+offset)*dz
		}
	}
	return zh
}
