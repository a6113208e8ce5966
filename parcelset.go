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
	"sort"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// ParcelSet holds the trajectories of a set of parcels. Every array has
// the shape [NumSteps, NumVertical, NumHorizontal], where the parcel at
// [k, h] was seeded at vertical seed k and horizontal seed h. Step 0 is
// the seed state.
type ParcelSet struct {
	NumSteps, NumVertical, NumHorizontal int

	// X and Y are horizontal grid-index positions.
	X, Y *sparse.DenseArray
	// Z is the vertical grid-index position.
	Z *sparse.DenseArray
	// Height is the height above the datum [m].
	Height *sparse.DenseArray
	// Spacing is the vertical grid spacing used to relate Z and Height
	// at each step [m].
	Spacing *sparse.DenseArray
	// Scalars holds the tracked fields sampled along each trajectory.
	Scalars map[string]*sparse.DenseArray

	// Run metadata.
	Direction      Direction
	StartTimeIndex int
	Dx, Dt         float64
	Staggered      bool

	positioned []bool
	sampled    []int
	frozen     bool
}

// NewParcelSet allocates storage for numSteps steps of nv×nh parcels
// tracking the named scalar fields. Values that have not been recorded
// are NaN.
func NewParcelSet(numSteps, nv, nh int, scalars []string) *ParcelSet {
	p := &ParcelSet{
		NumSteps:      numSteps,
		NumVertical:   nv,
		NumHorizontal: nh,
		X:             unrecorded(numSteps, nv, nh),
		Y:             unrecorded(numSteps, nv, nh),
		Z:             unrecorded(numSteps, nv, nh),
		Height:        unrecorded(numSteps, nv, nh),
		Spacing:       unrecorded(numSteps, nv, nh),
		Scalars:       make(map[string]*sparse.DenseArray, len(scalars)),
		positioned:    make([]bool, numSteps),
		sampled:       make([]int, numSteps),
	}
	for _, s := range scalars {
		p.Scalars[s] = unrecorded(numSteps, nv, nh)
	}
	return p
}

func unrecorded(shape ...int) *sparse.DenseArray {
	a := sparse.ZerosDense(shape...)
	for i := range a.Elements {
		a.Elements[i] = math.NaN()
	}
	return a
}

// NumParcels returns the number of parcels in the set.
func (p *ParcelSet) NumParcels() int { return p.NumVertical * p.NumHorizontal }

// ScalarNames returns the names of the tracked scalars in sorted order.
func (p *ParcelSet) ScalarNames() []string {
	names := make([]string, 0, len(p.Scalars))
	for n := range p.Scalars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// stepSlice returns the portion of a's elements that belong to step t.
func (p *ParcelSet) stepSlice(a *sparse.DenseArray, t int) []float64 {
	n := p.NumParcels()
	return a.Elements[t*n : (t+1)*n]
}

// setPositions records the state of every parcel at step t.
func (p *ParcelSet) setPositions(t int, x, y, z, height, dz []float64) error {
	if p.frozen {
		return ErrFrozen
	}
	if t < 0 || t >= p.NumSteps {
		return fmt.Errorf("parcel: step %d out of range [0, %d)", t, p.NumSteps)
	}
	copy(p.stepSlice(p.X, t), x)
	copy(p.stepSlice(p.Y, t), y)
	copy(p.stepSlice(p.Z, t), z)
	copy(p.stepSlice(p.Height, t), height)
	copy(p.stepSlice(p.Spacing, t), dz)
	p.positioned[t] = true
	return nil
}

// setScalar records the values of scalar name for every parcel at step t.
func (p *ParcelSet) setScalar(t int, name string, vals []float64) error {
	if p.frozen {
		return ErrFrozen
	}
	a, ok := p.Scalars[name]
	if !ok {
		return fmt.Errorf("parcel: scalar %s is not tracked", name)
	}
	copy(p.stepSlice(a, t), vals)
	p.sampled[t]++
	return nil
}

// positions returns the positions of every parcel at step t.
func (p *ParcelSet) positions(t int) []Point {
	x, y, z := p.stepSlice(p.X, t), p.stepSlice(p.Y, t), p.stepSlice(p.Z, t)
	pts := make([]Point, len(x))
	for i := range pts {
		pts[i] = Point{Z: z[i], Y: y[i], X: x[i]}
	}
	return pts
}

// StepsCompleted returns the number of leading steps whose positions
// and scalars have all been recorded.
func (p *ParcelSet) StepsCompleted() int {
	for t := 0; t < p.NumSteps; t++ {
		if !p.stepComplete(t) {
			return t
		}
	}
	return p.NumSteps
}

func (p *ParcelSet) stepComplete(t int) bool {
	return p.positioned[t] && p.sampled[t] >= len(p.Scalars)
}

// Finalize checks that every step has been filled and makes the set
// read-only.
func (p *ParcelSet) Finalize() error {
	if p.frozen {
		return nil
	}
	if n := p.StepsCompleted(); n != p.NumSteps {
		return fmt.Errorf("%w: %d of %d steps filled", ErrIncomplete, n, p.NumSteps)
	}
	p.frozen = true
	return nil
}

// Frozen reports whether Finalize has succeeded.
func (p *ParcelSet) Frozen() bool { return p.frozen }

// Trajectory is the history of one parcel.
type Trajectory struct {
	X, Y, Z, Height []float64
	Scalars         map[string][]float64
}

// Trajectory extracts the history of the parcel seeded at
// vertical seed k and horizontal seed h.
func (p *ParcelSet) Trajectory(k, h int) (Trajectory, error) {
	if k < 0 || k >= p.NumVertical || h < 0 || h >= p.NumHorizontal {
		return Trajectory{}, fmt.Errorf("parcel: no parcel at seed (%d, %d)", k, h)
	}
	tr := Trajectory{
		X:       p.column(p.X, k, h),
		Y:       p.column(p.Y, k, h),
		Z:       p.column(p.Z, k, h),
		Height:  p.column(p.Height, k, h),
		Scalars: make(map[string][]float64, len(p.Scalars)),
	}
	for name, a := range p.Scalars {
		tr.Scalars[name] = p.column(a, k, h)
	}
	return tr, nil
}

func (p *ParcelSet) column(a *sparse.DenseArray, k, h int) []float64 {
	o := make([]float64, p.NumSteps)
	for t := range o {
		o[t] = a.Elements[(t*p.NumVertical+k)*p.NumHorizontal+h]
	}
	return o
}

// Summary gives the range of a quantity over all parcels at one step.
type Summary struct {
	Min, Max, Mean float64
}

// Summarize returns the range of a at step t, ignoring parcels that
// have left the domain.
func (p *ParcelSet) Summarize(a *sparse.DenseArray, t int) Summary {
	var vals []float64
	for _, v := range p.stepSlice(a, t) {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return Summary{}
	}
	return Summary{
		Min:  floats.Min(vals),
		Max:  floats.Max(vals),
		Mean: floats.Sum(vals) / float64(len(vals)),
	}
}
