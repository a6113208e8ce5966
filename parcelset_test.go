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
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/kr/pretty"
)

// filledSet returns a finalized set of 3 steps of 2x2 parcels where
// x = 100t + 10k + h and the scalar T = -x.
func filledSet(t *testing.T) *ParcelSet {
	p := NewParcelSet(3, 2, 2, []string{"T"})
	for step := 0; step < 3; step++ {
		x := make([]float64, 4)
		T := make([]float64, 4)
		for i := range x {
			x[i] = 100*float64(step) + 10*float64(i/2) + float64(i%2)
			T[i] = -x[i]
		}
		z := []float64{1, 1, 2, 2}
		if err := p.setPositions(step, x, x, z, x, []float64{50, 50, 50, 50}); err != nil {
			t.Fatal(err)
		}
		if err := p.setScalar(step, "T", T); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Finalize(); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParcelSetTrajectory(t *testing.T) {
	p := filledSet(t)
	tr, err := p.Trajectory(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := Trajectory{
		X:       []float64{10, 110, 210},
		Y:       []float64{10, 110, 210},
		Z:       []float64{2, 2, 2},
		Height:  []float64{10, 110, 210},
		Scalars: map[string][]float64{"T": {-10, -110, -210}},
	}
	if !reflect.DeepEqual(tr, want) {
		t.Errorf("trajectory differs: %v", pretty.Diff(tr, want))
	}
	if _, err := p.Trajectory(2, 0); err == nil {
		t.Error("expected an error for a missing seed")
	}
}

func TestParcelSetFrozen(t *testing.T) {
	p := filledSet(t)
	if !p.Frozen() {
		t.Fatal("set should be frozen")
	}
	if err := p.setScalar(0, "T", make([]float64, 4)); !errors.Is(err, ErrFrozen) {
		t.Errorf("got %v", err)
	}
	if err := p.setPositions(0, nil, nil, nil, nil, nil); !errors.Is(err, ErrFrozen) {
		t.Errorf("got %v", err)
	}
}

func TestParcelSetIncomplete(t *testing.T) {
	p := NewParcelSet(2, 1, 1, []string{"T", "QVAPOR"})
	one := []float64{1}
	p.setPositions(0, one, one, one, one, one)
	p.setScalar(0, "T", one)
	if n := p.StepsCompleted(); n != 0 {
		t.Errorf("steps completed = %d, want 0", n)
	}
	p.setScalar(0, "QVAPOR", one)
	p.setPositions(1, one, one, one, one, one)
	if n := p.StepsCompleted(); n != 1 {
		t.Errorf("steps completed = %d, want 1", n)
	}
	if err := p.Finalize(); !errors.Is(err, ErrIncomplete) {
		t.Errorf("got %v", err)
	}
	if err := p.setScalar(0, "O3", one); err == nil {
		t.Error("expected an error for an untracked scalar")
	}
	if err := p.setPositions(2, one, one, one, one, one); err == nil {
		t.Error("expected an error for an out of range step")
	}
}

func TestParcelSetSummarize(t *testing.T) {
	p := NewParcelSet(1, 1, 4, nil)
	h := []float64{100, math.NaN(), 300, 200}
	p.setPositions(0, h, h, h, h, h)
	s := p.Summarize(p.Height, 0)
	want := Summary{Min: 100, Max: 300, Mean: 200}
	if s != want {
		t.Errorf("got %+v, want %+v", s, want)
	}
	if names := p.ScalarNames(); len(names) != 0 {
		t.Errorf("scalar names = %v", names)
	}
}
