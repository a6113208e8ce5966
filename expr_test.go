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
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/ctessum/sparse"
)

func TestExprProvider(t *testing.T) {
	g := flatGrid()
	g.u = 3
	g.v = 4
	e, err := NewExprProvider(g.provider(), map[string]string{
		"speed": "sqrt(U**2 + V**2)",
		"theta": "T * pow(2, 1) - 600",
		"logU":  "log(exp(U))",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := e.Derived(), []string{"logU", "speed", "theta"}; !reflect.DeepEqual(got, want) {
		t.Errorf("derived = %v, want %v", got, want)
	}
	ctx := context.Background()
	speed, err := e.Field(ctx, 0, "speed")
	if err != nil {
		t.Fatal(err)
	}
	if got := speed.Get(1, 2, 3); different(got, 5, tolerance) {
		t.Errorf("speed = %g, want 5", got)
	}
	theta, err := e.Field(ctx, 2, "theta")
	if err != nil {
		t.Fatal(err)
	}
	// T = 300 + i + 2.
	if got := theta.Get(0, 0, 7); different(got, 18, tolerance) {
		t.Errorf("theta = %g, want 18", got)
	}
	logU, err := e.Field(ctx, 0, "logU")
	if err != nil {
		t.Fatal(err)
	}
	if got := logU.Get(0, 0, 0); different(got, 3, tolerance) {
		t.Errorf("logU = %g, want 3", got)
	}
	// Underlying fields pass through.
	T, err := e.Field(ctx, 1, "T")
	if err != nil {
		t.Fatal(err)
	}
	if T.Get(0, 0, 0) != 301 {
		t.Errorf("T = %g", T.Get(0, 0, 0))
	}
}

func TestExprProviderErrors(t *testing.T) {
	p := flatGrid().provider()
	for name, exprs := range map[string]map[string]string{
		"syntax":    {"a": "U +* 2"},
		"constant":  {"a": "2 + 2"},
		"recursive": {"a": "U * 2", "b": "a + V"},
	} {
		if _, err := NewExprProvider(p, exprs); !errors.Is(err, ErrConfig) {
			t.Errorf("%s: got %v", name, err)
		}
	}
	e, err := NewExprProvider(p, map[string]string{"q": "QVAPOR * 1000"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Field(context.Background(), 0, "q"); !errors.Is(err, ErrMissingField) {
		t.Errorf("got %v", err)
	}
	// Velocities on a staggered grid have different shapes.
	g := flatGrid()
	g.staggered = true
	e, err = NewExprProvider(g.provider(), map[string]string{"uv": "U * V"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Field(context.Background(), 0, "uv"); err == nil {
		t.Error("expected an error for mismatched shapes")
	}
}

func TestExprTrackedField(t *testing.T) {
	e, err := NewExprProvider(flatGrid().provider(), map[string]string{"Tc": "T - 273.15"})
	if err != nil {
		t.Fatal(err)
	}
	cfg := baseConfig()
	cfg.TrackedFields = []string{"Tc"}
	ps := run(t, cfg, e)
	if got, want := ps.Scalars["Tc"].Elements[0], 314-273.15; different(got, want, tolerance) {
		t.Errorf("Tc = %g, want %g", got, want)
	}
	if math.IsNaN(ps.Scalars["Tc"].Elements[4]) {
		t.Error("Tc is NaN at the last step")
	}
}

// countingProvider counts calls to Field.
type countingProvider struct {
	FieldProvider
	n int
}

func (c *countingProvider) Field(ctx context.Context, ti int, name string) (*sparse.DenseArray, error) {
	c.n++
	return c.FieldProvider.Field(ctx, ti, name)
}

func TestCachedProvider(t *testing.T) {
	cp := &countingProvider{FieldProvider: flatGrid().provider()}
	c, err := NewCachedProvider(cp, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := c.Field(ctx, 0, "T"); err != nil {
		t.Fatal(err)
	}
	c.Field(ctx, 0, "T")
	if cp.n != 1 {
		t.Errorf("underlying provider read %d times, want 1", cp.n)
	}
	c.Field(ctx, 1, "T")
	c.Field(ctx, 2, "T")
	if c.Len() != 2 {
		t.Errorf("cache holds %d fields, want 2", c.Len())
	}
	if _, err := c.Field(ctx, 0, "missing"); !errors.Is(err, ErrMissingField) {
		t.Errorf("got %v", err)
	}
	if c.Len() != 2 {
		t.Error("errors should not be cached")
	}
	if _, err := NewCachedProvider(c, 0); err == nil {
		t.Error("expected an error for a zero cache size")
	}
}
