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
	"io/ioutil"
	"math"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/kr/pretty"
	"github.com/sirupsen/logrus"
)

func uniformField(nz, ny, nx int, v float64) *sparse.DenseArray {
	d := sparse.ZerosDense(nz, ny, nx)
	for i := range d.Elements {
		d.Elements[i] = v
	}
	return d
}

// testLogger discards log output.
func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = ioutil.Discard
	return l
}

type testGrid struct {
	nx, ny, nz, nt int
	dx, dt, dz     float64
	surface        *sparse.DenseArray
	staggered      bool
	u, v, w        float64
}

// provider creates a provider with uniform winds and a tracked field
// T = 300 + i + t, where i is the scalar cell index along x and t is
// the time index.
func (g testGrid) provider() *MemoryProvider {
	s := 0
	if g.staggered {
		s = 1
	}
	levels := TerrainFollowingLevels(g.nz, g.ny, g.nx, g.dz, g.surface, g.staggered)
	p := NewMemoryProvider(Grid{Nx: g.nx, Ny: g.ny, Nz: g.nz, NumTimes: g.nt, Dx: g.dx, Dt: g.dt}, levels, g.surface)
	p.SetStatic("U", uniformField(g.nz, g.ny, g.nx+s, g.u))
	p.SetStatic("V", uniformField(g.nz, g.ny+s, g.nx, g.v))
	p.SetStatic("W", uniformField(g.nz+s, g.ny, g.nx, g.w))
	for ti := 0; ti < g.nt; ti++ {
		T := sparse.ZerosDense(g.nz, g.ny, g.nx)
		for i := range T.Elements {
			T.Elements[i] = 300 + float64(i%g.nx) + float64(ti)
		}
		p.Set("T", ti, T)
	}
	return p
}

func flatGrid() testGrid {
	return testGrid{nx: 20, ny: 20, nz: 10, nt: 5, dx: 1000, dt: 60, dz: 100, u: 10}
}

func baseConfig() Config {
	return Config{
		VerticalSeeds:   []float64{2},
		HorizontalSeeds: [][2]float64{{10, 10}},
		NumSteps:        5,
		StartTimeIndex:  4,
		Direction:       Backward,
		TrackedFields:   []string{"T"},
	}
}

func run(t *testing.T, cfg Config, p FieldProvider) *ParcelSet {
	it, err := NewIntegrator(cfg, p, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ps, err := it.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if it.State() != Completed || !ps.Frozen() {
		t.Fatalf("state %v, frozen %v", it.State(), ps.Frozen())
	}
	return ps
}

func TestConstantWindBackward(t *testing.T) {
	ps := run(t, baseConfig(), flatGrid().provider())
	tr, err := ps.Trajectory(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for step := 0; step < 5; step++ {
		wantX := 10 - 0.6*float64(step)
		if different(tr.X[step], wantX, 1e-12) {
			t.Errorf("step %d: x = %g, want %g", step, tr.X[step], wantX)
		}
		if different(tr.Y[step], 10, 1e-12) || different(tr.Z[step], 2, 1e-12) {
			t.Errorf("step %d: y = %g, z = %g", step, tr.Y[step], tr.Z[step])
		}
		if different(tr.Height[step], 200, 1e-12) {
			t.Errorf("step %d: height = %g, want 200", step, tr.Height[step])
		}
		// Sampled with the field from time index 4 - step.
		wantT := 300 + wantX + float64(4-step)
		if different(tr.Scalars["T"][step], wantT, 1e-12) {
			t.Errorf("step %d: T = %g, want %g", step, tr.Scalars["T"][step], wantT)
		}
	}
}

func TestConstantWindTerrain(t *testing.T) {
	g := flatGrid()
	g.surface = sparse.ZerosDense(g.ny, g.nx)
	for i := range g.surface.Elements {
		g.surface.Elements[i] = 500
	}
	ps := run(t, baseConfig(), g.provider())
	tr, _ := ps.Trajectory(0, 0)
	for step := range tr.Height {
		if different(tr.Height[step], 700, 1e-12) {
			t.Errorf("step %d: height = %g, want 700", step, tr.Height[step])
		}
		if different(tr.Z[step], 2, 1e-12) {
			t.Errorf("step %d: z = %g, want 2", step, tr.Z[step])
		}
	}
}

func TestForwardMirrorsBackward(t *testing.T) {
	cfg := baseConfig()
	cfg.Direction = Forward
	cfg.StartTimeIndex = 0
	ps := run(t, cfg, flatGrid().provider())
	tr, _ := ps.Trajectory(0, 0)
	for step := range tr.X {
		if want := 10 + 0.6*float64(step); different(tr.X[step], want, 1e-12) {
			t.Errorf("step %d: x = %g, want %g", step, tr.X[step], want)
		}
		if want := 300 + tr.X[step] + float64(step); different(tr.Scalars["T"][step], want, 1e-12) {
			t.Errorf("step %d: T = %g, want %g", step, tr.Scalars["T"][step], want)
		}
	}
}

func TestSurfaceNonPenetration(t *testing.T) {
	for _, staggered := range []bool{false, true} {
		g := flatGrid()
		g.nt = 10
		g.w = -5
		g.staggered = staggered
		g.surface = slopedSurface(g.ny, g.nx)
		cfg := baseConfig()
		cfg.Staggered = staggered
		cfg.Direction = Forward
		cfg.StartTimeIndex = 0
		cfg.NumSteps = 10
		cfg.VerticalSeeds = []float64{0.5, 1.5, 4}
		cfg.HorizontalSeeds = [][2]float64{{10, 10}, {3.5, 7.25}}
		ps := run(t, cfg, g.provider())
		zmin := 0.
		if staggered {
			zmin = 0.5
		}
		var clipped bool
		for i, z := range ps.Z.Elements {
			if z < zmin {
				t.Fatalf("staggered=%v: z[%d] = %g is below %g", staggered, i, z, zmin)
			}
			if z == zmin {
				clipped = true
			}
		}
		if !clipped {
			t.Errorf("staggered=%v: no parcels reached the surface", staggered)
		}
		// Height and z stay consistent after every step.
		n := ps.NumParcels()
		for step := 1; step < ps.NumSteps; step++ {
			for i := 0; i < n; i++ {
				j := step*n + i
				x, y := ps.X.Elements[j], ps.Y.Elements[j]
				zs := 50 * (x - zmin)
				h := zs + ps.Z.Elements[j]*ps.Spacing.Elements[j]
				if different(ps.Height.Elements[j], h, 1e-9) {
					t.Errorf("staggered=%v step %d parcel %d (y=%g): height %g, want %g",
						staggered, step, i, y, ps.Height.Elements[j], h)
				}
			}
		}
	}
}

func TestStaggeredVelocitySelection(t *testing.T) {
	g := flatGrid()
	g.staggered = true
	g.dt = 100
	p := g.provider()
	// u equals the face index along x.
	u := sparse.ZerosDense(g.nz, g.ny, g.nx+1)
	for i := range u.Elements {
		u.Elements[i] = float64(i % (g.nx + 1))
	}
	p.SetStatic("U", u)
	cfg := baseConfig()
	cfg.Staggered = true
	cfg.Direction = Forward
	cfg.StartTimeIndex = 0
	cfg.NumSteps = 2
	cfg.HorizontalSeeds = [][2]float64{{5, 10}}
	ps := run(t, cfg, p)
	tr, _ := ps.Trajectory(0, 0)
	if different(tr.X[1], 5.5, 1e-12) {
		t.Errorf("x = %g, want 5.5", tr.X[1])
	}
	// Position 5 is the edge between scalar cells 4 and 5.
	if different(tr.Scalars["T"][0], 304.5, 1e-12) {
		t.Errorf("T = %g, want 304.5", tr.Scalars["T"][0])
	}
}

func TestLeavesDomain(t *testing.T) {
	cfg := baseConfig()
	cfg.HorizontalSeeds = [][2]float64{{1, 10}}
	ps := run(t, cfg, flatGrid().provider())
	tr, _ := ps.Trajectory(0, 0)
	if different(tr.X[2], -0.2, 1e-12) {
		t.Errorf("x = %g, want -0.2", tr.X[2])
	}
	if !math.IsNaN(tr.Scalars["T"][2]) {
		t.Errorf("T outside of the domain = %g, want NaN", tr.Scalars["T"][2])
	}
	if !math.IsNaN(tr.X[3]) || !math.IsNaN(tr.Height[4]) {
		t.Errorf("positions after leaving the domain: %# v", pretty.Formatter(tr))
	}
}

func TestSingleStep(t *testing.T) {
	cfg := baseConfig()
	cfg.NumSteps = 1
	ps := run(t, cfg, flatGrid().provider())
	if ps.StepsCompleted() != 1 {
		t.Errorf("steps completed = %d", ps.StepsCompleted())
	}
	if got := ps.Scalars["T"].Elements[0]; different(got, 314, 1e-12) {
		t.Errorf("T = %g, want 314", got)
	}
}

func TestStateMachine(t *testing.T) {
	it, err := NewIntegrator(baseConfig(), flatGrid().provider(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if it.State() != Seeded {
		t.Errorf("state = %v", it.State())
	}
	if err := it.Step(ctx); err != nil {
		t.Fatal(err)
	}
	if it.State() != Stepping {
		t.Errorf("state = %v", it.State())
	}
	for it.State() != Completed {
		if err := it.Step(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := it.Step(ctx); !errors.Is(err, ErrCompleted) {
		t.Errorf("step after completion: %v", err)
	}
}

func TestInterrupt(t *testing.T) {
	it, err := NewIntegrator(baseConfig(), flatGrid().provider(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 2; i++ {
		if err := it.Step(ctx); err != nil {
			t.Fatal(err)
		}
	}
	cancel()
	ps, err := it.Run(ctx)
	if !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("got error %v", err)
	}
	if ps.Frozen() {
		t.Error("partial parcel set should not be finalized")
	}
	if n := ps.StepsCompleted(); n != 2 {
		t.Errorf("steps completed = %d, want 2", n)
	}
	if err := ps.Finalize(); !errors.Is(err, ErrIncomplete) {
		t.Errorf("finalize partial set: %v", err)
	}
	if got := ps.X.Elements[2]; different(got, 8.8, 1e-12) {
		t.Errorf("x at step 2 = %g, want 8.8", got)
	}
}

// cancelingProvider cancels the run the first time a field is requested.
type cancelingProvider struct {
	FieldProvider
	cancel context.CancelFunc
}

func (p *cancelingProvider) Field(ctx context.Context, timeIndex int, name string) (*sparse.DenseArray, error) {
	p.cancel()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestInterruptWhileLoading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &cancelingProvider{FieldProvider: flatGrid().provider(), cancel: cancel}
	it, err := NewIntegrator(baseConfig(), p, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ps, err := it.Run(ctx)
	if !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("got error %v", err)
	}
	if it.State() != Seeded {
		t.Errorf("state = %v, want %v", it.State(), Seeded)
	}
	if ps == nil || ps.X.Elements[0] != 10 {
		t.Error("the seed positions should be returned")
	}
}

func TestMissingTrackedField(t *testing.T) {
	cfg := baseConfig()
	cfg.TrackedFields = []string{"QVAPOR"}
	it, err := NewIntegrator(cfg, flatGrid().provider(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := it.Run(context.Background()); !errors.Is(err, ErrMissingField) {
		t.Errorf("got %v", err)
	}
}

func TestConfigErrors(t *testing.T) {
	p := flatGrid().provider()
	for name, mod := range map[string]func(*Config){
		"no vertical seeds":           func(c *Config) { c.VerticalSeeds = nil },
		"no horizontal seeds":         func(c *Config) { c.HorizontalSeeds = nil },
		"vertical count":              func(c *Config) { c.NumVerticalSeeds = 3 },
		"horizontal count":            func(c *Config) { c.NumHorizontalSeeds = 2 },
		"no steps":                    func(c *Config) { c.NumSteps = 0 },
		"before first time":           func(c *Config) { c.StartTimeIndex = 3 },
		"after last time":             func(c *Config) { c.Direction = Forward; c.StartTimeIndex = 1 },
		"start out of range":          func(c *Config) { c.StartTimeIndex = 5; c.NumSteps = 1 },
		"bad direction":               func(c *Config) { c.Direction = Direction(7) },
		"reserved name":               func(c *Config) { c.TrackedFields = []string{"Height"} },
		"duplicate field":             func(c *Config) { c.TrackedFields = []string{"T", "T"} },
		"seed below ground":           func(c *Config) { c.VerticalSeeds = []float64{2, -0.1} },
		"staggered seed below ground": func(c *Config) { c.Staggered = true; c.VerticalSeeds = []float64{0.2} },
		"NaN seed":                    func(c *Config) { c.VerticalSeeds = []float64{math.NaN()} },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := baseConfig()
			mod(&cfg)
			_, err := NewIntegrator(cfg, p, testLogger())
			if !errors.Is(err, ErrConfig) {
				t.Errorf("got %v", err)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("%v is not a *ConfigError", err)
			}
		})
	}
}

func TestFlatTerrainFallback(t *testing.T) {
	g := flatGrid()
	p := g.provider()
	if _, err := p.SurfaceHeight(); !errors.Is(err, ErrMissingField) {
		t.Fatalf("got %v", err)
	}
	it, err := NewIntegrator(baseConfig(), p, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if got := it.Transform().SurfaceHeightAt(3, 3); got != 0 {
		t.Errorf("surface height = %g", got)
	}
}
