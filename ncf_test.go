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
	"path/filepath"
	"testing"
	"time"

	"github.com/spatialmodel/parcel/internal/synthetic"
)

var testStart = time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC)

// writeSynthetic writes two files of three records each and returns
// the configuration for reading them.
func writeSynthetic(t *testing.T, o synthetic.Options, wrf bool) NCFConfig {
	dir := t.TempDir()
	o.WRF = wrf
	o.NumRecords = 3
	cfg := NCFConfig{
		FileTemplate: filepath.Join(dir, "out_[DATE].nc"),
		StartDate:    testStart,
		EndDate:      testStart.Add(6 * time.Minute),
		RecordDelta:  time.Minute,
		FileDelta:    3 * time.Minute,
		WRF:          wrf,
	}
	for _, f := range cfg.Files() {
		if err := synthetic.Write(f, o); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func smallOptions() synthetic.Options {
	return synthetic.Options{Nx: 6, Ny: 5, Nz: 4, Dx: 500, Dz: 100, Surface: 200, U: 5}
}

func TestNCFFiles(t *testing.T) {
	cfg := NCFConfig{
		FileTemplate: "/data/wrfout_[DATE]",
		StartDate:    testStart,
		EndDate:      testStart.Add(48 * time.Hour),
		RecordDelta:  time.Hour,
		FileDelta:    24 * time.Hour,
	}
	want := []string{"/data/wrfout_2019-07-01_00_00_00", "/data/wrfout_2019-07-02_00_00_00"}
	got := cfg.Files()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNCFProvider(t *testing.T) {
	p, err := NewNCFProvider(writeSynthetic(t, smallOptions(), false), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	g, _ := p.Grid()
	want := Grid{Nx: 6, Ny: 5, Nz: 4, NumTimes: 6, Dx: 500, Dt: 60}
	if g != want {
		t.Errorf("grid = %+v, want %+v", g, want)
	}
	zh, _ := p.LevelHeight()
	for k := 0; k < 4; k++ {
		if got := zh.Get(k, 2, 3); different(got, 200+100*float64(k), tolerance) {
			t.Errorf("level %d height = %g", k, got)
		}
	}
	zs, err := p.SurfaceHeight()
	if err != nil {
		t.Fatal(err)
	}
	if got := zs.Get(4, 5); got != 200 {
		t.Errorf("surface height = %g", got)
	}

	ctx := context.Background()
	// Time index 4 is the second record of the second file.
	T, err := p.Field(ctx, 4, "T")
	if err != nil {
		t.Fatal(err)
	}
	if got := T.Get(3, 4, 2); got != 303 {
		t.Errorf("T = %g, want 303", got)
	}
	u, err := p.Field(ctx, 0, "U")
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Shape) != 3 || u.Shape[2] != 6 || u.Get(1, 1, 1) != 5 {
		t.Errorf("U has shape %v and value %g", u.Shape, u.Get(1, 1, 1))
	}
	if _, err := p.Field(ctx, 1, "QVAPOR"); !errors.Is(err, ErrMissingField) {
		t.Errorf("missing field: got %v", err)
	}
	if _, err := p.Field(ctx, 6, "T"); err == nil {
		t.Error("expected an error for an out of range time index")
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := p.Field(cctx, 0, "T"); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: got %v", err)
	}
}

func TestNCFProviderWRF(t *testing.T) {
	p, err := NewNCFProvider(writeSynthetic(t, smallOptions(), true), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	zh, _ := p.LevelHeight()
	for k := 0; k < 4; k++ {
		want := 200 + (float64(k)+0.5)*100
		if got := zh.Get(k, 1, 1); different(got, want, 1e-5) {
			t.Errorf("level %d height = %g, want %g", k, got, want)
		}
	}
	u, err := p.Field(context.Background(), 2, "U")
	if err != nil {
		t.Fatal(err)
	}
	if u.Shape[2] != 7 {
		t.Errorf("U shape = %v", u.Shape)
	}
}

func TestNCFProviderNoSurface(t *testing.T) {
	o := smallOptions()
	o.NoSurface = true
	p, err := NewNCFProvider(writeSynthetic(t, o, false), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.SurfaceHeight(); !errors.Is(err, ErrMissingField) {
		t.Errorf("got %v", err)
	}
}

func TestNCFProviderConfigErrors(t *testing.T) {
	cfg := writeSynthetic(t, smallOptions(), false)
	for name, mod := range map[string]func(*NCFConfig){
		"no record delta": func(c *NCFConfig) { c.RecordDelta = 0 },
		"file delta":      func(c *NCFConfig) { c.FileDelta = 90 * time.Second },
		"dates":           func(c *NCFConfig) { c.EndDate = c.StartDate },
	} {
		c := cfg
		mod(&c)
		if _, err := NewNCFProvider(c, testLogger()); !errors.Is(err, ErrConfig) {
			t.Errorf("%s: got %v", name, err)
		}
	}
	cfg.FileTemplate = filepath.Join(t.TempDir(), "missing_[DATE].nc")
	if _, err := NewNCFProvider(cfg, testLogger()); err == nil {
		t.Error("expected an error for a missing file")
	}
}

// TestNCFTrajectory integrates through staggered WRF-style files.
func TestNCFTrajectory(t *testing.T) {
	o := smallOptions()
	o.Nx, o.Ny = 12, 12
	o.Dx = 1000
	o.U = 10
	p, err := NewNCFProvider(writeSynthetic(t, o, true), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		VerticalSeeds:   []float64{1.5},
		HorizontalSeeds: [][2]float64{{8, 6}},
		NumSteps:        6,
		StartTimeIndex:  5,
		Direction:       Backward,
		Staggered:       true,
		TrackedFields:   []string{"T"},
	}
	cp, err := NewCachedProvider(p, 8)
	if err != nil {
		t.Fatal(err)
	}
	ps := run(t, cfg, cp)
	tr, _ := ps.Trajectory(0, 0)
	for step := range tr.X {
		x := 8 - 0.6*float64(step)
		if different(tr.X[step], x, 1e-6) {
			t.Errorf("step %d: x = %g, want %g", step, tr.X[step], x)
		}
		if different(tr.Height[step], 350, 1e-5) {
			t.Errorf("step %d: height = %g, want 350", step, tr.Height[step])
		}
		// Time index 5-step is record (5-step)%3 of its file.
		T := 300 + x - 0.5 + float64((5-step)%3)
		if different(tr.Scalars["T"][step], T, 1e-6) {
			t.Errorf("step %d: T = %g, want %g", step, tr.Scalars["T"][step], T)
		}
	}
}
