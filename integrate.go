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
	"fmt"
	"math"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of an Integrator.
type State int

const (
	// Seeded means the seed positions have been recorded.
	Seeded State = iota
	// Stepping means at least one step has been taken.
	Stepping
	// Completed means every step has been recorded and the
	// ParcelSet is finalized.
	Completed
)

func (s State) String() string {
	switch s {
	case Seeded:
		return "seeded"
	case Stepping:
		return "stepping"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Snapshot holds the fields needed for one step. It is not
// modified after it is created.
type Snapshot struct {
	TimeIndex int
	U, V, W   *sparse.DenseArray
	Scalars   map[string]*sparse.DenseArray
}

type fetchResult struct {
	timeIndex int
	snap      *Snapshot
	err       error
}

// Integrator advances parcels through a time-varying flow field with a
// first-order explicit Euler scheme.
type Integrator struct {
	cfg       Config
	grid      Grid
	provider  FieldProvider
	transform *Transform
	parcels   *ParcelSet
	log       logrus.FieldLogger

	state State
	step  int // latest recorded step

	next chan fetchResult // prefetched snapshot
}

// NewIntegrator validates cfg against the grid of p, loads the static
// fields, and records the seed positions. log may be nil, in which case
// the standard logrus logger is used.
func NewIntegrator(cfg Config, p FieldProvider, log logrus.FieldLogger) (*Integrator, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	g, err := p.Grid()
	if err != nil {
		return nil, fmt.Errorf("parcel: getting grid: %w", err)
	}
	if err := cfg.Validate(g); err != nil {
		return nil, err
	}
	zh, err := p.LevelHeight()
	if err != nil {
		return nil, fmt.Errorf("parcel: loading level heights: %w", err)
	}
	if len(zh.Shape) != 3 || zh.Shape[0] != g.Nz || zh.Shape[1] != g.Ny || zh.Shape[2] != g.Nx {
		return nil, configErrorf("LevelHeight", "shape %v does not match grid [%d %d %d]", zh.Shape, g.Nz, g.Ny, g.Nx)
	}
	zs, err := p.SurfaceHeight()
	if errors.Is(err, ErrMissingField) {
		log.WithField("reason", err).Info("parcel: no terrain height available; using flat terrain")
		zs = nil
	} else if err != nil {
		return nil, fmt.Errorf("parcel: loading surface height: %w", err)
	}
	tr, err := NewTransform(zh, zs, cfg.Staggered)
	if err != nil {
		return nil, err
	}
	it := &Integrator{
		cfg:       cfg,
		grid:      g,
		provider:  p,
		transform: tr,
		log:       log,
	}
	it.seed()
	return it, nil
}

// seed records the seed state at step 0.
func (it *Integrator) seed() {
	c := &it.cfg
	nv, nh := len(c.VerticalSeeds), len(c.HorizontalSeeds)
	ps := NewParcelSet(c.NumSteps, nv, nh, c.TrackedFields)
	ps.Direction = c.Direction
	ps.StartTimeIndex = c.StartTimeIndex
	ps.Dx, ps.Dt = it.grid.Dx, it.grid.Dt
	ps.Staggered = c.Staggered

	n := nv * nh
	pts := make([]Point, n)
	x, y, z := make([]float64, n), make([]float64, n), make([]float64, n)
	for k, zSeed := range c.VerticalSeeds {
		for h, xy := range c.HorizontalSeeds {
			i := k*nh + h
			x[i], y[i], z[i] = xy[0], xy[1], zSeed
			pts[i] = Point{Z: zSeed, Y: xy[1], X: xy[0]}
		}
	}
	height := it.transform.HeightsFromIndex(pts)
	dz := it.transform.SpacingsAt(pts)
	ps.setPositions(0, x, y, z, height, dz) // cannot fail on a new set

	it.parcels = ps
	it.state = Seeded
	it.log.WithFields(logrus.Fields{
		"parcels":   n,
		"steps":     c.NumSteps,
		"direction": c.Direction,
		"timeIndex": c.StartTimeIndex,
	}).Info("parcel: seeded parcels")
}

// State returns the current lifecycle state.
func (it *Integrator) State() State { return it.state }

// Parcels returns the parcel set being filled. It is finalized once
// the integrator reaches the Completed state.
func (it *Integrator) Parcels() *ParcelSet { return it.parcels }

// Transform returns the coordinate transform used by the integrator.
func (it *Integrator) Transform() *Transform { return it.transform }

// Run steps until all steps are recorded and returns the finalized
// parcel set. If ctx is cancelled, Run stops between steps and returns
// the partially filled set along with an error wrapping ErrInterrupted.
func (it *Integrator) Run(ctx context.Context) (*ParcelSet, error) {
	for it.state != Completed {
		if err := ctx.Err(); err != nil {
			return it.parcels, it.interrupted(err)
		}
		if err := it.Step(ctx); err != nil {
			// A cancellation while fields are loading is still an
			// interruption rather than a failure.
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return it.parcels, it.interrupted(err)
			}
			return it.parcels, err
		}
	}
	s := it.parcels.Summarize(it.parcels.Height, it.parcels.NumSteps-1)
	it.log.WithFields(logrus.Fields{
		"steps":     it.parcels.NumSteps,
		"minHeight": s.Min,
		"maxHeight": s.Max,
	}).Info("parcel: integration complete")
	return it.parcels, nil
}

func (it *Integrator) interrupted(err error) error {
	it.log.WithField("step", it.step).Info("parcel: integration interrupted")
	return fmt.Errorf("%w after step %d: %w", ErrInterrupted, it.step, err)
}

// Step advances every parcel by one step. When the last step has
// already been recorded, Step instead samples the tracked fields at the
// final positions and finalizes the parcel set.
func (it *Integrator) Step(ctx context.Context) error {
	if it.state == Completed {
		return ErrCompleted
	}
	t := it.step
	snap, err := it.snapshot(ctx, t)
	if err != nil {
		return err
	}
	if t+1 < it.cfg.NumSteps {
		it.prefetch(ctx, t+1)
	}
	pts := it.parcels.positions(t)

	if t == it.cfg.NumSteps-1 {
		if err := it.sampleScalars(t, snap, pts); err != nil {
			return err
		}
		if err := it.parcels.Finalize(); err != nil {
			return err
		}
		it.state = Completed
		return nil
	}

	if err := it.advance(t, snap, pts); err != nil {
		return err
	}
	it.step++
	it.state = Stepping
	return nil
}

// advance samples the tracked fields at step t and records the
// positions of step t+1.
func (it *Integrator) advance(t int, snap *Snapshot, pts []Point) error {
	var u, v, w, dz []float64
	var g errgroup.Group
	g.Go(func() error {
		u = it.velocity(snap.U, pts, 2)
		return nil
	})
	g.Go(func() error {
		v = it.velocity(snap.V, pts, 1)
		return nil
	})
	g.Go(func() error {
		w = it.velocity(snap.W, pts, 0)
		return nil
	})
	g.Go(func() error {
		dz = it.transform.SpacingsAt(pts)
		return nil
	})
	g.Go(func() error {
		return it.sampleScalars(t, snap, pts)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s := it.cfg.Direction.sign()
	dt, dx := it.grid.Dt, it.grid.Dx
	zmin := it.transform.MinZ()
	h0 := it.parcels.stepSlice(it.parcels.Height, t)
	n := len(pts)
	x1, y1, z1, h1 := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	next := make([]Point, n)
	for i, p := range pts {
		x1[i] = p.X + s*u[i]*dt/dx
		y1[i] = p.Y + s*v[i]*dt/dx
		h1[i] = h0[i] + s*w[i]*dt
		next[i] = Point{Y: y1[i], X: x1[i]}
	}
	zs := it.transform.SurfaceHeightsAt(next)
	var clipped int
	for i := range z1 {
		z1[i] = it.transform.IndexFromHeight(h1[i], dz[i], zs[i])
		if z1[i] < zmin {
			z1[i] = zmin
			h1[i] = zs[i] + zmin*dz[i]
			clipped++
		}
	}
	if err := it.parcels.setPositions(t+1, x1, y1, z1, h1, dz); err != nil {
		return err
	}
	it.log.WithFields(logrus.Fields{
		"step":      t + 1,
		"timeIndex": snap.TimeIndex,
		"clipped":   clipped,
	}).Debug("parcel: advanced parcels")
	return nil
}

// velocity interpolates a velocity component at pts. axis is the
// dimension (0=z, 1=y, 2=x) that the component is staggered along.
func (it *Integrator) velocity(data *sparse.DenseArray, pts []Point, axis int) []float64 {
	off := it.transform.Offset
	shift := [3]float64{off, off, off}
	shift[axis] = 0
	return Interpolator{Fill: math.NaN()}.Batch(data, shiftPoints(pts, shift[0], shift[1], shift[2]))
}

// sampleScalars records the tracked fields of snap at pts as step t.
func (it *Integrator) sampleScalars(t int, snap *Snapshot, pts []Point) error {
	names := it.parcels.ScalarNames()
	vals := make([][]float64, len(names))
	var g errgroup.Group
	q := it.transform.scalarPoints(pts)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			vals[i] = Interpolator{Fill: math.NaN()}.Batch(snap.Scalars[name], q)
			return nil
		})
	}
	g.Wait()
	for i, name := range names {
		if err := it.parcels.setScalar(t, name, vals[i]); err != nil {
			return err
		}
	}
	return nil
}

// snapshot returns the fields for step t, using the prefetched
// snapshot if there is one.
func (it *Integrator) snapshot(ctx context.Context, t int) (*Snapshot, error) {
	ti := it.cfg.TimeIndex(t)
	if it.next != nil {
		r := <-it.next
		it.next = nil
		if r.timeIndex == ti {
			return r.snap, r.err
		}
	}
	return it.loadSnapshot(ctx, ti)
}

// prefetch starts loading the fields for step t in the background.
func (it *Integrator) prefetch(ctx context.Context, t int) {
	ti := it.cfg.TimeIndex(t)
	ch := make(chan fetchResult, 1)
	it.next = ch
	go func() {
		s, err := it.loadSnapshot(ctx, ti)
		ch <- fetchResult{timeIndex: ti, snap: s, err: err}
	}()
}

// loadSnapshot reads every field needed at time index ti.
func (it *Integrator) loadSnapshot(ctx context.Context, ti int) (*Snapshot, error) {
	s := &Snapshot{
		TimeIndex: ti,
		Scalars:   make(map[string]*sparse.DenseArray, len(it.cfg.TrackedFields)),
	}
	g, gctx := errgroup.WithContext(ctx)
	nz, ny, nx := it.grid.Nz, it.grid.Ny, it.grid.Nx
	stag := 0
	if it.cfg.Staggered {
		stag = 1
	}
	load := func(name string, shape []int, dst **sparse.DenseArray) {
		g.Go(func() error {
			d, err := it.provider.Field(gctx, ti, name)
			if err != nil {
				return fmt.Errorf("parcel: loading field %s at time index %d: %w", name, ti, err)
			}
			if !sameShape(d.Shape, shape) {
				return fmt.Errorf("parcel: field %s at time index %d has shape %v; expected %v", name, ti, d.Shape, shape)
			}
			*dst = d
			return nil
		})
	}
	load(it.cfg.Winds.U, []int{nz, ny, nx + stag}, &s.U)
	load(it.cfg.Winds.V, []int{nz, ny + stag, nx}, &s.V)
	load(it.cfg.Winds.W, []int{nz + stag, ny, nx}, &s.W)
	scalars := make([]*sparse.DenseArray, len(it.cfg.TrackedFields))
	for i, name := range it.cfg.TrackedFields {
		load(name, []int{nz, ny, nx}, &scalars[i])
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, name := range it.cfg.TrackedFields {
		s.Scalars[name] = scalars[i]
	}
	return s, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
