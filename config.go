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
	"strings"
)

// Direction is the direction of integration in time.
type Direction int

const (
	// Backward integration finds where parcels came from.
	Backward Direction = iota
	// Forward integration finds where parcels go.
	Forward
)

func (d Direction) String() string {
	switch d {
	case Backward:
		return "backward"
	case Forward:
		return "forward"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// sign is the factor applied to displacements.
func (d Direction) sign() float64 {
	if d == Forward {
		return 1
	}
	return -1
}

// ParseDirection converts "backward" or "forward" to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "backward", "back", "b":
		return Backward, nil
	case "forward", "fwd", "f":
		return Forward, nil
	}
	return Backward, configErrorf("Direction", "invalid value %q; must be backward or forward", s)
}

// Winds holds the names of the velocity fields.
type Winds struct {
	U, V, W string
}

// Config holds the settings for a trajectory integration.
type Config struct {
	// VerticalSeeds are the vertical grid positions of the seeds.
	VerticalSeeds []float64

	// HorizontalSeeds are the (x, y) grid positions of the seeds.
	// A parcel is seeded at every combination of vertical and
	// horizontal seed.
	HorizontalSeeds [][2]float64

	// NumVerticalSeeds and NumHorizontalSeeds, if nonzero, are the
	// expected lengths of the seed lists.
	NumVerticalSeeds, NumHorizontalSeeds int

	// NumSteps is the number of recorded steps, including the seed
	// state.
	NumSteps int

	// StartTimeIndex is the time index of the seed state.
	StartTimeIndex int

	Direction Direction

	// Staggered specifies that velocities are on a staggered grid
	// and positions are measured in cell-edge units.
	Staggered bool

	// TrackedFields are scalar fields to sample along each trajectory.
	TrackedFields []string

	// Winds are the names of the velocity fields. Empty names
	// default to "U", "V", and "W".
	Winds Winds
}

// reservedNames are output variable names that tracked fields may
// not use.
var reservedNames = map[string]bool{"x": true, "y": true, "z": true, "height": true, "dz": true}

func (c *Config) setDefaults() {
	if c.Winds.U == "" {
		c.Winds.U = "U"
	}
	if c.Winds.V == "" {
		c.Winds.V = "V"
	}
	if c.Winds.W == "" {
		c.Winds.W = "W"
	}
}

// TimeIndex returns the time index used for step t.
func (c *Config) TimeIndex(t int) int {
	if c.Direction == Forward {
		return c.StartTimeIndex + t
	}
	return c.StartTimeIndex - t
}

// Validate checks c against the grid g. Any problem is returned
// as a *ConfigError.
func (c *Config) Validate(g Grid) error {
	c.setDefaults()
	switch {
	case len(c.VerticalSeeds) == 0:
		return configErrorf("VerticalSeeds", "no vertical seeds")
	case len(c.HorizontalSeeds) == 0:
		return configErrorf("HorizontalSeeds", "no horizontal seeds")
	case c.NumVerticalSeeds != 0 && c.NumVerticalSeeds != len(c.VerticalSeeds):
		return configErrorf("NumVerticalSeeds", "declared %d but %d given", c.NumVerticalSeeds, len(c.VerticalSeeds))
	case c.NumHorizontalSeeds != 0 && c.NumHorizontalSeeds != len(c.HorizontalSeeds):
		return configErrorf("NumHorizontalSeeds", "declared %d but %d given", c.NumHorizontalSeeds, len(c.HorizontalSeeds))
	case c.NumSteps < 1:
		return configErrorf("NumSteps", "must be at least 1 but is %d", c.NumSteps)
	case c.Direction != Backward && c.Direction != Forward:
		return configErrorf("Direction", "invalid direction %v", c.Direction)
	case g.Dx <= 0:
		return configErrorf("Dx", "horizontal grid spacing must be positive but is %g", g.Dx)
	case g.Dt <= 0:
		return configErrorf("Dt", "time step must be positive but is %g", g.Dt)
	}
	first, last := c.TimeIndex(0), c.TimeIndex(c.NumSteps-1)
	for _, ti := range []int{first, last} {
		if ti < 0 || ti >= g.NumTimes {
			return configErrorf("StartTimeIndex", "%s run of %d steps from time index %d needs time index %d, "+
				"which is outside of [0, %d)", c.Direction, c.NumSteps, c.StartTimeIndex, ti, g.NumTimes)
		}
	}
	zmin := 0.
	if c.Staggered {
		zmin = 0.5
	}
	for i, z := range c.VerticalSeeds {
		if math.IsNaN(z) || z < zmin {
			return configErrorf("VerticalSeeds", "seed %d at %g is below the lowest position %g", i, z, zmin)
		}
	}
	seen := make(map[string]bool)
	for _, f := range c.TrackedFields {
		if f == "" || reservedNames[strings.ToLower(f)] {
			return configErrorf("TrackedFields", "invalid field name %q", f)
		}
		if seen[f] {
			return configErrorf("TrackedFields", "field %s listed more than once", f)
		}
		seen[f] = true
	}
	return nil
}
