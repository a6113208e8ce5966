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
	"os"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// gravity is gravitational acceleration [m/s2].
const gravity = 9.80665

// NCFConfig specifies how to read gridded model output from a series
// of NetCDF files.
type NCFConfig struct {
	// FileTemplate is the path to the files, where the [DATE] wildcard
	// is replaced by the date of the first record in each file
	// formatted according to DateFormat.
	FileTemplate string
	DateFormat   string

	// StartDate and EndDate bound the records that are read.
	// Time index 0 is StartDate; EndDate is exclusive.
	StartDate, EndDate time.Time

	// RecordDelta is the time between records and FileDelta is the
	// time between files.
	RecordDelta, FileDelta time.Duration

	// Dx is the horizontal grid spacing [m]. If zero, it is read from
	// the DX global attribute.
	Dx float64

	// WRF specifies that the files are WRF output, with level heights
	// calculated from geopotential.
	WRF bool

	// TimeDim is the name of the time dimension.
	TimeDim string

	// LevelHeight and SurfaceHeight are the names of the level height
	// and terrain height variables. A 3-d LevelHeight variable holds
	// heights above the datum; a 1-d variable holds heights above
	// ground. LevelHeight is not used for WRF files, which always
	// use PH and PHB.
	LevelHeight, SurfaceHeight string
}

func (c *NCFConfig) setDefaults() {
	if c.DateFormat == "" {
		c.DateFormat = "2006-01-02_15_04_05"
	}
	if c.TimeDim == "" {
		c.TimeDim = "Time"
	}
	if c.FileDelta == 0 {
		c.FileDelta = c.RecordDelta
	}
	if c.WRF {
		if c.SurfaceHeight == "" {
			c.SurfaceHeight = "HGT"
		}
		return
	}
	if c.LevelHeight == "" {
		c.LevelHeight = "zh"
	}
	if c.SurfaceHeight == "" {
		c.SurfaceHeight = "zs"
	}
}

// NCFProvider is a FieldProvider that reads NetCDF files.
type NCFProvider struct {
	cfg  NCFConfig
	grid Grid

	levels  *sparse.DenseArray
	surface *sparse.DenseArray

	log logrus.FieldLogger
}

// NewNCFProvider opens the first file specified by cfg and reads the
// grid structure and static fields. log may be nil.
func NewNCFProvider(cfg NCFConfig, log logrus.FieldLogger) (*NCFProvider, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg.setDefaults()
	if cfg.RecordDelta <= 0 {
		return nil, configErrorf("RecordDelta", "must be positive but is %v", cfg.RecordDelta)
	}
	if cfg.FileDelta < cfg.RecordDelta || cfg.FileDelta%cfg.RecordDelta != 0 {
		return nil, configErrorf("FileDelta", "%v is not a multiple of RecordDelta %v", cfg.FileDelta, cfg.RecordDelta)
	}
	if !cfg.StartDate.Before(cfg.EndDate) {
		return nil, configErrorf("EndDate", "end date %v is not after start date %v", cfg.EndDate, cfg.StartDate)
	}
	p := &NCFProvider{cfg: cfg, log: log}

	f, ff, err := ncfFromTemplate(cfg.FileTemplate, cfg.DateFormat, cfg.StartDate)
	if err != nil {
		return nil, fmt.Errorf("parcel: opening first input file: %w", err)
	}
	defer f.Close()

	if cfg.WRF {
		p.levels, err = p.wrfLevelHeights(ff)
	} else {
		p.levels, err = p.readStatic(ff, cfg.LevelHeight)
	}
	if err != nil {
		return nil, err
	}
	if len(p.levels.Shape) == 1 {
		p.levels, err = p.columnLevels(ff, p.levels)
		if err != nil {
			return nil, err
		}
	}
	if len(p.levels.Shape) != 3 {
		return nil, configErrorf("LevelHeight", "need a 1-d or 3-d variable instead of %d-d", len(p.levels.Shape))
	}

	p.surface, err = p.readStatic(ff, cfg.SurfaceHeight)
	if err != nil && !errors.Is(err, ErrMissingField) {
		return nil, err
	}
	if p.surface != nil && cfg.WRF {
		addSurface(p.levels, p.surface)
	}

	dx := cfg.Dx
	if dx == 0 {
		dx, err = floatAttribute(ff, "DX")
		if err != nil {
			return nil, err
		}
	}
	p.grid = Grid{
		Nz:       p.levels.Shape[0],
		Ny:       p.levels.Shape[1],
		Nx:       p.levels.Shape[2],
		NumTimes: int(cfg.EndDate.Sub(cfg.StartDate) / cfg.RecordDelta),
		Dx:       dx,
		Dt:       cfg.RecordDelta.Seconds(),
	}
	log.WithFields(logrus.Fields{
		"nx": p.grid.Nx, "ny": p.grid.Ny, "nz": p.grid.Nz,
		"times": p.grid.NumTimes, "dx": p.grid.Dx, "dt": p.grid.Dt,
	}).Info("parcel: opened NetCDF input")
	return p, nil
}

// Grid implements FieldProvider.
func (p *NCFProvider) Grid() (Grid, error) { return p.grid, nil }

// LevelHeight implements FieldProvider.
func (p *NCFProvider) LevelHeight() (*sparse.DenseArray, error) { return p.levels, nil }

// SurfaceHeight implements FieldProvider.
func (p *NCFProvider) SurfaceHeight() (*sparse.DenseArray, error) {
	if p.surface == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, p.cfg.SurfaceHeight)
	}
	return p.surface, nil
}

// Field implements FieldProvider.
func (p *NCFProvider) Field(ctx context.Context, timeIndex int, name string) (*sparse.DenseArray, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeIndex < 0 || timeIndex >= p.grid.NumTimes {
		return nil, fmt.Errorf("parcel: time index %d out of range [0, %d)", timeIndex, p.grid.NumTimes)
	}
	date, record := p.fileDate(timeIndex)
	f, ff, err := ncfFromTemplate(p.cfg.FileTemplate, p.cfg.DateFormat, date)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := readNCF(name, ff, record)
	if err != nil {
		return nil, err
	}
	p.log.WithFields(logrus.Fields{
		"field": name, "timeIndex": timeIndex, "record": record,
	}).Debug("parcel: read field")
	return data, nil
}

// Files returns the paths of every file that holds a record between
// the start and end dates.
func (c NCFConfig) Files() []string {
	c.setDefaults()
	if c.FileDelta <= 0 {
		return nil
	}
	var files []string
	for d := c.StartDate; d.Before(c.EndDate); d = d.Add(c.FileDelta) {
		files = append(files, expandTemplate(c.FileTemplate, c.DateFormat, d))
	}
	return files
}

// fileDate returns the date of the file that holds time index t and
// the record within that file.
func (p *NCFProvider) fileDate(t int) (time.Time, int) {
	recordsPerFile := int(p.cfg.FileDelta / p.cfg.RecordDelta)
	file := t / recordsPerFile
	return p.cfg.StartDate.Add(time.Duration(file) * p.cfg.FileDelta), t % recordsPerFile
}

// readStatic reads a time-invariant variable, taking the first record
// if the variable has a time dimension.
func (p *NCFProvider) readStatic(ff *cdf.File, name string) (*sparse.DenseArray, error) {
	dims := ff.Header.Dimensions(name)
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: %s not in file", ErrMissingField, name)
	}
	if dims[0] == p.cfg.TimeDim {
		return readNCF(name, ff, 0)
	}
	return readNCFNoTime(name, ff)
}

// columnLevels broadcasts a single column of level heights to every
// horizontal grid cell. The horizontal size is taken from the surface
// height variable.
func (p *NCFProvider) columnLevels(ff *cdf.File, col *sparse.DenseArray) (*sparse.DenseArray, error) {
	zs, err := p.readStatic(ff, p.cfg.SurfaceHeight)
	if err != nil {
		return nil, fmt.Errorf("parcel: 1-d level heights need %s for the horizontal grid size: %w", p.cfg.SurfaceHeight, err)
	}
	nz, ny, nx := col.Shape[0], zs.Shape[0], zs.Shape[1]
	out := sparse.ZerosDense(nz, ny, nx)
	layer := ny * nx
	for k := 0; k < nz; k++ {
		for i := 0; i < layer; i++ {
			out.Elements[k*layer+i] = col.Elements[k] + zs.Elements[i]
		}
	}
	return out, nil
}

// wrfLevelHeights calculates the height above ground of the WRF mass
// levels from geopotential.
// For more information, refer to
// http://www.openwfm.org/wiki/How_to_interpret_WRF_variables.
func (p *NCFProvider) wrfLevelHeights(ff *cdf.File) (*sparse.DenseArray, error) {
	// ph is perturbation geopotential [m2/s2].
	ph, err := p.readStatic(ff, "PH")
	if err != nil {
		return nil, err
	}
	// phb is baseline geopotential [m2/s2].
	phb, err := p.readStatic(ff, "PHB")
	if err != nil {
		return nil, err
	}
	return unstaggerZ(geopotentialToHeight(ph, phb)), nil
}

// geopotentialToHeight converts geopotential on vertically staggered
// levels to height above the lowest level.
func geopotentialToHeight(ph, phb *sparse.DenseArray) *sparse.DenseArray {
	nz, ny, nx := ph.Shape[0], ph.Shape[1], ph.Shape[2]
	heights := sparse.ZerosDense(nz, ny, nx)
	layer := ny * nx
	for k := 0; k < nz; k++ {
		for i := 0; i < layer; i++ {
			heights.Elements[k*layer+i] = (ph.Elements[k*layer+i] + phb.Elements[k*layer+i] -
				ph.Elements[i] - phb.Elements[i]) / gravity // m
		}
	}
	return heights
}

// unstaggerZ averages adjacent vertical levels, converting a grid that
// is staggered in the vertical to one that is not.
func unstaggerZ(in *sparse.DenseArray) *sparse.DenseArray {
	nz, ny, nx := in.Shape[0]-1, in.Shape[1], in.Shape[2]
	out := sparse.ZerosDense(nz, ny, nx)
	layer := ny * nx
	for k := 0; k < nz; k++ {
		for i := 0; i < layer; i++ {
			out.Elements[k*layer+i] = (in.Elements[k*layer+i] + in.Elements[(k+1)*layer+i]) / 2
		}
	}
	return out
}

// addSurface converts heights above ground to heights above the datum.
func addSurface(levels, surface *sparse.DenseArray) {
	layer := len(surface.Elements)
	for i := range levels.Elements {
		levels.Elements[i] += surface.Elements[i%layer]
	}
}

// floatAttribute reads a scalar numeric global attribute.
func floatAttribute(ff *cdf.File, name string) (float64, error) {
	switch v := ff.Header.GetAttribute("", name).(type) {
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), nil
		}
	case []float64:
		if len(v) > 0 {
			return v[0], nil
		}
	case []int32:
		if len(v) > 0 {
			return float64(v[0]), nil
		}
	case []int16:
		if len(v) > 0 {
			return float64(v[0]), nil
		}
	}
	return 0, configErrorf(name, "global attribute %s is missing or not numeric; set it in the configuration instead", name)
}

// readNCF reads variable name out of netcdf file ff at the index of the
// first dimension specified by record.
func readNCF(name string, ff *cdf.File, record int) (*sparse.DenseArray, error) {
	dims := ff.Header.Lengths(name)
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: %s not in file", ErrMissingField, name)
	}
	dims = dims[1:]
	nread := 1
	for _, dim := range dims {
		nread *= dim
	}
	start, end := make([]int, len(dims)+1), make([]int, len(dims)+1)
	start[0], end[0] = record, record+1
	r := ff.Reader(name, start, end)
	buf := r.Zero(nread)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("parcel: reading netcdf variable %s record %d: %v", name, record, err)
	}
	return toDense(name, buf, dims)
}

// readNCFNoTime reads all of variable name out of netcdf file ff.
func readNCFNoTime(name string, ff *cdf.File) (*sparse.DenseArray, error) {
	dims := ff.Header.Lengths(name)
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: %s not in file", ErrMissingField, name)
	}
	r := ff.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("parcel: reading netcdf variable %s: %v", name, err)
	}
	return toDense(name, buf, dims)
}

func toDense(name string, buf interface{}, dims []int) (*sparse.DenseArray, error) {
	data := sparse.ZerosDense(dims...)
	switch b := buf.(type) {
	case []float32:
		for i, val := range b {
			data.Elements[i] = float64(val)
		}
	case []float64:
		copy(data.Elements, b)
	case []int32:
		for i, val := range b {
			data.Elements[i] = float64(val)
		}
	case []int16:
		for i, val := range b {
			data.Elements[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("parcel: netcdf variable %s has unsupported type %T", name, buf)
	}
	return data, nil
}

// ncfFromTemplate opens a NetCDF file from the given template, where
// the [DATE] wildcard in the given fileTemplate is replaced by the given
// date, formatted as the given dateFormat.
func ncfFromTemplate(fileTemplate, dateFormat string, date time.Time) (*os.File, *cdf.File, error) {
	file := expandTemplate(fileTemplate, dateFormat, date)
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, fmt.Errorf("parcel: %v", err)
	}
	ff, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("parcel: opening %s: %v", file, err)
	}
	return f, ff, nil
}

func expandTemplate(fileTemplate, dateFormat string, date time.Time) string {
	return strings.Replace(fileTemplate, "[DATE]", date.Format(dateFormat), -1)
}
