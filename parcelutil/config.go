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

package parcelutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/geom/proj"
	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/parcel"
	"github.com/spatialmodel/parcel/cloud"
	"github.com/spf13/cast"
)

// RunConfig holds the resolved settings of a run. It is written next
// to the output in TOML format, and the written file can be used as
// the configuration file of a later run.
type RunConfig struct {
	Provider ProviderConfig
	Seeds    SeedConfig

	NumSteps       int
	StartTimeIndex int
	Direction      string
	Staggered      bool
	TrackedFields  []string

	OutputFile string
	LogFile    string
	LogLevel   string
}

// ProviderConfig specifies the model output to read.
type ProviderConfig struct {
	Type          string
	FileTemplate  string
	DateFormat    string
	StartDate     time.Time
	EndDate       time.Time
	RecordDelta   string
	FileDelta     string
	Dx            float64
	U, V, W       string
	LevelHeight   string
	SurfaceHeight string
	Expressions   map[string]string
	CacheSize     int
}

// SeedConfig specifies where parcels start.
type SeedConfig struct {
	Vertical      []float64
	Horizontal    [][2]float64
	File          string
	NumVertical   int
	NumHorizontal int
	Proj          string
	GridProj      string
	X0, Y0        float64
}

// runConfig reads a RunConfig from cfg, expanding environment variables.
func runConfig(cfg *viper.Viper) (*RunConfig, error) {
	rc := &RunConfig{
		NumSteps:       cfg.GetInt("NumSteps"),
		StartTimeIndex: cfg.GetInt("StartTimeIndex"),
		Direction:      os.ExpandEnv(cfg.GetString("Direction")),
		Staggered:      cfg.GetBool("Staggered"),
		TrackedFields:  expandStringSlice(cfg.GetStringSlice("TrackedFields")),
		LogLevel:       cfg.GetString("LogLevel"),
	}
	var err error
	if rc.Provider, err = providerConfig(cfg); err != nil {
		return nil, err
	}
	if rc.Provider.Type == "wrf" {
		rc.Staggered = true
	}
	s := &rc.Seeds
	if s.Vertical, err = floatSlice("Seeds.Vertical", cfg.Get("Seeds.Vertical")); err != nil {
		return nil, err
	}
	if s.Horizontal, err = seedPairs("Seeds.Horizontal", cfg.Get("Seeds.Horizontal")); err != nil {
		return nil, err
	}
	s.File = os.ExpandEnv(cfg.GetString("Seeds.File"))
	s.NumVertical = cfg.GetInt("Seeds.NumVertical")
	s.NumHorizontal = cfg.GetInt("Seeds.NumHorizontal")
	s.Proj = cfg.GetString("Seeds.Proj")
	s.GridProj = cfg.GetString("Seeds.GridProj")
	s.X0 = cfg.GetFloat64("Seeds.X0")
	s.Y0 = cfg.GetFloat64("Seeds.Y0")

	if rc.OutputFile, err = checkOutputFile(cfg.GetString("OutputFile")); err != nil {
		return nil, err
	}
	rc.LogFile = checkLogFile(os.ExpandEnv(cfg.GetString("LogFile")), rc.OutputFile)
	return rc, nil
}

// providerConfig reads the model output settings from cfg.
func providerConfig(cfg *viper.Viper) (ProviderConfig, error) {
	var p ProviderConfig
	var err error
	p.Type = strings.ToLower(cfg.GetString("Provider.Type"))
	if p.Type != "netcdf" && p.Type != "wrf" {
		return p, &parcel.ConfigError{Field: "Provider.Type", Reason: fmt.Sprintf("'%s' is not 'netcdf' or 'wrf'", p.Type)}
	}
	p.FileTemplate = os.ExpandEnv(cfg.GetString("Provider.FileTemplate"))
	if p.FileTemplate == "" {
		return p, &parcel.ConfigError{Field: "Provider.FileTemplate", Reason: "no model output files specified"}
	}
	p.DateFormat = cfg.GetString("Provider.DateFormat")
	if p.StartDate, err = parseDate("Provider.StartDate", cfg.Get("Provider.StartDate")); err != nil {
		return p, err
	}
	if p.EndDate, err = parseDate("Provider.EndDate", cfg.Get("Provider.EndDate")); err != nil {
		return p, err
	}
	p.RecordDelta = cfg.GetString("Provider.RecordDelta")
	p.FileDelta = cfg.GetString("Provider.FileDelta")
	if _, _, err = p.deltas(); err != nil {
		return p, err
	}
	p.Dx = cfg.GetFloat64("Provider.Dx")
	p.U, p.V, p.W = cfg.GetString("Provider.U"), cfg.GetString("Provider.V"), cfg.GetString("Provider.W")
	p.LevelHeight = cfg.GetString("Provider.LevelHeight")
	p.SurfaceHeight = cfg.GetString("Provider.SurfaceHeight")
	if p.Expressions, err = getStringMapString("Provider.Expressions", cfg); err != nil {
		return p, err
	}
	for k, v := range p.Expressions {
		p.Expressions[k] = os.ExpandEnv(v)
	}
	p.CacheSize = cfg.GetInt("Provider.CacheSize")
	return p, nil
}

// deltas parses the record and file intervals.
func (p *ProviderConfig) deltas() (record, file time.Duration, err error) {
	record, err = cast.ToDurationE(p.RecordDelta)
	if err != nil {
		return 0, 0, &parcel.ConfigError{Field: "Provider.RecordDelta", Reason: err.Error()}
	}
	if p.FileDelta == "" {
		return record, record, nil
	}
	file, err = cast.ToDurationE(p.FileDelta)
	if err != nil {
		return 0, 0, &parcel.ConfigError{Field: "Provider.FileDelta", Reason: err.Error()}
	}
	return record, file, nil
}

// ncfConfig returns the configuration for reading the model output.
func (p *ProviderConfig) ncfConfig() parcel.NCFConfig {
	record, file, _ := p.deltas()
	return parcel.NCFConfig{
		FileTemplate:  p.FileTemplate,
		DateFormat:    p.DateFormat,
		StartDate:     p.StartDate,
		EndDate:       p.EndDate,
		RecordDelta:   record,
		FileDelta:     file,
		Dx:            p.Dx,
		WRF:           p.Type == "wrf",
		LevelHeight:   p.LevelHeight,
		SurfaceHeight: p.SurfaceHeight,
	}
}

// provider opens the model output, adding derived fields and a field
// cache as configured.
func (p *ProviderConfig) provider(log logrus.FieldLogger) (parcel.FieldProvider, error) {
	np, err := parcel.NewNCFProvider(p.ncfConfig(), log)
	if err != nil {
		return nil, err
	}
	var fp parcel.FieldProvider = np
	if len(p.Expressions) > 0 {
		ep, err := parcel.NewExprProvider(fp, p.Expressions)
		if err != nil {
			return nil, err
		}
		log.WithField("fields", ep.Derived()).Info("parcel: calculating derived fields")
		fp = ep
	}
	if p.CacheSize > 0 {
		cp, err := parcel.NewCachedProvider(fp, p.CacheSize)
		if err != nil {
			return nil, err
		}
		fp = cp
	}
	return fp, nil
}

// integratorConfig returns the integrator settings, reading any seed
// file and converting seed coordinates to grid positions.
func (rc *RunConfig) integratorConfig(g parcel.Grid) (parcel.Config, error) {
	dir, err := parcel.ParseDirection(rc.Direction)
	if err != nil {
		return parcel.Config{}, err
	}
	cfg := parcel.Config{
		VerticalSeeds:      append([]float64{}, rc.Seeds.Vertical...),
		HorizontalSeeds:    append([][2]float64{}, rc.Seeds.Horizontal...),
		NumVerticalSeeds:   rc.Seeds.NumVertical,
		NumHorizontalSeeds: rc.Seeds.NumHorizontal,
		NumSteps:           rc.NumSteps,
		StartTimeIndex:     rc.StartTimeIndex,
		Direction:          dir,
		Staggered:          rc.Staggered,
		TrackedFields:      rc.TrackedFields,
		Winds:              parcel.Winds{U: rc.Provider.U, V: rc.Provider.V, W: rc.Provider.W},
	}
	if rc.Seeds.File == "" {
		return cfg, nil
	}
	f, err := os.Open(rc.Seeds.File)
	if err != nil {
		return cfg, fmt.Errorf("parcel: opening seed file: %v", err)
	}
	defer f.Close()
	s, err := parcel.ReadSeeds(f)
	if err != nil {
		return cfg, err
	}
	cfg.VerticalSeeds = append(cfg.VerticalSeeds, s.Vertical...)
	h, err := parcel.Pairs("Seeds.File", s.Horizontal)
	if err != nil {
		return cfg, err
	}
	cfg.HorizontalSeeds = append(cfg.HorizontalSeeds, h...)
	if len(s.Coordinates) > 0 {
		c, err := parcel.Pairs("Seeds.File", s.Coordinates)
		if err != nil {
			return cfg, err
		}
		srcProj := s.Projection
		if srcProj == "" {
			srcProj = rc.Seeds.Proj
		}
		pos, err := rc.Seeds.project(c, srcProj, g, rc.Staggered)
		if err != nil {
			return cfg, err
		}
		cfg.HorizontalSeeds = append(cfg.HorizontalSeeds, pos...)
	}
	return cfg, nil
}

// project converts coordinates in spatial reference srcProj to grid
// positions.
func (s *SeedConfig) project(pts [][2]float64, srcProj string, g parcel.Grid, staggered bool) ([][2]float64, error) {
	geo := parcel.GridGeometry{X0: s.X0, Y0: s.Y0, Dx: g.Dx, Dy: g.Dx, Staggered: staggered}
	var src *proj.SR
	var err error
	if srcProj != "" {
		if src, err = proj.Parse(srcProj); err != nil {
			return nil, &parcel.ConfigError{Field: "Seeds.Proj", Reason: err.Error()}
		}
	}
	if s.GridProj != "" {
		if geo.SR, err = proj.Parse(s.GridProj); err != nil {
			return nil, &parcel.ConfigError{Field: "Seeds.GridProj", Reason: err.Error()}
		}
	}
	return parcel.ProjectSeeds(pts, src, geo)
}

// parseDate converts a configuration value to a date.
func parseDate(name string, v interface{}) (time.Time, error) {
	if s, ok := v.(string); ok {
		v = os.ExpandEnv(s)
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return t, &parcel.ConfigError{Field: name, Reason: err.Error()}
	}
	return t, nil
}

// floatSlice converts a configuration value to a list of numbers. v can
// be a list or a string of numbers separated by spaces or commas.
func floatSlice(name string, v interface{}) ([]float64, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []float64:
		return t, nil
	case string:
		t = strings.Trim(strings.TrimSpace(os.ExpandEnv(t)), "[]")
		return floatSlice(name, strings.FieldsFunc(t, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		}))
	case []string:
		o := make([]float64, 0, len(t))
		for _, s := range t {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			f, err := cast.ToFloat64E(s)
			if err != nil {
				return nil, &parcel.ConfigError{Field: name, Reason: fmt.Sprintf("'%s' is not a number", s)}
			}
			o = append(o, f)
		}
		return o, nil
	}
	s, err := cast.ToSliceE(v)
	if err != nil {
		return nil, &parcel.ConfigError{Field: name, Reason: err.Error()}
	}
	o := make([]float64, len(s))
	for i, e := range s {
		if o[i], err = cast.ToFloat64E(e); err != nil {
			return nil, &parcel.ConfigError{Field: name, Reason: err.Error()}
		}
	}
	return o, nil
}

// seedPairs converts a configuration value to a list of (x, y) pairs.
// v can be a list of lists or a string such as "10 10; 12.5 3".
func seedPairs(name string, v interface{}) ([][2]float64, error) {
	var rows [][]float64
	switch t := v.(type) {
	case nil:
		return nil, nil
	case [][2]float64:
		return t, nil
	case [][]float64:
		rows = t
	case string:
		for _, p := range strings.Split(os.ExpandEnv(t), ";") {
			if strings.TrimSpace(p) == "" {
				continue
			}
			r, err := floatSlice(name, p)
			if err != nil {
				return nil, err
			}
			rows = append(rows, r)
		}
	default:
		s, err := cast.ToSliceE(v)
		if err != nil {
			return nil, &parcel.ConfigError{Field: name, Reason: err.Error()}
		}
		for _, e := range s {
			r, err := floatSlice(name, e)
			if err != nil {
				return nil, err
			}
			rows = append(rows, r)
		}
	}
	return parcel.Pairs(name, rows)
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	var o []string
	for _, v := range s {
		if v = strings.TrimSpace(os.ExpandEnv(v)); v != "" {
			o = append(o, v)
		}
	}
	return o
}

// getStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func getStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	switch v := cfg.Get(varName).(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapString(v), nil
	case string:
		o := make(map[string]string)
		if strings.TrimSpace(v) == "" {
			return o, nil
		}
		if err := json.NewDecoder(bytes.NewBufferString(v)).Decode(&o); err != nil {
			return nil, &parcel.ConfigError{Field: varName, Reason: err.Error()}
		}
		return o, nil
	default:
		return nil, &parcel.ConfigError{Field: varName, Reason: fmt.Sprintf("invalid type %T", v)}
	}
}

// checkOutputFile makes sure that the output file is specified and its
// directory exists, and expand any environment variables.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", &parcel.ConfigError{Field: "OutputFile", Reason: `you need to specify an output file (for example: OutputFile="output.nc")`}
	}
	f = os.ExpandEnv(f)
	if _, err := parcel.NewSink(f); err != nil {
		return f, err
	}
	if cloud.IsBlob(f) {
		if _, err := cloud.OpenBucket(context.TODO(), f); err != nil {
			return f, fmt.Errorf("parcel: error when checking OutputFile location: %v", err)
		}
		return f, nil
	}
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("parcel: the OutputFile directory doesn't exist: %v", err)
	}
	return f, nil
}

// checkLogFile fills in a default value for the log file path if one isn't
// specified.
func checkLogFile(logFile, outputFile string) string {
	if logFile == "" {
		logFile = strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ".log"
	}
	return logFile
}
