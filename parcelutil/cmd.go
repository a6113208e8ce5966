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
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/parcel"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to Parcel.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Provider.Type",
			usage: `
              Provider.Type specifies the kind of model output to read.
              'netcdf' reads files with level heights (zh) and terrain (zs),
              for example from CM1. 'wrf' reads WRF output, where level
              heights are calculated from geopotential. WRF output is
              always staggered.`,
			defaultVal: "netcdf",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), infoCmd.Flags()},
		},
		{
			name: "Provider.FileTemplate",
			usage: `
              Provider.FileTemplate is the path to the model output files.
              [DATE] is replaced by the date of the first record in each file.
              It can be a local path or a blob storage location (gs://, s3://,
              or file://), in which case [DATE] must be in the file name.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), infoCmd.Flags()},
		},
		{
			name: "Provider.DateFormat",
			usage: `
              Provider.DateFormat is the Go time format of the dates in the file names.`,
			defaultVal: "2006-01-02_15_04_05",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), infoCmd.Flags()},
		},
		{
			name: "Provider.StartDate",
			usage: `
              Provider.StartDate is the date of time index 0, in the format
              '2006-01-02' or '2006-01-02T15:04:05Z07:00'.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), infoCmd.Flags()},
		},
		{
			name: "Provider.EndDate",
			usage: `
              Provider.EndDate is the (exclusive) end of the model output.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), infoCmd.Flags()},
		},
		{
			name: "Provider.RecordDelta",
			usage: `
              Provider.RecordDelta is the time between records, for example '5m'.
              It is also the integration time step.`,
			defaultVal: "1h",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), infoCmd.Flags()},
		},
		{
			name: "Provider.FileDelta",
			usage: `
              Provider.FileDelta is the time between files. If empty, each file
              holds one record.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), infoCmd.Flags()},
		},
		{
			name: "Provider.Dx",
			usage: `
              Provider.Dx is the horizontal grid spacing in meters. If zero,
              it is read from the DX global attribute.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), infoCmd.Flags()},
		},
		{
			name: "Provider.U",
			usage: `
              Provider.U is the name of the x-direction wind variable.`,
			defaultVal: "U",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Provider.V",
			usage: `
              Provider.V is the name of the y-direction wind variable.`,
			defaultVal: "V",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Provider.W",
			usage: `
              Provider.W is the name of the vertical wind variable.`,
			defaultVal: "W",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Provider.LevelHeight",
			usage: `
              Provider.LevelHeight is the name of the level height variable.
              The default is 'zh'. It is not used for WRF output.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), infoCmd.Flags()},
		},
		{
			name: "Provider.SurfaceHeight",
			usage: `
              Provider.SurfaceHeight is the name of the terrain height variable.
              The default is 'zs', or 'HGT' for WRF output. If the variable
              is missing, the terrain is assumed to be flat.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), infoCmd.Flags()},
		},
		{
			name: "Provider.Expressions",
			usage: `
              Provider.Expressions specifies additional fields that are
              calculated from the fields in the model output, for example
              {"theta": "T * (100000 / P) ** 0.286"}.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), infoCmd.Flags()},
		},
		{
			name: "Provider.CacheSize",
			usage: `
              Provider.CacheSize is the number of fields to keep in memory
              after they are read. Zero disables the cache.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Seeds.Vertical",
			usage: `
              Seeds.Vertical is a list of vertical grid positions to start parcels at.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Seeds.Horizontal",
			usage: `
              Seeds.Horizontal is a list of horizontal (x, y) grid positions to
              start parcels at, separated by semicolons, for example '10 10; 12.5 3'.
              A parcel is started at every combination of vertical and
              horizontal seed.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Seeds.File",
			usage: `
              Seeds.File is the path to a YAML file with additional seeds. It can
              contain 'vertical' and 'horizontal' grid positions and 'coordinates'
              in a spatial reference, which are converted to grid positions.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Seeds.NumVertical",
			usage: `
              Seeds.NumVertical, if not zero, is the expected number of vertical seeds.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Seeds.NumHorizontal",
			usage: `
              Seeds.NumHorizontal, if not zero, is the expected number of horizontal seeds.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Seeds.Proj",
			usage: `
              Seeds.Proj is the spatial reference of the seed file coordinates in
              Proj4 or WKT format, if the seed file does not give one. If both are
              empty, the coordinates are in the grid spatial reference.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Seeds.GridProj",
			usage: `
              Seeds.GridProj is the spatial reference of the model grid in Proj4
              or WKT format.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Seeds.X0",
			usage: `
              Seeds.X0 is the x coordinate of the lower-left corner of the grid
              in the grid spatial reference.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Seeds.Y0",
			usage: `
              Seeds.Y0 is the y coordinate of the lower-left corner of the grid
              in the grid spatial reference.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "NumSteps",
			usage: `
              NumSteps is the number of steps to record, including the starting
              positions.`,
			shorthand:  "n",
			defaultVal: 10,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "StartTimeIndex",
			usage: `
              StartTimeIndex is the time index that parcels start at.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Direction",
			usage: `
              Direction is the direction of integration in time: 'backward' or 'forward'.`,
			shorthand:  "d",
			defaultVal: "backward",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Staggered",
			usage: `
              Staggered specifies that the velocities are on a staggered grid
              and that positions are measured from cell edges.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "TrackedFields",
			usage: `
              TrackedFields is a list of fields to sample along the trajectories.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path to the desired output file location. The
              format is chosen by the extension: '.nc' for NetCDF, '.csv' for CSV,
              or '.zst' for a compressed archive. It can include environment
              variables and can be a blob storage location.`,
			shorthand:  "o",
			defaultVal: "parcel_output.nc",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile is the path to the desired logfile location. It can include
              environment variables. If LogFile is left blank, the logfile will be saved in
              the same location as the OutputFile.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the least severe level of log messages to record:
              'debug', 'info', 'warning', or 'error'.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), infoCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("PARCEL")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
			case int:
				set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				set.StringP(option.name, option.shorthand, strings.TrimSpace(b.String()), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}

	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(infoCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("parcel: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "parcel",
	Short: "Lagrangian parcel trajectories from gridded model output.",
	Long: `Parcel calculates the trajectories of air parcels through the wind fields
of atmospheric model output on terrain-following grids, and records scalar
fields along the way. Use the subcommands specified below to access the
functionality.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'PARCEL_var' where 'var' is the
name of the variable to be set, with '.' replaced by '_'. Many configuration
variables are additionally allowed to contain environment variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of Parcel.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("Parcel v%s\n", parcel.Version)
	},
	DisableAutoGenTag: true,
}

// runCmd integrates parcel trajectories.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Calculate trajectories.",
	Long: `run starts parcels at every combination of the configured vertical and
horizontal seeds, follows them forward or backward in time, and saves their
trajectories and tracked fields to OutputFile. If the run is interrupted,
the steps finished so far are saved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := runConfig(Cfg)
		if err != nil {
			return err
		}
		return Run(context.Background(), cmd, rc)
	},
	DisableAutoGenTag: true,
}

// infoCmd prints information about the model output.
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the model output.",
	Long: `info prints the grid dimensions, time coverage, and input files of the
configured model output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := providerConfig(Cfg)
		if err != nil {
			return err
		}
		return Info(context.Background(), cmd, pc, Cfg.GetString("LogLevel"))
	},
	DisableAutoGenTag: true,
}
