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
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/parcel"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
)

// Run calculates the trajectories specified by rc and saves them to
// rc.OutputFile, along with a record of the run configuration. If ctx is
// cancelled or the process is interrupted, the steps finished so far
// are saved and an error wrapping parcel.ErrInterrupted is returned.
func Run(ctx context.Context, cmd *cobra.Command, rc *RunConfig) error {
	startTime := time.Now()

	var upload uploader
	defer upload.cleanup()
	outputFile := upload.maybeUpload(rc.OutputFile)
	logFile := upload.maybeUpload(rc.LogFile)
	recordFile := upload.maybeUpload(recordPath(rc.OutputFile))
	if upload.err != nil {
		return upload.err
	}

	log, logCloser, err := newLogger(cmd.OutOrStdout(), logFile, rc.LogLevel)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	dir, err := ioutil.TempDir("", "parcel")
	if err != nil {
		return fmt.Errorf("parcelutil: failed creating temporary download directory: %v", err)
	}
	defer os.RemoveAll(dir)

	local := *rc
	if local.Provider, err = downloadInputs(ctx, rc.Provider, dir, true, log); err != nil {
		return err
	}
	if rc.Seeds.File != "" {
		if local.Seeds.File, err = maybeDownload(ctx, rc.Seeds.File, dir); err != nil {
			return err
		}
	}

	p, err := local.Provider.provider(log)
	if err != nil {
		return err
	}
	g, err := p.Grid()
	if err != nil {
		return err
	}
	cfg, err := local.integratorConfig(g)
	if err != nil {
		return err
	}
	it, err := parcel.NewIntegrator(cfg, p, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	ps, runErr := it.Run(ctx)
	if runErr != nil && !errors.Is(runErr, parcel.ErrInterrupted) {
		return runErr
	}
	if runErr != nil {
		log.WithField("steps", ps.StepsCompleted()).Warn("parcelutil: saving partial trajectories")
	}

	sink, err := parcel.NewSink(outputFile)
	if err != nil {
		return err
	}
	if err := sink.Save(context.Background(), ps); err != nil {
		return err
	}
	if err := writeRunRecord(recordFile, rc); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"output":   rc.OutputFile,
		"parcels":  ps.NumParcels(),
		"duration": time.Since(startTime).String(),
	}).Info("parcelutil: saved trajectories")

	if err := upload.uploadOutput(context.Background()); err != nil {
		return err
	}
	return runErr
}

// recordPath returns the location of the run configuration record
// that accompanies outputFile.
func recordPath(outputFile string) string {
	return strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + "_run.toml"
}

// writeRunRecord writes rc to path in TOML format.
func writeRunRecord(path string, rc *RunConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("parcelutil: creating run record: %v", err)
	}
	if err := toml.NewEncoder(f).Encode(rc); err != nil {
		f.Close()
		return fmt.Errorf("parcelutil: writing run record: %v", err)
	}
	return f.Close()
}

// Info prints a description of the model output specified by pc.
func Info(ctx context.Context, cmd *cobra.Command, pc ProviderConfig, logLevel string) error {
	log, _, err := newLogger(cmd.OutOrStderr(), "", logLevel)
	if err != nil {
		return err
	}
	dir, err := ioutil.TempDir("", "parcel")
	if err != nil {
		return fmt.Errorf("parcelutil: failed creating temporary download directory: %v", err)
	}
	defer os.RemoveAll(dir)

	files := pc.ncfConfig().Files()
	if pc, err = downloadInputs(ctx, pc, dir, false, log); err != nil {
		return err
	}
	p, err := pc.provider(log)
	if err != nil {
		return err
	}
	g, err := p.Grid()
	if err != nil {
		return err
	}
	cmd.Printf("Grid: %d x %d x %d (x, y, z)\n", g.Nx, g.Ny, g.Nz)
	cmd.Printf("Horizontal spacing: %g m\n", g.Dx)
	cmd.Printf("Times: %d from %s every %g s\n", g.NumTimes, pc.StartDate.Format(time.RFC3339), g.Dt)
	zh, err := p.LevelHeight()
	if err != nil {
		return err
	}
	layer := g.Nx * g.Ny
	cmd.Printf("Lowest level height: %g to %g m\n", floats.Min(zh.Elements[:layer]), floats.Max(zh.Elements[:layer]))
	if zs, err := p.SurfaceHeight(); err == nil {
		cmd.Printf("Terrain height: %g to %g m\n", floats.Min(zs.Elements), floats.Max(zs.Elements))
	} else if errors.Is(err, parcel.ErrMissingField) {
		cmd.Println("Terrain height: none (flat)")
	} else {
		return err
	}
	if len(pc.Expressions) > 0 {
		cmd.Printf("Derived fields: %d\n", len(pc.Expressions))
	}
	cmd.Printf("Files: %d\n", len(files))
	for _, f := range files {
		cmd.Println("  " + f)
	}
	return nil
}
