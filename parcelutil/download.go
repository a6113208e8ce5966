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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/parcel"
	"github.com/spatialmodel/parcel/cloud"
)

// maybeDownload checks if the input is an existing file locally.
// If not, and the path is a URL or blob storage location, it downloads
// the file into dir and returns the path to the downloaded file.
func maybeDownload(ctx context.Context, p, dir string) (string, error) {
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	switch {
	case isHTTP(p):
		return downloadHTTP(ctx, p, dir)
	case cloud.IsBlob(p):
		return cloud.Download(ctx, p, dir)
	}
	return p, nil
}

func isHTTP(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

// downloadHTTP downloads a file from the specified URL into dir and
// returns the path to the downloaded file.
func downloadHTTP(ctx context.Context, p, dir string) (string, error) {
	u, err := url.Parse(p)
	if err != nil {
		return "", fmt.Errorf("parcelutil: parsing url '%s': %v", p, err)
	}
	req, err := http.NewRequest("GET", p, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("parcelutil: downloading %s: %v", p, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("parcelutil: downloading %s: %s", p, resp.Status)
	}
	dst := filepath.Join(dir, path.Base(u.Path))
	w, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("parcelutil: failed creating file for download: %v", err)
	}
	if _, err = io.Copy(w, resp.Body); err != nil {
		w.Close()
		return "", fmt.Errorf("parcelutil: downloading %s: %v", p, err)
	}
	return dst, w.Close()
}

// downloadInputs downloads remote model output into dir and returns a
// configuration that reads the local copies. If all is false, only the
// first file is downloaded.
func downloadInputs(ctx context.Context, p ProviderConfig, dir string, all bool, log logrus.FieldLogger) (ProviderConfig, error) {
	if !isHTTP(p.FileTemplate) && !cloud.IsBlob(p.FileTemplate) {
		return p, nil
	}
	if strings.Contains(path.Dir(p.FileTemplate), "[DATE]") {
		return p, &parcel.ConfigError{Field: "Provider.FileTemplate",
			Reason: "[DATE] must be in the file name of remote files"}
	}
	files := p.ncfConfig().Files()
	if !all && len(files) > 1 {
		files = files[:1]
	}
	for _, f := range files {
		local, err := maybeDownload(ctx, f, dir)
		if err != nil {
			return p, err
		}
		log.WithFields(logrus.Fields{"file": f, "local": local}).Debug("parcelutil: downloaded input")
	}
	log.WithField("files", len(files)).Info("parcelutil: downloaded model output")
	p.FileTemplate = filepath.Join(dir, path.Base(p.FileTemplate))
	return p, nil
}
