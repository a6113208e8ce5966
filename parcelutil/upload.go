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
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/spatialmodel/parcel/cloud"
)

type uploader struct {
	// files is a set of file path pairs. The first of each pair
	// is a local file path and the second is a blob storage
	// path where it should be uploaded to.
	files [][2]string
	err   error
	dir   string
}

// uploadOutput copies every registered file to blob storage.
func (u *uploader) uploadOutput(ctx context.Context) error {
	if u.err != nil {
		return u.err
	}
	for _, files := range u.files {
		if err := cloud.Upload(ctx, files[0], files[1]); err != nil {
			return err
		}
	}
	return nil
}

// maybeUpload checks whether the given output file path refers to
// a blob storage location. If it does, then a temporary file location
// is returned. The file will then be uploaded to blob storage when
// uploadOutput method is run.
func (u *uploader) maybeUpload(path string) string {
	if u.err != nil {
		return ""
	}
	if !cloud.IsBlob(path) {
		return path
	}
	if u.dir == "" {
		u.dir, u.err = ioutil.TempDir("", "parcel")
		if u.err != nil {
			return ""
		}
	}
	local := filepath.Join(u.dir, filepath.Base(path))
	u.files = append(u.files, [2]string{local, path})
	return local
}

// cleanup removes the temporary files.
func (u *uploader) cleanup() {
	if u.dir != "" {
		os.RemoveAll(u.dir)
	}
}
