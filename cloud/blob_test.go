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

package cloud

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestIsBlob(t *testing.T) {
	for path, want := range map[string]bool{
		"gs://bucket/file.nc": true,
		"s3://bucket/file.nc": true,
		"file://bucket/x.nc":  true,
		"/tmp/file.nc":        false,
		"http://example.com":  false,
	} {
		if got := IsBlob(path); got != want {
			t.Errorf("IsBlob(%q) = %v; want %v", path, got, want)
		}
	}
}

func TestOpenBucketInvalid(t *testing.T) {
	if _, err := OpenBucket(context.Background(), "ftp://bucket"); err == nil {
		t.Fatal("expected an error for an invalid provider")
	}
}

func TestParseLocation(t *testing.T) {
	l, err := parseLocation("s3://my-bucket/runs/a/out.nc")
	if err != nil {
		t.Fatal(err)
	}
	if want := (location{scheme: "s3", bucket: "my-bucket", key: "runs/a/out.nc"}); l != want {
		t.Errorf("got %+v, want %+v", l, want)
	}
	if _, err := parseLocation("/tmp/out.nc"); err == nil {
		t.Error("expected an error for a local path")
	}
}

func TestUploadDownload(t *testing.T) {
	const bucketDir = "testbucket"
	if err := os.MkdirAll(bucketDir, 0755); err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(bucketDir)

	dir := t.TempDir()
	src := filepath.Join(dir, "out.csv")
	want := []byte("step,zseed\n0,0\n")
	if err := ioutil.WriteFile(src, want, 0644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := Upload(ctx, src, "file://"+bucketDir+"/run1/out.csv"); err != nil {
		t.Fatal(err)
	}
	downDir := t.TempDir()
	local, err := Download(ctx, "file://"+bucketDir+"/run1/out.csv", downDir)
	if err != nil {
		t.Fatal(err)
	}
	if local != filepath.Join(downDir, "out.csv") {
		t.Errorf("downloaded to %s", local)
	}
	got, err := ioutil.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Errorf("got %q; want %q", got, want)
	}
}
