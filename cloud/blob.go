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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
)

// MaxRetryTime is the longest that a transfer will be retried.
var MaxRetryTime = 5 * time.Minute

// Upload copies local file src to blob storage location dst,
// retrying with exponential backoff if the transfer fails.
func Upload(ctx context.Context, src, dst string) error {
	l, err := parseLocation(dst)
	if err != nil {
		return err
	}
	bucket, err := l.open(ctx)
	if err != nil {
		return err
	}
	return retry(func() error { return upload(ctx, bucket, src, l.key) })
}

func upload(ctx context.Context, bucket *blob.Bucket, src, key string) error {
	r, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("cloud: opening file '%s' for upload: %v", src, err)
	}
	defer r.Close()
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{})
	if err != nil {
		return fmt.Errorf("cloud: creating writer for blob %s: %v", key, err)
	}
	if _, err = io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("cloud: copying blob %s: %v", key, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("cloud: writing blob %s: %v", key, err)
	}
	return nil
}

// Download copies blob storage location src into directory dir and
// returns the path of the local copy.
func Download(ctx context.Context, src, dir string) (string, error) {
	l, err := parseLocation(src)
	if err != nil {
		return "", err
	}
	bucket, err := l.open(ctx)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(l.key))
	err = retry(func() error { return download(ctx, bucket, l.key, dst) })
	return dst, err
}

func download(ctx context.Context, bucket *blob.Bucket, key, dst string) error {
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("cloud: reading blob key %s: %v", key, err)
	}
	defer r.Close()
	w, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("cloud: creating file for download: %v", err)
	}
	if _, err = io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("cloud: downloading blob key %s: %v", key, err)
	}
	return w.Close()
}

func retry(f func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = MaxRetryTime
	return backoff.RetryNotify(f, b, func(err error, d time.Duration) {
		logrus.WithField("retryIn", d).Warn(err)
	})
}
