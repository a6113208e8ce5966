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

// Package cloud moves model input and output files to and from
// blob storage.
package cloud

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// opener opens the named bucket of one storage provider.
type opener func(ctx context.Context, bucket string) (*blob.Bucket, error)

// providers maps URL schemes to storage providers. "file" buckets are
// directories on the local filesystem, relative to the working directory.
var providers = map[string]opener{
	"file": func(_ context.Context, dir string) (*blob.Bucket, error) { return fileblob.OpenBucket(dir, nil) },
	"gs":   openGCS,
	"s3":   openS3,
}

// location is a parsed 'provider://bucket/key' path.
type location struct {
	scheme, bucket, key string
}

func parseLocation(path string) (location, error) {
	u, err := url.Parse(path)
	if err != nil {
		return location{}, fmt.Errorf("cloud: parsing '%s': %v", path, err)
	}
	if _, ok := providers[u.Scheme]; !ok {
		return location{}, fmt.Errorf("cloud: '%s' has unsupported storage provider '%s'", path, u.Scheme)
	}
	return location{scheme: u.Scheme, bucket: u.Hostname(), key: strings.TrimPrefix(u.Path, "/")}, nil
}

func (l location) open(ctx context.Context) (*blob.Bucket, error) {
	b, err := providers[l.scheme](ctx, l.bucket)
	if err != nil {
		return nil, fmt.Errorf("cloud: opening %s bucket '%s': %v", l.scheme, l.bucket, err)
	}
	return b, nil
}

// IsBlob returns whether path names a location in blob storage
// ('gs://', 's3://', or 'file://') rather than a local file.
func IsBlob(path string) bool {
	i := strings.Index(path, "://")
	if i <= 0 {
		return false
	}
	_, ok := providers[path[:i]]
	return ok
}

// OpenBucket opens the bucket that path is in. path has the form
// 'provider://bucket/key', and the key is ignored.
func OpenBucket(ctx context.Context, path string) (*blob.Bucket, error) {
	l, err := parseLocation(path)
	if err != nil {
		return nil, err
	}
	return l.open(ctx)
}

// openGCS uses the application default credentials; see
// https://cloud.google.com/docs/authentication/getting-started.
func openGCS(ctx context.Context, bucket string) (*blob.Bucket, error) {
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, err
	}
	client, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, client, bucket, nil)
}

// openS3 reads AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY from the
// environment. The region is AWS_REGION, or us-east-2 if that is unset.
func openS3(ctx context.Context, bucket string) (*blob.Bucket, error) {
	region, ok := os.LookupEnv("AWS_REGION")
	if !ok || region == "" {
		region = "us-east-2"
	}
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	})
	if err != nil {
		return nil, err
	}
	return s3blob.OpenBucket(ctx, sess, bucket, nil)
}
