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
	"fmt"

	"github.com/ctessum/sparse"
	lru "github.com/hashicorp/golang-lru/v2"
)

type fieldKey struct {
	timeIndex int
	name      string
}

// CachedProvider keeps recently read fields in memory so that
// repeated runs over the same time indices do not read them again.
type CachedProvider struct {
	FieldProvider
	cache *lru.Cache[fieldKey, *sparse.DenseArray]
}

// NewCachedProvider wraps p with a cache holding up to size fields.
func NewCachedProvider(p FieldProvider, size int) (*CachedProvider, error) {
	c, err := lru.New[fieldKey, *sparse.DenseArray](size)
	if err != nil {
		return nil, fmt.Errorf("parcel: creating field cache: %v", err)
	}
	return &CachedProvider{FieldProvider: p, cache: c}, nil
}

// Field implements FieldProvider.
func (c *CachedProvider) Field(ctx context.Context, timeIndex int, name string) (*sparse.DenseArray, error) {
	k := fieldKey{timeIndex: timeIndex, name: name}
	if d, ok := c.cache.Get(k); ok {
		return d, nil
	}
	d, err := c.FieldProvider.Field(ctx, timeIndex, name)
	if err != nil {
		return nil, err
	}
	c.cache.Add(k, d)
	return d, nil
}

// Len returns the number of cached fields.
func (c *CachedProvider) Len() int { return c.cache.Len() }
