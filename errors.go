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
	"errors"
	"fmt"
)

var (
	// ErrConfig is matched by every ConfigError.
	ErrConfig = errors.New("parcel: invalid configuration")

	// ErrMissingField is returned by a FieldProvider when the
	// requested field does not exist.
	ErrMissingField = errors.New("parcel: missing field")

	// ErrIncomplete is returned when finalizing a ParcelSet that
	// has unfilled steps.
	ErrIncomplete = errors.New("parcel: incomplete parcel set")

	// ErrFrozen is returned when writing to a finalized ParcelSet.
	ErrFrozen = errors.New("parcel: parcel set is finalized")

	// ErrInterrupted is returned when a run is cancelled between steps.
	ErrInterrupted = errors.New("parcel: integration interrupted")

	// ErrCompleted is returned when stepping an integrator that has
	// already finished.
	ErrCompleted = errors.New("parcel: integration already completed")
)

// ConfigError describes a problem with the setup of an integration.
// It is always detected before any stepping happens.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("parcel: configuration %s: %s", e.Field, e.Reason)
}

// Is allows ConfigErrors to be matched against ErrConfig.
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

func configErrorf(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
