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
	"io"
	"io/ioutil"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/parcel"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger returns a logger that writes to stdout and, if logFile is
// not empty, to a rotating log file. The returned Closer closes the
// log file.
func newLogger(stdout io.Writer, logFile, level string) (*logrus.Logger, io.Closer, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, &parcel.ConfigError{Field: "LogLevel", Reason: err.Error()}
	}
	var closer io.Closer = ioutil.NopCloser(nil)
	w := stdout
	if logFile != "" {
		lj := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // MB
			MaxBackups: 3,
		}
		w = io.MultiWriter(stdout, lj)
		closer = lj
	}
	l := logrus.New()
	l.Out = w
	l.Level = lvl
	l.Formatter = &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}
	return l, closer, nil
}
