// Copyright 2018-2024 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package logger builds the root zerolog logger for the daemon.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Mode changes the logging format.
type Mode string

const (
	// ConsoleMode prints the logs in human readable format.
	ConsoleMode Mode = "console"
	// JSONMode prints the logs in structured json format.
	JSONMode Mode = "json"
)

// Option defines a single option function.
type Option func(o *Options)

// Options defines the available options for this package.
type Options struct {
	Level  string
	Writer io.Writer
	Mode   Mode
}

func newOptions(opts ...Option) Options {
	opt := Options{
		Level:  zerolog.InfoLevel.String(),
		Writer: os.Stderr,
		Mode:   ConsoleMode,
	}
	for _, o := range opts {
		o(&opt)
	}
	return opt
}

// WithLevel sets the log level. Unknown levels fall back to info.
func WithLevel(level string) Option {
	return func(o *Options) {
		o.Level = level
	}
}

// WithWriter sets the log output and mode.
func WithWriter(w io.Writer, m Mode) Option {
	return func(o *Options) {
		o.Writer = w
		o.Mode = m
	}
}

// New returns a new logger built from the given options.
func New(opts ...Option) *zerolog.Logger {
	o := newOptions(opts...)

	// The config file uses python-style level names.
	switch o.Level {
	case "warning":
		o.Level = "warn"
	case "critical":
		o.Level = "fatal"
	}

	lvl, err := zerolog.ParseLevel(o.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	w := o.Writer
	if o.Mode == ConsoleMode {
		w = zerolog.ConsoleWriter{Out: o.Writer}
	}

	zl := zerolog.New(w).With().Timestamp().Logger().Level(lvl)
	return &zl
}
