// Copyright 2023 Kami
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

package reactor

import "go.uber.org/zap/zapcore"

// Options configures a Server. Use the With* functions with New rather
// than constructing Options directly — the zero value is not meant to be
// assembled by hand, matching the functional-options style the rest of
// the pack (govoltron's adapter construction, nabbar-golib's config
// builders) uses instead of large constructor parameter lists.
type Options struct {
	BindAddr  string
	ThreadNum int

	InactiveReleaseEnabled bool
	InactiveReleaseSeconds int

	LogLevel      zapcore.Level
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

// Option mutates Options during construction.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		BindAddr:      "0.0.0.0",
		ThreadNum:     0,
		LogLevel:      zapcore.InfoLevel,
		LogMaxSizeMB:  100,
		LogMaxBackups: 3,
		LogMaxAgeDays: 28,
	}
}

// WithBindAddr sets the IPv4 address the listening socket binds to.
// Defaults to 0.0.0.0.
func WithBindAddr(addr string) Option {
	return func(o *Options) { o.BindAddr = addr }
}

// WithThreadNum sets the number of worker loops. Zero (the default) means
// every connection is handled on the base loop alongside the acceptor.
func WithThreadNum(n int) Option {
	return func(o *Options) { o.ThreadNum = n }
}

// WithInactiveRelease enables sliding-window idle timeout: a connection
// with no dispatched event for seconds is released.
func WithInactiveRelease(seconds int) Option {
	return func(o *Options) {
		o.InactiveReleaseEnabled = true
		o.InactiveReleaseSeconds = seconds
	}
}

// WithLogLevel sets the minimum level the Server's own logger emits.
func WithLogLevel(level zapcore.Level) Option {
	return func(o *Options) { o.LogLevel = level }
}

// WithLogFile adds a rotating file sink (via lumberjack) alongside
// stderr. maxSizeMB/maxBackups/maxAgeDays/compress follow lumberjack's own
// semantics; zero values fall back to defaultOptions' values.
func WithLogFile(path string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) Option {
	return func(o *Options) {
		o.LogFile = path
		if maxSizeMB > 0 {
			o.LogMaxSizeMB = maxSizeMB
		}
		if maxBackups > 0 {
			o.LogMaxBackups = maxBackups
		}
		if maxAgeDays > 0 {
			o.LogMaxAgeDays = maxAgeDays
		}
		o.LogCompress = compress
	}
}
