// Copyright (c) 2022 The reqagent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

// Package logging wraps logrus with the lazy, fallback-to-stdout style used
// throughout the teacher codebase: library code never requires a caller to
// configure logging before it can run.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
)

var logObj *logrus.Logger

// Option configures the package-level logger.
type Option func(*options)

type options struct {
	path       string
	expireDays int
	level      logrus.Level
}

// WithPath sets the file path rotated logs are written to: one file per day
// named path.YYYYMMDD, with path itself linked to the current one. If
// empty, logs go to stderr only.
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// WithExpireDay sets how many days of rotated logs to retain.
func WithExpireDay(days int) Option {
	return func(o *options) { o.expireDays = days }
}

// WithLevel sets the minimum level logged.
func WithLevel(level logrus.Level) Option {
	return func(o *options) { o.level = level }
}

// Init initializes the package-level logger. Safe to call more than once;
// the last call wins. Never required: callers that skip it get fmt.Print
// fallbacks instead of a panic or a dropped log line.
func Init(opts ...Option) error {
	o := &options{level: logrus.InfoLevel}
	for _, opt := range opts {
		opt(o)
	}

	logger := logrus.New()
	logger.SetLevel(o.level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var out io.Writer = os.Stderr
	if o.path != "" {
		writer, err := rotatelogs.New(
			o.path+".%Y%m%d",
			rotatelogs.WithLinkName(o.path),
			rotatelogs.WithMaxAge(time.Duration(o.expireDays)*24*time.Hour),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			return err
		}
		out = io.MultiWriter(os.Stderr, writer)
	}
	logger.SetOutput(out)

	logObj = logger
	return nil
}

func Debugf(format string, v ...interface{}) {
	if logObj == nil {
		fmt.Printf("[DEBUG] "+format+"\n", v...)
		return
	}
	if logObj.IsLevelEnabled(logrus.DebugLevel) {
		logObj.Debugf(format, v...)
	}
}

// Debugfunc delays string concatenation until it is known the message will
// actually be logged, avoiding the cost at higher log levels.
func Debugfunc(f func() string) {
	if logObj == nil {
		return
	}
	if logObj.IsLevelEnabled(logrus.DebugLevel) {
		logObj.Debug(f())
	}
}

func Infof(format string, v ...interface{}) {
	if logObj == nil {
		fmt.Printf("[INFO] "+format+"\n", v...)
		return
	}
	if logObj.IsLevelEnabled(logrus.InfoLevel) {
		logObj.Infof(format, v...)
	}
}

func Warnf(format string, v ...interface{}) {
	if logObj == nil {
		fmt.Printf("[WARN] "+format+"\n", v...)
		return
	}
	if logObj.IsLevelEnabled(logrus.WarnLevel) {
		logObj.Warnf(format, v...)
	}
}

func Errorf(format string, v ...interface{}) {
	if logObj == nil {
		fmt.Printf("[ERROR] "+format+"\n", v...)
		return
	}
	if logObj.IsLevelEnabled(logrus.ErrorLevel) {
		logObj.Errorf(format, v...)
	}
}
