// Copyright 2017 Google Inc.
// Copyright 2020 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging sets up structured logging in a uniform way.
package logging

import (
	"os"
	"strings"

	"github.com/go-kit/kit/log"
)

// Provided by ldflags during build.
var (
	release string
	commit  string
	branch  string
)

// Init returns a JSON logger to stdout that adds each line's source code
// location, with the retry-noise filter installed. It adds no timestamp.
func Init() log.Logger {
	l := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	l = &filterLogger{downstream: l}

	logger := log.With(l, "caller", log.DefaultCaller)
	logger.Log("release", release, "commit", commit, "git-branch", branch, "msg", "starting")

	return logger
}

type filterLogger struct {
	downstream log.Logger
}

// Log implements the go-kit Logger interface. It drops any line whose
// msg value contains "retrying after EtagConflict" and passes every other
// line through. The engine's own retry loops log nothing.
func (l *filterLogger) Log(keyvals ...interface{}) error {
	for i, arg := range keyvals {
		str, ok := arg.(string)
		if !ok || str != "msg" {
			continue
		}
		if i+1 >= len(keyvals) {
			break
		}
		message, ok := keyvals[i+1].(string)
		if ok && strings.Contains(message, "retrying after EtagConflict") {
			return nil
		}
	}
	return l.downstream.Log(keyvals...)
}
