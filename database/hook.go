/*
 * Copyright 2026 the Colibri Authors.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/uptrace/bun"
)

const (
	ansiReset   = "\x1b[0m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var sqlLogSilent bool

// SetSQLLogSilent suppresses all query hook output, mainly for tests.
func SetSQLLogSilent(b bool) {
	sqlLogSilent = b
}

func colorWrap(s, code string) string { return fmt.Sprintf("%s%s%s", code, s, ansiReset) }

// QueryHook prints executed statements with per-operation coloring. The
// SQL_LOG environment variable overrides the configured state at runtime:
// empty or "0" disables, any other value enables, "2" also logs successful
// statements instead of errors only.
type QueryHook struct {
	envName string
	enabled bool
	verbose bool
	writer  io.Writer
}

var _ bun.QueryHook = (*QueryHook)(nil)

type QueryHookOption func(*QueryHook)

// WithQueryLogEnabled sets the default enabled state.
func WithQueryLogEnabled(enabled bool) QueryHookOption {
	return func(h *QueryHook) { h.enabled = enabled }
}

// WithQueryLogVerbose logs successful statements as well as failures.
func WithQueryLogVerbose(verbose bool) QueryHookOption {
	return func(h *QueryHook) { h.verbose = verbose }
}

// WithQueryLogEnv overrides the environment variable consulted per query.
func WithQueryLogEnv(name string) QueryHookOption {
	return func(h *QueryHook) { h.envName = name }
}

// WithQueryLogWriter redirects hook output, mainly for tests.
func WithQueryLogWriter(w io.Writer) QueryHookOption {
	return func(h *QueryHook) { h.writer = w }
}

func NewQueryHook(opts ...QueryHookOption) *QueryHook {
	h := &QueryHook{
		envName: "SQL_LOG",
		writer:  os.Stdout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *QueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if sqlLogSilent {
		return
	}
	enabled := h.enabled
	verbose := h.verbose
	if env, ok := os.LookupEnv(h.envName); ok {
		enabled = env != "" && env != "0"
		verbose = env == "2"
	}

	if !enabled {
		return
	}

	if !verbose {
		switch {
		case event.Err == nil, errors.Is(event.Err, sql.ErrNoRows), errors.Is(event.Err, sql.ErrTxDone):
			return
		}
	}

	now := time.Now()
	dur := now.Sub(event.StartTime)

	args := []interface{}{
		now.Format("2006-01-02 15:04:05.000"),
		colorWrap(fmt.Sprintf("%9s", "[SQL]"), ansiCyan),
		fmt.Sprintf("%17s", dur.Round(time.Microsecond)),
		"  ", formatOperationColor(event),
	}

	if event.Err != nil {
		typ := reflect.TypeOf(event.Err).String()
		args = append(args,
			"\t",
			color.New(color.BgRed).Sprintf(" %s ", typ+": "+event.Err.Error()),
		)
	}
	_, _ = fmt.Fprintln(h.writer, args...)
}

func formatOperationColor(event *bun.QueryEvent) string {
	operation := event.Operation()
	switch operation {
	case "SELECT":
		return colorWrap(event.Query, ansiGreen)
	case "INSERT":
		return colorWrap(event.Query, ansiBlue)
	case "UPDATE":
		return colorWrap(event.Query, ansiYellow)
	case "DELETE":
		return colorWrap(event.Query, ansiMagenta)
	default:
		return colorWrap(event.Query, ansiRed)
	}
}

// SlowQueryHook warns through the package logger when a successful
// statement exceeds the configured threshold. The SQL_SLOW_LOG environment
// variable ("1" enables, anything else disables) overrides the default.
type SlowQueryHook struct {
	envName  string
	slowTime time.Duration
	logger   Logger
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

func NewSlowQueryHook(slowTime time.Duration, logger Logger) *SlowQueryHook {
	return &SlowQueryHook{
		envName:  "SQL_SLOW_LOG",
		slowTime: slowTime,
		logger:   logger,
	}
}

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if sqlLogSilent {
		return
	}
	if event.Err != nil {
		return
	}

	enabled := true
	if env, ok := os.LookupEnv(h.envName); ok {
		enabled = strings.TrimSpace(env) == "1"
	}
	if !enabled {
		return
	}

	duration := time.Since(event.StartTime)
	if duration > h.slowTime && h.logger != nil {
		h.logger.Warn("\x1b[33;5mDatabase slow query detected:⚠️\x1b[0m",
			"duration", duration,
			"slow_threshold", h.slowTime,
			"query", event.Query,
		)
	}
}
