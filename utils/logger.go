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

// Package utils provides shared helpers for the colibri modules, most
// notably the named logger factory used by the database layer.
package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is re-exported so callers do not need to import logrus directly.
type Logger = logrus.Logger

var (
	loggerRegistryMu sync.RWMutex
	loggerRegistry   = map[string]*logrus.Logger{}

	defaultLevel  = ParseLogLevel(EnvDefaultString("LOG_LEVEL", "info"))
	defaultFormat = strings.ToLower(EnvDefaultString("LOG_FORMAT", "text"))
)

// ParseLogLevel maps a level name to a logrus level. Unknown or empty
// strings fall back to info.
func ParseLogLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// NewLogger returns a registered logger writing to stdout. The level is
// taken from LOG_LEVEL_<NAME> when set, otherwise from LOG_LEVEL, and the
// output format from LOG_FORMAT (text or json).
func NewLogger(name string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(loggerLevel(name))
	if defaultFormat == "json" {
		l.SetFormatter(&JSONLogFormatter{LoggerName: name})
	} else {
		l.SetFormatter(&NamedTextFormatter{LoggerName: name, NameWidth: 10})
	}
	RegisterLogger(name, l)
	return l
}

func loggerLevel(name string) logrus.Level {
	if v := os.Getenv("LOG_LEVEL_" + envKey(name)); v != "" {
		return ParseLogLevel(v)
	}
	return defaultLevel
}

func envKey(name string) string {
	b := []byte(strings.ToUpper(name))
	for i, c := range b {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			b[i] = '_'
		}
	}
	return string(b)
}

// RegisterLogger makes a logger addressable by SetLoggerLevel.
func RegisterLogger(name string, l *logrus.Logger) {
	loggerRegistryMu.Lock()
	defer loggerRegistryMu.Unlock()
	loggerRegistry[name] = l
}

// GetLogger returns the registered logger for name, or nil.
func GetLogger(name string) *logrus.Logger {
	loggerRegistryMu.RLock()
	defer loggerRegistryMu.RUnlock()
	return loggerRegistry[name]
}

// SetAllLoggersLevel applies lvl to every registered logger and makes it
// the default for loggers created afterwards.
func SetAllLoggersLevel(lvl logrus.Level) {
	loggerRegistryMu.Lock()
	defaultLevel = lvl
	for _, lg := range loggerRegistry {
		lg.SetLevel(lvl)
	}
	loggerRegistryMu.Unlock()
}

// SetLoggerLevel adjusts a single registered logger. It reports whether a
// logger with that name exists.
func SetLoggerLevel(name, lvlStr string) bool {
	loggerRegistryMu.RLock()
	lg, ok := loggerRegistry[name]
	loggerRegistryMu.RUnlock()
	if !ok {
		return false
	}
	lg.SetLevel(ParseLogLevel(lvlStr))
	return true
}

// NamedTextFormatter renders "2006-01-02 15:04:05.000 LEVEL name : msg"
// with the level colored and structured fields appended as k=v pairs.
type NamedTextFormatter struct {
	LoggerName      string
	TimestampFormat string
	NameWidth       int
	DisableColors   bool
}

func (f *NamedTextFormatter) tsFormat() string {
	if f.TimestampFormat != "" {
		return f.TimestampFormat
	}
	return "2006-01-02 15:04:05.000"
}

func (f *NamedTextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	ts := entry.Time.Format(f.tsFormat())
	lvl := padLeft(strings.ToUpper(entry.Level.String()), 7)
	if !f.DisableColors {
		lvl = colorLevel(lvl, entry.Level)
	}
	name := f.LoggerName
	if f.NameWidth > 0 {
		name = padLeft(limitRunes(name, f.NameWidth), f.NameWidth)
	}
	if !f.DisableColors {
		name = colorWrap(name, ansiCyan)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s : %s", ts, lvl, name, entry.Message)
	for _, k := range sortedKeys(entry.Data) {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// JSONLogFormatter emits one JSON object per line with the logger name
// attached, for log shippers that want structured records.
type JSONLogFormatter struct {
	LoggerName      string
	TimestampFormat string
}

func (f *JSONLogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	ts := f.TimestampFormat
	if ts == "" {
		ts = time.RFC3339Nano
	}
	rec := struct {
		Time    string                 `json:"time"`
		Level   string                 `json:"level"`
		Logger  string                 `json:"logger"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields,omitempty"`
	}{
		Time:    entry.Time.Format(ts),
		Level:   entry.Level.String(),
		Logger:  f.LoggerName,
		Message: entry.Message,
	}
	if len(entry.Data) > 0 {
		rec.Fields = entry.Data
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func sortedKeys(m logrus.Fields) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func padLeft(s string, width int) string { return fmt.Sprintf("%*s", width, s) }

func limitRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

const (
	ansiReset   = "\x1b[0m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func colorWrap(s, code string) string { return code + s + ansiReset }

func colorLevel(s string, level logrus.Level) string {
	switch level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorWrap(s, ansiRed)
	case logrus.WarnLevel:
		return colorWrap(s, ansiYellow)
	case logrus.InfoLevel:
		return colorWrap(s, ansiGreen)
	case logrus.DebugLevel:
		return colorWrap(s, ansiBlue)
	default:
		return colorWrap(s, ansiMagenta)
	}
}

// EnvDefaultString returns the env value for key, or def when unset/empty.
func EnvDefaultString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvDefaultBool parses a boolean env value, returning def when unset.
func EnvDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}
