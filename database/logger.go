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
	"fmt"
	"strings"
	"sync"

	"github.com/colibri-orm/colibri/utils"
)

var (
	globalLogger   Logger
	globalLoggerMu sync.RWMutex
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "DEBUG"
	}
}

// Logger is the logging surface the database layer writes to. Embedding
// applications can route it into their own logging stack via SetLogger;
// fields are alternating key/value pairs.
type Logger interface {
	SetLevel(LogLevel)
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// SetLogger replaces the package logger. A nil logger is ignored.
func SetLogger(log Logger) {
	if log == nil {
		return
	}
	globalLoggerMu.Lock()
	globalLogger = log
	globalLoggerMu.Unlock()
}

// GetLogger returns the package logger, creating the default logrus-backed
// one on first use.
func GetLogger() Logger {
	globalLoggerMu.RLock()
	l := globalLogger
	globalLoggerMu.RUnlock()
	if l != nil {
		return l
	}

	dl := &DefaultLogger{level: LogLevelInfo, logger: utils.NewLogger("DATABASE")}
	globalLoggerMu.Lock()
	if globalLogger == nil {
		globalLogger = dl
	}
	l = globalLogger
	globalLoggerMu.Unlock()
	return l
}

// DefaultLogger adapts the utils logrus factory to the Logger interface.
type DefaultLogger struct {
	level  LogLevel
	logger *utils.Logger
}

func (l *DefaultLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debug(msg + formatFields(fields...))
}

func (l *DefaultLogger) Info(msg string, fields ...interface{}) {
	l.logger.Info(msg + formatFields(fields...))
}

func (l *DefaultLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warn(msg + formatFields(fields...))
}

func (l *DefaultLogger) Error(msg string, fields ...interface{}) {
	l.logger.Error(msg + formatFields(fields...))
}

func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.level = level
	utils.SetLoggerLevel("DATABASE", strings.ToLower(level.String()))
}

func formatFields(fields ...interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	return b.String()
}
