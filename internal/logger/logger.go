// Copyright 2023 Google Inc. All Rights Reserved.
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

// Package logger provides the process-wide structured logger: a TRACE
// through ERROR severity scale on top of log/slog, rendered as either
// text or JSON, with optional rotation to a file via lumberjack.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/snapraid-go/snapraid/cfg"
)

// The engine logs below slog's built-in Debug and above its built-in
// Error, so TRACE and OFF need levels of their own.
const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelOff   slog.Level = slog.LevelError + 100
)

var levelNames = map[slog.Level]string{
	LevelTrace: cfg.TRACE,
	LevelDebug: cfg.DEBUG,
	LevelInfo:  cfg.INFO,
	LevelWarn:  cfg.WARNING,
	LevelError: cfg.ERROR,
}

// loggerFactory owns the current output destination and rendering
// settings; defaultLoggerFactory is swapped out wholesale by
// InitLogFile/SetLogFormat so that the package-level helper functions
// below always reach the current configuration.
type loggerFactory struct {
	file            *os.File
	async           *AsyncLogger
	sysWriter       io.Writer
	format          string
	level           string
	logRotateConfig cfg.LogRotateLoggingConfig
}

func (f *loggerFactory) levelVar() *slog.LevelVar {
	v := new(slog.LevelVar)
	setLoggingLevel(f.level, v)
	return v
}

func (f *loggerFactory) writer() io.Writer {
	if f.sysWriter != nil {
		return f.sysWriter
	}
	return os.Stderr
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				lvl := a.Value.Any().(slog.Level)
				name, ok := levelNames[lvl]
				if !ok {
					name = lvl.String()
				}
				return slog.String("severity", name)
			case slog.MessageKey:
				return slog.String("message", prefix+a.Value.String())
			}
			return a
		},
	}
	if f.format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return &textHandler{inner: slog.NewTextHandler(w, opts)}
}

// textHandler rewrites slog's default `key=value` record into the
// engine's traditional `time="..." severity=X message="..."` line.
type textHandler struct {
	inner *slog.TextHandler
}

func (h *textHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *textHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &textHandler{inner: h.inner.WithAttrs(attrs).(*slog.TextHandler)}
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	return &textHandler{inner: h.inner.WithGroup(name).(*slog.TextHandler)}
}

var defaultLoggerFactory = &loggerFactory{
	format: "text",
	level:  cfg.INFO,
}

var defaultLogger = slog.New(
	defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, defaultLoggerFactory.levelVar(), ""),
)

// setLoggingLevel maps a cfg.LogSeverity string onto a slog level,
// updating programLevel in place. OFF maps to a level above ERROR so
// nothing is ever emitted.
func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch level {
	case cfg.TRACE:
		programLevel.Set(LevelTrace)
	case cfg.DEBUG:
		programLevel.Set(LevelDebug)
	case cfg.INFO:
		programLevel.Set(LevelInfo)
	case cfg.WARNING:
		programLevel.Set(LevelWarn)
	case cfg.ERROR:
		programLevel.Set(LevelError)
	case cfg.OFF:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// InitLogFile redirects the default logger to the file and rotation
// policy described by lc. A zero FilePath keeps logging on stderr.
func InitLogFile(lc cfg.LoggingConfig) error {
	f := &loggerFactory{
		format:          lc.Format,
		level:           string(lc.Severity),
		logRotateConfig: lc.LogRotate,
	}
	if f.format == "" {
		f.format = "text"
	}

	if lc.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   string(lc.FilePath),
			MaxSize:    lc.LogRotate.MaxFileSizeMb,
			MaxBackups: lc.LogRotate.BackupFileCount,
			Compress:   lc.LogRotate.Compress,
		}
		async := NewAsyncLogger(lj, 4096)
		f.async = async
		f.sysWriter = async
	}

	defaultLoggerFactory = f
	defaultLogger = slog.New(f.createJsonOrTextHandler(f.writer(), f.levelVar(), ""))
	return nil
}

// SetLogFormat switches the active logger between "text" and "json"
// rendering without touching its destination.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(defaultLoggerFactory.writer(), defaultLoggerFactory.levelVar(), ""))
}

// Close flushes and releases the current log file, if one is open.
func Close() error {
	if defaultLoggerFactory.async != nil {
		return defaultLoggerFactory.async.Close()
	}
	return nil
}

func Tracef(format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...interface{}) {
	defaultLogger.Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...interface{}) {
	defaultLogger.Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...interface{}) {
	defaultLogger.Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...interface{}) {
	defaultLogger.Error(fmt.Sprintf(format, v...))
}
