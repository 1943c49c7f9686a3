// Package logging
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// zap logger construction: JSON or console encoding, stdout or a
// lumberjack-rotated file, and an atomic level the debug switch flips.

package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects encoding and destination.
type Config struct {
	// Format is "json" or "console".
	Format string
	// File is a log file path; empty writes to stdout.
	File string
	// MaxSizeMB, MaxBackups and MaxAgeDays bound file rotation.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Debug starts the logger at debug level.
	Debug bool
}

// DefaultConfig returns console output to stdout at info level.
func DefaultConfig() Config {
	return Config{Format: "console", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30}
}

// Logger pairs a zap logger with its adjustable level.
type Logger struct {
	*zap.Logger
	level  zap.AtomicLevel
	closer io.Closer
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New builds a logger from cfg.
func New(cfg Config) *Logger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Debug {
		level.SetLevel(zap.DebugLevel)
	}

	var enc zapcore.Encoder
	if cfg.Format == "json" {
		enc = zapcore.NewJSONEncoder(encoderConfig())
	} else {
		enc = zapcore.NewConsoleEncoder(encoderConfig())
	}

	var out zapcore.WriteSyncer = zapcore.AddSync(os.Stdout)
	var closer io.Closer
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = zapcore.AddSync(lj)
		closer = lj
	}

	core := zapcore.NewCore(enc, out, level)
	return &Logger{
		Logger: zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)),
		level:  level,
		closer: closer,
	}
}

// SetDebug switches between debug and info level.
func (l *Logger) SetDebug(on bool) {
	if on {
		l.level.SetLevel(zap.DebugLevel)
	} else {
		l.level.SetLevel(zap.InfoLevel)
	}
}

// Debugging reports whether debug entries are emitted.
func (l *Logger) Debugging() bool { return l.level.Enabled(zap.DebugLevel) }

// Close flushes buffered entries and releases the log file.
func (l *Logger) Close() error {
	_ = l.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
