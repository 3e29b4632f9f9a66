// Package logger builds the leveled console logger used across the daemon.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels accepted by New.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
)

// Logger wraps zap's SugaredLogger with an adjustable level.
type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

// New returns a logger writing to stdout at the given level.
func New(level string) *Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter returns a logger writing to w at the given level.
func NewWithWriter(level string, w io.Writer) *Logger {
	atomic := zap.NewAtomicLevelAt(toZapLevel(level))
	core := zapcore.NewCore(newConsoleEncoder(), zapcore.Lock(zapcore.AddSync(w)), atomic)
	return &Logger{
		SugaredLogger: zap.New(core).Sugar(),
		level:         atomic,
	}
}

// SetDebug switches between debug and info verbosity.
func (l *Logger) SetDebug(debug bool) {
	if debug {
		l.level.SetLevel(zapcore.DebugLevel)
		return
	}
	l.level.SetLevel(zapcore.InfoLevel)
}

// Level returns the current level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// toZapLevel converts a textual level, defaulting to info.
func toZapLevel(level string) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

func newConsoleEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = ""
	cfg.CallerKey = ""
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}
