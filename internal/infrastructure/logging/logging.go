package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console also writes human readable lines to stderr.
	Console bool
}

// New builds a logger writing JSON lines to a size-rotated file and,
// optionally, to the console. With no file and no console it falls back to
// the console so nothing is lost.
func New(o Options) *zap.Logger {
	lvl := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if o.Level != "" {
		if l, err := zapcore.ParseLevel(o.Level); err == nil {
			lvl.SetLevel(l)
		}
	}

	var cores []zapcore.Core

	if o.File != "" {
		if err := os.MkdirAll(filepath.Dir(o.File), 0o755); err == nil {
			rot := &lumberjack.Logger{
				Filename:   o.File,
				MaxSize:    o.MaxSizeMB,
				MaxBackups: o.MaxBackups,
				MaxAge:     o.MaxAgeDays,
			}
			enc := zap.NewProductionEncoderConfig()
			enc.EncodeTime = zapcore.ISO8601TimeEncoder
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(rot), lvl))
		} else {
			o.Console = true
		}
	}

	if o.Console || len(cores) == 0 {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), lvl))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}
