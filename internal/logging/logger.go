package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Path is the JSON log file. Its directory is created.
	Path    string
	Session string
	Program string
	// Level is a zap level name; empty or unknown means info.
	Level string
	// Console also writes human-readable lines to stderr.
	Console bool
}

// New builds a logger writing JSON lines to opts.Path, tee'd to stderr when
// opts.Console is set. Every entry carries the session, program and pid.
func New(opts Options) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	lvl := ParseLevel(opts.Level)
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), lvl),
	}
	if opts.Console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), lvl))
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.Fields(
			zap.String("session", opts.Session),
			zap.String("program", opts.Program),
			zap.Int("pid", os.Getpid()),
		),
	), nil
}

// ParseLevel maps a config string to a zap level, falling back to info.
func ParseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil || level == "" {
		return zapcore.InfoLevel
	}
	return lvl
}
