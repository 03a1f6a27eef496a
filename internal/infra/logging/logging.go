// Package logging builds the process-wide zap logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the [logging] section of config.toml.
type Config struct {
	Level      string `toml:"level"`  // debug, info, warn, error
	Format     string `toml:"format"` // console or json
	File       string `toml:"file"`   // empty: stderr only
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxFiles   int    `toml:"max_files"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// ParseLevel maps a config level name to a zap level. Unknown names are info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// New builds a logger writing to stderr and, when c.File is set, to a
// rotated log file as well. The returned close func flushes the logger and
// releases the log file; call it once, after the last log line.
func New(c Config) (*zap.Logger, func() error, error) {
	return newLogger(c, os.Stderr)
}

func newLogger(c Config, console io.Writer) (*zap.Logger, func() error, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(c.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(console), level),
	}
	var file *lumberjack.Logger
	if c.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.File), 0o755); err != nil {
			return nil, nil, err
		}
		file = &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    max(c.MaxSizeMB, 1),
			MaxBackups: max(c.MaxFiles, 1),
			MaxAge:     max(c.MaxAgeDays, 1),
		}
		// Files always get JSON so they can be parsed later.
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(file), level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
	closeFn := func() error {
		// Sync on a terminal's stderr fails on some platforms.
		_ = l.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return l, closeFn, nil
}

// Install makes l the global logger and routes the standard library's log
// package through it. The returned func undoes both.
func Install(l *zap.Logger) func() {
	undoGlobals := zap.ReplaceGlobals(l)
	undoStd, err := zap.RedirectStdLogAt(l, zap.InfoLevel)
	if err != nil {
		return undoGlobals
	}
	return func() {
		undoStd()
		undoGlobals()
	}
}
