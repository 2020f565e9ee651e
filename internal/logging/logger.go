// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the logger flavour and optional file output.
type Options struct {
	Development bool
	// File, when set, receives JSON logs through a rotating writer in
	// addition to the console.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// New builds a zap.Logger configured for development or production.
func New(opts Options) (*zap.Logger, error) {
	var (
		cfg  zap.Config
		kind string
	)
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		kind = "dev"
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
		kind = "prod"
	}
	cfg.EncoderConfig.TimeKey = "ts"

	var buildOpts []zap.Option
	if opts.File != "" {
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoderConfig()),
			zapcore.AddSync(RotatingFile(opts)),
			cfg.Level,
		)
		buildOpts = append(buildOpts, zap.WrapCore(func(console zapcore.Core) zapcore.Core {
			return zapcore.NewTee(console, fileCore)
		}))
	}
	logger, err := cfg.Build(buildOpts...)
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", kind, err)
	}
	return logger, nil
}

// RotatingFile returns the size-rotated writer used for file output.
func RotatingFile(opts Options) *lumberjack.Logger {
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
}

func fileEncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return enc
}
