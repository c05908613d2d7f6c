// Package logging wires zap into labelflow and carries the logger in a
// context.
package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a sugared logger writing to stderr, leaving stdout for
// command output. LABELFLOW_DEBUG=true switches to the development config.
// An empty or unknown level keeps the config default.
func NewLogger(level string) *zap.SugaredLogger {
	var config zap.Config
	if debug, ok := os.LookupEnv("LABELFLOW_DEBUG"); ok && debug == "true" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	if lvl, err := zapcore.ParseLevel(level); err == nil && level != "" {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger.Named("labelflow").Sugar()
}

type loggerKey struct{}

// WithLogger returns a copy of parent in which the logger is stored.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger in the context, or a new default logger.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.SugaredLogger); ok {
		return logger
	}
	return NewLogger("")
}
