// Package app wires the compliance pipeline: discover the project's
// files, parse them, build the model, evaluate the rules and aggregate
// the report.
package app

import (
	"context"
	"io"
	"log/slog"

	"github.com/vk/rascheck/internal/ctxlog"
)

// App encapsulates one configured pipeline instance with its own isolated
// logger.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *Config
}

// NewApp constructs the application from a validated Config. outW receives
// log output.
func NewApp(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")
	return &App{outW: outW, logger: logger, cfg: cfg}
}

// Logger exposes the app logger so collaborators log consistently.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// withLogger attaches the app logger to the context for the stages below.
func (a *App) withLogger(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}
