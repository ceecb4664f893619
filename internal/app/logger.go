package app

import (
	"log/slog"
	"os"
)

// NewLogger returns the process-wide logger. Every line carries the service
// attribute so aggregated logs from the API and the worker stay separable.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(slog.String("service", "stockd"))
}
