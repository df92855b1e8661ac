package bootstrap

import (
	"context"
	"os"

	"momentum/internal/config"
	"momentum/internal/middleware"
	"momentum/internal/observability"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// InitObservability points both loggers at one handler for cfg's
// environment and starts tracing for service. The returned func flushes
// pending spans.
func InitObservability(cfg *config.Config, service string) (func(context.Context) error, error) {
	middleware.Logger = middleware.NewLogger(cfg.Env, os.Getenv("LOG_LEVEL"))
	observability.SetGlobalLogger(middleware.Logger)

	return observability.InitTracing(observability.TracingConfig{
		ServiceName:    service,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSamplerRatio,
	})
}
