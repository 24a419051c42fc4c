package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jeongseonghan/wifi-phy-sim/internal/logging"
)

// TracingConfig governs how receive-stage tracing is initialised.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"` // stdout
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DefaultTracingConfig returns tracing disabled with stdout export ready.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{ServiceName: "phy-sim", Exporter: "stdout", SampleRatio: 1}
}

// InitTracing installs a tracer provider writing spans to w (stdout when
// nil). It returns a shutdown function that flushes spans.
func InitTracing(ctx context.Context, cfg TracingConfig, w io.Writer, logger *log.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		logger.Debug("tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("sample ratio %v not in [0, 1]", cfg.SampleRatio)
	}

	exp, err := exporterFromConfig(cfg, w)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.namespace", "phy-sim"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "exporter", cfg.Exporter, "service_name", cfg.ServiceName,
		"sample_ratio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

func exporterFromConfig(cfg TracingConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	if w == nil {
		w = os.Stdout
	}
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		return stdouttrace.New(
			stdouttrace.WithWriter(w),
			stdouttrace.WithoutTimestamps(),
		)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout invokes shutdown with a bounded timeout, logging
// failures.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, logger *log.Logger) {
	if shutdown == nil {
		return
	}
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("tracing shutdown failed", "err", err)
	}
}
