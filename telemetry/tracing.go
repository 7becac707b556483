// Package telemetry installs the OpenTelemetry tracer provider used for
// run and stage spans.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds tracing configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	// TracesPath, when set, receives every finished span as one JSON
	// object per line. The file is created with the first span.
	TracesPath string
}

// Tracing owns the tracer provider of one run.
type Tracing struct {
	provider *sdktrace.TracerProvider
	file     *lazyFile
}

// Setup creates a recording tracer provider and installs it globally.
// Spans are always sampled so log lines carry trace and span IDs even when
// no traces file is written.
func Setup(ctx context.Context, config Config) (*Tracing, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t := &Tracing{}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}

	if config.TracesPath != "" {
		t.file = &lazyFile{path: config.TracesPath}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(t.file))
		if err != nil {
			return nil, fmt.Errorf("failed to create span exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	t.provider = sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return t, nil
}

// Provider returns the installed tracer provider.
func (t *Tracing) Provider() trace.TracerProvider {
	return t.provider
}

// Shutdown flushes pending spans and closes the traces file.
func (t *Tracing) Shutdown(ctx context.Context) error {
	err := t.provider.Shutdown(ctx)
	if t.file != nil {
		err = errors.Join(err, t.file.Close())
	}
	return err
}

// lazyFile opens path on the first write.
type lazyFile struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func (f *lazyFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return 0, fmt.Errorf("failed to create traces directory: %w", err)
		}
		file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return 0, fmt.Errorf("failed to open traces file: %w", err)
		}
		f.file = file
	}
	return f.file.Write(p)
}

func (f *lazyFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
