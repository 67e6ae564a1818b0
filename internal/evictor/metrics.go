package evictor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/otterscale/connevict/internal/evictor"

// instruments holds the OpenTelemetry instruments of one Evictor.
type instruments struct {
	sweeps   metric.Int64Counter
	duration metric.Float64Histogram
	failures metric.Int64Counter
	name     string
}

func newInstruments(mp metric.MeterProvider, name string, log *slog.Logger) *instruments {
	meter := mp.Meter(meterName)

	sweeps, errSweeps := meter.Int64Counter("connevict.sweeps",
		metric.WithDescription("Number of completed sweep cycles."),
		metric.WithUnit("{sweep}"),
	)
	duration, errDuration := meter.Float64Histogram("connevict.sweep.duration",
		metric.WithDescription("Duration of a sweep cycle."),
		metric.WithUnit("s"),
	)
	failures, errFailures := meter.Int64Counter("connevict.sweep.failures",
		metric.WithDescription("Number of sweeps terminated by a failing pool operation."),
		metric.WithUnit("{sweep}"),
	)

	if err := errors.Join(errSweeps, errDuration, errFailures); err != nil {
		log.Warn("failed to create metric instruments, metrics disabled", "error", err)
		return newInstruments(noop.NewMeterProvider(), name, log)
	}

	return &instruments{
		sweeps:   sweeps,
		duration: duration,
		failures: failures,
		name:     name,
	}
}

func (i *instruments) recordSweep(ctx context.Context, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("evictor", i.name))
	i.sweeps.Add(ctx, 1, attrs)
	i.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (i *instruments) recordFailure(ctx context.Context, operation string) {
	i.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("evictor", i.name),
		attribute.String("operation", operation),
	))
}
