package runner

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/otterscale/connevict/internal/core"
	"github.com/otterscale/connevict/internal/providers/database"
	"github.com/otterscale/connevict/internal/providers/httppool"
)

const meterName = "github.com/otterscale/connevict/internal/cmd/runner"

// pool pairs a connection manager with a snapshot of its size.
type pool struct {
	name    string
	manager core.ConnectionManager
	stats   func() (open, idle int64)
}

func httpStats(m *httppool.Manager) func() (int64, int64) {
	return func() (int64, int64) {
		s := m.Stats()
		return int64(s.Open), int64(s.Idle)
	}
}

func databaseStats(m *database.Manager) func() (int64, int64) {
	return func() (int64, int64) {
		s := m.Stats()
		return int64(s.Total), int64(s.Idle)
	}
}

// observePools reports connevict.pool.connections{pool, state} on
// every collection.
func observePools(mp metric.MeterProvider, pools []pool) error {
	if len(pools) == 0 {
		return nil
	}

	gauge, err := mp.Meter(meterName).Int64ObservableGauge("connevict.pool.connections",
		metric.WithDescription("Connections currently held by the pool."),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return fmt.Errorf("pool gauge: %w", err)
	}

	_, err = mp.Meter(meterName).RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, p := range pools {
			open, idle := p.stats()
			o.ObserveInt64(gauge, open, metric.WithAttributes(
				attribute.String("pool", p.name), attribute.String("state", "open")))
			o.ObserveInt64(gauge, idle, metric.WithAttributes(
				attribute.String("pool", p.name), attribute.String("state", "idle")))
		}
		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("pool gauge callback: %w", err)
	}
	return nil
}
