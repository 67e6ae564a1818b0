package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/otterscale/connevict/internal/config"
	"github.com/otterscale/connevict/internal/core"
	"github.com/otterscale/connevict/internal/evictor"
	"github.com/otterscale/connevict/internal/providers/database"
	"github.com/otterscale/connevict/internal/providers/httppool"
)

// Sweepers are the evictors run by a Runner, one per connection pool.
type Sweepers []*evictor.Evictor

// ProvideMeterProvider builds the process meter provider, exported in
// Prometheus format through the default registry, and installs it as
// the otel global.
func ProvideMeterProvider() (*sdkmetric.MeterProvider, func(), error) {
	mp, err := newMeterProvider(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, nil, err
	}
	otel.SetMeterProvider(mp)

	cleanup := func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			slog.Warn("meter provider shutdown failed", "error", err)
		}
	}
	return mp, cleanup, nil
}

func newMeterProvider(reg prometheus.Registerer) (*sdkmetric.MeterProvider, error) {
	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)), nil
}

// ProvideHTTPManager returns the manager of the process HTTP client pool.
func ProvideHTTPManager(conf *config.Config) (*httppool.Manager, func()) {
	m := httppool.New(
		httppool.WithMaxLifetime(conf.HTTPMaxLifetime()),
	)
	return m, m.Close
}

// ProvideDatabaseManager returns the PostgreSQL pool manager, or nil
// when no database url is configured. The pool is connected by
// Runner.Run.
func ProvideDatabaseManager(conf *config.Config) (*database.Manager, func(), error) {
	url := conf.DatabaseURL()
	if url == "" {
		return nil, func() {}, nil
	}

	m, err := database.NewFromURL(url, int32(conf.DatabaseMaxConns()), //nolint:gosec // bounded by config
		database.WithMaxLifetime(conf.DatabaseMaxConnLifetime()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("database manager: %w", err)
	}
	return m, m.Close, nil
}

// ProvideSweepers creates one evictor per configured pool, all reading
// their interval and max idle time from settings, and registers the
// pool gauges.
func ProvideSweepers(settings core.Settings, mp *sdkmetric.MeterProvider, hp *httppool.Manager, db *database.Manager) (Sweepers, error) {
	return newSweepers(settings, mp, hp, db)
}

func newSweepers(settings core.Settings, mp metric.MeterProvider, hp *httppool.Manager, db *database.Manager) (Sweepers, error) {
	var pools []pool
	if hp != nil {
		pools = append(pools, pool{name: "http", manager: hp, stats: httpStats(hp)})
	}
	if db != nil {
		pools = append(pools, pool{name: "database", manager: db, stats: databaseStats(db)})
	}

	if err := observePools(mp, pools); err != nil {
		return nil, err
	}

	sweepers := make(Sweepers, 0, len(pools))
	for _, p := range pools {
		sweepers = append(sweepers, evictor.New(p.manager,
			evictor.WithName(p.name),
			evictor.WithSettings(settings),
			evictor.WithMeterProvider(mp),
		))
	}
	return sweepers, nil
}
