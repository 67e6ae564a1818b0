// Package cmd defines the Cobra subcommands and their Wire provider
// set. It bridges configuration, dependency injection and the runner.
package cmd

import (
	"github.com/google/wire"

	"github.com/otterscale/connevict/internal/cmd/runner"
)

// ProviderSet is the Wire provider set for the CLI layer: the pool
// managers, their sweepers, the operations handler and the runner.
var ProviderSet = wire.NewSet(
	runner.NewRunner,
	runner.NewHandler,
	runner.ProvideMeterProvider,
	runner.ProvideHTTPManager,
	runner.ProvideDatabaseManager,
	runner.ProvideSweepers,
)
