//go:build wireinject

package main

import (
	"github.com/google/wire"
	"github.com/spf13/cobra"

	"github.com/otterscale/connevict/internal/cmd"
	"github.com/otterscale/connevict/internal/cmd/runner"
	"github.com/otterscale/connevict/internal/config"
	"github.com/otterscale/connevict/internal/core"
)

func wireCmd() (*cobra.Command, func(), error) {
	panic(wire.Build(
		newCmd,
		config.ProviderSet,
	))
}

func wireRunner(conf *config.Config) (*runner.Runner, func(), error) {
	panic(wire.Build(
		wire.Bind(new(core.Settings), new(*config.Config)),
		cmd.ProviderSet,
	))
}
