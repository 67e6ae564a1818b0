// Package main is the entry point for the connevict binary. Its run
// subcommand sweeps expired and idle connections out of the process
// connection pools and serves health and metrics endpoints.
//
// Dependencies are assembled via Google Wire; see wire.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otterscale/connevict/internal/cmd"
	"github.com/otterscale/connevict/internal/cmd/runner"
	"github.com/otterscale/connevict/internal/config"
	"github.com/otterscale/connevict/internal/core"
	"github.com/otterscale/connevict/internal/logging"
)

// version is injected at build time via -ldflags
// (e.g. -ldflags "-X main.version=v1.2.3").
var version = "devel"

func main() {
	// Cancel on SIGINT (Ctrl+C) or SIGTERM (container runtime).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		// Cobra is configured with SilenceErrors: true, so we
		// print the error here for consistent formatting.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires all dependencies and executes the root Cobra command.
func run(ctx context.Context) error {
	rootCmd, cleanup, err := wireCmd()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	return rootCmd.ExecuteContext(ctx)
}

// newCmd is a Wire provider that constructs the root Cobra command and
// registers the run subcommand.
func newCmd(conf *config.Config) (*cobra.Command, error) {
	c := &cobra.Command{
		Use:           "connevict",
		Short:         "connevict: close expired and idle pooled connections in the background.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(logging.New(os.Stderr, conf.LogLevel(), conf.LogFormat()))
			slog.Debug("logger configured", "version", core.Version(version))
		},
	}

	runCmd, err := cmd.NewRunCommand(conf, func() (*runner.Runner, func(), error) {
		return wireRunner(conf)
	})
	if err != nil {
		return nil, err
	}

	c.AddCommand(runCmd)

	return c, nil
}
