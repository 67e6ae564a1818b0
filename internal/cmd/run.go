package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otterscale/connevict/internal/cmd/runner"
	"github.com/otterscale/connevict/internal/config"
)

type RunnerInjector func() (*runner.Runner, func(), error)

// NewRunCommand returns the "run" command. The runner is only built
// once flags are parsed, so that it sees the final configuration.
func NewRunCommand(conf *config.Config, newRunner RunnerInjector) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Periodically close expired and idle pooled connections",
		Example: "connevict run --eviction-interval=5m --max-idle-time=2m --database-url=postgres://localhost/app",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf.Watch()

			r, cleanup, err := newRunner()
			if err != nil {
				return fmt.Errorf("failed to initialize runner: %w", err)
			}
			defer cleanup()

			cfg := runner.Config{
				Address:        conf.ServerAddress(),
				AllowedOrigins: conf.ServerAllowedOrigins(),
				AuthToken:      conf.ServerAuthToken(),
				OIDCIssuer:     conf.ServerOIDCIssuer(),
				OIDCClientID:   conf.ServerOIDCClientID(),
				PublicMetrics:  conf.ServerPublicMetrics(),
			}

			return r.Run(cmd.Context(), cfg)
		},
	}

	if err := conf.BindFlags(cmd.Flags(), config.RunOptions); err != nil {
		return nil, err
	}

	return cmd, nil
}
