package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rurikawa-judge/judger/am"
	"github.com/rurikawa-judge/judger/internal/coordinator"
	"github.com/rurikawa-judge/judger/logger"
)

// RegisterCmd obtains a fresh access token from the coordinator and
// persists it to cacheRoot/config.toml, per §6's register endpoint.
var RegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this worker with the coordinator",
	Long:  `Exchange the configured register token for an access token and persist it to the cache root's config.toml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		client := coordinator.New(cfg.Worker.Host, cfg.Worker.TLS, func() string { return cfg.Worker.AccessToken })
		accessToken, err := client.Register(context.Background(), cfg.Worker.RegisterToken, cfg.Worker.AlternateName, cfg.Worker.Tags)
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		cfg.Worker.AccessToken = accessToken
		if err := am.PersistRegistration(cfg.Cache.Root, &cfg.Worker); err != nil {
			return fmt.Errorf("failed to persist access token: %w", err)
		}

		logger.ConnInfow("worker registered", "alternate_name", cfg.Worker.AlternateName)
		fmt.Println("registered successfully")
		return nil
	},
}
