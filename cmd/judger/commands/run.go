package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rurikawa-judge/judger/am"
	"github.com/rurikawa-judge/judger/internal/cancel"
	"github.com/rurikawa-judge/judger/internal/conn"
	"github.com/rurikawa-judge/judger/internal/container"
	"github.com/rurikawa-judge/judger/internal/coordinator"
	"github.com/rurikawa-judge/judger/internal/idgen"
	"github.com/rurikawa-judge/judger/internal/job"
	"github.com/rurikawa-judge/judger/internal/suite"
	"github.com/rurikawa-judge/judger/logger"
)

// forceExitCode is returned on a second Ctrl-C, per §6's exit policy.
const forceExitCode = 101

// RunCmd brings up the full worker: coordinator client, container engine,
// suite sync, dispatcher, and the WebSocket connection supervisor.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the judger worker",
	Long:  `Connect to the coordinator and start accepting and judging submissions until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger.SetTheme(cfg.Log.Theme)

		if flag := cmd.Flags().Lookup("verbose"); flag != nil && !flag.Changed && cfg.Log.Verbosity > 0 {
			jsonOutput, _ := cmd.Flags().GetBool("json-logs")
			if err := logger.Initialize(jsonOutput, cfg.Log.Verbosity); err != nil {
				return fmt.Errorf("failed to apply configured log verbosity: %w", err)
			}
		}

		engine, err := container.NewDockerEngine()
		if err != nil {
			return fmt.Errorf("failed to connect to the container engine: %w", err)
		}

		client := coordinator.New(cfg.Worker.Host, cfg.Worker.TLS, func() string { return cfg.Worker.AccessToken })
		if err := client.Verify(context.Background()); err != nil {
			return fmt.Errorf("access token verification failed, run 'judger register' first: %w", err)
		}

		coord := suite.NewCoordinator()
		syncer := &suite.Syncer{Coordinator: coord, Client: client, CacheRoot: cfg.Cache.Root}
		sink := conn.NewWebsocketSink()
		pipeline := job.NewPipeline(coord, syncer, client, engine, cfg.Worker, cfg.Cache.Root, sink)

		root := cancel.NewRoot()
		dispatcher := job.NewDispatcher(pipeline, root)

		generator := idgen.NewGenerator()
		connectionID := uuid.New()
		connectionIDHex := hex.EncodeToString(connectionID[:])

		connection := &conn.Connection{
			URL:        func() string { return client.WebSocketURL(client.AccessTokenValue(), connectionIDHex) },
			Sink:       sink,
			Dispatcher: dispatcher,
			Generator:  generator,
			Status:     dispatcher,
			MaxJobs:    cfg.Worker.MaxConcurrentJobs,
		}

		installSignalHandler(root)

		logger.ConnInfow("worker starting", "host", cfg.Worker.Host)
		connection.Run(root)

		logger.ConnInfow("worker stopped")
		return nil
	},
}

// installSignalHandler cancels root on the first Ctrl-C, letting running
// jobs finish, and force-exits with code 101 on the second.
func installSignalHandler(root *cancel.Token) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)

	go func() {
		<-sigs
		logger.ConnInfow("shutdown requested, cancelling root token")
		root.Cancel(cancel.CauseAborted)

		<-sigs
		logger.ConnWarnw("second interrupt received, forcing exit")
		os.Exit(forceExitCode)
	}()
}
