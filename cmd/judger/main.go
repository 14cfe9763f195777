package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rurikawa-judge/judger/cmd/judger/commands"
	"github.com/rurikawa-judge/judger/logger"
)

var rootCmd = &cobra.Command{
	Use:   "judger",
	Short: "A distributed worker for the rurikawa-judge online judge",
	Long: `judger registers with a coordinator, accepts graded submissions over a
WebSocket connection, and runs them to completion in containers.

Examples:
  judger register   # obtain an access token from the coordinator
  judger run        # connect and start accepting jobs
  judger version    # show build information`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput, verboseCount); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

// verboseCount holds the number of times -v was repeated on the command
// line. commands.RunCmd raises the level further from the config file's
// log.verbosity when this stays at its zero value.
var verboseCount int

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs instead of human-readable output")
	rootCmd.PersistentFlags().CountVarP(&verboseCount, "verbose", "v", "increase log verbosity (-v, -vv, -vvv, -vvvv)")

	rootCmd.AddCommand(commands.RegisterCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
