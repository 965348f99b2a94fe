package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-central/internal/config"
	"github.com/oshokin/alarm-central/internal/service/central"
	"github.com/oshokin/alarm-central/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// rootCmd represents the base command for running the central server.
	rootCmd = &cobra.Command{
		Use:   "alarm-central",
		Short: "Run the central alarm server that receives events from reporting nodes.",
		Long: `Starts the central alarm server.

The server answers node datagrams on the primary UDP transport and node
call sessions on the secondary TCP transport. It validates credentials,
enforces strict per-client event ordering with cumulative
acknowledgments, mirrors each node's alarm state and infers breach and
connectivity events that nodes can never send themselves.

Applied events are journaled to SQLite and published to MQTT when a
broker is configured. A read-only HTTP monitoring API serves mirrored
client states and the event history.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &central.Options{
				ConfigPath: configPath,
			}

			return central.Run(ctx, options)
		},
	}
)

// Execute runs the alarm-central CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().
		StringVarP(&configPath, "config", "c", config.DefaultCentralConfigFilename, "path to configuration file")
}
