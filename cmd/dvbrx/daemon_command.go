package main

import (
	"github.com/spf13/cobra"

	"dvbrx/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:         "daemon",
		Short:       "Daemon process commands (internal)",
		Hidden:      true,
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}

	var logLevel string
	var development bool
	runCmd := &cobra.Command{
		Use:          "run",
		Short:        "Run the dvbrx daemon in the foreground",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
				SocketPath:  ctx.socketFlagValue(),
			})
		},
	}
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	runCmd.Flags().BoolVar(&development, "development", false, "Log source locations for every record")

	daemonCmd.AddCommand(runCmd)
	return daemonCmd
}
