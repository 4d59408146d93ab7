package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the management API",
		Long: `Starts the per-minute scheduler and the HTTP API. Either can be turned
off with scheduler.enabled or server.enabled. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
}
