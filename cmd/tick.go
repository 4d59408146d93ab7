package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pricewatch/internal/app"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func newTickCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Process the current minute's shard once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app.App) error {
				report, err := a.Scheduler().RunTick(cmd.Context())
				if err != nil {
					return fmt.Errorf("run tick: %w", err)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "bucket %d: %d candidates, %d processed, %d failed, %d alerts in %s\n",
					report.Bucket, report.Candidates, report.Processed, report.Failed, report.Alerts, report.Duration)
				for _, kind := range []tracker.OutcomeKind{
					tracker.OutcomeChanged,
					tracker.OutcomeUnchanged,
					tracker.OutcomeAntiBot,
					tracker.OutcomeFailed,
				} {
					if n := report.Outcomes[kind]; n > 0 {
						fmt.Fprintf(w, "  %-9s %d\n", kind, n)
					}
				}
				return nil
			})
		},
	}
}
