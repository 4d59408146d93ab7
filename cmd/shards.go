package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pricewatch/internal/app"
)

func newShardsCmd(opts *options) *cobra.Command {
	var repair, force bool
	cmd := &cobra.Command{
		Use:   "shards",
		Short: "Audit or repair stored shard buckets",
		Long: `Checks every stored item's shard bucket against the bucket derived from
its URL. With --repair, mismatched items are rewritten; --force rewrites
every item.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app.App) error {
				w := cmd.OutOrStdout()
				if repair {
					report, err := a.Shards().Repair(cmd.Context(), force)
					if err != nil {
						return fmt.Errorf("repair shards: %w", err)
					}
					fmt.Fprintf(w, "scanned %d items, updated %d\n", report.Scanned, report.Updated)
					return nil
				}
				report, err := a.Shards().Audit(cmd.Context())
				if err != nil {
					return fmt.Errorf("audit shards: %w", err)
				}
				fmt.Fprintf(w, "%d items, %d out of range, %d mismatched\n",
					report.Total, report.OutOfRange, report.Mismatched)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "rewrite items whose stored bucket is wrong")
	cmd.Flags().BoolVar(&force, "force", false, "with --repair, rewrite every item")
	return cmd
}
