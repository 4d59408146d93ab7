package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pricewatch/internal/app"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

type checkResult struct {
	URL          string              `json:"url"`
	Outcome      tracker.OutcomeKind `json:"outcome"`
	Title        string              `json:"title,omitempty"`
	Price        float64             `json:"price,omitempty"`
	RawPriceText string              `json:"raw_price_text,omitempty"`
	Currency     string              `json:"currency,omitempty"`
	ETag         string              `json:"etag,omitempty"`
	LastModified string              `json:"last_modified,omitempty"`
	Signal       string              `json:"signal,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	Error        string              `json:"error,omitempty"`
	StatusCode   int                 `json:"status_code,omitempty"`
	Attempts     int                 `json:"attempts"`
}

func newCheckCmd(opts *options) *cobra.Command {
	var validators tracker.Validators
	cmd := &cobra.Command{
		Use:   "check <url>",
		Short: "Fetch one product page and print what the engine sees",
		Long: `Runs the fetch engine once against a URL without touching storage.
Pass --etag or --last-modified to exercise the conditional request path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App) error {
				out := a.Fetcher().Fetch(cmd.Context(), args[0], validators, a.Config().Fetch.MaxRetries)
				res := checkResult{
					URL:          args[0],
					Outcome:      out.Kind,
					Title:        out.Title,
					Price:        out.Price,
					RawPriceText: out.RawPriceText,
					Currency:     out.Currency,
					ETag:         out.Validators.ETag,
					LastModified: out.Validators.LastModified,
					Signal:       out.Signal,
					Reason:       string(out.Reason),
					StatusCode:   out.StatusCode,
					Attempts:     out.Attempts,
				}
				if out.Err != nil {
					res.Error = out.Err.Error()
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return fmt.Errorf("write result: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&validators.ETag, "etag", "", "send If-None-Match with this ETag")
	cmd.Flags().StringVar(&validators.LastModified, "last-modified", "", "send If-Modified-Since with this value")
	return cmd
}
