package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sitescope/crawler/internal/sitemap"
)

func newValidateCmd() *cobra.Command {
	var userAgent string

	cmd := &cobra.Command{
		Use:   "validate <sitemap-url>",
		Short: "Check a sitemap URL without touching the database",
		Long: `Fetches and parses the given sitemap, following index files one level
deep, and prints the validation verdict as JSON. Useful before pointing a
setup run at a new site.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := sitemap.NewResolver(
				sitemap.NewCollyFetcher(sitemap.FetchConfig{UserAgent: userAgent}),
				sitemap.DefaultConfig(),
				zap.NewNop(),
			)
			verdict := resolver.Validate(cmd.Context(), args[0])
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(verdict); err != nil {
				return fmt.Errorf("print verdict: %w", err)
			}
			if !verdict.Valid {
				return fmt.Errorf("sitemap invalid: %s", verdict.Suggestion)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userAgent, "user-agent", "", "override the request user agent")
	return cmd
}
