// Package cmd defines the CLI commands for the sitescope executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitescope",
		Short: "SEO crawl pipeline: discovery, extraction, and enrichment.",
		Long: `sitescope discovers a site's pages from its sitemap, renders each
page in headless Chrome, extracts the SEO signal set, and enriches it with
embeddings and entities. The serve command hosts the HTTP control API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sitescope.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newValidateCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
