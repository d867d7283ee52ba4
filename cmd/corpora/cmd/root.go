// Package cmd provides the CLI commands for corpora.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	dataDir    string
	debug      bool
}

var flags rootFlags

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpora",
		Short: "Local hybrid search and enrichment engine for documents",
		Long: `Corpora indexes documents of many formats into a local hybrid
search engine: dense vectors, full-text with trigram fallback, and
hierarchical tags, fused with reciprocal rank fusion.

Ingested documents are enriched in the background with embeddings,
summaries, keywords, tags, and atomic propositions.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("corpora version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newEnhanceCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
