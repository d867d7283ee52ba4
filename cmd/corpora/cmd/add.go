package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/corpora/internal/ingest"
)

func newAddCmd() *cobra.Command {
	var (
		title    string
		content  string
		force    bool
		metadata []string
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "add <location>",
		Short: "Ingest a document",
		Long: `Ingest a file or remote source into the index.

Local files are converted to text by type (markdown, HTML, PDF, CSV,
XLSX, images via captioning). Remote locations need --content. A
duplicate returns the existing document id instead of creating a new one.

Examples:
  corpora add ./notes/postgres.md
  corpora add ./report.pdf --wait
  corpora add https://example.com/guide --content "..." --title "Guide"
  corpora add ./notes/postgres.md --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			meta := make(map[string]any, len(metadata))
			for _, kv := range metadata {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("metadata must be key=value, got %q", kv)
				}
				meta[k] = v
			}

			id, err := app.Ingest.AddDocument(cmd.Context(), ingest.AddRequest{
				Location: args[0],
				Content:  content,
				Title:    title,
				Metadata: meta,
				Force:    force,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)

			if wait {
				app.Enricher.Wait()
				view, err := app.Ingest.GetDocument(cmd.Context(), id)
				if err == nil && view != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "status: %s, embeddings: %d\n",
						view.Status, view.EmbeddingCount)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Document title (default: file basename)")
	cmd.Flags().StringVar(&content, "content", "", "Inline content for non-file locations")
	cmd.Flags().BoolVar(&force, "force", false, "Skip duplicate detection")
	cmd.Flags().StringArrayVar(&metadata, "meta", nil, "Metadata key=value (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for enrichment to finish")

	return cmd
}
