package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/corpora/internal/ingest"
)

func newUpdateCmd() *cobra.Command {
	var (
		title    string
		docType  string
		status   string
		metadata []string
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update document fields",
		Long: `Update the title, type, status, or metadata of an indexed document.

Only the flags you pass are changed; metadata keys merge into the
existing map.

Examples:
  corpora update 7f3a... --title "Postgres notes"
  corpora update 7f3a... --status pending --meta reviewed=true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			req := ingest.UpdateRequest{}
			if cmd.Flags().Changed("title") {
				req.Title = &title
			}
			if cmd.Flags().Changed("type") {
				req.DocumentType = &docType
			}
			if cmd.Flags().Changed("status") {
				req.Status = &status
			}
			if len(metadata) > 0 {
				req.Metadata = make(map[string]any, len(metadata))
				for _, kv := range metadata {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("metadata must be key=value, got %q", kv)
					}
					req.Metadata[k] = v
				}
			}

			if err := app.Ingest.UpdateDocument(cmd.Context(), args[0], req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&docType, "type", "", "New document type")
	cmd.Flags().StringVar(&status, "status", "", "New status")
	cmd.Flags().StringArrayVar(&metadata, "meta", nil, "Metadata key=value (repeatable)")

	return cmd
}
