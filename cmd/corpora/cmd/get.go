package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	var asJSON bool
	var withText bool

	cmd := &cobra.Command{
		Use:   "get <document-id>",
		Short: "Show a document with its canonical text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			view, err := app.Ingest.GetDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if view == nil {
				return fmt.Errorf("document %s not found", args[0])
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}

			fmt.Fprintf(out, "id:         %s\n", view.ID)
			fmt.Fprintf(out, "title:      %s\n", view.Title)
			fmt.Fprintf(out, "location:   %s\n", view.Location)
			fmt.Fprintf(out, "type:       %s\n", view.DocumentType)
			fmt.Fprintf(out, "status:     %s\n", view.Status)
			fmt.Fprintf(out, "embeddings: %d\n", view.EmbeddingCount)
			if summary := view.MetaString("summary"); summary != "" {
				fmt.Fprintf(out, "summary:    %s\n", summary)
			}
			if len(view.Tags) > 0 {
				fmt.Fprint(out, "tags:       ")
				for i, tag := range view.Tags {
					if i > 0 {
						fmt.Fprint(out, ", ")
					}
					fmt.Fprint(out, tag.TagName)
				}
				fmt.Fprintln(out)
			}
			if withText {
				fmt.Fprintf(out, "\n%s\n", view.Text)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&withText, "text", false, "Print the canonical text")

	return cmd
}
