package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <document-id>...",
		Short: "Delete documents and purge their index entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			for _, id := range args {
				deleted, err := app.Ingest.DeleteDocument(cmd.Context(), id)
				if err != nil {
					return err
				}
				if deleted {
					fmt.Fprintf(out, "deleted %s\n", id)
				} else {
					fmt.Fprintf(out, "not found: %s\n", id)
				}
			}
			return nil
		},
	}
	return cmd
}
