package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newEnhanceCmd() *cobra.Command {
	var contextLimit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "enhance <prompt>",
		Short: "Prepend retrieved context to a prompt",
		Long: `Run a hybrid search for the prompt and prepend the top chunk
texts as numbered context, ready to paste into a model conversation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			enhanced, err := app.Ingest.EnhancePrompt(cmd.Context(),
				strings.Join(args, " "), contextLimit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(enhanced)
			}
			fmt.Fprintln(out, enhanced.Prompt)
			return nil
		},
	}

	cmd.Flags().IntVarP(&contextLimit, "context", "c", 0, "Number of context chunks (default 5)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}
