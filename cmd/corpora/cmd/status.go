package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// statusInfo is the health snapshot the status command renders.
type statusInfo struct {
	DataDir        string          `json:"data_dir"`
	Documents      int             `json:"documents"`
	Vectors        int             `json:"vectors"`
	FulltextDocs   uint64          `json:"fulltext_docs"`
	TrigramEntries int             `json:"trigram_entries"`
	EmbeddingModel string          `json:"embedding_model"`
	Dimensions     int             `json:"dimensions"`
	Breakers       []breakerStatus `json:"breakers,omitempty"`
}

type breakerStatus struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and circuit-breaker state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			info := statusInfo{
				DataDir:        app.Config.DataDir,
				Vectors:        app.Vectors.Len(),
				TrigramEntries: app.Trigrams.Len(),
				EmbeddingModel: app.Embedder.Model(),
				Dimensions:     app.Embedder.Dimensions(),
			}
			if n, err := app.Store.CountDocuments(cmd.Context()); err == nil {
				info.Documents = n
			}
			if n, err := app.Fulltext.Count(); err == nil {
				info.FulltextDocs = n
			}
			for _, s := range app.Breakers.Stats() {
				info.Breakers = append(info.Breakers, breakerStatus{
					Name:        s.Name,
					State:       s.State,
					Failures:    s.Failures,
					LastFailure: s.LastFailure,
				})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Fprintf(out, "data dir:   %s\n", info.DataDir)
			fmt.Fprintf(out, "documents:  %d\n", info.Documents)
			fmt.Fprintf(out, "vectors:    %d\n", info.Vectors)
			fmt.Fprintf(out, "fulltext:   %d\n", info.FulltextDocs)
			fmt.Fprintf(out, "trigrams:   %d\n", info.TrigramEntries)
			fmt.Fprintf(out, "embedder:   %s (%d dims)\n", info.EmbeddingModel, info.Dimensions)
			if len(info.Breakers) > 0 {
				fmt.Fprintln(out, "\nbreakers:")
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, b := range info.Breakers {
					fmt.Fprintf(w, "  %s\t%s\tfailures=%d\n", b.Name, b.State, b.Failures)
				}
				return w.Flush()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}
