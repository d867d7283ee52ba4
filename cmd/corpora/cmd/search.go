package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/corpora/internal/search"
)

func newSearchCmd() *cobra.Command {
	var (
		limit     int
		threshold float64
		docType   string
		keywords  []string
		tags      []string
		timeframe string
		noTrack   bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid search over the index",
		Long: `Search with three fused channels: dense vectors, full-text with
trigram fallback, and hierarchical tags.

Temporal phrases in the query ("in the last 2 weeks") are extracted and
applied as a document-age filter automatically.

Examples:
  corpora search "postgres jsonb indexing"
  corpora search "meeting notes from last week" --limit 5
  corpora search "deployment" --tag infra:kubernetes --type markdown
  corpora search "migrations" --timeframe "last month" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			resp, err := app.Searcher.Search(cmd.Context(), search.Request{
				Query:           strings.Join(args, " "),
				Limit:           limit,
				Threshold:       threshold,
				Tags:            tags,
				TimeframeExpr:   timeframe,
				Filters:         search.Filters{DocumentType: docType, Keywords: keywords},
				DisableTracking: noTrack,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			if len(resp.Results) == 0 {
				fmt.Fprintln(out, "no results")
				return nil
			}
			for i, hit := range resp.Results {
				fmt.Fprintf(out, "%2d. [%.4f] %s\n", i+1, hit.RRFScore, snippet(hit.Content, 120))
				fmt.Fprintf(out, "    doc=%s sources=%s\n",
					hit.DocumentID, strings.Join(hit.Sources, ","))
			}
			fmt.Fprintf(out, "\n%d results in %dms (vector=%d fulltext=%d tags=%d)\n",
				len(resp.Results), resp.ExecutionTimeMS,
				resp.Statistics.VectorHits, resp.Statistics.FulltextHits, resp.Statistics.TagHits)
			if len(resp.Statistics.Degraded) > 0 {
				fmt.Fprintf(out, "degraded channels: %s\n", strings.Join(resp.Statistics.Degraded, ","))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum vector similarity")
	cmd.Flags().StringVarP(&docType, "type", "t", "", "Filter by document type")
	cmd.Flags().StringSliceVar(&keywords, "keyword", nil, "Filter by document keyword (repeatable)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Query tag (repeatable)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", `Timeframe expression ("last week"; default: extract from query)`)
	cmd.Flags().BoolVar(&noTrack, "no-track", false, "Do not record this search")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

// snippet truncates s to at most n runes on a word boundary.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
