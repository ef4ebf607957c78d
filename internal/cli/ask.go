package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"docqa-ai/internal/rag"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAsk,
	}

	cmd.Flags().StringSliceP("doc", "D", nil, "Restrict retrieval to these document ids")
	cmd.Flags().IntP("top-k", "k", 0, "Candidates retrieved before context assembly (0 = default)")
	cmd.Flags().Float64("threshold", 0, "Minimum similarity (0 = default)")
	cmd.Flags().String("style", "", "Answer style: brief, normal or detailed")
	cmd.Flags().Bool("debug", false, "Include retrieval details")

	RootCmd.AddCommand(cmd)
}

func runAsk(cmd *cobra.Command, args []string) {
	docs, _ := cmd.Flags().GetStringSlice("doc")
	topK, _ := cmd.Flags().GetInt("top-k")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	style, _ := cmd.Flags().GetString("style")
	debug, _ := cmd.Flags().GetBool("debug")

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	resp, err := a.RAG.ProcessQuery(cmd.Context(), rag.Request{
		Query:               strings.Join(args, " "),
		UserID:              getUser(),
		DocumentIDs:         docs,
		TopK:                topK,
		SimilarityThreshold: threshold,
		Style:               style,
		Debug:               debug,
	})
	if err != nil {
		exitErr("ask", err)
	}

	if jsonOutput() {
		printJSON(cmd.OutOrStdout(), resp)
		return
	}
	writeAnswer(cmd.OutOrStdout(), resp)
}

// writeAnswer prints an answer followed by its numbered sources.
func writeAnswer(w io.Writer, resp rag.Response) {
	fmt.Fprintln(w, resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for i, s := range resp.Sources {
			fmt.Fprintf(w, "  [%d] %s, page %d (%.2f)\n", i+1, s.DocumentName, s.PageNumber, s.Similarity)
		}
	}
	if resp.Degraded {
		fmt.Fprintf(w, "\n(degraded: %s)\n", strings.Join(resp.DegradedReasons, ", "))
	}
	fmt.Fprintf(w, "confidence: %.2f\n", resp.Confidence)
	if resp.Debug != nil {
		fmt.Fprintf(w, "\ncontext tokens: %d\n", resp.Debug.ContextTokens)
		for _, c := range resp.Debug.RetrievedChunks {
			mark := " "
			if c.Selected {
				mark = "*"
			}
			fmt.Fprintf(w, "%s %2d. %s p%d vector=%.3f final=%.3f\n", mark, c.Rank, c.DocumentName, c.PageNumber, c.ScoreVector, c.ScoreFinal)
		}
	}
}
