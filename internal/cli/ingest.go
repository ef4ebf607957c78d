package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"docqa-ai/internal/indexer"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest documents",
		Long:  "Extract, chunk, embed and store each file. Pages of .txt files are separated by form feeds.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runIngest,
	}

	RootCmd.AddCommand(cmd)
}

// ingestLine is one file's outcome.
type ingestLine struct {
	File      string `json:"file"`
	ID        string `json:"id,omitempty"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Stored    int    `json:"stored"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

func runIngest(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	var lines []ingestLine
	failed := false
	for _, path := range args {
		line := ingestLine{File: path}
		content, err := os.ReadFile(path)
		if err != nil {
			line.Status, line.Error = "failed", err.Error()
			failed = true
			lines = append(lines, line)
			continue
		}

		res, err := a.Pipeline.Ingest(cmd.Context(), indexer.IngestRequest{
			UserID:  getUser(),
			Name:    filepath.Base(path),
			Content: content,
		})
		line.ID = res.Document.ID
		line.Status = string(res.Document.Status)
		line.Duplicate = res.Duplicate
		line.Stored, line.Failed = res.Stored, res.Failed
		if err != nil {
			line.Status, line.Error = "failed", err.Error()
			failed = true
		}
		lines = append(lines, line)
	}

	if jsonOutput() {
		printJSON(out, lines)
	} else {
		for _, l := range lines {
			switch {
			case l.Error != "":
				fmt.Fprintf(out, "%s: failed: %s\n", l.File, l.Error)
			case l.Duplicate:
				fmt.Fprintf(out, "%s: already ingested as %s\n", l.File, l.ID)
			default:
				fmt.Fprintf(out, "%s: %s as %s (%d chunks stored, %d failed)\n", l.File, l.Status, l.ID, l.Stored, l.Failed)
			}
		}
	}
	if failed {
		_ = a.Close()
		os.Exit(1)
	}
}
