package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show indexing coverage for the user",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	stats, err := a.Pipeline.CoverageStats(cmd.Context(), getUser())
	if err != nil {
		exitErr("stats", err)
	}
	printJSON(cmd.OutOrStdout(), stats)
}
