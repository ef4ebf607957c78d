package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"docqa-ai/internal/chunking"
)

func init() {
	docs := &cobra.Command{
		Use:   "docs",
		Short: "Manage ingested documents",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		Run:   runDocsList,
	}
	rm := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a document and its chunks",
		Args:  cobra.ExactArgs(1),
		Run:   runDocsRm,
	}
	verify := &cobra.Command{
		Use:   "verify [id]",
		Short: "Check the stored chunks of a document",
		Args:  cobra.ExactArgs(1),
		Run:   runDocsVerify,
	}
	rechunk := &cobra.Command{
		Use:   "rechunk [id]",
		Short: "Re-chunk a document with new options",
		Args:  cobra.ExactArgs(1),
		Run:   runDocsRechunk,
	}
	rechunk.Flags().Int("size", 0, "Context chunk size in tokens (0 = configured)")
	rechunk.Flags().Int("overlap", -1, "Context chunk overlap in tokens (-1 = configured)")
	rechunk.Flags().Bool("single-layer", false, "Drop the detail layer")

	docs.AddCommand(list, rm, verify, rechunk)
	RootCmd.AddCommand(docs)
}

func runDocsList(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	docs, err := a.Documents.ListByUser(cmd.Context(), getUser())
	if err != nil {
		exitErr("list", err)
	}
	if jsonOutput() {
		printJSON(cmd.OutOrStdout(), docs)
		return
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPAGES\tCHUNKS")
	for _, d := range docs {
		status := string(d.Status)
		if d.Stage != "" && d.StatusMessage != "" {
			status += " (" + d.Stage + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", d.ID, d.Name, status, d.PageCount, d.ChunkCount)
	}
	_ = tw.Flush()
}

func runDocsRm(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	if err := a.Pipeline.DeleteDocument(cmd.Context(), args[0], getUser()); err != nil {
		exitErr("rm", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[0])
}

func runDocsVerify(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	report, err := a.Store.VerifyIntegrity(cmd.Context(), args[0], getUser())
	if err != nil {
		exitErr("verify", err)
	}
	if jsonOutput() {
		printJSON(cmd.OutOrStdout(), report)
		return
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d chunks, dimension %d\n", report.DocumentID, report.ChunkCount, report.Dimension)
	if report.OK() {
		fmt.Fprintln(out, "ok")
		return
	}
	for _, issue := range report.Issues {
		fmt.Fprintf(out, "  %+v\n", issue)
	}
}

func runDocsRechunk(cmd *cobra.Command, args []string) {
	size, _ := cmd.Flags().GetInt("size")
	overlap, _ := cmd.Flags().GetInt("overlap")
	single, _ := cmd.Flags().GetBool("single-layer")

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	opts := rechunkOptions(a.Config.Tuning.Chunking, size, overlap, single)
	res, err := a.Pipeline.Rechunk(cmd.Context(), args[0], getUser(), opts)
	if err != nil {
		exitErr("rechunk", err)
	}
	if jsonOutput() {
		printJSON(cmd.OutOrStdout(), res)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d chunks stored, %d failed)\n", res.Document.ID, res.Document.Status, res.Stored, res.Failed)
}

// rechunkOptions applies flag overrides to the configured options.
func rechunkOptions(base chunking.Options, size, overlap int, singleLayer bool) chunking.Options {
	if size > 0 {
		base.ChunkSizeTokens = size
	}
	if overlap >= 0 {
		base.OverlapTokens = overlap
	}
	if singleLayer {
		base.DualLayer = false
	}
	return base
}
