package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docqa-ai/internal/rag"
	"docqa-ai/internal/service"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long:  "Read questions from stdin, one per line. Follow-ups are resolved against earlier turns. An empty line or EOF ends the session.",
		Run:   runChat,
	}

	cmd.Flags().String("session", "", "Resume an existing session id")
	cmd.Flags().StringSliceP("doc", "D", nil, "Restrict retrieval to these document ids")

	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) {
	sessionID, _ := cmd.Flags().GetString("session")
	docs, _ := cmd.Flags().GetStringSlice("doc")

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			break
		}

		resp, err := a.Chat.Chat(cmd.Context(), service.ChatRequest{
			UserID:      getUser(),
			SessionID:   sessionID,
			Message:     msg,
			DocumentIDs: docs,
		})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		sessionID = resp.SessionID

		if jsonOutput() {
			printJSON(out, resp)
			continue
		}
		if resp.ReferencesResolved {
			fmt.Fprintf(out, "(understood as: %s)\n", resp.ResolvedQuery)
		}
		writeAnswer(out, rag.Response{
			Answer:          resp.Answer,
			Sources:         resp.Sources,
			Confidence:      resp.Confidence,
			Degraded:        resp.Degraded,
			DegradedReasons: resp.DegradedReasons,
		})
		for _, f := range resp.FollowUps {
			fmt.Fprintf(out, "  - %s\n", f)
		}
	}
	if sessionID != "" {
		fmt.Fprintf(out, "session: %s\n", sessionID)
	}
}
