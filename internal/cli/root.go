// Package cli implements the docqa command line tool.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"docqa-ai/internal/app"
	"docqa-ai/internal/config"
)

var (
	userFlag   string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "Ask questions about your documents",
	Long: "Ingest text and markdown documents, then ask questions answered from their content " +
		"with page citations. Configuration comes from the environment (.env and CONFIG_FILE).",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User id owning the documents (default: $DOCQA_USER)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text", "Output format: json or text")
}

func getUser() string {
	if userFlag != "" {
		return userFlag
	}
	if env := os.Getenv("DOCQA_USER"); env != "" {
		return env
	}
	return "local"
}

// openApp loads configuration and wires the components. Logs go to stderr
// so command output stays parseable.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := app.SetupLogging(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg)
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}

func jsonOutput() bool {
	return formatFlag == "json"
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
