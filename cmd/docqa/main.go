package main

import (
	"context"
	"os"

	"docqa-ai/internal/cli"
)

func main() {
	if err := cli.RootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
