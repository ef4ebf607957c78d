package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docqa-ai/internal/inbox"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Ingest documents dropped into a folder",
		Long:  "Ingest every supported file under the folder, then keep watching it for new or changed files until interrupted. Defaults to $INBOX_PATH.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runWatch,
	}
	cmd.Flags().Bool("once", false, "Ingest the current contents and exit")

	RootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	once, _ := cmd.Flags().GetBool("once")

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	root := a.Config.InboxPath
	if len(args) == 1 {
		root = args[0]
	}
	if root == "" {
		exitErr("watch", errors.New("no folder given and INBOX_PATH is unset"))
	}
	user := getUser()
	if a.Config.InboxUserID != "" && userFlag == "" {
		user = a.Config.InboxUserID
	}
	w := inbox.NewWatcher(root, user, a.Pipeline, a.Config.Tuning.Inbox)

	if once {
		summary, err := w.IngestAll(cmd.Context())
		if err != nil {
			exitErr("ingest", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d, duplicates %d, failed %d\n", summary.Indexed, summary.Duplicates, summary.Failed)
		return
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := w.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
		exitErr("watch", err)
	}
}
