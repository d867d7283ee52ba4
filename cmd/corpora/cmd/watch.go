package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/corpora/internal/ingest"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [dir]...",
		Short: "Watch directories and auto-ingest changes",
		Long: `Watch directories for file changes. Created and modified files
are (re)ingested; removed files are deleted from the index. With no
arguments the configured watch directories are used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			dirs := args
			if len(dirs) == 0 {
				dirs = app.Config.Watch.Dirs
			}
			if len(dirs) == 0 {
				return fmt.Errorf("no directories to watch; pass them as arguments or set watch.dirs")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := ingest.NewWatcher(app.Ingest, dirs, app.Config.Watch.Debounce.Std())
			fmt.Fprintf(cmd.OutOrStdout(), "watching %d directories, ctrl-c to stop\n", len(dirs))
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	return cmd
}
