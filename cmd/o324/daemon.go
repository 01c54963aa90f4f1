package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/o324/o324/internal/daemon"
	"github.com/o324/o324/internal/tasks"
	"github.com/o324/o324/internal/ui"
	"github.com/o324/o324/internal/vcs"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Serve the task store over HTTP and websockets (foreground)",
	Long: `Run the o324 daemon in the foreground.

The daemon:
  1. Serves the task API under http://<daemon.addr>/v1
  2. Streams task changes to websocket clients at /v1/events/ws
  3. Picks up commits made by the CLI or other processes
  4. Syncs with the remote every daemon.sync_interval, when set

CLI commands forward their changes to a running daemon automatically.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := daemon.NewLogger(cfg.Daemon.LogFile)

		s, err := openStore(cmd.Context(), openOptions{
			// The daemon announces its own changes through its hub
			Notifier:    tasks.NopNotifier{},
			Logger:      logger,
			AllowMemory: true,
		})
		if err != nil {
			return err
		}
		defer s.Close()

		d, err := daemon.New(s.store, nil, &daemon.Config{
			Addr:         cfg.Daemon.Addr,
			GitDir:       s.gitDir,
			Branch:       vcs.DefaultBranch,
			SyncInterval: cfg.Daemon.SyncInterval,
			Logger:       logger,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Starting o324 daemon on http://%s\n", ui.RenderAccent("●"), cfg.Daemon.Addr)
		fmt.Fprintf(cmd.OutOrStdout(), "   Store: %s (%s)\n", cfg.Repository.Path, cfg.Storage.Backend)
		fmt.Fprintf(cmd.OutOrStdout(), "\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return d.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
