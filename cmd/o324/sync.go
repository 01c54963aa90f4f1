package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/o324/o324/internal/docdb"
	"github.com/o324/o324/internal/ui"
	"github.com/o324/o324/internal/vcs"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Fetch the remote and rebase local tasks onto it",
	Long: `Fetch the remote branch and replay local commits on top of it.

Conflicting edits to the same day are merged task by task. When both sides
changed a task the local version wins, and a modification wins over a
delete. Afterwards at most one task is left running. Documents that could
not be merged keep the remote version and are listed.

Examples:
  o324 sync
  o324 sync --push   # publish the result`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		push, _ := cmd.Flags().GetBool("push")

		s, err := openStore(cmd.Context(), openOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.store.Sync(cmd.Context())
		if err != nil {
			return err
		}
		printReport(cmd, result.Report)

		if push {
			if err := s.store.Push(cmd.Context()); err != nil {
				return pushError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Pushed\n", ui.RenderPass("✓"))
		}
		return conflictError(result.Report)
	},
}

// conflictError fails the command when a sync kept the remote side of
// any document.
func conflictError(r *docdb.SyncReport) error {
	if len(r.Conflicts) == 0 {
		return nil
	}
	return &docdb.ConflictError{Conflicts: r.Conflicts}
}

func printReport(cmd *cobra.Command, r *docdb.SyncReport) {
	out := cmd.OutOrStdout()
	switch {
	case r.UpToDate:
		fmt.Fprintf(out, "%s Already up to date\n", ui.RenderPass("✓"))
	case r.FastForward:
		fmt.Fprintf(out, "%s Fast-forwarded to %s\n", ui.RenderPass("✓"), ui.RenderAccent(shortHash(r.Head)))
	default:
		fmt.Fprintf(out, "%s Rebased %d commit(s) onto the remote, %d skipped, now at %s\n",
			ui.RenderPass("✓"), r.Replayed, r.Skipped, ui.RenderAccent(shortHash(r.Head)))
	}
	for _, key := range r.Changed {
		fmt.Fprintf(out, "   %s %s\n", ui.RenderMuted("changed"), key)
	}
	for _, c := range r.Conflicts {
		fmt.Fprintf(out, "   %s %s (kept the remote version)\n", ui.RenderWarn("conflict"), c.Key)
	}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "sync",
	Short:   "Publish local commits to the remote",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context(), openOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.store.Push(cmd.Context()); err != nil {
			return pushError(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Pushed\n", ui.RenderPass("✓"))
		return nil
	},
}

func pushError(err error) error {
	if vcs.IsRetryable(err) {
		return fmt.Errorf("%w (run 'o324 sync' and push again)", err)
	}
	return err
}

func init() {
	syncCmd.Flags().Bool("push", false, "Push after a successful sync")

	rootCmd.AddCommand(syncCmd, pushCmd)
}
