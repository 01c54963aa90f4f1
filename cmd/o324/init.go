package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/o324/o324/internal/docdb"
	"github.com/o324/o324/internal/vcs"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Create the task repository",
	Long: `Create the task repository at repository.path, or connect an existing
one to a remote.

When the remote already has history the new repository starts from it.

Examples:
  o324 init
  o324 init --remote git@github.com:me/tasks.git`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Storage.Backend == "memory" {
			return errMemoryBackend
		}
		remote, _ := cmd.Flags().GetString("remote")
		if remote == "" {
			remote = cfg.Repository.Remote
		}
		parser, err := docdb.ParserFor(cfg.Storage.Format)
		if err != nil {
			return err
		}

		db, err := docdb.Init(cmd.Context(), cfg.Repository.Path, remote, parser, &docdb.Config{
			Remote: vcs.DefaultRemote,
			Branch: vcs.DefaultBranch,
			Logger: storeLogger(cmd.ErrOrStderr(), "store"),
		})
		if err != nil {
			return err
		}
		if err := db.Close(); err != nil {
			return err
		}

		// Builds the prefix cache database
		s, err := openStore(cmd.Context(), openOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Initialized task repository in %s\n", cfg.Repository.Path)
		if remote != "" {
			fmt.Fprintf(out, "   Remote: %s\n", remote)
		}
		fmt.Fprintf(out, "   Tasks: %d\n", s.store.Cache().Len())
		return nil
	},
}

func init() {
	initCmd.Flags().String("remote", "", "URL of the remote to sync with (default repository.remote)")

	rootCmd.AddCommand(initCmd)
}
