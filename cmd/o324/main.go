// Command o324 is a local-first time tracker that keeps tasks in a git
// repository.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/o324/o324/internal/config"
	"github.com/o324/o324/internal/ui"
)

var (
	cfgFile string
	cfg     *config.Config

	// fsys is where configuration files are read and written
	fsys afero.Fs = afero.NewOsFs()
)

var rootCmd = &cobra.Command{
	Use:   "o324",
	Short: "Track what you work on, synced through git",
	Long: `o324 records time-boxed tasks in a git repository.

Every change is one commit, so the history can be shared between machines
with 'o324 sync' and 'o324 push'. At most one task runs at a time.

Tasks are referenced by any unique prefix of their id, by 'current' for the
running task, or by '@N' for the Nth newest task ('@last' is '@0').`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Setup(os.Stdout)
		loaded, err := config.Load(fsys, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+config.DefaultPath()+")")

	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
