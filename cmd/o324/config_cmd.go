package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/o324/o324/internal/config"
	"github.com/o324/o324/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage the o324 configuration",
	Long: `Manage the o324 configuration file.

Every key can be overridden with an O324_ environment variable, with dots
replaced by underscores, e.g. O324_REPOSITORY_PATH or O324_DAEMON_ADDR. A .env
file in the working directory is read as well.`,
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the current configuration to the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := configPath()

		exists, err := afero.Exists(fsys, path)
		if err != nil {
			return err
		}
		if exists && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Write(fsys, path, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Encode(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s", ui.RenderMuted("# "+configPath()), data)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
