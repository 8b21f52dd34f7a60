package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/MeKo-Tech/spotter/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and generate configuration",
	Long: `Inspect the effective configuration and where it was loaded from, validate
configuration files and write a starter file holding every default.

Settings are merged from flags, SPOTTER_* environment variables, the config
file and built-in defaults, in that order of precedence.`,
}

var configShowCmd = &cobra.Command{
	Use:          "show",
	Short:        "Print the effective configuration as YAML",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(GetConfigLoader().Settings()); err != nil {
			return err
		}
		return enc.Close()
	},
}

var configPathsCmd = &cobra.Command{
	Use:          "paths",
	Short:        "Show the config file in use and the search paths",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return GetConfigLoader().WriteInfo(cmd.OutOrStdout())
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a config file holding every default",
	Long: `Write a config file holding every default value. The file name defaults to
spotter.yaml in the current directory; an existing file is kept unless --force
is given.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			path = args[0]
		}

		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		if err := config.GenerateDefaultConfigFile(path); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a config file without running anything",
	Long: `Load a config file, or the one found on the search paths, and report every
invalid value.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		file := ""
		if len(args) == 1 {
			file = args[0]
		}

		loader := config.NewLoaderWithViper(viper.New())
		cfg, err := loader.LoadWithFileWithoutValidation(file)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		source := loader.GetConfigFileUsed()
		if source == "" {
			source = "defaults"
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK (%s)\n", source)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configPathsCmd, configInitCmd, configValidateCmd)
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
}
