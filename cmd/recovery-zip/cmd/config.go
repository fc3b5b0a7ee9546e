package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/recovery-zip/internal/config"
)

var errConfigExists = errors.New("configuration file already exists")

var (
	configForce bool

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the recovery-zip configuration file",
	}

	// configInitCmd writes a configuration file populated with defaults.
	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultConfigFilename
			}

			if _, err := os.Stat(path); err == nil && !configForce {
				return fmt.Errorf("%s: %w (use --force to overwrite)", path, errConfigExists)
			}

			cfg := config.Default()
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			if err := config.Save(path, cfg); err != nil {
				return err
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)

			return err
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
