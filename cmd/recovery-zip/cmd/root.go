package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/recovery-zip/internal/config"
	"github.com/oshokin/recovery-zip/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the configured log level.
	logLevel string

	// rootCmd represents the base command when called without any subcommands.
	rootCmd = &cobra.Command{
		Use:           "recovery-zip",
		Short:         "Build Android recovery-flashable packages for multi-call tools",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
)

// Execute runs the recovery-zip CLI and exits with non-zero status on error.
func Execute() {
	os.Exit(Run())
}

// Run executes the CLI with os.Args and returns the process exit code.
func Run() int {
	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return 1
	}

	return 0
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	version.AttachCobraVersionCommand(rootCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
}
