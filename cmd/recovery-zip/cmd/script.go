package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oshokin/recovery-zip/internal/recovery/tool"
	"github.com/oshokin/recovery-zip/internal/recovery/updaterscript"
	"github.com/oshokin/recovery-zip/internal/service/packager"
)

var (
	scriptInstallPath string
	scriptApplets     []string

	// scriptCmd prints the updater-script without building a package.
	scriptCmd = &cobra.Command{
		Use:   "script",
		Short: "Print the updater-script for an install path and applet list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := packager.ValidateInstallPath(scriptInstallPath); err != nil {
				return err
			}

			applets := tool.ParseList(strings.Join(scriptApplets, ","))
			if err := tool.ValidateApplets(applets); err != nil {
				return err
			}

			_, err := fmt.Fprint(cmd.OutOrStdout(), updaterscript.Render(scriptInstallPath, applets))

			return err
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	scriptCmd.Flags().StringVarP(&scriptInstallPath, "install-path", "i", defaultInstallPath, "where the tool is installed on the device")
	scriptCmd.Flags().StringSliceVarP(&scriptApplets, "applets", "a", nil, "comma separated applet names to symlink")

	rootCmd.AddCommand(scriptCmd)
}
