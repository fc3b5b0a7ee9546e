package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oshokin/recovery-zip/internal/recovery/archive"
	"github.com/oshokin/recovery-zip/internal/recovery/tool"
	"github.com/oshokin/recovery-zip/internal/service/packager"
)

// defaultInstallPath is where BusyBox traditionally lives on rooted devices.
const defaultInstallPath = "/system/xbin/busybox"

var errBadExtraEntry = errors.New("extra entry must be SOURCE:DESTINATION")

var (
	buildTool        string
	buildInstallPath string
	buildOutput      string
	buildApplets     []string
	buildAppletsFile string
	buildExtra       []string

	// buildCmd packages a tool into a recovery-flashable zip.
	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Package a tool, its updater-script and the launcher into a recovery zip",
		Long: "Package a multi-call tool into a recovery-flashable zip. Applets come from --applets, " +
			"from a YAML descriptor given with --applets-file, or from running the tool with --list.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			desc, err := buildDescriptor()
			if err != nil {
				return err
			}

			extra, err := parseExtra(buildExtra)
			if err != nil {
				return err
			}

			options := &packager.Options{
				ConfigPath:  configPath,
				LogLevel:    logLevel,
				Tool:        desc,
				InstallPath: buildInstallPath,
				Destination: buildOutput,
				Extra:       extra,
			}

			return packager.Run(cmd.Context(), options)
		},
	}
)

// buildDescriptor picks the applet source from the flags.
//
//nolint:ireturn // The descriptor implementation depends on the flags.
func buildDescriptor() (tool.Descriptor, error) {
	switch {
	case buildAppletsFile != "":
		desc, err := tool.LoadFile(buildAppletsFile)
		if err != nil {
			return nil, err
		}

		if buildTool != "" {
			desc.Binary = buildTool
		}

		return desc, nil
	case len(buildApplets) > 0:
		return &tool.Static{Binary: buildTool, Names: tool.ParseList(strings.Join(buildApplets, ","))}, nil
	default:
		return &tool.BusyBox{Binary: buildTool}, nil
	}
}

// parseExtra splits SOURCE:DESTINATION pairs at the last colon.
func parseExtra(pairs []string) ([]archive.Entry, error) {
	entries := make([]archive.Entry, 0, len(pairs))

	for _, pair := range pairs {
		i := strings.LastIndex(pair, ":")
		if i <= 0 || i == len(pair)-1 {
			return nil, fmt.Errorf("%w: %q", errBadExtraEntry, pair)
		}

		entries = append(entries, archive.Entry{Source: pair[:i], Destination: pair[i+1:]})
	}

	return entries, nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := buildCmd.Flags()
	flags.StringVarP(&buildTool, "tool", "t", "", "path to the tool binary on this machine")
	flags.StringVarP(&buildInstallPath, "install-path", "i", defaultInstallPath, "where the tool is installed on the device")
	flags.StringVarP(&buildOutput, "output", "o", "", "signed zip to write")
	flags.StringSliceVarP(&buildApplets, "applets", "a", nil, "comma separated applet names to symlink")
	flags.StringVar(&buildAppletsFile, "applets-file", "", "YAML descriptor with path and applets")
	flags.StringArrayVar(&buildExtra, "add", nil, "extra SOURCE:DESTINATION to archive (repeatable)")

	_ = buildCmd.MarkFlagRequired("output")
	buildCmd.MarkFlagsMutuallyExclusive("applets", "applets-file")

	rootCmd.AddCommand(buildCmd)
}
