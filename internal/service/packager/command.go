package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/oshokin/recovery-zip/internal/config"
	"github.com/oshokin/recovery-zip/internal/logger"
	"github.com/oshokin/recovery-zip/internal/recovery/archive"
	"github.com/oshokin/recovery-zip/internal/recovery/signer"
	"github.com/oshokin/recovery-zip/internal/recovery/tool"
	"github.com/oshokin/recovery-zip/internal/recovery/updaterscript"
)

const (
	// systemRoot is the tree the updater-script extracts.
	systemRoot = "/system/"

	// filesDirMode is used when creating the files directory.
	filesDirMode os.FileMode = 0o755
)

var (
	// ErrInvalidInstallPath is returned for install paths the script cannot use.
	ErrInvalidInstallPath = errors.New("invalid install path")

	errToolRequired        = errors.New("tool is required")
	errDestinationRequired = errors.New("destination is required")
	errToolNotRegularFile  = errors.New("tool binary is not a regular file")
)

// Options contains inputs for the packager entry point.
type Options struct {
	// ConfigPath is an optional path to the settings YAML (defaults to recovery-zip.yaml).
	ConfigPath string
	// LogLevel overrides the configured log level when set.
	LogLevel string
	// Tool is the multi-call binary to package.
	Tool tool.Descriptor
	// InstallPath is where the tool lands on the device, for example /system/xbin/busybox.
	InstallPath string
	// Destination is the signed archive to write.
	Destination string
	// Extra are additional files or trees placed into the archive.
	Extra []archive.Entry
}

// Run loads configuration and builds one recovery package.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "packager")
	ctx = logger.WithKV(ctx, "destination", opts.Destination)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	level, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}

	logger.SetLevel(level)

	builder, err := NewBuilder(cfg)
	if err != nil {
		return fmt.Errorf("initialize builder: %w", err)
	}

	descriptor := withListTimeout(opts.Tool, cfg.BusyBoxListTimeout)

	result, err := CreateRecoveryZip(ctx, builder, descriptor, opts.InstallPath, opts.Destination, opts.Extra...)
	if err != nil {
		logger.ErrorKV(ctx, "Unable to build recovery package", "error", err)

		return fmt.Errorf("packager failed: %w", err)
	}

	printNextSteps(ctx, opts, result)

	return nil
}

// withListTimeout returns a copy of a BusyBox probe with its unset timeout filled in.
// Other descriptors are returned unchanged.
//
//nolint:ireturn // The descriptor keeps its concrete type behind the interface.
func withListTimeout(d tool.Descriptor, timeout time.Duration) tool.Descriptor {
	probe, isProbe := d.(*tool.BusyBox)
	if !isProbe || probe == nil || probe.Timeout > 0 {
		return d
	}

	bounded := *probe
	bounded.Timeout = timeout

	return &bounded
}

// NewBuilder returns an archive builder wired from cfg.
func NewBuilder(cfg *config.Config) (*archive.Builder, error) {
	return archive.NewBuilder(archive.Options{
		FilesDir:         cfg.FilesDir,
		Signer:           NewSigner(cfg.Signer),
		FailOnEntryError: cfg.FailOnEntryError,
	})
}

// NewSigner picks the signer described by cfg.
//
//nolint:ireturn // The signer implementation is chosen by configuration.
func NewSigner(cfg config.Signer) archive.Signer {
	if cfg.Command == "" {
		return signer.Copy{}
	}

	return &signer.Command{Path: cfg.Command, Args: append([]string(nil), cfg.Args...)}
}

// CreateRecoveryZip packages t for installation at installPath into destination.
// The updater-script is generated into a temporary file that is removed afterwards.
func CreateRecoveryZip(
	ctx context.Context,
	b *archive.Builder,
	t tool.Descriptor,
	installPath, destination string,
	extra ...archive.Entry,
) (*archive.Result, error) {
	if t == nil {
		return nil, errToolRequired
	}

	if destination == "" {
		return nil, errDestinationRequired
	}

	if err := ValidateInstallPath(installPath); err != nil {
		return nil, err
	}

	if !strings.HasPrefix(installPath, systemRoot) {
		logger.WarnKV(ctx, "Install path is outside the extracted system tree", "install_path", installPath)
	}

	info, err := os.Stat(t.Path())
	if err != nil {
		return nil, fmt.Errorf("tool binary: %w", err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", t.Path(), errToolNotRegularFile)
	}

	applets, err := t.Applets(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve applets: %w", err)
	}

	logger.InfoKV(ctx, "Generating updater-script", "install_path", installPath, "applets", len(applets))

	script, err := writeScript(b.FilesDir(), installPath, applets)
	if err != nil {
		return nil, err
	}

	defer func() {
		if rmErr := os.Remove(script); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.DebugKV(ctx, "Unable to remove updater-script", "path", script, "error", rmErr)
		}
	}()

	entries := make([]archive.Entry, 0, len(extra)+1)
	entries = append(entries, archive.Entry{Source: t.Path(), Destination: installPath})
	entries = append(entries, extra...)

	return b.CreateUpdatePackage(ctx, destination, script, entries)
}

// ValidateInstallPath accepts absolute, clean, slash separated file paths.
func ValidateInstallPath(installPath string) error {
	switch {
	case !strings.HasPrefix(installPath, "/"):
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidInstallPath, installPath)
	case installPath == "/" || strings.HasSuffix(installPath, "/"):
		return fmt.Errorf("%w: %q names a directory", ErrInvalidInstallPath, installPath)
	case path.Clean(installPath) != installPath:
		return fmt.Errorf("%w: %q is not clean", ErrInvalidInstallPath, installPath)
	case strings.ContainsAny(installPath, "\"\\\n"):
		return fmt.Errorf("%w: %q contains characters the script cannot quote", ErrInvalidInstallPath, installPath)
	default:
		return nil
	}
}

// writeScript renders the updater-script into a new temporary file in dir.
func writeScript(dir, installPath string, applets []string) (string, error) {
	if err := os.MkdirAll(dir, filesDirMode); err != nil {
		return "", fmt.Errorf("create files directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "updater-script-*")
	if err != nil {
		return "", fmt.Errorf("create updater-script: %w", err)
	}

	name := f.Name()

	if err = f.Close(); err != nil {
		_ = os.Remove(name)

		return "", fmt.Errorf("create updater-script: %w", err)
	}

	if err = updaterscript.Write(name, installPath, applets); err != nil {
		_ = os.Remove(name)

		return "", err
	}

	return name, nil
}

// printNextSteps logs human-readable guidance for flashing the package.
func printNextSteps(ctx context.Context, opts *Options, result *archive.Result) {
	var builder strings.Builder

	builder.WriteString("Recovery package written to ")
	builder.WriteString(opts.Destination)
	builder.WriteString(".\nFlash it from recovery to install ")
	builder.WriteString(path.Base(opts.InstallPath))
	builder.WriteString(" at ")
	builder.WriteString(opts.InstallPath)
	builder.WriteString(".")

	if len(result.Skipped) > 0 {
		builder.WriteString("\nSkipped sources:\n")
		builder.WriteString(strings.Join(result.Skipped, ",\n"))
	}

	logger.Info(ctx, builder.String())

	if result.EntryErrors != nil {
		logger.WarnKV(ctx, "Some entries were not archived", "error", result.EntryErrors)
	}
}
