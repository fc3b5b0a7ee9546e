package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/recovery-zip/internal/logger"
)

// Config holds settings shared by the recovery-zip commands.
type Config struct {
	// FilesDir is where the cached launcher and per-build temporary files live.
	FilesDir string `yaml:"files_dir"`
	// LogLevel is the minimum level of log messages (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// FailOnEntryError aborts a build before signing when any entry fails to archive.
	FailOnEntryError bool `yaml:"fail_on_entry_error"`
	// BusyBoxListTimeout bounds the `busybox --list` probe used to discover applets.
	BusyBoxListTimeout time.Duration `yaml:"busybox_list_timeout"`
	// Signer selects how the unsigned archive is finalized.
	Signer Signer `yaml:"signer"`
}

// Signer configures an external signing command.
// An empty Command publishes the archive unsigned.
type Signer struct {
	// Command is the executable to run, for example "signapk".
	Command string `yaml:"command"`
	// Args are passed to Command; {input} and {output} are substituted.
	Args []string `yaml:"args"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "recovery-zip.yaml"

	// DefaultBusyBoxListTimeout is the default bound for the applet probe.
	DefaultBusyBoxListTimeout = 10 * time.Second

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// filesDirName is the directory created under the user cache dir.
	filesDirName = "recovery-zip"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnknownLogLevel is returned for log levels zap does not know.
	errUnknownLogLevel = errors.New("unknown log level")
	// errSignerArgsWithoutCommand is returned when signer args are set but no command.
	errSignerArgsWithoutCommand = errors.New("signer args require a signer command")
)

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := new(Config)

	// Validate only fills defaults on an empty config.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates essential fields.
// A missing file at the default path yields Default; a missing explicit path is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes Config to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings and fills in defaults for unset fields.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.LogLevel == "" {
		settings.LogLevel = DefaultLogLevel
	}

	if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
		return fmt.Errorf("%w: %s", errUnknownLogLevel, settings.LogLevel)
	}

	// Set default timeout if not specified.
	if settings.BusyBoxListTimeout <= 0 {
		settings.BusyBoxListTimeout = DefaultBusyBoxListTimeout
	}

	if settings.FilesDir == "" {
		settings.FilesDir = defaultFilesDir()
	}

	if settings.Signer.Command == "" && len(settings.Signer.Args) > 0 {
		return errSignerArgsWithoutCommand
	}

	return nil
}

// defaultFilesDir prefers the user cache dir and falls back to the system temp dir.
func defaultFilesDir() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}

	return filepath.Join(base, filesDirName)
}
