package tool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultListTimeout bounds the applet probe when BusyBox.Timeout is unset.
const DefaultListTimeout = 10 * time.Second

var (
	// ErrInvalidApplet is returned for applet names that cannot become symlinks.
	ErrInvalidApplet = errors.New("invalid applet name")

	errNoBinary = errors.New("tool binary path is empty")
)

// Descriptor exposes a tool binary and its applets.
type Descriptor interface {
	Path() string
	Applets(ctx context.Context) ([]string, error)
}

// Static is a Descriptor with a fixed applet list.
type Static struct {
	// Binary is the tool executable on the host.
	Binary string `yaml:"path"`
	// Names are the applets in symlink order.
	Names []string `yaml:"applets"`
}

// Path returns the tool executable.
func (s *Static) Path() string {
	return s.Binary
}

// Applets returns a validated copy of Names.
func (s *Static) Applets(_ context.Context) ([]string, error) {
	if err := ValidateApplets(s.Names); err != nil {
		return nil, err
	}

	return append([]string(nil), s.Names...), nil
}

// LoadFile reads a YAML descriptor with `path` and `applets` keys.
// A relative path is resolved against the descriptor's directory.
func LoadFile(name string) (*Static, error) {
	contents, err := os.ReadFile(filepath.Clean(name))
	if err != nil {
		return nil, fmt.Errorf("read tool descriptor: %w", err)
	}

	var s Static
	if err = yaml.Unmarshal(contents, &s); err != nil {
		return nil, fmt.Errorf("unmarshal tool descriptor: %w", err)
	}

	if s.Binary != "" && !filepath.IsAbs(s.Binary) {
		s.Binary = filepath.Join(filepath.Dir(name), s.Binary)
	}

	if err = ValidateApplets(s.Names); err != nil {
		return nil, err
	}

	return &s, nil
}

// BusyBox discovers applets by running `<Binary> --list`.
// The binary must be runnable on the host.
type BusyBox struct {
	// Binary is the busybox executable.
	Binary string
	// Timeout bounds the probe; zero means DefaultListTimeout.
	Timeout time.Duration
}

// Path returns the busybox executable.
func (b *BusyBox) Path() string {
	return b.Binary
}

// Applets returns the names printed by `--list`, without busybox itself.
func (b *BusyBox) Applets(ctx context.Context) ([]string, error) {
	if b.Binary == "" {
		return nil, errNoBinary
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultListTimeout
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := exec.CommandContext(cmdCtx, b.Binary, "--list").Output()
	if err != nil {
		return nil, fmt.Errorf("list applets of %s: %w", b.Binary, err)
	}

	self := filepath.Base(b.Binary)
	applets := make([]string, 0, bytes.Count(output, []byte("\n")))

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" || name == self {
			continue
		}

		applets = append(applets, name)
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("read applet list: %w", err)
	}

	if err = ValidateApplets(applets); err != nil {
		return nil, err
	}

	return applets, nil
}

// ValidateApplets rejects names that would break the generated symlink statement.
func ValidateApplets(applets []string) error {
	for _, name := range applets {
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\",\n") {
			return fmt.Errorf("%w: %q", ErrInvalidApplet, name)
		}
	}

	return nil
}

// ParseList splits a comma separated applet list, dropping blanks.
func ParseList(list string) []string {
	var applets []string

	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			applets = append(applets, name)
		}
	}

	return applets
}
