package signer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/oshokin/recovery-zip/internal/logger"
)

const (
	// InputPlaceholder is replaced with the unsigned archive path.
	InputPlaceholder = "{input}"
	// OutputPlaceholder is replaced with the path the signer must write.
	OutputPlaceholder = "{output}"
)

var (
	errSignerCommandRequired = errors.New("signer command is required")
	errNoSignedOutput        = errors.New("signer produced no output")
)

// Copy publishes archives without signing them.
// Recoveries with signature verification disabled accept such packages.
type Copy struct{}

// Sign installs unsigned at destination unchanged.
func (Copy) Sign(ctx context.Context, unsigned, destination string) error {
	logger.InfoKV(ctx, "Publishing unsigned archive", "destination", destination)

	return Publish(unsigned, destination, DefaultFileMode)
}

// Command runs an external signing tool and publishes what it writes.
type Command struct {
	// Path is the signing executable.
	Path string
	// Args are passed to Path after placeholder substitution.
	Args []string
}

// Sign runs the command with {input} set to unsigned and {output} set to a temporary
// file next to it, then publishes that file at destination.
func (c *Command) Sign(ctx context.Context, unsigned, destination string) error {
	if c.Path == "" {
		return errSignerCommandRequired
	}

	out, err := os.CreateTemp(filepath.Dir(unsigned), "signed-*.zip")
	if err != nil {
		return fmt.Errorf("create signed archive: %w", err)
	}

	signed := out.Name()
	_ = out.Close()

	defer func() {
		if rmErr := os.Remove(signed); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.DebugKV(ctx, "Unable to remove signed temp file", "path", signed, "error", rmErr)
		}
	}()

	args := c.expand(unsigned, signed)

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Stderr = &stderr

	logger.InfoKV(ctx, "Signing archive", "command", c.Path, "args", args)

	if err = cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w: %s", c.Path, err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(signed)
	if err != nil {
		return fmt.Errorf("stat signed archive: %w", err)
	}

	if info.Size() == 0 {
		return fmt.Errorf("%s: %w", c.Path, errNoSignedOutput)
	}

	return Publish(signed, destination, DefaultFileMode)
}

// expand substitutes the placeholders in every argument.
func (c *Command) expand(input, output string) []string {
	replacer := strings.NewReplacer(InputPlaceholder, input, OutputPlaceholder, output)

	args := make([]string, 0, len(c.Args))
	for _, arg := range c.Args {
		args = append(args, replacer.Replace(arg))
	}

	return args
}
