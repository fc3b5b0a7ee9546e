package assets

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/oshokin/recovery-zip/internal/logger"
)

const (
	// UpdateBinary is the embedded name of the recovery launcher.
	UpdateBinary = "signing/update-binary"

	// ExecutableMode is applied to materialized executables.
	ExecutableMode fs.FileMode = 0o755

	// dirMode is used when creating the files directory.
	dirMode fs.FileMode = 0o755
)

//go:embed signing
var bundled embed.FS

// errNoFilesDir is returned when a Materializer has no target directory.
var errNoFilesDir = errors.New("files directory is not set")

// Bundled returns the assets compiled into the binary.
func Bundled() fs.FS {
	return bundled
}

// Materializer extracts assets from FS into Dir.
type Materializer struct {
	// Dir is where extracted assets are cached.
	Dir string
	// FS holds the assets; nil means Bundled.
	FS fs.FS
}

// NewMaterializer returns a Materializer for the bundled assets.
func NewMaterializer(dir string) *Materializer {
	return &Materializer{Dir: dir, FS: bundled}
}

// Path returns where the asset name is cached, whether or not it exists yet.
func (m *Materializer) Path(name string) string {
	return filepath.Join(m.Dir, path.Base(name))
}

// Ensure returns the cached path of name, extracting it with mode first if missing.
// An existing file is returned untouched.
func (m *Materializer) Ensure(ctx context.Context, name string, mode fs.FileMode) (string, error) {
	if m.Dir == "" {
		return "", errNoFilesDir
	}

	dst := m.Path(name)

	info, err := os.Stat(dst)
	if err == nil && info.Mode().IsRegular() {
		logger.DebugKV(ctx, "Asset already materialized", "asset", name, "path", dst)
		return dst, nil
	}

	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", dst, err)
	}

	if err = m.extract(name, dst, mode); err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Materialized asset", "asset", name, "path", dst, "mode", mode.String())

	return dst, nil
}

// extract writes name next to dst under a temporary name and renames it into place.
func (m *Materializer) extract(name, dst string, mode fs.FileMode) error {
	source := m.FS
	if source == nil {
		source = bundled
	}

	src, err := source.Open(name)
	if err != nil {
		return fmt.Errorf("open asset %s: %w", name, err)
	}

	defer func() {
		_ = src.Close()
	}()

	if err = os.MkdirAll(m.Dir, dirMode); err != nil {
		return fmt.Errorf("create files directory: %w", err)
	}

	tmp, err := os.CreateTemp(m.Dir, "."+path.Base(name)+"-*")
	if err != nil {
		return fmt.Errorf("create asset file: %w", err)
	}

	tmpName := tmp.Name()

	// Best-effort cleanup; after a successful rename the name no longer exists.
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err = io.Copy(tmp, src); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("copy asset %s: %w", name, err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close asset file: %w", err)
	}

	if err = os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod asset file: %w", err)
	}

	if err = os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("install asset %s: %w", name, err)
	}

	return nil
}
