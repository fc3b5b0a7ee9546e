package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/oshokin/recovery-zip/internal/logger"
	"github.com/oshokin/recovery-zip/internal/recovery/assets"
	"github.com/oshokin/recovery-zip/internal/recovery/signer"
)

const (
	// UpdateBinaryPath is where recovery looks for the launcher.
	UpdateBinaryPath = "META-INF/com/google/android/update-binary"
	// UpdaterScriptPath is where the launcher looks for the installer script.
	UpdaterScriptPath = "META-INF/com/google/android/updater-script"

	// copyBufferSize is the chunk size used when streaming sources into the zip.
	copyBufferSize = 4096

	// filesDirMode is used when creating the files directory.
	filesDirMode os.FileMode = 0o755
)

var (
	// ErrReservedPath is returned when a caller entry targets the launcher or script path.
	ErrReservedPath = errors.New("archive path is reserved")
	// ErrEntryFailures wraps per-entry failures when the build is configured to abort on them.
	ErrEntryFailures = errors.New("some entries could not be archived")
	// ErrDuplicateEntry is recorded when two sources map to the same archive path.
	ErrDuplicateEntry = errors.New("duplicate archive path")
	// ErrPartialEntry aborts a build whose source failed after its zip entry was started.
	// The zip stream cannot drop a started entry, so the archive is discarded.
	ErrPartialEntry = errors.New("archive entry written partially")

	errEmptyDestination = errors.New("archive path is empty")
	errNoFilesDir       = errors.New("files directory is not set")
	errMissingRequired  = errors.New("required archive entry is missing")
)

// Entry maps a file or directory on disk to a path inside the archive.
type Entry struct {
	// Source is a file system path; directories are archived recursively.
	Source string
	// Destination is the slash-separated archive path. A leading slash is ignored.
	// For a directory it names the archive directory that receives the tree.
	Destination string
}

// Signer finalizes an unsigned archive at destination.
type Signer interface {
	Sign(ctx context.Context, unsigned, destination string) error
}

// Materializer provides on-disk copies of bundled assets.
type Materializer interface {
	Ensure(ctx context.Context, name string, mode fs.FileMode) (string, error)
}

// Options configures a Builder.
type Options struct {
	// FilesDir holds the cached launcher and the per-build temporary archive.
	FilesDir string
	// Assets provides the launcher; nil means the bundled assets cached in FilesDir.
	Assets Materializer
	// Signer publishes the archive; nil means signer.Copy.
	Signer Signer
	// FailOnEntryError aborts before signing when any entry failed.
	FailOnEntryError bool
}

// Result describes what a build put into the archive.
type Result struct {
	// Archived lists archive paths in write order.
	Archived []string
	// Skipped lists sources that were missing or neither regular files nor directories.
	Skipped []string
	// EntryErrors combines every per-entry failure, or is nil.
	EntryErrors error
}

// Builder creates recovery update packages.
type Builder struct {
	filesDir         string
	assets           Materializer
	signer           Signer
	failOnEntryError bool
}

// NewBuilder returns a Builder for opts.
func NewBuilder(opts Options) (*Builder, error) {
	if opts.FilesDir == "" {
		return nil, errNoFilesDir
	}

	b := &Builder{
		filesDir:         opts.FilesDir,
		assets:           opts.Assets,
		signer:           opts.Signer,
		failOnEntryError: opts.FailOnEntryError,
	}

	if b.assets == nil {
		b.assets = assets.NewMaterializer(opts.FilesDir)
	}

	if b.signer == nil {
		b.signer = signer.Copy{}
	}

	return b, nil
}

// FilesDir returns the directory holding the launcher and temporary archives.
func (b *Builder) FilesDir() string {
	return b.filesDir
}

// CreateUpdatePackage zips entries together with the launcher and script into a
// temporary archive, signs it into destination and removes the temporary archive.
// Per-entry failures are reported in Result; archive creation, partially
// written entries and signing failures are returned.
func (b *Builder) CreateUpdatePackage(
	ctx context.Context,
	destination, script string,
	entries []Entry,
) (*Result, error) {
	ctx = logger.WithName(ctx, "archive")

	for _, e := range entries {
		name := Normalize(e.Destination)
		if name == UpdateBinaryPath || name == UpdaterScriptPath {
			return nil, fmt.Errorf("%s: %w", e.Destination, ErrReservedPath)
		}
	}

	launcher, err := b.assets.Ensure(ctx, assets.UpdateBinary, assets.ExecutableMode)
	if err != nil {
		return nil, fmt.Errorf("materialize launcher: %w", err)
	}

	if err = os.MkdirAll(b.filesDir, filesDirMode); err != nil {
		return nil, fmt.Errorf("create files directory: %w", err)
	}

	temp, err := os.CreateTemp(b.filesDir, "tmp-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create temporary archive: %w", err)
	}

	tempName := temp.Name()

	defer func() {
		if rmErr := os.Remove(tempName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.DebugKV(ctx, "Unable to remove temporary archive", "path", tempName, "error", rmErr)
		}
	}()

	w := &writer{
		zw:   zip.NewWriter(temp),
		seen: make(map[string]struct{}, len(entries)+2),
		buf:  make([]byte, copyBufferSize),
	}

	err = w.writeAll(ctx, entries, launcher, script)
	err = multierr.Combine(err, w.zw.Close(), temp.Close())

	if err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}

	result := &w.result

	if result.EntryErrors != nil {
		if b.failOnEntryError {
			return result, fmt.Errorf("%w: %w", ErrEntryFailures, result.EntryErrors)
		}

		logger.WarnKV(ctx, "Archive built with failed entries",
			"failed", len(multierr.Errors(result.EntryErrors)), "error", result.EntryErrors)
	}

	logger.InfoKV(ctx, "Archive written",
		"entries", len(result.Archived), "skipped", len(result.Skipped), "temp", tempName)

	if err = b.signer.Sign(ctx, tempName, destination); err != nil {
		return result, fmt.Errorf("sign archive: %w", err)
	}

	logger.InfoKV(ctx, "Update package ready", "destination", destination)

	return result, nil
}

// Normalize turns a virtual path into a zip entry name: slash separated,
// cleaned, without leading slash and unable to climb above the archive root.
func Normalize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")

	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

// writer holds the state of one zip stream.
type writer struct {
	zw     *zip.Writer
	seen   map[string]struct{}
	buf    []byte
	result Result
}

// writeAll archives caller entries, then the launcher and the script.
// The returned error is fatal; entry failures are collected in w.result.
func (w *writer) writeAll(ctx context.Context, entries []Entry, launcher, script string) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.addEntry(ctx, e); err != nil {
			return err
		}
	}

	for _, required := range []Entry{
		{Source: launcher, Destination: UpdateBinaryPath},
		{Source: script, Destination: UpdaterScriptPath},
	} {
		if _, taken := w.seen[required.Destination]; taken {
			return fmt.Errorf("%s: %w", required.Destination, ErrReservedPath)
		}

		info, err := os.Stat(required.Source)
		if err != nil {
			return fmt.Errorf("%s: %w: %w", required.Destination, errMissingRequired, err)
		}

		if !info.Mode().IsRegular() {
			return fmt.Errorf("%s: %w: %s is not a regular file", required.Destination, errMissingRequired, required.Source)
		}

		if err = w.addFile(required.Source, required.Destination, info); err != nil {
			return fmt.Errorf("%s: %w", required.Destination, err)
		}

		w.result.Archived = append(w.result.Archived, required.Destination)
	}

	return nil
}

// addEntry archives one caller entry.
// Only context cancellation and ErrPartialEntry are returned.
func (w *writer) addEntry(ctx context.Context, e Entry) error {
	info, err := os.Stat(e.Source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.skip(ctx, e.Source)
			return nil
		}

		w.fail(ctx, e.Source, err)

		return nil
	}

	name := Normalize(e.Destination)

	switch {
	case info.Mode().IsRegular():
		if name == "" {
			w.fail(ctx, e.Source, errEmptyDestination)
			return nil
		}

		return w.addArchived(ctx, e.Source, name, info)
	case info.IsDir():
		root, err := filepath.EvalSymlinks(e.Source)
		if err != nil {
			w.fail(ctx, e.Source, err)
			return nil
		}

		return w.addTree(ctx, root, name)
	default:
		w.skip(ctx, e.Source)
		return nil
	}
}

// addTree archives every regular file under root at prefix/<relative path>.
// Empty directories produce no entries and symlinked directories are not followed.
func (w *writer) addTree(ctx context.Context, root, prefix string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			w.fail(ctx, p, walkErr)

			if d != nil && d.IsDir() && p != root {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		info, err := os.Stat(p)
		if err != nil {
			w.fail(ctx, p, err)
			return nil
		}

		if !info.Mode().IsRegular() {
			w.skip(ctx, p)
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			w.fail(ctx, p, err)
			return nil
		}

		return w.addArchived(ctx, p, path.Join(prefix, filepath.ToSlash(rel)), info)
	})
}

// addArchived writes one file and records the outcome.
func (w *writer) addArchived(ctx context.Context, src, name string, info fs.FileInfo) error {
	if err := w.addFile(src, name, info); err != nil {
		if errors.Is(err, ErrPartialEntry) {
			return err
		}

		w.fail(ctx, src, err)

		return nil
	}

	w.result.Archived = append(w.result.Archived, name)
	logger.DebugKV(ctx, "Archived entry", "source", src, "path", name)

	return nil
}

// addFile streams src into a new zip entry named name.
// Failures after the entry header is written wrap ErrPartialEntry.
func (w *writer) addFile(src, name string, info fs.FileInfo) error {
	if _, dup := w.seen[name]; dup {
		return fmt.Errorf("%s: %w", name, ErrDuplicateEntry)
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header for %s: %w", src, err)
	}

	header.Name = name
	header.Method = zip.Deflate

	out, err := w.zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("%w: zip entry %s: %w", ErrPartialEntry, name, err)
	}

	w.seen[name] = struct{}{}

	if _, err = io.CopyBuffer(out, in, w.buf); err != nil {
		return fmt.Errorf("%w: %s: copy %s: %w", ErrPartialEntry, name, src, err)
	}

	return nil
}

func (w *writer) skip(ctx context.Context, src string) {
	w.result.Skipped = append(w.result.Skipped, src)
	logger.WarnKV(ctx, "Skipping source that is neither a file nor a directory", "source", src)
}

func (w *writer) fail(ctx context.Context, src string, err error) {
	w.result.EntryErrors = multierr.Append(w.result.EntryErrors, fmt.Errorf("%s: %w", src, err))
	logger.WarnKV(ctx, "Unable to archive entry", "source", src, "error", err)
}
