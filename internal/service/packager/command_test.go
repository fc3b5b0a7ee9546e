package packager

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/recovery-zip/internal/config"
	"github.com/oshokin/recovery-zip/internal/recovery/archive"
	"github.com/oshokin/recovery-zip/internal/recovery/signer"
	"github.com/oshokin/recovery-zip/internal/recovery/tool"
	"github.com/oshokin/recovery-zip/internal/recovery/updaterscript"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(name, []byte(contents), 0o755))

	return name
}

func zipContents(t *testing.T, name string) map[string]string {
	t.Helper()

	zr, err := zip.OpenReader(name)
	require.NoError(t, err)

	defer func() {
		_ = zr.Close()
	}()

	out := make(map[string]string, len(zr.File))

	for _, zf := range zr.File {
		rc, err := zf.Open()
		require.NoError(t, err)

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		out[zf.Name] = string(data)
	}

	return out
}

// TestCreateRecoveryZip builds a package and checks tool, launcher and script entries.
func TestCreateRecoveryZip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	filesDir := filepath.Join(dir, "files")
	busybox := writeFile(t, filepath.Join(dir, "busybox"), "ELF")
	extra := writeFile(t, filepath.Join(dir, "mkshrc"), "rc")
	dst := filepath.Join(dir, "busybox.zip")

	b, err := archive.NewBuilder(archive.Options{FilesDir: filesDir})
	require.NoError(t, err)

	desc := &tool.Static{Binary: busybox, Names: []string{"sh", "ls", "mount"}}

	result, err := CreateRecoveryZip(context.Background(), b, desc, "/system/xbin/busybox", dst,
		archive.Entry{Source: extra, Destination: "/system/etc/mkshrc"})
	require.NoError(t, err)
	require.Len(t, result.Archived, 4)

	got := zipContents(t, dst)
	require.Len(t, got, 4)
	require.Equal(t, "ELF", got["system/xbin/busybox"])
	require.Equal(t, "rc", got["system/etc/mkshrc"])
	require.Contains(t, got[archive.UpdateBinaryPath], "updater-script")
	require.Equal(t, updaterscript.Render("/system/xbin/busybox", desc.Names), got[archive.UpdaterScriptPath])

	// Only the cached launcher survives the build.
	entries, err := os.ReadDir(filesDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "update-binary", entries[0].Name())
}

// TestCreateRecoveryZipValidation covers rejected inputs.
func TestCreateRecoveryZipValidation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	busybox := writeFile(t, filepath.Join(dir, "busybox"), "ELF")
	dst := filepath.Join(dir, "out.zip")

	b, err := archive.NewBuilder(archive.Options{FilesDir: filepath.Join(dir, "files")})
	require.NoError(t, err)

	ctx := context.Background()

	_, err = CreateRecoveryZip(ctx, b, nil, "/system/xbin/busybox", dst)
	require.ErrorIs(t, err, errToolRequired)

	_, err = CreateRecoveryZip(ctx, b, &tool.Static{Binary: busybox}, "/system/xbin/busybox", "")
	require.ErrorIs(t, err, errDestinationRequired)

	_, err = CreateRecoveryZip(ctx, b, &tool.Static{Binary: busybox}, "system/xbin/busybox", dst)
	require.ErrorIs(t, err, ErrInvalidInstallPath)

	_, err = CreateRecoveryZip(ctx, b, &tool.Static{Binary: filepath.Join(dir, "absent")}, "/system/xbin/busybox", dst)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = CreateRecoveryZip(ctx, b, &tool.Static{Binary: dir}, "/system/xbin/busybox", dst)
	require.ErrorIs(t, err, errToolNotRegularFile)

	_, err = CreateRecoveryZip(ctx, b, &tool.Static{Binary: busybox, Names: []string{"bin/sh"}}, "/system/xbin/busybox", dst)
	require.ErrorIs(t, err, tool.ErrInvalidApplet)

	_, err = os.Stat(dst)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestValidateInstallPath accepts only absolute clean file paths.
func TestValidateInstallPath(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateInstallPath("/system/xbin/busybox"))
	require.NoError(t, ValidateInstallPath("/busybox"))

	for _, bad := range []string{"", "busybox", "/", "/system/xbin/", "/system//xbin/busybox", "/system/../busybox", `/system/"x`} {
		require.ErrorIs(t, ValidateInstallPath(bad), ErrInvalidInstallPath, bad)
	}
}

// TestNewSigner picks the pass-through signer unless a command is configured.
func TestNewSigner(t *testing.T) {
	t.Parallel()

	require.Equal(t, signer.Copy{}, NewSigner(config.Signer{}))

	got := NewSigner(config.Signer{Command: "signapk", Args: []string{"{input}", "{output}"}})
	require.Equal(t, &signer.Command{Path: "signapk", Args: []string{"{input}", "{output}"}}, got)
}

// TestRun drives the whole workflow from a settings file.
func TestRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "recovery-zip.yaml")
	filesDir := filepath.Join(dir, "cache")

	data, err := yaml.Marshal(&config.Config{FilesDir: filesDir, LogLevel: "warn", FailOnEntryError: true})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, data, 0o600))

	busybox := writeFile(t, filepath.Join(dir, "bin", "busybox"), "ELF")
	dst := filepath.Join(dir, "busybox-signed.zip")

	err = Run(context.Background(), &Options{
		ConfigPath:  cfgPath,
		Tool:        &tool.Static{Binary: busybox, Names: []string{"sh"}},
		InstallPath: "/system/xbin/busybox",
		Destination: dst,
	})
	require.NoError(t, err)

	got := zipContents(t, dst)
	require.True(t, strings.Contains(got[archive.UpdaterScriptPath], `"/system/xbin/sh"`))

	_, err = os.Stat(filepath.Join(filesDir, "update-binary"))
	require.NoError(t, err)

	err = Run(context.Background(), &Options{ConfigPath: filepath.Join(dir, "absent.yaml")})
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestWithListTimeout fills the probe timeout on a copy and leaves other descriptors alone.
func TestWithListTimeout(t *testing.T) {
	t.Parallel()

	probe := &tool.BusyBox{Binary: "/bin/busybox"}

	got := withListTimeout(probe, 3*time.Second)
	require.Equal(t, &tool.BusyBox{Binary: "/bin/busybox", Timeout: 3 * time.Second}, got)
	require.Zero(t, probe.Timeout)

	explicit := &tool.BusyBox{Binary: "/bin/busybox", Timeout: time.Second}
	require.Same(t, explicit, withListTimeout(explicit, 3*time.Second))

	static := &tool.Static{Binary: "/bin/busybox"}
	require.Same(t, static, withListTimeout(static, 3*time.Second))
}

// TestRunKeepsCallerDescriptor ensures Run does not write the configured timeout into opts.Tool.
func TestRunKeepsCallerDescriptor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "recovery-zip.yaml")

	data, err := yaml.Marshal(&config.Config{
		FilesDir:           filepath.Join(dir, "cache"),
		LogLevel:           "warn",
		BusyBoxListTimeout: 3 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, data, 0o600))

	probe := &tool.BusyBox{Binary: filepath.Join(dir, "absent")}

	err = Run(context.Background(), &Options{
		ConfigPath:  cfgPath,
		Tool:        probe,
		InstallPath: "/system/xbin/busybox",
		Destination: filepath.Join(dir, "busybox-signed.zip"),
	})
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Zero(t, probe.Timeout)
}
