package signer

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// DefaultFileMode is the mode of published archives.
	DefaultFileMode os.FileMode = 0o644

	// ChecksumFunction guards the swap of the destination file.
	ChecksumFunction crypto.Hash = crypto.SHA512
)

var errHashUnavailable = errors.New("hash function unavailable")

// Publish installs the file at src as destination with mode.
// The destination is replaced atomically; a missing destination is created first.
func Publish(src, destination string, mode os.FileMode) error {
	data, err := os.ReadFile(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	checksum, err := Checksum(data)
	if err != nil {
		return err
	}

	destination = filepath.Clean(destination)

	if _, err = os.Stat(destination); errors.Is(err, os.ErrNotExist) {
		var placeholder *os.File

		placeholder, err = os.OpenFile(destination, os.O_CREATE|os.O_WRONLY, mode)
		if err != nil {
			return fmt.Errorf("create destination: %w", err)
		}

		if err = placeholder.Close(); err != nil {
			return fmt.Errorf("create destination: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("stat destination: %w", err)
	}

	options := goupdate.Options{
		TargetPath: destination,
		TargetMode: mode,
		Checksum:   checksum,
		Hash:       ChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("publish %s: %w", destination, err)
	}

	oldFileName := filepath.Join(filepath.Dir(destination), "."+filepath.Base(destination)+".old")
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	return nil
}

// Checksum returns the ChecksumFunction digest of data.
func Checksum(data []byte) ([]byte, error) {
	if !ChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := ChecksumFunction.New()
	if _, err := hasher.Write(data); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}
