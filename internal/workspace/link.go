package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// removeExisting deletes whatever sits at path. Directories are refused so a
// name collision with code-created output trees never wipes them.
func removeExisting(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", filepath.Base(path))
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// linkFile creates a relative symlink at target pointing at source.
func (m *FSManager) linkFile(source, target string) error {
	abs, err := filepath.Abs(source)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLinkFailed, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLinkFailed, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrLinkFailed, source)
	}

	dest := abs
	if rel, err := filepath.Rel(filepath.Dir(target), abs); err == nil {
		dest = rel
	}

	err = m.symlink(dest, target)
	if errors.Is(err, fs.ErrExist) {
		// A concurrent preparation of the same session got there first.
		if rmErr := removeExisting(target); rmErr != nil {
			return fmt.Errorf("%w: %v", ErrLinkFailed, rmErr)
		}
		err = m.symlink(dest, target)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLinkFailed, err)
	}

	if _, err := os.Stat(target); err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("%w: link does not resolve: %v", ErrLinkFailed, err)
	}
	return nil
}

// copyFile copies source to target through a temp file in the target
// directory, verifies the written bytes by checksum, then renames into place.
func copyFile(source, target string) (err error) {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrCopyFailed, source)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".mntdata-copy-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	srcHash := blake3.New()
	if _, err = io.Copy(io.MultiWriter(tmp, srcHash), in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}

	written, err := fileChecksum(tmpName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}
	if !bytes.Equal(written, srcHash.Sum(nil)) {
		err = fmt.Errorf("%w: checksum mismatch for %s", ErrCopyFailed, filepath.Base(target))
		return err
	}

	if err = os.Chmod(tmpName, info.Mode().Perm()|0o400); err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}
	if err = os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}
	return nil
}

func fileChecksum(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
