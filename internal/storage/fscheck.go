package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystems where SQLite locking and symlinks are unreliable.
var networkFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// Filesystems that cannot hold symlinks at all.
var linklessFilesystems = map[string]struct{}{
	"exfat": {},
	"vfat":  {},
}

// FilesystemDetector reports the filesystem type name for an existing path.
type FilesystemDetector func(path string) (string, error)

// DetectFilesystem returns the filesystem type backing path, inspecting the
// nearest existing ancestor when path does not exist yet.
func DetectFilesystem(path string) (string, error) {
	return detectWith(path, detectFilesystemType)
}

// LinksUnreliable reports whether workspace symlinks under path should be
// avoided, either because path is on a network filesystem or because its
// filesystem has no symlinks.
func LinksUnreliable(path string) (bool, string, error) {
	fsType, err := DetectFilesystem(path)
	if err != nil {
		return false, "", err
	}
	return prefersCopy(fsType), fsType, nil
}

// validateSQLiteFilesystem ensures the DB path is on a local filesystem.
func validateSQLiteFilesystem(path string) error {
	return validateSQLiteFilesystemWithDetector(path, detectFilesystemType)
}

func validateSQLiteFilesystemWithDetector(path string, detector FilesystemDetector) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	fsType, err := detectWith(path, detector)
	if err != nil {
		return err
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"catalog path %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. Set catalog.path to a local file",
			path,
			fsType,
		)
	}
	return nil
}

func detectWith(path string, detector FilesystemDetector) (string, error) {
	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	fsType, err := detector(inspectPath)
	if err != nil {
		return "", fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}
	return fsType, nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}

func prefersCopy(fsType string) bool {
	if isNetworkFilesystem(fsType) {
		return true
	}
	_, found := linklessFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
