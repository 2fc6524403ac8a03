//go:build !darwin && !linux

package storage

// Filesystem detection is unsupported here; report an unknown local type so
// callers fall back to their default behavior.
func detectFilesystemType(path string) (string, error) {
	return "unknown", nil
}
