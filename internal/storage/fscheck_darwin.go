//go:build darwin

package storage

import (
	"fmt"
	"strings"
	"syscall"
)

func detectFilesystemType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	var b strings.Builder
	for _, c := range st.Fstypename {
		if c == 0 {
			break
		}
		b.WriteByte(byte(c))
	}
	return darwinFilesystemName(b.String()), nil
}

// darwinFilesystemName folds macOS type names onto the names used elsewhere
// in this package.
func darwinFilesystemName(name string) string {
	switch name {
	case "msdos":
		return "vfat"
	case "macfuse", "osxfuse":
		return "fuse"
	default:
		return name
	}
}
