package storage

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateSQLiteFilesystemWithDetector_AllowsLocalFS(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	err := validateSQLiteFilesystemWithDetector(dbPath, func(path string) (string, error) {
		return "apfs", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
}

func TestValidateSQLiteFilesystemWithDetector_RejectsNetworkFS(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	err := validateSQLiteFilesystemWithDetector(dbPath, func(path string) (string, error) {
		return "smbfs", nil
	})
	if err == nil {
		t.Fatal("expected network filesystem validation error")
	}

	msg := err.Error()
	for _, want := range []string{"smbfs", "SQLite requires a local filesystem", "catalog.path"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected error to contain %q, got %q", want, msg)
		}
	}
}

func TestDetectWith_UsesNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	target := filepath.Join(root, "nested", "dir", "uploads")

	var inspectedPath string
	fsType, err := detectWith(target, func(path string) (string, error) {
		inspectedPath = path
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("detectWith: %v", err)
	}
	if fsType != "ext4" {
		t.Fatalf("fsType = %q, want ext4", fsType)
	}
	if inspectedPath != root {
		t.Fatalf("expected detector to inspect nearest existing path %q, got %q", root, inspectedPath)
	}
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fs   string
		want bool
	}{
		{name: "nfs", fs: "nfs", want: true},
		{name: "smbfs uppercase", fs: "SMBFS", want: true},
		{name: "9p docker desktop share", fs: "9p", want: true},
		{name: "local apfs", fs: "apfs", want: false},
		{name: "hex linux magic", fs: "0xef53", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isNetworkFilesystem(tc.fs); got != tc.want {
				t.Fatalf("isNetworkFilesystem(%q)=%v, want %v", tc.fs, got, tc.want)
			}
		})
	}
}

func TestPrefersCopy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		fs   string
		want bool
	}{
		{fs: "nfs", want: true},
		{fs: "vfat", want: true},
		{fs: "ExFAT", want: true},
		{fs: "ext4", want: false},
		{fs: "overlay", want: false},
		{fs: "unknown", want: false},
	}
	for _, tc := range cases {
		if got := prefersCopy(tc.fs); got != tc.want {
			t.Fatalf("prefersCopy(%q)=%v, want %v", tc.fs, got, tc.want)
		}
	}
}

func TestLinksUnreliableOnTempDir(t *testing.T) {
	t.Parallel()

	preferCopy, fsType, err := LinksUnreliable(filepath.Join(t.TempDir(), "workspaces"))
	if err != nil {
		t.Fatalf("LinksUnreliable: %v", err)
	}
	if fsType == "" {
		t.Fatal("expected a filesystem type")
	}
	if preferCopy != prefersCopy(fsType) {
		t.Fatalf("preferCopy=%v disagrees with fs type %q", preferCopy, fsType)
	}
}
