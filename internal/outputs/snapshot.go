package outputs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
)

// Snapshot is the set of relative paths present under a workspace root.
type Snapshot struct {
	paths map[string]struct{}
}

// NewSnapshot builds a snapshot from slash-separated relative paths.
func NewSnapshot(paths ...string) Snapshot {
	s := Snapshot{paths: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		s.paths[p] = struct{}{}
	}
	return s
}

// Has reports whether rel was present.
func (s Snapshot) Has(rel string) bool {
	_, ok := s.paths[rel]
	return ok
}

// Len returns the number of paths.
func (s Snapshot) Len() int { return len(s.paths) }

// Paths returns the sorted paths.
func (s Snapshot) Paths() []string {
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Take lists every non-directory entry below root. A missing root yields an
// empty snapshot.
func Take(ctx context.Context, root string) (Snapshot, error) {
	snap := NewSnapshot()
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		snap.paths[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", root, err)
	}
	return snap, nil
}

// Record describes one generated output file.
type Record struct {
	RelativePath string    `json:"relative_path"`
	Name         string    `json:"name"`
	Format       string    `json:"format"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
	Checksum     string    `json:"checksum"`
	// Path is the physical location; it never leaves the process.
	Path string `json:"-"`
}

// Diff returns records for paths in after but not in before that the policy
// allows, sorted by path. Files modified in place are never reported. Entries
// that vanished or are not regular files are skipped.
func (p Policy) Diff(before, after Snapshot, root string) []Record {
	var records []Record
	for _, rel := range after.Paths() {
		if before.Has(rel) || !p.Allowed(rel) {
			continue
		}
		full := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Lstat(full)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		sum, err := checksum(full)
		if err != nil {
			continue
		}
		format := Format(rel)
		records = append(records, Record{
			RelativePath: rel,
			Name:         filepath.Base(full),
			Format:       format,
			ContentType:  ContentType(format),
			Size:         info.Size(),
			CreatedAt:    info.ModTime().UTC(),
			Checksum:     sum,
			Path:         full,
		})
	}
	return records
}

func checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Artifact is a Record handed to the file catalog for one session.
type Artifact struct {
	SessionID string
	UserID    string
	Record
}
