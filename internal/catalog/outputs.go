package catalog

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/mntdata/internal/outputs"
)

// GeneratedBy marks files registered from code execution.
const GeneratedBy = "code_interpreter"

// RegisterOutput stores a generated output file in the catalog and returns
// its id. The file stays where the execution wrote it.
func (c *Catalog) RegisterOutput(ctx context.Context, a outputs.Artifact) (string, error) {
	if a.Path == "" {
		return "", fmt.Errorf("output %q has no path", a.Name)
	}
	f, err := c.AddFile(ctx, File{
		UserID:      a.UserID,
		Filename:    a.Name,
		Path:        a.Path,
		ContentType: a.ContentType,
		Size:        a.Size,
		Checksum:    a.Checksum,
		Meta: map[string]any{
			"name":          a.Name,
			"content_type":  a.ContentType,
			"size":          a.Size,
			"chat_id":       a.SessionID,
			"relative_path": a.RelativePath,
			"generated_by":  GeneratedBy,
			"generated_at":  a.CreatedAt.Format(time.RFC3339Nano),
			"format":        a.Format,
		},
	})
	if err != nil {
		return "", fmt.Errorf("register output %s: %w", a.Name, err)
	}
	return f.ID, nil
}

// FileFromPath describes an existing file on disk for AddFile. Name defaults
// to the base name of path.
func FileFromPath(path, name, userID string) (File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return File{}, err
	}
	fh, err := os.Open(abs)
	if err != nil {
		return File{}, err
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return File{}, err
	}
	if !info.Mode().IsRegular() {
		return File{}, fmt.Errorf("%s is not a regular file", path)
	}

	h := blake3.New()
	if _, err := io.Copy(h, fh); err != nil {
		return File{}, fmt.Errorf("checksum %s: %w", path, err)
	}

	if name == "" {
		name = filepath.Base(abs)
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = outputs.ContentType(outputs.Format(name))
	}

	return File{
		UserID:      userID,
		Filename:    name,
		Path:        abs,
		ContentType: contentType,
		Size:        info.Size(),
		Checksum:    hex.EncodeToString(h.Sum(nil)),
		Meta:        map[string]any{"name": name},
	}, nil
}
