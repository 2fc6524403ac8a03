package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/mntdata/internal/outputs"
	"github.com/mattjoyce/mntdata/internal/storage"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestSessions(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	ok, err := c.SessionExists(ctx, "chat-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.CreateSession(ctx, "chat-1", "user-1"))
	require.NoError(t, c.CreateSession(ctx, "chat-1", "user-1"))

	ok, err = c.SessionExists(ctx, "chat-1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Error(t, c.CreateSession(ctx, "", ""))
}

func TestAddAndGetFile(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	f, err := c.AddFile(ctx, File{
		UserID:      "user-1",
		Filename:    "data.csv",
		Path:        "/store/f1",
		ContentType: "text/csv",
		Size:        12,
		Meta:        map[string]any{"origin": "upload"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, f.ID)

	got, err := c.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "data.csv", got.Filename)
	assert.Equal(t, "/store/f1", got.Path)
	assert.Equal(t, int64(12), got.Size)
	assert.Equal(t, "upload", got.Meta["origin"])
	assert.WithinDuration(t, f.CreatedAt, got.CreatedAt, time.Millisecond)

	_, err = c.GetFile(ctx, "nope")
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = c.AddFile(ctx, File{Filename: "x"})
	assert.Error(t, err)
}

func TestAttachAndList(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	a, err := c.AddFile(ctx, File{Filename: "a.csv", Path: "/store/a"})
	require.NoError(t, err)
	b, err := c.AddFile(ctx, File{Filename: "b.pdf", Path: "/store/b"})
	require.NoError(t, err)

	require.NoError(t, c.Attach(ctx, "chat-1", b.ID, "msg-1"))
	require.NoError(t, c.Attach(ctx, "chat-1", a.ID, ""))
	require.NoError(t, c.Attach(ctx, "chat-2", a.ID, ""))

	list, err := c.ListAttachments(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].FileID)
	assert.Equal(t, 0, list[0].Position)
	assert.Equal(t, "msg-1", list[0].MessageID)
	require.NotNil(t, list[0].File)
	assert.Equal(t, "b.pdf", list[0].File.Filename)
	assert.Equal(t, a.ID, list[1].FileID)
	assert.Equal(t, 1, list[1].Position)

	err = c.Attach(ctx, "chat-1", "missing", "")
	assert.ErrorIs(t, err, ErrFileNotFound)

	empty, err := c.ListAttachments(ctx, "chat-unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRegisterOutput(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := c.RegisterOutput(ctx, outputs.Artifact{
		SessionID: "chat-1",
		UserID:    "user-1",
		Record: outputs.Record{
			RelativePath: "reports/out.xlsx",
			Name:         "out.xlsx",
			Format:       "xlsx",
			ContentType:  outputs.ContentType("xlsx"),
			Size:         2048,
			CreatedAt:    created,
			Checksum:     "abc",
			Path:         "/data/uploads/chat-1/reports/out.xlsx",
		},
	})
	require.NoError(t, err)

	f, err := c.GetFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "out.xlsx", f.Filename)
	assert.Equal(t, "user-1", f.UserID)
	assert.Equal(t, "/data/uploads/chat-1/reports/out.xlsx", f.Path)
	assert.Equal(t, GeneratedBy, f.Meta["generated_by"])
	assert.Equal(t, "chat-1", f.Meta["chat_id"])
	assert.Equal(t, "xlsx", f.Meta["format"])
	assert.Equal(t, "reports/out.xlsx", f.Meta["relative_path"])

	_, err = c.RegisterOutput(ctx, outputs.Artifact{Record: outputs.Record{Name: "x.csv"}})
	assert.Error(t, err)
}

func TestFileFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n"), 0o644))

	f, err := FileFromPath(path, "", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sales.csv", f.Filename)
	assert.Equal(t, path, f.Path)
	assert.Equal(t, int64(4), f.Size)
	assert.Contains(t, f.ContentType, "csv")
	assert.Len(t, f.Checksum, 64)

	_, err = FileFromPath(dir, "", "")
	assert.Error(t, err)
}

func TestListFiles(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	_, err := c.AddFile(ctx, File{Filename: "a", Path: "/a", UserID: "u1"})
	require.NoError(t, err)
	_, err = c.AddFile(ctx, File{Filename: "b", Path: "/b", UserID: "u2"})
	require.NoError(t, err)

	all, err := c.ListFiles(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := c.ListFiles(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "a", mine[0].Filename)
}
