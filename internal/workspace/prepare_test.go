package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPrepareSymlinksAttachment(t *testing.T) {
	store := t.TempDir()
	src := writeSource(t, store, "f1", "a,b\n1,2\n")

	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)

	report, err := mgr.Prepare(context.Background(), "s1", []FileRef{
		{FileID: "f1", DisplayName: "data.csv", SourcePath: src},
	})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	out := report.Outcomes[0]
	assert.Equal(t, OutcomeSymlinked, out.Kind)
	assert.Equal(t, "data.csv", out.Name)
	assert.Equal(t, filepath.Join(report.Root, "data.csv"), out.Target)

	info, err := os.Lstat(out.Target)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)

	dest, err := os.Readlink(out.Target)
	require.NoError(t, err)
	assert.False(t, filepath.IsAbs(dest), "link should be relative, got %q", dest)

	resolved, err := filepath.EvalSymlinks(out.Target)
	require.NoError(t, err)
	wantResolved, err := filepath.EvalSymlinks(src)
	require.NoError(t, err)
	assert.Equal(t, wantResolved, resolved)
}

func TestPrepareTwiceIsIdempotent(t *testing.T) {
	store := t.TempDir()
	refs := []FileRef{
		{FileID: "f1", DisplayName: "data.csv", SourcePath: writeSource(t, store, "f1", "one")},
		{FileID: "f2", DisplayName: "report.pdf", SourcePath: writeSource(t, store, "f2", "two")},
	}

	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		report, err := mgr.Prepare(context.Background(), "s1", refs)
		require.NoError(t, err)
		assert.Len(t, report.Prepared(), 2, "pass %d", i)
		assert.Empty(t, report.Failed(), "pass %d", i)
	}

	entries, err := mgr.List(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "data.csv", entries[0].Path)
	assert.Equal(t, "report.pdf", entries[1].Path)
}

func TestPrepareRelinksAfterSourceChange(t *testing.T) {
	store := t.TempDir()
	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)

	first := writeSource(t, store, "v1", "old")
	_, err = mgr.Prepare(context.Background(), "s1", []FileRef{{FileID: "f1", DisplayName: "data.csv", SourcePath: first}})
	require.NoError(t, err)

	second := writeSource(t, store, "v2", "new")
	report, err := mgr.Prepare(context.Background(), "s1", []FileRef{{FileID: "f1", DisplayName: "data.csv", SourcePath: second}})
	require.NoError(t, err)

	got, err := os.ReadFile(report.Outcomes[0].Target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestPrepareDeduplicatesByFileID(t *testing.T) {
	store := t.TempDir()
	src := writeSource(t, store, "f1", "x")

	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)

	report, err := mgr.Prepare(context.Background(), "s1", []FileRef{
		{FileID: "f1", DisplayName: "data.csv", SourcePath: src},
		{FileID: "f1", DisplayName: "copy-of-data.csv", SourcePath: src},
	})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, OutcomeSymlinked, report.Outcomes[0].Kind)
	assert.Equal(t, OutcomeSkipped, report.Outcomes[1].Kind)
	assert.Equal(t, ReasonDuplicate, report.Outcomes[1].Reason)

	entries, err := mgr.List(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPrepareSanitizesTraversal(t *testing.T) {
	store := t.TempDir()
	src := writeSource(t, store, "f1", "root:x:0:0")

	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)

	report, err := mgr.Prepare(context.Background(), "s1", []FileRef{
		{FileID: "f1", DisplayName: "../../etc/passwd", SourcePath: src},
	})
	require.NoError(t, err)

	out := report.Outcomes[0]
	assert.Equal(t, "etcpasswd", out.Name)
	assert.Equal(t, report.Root, filepath.Dir(out.Target))
}

func TestPrepareSkipsEmptySanitizedName(t *testing.T) {
	store := t.TempDir()
	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)

	report, err := mgr.Prepare(context.Background(), "s1", []FileRef{
		{FileID: "f1", DisplayName: "../..", SourcePath: writeSource(t, store, "f1", "x")},
		{FileID: "f2", DisplayName: "ok.csv", SourcePath: writeSource(t, store, "f2", "y")},
		{FileID: "", DisplayName: "orphan.csv", SourcePath: writeSource(t, store, "f3", "z")},
	})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)

	assert.Equal(t, OutcomeSkipped, report.Outcomes[0].Kind)
	assert.Equal(t, ReasonEmptyName, report.Outcomes[0].Reason)
	assert.ErrorIs(t, report.Outcomes[0].Err, ErrEmptyName)
	assert.True(t, report.Outcomes[1].Ok())
	assert.Equal(t, ReasonMissingFileID, report.Outcomes[2].Reason)
}

func TestPrepareSuffixesNameCollisions(t *testing.T) {
	store := t.TempDir()
	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)

	report, err := mgr.Prepare(context.Background(), "s1", []FileRef{
		{FileID: "f1", DisplayName: "data.csv", SourcePath: writeSource(t, store, "f1", "first")},
		{FileID: "f2", DisplayName: "data.csv", SourcePath: writeSource(t, store, "f2", "second")},
	})
	require.NoError(t, err)

	assert.Equal(t, "data.csv", report.Outcomes[0].Name)
	assert.Equal(t, "data_2.csv", report.Outcomes[1].Name)

	got, err := os.ReadFile(report.Outcomes[1].Target)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestPrepareFallsBackToCopy(t *testing.T) {
	store := t.TempDir()
	content := "col\n" + string([]byte{0, 1, 2, 255}) + "\n"
	src := writeSource(t, store, "f1", content)

	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)
	mgr.symlink = func(string, string) error { return errors.New("operation not permitted") }

	report, err := mgr.Prepare(context.Background(), "s1", []FileRef{
		{FileID: "f1", DisplayName: "data.csv", SourcePath: src},
	})
	require.NoError(t, err)

	out := report.Outcomes[0]
	assert.Equal(t, OutcomeCopied, out.Kind)
	assert.Contains(t, out.LinkError, "operation not permitted")

	info, err := os.Lstat(out.Target)
	require.NoError(t, err)
	assert.Zero(t, info.Mode()&os.ModeSymlink)

	got, err := os.ReadFile(out.Target)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	leftovers, err := filepath.Glob(filepath.Join(report.Root, ".mntdata-copy-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPrepareCopyMode(t *testing.T) {
	store := t.TempDir()
	src := writeSource(t, store, "f1", "data")

	mgr, err := NewFSManager(t.TempDir(), WithLinkMode(LinkCopy))
	require.NoError(t, err)
	mgr.symlink = func(string, string) error {
		t.Fatalf("symlink must not be attempted in copy mode")
		return nil
	}

	report, err := mgr.Prepare(context.Background(), "s1", []FileRef{{FileID: "f1", DisplayName: "d.csv", SourcePath: src}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCopied, report.Outcomes[0].Kind)
	assert.Empty(t, report.Outcomes[0].LinkError)
	assert.Equal(t, LinkCopy, report.LinkMode)
}

func TestPrepareAutoPreferCopy(t *testing.T) {
	store := t.TempDir()
	src := writeSource(t, store, "f1", "data")

	mgr, err := NewFSManager(t.TempDir(), WithPreferCopy(true))
	require.NoError(t, err)

	report, err := mgr.Prepare(context.Background(), "s1", []FileRef{{FileID: "f1", DisplayName: "d.csv", SourcePath: src}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCopied, report.Outcomes[0].Kind)
}

func TestPrepareMissingSourceDoesNotAbortSiblings(t *testing.T) {
	store := t.TempDir()
	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)

	report, err := mgr.Prepare(context.Background(), "s1", []FileRef{
		{FileID: "f1", DisplayName: "gone.csv", SourcePath: filepath.Join(store, "does-not-exist")},
		{FileID: "f2", DisplayName: "here.csv", SourcePath: writeSource(t, store, "f2", "ok")},
	})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)

	failed := report.Outcomes[0]
	assert.Equal(t, OutcomeFailed, failed.Kind)
	assert.ErrorIs(t, failed.Err, ErrCopyFailed)
	assert.ErrorIs(t, failed.Err, ErrLinkFailed)
	assert.Equal(t, ReasonCopyFailed, failed.Reason)
	assert.NotContains(t, failed.Reason, store)
	assert.Equal(t, 1, strings.Count(failed.Err.Error(), ErrLinkFailed.Error()), failed.Err.Error())

	_, statErr := os.Lstat(failed.Target)
	assert.True(t, os.IsNotExist(statErr), "no dangling link should remain")

	assert.True(t, report.Outcomes[1].Ok())
}

func TestPrepareConcurrentSameSession(t *testing.T) {
	store := t.TempDir()
	refs := []FileRef{
		{FileID: "f1", DisplayName: "a.csv", SourcePath: writeSource(t, store, "f1", "a")},
		{FileID: "f2", DisplayName: "b.csv", SourcePath: writeSource(t, store, "f2", "b")},
	}

	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Prepare(context.Background(), "s1", refs)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := mgr.List(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		got, err := os.ReadFile(filepath.Join(mgr.BaseDir(), "s1", e.Path))
		require.NoError(t, err)
		assert.Len(t, got, 1)
	}
}

func TestPreparePreservesExistingOutputs(t *testing.T) {
	store := t.TempDir()
	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)

	ws, err := mgr.Ensure(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Dir, "out.xlsx"), []byte("previous"), 0o644))

	_, err = mgr.Prepare(context.Background(), "s1", []FileRef{
		{FileID: "f1", DisplayName: "data.csv", SourcePath: writeSource(t, store, "f1", "x")},
	})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(ws.Dir, "out.xlsx"))
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got))
}

func TestPrepareCancelledContext(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = mgr.Prepare(ctx, "s1", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
