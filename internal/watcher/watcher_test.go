package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeHiveAPP/codehive/internal/protocol"
)

type collector struct {
	mu      sync.Mutex
	changes []protocol.FileChange
}

func (c *collector) add(change protocol.FileChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change)
}

// waitFor polls until a change matching pred arrives or the timeout lapses.
func (c *collector) waitFor(t *testing.T, pred func(protocol.FileChange) bool) protocol.FileChange {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, change := range c.changes {
			if pred(change) {
				c.mu.Unlock()
				return change
			}
		}
		c.mu.Unlock()
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected change never arrived")
	return protocol.FileChange{}
}

func (c *collector) snapshot() []protocol.FileChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.FileChange{}, c.changes...)
}

func startWatcher(t *testing.T, dir string) (*Watcher, *collector) {
	t.Helper()
	col := &collector{}
	w := New(dir, nil, col.add)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)
	return w, col
}

func TestInitialScanIsSilent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.go"), []byte("package main\n"), 0o644))

	_, col := startWatcher(t, dir)
	time.Sleep(time.Second)
	assert.Empty(t, col.snapshot(), "files present at start are not reported")
}

func TestTextAddReportsLineCount(t *testing.T) {
	dir := t.TempDir()
	_, col := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.go"), []byte("one\ntwo\nthree"), 0o644))
	change := col.waitFor(t, func(c protocol.FileChange) bool { return c.Path == "new.go" })
	assert.Equal(t, protocol.ChangeAdd, change.Type)
	assert.Equal(t, 3, change.LinesAdded)
}

func TestTextChangeDiffsAgainstCachedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc"), 0o644))

	_, col := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd"), 0o644))
	change := col.waitFor(t, func(c protocol.FileChange) bool { return c.Path == "main.go" })
	assert.Equal(t, protocol.ChangeModify, change.Type)
	assert.Equal(t, 1, change.LinesAdded)
	assert.Equal(t, 0, change.LinesRemoved)
	assert.Contains(t, change.Diff, "+ d")
}

func TestTextUnlinkReportsRemovedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.go")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd"), 0o644))

	_, col := startWatcher(t, dir)

	require.NoError(t, os.Remove(path))
	change := col.waitFor(t, func(c protocol.FileChange) bool { return c.Path == "gone.go" })
	assert.Equal(t, protocol.ChangeUnlink, change.Type)
	assert.Equal(t, 4, change.LinesRemoved)
}

func TestBinaryChangeReportsSizeNotDiff(t *testing.T) {
	dir := t.TempDir()
	_, col := startWatcher(t, dir)

	payload := []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), payload, 0o644))
	change := col.waitFor(t, func(c protocol.FileChange) bool { return c.Path == "logo.png" })
	assert.Equal(t, protocol.ChangeAdd, change.Type)
	assert.Empty(t, change.Diff)
	require.NotNil(t, change.SizeAfter)
	assert.Equal(t, int64(len(payload)), *change.SizeAfter)
	assert.Nil(t, change.SizeBefore)
}

func TestIgnoredPathsProduceNoEvents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0o755))
	_, col := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "pkg", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package-lock.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visible.go"), []byte("ok"), 0o644))

	col.waitFor(t, func(c protocol.FileChange) bool { return c.Path == "visible.go" })
	for _, change := range col.snapshot() {
		assert.Equal(t, "visible.go", change.Path, "only the non-ignored file may surface")
	}
}

func TestRapidWritesCoalescePerPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "busy.go")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0o644))

	_, col := startWatcher(t, dir)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("v0\nrev"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	col.waitFor(t, func(c protocol.FileChange) bool { return c.Path == "busy.go" })
	time.Sleep(time.Second)

	count := 0
	for _, change := range col.snapshot() {
		if change.Path == "busy.go" {
			count++
		}
	}
	assert.Equal(t, 1, count, "five writes inside one debounce window collapse to one event")
}

func TestNewDirectoryGetsWatched(t *testing.T) {
	dir := t.TempDir()
	_, col := startWatcher(t, dir)

	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a beat to register the new directory.
	time.Sleep(time.Second)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "file.go"), []byte("hi"), 0o644))

	change := col.waitFor(t, func(c protocol.FileChange) bool { return c.Path == "pkg/file.go" })
	assert.Equal(t, protocol.ChangeAdd, change.Type)
}
