package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sieve/internal/capsule"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProcessor records processed paths
type mockProcessor struct {
	mu      sync.Mutex
	calls   map[string]int
	methods map[string]capsule.CaptureMethod
	block   chan struct{}
	seen    chan string
}

func newMockProcessor() *mockProcessor {
	return &mockProcessor{
		calls:   make(map[string]int),
		methods: make(map[string]capsule.CaptureMethod),
		seen:    make(chan string, 16),
	}
}

func (m *mockProcessor) ProcessFile(ctx context.Context, path string, method capsule.CaptureMethod) (string, error) {
	m.mu.Lock()
	m.calls[path]++
	m.methods[path] = method
	block := m.block
	m.mu.Unlock()
	m.seen <- path
	if block != nil {
		<-block
	}
	return "", nil
}

func (m *mockProcessor) count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for processing")
		return ""
	}
}

func TestCreatedFileIsProcessed(t *testing.T) {
	inbox := t.TempDir()
	proc := newMockProcessor()
	w, err := NewWatcher(proc, 20*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.AddFolder(inbox, capsule.MethodDrop))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop(time.Second)

	path := filepath.Join(inbox, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	assert.Equal(t, path, waitFor(t, proc.seen))
	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Equal(t, capsule.MethodDrop, proc.methods[path])
}

func TestScreenshotFolderMethod(t *testing.T) {
	shots := t.TempDir()
	proc := newMockProcessor()
	w, err := NewWatcher(proc, 10*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.AddFolder(shots, capsule.MethodScreenshot))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop(time.Second)

	path := filepath.Join(shots, "Screen Shot.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89}, 0644))
	waitFor(t, proc.seen)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Equal(t, capsule.MethodScreenshot, proc.methods[path])
}

func TestPendingPathQueuedOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	proc := newMockProcessor()
	w, err := NewWatcher(proc, 50*time.Millisecond, nil)
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, w.enqueue(ctx, path, capsule.MethodDrop))
	assert.False(t, w.enqueue(ctx, path, capsule.MethodDrop))
	assert.Equal(t, 1, w.Pending())

	waitFor(t, proc.seen)
	require.NoError(t, w.Stop(time.Second))
	assert.Equal(t, 1, proc.count(path))
	assert.Equal(t, 0, w.Pending())

	// Cleared from the pending set, but a stopped watcher queues nothing new
	assert.False(t, w.enqueue(ctx, path, capsule.MethodDrop))
}

func TestStopCancelsDelayedTasks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	proc := newMockProcessor()
	w, err := NewWatcher(proc, time.Hour, nil)
	require.NoError(t, err)
	require.True(t, w.enqueue(context.Background(), path, capsule.MethodDrop))

	require.NoError(t, w.Stop(time.Second))
	assert.Equal(t, 0, proc.count(path))
	assert.Equal(t, 0, w.Pending())
}

func TestStopTimesOutOnStuckProcessing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slow.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	proc := newMockProcessor()
	proc.block = make(chan struct{})
	w, err := NewWatcher(proc, time.Millisecond, nil)
	require.NoError(t, err)
	require.True(t, w.enqueue(context.Background(), path, capsule.MethodDrop))
	waitFor(t, proc.seen)

	assert.ErrorIs(t, w.Stop(20*time.Millisecond), ErrStopTimeout)
	close(proc.block)
	assert.NoError(t, w.Stop(time.Second))
}

func TestScanExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.md"), []byte("1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("2"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "failed"), 0755))

	proc := newMockProcessor()
	w, err := NewWatcher(proc, time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.AddFolder(dir, capsule.MethodDrop))

	assert.Equal(t, 1, w.ScanExisting(context.Background()))
	assert.Equal(t, filepath.Join(dir, "one.md"), waitFor(t, proc.seen))
	require.NoError(t, w.Stop(time.Second))
}

func TestShouldProcess(t *testing.T) {
	tests := []struct {
		root string
		path string
		want bool
	}{
		{"/vault/Inbox", "/vault/Inbox/note.txt", true},
		{"/vault/Inbox", "/vault/Inbox/.DS_Store", false},
		{"/vault/Inbox", "/vault/Inbox/.gitkeep", false},
		{"/vault/Inbox", "/vault/Inbox/failed/note.txt", false},
		{"/vault/Inbox", "/vault/Inbox/failedness.txt", true},
		{"/home/x/failed/vault/Inbox", "/home/x/failed/vault/Inbox/note.txt", true},
		{"/home/x/failed/vault/Inbox", "/home/x/failed/vault/Inbox/failed/note.txt", false},
		{"/vault/Inbox", "/elsewhere/note.txt", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shouldProcess(tt.root, tt.path), tt.path)
	}
}

func TestScanExistingUnderFailedAncestor(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "failed", "vault", "Inbox")
	require.NoError(t, os.MkdirAll(inbox, 0755))
	path := filepath.Join(inbox, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("1"), 0644))

	proc := newMockProcessor()
	w, err := NewWatcher(proc, time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.AddFolder(inbox, capsule.MethodDrop))

	assert.Equal(t, 1, w.ScanExisting(context.Background()))
	assert.Equal(t, path, waitFor(t, proc.seen))
	require.NoError(t, w.Stop(time.Second))
}

func TestValidatePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	assert.NoError(t, validatePath(dir))
	assert.Error(t, validatePath("/etc"))
	assert.Error(t, validatePath(filepath.Join(dir, "missing")))
	assert.Error(t, validatePath(file))
}
