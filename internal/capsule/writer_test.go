package capsule

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) (*Writer, Layout) {
	t.Helper()
	root := t.TempDir()
	layout := Layout{
		VaultRoot:   root,
		CapsulesDir: filepath.Join(root, "Capsules"),
		AssetsDir:   filepath.Join(root, "Assets"),
		LegacyDir:   filepath.Join(root, "Legacy"),
	}
	w := NewWriter(layout, nil)
	w.now = func() time.Time { return time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC) }
	return w, layout
}

func sampleCapsule(title, sourceURL, content string, tags ...string) *Capsule {
	c := New(title, "Go", tags, MethodBrowser, fixedDate())
	c.Metadata.SourceURL = sourceURL
	c.ExecutiveSummary = "Summary of " + title
	c.CoreInsight = "Insight of " + title
	c.FullContent = content
	return c
}

func countCapsules(t *testing.T, layout Layout) int {
	t.Helper()
	entries, err := Load(layout, LoadOptions{IncludeLegacy: true})
	require.NoError(t, err)
	return len(entries)
}

func TestWriteCreatesCapsuleInCategory(t *testing.T) {
	w, layout := newTestWriter(t)

	path, err := w.Write(sampleCapsule("My Title", "", "Body text."), "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(layout.CapsulesDir, "Go", "20260114_my_title.md"), path)
	parsed, err := os.ReadFile(path)
	require.NoError(t, err)
	c, err := Parse(parsed)
	require.NoError(t, err)
	assert.Equal(t, "Body text.", c.FullContent)
}

func TestWriteFilenameCollisionKeepsBothCapsules(t *testing.T) {
	w, layout := newTestWriter(t)

	first, err := w.Write(sampleCapsule("My Title", "", "First body."), "")
	require.NoError(t, err)
	second, err := w.Write(sampleCapsule("My Title", "https://example.com/other", "Second body."), "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(layout.CapsulesDir, "Go", "20260114_my_title_1.md"), second)
	assert.Equal(t, 2, countCapsules(t, layout))

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	c, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "First body.", c.FullContent)
	assert.Empty(t, c.Metadata.SourceURL)
}

func TestWriteMergesOnSourceURL(t *testing.T) {
	w, layout := newTestWriter(t)

	first := sampleCapsule("First Capture", "https://example.com/post", "Original content.", "go", "concurrency")
	path1, err := w.Write(first, "")
	require.NoError(t, err)

	second := sampleCapsule("Second Capture", "https://example.com/post", "New content.", "concurrency", "scheduler")
	path2, err := w.Write(second, "")
	require.NoError(t, err)

	assert.Equal(t, path1, path2)
	assert.Equal(t, 1, countCapsules(t, layout))

	data, err := os.ReadFile(path1)
	require.NoError(t, err)
	merged, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "Original content."+MergeSeparator+"New content.", merged.FullContent)
	assert.Equal(t, []string{"go", "concurrency", "scheduler"}, merged.Metadata.Tags)
	assert.Equal(t, "First Capture", merged.Metadata.Title)
	assert.Equal(t, "Summary of First Capture", merged.ExecutiveSummary)
	assert.Equal(t, "Insight of First Capture", merged.CoreInsight)
	assert.Equal(t, first.Metadata.ID, merged.Metadata.ID)
}

func TestWriteMergeEmptyIncomingKeepsContent(t *testing.T) {
	w, _ := newTestWriter(t)

	path, err := w.Write(sampleCapsule("A", "https://example.com/x", "Keep me."), "")
	require.NoError(t, err)
	_, err = w.Write(sampleCapsule("B", "https://example.com/x", "   "), "")
	require.NoError(t, err)

	data, _ := os.ReadFile(path)
	c, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "Keep me.", c.FullContent)
}

func TestWriteLegacyCapsuleIsNotMergeTarget(t *testing.T) {
	w, layout := newTestWriter(t)

	path, err := w.Write(sampleCapsule("Old", "https://example.com/y", "old"), "")
	require.NoError(t, err)
	_, err = w.Cull(path)
	require.NoError(t, err)

	_, err = w.Write(sampleCapsule("Fresh", "https://example.com/y", "fresh"), "")
	require.NoError(t, err)

	active, err := Load(layout, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Fresh", active[0].Title)
}

func TestWriteConcurrentSameSourceURL(t *testing.T) {
	w, layout := newTestWriter(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			title := "Concurrent " + string(rune('A'+i))
			_, err := w.Write(sampleCapsule(title, "https://example.com/race", "part"), "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, countCapsules(t, layout))
}

func TestWriteCopiesAsset(t *testing.T) {
	w, layout := newTestWriter(t)

	src := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0644))

	path1, err := w.Write(sampleCapsule("Shot One", "", "x"), src)
	require.NoError(t, err)
	path2, err := w.Write(sampleCapsule("Shot Two", "", "y"), src)
	require.NoError(t, err)

	c1, _ := ReadFile(path1)
	c2, _ := ReadFile(path2)
	assert.Equal(t, "Assets/2026-02/shot.png", c1.Metadata.OriginalAsset)
	assert.Equal(t, "Assets/2026-02/shot_1.png", c2.Metadata.OriginalAsset)

	_, err = os.Stat(filepath.Join(layout.AssetsDir, "2026-02", "shot_1.png"))
	assert.NoError(t, err)
	// The source stays put; removing it is the caller's job
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestWriteMissingAssetIsTolerated(t *testing.T) {
	w, _ := newTestWriter(t)

	path, err := w.Write(sampleCapsule("No Asset", "", "x"), "/does/not/exist.png")
	require.NoError(t, err)
	doc, err := ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, doc.Metadata.OriginalAsset)
}

func TestWriteSanitizesCategory(t *testing.T) {
	w, layout := newTestWriter(t)

	c := sampleCapsule("Escape", "", "x")
	c.Metadata.Category = "../../etc"
	path, err := w.Write(c, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, layout.CapsulesDir+string(filepath.Separator)))
}

func TestMoveToLegacyCollision(t *testing.T) {
	w, layout := newTestWriter(t)

	path, err := w.Write(sampleCapsule("Dup Name", "", "one"), "")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(layout.LegacyDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(layout.LegacyDir, filepath.Base(path)), []byte("occupied"), 0644))

	dest, err := w.MoveToLegacy(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(layout.LegacyDir, "20260114_dup_name_1.md"), dest)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestTogglePinAndEdit(t *testing.T) {
	w, _ := newTestWriter(t)

	path, err := w.Write(sampleCapsule("Editable", "", "content stays"), "")
	require.NoError(t, err)

	pinned, err := w.TogglePin(path)
	require.NoError(t, err)
	assert.True(t, pinned)

	require.NoError(t, w.Edit(path, "Renamed", []string{" a ", "b", "a", ""}))

	data, _ := os.ReadFile(path)
	c, err := Parse(data)
	require.NoError(t, err)
	assert.True(t, c.Metadata.Pinned)
	assert.Equal(t, "Renamed", c.Metadata.Title)
	assert.Equal(t, []string{"a", "b"}, c.Metadata.Tags)
	assert.Equal(t, "content stays", c.FullContent)

	pinned, err = w.TogglePin(path)
	require.NoError(t, err)
	assert.False(t, pinned)
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "note.md")
	assert.Equal(t, base, UniquePath(base))

	os.WriteFile(base, nil, 0644)
	os.WriteFile(filepath.Join(dir, "note_1.md"), nil, 0644)
	assert.Equal(t, filepath.Join(dir, "note_2.md"), UniquePath(base))
}
