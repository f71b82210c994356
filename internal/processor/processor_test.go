package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sieve/internal/capsule"
	"sieve/internal/config"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 6, 10, 0, 0, 0, time.UTC)

// fakeTransformer echoes its input into a capsule, or fails with err
type fakeTransformer struct {
	mu       sync.Mutex
	err      error
	category string
	calls    []string
	methods  []capsule.CaptureMethod
	sources  []string
}

func (f *fakeTransformer) record(kind, sourceURL string, method capsule.CaptureMethod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind)
	f.methods = append(f.methods, method)
	f.sources = append(f.sources, sourceURL)
	return f.err
}

func (f *fakeTransformer) build(title, content, sourceURL string, method capsule.CaptureMethod) *capsule.Capsule {
	category := f.category
	if category == "" {
		category = "Technology"
	}
	c := capsule.New(title, category, []string{"llm"}, method, testNow)
	c.Metadata.SourceURL = sourceURL
	c.ExecutiveSummary = "summary"
	c.CoreInsight = "insight"
	c.FullContent = content
	return c
}

func (f *fakeTransformer) Text(ctx context.Context, content, sourceURL string, method capsule.CaptureMethod) (*capsule.Capsule, error) {
	if err := f.record("text", sourceURL, method); err != nil {
		return nil, err
	}
	return f.build("LLM Title", content, sourceURL, method), nil
}

func (f *fakeTransformer) ImageFile(ctx context.Context, path string, method capsule.CaptureMethod) (*capsule.Capsule, error) {
	if err := f.record("image_file", "", method); err != nil {
		return nil, err
	}
	return f.build("Screenshot Notes", "text from image", "", method), nil
}

func (f *fakeTransformer) ImageBase64(ctx context.Context, data, sourceURL string, method capsule.CaptureMethod) (*capsule.Capsule, error) {
	if err := f.record("image_base64", sourceURL, method); err != nil {
		return nil, err
	}
	return f.build("Browser Image", "text from image", sourceURL, method), nil
}

type countingIndexer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingIndexer) Regenerate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type fixture struct {
	cfg      *config.Config
	proc     *Processor
	tr       *fakeTransformer
	ix       *countingIndexer
	notifier *recordingNotifier
}

func newFixture(t *testing.T, maxRetries int) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.VaultRoot = t.TempDir()
	cfg.Processing.MaxRetries = maxRetries
	require.NoError(t, cfg.EnsureVault())

	tr := &fakeTransformer{}
	ix := &countingIndexer{}
	n := &recordingNotifier{}
	p := New(cfg, tr, capsule.NewWriter(capsule.LayoutFor(cfg), nil), ix, nil)
	p.SetNotifier(n)
	return &fixture{cfg: cfg, proc: p, tr: tr, ix: ix, notifier: n}
}

func (f *fixture) drop(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.cfg.InboxPath(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestProcessFileCreatesCapsuleAndRemovesSource(t *testing.T) {
	f := newFixture(t, 3)
	src := f.drop(t, "note.txt", "# My Title\n\nBody text.")

	out, err := f.proc.ProcessFile(context.Background(), src, "")
	require.NoError(t, err)
	require.NotEmpty(t, out)

	assert.Equal(t, filepath.Join(f.cfg.CapsulesPath(), "Technology"), filepath.Dir(out))
	doc, err := capsule.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "LLM Title", doc.Metadata.Title)
	assert.Equal(t, capsule.MethodDrop, doc.Metadata.CaptureMethod)
	sections, err := capsule.ParseSections(doc.Body)
	require.NoError(t, err)
	assert.Contains(t, sections.FullContent, "Body text.")

	assert.NoFileExists(t, src)
	assert.Equal(t, 1, f.ix.calls)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, EventCapsuleCreated, f.notifier.events[0].Type)
	assert.Equal(t, "note.txt", f.notifier.events[0].Source)
}

func TestProcessFileSkipsUnsupported(t *testing.T) {
	f := newFixture(t, 3)
	src := f.drop(t, "archive.zip", "PK")

	out, err := f.proc.ProcessFile(context.Background(), src, "")
	assert.NoError(t, err)
	assert.Empty(t, out)
	assert.FileExists(t, src)
	assert.Equal(t, 0, f.proc.Attempts(src))
	assert.Empty(t, f.tr.calls)
}

func TestProcessFileMissingFile(t *testing.T) {
	f := newFixture(t, 3)
	out, err := f.proc.ProcessFile(context.Background(), filepath.Join(f.cfg.InboxPath(), "gone.txt"), "")
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestRetryThenDeadLetter(t *testing.T) {
	f := newFixture(t, 3)
	f.tr.err = errors.New("llm down")
	src := f.drop(t, "flaky.txt", "content")

	for attempt := 1; attempt <= 2; attempt++ {
		out, err := f.proc.ProcessFile(context.Background(), src, "")
		require.Error(t, err)
		assert.Empty(t, out)
		assert.FileExists(t, src, "attempt %d", attempt)
		assert.Equal(t, attempt, f.proc.Attempts(src))
	}

	_, err := f.proc.ProcessFile(context.Background(), src, "")
	require.Error(t, err)
	assert.NoFileExists(t, src)
	assert.FileExists(t, filepath.Join(f.cfg.FailedPath(), "flaky.txt"))
	assert.Equal(t, 0, f.proc.Attempts(src))

	data, err := os.ReadFile(f.cfg.ErrorLogPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "["))
		assert.Contains(t, line, "] flaky.txt: transform failed: llm down")
	}

	last := f.notifier.events[len(f.notifier.events)-1]
	assert.Equal(t, EventDeadLettered, last.Type)
	assert.Equal(t, 3, last.Attempt)
}

func TestDeadLetterCollisionIsRenamed(t *testing.T) {
	f := newFixture(t, 1)
	f.tr.err = errors.New("bad")
	require.NoError(t, os.MkdirAll(f.cfg.FailedPath(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.FailedPath(), "dup.txt"), []byte("old"), 0644))

	src := f.drop(t, "dup.txt", "new")
	_, err := f.proc.ProcessFile(context.Background(), src, "")
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(f.cfg.FailedPath(), "dup_1.txt"))
}

func TestSuccessClearsRetryCounter(t *testing.T) {
	f := newFixture(t, 5)
	f.tr.err = errors.New("temporary")
	src := f.drop(t, "later.md", "# Later\n\nok")

	_, err := f.proc.ProcessFile(context.Background(), src, "")
	require.Error(t, err)
	assert.Equal(t, 1, f.proc.Attempts(src))

	f.tr.err = nil
	_, err = f.proc.ProcessFile(context.Background(), src, capsule.MethodManual)
	require.NoError(t, err)
	assert.Equal(t, 0, f.proc.Attempts(src))
	assert.Equal(t, capsule.MethodManual, f.tr.methods[1])
}

func TestFileSizeGuardrail(t *testing.T) {
	f := newFixture(t, 2)
	f.proc.maxFileSize = 8
	src := f.drop(t, "big.txt", "this is longer than eight bytes")

	_, err := f.proc.ProcessFile(context.Background(), src, "")
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Empty(t, f.tr.calls)
	assert.Equal(t, 1, f.proc.Attempts(src))
}

func TestProcessImageCopiesAsset(t *testing.T) {
	f := newFixture(t, 3)
	src := filepath.Join(f.cfg.InboxPath(), "shot.png")
	require.NoError(t, os.WriteFile(src, []byte{0x89, 'P', 'N', 'G'}, 0644))

	out, err := f.proc.ProcessFile(context.Background(), src, capsule.MethodScreenshot)
	require.NoError(t, err)
	assert.Equal(t, []string{"image_file"}, f.tr.calls)

	doc, err := capsule.ReadFile(out)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Metadata.OriginalAsset)
	assert.FileExists(t, filepath.Join(f.cfg.VaultRoot, doc.Metadata.OriginalAsset))
	assert.NoFileExists(t, src)
}

func TestBrowserCaptureText(t *testing.T) {
	f := newFixture(t, 3)
	res, err := f.proc.ProcessBrowserCapture(context.Background(), BrowserCapture{
		Content:   "Selected text from a page",
		SourceURL: "https://example.com/post",
		Title:     "My Own Title",
		Tags:      []string{"reading", "llm"},
	})
	require.NoError(t, err)

	assert.Equal(t, capsule.MethodBrowser, f.tr.methods[0])
	assert.Equal(t, "https://example.com/post", f.tr.sources[0])
	assert.Equal(t, "My Own Title", res.Capsule.Metadata.Title)
	assert.Equal(t, []string{"llm", "reading"}, res.Capsule.Metadata.Tags)
	assert.FileExists(t, res.Path)
	assert.Equal(t, 1, f.ix.calls)
}

func TestBrowserCaptureImage(t *testing.T) {
	f := newFixture(t, 3)
	_, err := f.proc.ProcessBrowserCapture(context.Background(), BrowserCapture{
		ImageData: "AAAA",
		URL:       "https://ignored.example.com",
		SourceURL: "https://example.com/img",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"image_base64"}, f.tr.calls)
}

func TestBrowserCaptureEmpty(t *testing.T) {
	f := newFixture(t, 3)
	_, err := f.proc.ProcessBrowserCapture(context.Background(), BrowserCapture{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyCapture)
}

func TestBrowserCaptureErrorPropagates(t *testing.T) {
	f := newFixture(t, 3)
	f.tr.err = errors.New("quota exceeded")
	_, err := f.proc.ProcessBrowserCapture(context.Background(), BrowserCapture{Content: "text"})
	assert.EqualError(t, err, "quota exceeded")
	assert.Equal(t, 0, f.ix.calls)
}

func TestBrowserCaptureBlockedURL(t *testing.T) {
	f := newFixture(t, 3)
	_, err := f.proc.ProcessBrowserCapture(context.Background(), BrowserCapture{URL: "http://127.0.0.1:8420/api"})
	assert.ErrorIs(t, err, ErrBlockedURL)
	assert.Empty(t, f.tr.calls)
}

func TestSameSourceURLMergesIntoOneCapsule(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	first, err := f.proc.ProcessBrowserCapture(ctx, BrowserCapture{Content: "first part", SourceURL: "https://example.com/same"})
	require.NoError(t, err)
	second, err := f.proc.ProcessBrowserCapture(ctx, BrowserCapture{Content: "second part", SourceURL: "https://example.com/same"})
	require.NoError(t, err)
	assert.Equal(t, first.Path, second.Path)

	entries, err := capsule.Load(capsule.LayoutFor(f.cfg), capsule.LoadOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	doc, err := capsule.ReadFile(first.Path)
	require.NoError(t, err)
	sections, err := capsule.ParseSections(doc.Body)
	require.NoError(t, err)
	assert.Contains(t, sections.FullContent, "first part"+capsule.MergeSeparator+"second part")
}
