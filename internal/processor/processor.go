package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sieve/internal/capsule"
	"sieve/internal/config"
	"sieve/internal/extract"
	"sieve/internal/logging"
	"sieve/internal/metrics"
	"strings"
	"sync"
	"time"
)

// ErrTooLarge is returned for inbox files over the configured size limit
var ErrTooLarge = errors.New("file exceeds size limit")

// ErrEmptyCapture is returned when a browser capture carries nothing to process
var ErrEmptyCapture = errors.New("capture has no content, url or image")

// Transformer turns extracted content into a capsule
type Transformer interface {
	Text(ctx context.Context, content, sourceURL string, method capsule.CaptureMethod) (*capsule.Capsule, error)
	ImageFile(ctx context.Context, path string, method capsule.CaptureMethod) (*capsule.Capsule, error)
	ImageBase64(ctx context.Context, data, sourceURL string, method capsule.CaptureMethod) (*capsule.Capsule, error)
}

// Indexer rebuilds the knowledge index after a capsule is written
type Indexer interface {
	Regenerate() error
}

// Event types sent to the Notifier
const (
	EventCapsuleCreated = "capsule.created"
	EventCaptureFailed  = "capture.failed"
	EventDeadLettered   = "capture.dead_lettered"
)

// Event describes one pipeline outcome
type Event struct {
	Type     string `json:"type"`
	Source   string `json:"source"`
	Path     string `json:"path,omitempty"`
	Title    string `json:"title,omitempty"`
	Category string `json:"category,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
}

// Notifier receives pipeline events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// BrowserCapture is a capture submitted by the browser extension or the relay
type BrowserCapture struct {
	Content   string
	URL       string
	SourceURL string
	Title     string
	Tags      []string
	ImageData string
}

// Result is a written capsule
type Result struct {
	Path    string
	Capsule *capsule.Capsule
}

// Processor runs inbox files and browser captures through
// extract → transform → write → index.
type Processor struct {
	registry    *extract.Registry
	transformer Transformer
	writer      *capsule.Writer
	indexer     Indexer
	fetcher     *Fetcher
	logger      *logging.Logger

	maxRetries   int
	maxFileSize  int64
	errorLogPath string
	failedDir    string

	mu          sync.Mutex
	errorCounts map[string]int
	notifier    Notifier
}

// New creates a processor writing through w and indexing through ix
func New(cfg *config.Config, t Transformer, w *capsule.Writer, ix Indexer, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Nop()
	}
	maxRetries := cfg.Processing.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Processor{
		registry:     extract.DefaultRegistry(),
		transformer:  t,
		writer:       w,
		indexer:      ix,
		fetcher:      NewFetcher(),
		logger:       logger,
		maxRetries:   maxRetries,
		maxFileSize:  int64(cfg.Processing.MaxFileSizeMB) << 20,
		errorLogPath: cfg.ErrorLogPath(),
		failedDir:    cfg.FailedPath(),
		errorCounts:  make(map[string]int),
	}
}

// SetNotifier registers a receiver for pipeline events
func (p *Processor) SetNotifier(n Notifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifier = n
}

// Supported reports whether an extractor accepts path
func (p *Processor) Supported(path string) bool {
	return p.registry.Supported(path)
}

// Attempts returns the recorded failure count for path
func (p *Processor) Attempts(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errorCounts[path]
}

// ProcessFile turns one inbox file into a capsule and removes the source.
// Unsupported or vanished files return "" with a nil error. On failure the
// attempt is recorded in the error log, the file stays put for a later
// retry, and after the configured number of failures it is moved to the
// failed folder.
func (p *Processor) ProcessFile(ctx context.Context, path string, method capsule.CaptureMethod) (string, error) {
	if method == "" {
		method = capsule.MethodDrop
	}
	logger := p.logger.WithFields(map[string]interface{}{
		"file":   filepath.Base(path),
		"method": string(method),
	})

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("file no longer exists, skipping")
			return "", nil
		}
		return "", p.fail(path, err)
	}
	logger.Info("starting: %s (size: %d bytes)", filepath.Base(path), info.Size())

	ex, err := p.registry.Select(path)
	if err != nil {
		logger.WithContext("extension", filepath.Ext(path)).Warn("no extractor for file")
		metrics.CapturesProcessed.WithLabelValues(metrics.ResultSkipped).Inc()
		return "", nil
	}

	start := time.Now()
	capsulePath, c, err := p.processFile(ctx, ex, path, info, method, logger)
	if err != nil {
		logger.WithContext("error", err.Error()).Error("error processing %s", filepath.Base(path))
		return "", p.fail(path, err)
	}
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	metrics.CapturesProcessed.WithLabelValues(metrics.ResultSuccess).Inc()

	p.mu.Lock()
	delete(p.errorCounts, path)
	p.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithContext("error", err.Error()).Warn("could not remove source file")
	}

	logger.WithFields(map[string]interface{}{
		"capsule":  filepath.Base(capsulePath),
		"category": c.Metadata.Category,
	}).Info("completed: %s -> %s", filepath.Base(path), filepath.Base(capsulePath))
	p.notify(Event{
		Type:     EventCapsuleCreated,
		Source:   filepath.Base(path),
		Path:     p.writer.Layout().Rel(capsulePath),
		Title:    c.Metadata.Title,
		Category: c.Metadata.Category,
	})
	return capsulePath, nil
}

func (p *Processor) processFile(ctx context.Context, ex extract.Extractor, path string, info os.FileInfo, method capsule.CaptureMethod, logger *logging.Logger) (string, *capsule.Capsule, error) {
	if p.maxFileSize > 0 && info.Size() > p.maxFileSize {
		return "", nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, info.Size(), p.maxFileSize)
	}

	content, err := ex.Extract(path)
	if err != nil {
		return "", nil, fmt.Errorf("extraction failed: %w", err)
	}

	var c *capsule.Capsule
	var original string
	if content.IsImage {
		logger.Debug("calling LLM with image")
		c, err = p.transformer.ImageFile(ctx, content.ImagePath, method)
		original = content.ImagePath
	} else {
		logger.WithContext("text_size", len(content.Text)).Debug("calling LLM with text")
		warnSecrets(logger, content.Text)
		c, err = p.transformer.Text(ctx, content.Text, content.SourceURL, method)
	}
	if err != nil {
		return "", nil, fmt.Errorf("transform failed: %w", err)
	}

	capsulePath, err := p.writer.Write(c, original)
	if err != nil {
		return "", nil, fmt.Errorf("write failed: %w", err)
	}
	p.regenerateIndex()
	return capsulePath, c, nil
}

// fail records one failed attempt and dead-letters the file once the
// retry budget is spent. It returns the original error.
func (p *Processor) fail(path string, cause error) error {
	p.mu.Lock()
	p.errorCounts[path]++
	count := p.errorCounts[path]
	deadLetter := count >= p.maxRetries
	if deadLetter {
		delete(p.errorCounts, path)
	}
	p.mu.Unlock()

	metrics.CapturesProcessed.WithLabelValues(metrics.ResultFailure).Inc()
	logger := p.logger.WithFields(map[string]interface{}{
		"file":    filepath.Base(path),
		"attempt": count,
	})
	logger.Error("error processing %s (attempt %d): %v", filepath.Base(path), count, cause)

	if err := p.appendErrorLog(path, cause); err != nil {
		logger.WithContext("error", err.Error()).Warn("could not append to error log")
	}

	event := Event{Type: EventCaptureFailed, Source: filepath.Base(path), Error: cause.Error(), Attempt: count}
	if deadLetter {
		if dest, err := p.moveToFailed(path); err != nil {
			logger.WithContext("error", err.Error()).Warn("could not move file to failed folder")
		} else if dest != "" {
			metrics.DeadLetters.Inc()
			event.Type = EventDeadLettered
			event.Path = dest
			logger.WithContext("dest", dest).Error("max retries reached, moved to failed: %s", filepath.Base(path))
		}
	}
	p.notify(event)
	return cause
}

func (p *Processor) appendErrorLog(path string, cause error) error {
	if err := os.MkdirAll(filepath.Dir(p.errorLogPath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(p.errorLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	msg := strings.ReplaceAll(cause.Error(), "\n", " ")
	_, err = fmt.Fprintf(f, "[%s] %s: %s\n", time.Now().Format(time.RFC3339), filepath.Base(path), msg)
	return err
}

func (p *Processor) moveToFailed(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}
	if err := os.MkdirAll(p.failedDir, 0755); err != nil {
		return "", err
	}
	dest := capsule.UniquePath(filepath.Join(p.failedDir, filepath.Base(path)))
	if err := capsule.MoveFile(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// ProcessBrowserCapture writes a capsule for content, a URL or an image
// sent by the browser extension or pulled from the relay. Errors go straight
// back to the caller; there is no retry bookkeeping on this path.
func (p *Processor) ProcessBrowserCapture(ctx context.Context, bc BrowserCapture) (*Result, error) {
	logger := p.logger.WithFields(map[string]interface{}{
		"source_url": bc.SourceURL,
		"has_image":  bc.ImageData != "",
	})

	content := bc.Content
	sourceURL := bc.SourceURL
	if bc.URL != "" && bc.ImageData == "" {
		logger.WithContext("url", bc.URL).Info("fetching URL")
		page, err := p.fetcher.Fetch(ctx, bc.URL)
		if err != nil {
			logger.WithFields(map[string]interface{}{"url": bc.URL, "error": err.Error()}).Error("URL fetch failed")
			metrics.CapturesProcessed.WithLabelValues(metrics.ResultFailure).Inc()
			return nil, err
		}
		content = page.Text
		if sourceURL == "" {
			sourceURL = page.SourceURL
		}
		logger.WithContext("text_size", len(content)).Info("extracted content from URL")
	}

	var c *capsule.Capsule
	var err error
	switch {
	case bc.ImageData != "":
		c, err = p.transformer.ImageBase64(ctx, bc.ImageData, sourceURL, capsule.MethodBrowser)
	case strings.TrimSpace(content) != "":
		warnSecrets(logger, content)
		c, err = p.transformer.Text(ctx, content, sourceURL, capsule.MethodBrowser)
	default:
		err = ErrEmptyCapture
	}
	if err != nil {
		metrics.CapturesProcessed.WithLabelValues(metrics.ResultFailure).Inc()
		p.notify(Event{Type: EventCaptureFailed, Source: "browser", Error: err.Error()})
		return nil, err
	}

	if title := strings.TrimSpace(bc.Title); title != "" {
		c.Metadata.Title = title
	}
	if len(bc.Tags) > 0 {
		c.Metadata.Tags = capsule.MergeTags(c.Metadata.Tags, bc.Tags)
	}

	path, err := p.writer.Write(c, "")
	if err != nil {
		metrics.CapturesProcessed.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, fmt.Errorf("write failed: %w", err)
	}
	p.regenerateIndex()
	metrics.CapturesProcessed.WithLabelValues(metrics.ResultSuccess).Inc()

	logger.WithContext("capsule", filepath.Base(path)).Info("browser capture written")
	p.notify(Event{
		Type:     EventCapsuleCreated,
		Source:   "browser",
		Path:     p.writer.Layout().Rel(path),
		Title:    c.Metadata.Title,
		Category: c.Metadata.Category,
	})
	return &Result{Path: path, Capsule: c}, nil
}

// regenerateIndex is best effort: the capsule is already on disk
func (p *Processor) regenerateIndex() {
	if p.indexer == nil {
		return
	}
	if err := p.indexer.Regenerate(); err != nil {
		p.logger.WithContext("error", err.Error()).Warn("index regeneration failed")
	}
}

func (p *Processor) notify(e Event) {
	p.mu.Lock()
	n := p.notifier
	p.mu.Unlock()
	if n != nil {
		n.Notify(e)
	}
}
