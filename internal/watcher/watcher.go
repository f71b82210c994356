package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sieve/internal/capsule"
	"sieve/internal/logging"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrStopTimeout is returned by Stop when work is still running at the deadline
var ErrStopTimeout = errors.New("watcher did not stop cleanly")

// Processor handles one file from a watched folder
type Processor interface {
	ProcessFile(ctx context.Context, path string, method capsule.CaptureMethod) (string, error)
}

// Folder is a watched directory and the capture method its files get
type Folder struct {
	Path   string
	Method capsule.CaptureMethod
}

// Watcher monitors folders for new files and hands each one to the
// processor after a settle delay. A path is queued at most once while its
// delayed task is outstanding.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	processor Processor
	delay     time.Duration
	logger    *logging.Logger

	mu      sync.Mutex
	folders map[string]capsule.CaptureMethod
	pending map[string]*time.Timer
	started bool
	stopped bool

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a folder watcher with fsnotify initialization
func NewWatcher(p Processor, delay time.Duration, logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithContext("error", err.Error()).Error("failed to create fsnotify watcher")
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		processor: p,
		delay:     delay,
		logger:    logger,
		folders:   make(map[string]capsule.CaptureMethod),
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}, nil
}

// AddFolder starts watching path; files created there are processed with method
func (w *Watcher) AddFolder(path string, method capsule.CaptureMethod) error {
	logger := w.logger.WithContext("folder_path", path)

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := validatePath(abs); err != nil {
		logger.WithContext("error", err.Error()).Error("invalid folder path")
		return err
	}
	if err := w.fsWatcher.Add(abs); err != nil {
		logger.WithContext("error", err.Error()).Error("failed to add folder to watcher")
		return fmt.Errorf("failed to add folder to watcher: %w", err)
	}

	w.mu.Lock()
	w.folders[abs] = method
	w.mu.Unlock()

	logger.Info("watching: %s", abs)
	return nil
}

// Folders returns the watched directories
func (w *Watcher) Folders() []Folder {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Folder, 0, len(w.folders))
	for path, method := range w.folders {
		out = append(out, Folder{Path: path, Method: method})
	}
	return out
}

// Start runs the event loop until ctx is cancelled or Stop is called
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.eventLoop(ctx)
	w.logger.WithContext("folder_count", len(w.Folders())).Info("file watcher started")
}

// ScanExisting queues files already sitting in the watched folders
func (w *Watcher) ScanExisting(ctx context.Context) int {
	queued := 0
	for _, folder := range w.Folders() {
		entries, err := os.ReadDir(folder.Path)
		if err != nil {
			w.logger.WithFields(map[string]interface{}{
				"folder_path": folder.Path,
				"error":       err.Error(),
			}).Warn("failed to scan folder")
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(folder.Path, entry.Name())
			if shouldProcess(folder.Path, path) && w.enqueue(ctx, path, folder.Method) {
				queued++
			}
		}
	}
	if queued > 0 {
		w.logger.WithContext("count", queued).Info("queued existing files")
	}
	return queued
}

// Pending returns the number of queued or running paths
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Stop closes the OS watch, cancels delayed tasks that have not fired and
// waits up to timeout for the event loop and running tasks to finish.
func (w *Watcher) Stop(timeout time.Duration) error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		if !w.started {
			close(w.done)
		}
		for path, t := range w.pending {
			if t.Stop() {
				delete(w.pending, path)
				w.wg.Done()
			}
		}
		w.mu.Unlock()

		if err := w.fsWatcher.Close(); err != nil {
			w.logger.WithContext("error", err.Error()).Warn("failed to close fsnotify watcher")
		}
	})

	finished := make(chan struct{})
	go func() {
		<-w.done
		w.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		w.logger.Info("file watcher stopped")
		return nil
	case <-time.After(timeout):
		w.logger.WithContext("pending", w.Pending()).Warn("file watcher did not stop cleanly")
		return ErrStopTimeout
	}
}

// eventLoop processes filesystem events
func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.WithContext("error", err.Error()).Error("watcher error")
		}
	}
}

// handleEvent queues newly created files
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}
	logger := w.logger.WithFields(map[string]interface{}{
		"file_path":  event.Name,
		"event_type": event.Op.String(),
	})

	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		logger.Debug("ignoring directory event")
		return
	}
	root := filepath.Dir(event.Name)
	w.mu.Lock()
	method, ok := w.folders[root]
	w.mu.Unlock()
	if !ok {
		method = capsule.MethodDrop
	}

	if !shouldProcess(root, event.Name) {
		logger.Debug("skipping hidden or dead-lettered file")
		return
	}

	if w.enqueue(ctx, event.Name, method) {
		logger.Info("queued for processing: %s (pending: %d)", filepath.Base(event.Name), w.Pending())
	} else {
		logger.Debug("already pending")
	}
}

// enqueue schedules path after the settle delay unless it is already pending
func (w *Watcher) enqueue(ctx context.Context, path string, method capsule.CaptureMethod) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	if _, ok := w.pending[path]; ok {
		return false
	}
	w.wg.Add(1)
	w.pending[path] = time.AfterFunc(w.delay, func() {
		defer w.wg.Done()
		w.run(ctx, path, method)
	})
	return true
}

func (w *Watcher) run(ctx context.Context, path string, method capsule.CaptureMethod) {
	logger := w.logger.WithContext("file_path", path)
	defer func() {
		if r := recover(); r != nil {
			logger.WithContext("panic", fmt.Sprint(r)).Error("processing panicked")
		}
		w.mu.Lock()
		delete(w.pending, path)
		remaining := len(w.pending)
		w.mu.Unlock()
		logger.Debug("finished processing: %s (pending: %d)", filepath.Base(path), remaining)
	}()

	if ctx.Err() != nil {
		return
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("file no longer exists: %s", filepath.Base(path))
		return
	}
	if _, err := w.processor.ProcessFile(ctx, path, method); err != nil {
		logger.WithContext("error", err.Error()).Error("processing failed for %s", filepath.Base(path))
	}
}

// shouldProcess filters hidden files and anything under a failed folder
// below root. Ancestors of root are not considered.
func shouldProcess(root, path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/") {
		if part == "failed" {
			return false
		}
	}
	return true
}

// validatePath blocks system directories
func validatePath(path string) error {
	systemDirs := []string{"/etc", "/System", "/Windows", "/sys", "/proc", "C:\\Windows", "C:\\System"}
	for _, sysDir := range systemDirs {
		if strings.HasPrefix(path, sysDir) {
			return fmt.Errorf("cannot watch system directory: %s", path)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %s", path)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	return nil
}
