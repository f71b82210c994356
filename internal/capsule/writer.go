package capsule

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sieve/internal/logging"
	"strings"
	"sync"
	"time"
)

// MergeSeparator joins appended full_content on a source_url merge
const MergeSeparator = "\n\n---\n\n"

// Writer is the only component that mutates capsule files.
// Calls are serialized so two captures of the same source_url cannot both miss the merge target.
type Writer struct {
	layout Layout
	logger *logging.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewWriter creates a Writer rooted at layout
func NewWriter(layout Layout, logger *logging.Logger) *Writer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Writer{
		layout: layout,
		logger: logger,
		now:    time.Now,
	}
}

// Layout returns the directories the writer operates on
func (w *Writer) Layout() Layout {
	return w.layout
}

// Write persists c and returns the capsule path. When an active capsule with the same
// source_url exists the new content is merged into it instead of creating a file.
// originalFile, if set and present, is copied into Assets/YYYY-MM.
func (w *Writer) Write(c *Capsule, originalFile string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if c.Metadata.SourceURL != "" {
		existingPath, doc, err := FindBySourceURL(w.layout, c.Metadata.SourceURL)
		switch {
		case err == nil:
			return w.merge(existingPath, doc, c, originalFile)
		case !errors.Is(err, ErrNotFound):
			return "", fmt.Errorf("failed to look up source_url: %w", err)
		}
	}

	if c.Metadata.Category == "" {
		c.Metadata.Category = DefaultCategory
	}
	if c.Metadata.Status == "" {
		c.Metadata.Status = StatusActive
	}

	categoryDir := filepath.Join(w.layout.CapsulesDir, sanitizeCategory(c.Metadata.Category))
	if err := os.MkdirAll(categoryDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create category directory: %w", err)
	}

	// A same-day capsule with the same title but a different source gets a _N suffix
	capsulePath := UniquePath(filepath.Join(categoryDir, c.Filename()))

	if asset := w.copyAssetIfPresent(originalFile); asset != "" {
		c.Metadata.OriginalAsset = w.layout.Rel(asset)
	}

	if err := w.writeCapsule(capsulePath, c); err != nil {
		return "", err
	}

	w.logger.WithFields(map[string]interface{}{
		"path":     w.layout.Rel(capsulePath),
		"category": c.Metadata.Category,
	}).Info("capsule written")
	return capsulePath, nil
}

// merge appends the new full_content to an existing capsule and unions tags.
// Summary and insight are kept from the existing file.
func (w *Writer) merge(existingPath string, doc *Document, c *Capsule, originalFile string) (string, error) {
	logger := w.logger.WithContext("path", w.layout.Rel(existingPath))
	logger.Info("merging duplicate source_url into existing capsule")

	sections, err := ParseSections(doc.Body)
	if err != nil {
		// Hand-edited file without the fixed layout: keep its body as the content
		logger.WithContext("error", err.Error()).Warn("existing capsule has no section layout")
		sections = Sections{
			ExecutiveSummary: c.ExecutiveSummary,
			CoreInsight:      c.CoreInsight,
			FullContent:      strings.TrimSpace(doc.Body),
		}
	}

	if incoming := strings.TrimSpace(c.FullContent); incoming != "" {
		if existing := strings.TrimSpace(sections.FullContent); existing != "" {
			sections.FullContent = existing + MergeSeparator + incoming
		} else {
			sections.FullContent = incoming
		}
	}

	meta := doc.Metadata
	meta.Tags = MergeTags(meta.Tags, c.Metadata.Tags)

	if asset := w.copyAssetIfPresent(originalFile); asset != "" && meta.OriginalAsset == "" {
		meta.OriginalAsset = w.layout.Rel(asset)
	}

	data, err := render(&meta, sections)
	if err != nil {
		return "", err
	}
	if err := WriteFileAtomic(existingPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write merged capsule: %w", err)
	}
	return existingPath, nil
}

// MergeTags returns existing followed by the tags from incoming it does not already contain
func MergeTags(existing, incoming []string) []string {
	merged := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, list := range [][]string{existing, incoming} {
		for _, tag := range list {
			if seen[tag] {
				continue
			}
			seen[tag] = true
			merged = append(merged, tag)
		}
	}
	return merged
}

// copyAssetIfPresent copies src into the month's asset folder and returns the destination.
// A missing source is not an error; the capsule is written without an asset.
func (w *Writer) copyAssetIfPresent(src string) string {
	if src == "" {
		return ""
	}
	if _, err := os.Stat(src); err != nil {
		return ""
	}

	monthDir := filepath.Join(w.layout.AssetsDir, w.now().Format("2006-01"))
	if err := os.MkdirAll(monthDir, 0755); err != nil {
		w.logger.WithContext("error", err.Error()).Warn("failed to create asset directory")
		return ""
	}

	dest := UniquePath(filepath.Join(monthDir, filepath.Base(src)))
	if err := copyFile(src, dest); err != nil {
		w.logger.WithContext("error", err.Error()).Warn("failed to copy asset")
		return ""
	}
	return dest
}

func (w *Writer) writeCapsule(path string, c *Capsule) error {
	data, err := c.Markdown()
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write capsule: %w", err)
	}
	return nil
}

// MoveToLegacy moves a capsule file into the legacy folder, renaming on collision
func (w *Writer) MoveToLegacy(path string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.moveToLegacy(path)
}

func (w *Writer) moveToLegacy(path string) (string, error) {
	if err := os.MkdirAll(w.layout.LegacyDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create legacy directory: %w", err)
	}
	dest := UniquePath(filepath.Join(w.layout.LegacyDir, filepath.Base(path)))
	if err := MoveFile(path, dest); err != nil {
		return "", fmt.Errorf("failed to move capsule to legacy: %w", err)
	}
	return dest, nil
}

// Cull marks a capsule legacy and moves it out of the active tree
func (w *Writer) Cull(path string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.update(path, func(m *Metadata) { m.Status = StatusLegacy }); err != nil {
		return "", err
	}
	return w.moveToLegacy(path)
}

// TogglePin flips the pinned flag and returns the new value
func (w *Writer) TogglePin(path string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var pinned bool
	err := w.update(path, func(m *Metadata) {
		m.Pinned = !m.Pinned
		pinned = m.Pinned
	})
	return pinned, err
}

// Edit replaces title and tags. An empty title leaves the title unchanged; nil tags leave tags unchanged.
func (w *Writer) Edit(path, title string, tags []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.update(path, func(m *Metadata) {
		if t := strings.TrimSpace(title); t != "" {
			m.Title = t
		}
		if tags != nil {
			m.Tags = MergeTags(nil, cleanTags(tags))
		}
	})
}

// update applies mutate to the frontmatter and re-renders the capsule
func (w *Writer) update(path string, mutate func(m *Metadata)) error {
	doc, err := ReadFile(path)
	if err != nil {
		return err
	}
	mutate(&doc.Metadata)

	sections, err := ParseSections(doc.Body)
	if err != nil {
		return fmt.Errorf("failed to parse capsule %s: %w", filepath.Base(path), err)
	}
	data, err := render(&doc.Metadata, sections)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0644)
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// sanitizeCategory keeps a model-supplied category from escaping the capsules directory
func sanitizeCategory(category string) string {
	category = strings.TrimSpace(category)
	category = strings.NewReplacer("/", "-", `\`, "-").Replace(category)
	if category == "" || category == "." || category == ".." {
		return DefaultCategory
	}
	return category
}
