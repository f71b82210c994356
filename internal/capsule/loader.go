package capsule

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when no capsule matches a lookup
var ErrNotFound = errors.New("capsule: not found")

// Entry is a capsule discovered on disk
type Entry struct {
	Metadata
	Path         string `json:"path"`     // relative to the vault root
	Filename     string `json:"filename"` // base name
	AbsolutePath string `json:"-"`
	Body         string `json:"content,omitempty"` // only with IncludeContent
}

// LoadOptions controls Load
type LoadOptions struct {
	IncludeContent bool
	IncludeLegacy  bool
}

// Load walks the capsules directory and returns every parseable capsule,
// newest captured_at first. Files without a title (INDEX.md) are skipped.
func Load(layout Layout, opts LoadOptions) ([]Entry, error) {
	var entries []Entry

	err := walkMarkdown(layout.CapsulesDir, func(path string, doc *Document) bool {
		if doc.Metadata.Title == "" {
			return true
		}
		if !opts.IncludeLegacy && doc.Metadata.Status == StatusLegacy {
			return true
		}

		entry := Entry{
			Metadata:     doc.Metadata,
			Path:         layout.Rel(path),
			Filename:     filepath.Base(path),
			AbsolutePath: path,
		}
		if opts.IncludeContent {
			entry.Body = doc.Body
		}
		entries = append(entries, entry)
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CapturedAt.After(entries[j].CapturedAt.Time)
	})
	return entries, nil
}

// FindBySourceURL returns the path and document of the active capsule with an exact source_url match
func FindBySourceURL(layout Layout, sourceURL string) (string, *Document, error) {
	if sourceURL == "" {
		return "", nil, ErrNotFound
	}

	var foundPath string
	var found *Document
	err := walkMarkdown(layout.CapsulesDir, func(path string, doc *Document) bool {
		if doc.Metadata.SourceURL == sourceURL && doc.Metadata.Status != StatusLegacy {
			foundPath, found = path, doc
			return false
		}
		return true
	})
	if err != nil {
		return "", nil, err
	}
	if found == nil {
		return "", nil, ErrNotFound
	}
	return foundPath, found, nil
}

// FindFile resolves a bare capsule filename to its absolute path.
// Names with separators or "..", non-.md names and anything resolving outside
// the capsules directory are rejected as not found.
func FindFile(layout Layout, filename string) (string, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return "", ErrNotFound
	}
	if !strings.HasSuffix(filename, ".md") {
		return "", ErrNotFound
	}

	root, err := filepath.EvalSymlinks(layout.CapsulesDir)
	if err != nil {
		return "", ErrNotFound
	}

	var match string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() != filename {
			return nil
		}
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil || !within(root, resolved) {
			return nil
		}
		match = path
		return filepath.SkipAll
	})
	if match == "" {
		return "", ErrNotFound
	}
	return match, nil
}

// ReadFile loads and parses one capsule file
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return SplitFrontmatter(data)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// walkMarkdown calls fn for every parseable .md file under dir until fn returns false.
// Unparseable files are skipped. A missing dir yields nothing.
func walkMarkdown(dir string, fn func(path string, doc *Document) bool) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		doc, err := ReadFile(path)
		if err != nil {
			return nil
		}
		if !fn(path, doc) {
			return filepath.SkipAll
		}
		return nil
	})
	return err
}
