package extract

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrUnsupported is returned by Select when no extractor handles a path
var ErrUnsupported = errors.New("extract: unsupported file type")

// Content is the normalized result of extraction
type Content struct {
	Text           string
	IsImage        bool
	ImagePath      string
	SourceURL      string
	SuggestedTitle string
}

// Extractor converts one kind of file into Content
type Extractor interface {
	CanHandle(path string) bool
	Extract(path string) (*Content, error)
}

// Registry dispatches to the first extractor that accepts a path
type Registry struct {
	extractors []Extractor
}

// NewRegistry builds a registry that tries extractors in the given order
func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

// DefaultRegistry checks image, then HTML, then text
func DefaultRegistry() *Registry {
	return NewRegistry(ImageExtractor{}, HTMLExtractor{}, TextExtractor{})
}

// Select returns the first extractor that can handle path
func (r *Registry) Select(path string) (Extractor, error) {
	for _, e := range r.extractors {
		if e.CanHandle(path) {
			return e, nil
		}
	}
	return nil, ErrUnsupported
}

// Supported reports whether any extractor accepts path
func (r *Registry) Supported(path string) bool {
	_, err := r.Select(path)
	return err == nil
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// titleFromStem turns "my_file-name.png" into "My File Name"
func titleFromStem(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	return titleCase(stem)
}

// titleCase upper-cases the first letter of each word and lower-cases the rest
func titleCase(s string) string {
	var sb strings.Builder
	startOfWord := true
	for _, r := range s {
		if !unicode.IsLetter(r) {
			sb.WriteRune(r)
			startOfWord = !unicode.IsDigit(r)
			continue
		}
		if startOfWord {
			sb.WriteRune(unicode.ToUpper(r))
		} else {
			sb.WriteRune(unicode.ToLower(r))
		}
		startOfWord = false
	}
	return sb.String()
}
