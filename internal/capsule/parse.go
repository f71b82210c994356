package capsule

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	headerExecutiveSummary = "# Executive Summary"
	headerCoreInsight      = "# Core Insight"
	headerFullContent      = "# Full Content"
)

var (
	// ErrNoFrontmatter is returned for markdown without a leading --- block
	ErrNoFrontmatter = errors.New("capsule: missing frontmatter")
	// ErrMissingSection is returned when one of the three fixed sections is absent or out of order
	ErrMissingSection = errors.New("capsule: missing section")
)

// Sections are the three body sections of a capsule
type Sections struct {
	ExecutiveSummary string
	CoreInsight      string
	FullContent      string
}

// Document is a parsed capsule file
type Document struct {
	Metadata Metadata
	Body     string
}

// SplitFrontmatter separates and decodes the YAML frontmatter from the markdown body
func SplitFrontmatter(data []byte) (*Document, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return nil, ErrNoFrontmatter
	}

	rest := text[len("---\n"):]
	var fm, body string
	switch {
	case strings.HasPrefix(rest, "---\n"):
		body = rest[len("---\n"):]
	default:
		end := strings.Index(rest, "\n---\n")
		if end < 0 {
			if strings.HasSuffix(rest, "\n---") {
				end = len(rest) - len("\n---")
				fm = rest[:end]
				break
			}
			return nil, ErrNoFrontmatter
		}
		fm = rest[:end]
		body = rest[end+len("\n---\n"):]
	}

	doc := &Document{Body: strings.TrimLeft(body, "\n")}
	if err := yaml.NewDecoder(bytes.NewBufferString(fm)).Decode(&doc.Metadata); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("capsule: invalid frontmatter: %w", err)
	}
	if doc.Metadata.Tags == nil {
		doc.Metadata.Tags = []string{}
	}
	return doc, nil
}

// ParseSections reads the three fixed sections in order.
// Everything after the Full Content header belongs to that section, so captured
// markdown with its own headings survives a round trip.
func ParseSections(body string) (Sections, error) {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	headers := []string{headerExecutiveSummary, headerCoreInsight, headerFullContent}
	starts := make([]int, 0, len(headers))
	for i, line := range lines {
		if len(starts) == len(headers) {
			break
		}
		if strings.TrimRight(line, " \t") == headers[len(starts)] {
			starts = append(starts, i)
		}
	}
	if len(starts) < len(headers) {
		return Sections{}, fmt.Errorf("%w: %s", ErrMissingSection, headers[len(starts)])
	}

	block := func(from, to int) string {
		return strings.TrimSpace(strings.Join(lines[from+1:to], "\n"))
	}

	return Sections{
		ExecutiveSummary: unquote(block(starts[0], starts[1])),
		CoreInsight:      block(starts[1], starts[2]),
		FullContent:      block(starts[2], len(lines)),
	}, nil
}

// Parse decodes a full capsule file
func Parse(data []byte) (*Capsule, error) {
	doc, err := SplitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	sections, err := ParseSections(doc.Body)
	if err != nil {
		return nil, err
	}
	return &Capsule{
		Metadata:         doc.Metadata,
		ExecutiveSummary: sections.ExecutiveSummary,
		CoreInsight:      sections.CoreInsight,
		FullContent:      sections.FullContent,
	}, nil
}

// unquote strips blockquote markers
func unquote(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "> "):
			lines[i] = line[2:]
		case strings.HasPrefix(line, ">"):
			lines[i] = line[1:]
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
