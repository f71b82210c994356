package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sieve/internal/capsule"
	"sieve/internal/logging"
	"sort"
	"strings"
	"time"
)

// MaxPerCategory caps the entries listed under each category heading
const MaxPerCategory = 20

// Indexer regenerates INDEX.md from the capsules on disk.
// The index is derived output and is overwritten on every run.
type Indexer struct {
	layout    capsule.Layout
	indexPath string
	logger    *logging.Logger
	now       func() time.Time
}

// New creates an Indexer writing to indexPath
func New(layout capsule.Layout, indexPath string, logger *logging.Logger) *Indexer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Indexer{
		layout:    layout,
		indexPath: indexPath,
		logger:    logger,
		now:       time.Now,
	}
}

// Path returns the index file location
func (ix *Indexer) Path() string {
	return ix.indexPath
}

// Regenerate rebuilds the index from all active capsules
func (ix *Indexer) Regenerate() error {
	entries, err := capsule.Load(ix.layout, capsule.LoadOptions{})
	if err != nil {
		return fmt.Errorf("failed to load capsules: %w", err)
	}

	content := Render(entries, ix.now())

	if err := os.MkdirAll(filepath.Dir(ix.indexPath), 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	if err := capsule.WriteFileAtomic(ix.indexPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	ix.logger.WithContext("capsules", len(entries)).Info("INDEX.md regenerated")
	return nil
}

// Render produces the index markdown. entries must already be active-only.
func Render(entries []capsule.Entry, now time.Time) string {
	sorted := make([]capsule.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CapturedAt.After(sorted[j].CapturedAt.Time)
	})

	var pinned []capsule.Entry
	byCategory := make(map[string][]capsule.Entry)
	for _, e := range sorted {
		if e.Pinned {
			pinned = append(pinned, e)
		}
		category := e.Category
		if category == "" {
			category = capsule.DefaultCategory
		}
		byCategory[category] = append(byCategory[category], e)
	}

	lines := []string{
		"# Neural Sieve",
		"",
		"> The High-Signal External Memory for AI Influence",
		"",
		fmt.Sprintf("*Last updated: %s*", now.Format("2006-01-02 15:04")),
		"",
	}

	if len(pinned) > 0 {
		lines = append(lines,
			"## Eternal Truths",
			"",
			"*Pinned capsules - highest priority context*",
			"",
		)
		for _, e := range pinned {
			lines = append(lines, entryLine(e))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "## Knowledge Map", "")

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, category := range categories {
		members := byCategory[category]
		lines = append(lines, "### "+category, "")
		for i, e := range members {
			if i == MaxPerCategory {
				break
			}
			lines = append(lines, entryLine(e))
		}
		if len(members) > MaxPerCategory {
			lines = append(lines, fmt.Sprintf("  *...and %d more*", len(members)-MaxPerCategory))
		}
		lines = append(lines, "")
	}

	lines = append(lines,
		"---",
		"",
		fmt.Sprintf("**Total capsules:** %d | **Categories:** %d | **Pinned:** %d", len(sorted), len(byCategory), len(pinned)),
		"",
	)
	return strings.Join(lines, "\n")
}

// entryLine renders "- [title](path) [pinned] `tag`"; links are relative to Capsules/
func entryLine(e capsule.Entry) string {
	title := e.Title
	if title == "" {
		title = "Untitled"
	}
	path := strings.TrimPrefix(e.Path, "Capsules/")

	var sb strings.Builder
	fmt.Fprintf(&sb, "- [%s](%s)", title, path)
	if e.Pinned {
		sb.WriteString(" [pinned]")
	}
	if len(e.Tags) > 0 {
		sb.WriteString(" `" + strings.Join(e.Tags, "` `") + "`")
	}
	return sb.String()
}
