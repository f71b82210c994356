package mcp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sieve/internal/capsule"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultSearchLimit caps search_capsules results when no limit is given
const DefaultSearchLimit = 10

// Search weights per matched field
const (
	titleWeight   = 10
	tagWeight     = 5
	contentWeight = 1
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	layout    capsule.Layout
	indexPath string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(layout capsule.Layout, indexPath string) *Handlers {
	return &Handlers{layout: layout, indexPath: indexPath}
}

// SearchRequest represents the arguments for search_capsules.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// CapsuleRequest represents the arguments for get_capsule.
type CapsuleRequest struct {
	ID string `json:"id"`
}

func (h *Handlers) load() ([]capsule.Entry, error) {
	return capsule.Load(h.layout, capsule.LoadOptions{IncludeContent: true})
}

// HandleSearch scores active capsules against a case-insensitive query and
// returns the best matches, highest score first.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}
	query := strings.ToLower(strings.TrimSpace(input.Query))
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	entries, err := h.load()
	if err != nil {
		return mcp.NewToolResultError("failed to load capsules"), nil
	}

	type match struct {
		score int
		entry capsule.Entry
	}
	var matches []match
	for _, e := range entries {
		if s := score(e, query); s > 0 {
			matches = append(matches, match{s, e})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	if len(matches) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No capsules found matching '%s'", input.Query)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d capsules matching '%s':\n\n", len(matches), input.Query)
	for _, m := range matches {
		b.WriteString(formatCapsule(m.entry))
		b.WriteString("\n---\n\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func score(e capsule.Entry, query string) int {
	s := 0
	if strings.Contains(strings.ToLower(e.Title), query) {
		s += titleWeight
	}
	for _, t := range e.Tags {
		if strings.Contains(strings.ToLower(t), query) {
			s += tagWeight
			break
		}
	}
	if strings.Contains(strings.ToLower(e.Body), query) {
		s += contentWeight
	}
	return s
}

// HandlePinned returns every pinned active capsule.
func (h *Handlers) HandlePinned(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := h.load()
	if err != nil {
		return mcp.NewToolResultError("failed to load capsules"), nil
	}

	var pinned []capsule.Entry
	for _, e := range entries {
		if e.Pinned {
			pinned = append(pinned, e)
		}
	}
	if len(pinned) == 0 {
		return mcp.NewToolResultText("No pinned capsules found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Pinned Capsules (%d)\n\n", len(pinned))
	for _, e := range pinned {
		b.WriteString(formatCapsule(e))
		b.WriteString("\n---\n\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// HandleGetCapsule returns one capsule by id.
func (h *Handlers) HandleGetCapsule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CapsuleRequest](req)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	entries, err := h.load()
	if err != nil {
		return mcp.NewToolResultError("failed to load capsules"), nil
	}
	for _, e := range entries {
		if e.ID == id {
			return mcp.NewToolResultText(formatCapsule(e)), nil
		}
	}
	return mcp.NewToolResultText(fmt.Sprintf("Capsule with ID '%s' not found.", id)), nil
}

// HandleIndex returns the generated INDEX.md.
func (h *Handlers) HandleIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := os.ReadFile(h.indexPath)
	if errors.Is(err, fs.ErrNotExist) {
		return mcp.NewToolResultText("INDEX.md not found. Run 'sieve index' to generate it."), nil
	}
	if err != nil {
		return mcp.NewToolResultError("failed to read index"), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// HandleCategories counts active capsules per category.
func (h *Handlers) HandleCategories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := h.load()
	if err != nil {
		return mcp.NewToolResultError("failed to load capsules"), nil
	}

	counts := make(map[string]int)
	for _, e := range entries {
		category := e.Category
		if category == "" {
			category = capsule.DefaultCategory
		}
		counts[category]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# Knowledge Categories\n\n")
	for _, name := range names {
		fmt.Fprintf(&b, "- **%s**: %d capsules\n", name, counts[name])
	}
	fmt.Fprintf(&b, "\n**Total: %d capsules across %d categories**", len(entries), len(counts))
	return mcp.NewToolResultText(b.String()), nil
}

func formatCapsule(e capsule.Entry) string {
	title := e.Title
	if title == "" {
		title = "Untitled"
	}
	category := e.Category
	if category == "" {
		category = capsule.DefaultCategory
	}
	pinned := "No"
	if e.Pinned {
		pinned = "Yes"
	}

	lines := []string{
		"## " + title,
		"**ID:** " + e.ID,
		"**Category:** " + category,
		"**Tags:** " + strings.Join(e.Tags, ", "),
		"**Captured:** " + e.CapturedAt.String(),
		"**Pinned:** " + pinned,
	}
	if e.SourceURL != "" {
		lines = append(lines, "**Source:** "+e.SourceURL)
	}
	lines = append(lines, "", e.Body)
	return strings.Join(lines, "\n")
}
