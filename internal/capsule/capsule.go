package capsule

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"
)

// Status of a capsule
type Status string

const (
	StatusActive Status = "active"
	StatusLegacy Status = "legacy"
)

// CaptureMethod records how content entered the pipeline
type CaptureMethod string

const (
	MethodManual     CaptureMethod = "manual"
	MethodScreenshot CaptureMethod = "screenshot"
	MethodBrowser    CaptureMethod = "browser"
	MethodDrop       CaptureMethod = "drop"
)

// DefaultCategory is used when the model does not supply one
const DefaultCategory = "Uncategorized"

// DateLayout is the on-disk format of captured_at
const DateLayout = "2006-01-02"

// Date is a calendar date serialized as YYYY-MM-DD
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar day
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// MarshalYAML implements yaml.Marshaler
func (d Date) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// MarshalJSON keeps the date-only form in API responses
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalYAML accepts plain dates and full timestamps
func (d *Date) UnmarshalYAML(node *yaml.Node) error {
	value := strings.TrimSpace(node.Value)
	if value == "" || value == "null" {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{DateLayout, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			*d = NewDate(t)
			return nil
		}
	}
	return fmt.Errorf("invalid captured_at %q", value)
}

// Metadata is the YAML frontmatter of a capsule. Field order is the on-disk key order.
type Metadata struct {
	ID            string        `yaml:"id" json:"id"`
	Title         string        `yaml:"title" json:"title"`
	SourceURL     string        `yaml:"source_url" json:"source_url,omitempty"`
	Tags          []string      `yaml:"tags" json:"tags"`
	Category      string        `yaml:"category" json:"category"`
	Status        Status        `yaml:"status" json:"status"`
	Pinned        bool          `yaml:"pinned" json:"pinned"`
	CapturedAt    Date          `yaml:"captured_at" json:"captured_at"`
	CaptureMethod CaptureMethod `yaml:"capture_method" json:"capture_method"`
	OriginalAsset string        `yaml:"original_asset" json:"original_asset,omitempty"`
}

// Capsule is a complete knowledge capsule: metadata plus its three sections
type Capsule struct {
	Metadata         Metadata
	ExecutiveSummary string
	CoreInsight      string
	FullContent      string
}

// New builds an active capsule captured now with a fresh ID
func New(title, category string, tags []string, method CaptureMethod, now time.Time) *Capsule {
	if category == "" {
		category = DefaultCategory
	}
	if method == "" {
		method = MethodManual
	}
	if tags == nil {
		tags = []string{}
	}
	return &Capsule{
		Metadata: Metadata{
			ID:            NewID(now),
			Title:         title,
			Tags:          tags,
			Category:      category,
			Status:        StatusActive,
			CapturedAt:    NewDate(now),
			CaptureMethod: method,
		},
	}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a time-ordered unique identifier.
// IDs minted within the same millisecond stay strictly increasing.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Filename derives the capsule file name from captured_at and the first six words of the title
func (c *Capsule) Filename() string {
	return Filename(c.Metadata.Title, c.Metadata.CapturedAt)
}

// Filename is the pure naming rule: YYYYMMDD_first_six_words.md
func Filename(title string, capturedAt Date) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			sb.WriteRune(r)
		}
	}
	words := strings.Fields(sb.String())
	if len(words) > 6 {
		words = words[:6]
	}
	return fmt.Sprintf("%s_%s.md", capturedAt.Format("20060102"), strings.Join(words, "_"))
}

// Markdown renders the capsule as frontmatter followed by the three fixed sections
func (c *Capsule) Markdown() ([]byte, error) {
	return render(&c.Metadata, Sections{
		ExecutiveSummary: c.ExecutiveSummary,
		CoreInsight:      c.CoreInsight,
		FullContent:      c.FullContent,
	})
}

func render(meta *Metadata, s Sections) ([]byte, error) {
	if meta.Tags == nil {
		meta.Tags = []string{}
	}

	var fm bytes.Buffer
	enc := yaml.NewEncoder(&fm)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return nil, fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	enc.Close()

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.WriteString(strings.TrimSpace(fm.String()))
	buf.WriteString("\n---\n\n")
	buf.WriteString(headerExecutiveSummary + "\n\n")
	buf.WriteString(quote(s.ExecutiveSummary) + "\n\n")
	buf.WriteString(headerCoreInsight + "\n\n")
	buf.WriteString(s.CoreInsight + "\n\n")
	buf.WriteString(headerFullContent + "\n\n")
	buf.WriteString(s.FullContent + "\n")
	return buf.Bytes(), nil
}

// quote renders text as a markdown blockquote
func quote(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = ">"
			continue
		}
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}
