package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".json": true,
}

// TextExtractor reads plain text, markdown and browser-capture JSON
type TextExtractor struct{}

func (TextExtractor) CanHandle(path string) bool {
	return textExtensions[ext(path)]
}

func (TextExtractor) Extract(path string) (*Content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read text: %w", err)
	}
	text := strings.ToValidUTF8(string(data), "")

	if ext(path) == ".json" {
		return fromJSON(text), nil
	}

	title := headingTitle(text)
	if title == "" {
		title = titleFromStem(path)
	}
	return &Content{Text: text, SuggestedTitle: title}, nil
}

// headingTitle returns the first level-1 or level-2 markdown heading
func headingTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "# "):
			return strings.TrimSpace(line[2:])
		case strings.HasPrefix(line, "## "):
			return strings.TrimSpace(line[3:])
		}
	}
	return ""
}

// fromJSON recognizes the browser capture shape {content, source_url|url, title}.
// Other JSON is pretty-printed; invalid JSON is returned as raw text.
func fromJSON(text string) *Content {
	raw := []byte(text)
	if !json.Valid(raw) {
		return &Content{Text: text}
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, bytes.TrimSpace(raw), "", "  "); err != nil {
		return &Content{Text: text}
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		// valid JSON, but not an object
		return &Content{Text: pretty.String()}
	}

	content := &Content{
		Text:           stringField(obj, "content"),
		SourceURL:      stringField(obj, "source_url"),
		SuggestedTitle: stringField(obj, "title"),
	}
	if content.SourceURL == "" {
		content.SourceURL = stringField(obj, "url")
	}
	if content.Text == "" {
		content.Text = pretty.String()
	}
	return content
}

func stringField(obj map[string]interface{}, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}
