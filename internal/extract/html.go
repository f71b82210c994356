package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Noise stripped before text extraction
var noiseSelector = cascadia.MustCompile("script, style, nav, header, footer, aside")

// Content containers, most specific first
var containerSelectors = []cascadia.Selector{
	cascadia.MustCompile("article"),
	cascadia.MustCompile("main"),
	cascadia.MustCompile(`[role="main"]`),
	cascadia.MustCompile(".content"),
	cascadia.MustCompile("#content"),
}

var (
	titleSelector     = cascadia.MustCompile("title")
	bodySelector      = cascadia.MustCompile("body")
	canonicalSelector = cascadia.MustCompile(`link[rel~="canonical"]`)
	ogURLSelector     = cascadia.MustCompile(`meta[property="og:url"]`)
)

// HTMLExtractor pulls readable text out of saved web pages
type HTMLExtractor struct{}

func (HTMLExtractor) CanHandle(path string) bool {
	switch ext(path) {
	case ".html", ".htm":
		return true
	}
	return false
}

func (HTMLExtractor) Extract(path string) (*Content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read html: %w", err)
	}
	return FromHTML(bytes.NewReader(data))
}

// FromHTML extracts article text, title and source URL from an HTML document
func FromHTML(r io.Reader) (*Content, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	for _, n := range noiseSelector.MatchAll(doc) {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}

	var container *html.Node
	for _, sel := range containerSelectors {
		if container = sel.MatchFirst(doc); container != nil {
			break
		}
	}
	if container == nil {
		container = bodySelector.MatchFirst(doc)
	}

	content := &Content{}
	if container != nil {
		content.Text = nodeText(container)
	}
	if t := titleSelector.MatchFirst(doc); t != nil {
		content.SuggestedTitle = strings.TrimSpace(textOf(t))
	}
	if link := canonicalSelector.MatchFirst(doc); link != nil && attr(link, "href") != "" {
		content.SourceURL = attr(link, "href")
	} else if meta := ogURLSelector.MatchFirst(doc); meta != nil && attr(meta, "content") != "" {
		content.SourceURL = attr(meta, "content")
	}
	return content, nil
}

// nodeText joins every non-blank text node under n with newlines
func nodeText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
			return
		case html.ElementNode:
			if n.DataAtom == atom.Template {
				return
			}
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, "\n")
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
