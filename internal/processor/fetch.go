package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"sieve/internal/extract"
	"strings"
	"syscall"
	"time"

	"github.com/go-shiori/go-readability"
)

const (
	fetchTimeout    = 30 * time.Second
	maxFetchBytes   = 10 << 20
	minContentChars = 50
	userAgent       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
)

var (
	// ErrBlockedURL is returned for URLs with a bad scheme or an internal target
	ErrBlockedURL = errors.New("url is not allowed")
	// ErrInsufficientContent is returned when a fetched page has no usable text
	ErrInsufficientContent = errors.New("could not extract meaningful content from URL")
)

// Page is the extracted content of a fetched URL
type Page struct {
	Text      string
	Title     string
	SourceURL string // canonical URL when declared, otherwise the final URL
}

// Fetcher downloads web pages for URL captures. Every dialed address is
// checked, so redirects and DNS answers pointing inward are refused too.
type Fetcher struct {
	client   *http.Client
	allow    func(netip.Addr) bool
	validate func(string) error
}

// NewFetcher returns a fetcher that refuses loopback, private, link-local
// and unspecified addresses
func NewFetcher() *Fetcher {
	return newFetcher(publicAddr, ValidateURL)
}

func newFetcher(allow func(netip.Addr) bool, validate func(string) error) *Fetcher {
	f := &Fetcher{allow: allow, validate: validate}
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return err
			}
			if !f.allow(addr.Unmap()) {
				return fmt.Errorf("%w: %s", ErrBlockedURL, addr)
			}
			return nil
		},
	}
	f.client = &http.Client{
		Timeout: fetchTimeout,
		Transport: &http.Transport{
			Proxy:               nil,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        4,
			IdleConnTimeout:     30 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return f.validate(req.URL.String())
		},
	}
	return f
}

func publicAddr(addr netip.Addr) bool {
	return !(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified())
}

// ValidateURL checks scheme and host before any network traffic
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: invalid scheme %q", ErrBlockedURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing hostname", ErrBlockedURL)
	}
	switch host {
	case "localhost", "127.0.0.1", "0.0.0.0", "169.254.169.254", "::1":
		return fmt.Errorf("%w: internal host %s", ErrBlockedURL, host)
	}
	if strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: internal host %s", ErrBlockedURL, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && !publicAddr(addr.Unmap()) {
		return fmt.Errorf("%w: private address %s", ErrBlockedURL, host)
	}
	return nil
}

// Fetch downloads raw and extracts its main text. Pages with fewer than 50
// characters of text after extraction are rejected.
func (f *Fetcher) Fetch(ctx context.Context, raw string) (*Page, error) {
	if err := f.validate(raw); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrBlockedURL) {
			return nil, fmt.Errorf("%w: redirect or resolved address refused", ErrBlockedURL)
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("request timeout while fetching URL")
		}
		return nil, fmt.Errorf("network error fetching URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch URL (HTTP %d)", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	finalURL := resp.Request.URL

	content, err := extract.FromHTML(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	page := &Page{Text: content.Text, Title: content.SuggestedTitle, SourceURL: content.SourceURL}

	// Container extraction misses pages without semantic markup
	if len(strings.TrimSpace(page.Text)) < minContentChars {
		if article, err := readability.FromReader(bytes.NewReader(body), finalURL); err == nil {
			page.Text = strings.TrimSpace(article.TextContent)
		}
	}
	if len(strings.TrimSpace(page.Text)) < minContentChars {
		return nil, ErrInsufficientContent
	}
	if page.SourceURL == "" {
		page.SourceURL = finalURL.String()
	}
	return page, nil
}
