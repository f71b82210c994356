package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sieve/internal/capsule"
	"sieve/internal/logging"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
)

// ErrInvalidResponse is returned when the model reply is not a usable capsule
var ErrInvalidResponse = errors.New("llm returned an invalid capsule")

// capsuleReply is the JSON object the prompts ask for
type capsuleReply struct {
	Title            *string  `json:"title"`
	ExecutiveSummary *string  `json:"executive_summary"`
	CoreInsight      *string  `json:"core_insight"`
	FullContent      *string  `json:"full_content"`
	Tags             []string `json:"tags"`
	Category         string   `json:"category"`
}

// Transformer turns extracted content into capsules through a Provider,
// retrying transient provider failures with exponential backoff.
type Transformer struct {
	provider    Provider
	maxAttempts uint
	baseDelay   time.Duration
	logger      *logging.Logger
	now         func() time.Time
}

// NewTransformer wraps a provider. maxAttempts below 1 is treated as 1.
func NewTransformer(p Provider, maxAttempts int, baseDelay time.Duration, logger *logging.Logger) *Transformer {
	if logger == nil {
		logger = logging.Nop()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Transformer{
		provider:    p,
		maxAttempts: uint(maxAttempts),
		baseDelay:   baseDelay,
		logger:      logger,
		now:         time.Now,
	}
}

// Text builds a capsule from plain text. The source URL, when known, is
// given to the model as context and recorded on the capsule.
func (t *Transformer) Text(ctx context.Context, content, sourceURL string, method capsule.CaptureMethod) (*capsule.Capsule, error) {
	if method == "" {
		method = capsule.MethodManual
	}
	prompt := content
	if sourceURL != "" {
		prompt = "Source URL: " + sourceURL + "\n\n" + content
	}

	reply, err := t.complete(ctx, Request{
		System:    CapsulePrompt,
		Prompt:    prompt + jsonSuffix,
		MaxTokens: maxTokens,
		JSON:      true,
	})
	if err != nil {
		return nil, err
	}
	return t.build(reply, sourceURL, method)
}

// ImageFile reads an image from disk and builds a capsule from it
func (t *Transformer) ImageFile(ctx context.Context, path string, method capsule.CaptureMethod) (*capsule.Capsule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if method == "" {
		method = capsule.MethodScreenshot
	}
	img := &Image{MIMEType: MIMEType(path), Data: base64.StdEncoding.EncodeToString(data)}
	return t.image(ctx, img, "", method)
}

// ImageBase64 builds a capsule from base64 image data, optionally wrapped in
// a data: URL. Bare data is assumed to be JPEG.
func (t *Transformer) ImageBase64(ctx context.Context, data, sourceURL string, method capsule.CaptureMethod) (*capsule.Capsule, error) {
	if method == "" {
		method = capsule.MethodBrowser
	}
	img, err := decodeDataURL(data)
	if err != nil {
		return nil, err
	}
	return t.image(ctx, img, sourceURL, method)
}

func (t *Transformer) image(ctx context.Context, img *Image, sourceURL string, method capsule.CaptureMethod) (*capsule.Capsule, error) {
	reply, err := t.complete(ctx, Request{
		System:    ImagePrompt,
		Prompt:    imageUserPrompt,
		Image:     img,
		MaxTokens: maxTokens,
		JSON:      true,
	})
	if err != nil {
		return nil, err
	}
	return t.build(reply, sourceURL, method)
}

// complete calls the provider, retrying rate limits, server errors and
// network failures. Everything else fails on the first attempt.
func (t *Transformer) complete(ctx context.Context, req Request) (string, error) {
	logger := t.logger.WithContext("provider", t.provider.Name())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	op := func() (string, error) {
		attempt++
		out, err := t.provider.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		if !Retryable(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(t.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WithFields(map[string]interface{}{
				"attempt":  attempt,
				"retry_in": next.String(),
				"error":    err.Error(),
			}).Warn("provider call failed, retrying")
		}),
	)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"attempts": attempt,
			"error":    err.Error(),
		}).Error("provider call failed")
		return "", err
	}
	return out, nil
}

// Retryable reports whether a provider error is transient
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	// Connection refused, reset and client timeouts
	var ue *url.Error
	return errors.As(err, &ue)
}

func (t *Transformer) build(raw, sourceURL string, method capsule.CaptureMethod) (*capsule.Capsule, error) {
	reply, err := parseReply(raw)
	if err != nil {
		return nil, err
	}

	c := capsule.New(strings.TrimSpace(*reply.Title), strings.TrimSpace(reply.Category), cleanTags(reply.Tags), method, t.now())
	c.Metadata.SourceURL = sourceURL
	c.ExecutiveSummary = *reply.ExecutiveSummary
	c.CoreInsight = *reply.CoreInsight
	c.FullContent = *reply.FullContent
	return c, nil
}

func parseReply(raw string) (*capsuleReply, error) {
	raw = stripFence(raw)
	var reply capsuleReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidResponse, err.Error(), preview(raw))
	}
	var missing []string
	if reply.Title == nil || strings.TrimSpace(*reply.Title) == "" {
		missing = append(missing, "title")
	}
	if reply.ExecutiveSummary == nil {
		missing = append(missing, "executive_summary")
	}
	if reply.CoreInsight == nil {
		missing = append(missing, "core_insight")
	}
	if reply.FullContent == nil {
		missing = append(missing, "full_content")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidResponse, strings.Join(missing, ", "))
	}
	return &reply, nil
}

// stripFence removes a ```json fence some local models wrap around replies
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

const previewBytes = 200

// preview shortens s for logs without splitting a multi-byte rune
func preview(s string) string {
	if len(s) <= previewBytes {
		return s
	}
	cut := previewBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// MIMEType maps an image path to its media type, defaulting to PNG
func MIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

func decodeDataURL(data string) (*Image, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, fmt.Errorf("image data is empty")
	}
	mime := "image/jpeg"
	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, fmt.Errorf("unsupported data URL")
		}
		if h := strings.TrimSuffix(header, ";base64"); h != "" {
			mime = h
		}
		data = payload
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return nil, fmt.Errorf("invalid base64 image data: %w", err)
	}
	return &Image{MIMEType: mime, Data: data}, nil
}
