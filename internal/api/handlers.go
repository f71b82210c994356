package api

import (
	"context"
	"errors"
	"net/http"
	"sieve/internal/capsule"
	"sieve/internal/processor"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// minAsyncContent is the shortest text an async capture may carry without an image
const minAsyncContent = 10

// asyncTimeout bounds one background capture, LLM retries included
const asyncTimeout = 10 * time.Minute

// CaptureRequest is sent by the browser extension
type CaptureRequest struct {
	Content   string   `json:"content"`
	SourceURL string   `json:"source_url"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	ImageData string   `json:"image_data"`
}

func (r CaptureRequest) browserCapture() processor.BrowserCapture {
	return processor.BrowserCapture{
		Content:   r.Content,
		SourceURL: r.SourceURL,
		Title:     r.Title,
		Tags:      r.Tags,
		ImageData: r.ImageData,
	}
}

// EditRequest replaces a capsule's title and tags
type EditRequest struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
}

// handleCapture processes synchronously and propagates pipeline errors
func (s *Server) handleCapture(c *gin.Context) {
	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := s.processor.ProcessBrowserCapture(c.Request.Context(), req.browserCapture())
	if err != nil {
		status := captureErrorStatus(err)
		s.logger.WithFields(map[string]interface{}{
			"source_url": req.SourceURL,
			"error":      err.Error(),
		}).Error("browser capture failed")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"title":   result.Capsule.Metadata.Title,
		"path":    result.Path,
	})
}

func captureErrorStatus(err error) int {
	switch {
	case errors.Is(err, processor.ErrEmptyCapture),
		errors.Is(err, processor.ErrBlockedURL),
		errors.Is(err, processor.ErrInsufficientContent):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleCaptureAsync accepts the capture and processes it after responding
func (s *Server) handleCaptureAsync(c *gin.Context) {
	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.ImageData == "" && len(strings.TrimSpace(req.Content)) < minAsyncContent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content too short"})
		return
	}
	if s.baseCtx.Err() != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Shutting down"})
		return
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, asyncTimeout)
		defer cancel()

		result, err := s.processor.ProcessBrowserCapture(ctx, req.browserCapture())
		if err != nil {
			s.logger.WithFields(map[string]interface{}{
				"source_url": req.SourceURL,
				"error":      err.Error(),
			}).Error("background capture failed")
			return
		}
		s.logger.Info("background capture complete: %s", result.Capsule.Metadata.Title)
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "message": "Processing in background"})
}

// handleListCapsules filters by category, tag and a case-insensitive query
// over title, tags and body.
func (s *Server) handleListCapsules(c *gin.Context) {
	category := c.Query("category")
	tag := c.Query("tag")
	q := strings.ToLower(strings.TrimSpace(c.Query("q")))

	entries, err := capsule.Load(s.writer.Layout(), capsule.LoadOptions{
		IncludeContent: q != "",
		IncludeLegacy:  c.Query("include_legacy") == "true",
	})
	if err != nil {
		s.logger.WithContext("error", err.Error()).Error("failed to load capsules")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load capsules"})
		return
	}

	out := make([]capsule.Entry, 0, len(entries))
	for _, e := range entries {
		if category != "" && e.Category != category {
			continue
		}
		if tag != "" && !hasTag(e.Tags, tag) {
			continue
		}
		if q != "" && !matches(e, q) {
			continue
		}
		e.Body = ""
		out = append(out, e)
	}

	c.JSON(http.StatusOK, gin.H{"capsules": out, "count": len(out)})
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func matches(e capsule.Entry, q string) bool {
	if strings.Contains(strings.ToLower(e.Title), q) || strings.Contains(strings.ToLower(e.Body), q) {
		return true
	}
	for _, t := range e.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// resolve maps the :filename param to a capsule path or writes a 404
func (s *Server) resolve(c *gin.Context) (string, bool) {
	path, err := capsule.FindFile(s.writer.Layout(), c.Param("filename"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Capsule not found"})
		return "", false
	}
	return path, true
}

func (s *Server) handleGetCapsule(c *gin.Context) {
	path, ok := s.resolve(c)
	if !ok {
		return
	}
	doc, err := capsule.ReadFile(path)
	if err != nil {
		s.logger.WithContext("error", err.Error()).Error("failed to read capsule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read capsule"})
		return
	}

	layout := s.writer.Layout()
	c.JSON(http.StatusOK, capsule.Entry{
		Metadata: doc.Metadata,
		Path:     layout.Rel(path),
		Filename: c.Param("filename"),
		Body:     doc.Body,
	})
}

func (s *Server) handleTogglePin(c *gin.Context) {
	path, ok := s.resolve(c)
	if !ok {
		return
	}
	pinned, err := s.writer.TogglePin(path)
	if err != nil {
		s.mutationFailed(c, "pin", err)
		return
	}
	s.regenerateIndex()
	c.JSON(http.StatusOK, gin.H{"filename": c.Param("filename"), "pinned": pinned})
}

func (s *Server) handleCull(c *gin.Context) {
	path, ok := s.resolve(c)
	if !ok {
		return
	}
	dest, err := s.writer.Cull(path)
	if err != nil {
		s.mutationFailed(c, "cull", err)
		return
	}
	s.regenerateIndex()
	s.logger.Info("moved %s to legacy", c.Param("filename"))
	c.JSON(http.StatusOK, gin.H{"status": string(capsule.StatusLegacy), "path": s.writer.Layout().Rel(dest)})
}

func (s *Server) handleEdit(c *gin.Context) {
	path, ok := s.resolve(c)
	if !ok {
		return
	}
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "title is required"})
		return
	}
	if req.Tags == nil {
		req.Tags = []string{}
	}

	if err := s.writer.Edit(path, req.Title, req.Tags); err != nil {
		s.mutationFailed(c, "edit", err)
		return
	}
	s.regenerateIndex()

	doc, err := capsule.ReadFile(path)
	if err != nil {
		s.mutationFailed(c, "edit", err)
		return
	}
	c.JSON(http.StatusOK, capsule.Entry{
		Metadata: doc.Metadata,
		Path:     s.writer.Layout().Rel(path),
		Filename: c.Param("filename"),
	})
}

func (s *Server) mutationFailed(c *gin.Context, op string, err error) {
	if errors.Is(err, capsule.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Capsule not found"})
		return
	}
	s.logger.WithFields(map[string]interface{}{
		"op":       op,
		"filename": c.Param("filename"),
		"error":    err.Error(),
	}).Error("capsule update failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update capsule"})
}

func (s *Server) regenerateIndex() {
	if err := s.indexer.Regenerate(); err != nil {
		s.logger.WithContext("error", err.Error()).Warn("failed to regenerate index")
	}
}
