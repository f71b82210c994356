package relay

import (
	"errors"
	"net/http"
	"sieve/internal/auth"
	"sieve/internal/metrics"
	"sieve/internal/store"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Payload limits
const (
	maxContentBytes = 512_000
	maxURLLength    = 2048
	maxTitleLength  = 500
	maxImageBytes   = 10_485_760
)

// CaptureRequest is the body of POST /capture
type CaptureRequest struct {
	Content   string  `json:"content"`
	URL       *string `json:"url"`
	SourceURL *string `json:"source_url"`
	Title     *string `json:"title"`
	ImageData *string `json:"image_data"`
}

// CaptureResponse is returned for an accepted capture
type CaptureResponse struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingResponse lists queued captures
type PendingResponse struct {
	Captures []store.Capture `json:"captures"`
	Count    int             `json:"count"`
}

// Validate enforces the payload limits
func (r *CaptureRequest) Validate() error {
	if len(r.Content) > maxContentBytes {
		return errors.New("content exceeds 500KB limit")
	}
	for _, u := range []*string{r.URL, r.SourceURL} {
		if u == nil {
			continue
		}
		if len(*u) > maxURLLength {
			return errors.New("URL exceeds 2048 character limit")
		}
		if !strings.HasPrefix(*u, "http://") && !strings.HasPrefix(*u, "https://") {
			return errors.New("URL must start with http:// or https://")
		}
	}
	if r.Title != nil && len([]rune(*r.Title)) > maxTitleLength {
		return errors.New("title exceeds 500 character limit")
	}
	if r.ImageData != nil && len(*r.ImageData) > maxImageBytes {
		return errors.New("image_data exceeds 10MB limit")
	}
	if r.Content == "" && (r.URL == nil || *r.URL == "") {
		return errors.New("either content or url must be provided")
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "sieve-relay"})
}

func (s *Server) handleCapture(c *gin.Context) {
	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid JSON body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	key := auth.KeyFromContext(c)
	capture, err := s.store.CreateCapture(c.Request.Context(), key.ID, store.NewCapture{
		Content:   req.Content,
		URL:       deref(req.URL),
		SourceURL: deref(req.SourceURL),
		Title:     deref(req.Title),
		ImageData: deref(req.ImageData),
	}, s.cfg.MaxPending)
	if errors.Is(err, store.ErrQueueFull) {
		s.logger.WithContext("max_pending", s.cfg.MaxPending).Warn("capture queue is full")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Capture queue is full"})
		return
	}
	if err != nil {
		s.logger.WithContext("error", err.Error()).Error("failed to create capture")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	metrics.RelaySubmitted.Inc()
	metrics.RelayPending.Inc()
	s.logger.WithFields(map[string]interface{}{
		"capture_id": capture.ID,
		"key_name":   key.Name,
	}).Info("capture %d queued", capture.ID)

	c.JSON(http.StatusAccepted, CaptureResponse{
		ID:        capture.ID,
		Status:    capture.Status,
		CreatedAt: capture.CreatedAt,
	})
}

func (s *Server) handlePending(c *gin.Context) {
	limit := defaultPendingLimit
	if raw, ok := c.GetQuery("limit"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPendingLimit {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "limit must be an integer between 1 and 500"})
			return
		}
		limit = n
	}

	captures, err := s.store.PendingCaptures(c.Request.Context(), limit)
	if err != nil {
		s.logger.WithContext("error", err.Error()).Error("failed to list pending captures")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if total, err := s.store.CountPending(c.Request.Context()); err == nil {
		metrics.RelayPending.Set(float64(total))
	}

	c.JSON(http.StatusOK, PendingResponse{Captures: captures, Count: len(captures)})
}

func (s *Server) handleAck(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid capture id"})
		return
	}

	err = s.store.AckCapture(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.WithContext("capture_id", id).Debug("ack for missing or already acked capture")
		c.JSON(http.StatusNotFound, gin.H{"error": "Capture not found or already acknowledged"})
		return
	}
	if err != nil {
		s.logger.WithContext("error", err.Error()).Error("failed to ack capture")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	metrics.RelayPending.Dec()
	s.logger.WithContext("capture_id", id).Info("capture %d acknowledged", id)
	c.JSON(http.StatusOK, gin.H{"status": "acked", "id": id})
}
