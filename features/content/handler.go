// Package content exposes ingestion and the content record over HTTP, and
// persists content records in Postgres.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/config"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/middleware"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/pipeline"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/record"
)

type Service interface {
	IngestPDF(ctx context.Context, filename string, data []byte) (pipeline.Result, error)
	StartPDF(ctx context.Context, filename string, data []byte) (*record.Content, error)
	IngestVideo(ctx context.Context, rawURL string) (pipeline.Result, error)
	StartVideo(ctx context.Context, rawURL string) (*record.Content, error)
	Get(ctx context.Context, id string) (*record.Content, error)
}

type Handler struct {
	service     Service
	maxUpload   int64
	defaultMode string
}

// NewHandler builds the handler. maxUpload is in bytes; defaultMode is
// config.ModeSync or config.ModeBackground and can be overridden per request
// with ?mode=.
func NewHandler(s Service, maxUpload int64, defaultMode string) *Handler {
	if defaultMode == "" {
		defaultMode = config.ModeSync
	}
	return &Handler{service: s, maxUpload: maxUpload, defaultMode: defaultMode}
}

type PDFResponse struct {
	ContentID   string        `json:"content_id"`
	Filename    string        `json:"filename"`
	PagesCount  int           `json:"pages_count"`
	ChunksCount int           `json:"chunks_count"`
	Status      record.Status `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

type VideoRequest struct {
	YouTubeURL string `json:"youtube_url"`
}

type VideoResponse struct {
	ContentID   string        `json:"content_id"`
	Title       string        `json:"title"`
	Duration    *int          `json:"duration"`
	ChunksCount int           `json:"chunks_count"`
	Status      record.Status `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

func (h *Handler) ProcessPDF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	background, err := h.background(r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	filename, data, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	if background {
		c, err := h.service.StartPDF(ctx, filename, data)
		if err != nil {
			h.writeError(ctx, w, err)
			return
		}
		h.writeData(ctx, w, http.StatusAccepted, PDFResponse{
			ContentID: c.ID,
			Filename:  filename,
			Status:    c.Status,
			CreatedAt: c.CreatedAt,
		})
		return
	}

	res, err := h.service.IngestPDF(ctx, filename, data)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeData(ctx, w, http.StatusOK, PDFResponse{
		ContentID:   res.Content.ID,
		Filename:    filename,
		PagesCount:  res.Pages,
		ChunksCount: res.Content.ChunksCount,
		Status:      res.Content.Status,
		CreatedAt:   res.Content.CreatedAt,
	})
}

func (h *Handler) ProcessVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	background, err := h.background(r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	var req VideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, apperr.Input("Invalid request body."))
		return
	}
	url := strings.TrimSpace(req.YouTubeURL)
	if url == "" {
		h.writeError(ctx, w, apperr.Input("youtube_url is required."))
		return
	}

	if background {
		c, err := h.service.StartVideo(ctx, url)
		if err != nil {
			h.writeError(ctx, w, err)
			return
		}
		h.writeData(ctx, w, http.StatusAccepted, videoResponse(c, durationOf(c)))
		return
	}

	res, err := h.service.IngestVideo(ctx, url)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	var d *int
	if res.Duration > 0 {
		d = &res.Duration
	}
	h.writeData(ctx, w, http.StatusOK, videoResponse(res.Content, d))
}

// Get returns the record, which background clients poll until it is
// processed or failed.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.service.Get(ctx, r.PathValue("id"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeData(ctx, w, http.StatusOK, c)
}

func (h *Handler) background(r *http.Request) (bool, error) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = h.defaultMode
	}
	switch mode {
	case config.ModeSync:
		return false, nil
	case config.ModeBackground:
		return true, nil
	default:
		return false, apperr.Input(fmt.Sprintf("Unknown mode %q. Use sync or background.", mode))
	}
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	limitMB := h.maxUpload >> 20
	tooLarge := apperr.Input(fmt.Sprintf("File too large. Maximum is %dMB.", limitMB))

	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return "", nil, tooLarge
		}
		return "", nil, apperr.Input("Expected a multipart form with a file field.")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, apperr.Input("Unable to retrieve file.")
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); ct != "application/pdf" {
		if ct == "" {
			ct = "unknown"
		}
		return "", nil, apperr.Input("Only PDF files are accepted. Received: " + ct)
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		return "", nil, apperr.Input("Unable to read file.")
	}
	if int64(len(data)) > h.maxUpload {
		return "", nil, apperr.Input(fmt.Sprintf("File too large (%.1fMB). Maximum is %dMB.", float64(header.Size)/(1<<20), limitMB))
	}
	return header.Filename, data, nil
}

func videoResponse(c *record.Content, duration *int) VideoResponse {
	return VideoResponse{
		ContentID:   c.ID,
		Title:       c.Title,
		Duration:    duration,
		ChunksCount: c.ChunksCount,
		Status:      c.Status,
		CreatedAt:   c.CreatedAt,
	}
}

func durationOf(c *record.Content) *int {
	switch v := c.Metadata["duration"].(type) {
	case int:
		return &v
	case float64:
		d := int(v)
		return &d
	}
	return nil
}

func (h *Handler) writeData(ctx context.Context, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    apperr.Code(err),
			"message": apperr.Message(err, "Failed to process content."),
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
