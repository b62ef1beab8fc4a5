package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/middleware"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/record"
)

type ContentCounter interface {
	CountByStatus(ctx context.Context) (map[record.Status]int, error)
}

type ChunkCounter interface {
	CountChunks(ctx context.Context) (int, error)
}

type Handler struct {
	contents ContentCounter
	chunks   ChunkCounter
}

func NewHandler(c ContentCounter, v ChunkCounter) *Handler {
	return &Handler{contents: c, chunks: v}
}

type StatsResponse struct {
	Contents      int `json:"contents"`
	Processing    int `json:"processing"`
	Processed     int `json:"processed"`
	Failed        int `json:"failed"`
	IndexedChunks int `json:"indexed_chunks"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	counts, err := h.contents.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count contents", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count contents", http.StatusInternalServerError)
		return
	}

	chunks, err := h.chunks.CountChunks(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count chunks", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Processing:    counts[record.StatusProcessing],
		Processed:     counts[record.StatusProcessed],
		Failed:        counts[record.StatusFailed],
		IndexedChunks: chunks,
	}
	resp.Contents = resp.Processing + resp.Processed + resp.Failed

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
