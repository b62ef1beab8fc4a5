// Package study serves the chat, flashcard and quiz endpoints.
package study

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/middleware"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/pipeline"
)

type Service interface {
	Ask(ctx context.Context, contentID, question string) (pipeline.Answer, error)
	GenerateFlashcards(ctx context.Context, contentID string, count int) ([]pipeline.Flashcard, error)
	GenerateQuiz(ctx context.Context, contentID string, count int) ([]pipeline.QuizQuestion, error)
}

type Handler struct {
	service Service
}

func NewHandler(s Service) *Handler {
	return &Handler{service: s}
}

type ChatRequest struct {
	ContentID string `json:"content_id"`
	Message   string `json:"message"`
}

type FlashcardsRequest struct {
	ContentID string `json:"content_id"`
	NumCards  *int   `json:"num_cards"`
}

type FlashcardsResponse struct {
	ContentID  string               `json:"content_id"`
	Flashcards []pipeline.Flashcard `json:"flashcards"`
	Total      int                  `json:"total"`
}

type QuizRequest struct {
	ContentID    string `json:"content_id"`
	NumQuestions *int   `json:"num_questions"`
}

type QuizResponse struct {
	ContentID string                  `json:"content_id"`
	Questions []pipeline.QuizQuestion `json:"questions"`
	Total     int                     `json:"total"`
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}

	ans, err := h.service.Ask(ctx, req.ContentID, req.Message)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeData(ctx, w, ans)
}

func (h *Handler) Flashcards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req FlashcardsRequest
	if !h.decode(w, r, &req) {
		return
	}

	count := pipeline.DefaultFlashcards
	if req.NumCards != nil {
		count = *req.NumCards
	}
	cards, err := h.service.GenerateFlashcards(ctx, req.ContentID, count)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeData(ctx, w, FlashcardsResponse{ContentID: req.ContentID, Flashcards: cards, Total: len(cards)})
}

func (h *Handler) Quiz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req QuizRequest
	if !h.decode(w, r, &req) {
		return
	}

	count := pipeline.DefaultQuestions
	if req.NumQuestions != nil {
		count = *req.NumQuestions
	}
	questions, err := h.service.GenerateQuiz(ctx, req.ContentID, count)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeData(ctx, w, QuizResponse{ContentID: req.ContentID, Questions: questions, Total: len(questions)})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(r.Context(), w, apperr.Input("Invalid request body."))
		return false
	}
	return true
}

func (h *Handler) writeData(ctx context.Context, w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "study request failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    apperr.Code(err),
			"message": apperr.Message(err, "Something went wrong. Please try again."),
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
