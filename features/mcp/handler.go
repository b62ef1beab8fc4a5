// Package mcp exposes the study workflows as Model Context Protocol tools
// over JSON-RPC, both as a plain POST endpoint and as an SSE session.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/index"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/middleware"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/pipeline"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/record"
)

type Service interface {
	Get(ctx context.Context, id string) (*record.Content, error)
	Ask(ctx context.Context, contentID, question string) (pipeline.Answer, error)
	GenerateFlashcards(ctx context.Context, contentID string, count int) ([]pipeline.Flashcard, error)
	GenerateQuiz(ctx context.Context, contentID string, count int) ([]pipeline.QuizQuestion, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, contentID, query string, topK int) ([]index.Match, error)
}

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

type Handler struct {
	service      Service
	retriever    Retriever
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
}

func NewHandler(s Service, r Retriever) *Handler {
	return &Handler{
		service:   s,
		retriever: r,
		sessions:  make(map[string]chan string),
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolArgs is the union of all tool arguments; each tool reads its own.
type ToolArgs struct {
	ContentID string `json:"content_id"`
	Query     string `json:"query"`
	Question  string `json:"question"`
	Limit     *int   `json:"limit,omitempty"`
	Count     *int   `json:"count,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

func schema(required []string, props map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

var contentIDProp = map[string]string{
	"type":        "string",
	"description": "ID of a processed PDF or video, as returned by process-pdf or process-video",
}

var tools = []Tool{
	{
		Name:        "learn_get_content",
		Description: "Returns the record of an ingested PDF or video: title, processing status, chunk count and metadata. Use it to check whether an item is ready before asking about it.",
		InputSchema: schema([]string{"content_id"}, map[string]interface{}{"content_id": contentIDProp}),
	},
	{
		Name:        "learn_search",
		Description: "Finds the passages of one content item most relevant to a query, best first. Use it to quote the source rather than paraphrase it.",
		InputSchema: schema([]string{"content_id", "query"}, map[string]interface{}{
			"content_id": contentIDProp,
			"query":      map[string]string{"type": "string", "description": "What to look for"},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max passages to return (default 5).",
				"minimum":     1,
				"maximum":     maxSearchLimit,
			},
		}),
	},
	{
		Name:        "learn_ask",
		Description: "Answers a question using only the content item's own text. Replies with the answer and the chunk ids it was grounded on.",
		InputSchema: schema([]string{"content_id", "question"}, map[string]interface{}{
			"content_id": contentIDProp,
			"question":   map[string]string{"type": "string", "description": "The question to answer"},
		}),
	},
	{
		Name:        "learn_flashcards",
		Description: "Generates question and answer flashcards covering the content item.",
		InputSchema: schema([]string{"content_id"}, map[string]interface{}{
			"content_id": contentIDProp,
			"count": map[string]interface{}{
				"type": "integer", "minimum": 1, "maximum": pipeline.MaxFlashcards,
				"description": fmt.Sprintf("Number of cards (default %d).", pipeline.DefaultFlashcards),
			},
		}),
	},
	{
		Name:        "learn_quiz",
		Description: "Generates a multiple-choice quiz with four options per question and the correct label.",
		InputSchema: schema([]string{"content_id"}, map[string]interface{}{
			"content_id": contentIDProp,
			"count": map[string]interface{}{
				"type": "integer", "minimum": 1, "maximum": pipeline.MaxQuestions,
				"description": fmt.Sprintf("Number of questions (default %d).", pipeline.DefaultQuestions),
			},
		}),
	},
}

// ProcessRequest handles one JSON-RPC request. It returns nil for
// notifications, which get no response.
func (h *Handler) ProcessRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "learning-assistant-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "ping":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		return h.callTool(ctx, req)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *Handler) callTool(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		slog.WarnContext(ctx, "invalid params structure", "error", err)
		resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		return &resp
	}

	var args ToolArgs
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid arguments")
			return &resp
		}
	}
	if strings.TrimSpace(args.ContentID) == "" && isKnownTool(params.Name) {
		resp := makeErrorResponse(req.ID, ErrInvalidParams, "content_id is required")
		return &resp
	}

	var (
		text string
		err  error
	)
	switch params.Name {
	case "learn_get_content":
		var c *record.Content
		if c, err = h.service.Get(ctx, args.ContentID); err == nil {
			text, err = marshal(c)
		}
	case "learn_search":
		if strings.TrimSpace(args.Query) == "" {
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "query is required")
			return &resp
		}
		limit := defaultSearchLimit
		if args.Limit != nil {
			if *args.Limit < 1 || *args.Limit > maxSearchLimit {
				resp := makeErrorResponse(req.ID, ErrInvalidParams, fmt.Sprintf("limit must be between 1 and %d", maxSearchLimit))
				return &resp
			}
			limit = *args.Limit
		}
		text, err = h.search(ctx, args.ContentID, args.Query, limit)
	case "learn_ask":
		var ans pipeline.Answer
		if ans, err = h.service.Ask(ctx, args.ContentID, args.Question); err == nil {
			text = ans.Reply
			if len(ans.Sources) > 0 {
				text += "\n\nSources: " + strings.Join(ans.Sources, ", ")
			}
		}
	case "learn_flashcards":
		var cards []pipeline.Flashcard
		if cards, err = h.service.GenerateFlashcards(ctx, args.ContentID, countOr(args.Count, pipeline.DefaultFlashcards)); err == nil {
			text, err = marshal(cards)
		}
	case "learn_quiz":
		var questions []pipeline.QuizQuestion
		if questions, err = h.service.GenerateQuiz(ctx, args.ContentID, countOr(args.Count, pipeline.DefaultQuestions)); err == nil {
			text, err = marshal(questions)
		}
	default:
		slog.WarnContext(ctx, "tool not found", "tool", params.Name)
		resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
		return &resp
	}

	if err != nil {
		if !apperr.Classified(err) {
			slog.ErrorContext(ctx, "tool execution failed", "tool", params.Name, "error", err)
		}
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: ToolResult{
				Content: []ToolContent{{Type: "text", Text: "Error: " + apperr.Message(err, "Something went wrong. Please try again.")}},
				IsError: true,
			},
		}
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", params.Name, "content_id", args.ContentID)
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: text}}},
	}
}

func (h *Handler) search(ctx context.Context, contentID, query string, limit int) (string, error) {
	c, err := h.service.Get(ctx, contentID)
	if err != nil {
		return "", err
	}
	if c.Status != record.StatusProcessed {
		return "", &apperr.StateError{Status: string(c.Status), Reason: c.ErrorMessage()}
	}
	matches, err := h.retriever.Retrieve(ctx, contentID, query, limit)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, m := range matches {
		fmt.Fprintf(&b, "Result %d (chunk_%d, score %.2f):\n%s\n\n---\n", i+1, m.ChunkIndex, m.Score, m.Text)
	}
	return b.String(), nil
}

func isKnownTool(name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func countOr(n *int, def int) int {
	if n == nil {
		return def
	}
	return *n
}

func marshal(v interface{}) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.InfoContext(r.Context(), "mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.ProcessRequest(r.Context(), req)
	if resp != nil {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
		}
	} else {
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		close(msgChan)
		h.sessionsLock.Unlock()
		slog.InfoContext(r.Context(), "sse session ended", "session_id", sessionID)
	}()

	slog.InfoContext(r.Context(), "sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)

	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		slog.WarnContext(r.Context(), "missing sessionId in message request")
		h.writeHTTPError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()
	if !exists {
		slog.WarnContext(r.Context(), "session not found", "session_id", sessionID)
		h.writeHTTPError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.WarnContext(r.Context(), "invalid json in message request", "error", err)
		h.writeHTTPError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	bgCtx := context.WithoutCancel(r.Context())
	go func() {
		resp := h.ProcessRequest(bgCtx, req)
		if resp == nil {
			return
		}
		respBytes, err := json.Marshal(resp)
		if err != nil {
			slog.ErrorContext(bgCtx, "failed to marshal response", "error", err)
			return
		}
		h.deliver(bgCtx, sessionID, string(respBytes))
	}()
}

// deliver queues msg on the session's stream. The channel is looked up
// again under the lock because the session may have ended meanwhile.
func (h *Handler) deliver(ctx context.Context, sessionID, msg string) {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	msgChan, ok := h.sessions[sessionID]
	if !ok {
		slog.WarnContext(ctx, "session ended before response", "session_id", sessionID)
		return
	}
	select {
	case msgChan <- msg:
	default:
		slog.WarnContext(ctx, "session channel full, dropping message", "session_id", sessionID)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(makeErrorResponse(id, code, message)); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

func (h *Handler) writeHTTPError(w http.ResponseWriter, status int, code string, message string, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
