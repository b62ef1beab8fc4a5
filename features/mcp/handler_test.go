package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_HandleMessage_MissingSessionID(t *testing.T) {
	handler := NewHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp/messages", nil)
	rec := httptest.NewRecorder()
	handler.HandleMessage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	if errMap, ok := resp["error"].(map[string]interface{}); ok {
		assert.Equal(t, "VALIDATION_ERROR", errMap["code"])
	} else {
		t.Error("Expected error object in response")
	}
}

func TestHandler_HandleMessage_SessionNotFound(t *testing.T) {
	handler := NewHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId=unknown-session", nil)
	rec := httptest.NewRecorder()
	handler.HandleMessage(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_HandleMessage_InvalidJSON(t *testing.T) {
	handler := NewHandler(nil, nil)
	sessionID := "test-session"
	handler.sessions[sessionID] = make(chan string, 1)

	req := httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId="+sessionID, bytes.NewBufferString("{invalid-json"))
	rec := httptest.NewRecorder()
	handler.HandleMessage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	errMap := resp["error"].(map[string]interface{})
	assert.Equal(t, "INVALID_JSON", errMap["code"])
}

func TestHandler_HandleMessage_DeliversToSession(t *testing.T) {
	handler := NewHandler(nil, nil)
	sessionID := "test-session"
	ch := make(chan string, 1)
	handler.sessions[sessionID] = ch

	body := `{"jsonrpc":"2.0","method":"tools/list","id":7}`
	req := httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId="+sessionID, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.HandleMessage(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case msg := <-ch:
		var resp JSONRPCResponse
		require.NoError(t, json.Unmarshal([]byte(msg), &resp))
		assert.EqualValues(t, 7, resp.ID)
		assert.Contains(t, msg, "learn_ask")
	case <-time.After(2 * time.Second):
		t.Fatal("no response delivered to session")
	}
}

func TestHandler_HandleSSE_AnnouncesEndpoint(t *testing.T) {
	handler := NewHandler(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/mcp/sse", nil).WithContext(ctx)
	req.Host = "localhost:8081"
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.HandleSSE(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		handler.sessionsLock.RLock()
		defer handler.sessionsLock.RUnlock()
		return len(handler.sessions) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: endpoint\ndata: http://localhost:8081/mcp/messages?sessionId=")
	assert.Empty(t, handler.sessions)
}

func TestHandler_ServeHTTP_ParseError(t *testing.T) {
	handler := NewHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	errMap := resp.Error.(map[string]interface{})
	assert.EqualValues(t, ErrParse, errMap["code"])
}

func TestHandler_ServeHTTP_Notification(t *testing.T) {
	handler := NewHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}
