package content_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raai2005/ai-learning-assistant-RAG/features/content"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/config"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/middleware"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/pipeline"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/record"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) IngestPDF(ctx context.Context, filename string, data []byte) (pipeline.Result, error) {
	args := m.Called(ctx, filename, data)
	return args.Get(0).(pipeline.Result), args.Error(1)
}

func (m *MockService) StartPDF(ctx context.Context, filename string, data []byte) (*record.Content, error) {
	args := m.Called(ctx, filename, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*record.Content), args.Error(1)
}

func (m *MockService) IngestVideo(ctx context.Context, rawURL string) (pipeline.Result, error) {
	args := m.Called(ctx, rawURL)
	return args.Get(0).(pipeline.Result), args.Error(1)
}

func (m *MockService) StartVideo(ctx context.Context, rawURL string) (*record.Content, error) {
	args := m.Called(ctx, rawURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*record.Content), args.Error(1)
}

func (m *MockService) Get(ctx context.Context, id string) (*record.Content, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*record.Content), args.Error(1)
}

func uploadRequest(t *testing.T, target, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="notes.pdf"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandler_ProcessPDF(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	pdf := []byte("%PDF-1.4 fake")

	t.Run("Sync", func(t *testing.T) {
		svc := new(MockService)
		h := content.NewHandler(svc, 25<<20, config.ModeSync)
		svc.On("IngestPDF", mock.Anything, "notes.pdf", pdf).Return(pipeline.Result{
			Content: &record.Content{ID: "c1", Status: record.StatusProcessed, ChunksCount: 4, CreatedAt: created},
			Pages:   3,
		}, nil)

		w := httptest.NewRecorder()
		h.ProcessPDF(w, uploadRequest(t, "/api/process-pdf", "application/pdf", pdf))

		assert.Equal(t, http.StatusOK, w.Code)
		data := decode(t, w)["data"].(map[string]interface{})
		assert.Equal(t, "c1", data["content_id"])
		assert.Equal(t, "notes.pdf", data["filename"])
		assert.EqualValues(t, 3, data["pages_count"])
		assert.EqualValues(t, 4, data["chunks_count"])
		assert.Equal(t, "processed", data["status"])
	})

	t.Run("Background", func(t *testing.T) {
		svc := new(MockService)
		h := content.NewHandler(svc, 25<<20, config.ModeSync)
		svc.On("StartPDF", mock.Anything, "notes.pdf", pdf).Return(&record.Content{ID: "c2", Status: record.StatusProcessing, CreatedAt: created}, nil)

		w := httptest.NewRecorder()
		h.ProcessPDF(w, uploadRequest(t, "/api/process-pdf?mode=background", "application/pdf", pdf))

		assert.Equal(t, http.StatusAccepted, w.Code)
		data := decode(t, w)["data"].(map[string]interface{})
		assert.Equal(t, "processing", data["status"])
		assert.EqualValues(t, 0, data["chunks_count"])
		svc.AssertNotCalled(t, "IngestPDF", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Rejects non-PDF", func(t *testing.T) {
		svc := new(MockService)
		h := content.NewHandler(svc, 25<<20, config.ModeSync)

		w := httptest.NewRecorder()
		h.ProcessPDF(w, uploadRequest(t, "/api/process-pdf", "text/plain", []byte("hello")))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		errBody := decode(t, w)["error"].(map[string]interface{})
		assert.Equal(t, "INVALID_INPUT", errBody["code"])
		assert.Equal(t, "Only PDF files are accepted. Received: text/plain", errBody["message"])
		svc.AssertNotCalled(t, "IngestPDF", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Rejects oversized upload", func(t *testing.T) {
		svc := new(MockService)
		h := content.NewHandler(svc, 1<<20, config.ModeSync)

		w := httptest.NewRecorder()
		h.ProcessPDF(w, uploadRequest(t, "/api/process-pdf", "application/pdf", bytes.Repeat([]byte("x"), (1<<20)+10)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode(t, w)["error"].(map[string]interface{})["message"], "File too large")
	})

	t.Run("Unknown mode", func(t *testing.T) {
		h := content.NewHandler(new(MockService), 25<<20, config.ModeSync)
		w := httptest.NewRecorder()
		h.ProcessPDF(w, uploadRequest(t, "/api/process-pdf?mode=later", "application/pdf", pdf))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Extraction error", func(t *testing.T) {
		svc := new(MockService)
		h := content.NewHandler(svc, 25<<20, config.ModeSync)
		svc.On("IngestPDF", mock.Anything, mock.Anything, mock.Anything).Return(pipeline.Result{},
			apperr.Extraction("Could not extract text from PDF. The file may be scanned or image-based.", nil))

		w := httptest.NewRecorder()
		h.ProcessPDF(w, uploadRequest(t, "/api/process-pdf", "application/pdf", pdf))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "EXTRACTION_FAILED", decode(t, w)["error"].(map[string]interface{})["code"])
	})

	t.Run("Internal error hides detail", func(t *testing.T) {
		svc := new(MockService)
		h := content.NewHandler(svc, 25<<20, config.ModeSync)
		svc.On("IngestPDF", mock.Anything, mock.Anything, mock.Anything).Return(pipeline.Result{}, errors.New("pq: connection refused"))

		req := uploadRequest(t, "/api/process-pdf", "application/pdf", pdf)
		req = req.WithContext(middleware.WithCorrelationID(req.Context(), "corr-9"))
		w := httptest.NewRecorder()
		h.ProcessPDF(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decode(t, w)
		assert.Equal(t, "corr-9", body["correlationId"])
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}

func TestHandler_ProcessVideo(t *testing.T) {
	url := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

	t.Run("Sync", func(t *testing.T) {
		svc := new(MockService)
		h := content.NewHandler(svc, 25<<20, config.ModeSync)
		svc.On("IngestVideo", mock.Anything, url).Return(pipeline.Result{
			Content:  &record.Content{ID: "v1", Title: "A talk", Status: record.StatusProcessed, ChunksCount: 8},
			Duration: 300,
		}, nil)

		w := httptest.NewRecorder()
		h.ProcessVideo(w, httptest.NewRequest(http.MethodPost, "/api/process-video", strings.NewReader(`{"youtube_url":"`+url+`"}`)))

		assert.Equal(t, http.StatusOK, w.Code)
		data := decode(t, w)["data"].(map[string]interface{})
		assert.Equal(t, "A talk", data["title"])
		assert.EqualValues(t, 300, data["duration"])
		assert.EqualValues(t, 8, data["chunks_count"])
	})

	t.Run("Background without duration", func(t *testing.T) {
		svc := new(MockService)
		h := content.NewHandler(svc, 25<<20, config.ModeBackground)
		svc.On("StartVideo", mock.Anything, url).Return(&record.Content{
			ID: "v2", Title: "YouTube Video (dQw4w9WgXcQ)", Status: record.StatusProcessing,
			Metadata: map[string]interface{}{"video_id": "dQw4w9WgXcQ"},
		}, nil)

		w := httptest.NewRecorder()
		h.ProcessVideo(w, httptest.NewRequest(http.MethodPost, "/api/process-video", strings.NewReader(`{"youtube_url":"`+url+`"}`)))

		assert.Equal(t, http.StatusAccepted, w.Code)
		data := decode(t, w)["data"].(map[string]interface{})
		assert.Nil(t, data["duration"])
		assert.Equal(t, "processing", data["status"])
	})

	t.Run("Missing URL", func(t *testing.T) {
		svc := new(MockService)
		h := content.NewHandler(svc, 25<<20, config.ModeSync)

		w := httptest.NewRecorder()
		h.ProcessVideo(w, httptest.NewRequest(http.MethodPost, "/api/process-video", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("No transcript", func(t *testing.T) {
		svc := new(MockService)
		h := content.NewHandler(svc, 25<<20, config.ModeSync)
		svc.On("IngestVideo", mock.Anything, url).Return(pipeline.Result{}, apperr.NoTranscript("No transcripts are available for this video.", nil))

		w := httptest.NewRecorder()
		h.ProcessVideo(w, httptest.NewRequest(http.MethodPost, "/api/process-video", strings.NewReader(`{"youtube_url":"`+url+`"}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "No transcripts are available for this video.", decode(t, w)["error"].(map[string]interface{})["message"])
	})
}

func TestHandler_Get(t *testing.T) {
	svc := new(MockService)
	h := content.NewHandler(svc, 25<<20, config.ModeSync)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/contents/{id}", h.Get)

	svc.On("Get", mock.Anything, "c1").Return(&record.Content{ID: "c1", Status: record.StatusFailed,
		Metadata: map[string]interface{}{"error": "boom"}}, nil)
	svc.On("Get", mock.Anything, "nope").Return(nil, apperr.NotFound("Content not found."))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/contents/c1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "failed", data["status"])
	assert.Equal(t, "boom", data["metadata"].(map[string]interface{})["error"])

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/contents/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
