package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/pipeline"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/record"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) IngestPDF(ctx context.Context, filename string, data []byte) (pipeline.Result, error) {
	args := m.Called(ctx, filename, data)
	return args.Get(0).(pipeline.Result), args.Error(1)
}

func (m *mockService) StartPDF(ctx context.Context, filename string, data []byte) (*record.Content, error) {
	args := m.Called(ctx, filename, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*record.Content), args.Error(1)
}

func (m *mockService) IngestVideo(ctx context.Context, rawURL string) (pipeline.Result, error) {
	args := m.Called(ctx, rawURL)
	return args.Get(0).(pipeline.Result), args.Error(1)
}

func (m *mockService) StartVideo(ctx context.Context, rawURL string) (*record.Content, error) {
	args := m.Called(ctx, rawURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*record.Content), args.Error(1)
}

func (m *mockService) Get(ctx context.Context, id string) (*record.Content, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*record.Content), args.Error(1)
}

func (m *mockService) Ask(ctx context.Context, contentID, question string) (pipeline.Answer, error) {
	args := m.Called(ctx, contentID, question)
	return args.Get(0).(pipeline.Answer), args.Error(1)
}

func (m *mockService) GenerateFlashcards(ctx context.Context, contentID string, count int) ([]pipeline.Flashcard, error) {
	args := m.Called(ctx, contentID, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pipeline.Flashcard), args.Error(1)
}

func (m *mockService) GenerateQuiz(ctx context.Context, contentID string, count int) ([]pipeline.QuizQuestion, error) {
	args := m.Called(ctx, contentID, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pipeline.QuizQuestion), args.Error(1)
}

// execute runs ragctl with args against svc and reports whether cleanup ran.
func execute(t *testing.T, svc Service, args ...string) (string, bool, error) {
	t.Helper()
	closed := false
	root, closeFn := newRootCmd(func(context.Context) (Service, func(), error) {
		return svc, func() { closed = true }, nil
	})
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err := root.Execute()
	closeFn()
	return buf.String(), closed, err
}

func TestIngestPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o600))

	svc := new(mockService)
	svc.On("IngestPDF", mock.Anything, "notes.pdf", []byte("%PDF")).Return(pipeline.Result{
		Content: &record.Content{ID: "c1", Title: "notes.pdf", Status: record.StatusProcessed, ChunksCount: 12},
		Pages:   3,
	}, nil)

	out, closed, err := execute(t, svc, "ingest-pdf", path)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Contains(t, out, "Processed notes.pdf (c1)")
	assert.Contains(t, out, "Chunks: 12")
	assert.Contains(t, out, "Pages: 3")
}

func TestIngestPDF_MissingFile(t *testing.T) {
	_, closed, err := execute(t, new(mockService), "ingest-pdf", filepath.Join(t.TempDir(), "absent.pdf"))
	assert.Error(t, err)
	assert.True(t, closed, "cleanup must run on failure too")
}

func TestIngestVideo_Background(t *testing.T) {
	svc := new(mockService)
	svc.On("StartVideo", mock.Anything, "https://youtu.be/abc").
		Return(&record.Content{ID: "c2", Title: "YouTube Video abc", Status: record.StatusProcessing}, nil)

	out, _, err := execute(t, svc, "ingest-video", "--background", "https://youtu.be/abc")
	require.NoError(t, err)
	assert.Contains(t, out, "c2  processing")
	svc.AssertNotCalled(t, "IngestVideo", mock.Anything, mock.Anything)
}

func TestStatus_Failed(t *testing.T) {
	svc := new(mockService)
	svc.On("Get", mock.Anything, "c3").Return(&record.Content{
		ID: "c3", Status: record.StatusFailed, Metadata: map[string]interface{}{"error": "No transcripts are available for this video."},
	}, nil)

	out, _, err := execute(t, svc, "status", "c3")
	require.NoError(t, err)
	assert.Contains(t, out, "Error: No transcripts are available for this video.")
}

func TestAsk_JoinsQuestionWords(t *testing.T) {
	svc := new(mockService)
	svc.On("Ask", mock.Anything, "c1", "what is osmosis").
		Return(pipeline.Answer{ContentID: "c1", Reply: "Diffusion of water.", Sources: []string{"chunk_1"}}, nil)

	out, _, err := execute(t, svc, "ask", "c1", "what", "is", "osmosis")
	require.NoError(t, err)
	assert.Contains(t, out, "Diffusion of water.")
	assert.Contains(t, out, "Sources: chunk_1")
}

func TestAsk_RequiresQuestion(t *testing.T) {
	_, _, err := execute(t, new(mockService), "ask", "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 2 arg(s)")
}

func TestFlashcards_DefaultCountAndJSON(t *testing.T) {
	svc := new(mockService)
	svc.On("GenerateFlashcards", mock.Anything, "c1", pipeline.DefaultFlashcards).
		Return([]pipeline.Flashcard{{ID: 1, Question: "Q", Answer: "A"}}, nil)

	out, _, err := execute(t, svc, "flashcards", "c1", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"question": "Q"`)
}

func TestQuiz_CountFlag(t *testing.T) {
	svc := new(mockService)
	svc.On("GenerateQuiz", mock.Anything, "c1", 2).Return([]pipeline.QuizQuestion{{
		ID:       1,
		Question: "Which?",
		Options: []pipeline.QuizOption{
			{Label: "A", Text: "w"}, {Label: "B", Text: "x"}, {Label: "C", Text: "y"}, {Label: "D", Text: "z"},
		},
		CorrectAnswer: "B",
	}}, nil)

	out, _, err := execute(t, svc, "quiz", "c1", "-n", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "B) x")
	assert.Contains(t, out, "Answer: B")
}

func TestServiceErrorSurfaces(t *testing.T) {
	svc := new(mockService)
	svc.On("GenerateQuiz", mock.Anything, "c1", pipeline.DefaultQuestions).
		Return(nil, &apperr.StateError{Status: "processing"})

	_, _, err := execute(t, svc, "quiz", "c1")
	assert.ErrorIs(t, err, apperr.ErrStillProcessing)
}

func TestOpenerFailure(t *testing.T) {
	root, closeFn := newRootCmd(func(context.Context) (Service, func(), error) {
		return nil, nil, errors.New("db down")
	})
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"status", "c1"})

	err := root.Execute()
	closeFn()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialise: db down")
}
