package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/index"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/llm"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/pipeline"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/record"
)

func TestAsk(t *testing.T) {
	ctx := context.Background()

	t.Run("Answers from ranked chunks", func(t *testing.T) {
		h := newHarness(t, nil, pipeline.Options{})
		id := h.records.seed(record.StatusProcessed, 3, "")
		h.retriever.matches = []index.Match{
			{ChunkIndex: 2, Text: "Water boils at 100C."},
			{ChunkIndex: 0, Text: "Water freezes at 0C."},
		}
		h.gen.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, "Water boils at 100C.\n\nWater freezes at 0C.") &&
				strings.Contains(p, "When does water boil?")
		}), llm.Options{System: llm.DefaultSystemPrompt}).Return(" At 100C. ", nil).Once()

		ans, err := h.orch.Ask(ctx, id, "  When does water boil? ")
		require.NoError(t, err)
		assert.Equal(t, "At 100C.", ans.Reply)
		assert.Equal(t, []string{"chunk_2", "chunk_0"}, ans.Sources)
		assert.Equal(t, id, ans.ContentID)
		h.gen.AssertExpectations(t)
	})

	t.Run("Zero matches", func(t *testing.T) {
		h := newHarness(t, nil, pipeline.Options{})
		id := h.records.seed(record.StatusProcessed, 3, "")

		ans, err := h.orch.Ask(ctx, id, "Unrelated?")
		require.NoError(t, err)
		assert.Equal(t, pipeline.NoMatchReply, ans.Reply)
		assert.NotNil(t, ans.Sources)
		assert.Empty(t, ans.Sources)
		h.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Empty message", func(t *testing.T) {
		h := newHarness(t, nil, pipeline.Options{})
		id := h.records.seed(record.StatusProcessed, 3, "")

		_, err := h.orch.Ask(ctx, id, "   ")
		assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		assert.Equal(t, 0, h.retriever.calls)
	})

	t.Run("Rate limit surfaces", func(t *testing.T) {
		h := newHarness(t, nil, pipeline.Options{})
		id := h.records.seed(record.StatusProcessed, 1, "")
		h.retriever.matches = []index.Match{{ChunkIndex: 0, Text: "x"}}
		h.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
			Return("", &apperr.RateLimitError{Provider: "Groq"})

		_, err := h.orch.Ask(ctx, id, "q")
		assert.ErrorIs(t, err, apperr.ErrRateLimited)
		assert.Equal(t, "Groq rate limit reached. Please wait a moment and try again.", apperr.Message(err, ""))
	})
}

func TestPreconditions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		status  record.Status
		errMsg  string
		seed    bool
		wantIs  error
		wantMsg string
	}{
		{"Still processing", record.StatusProcessing, "", true, apperr.ErrStillProcessing, "Content is still being processed. Please try again shortly."},
		{"Failed", record.StatusFailed, "No transcripts are available for this video.", true, apperr.ErrProcessingFailed, "Content processing failed: No transcripts are available for this video."},
		{"Unknown id", "", "", false, apperr.ErrNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, pipeline.Options{})
			id := "missing"
			if tt.seed {
				id = h.records.seed(tt.status, 0, tt.errMsg)
			}

			_, askErr := h.orch.Ask(ctx, id, "anything?")
			_, cardsErr := h.orch.GenerateFlashcards(ctx, id, 5)
			_, quizErr := h.orch.GenerateQuiz(ctx, id, 5)

			for _, err := range []error{askErr, cardsErr, quizErr} {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantIs)
				if tt.wantMsg != "" {
					assert.Equal(t, tt.wantMsg, err.Error())
				}
			}

			assert.Equal(t, 0, h.retriever.calls)
			assert.Equal(t, 0, h.index.fetchCalls)
			h.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCountBounds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, pipeline.Options{})
	id := h.records.seed(record.StatusProcessed, 1, "")

	for _, n := range []int{0, -1, pipeline.MaxFlashcards + 1} {
		_, err := h.orch.GenerateFlashcards(ctx, id, n)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput, "num_cards=%d", n)
	}
	for _, n := range []int{0, pipeline.MaxQuestions + 1} {
		_, err := h.orch.GenerateQuiz(ctx, id, n)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput, "num_questions=%d", n)
	}
	assert.Equal(t, 0, h.index.fetchCalls)
}

func TestGenerateFlashcards(t *testing.T) {
	ctx := context.Background()

	t.Run("Truncates and numbers", func(t *testing.T) {
		h := newHarness(t, nil, pipeline.Options{})
		id := h.records.seed(record.StatusProcessed, 2, "")
		h.index.chunks[id] = []string{"Atoms have protons.", "Electrons orbit."}
		h.gen.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, "Create exactly 2 flashcards") && strings.Contains(p, "Atoms have protons.\n\nElectrons orbit.")
		}), llm.Options{JSONMode: true, System: llm.DefaultSystemPrompt}).Return("```json\n"+`{"flashcards":[
			{"question":"What do atoms have?","answer":"Protons"},
			{"question":"What orbits?","answer":"Electrons"},
			{"question":"Extra?","answer":"Yes"}]}`+"\n```", nil).Once()

		cards, err := h.orch.GenerateFlashcards(ctx, id, 2)
		require.NoError(t, err)
		require.Len(t, cards, 2)
		assert.Equal(t, pipeline.Flashcard{ID: 1, Question: "What do atoms have?", Answer: "Protons"}, cards[0])
		assert.Equal(t, 2, cards[1].ID)
		h.gen.AssertExpectations(t)
	})

	t.Run("Unparseable output is not retried", func(t *testing.T) {
		h := newHarness(t, nil, pipeline.Options{})
		id := h.records.seed(record.StatusProcessed, 1, "")
		h.index.chunks[id] = []string{"text"}
		h.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("Sure! Here are your cards:", nil).Once()

		_, err := h.orch.GenerateFlashcards(ctx, id, 3)
		assert.ErrorIs(t, err, apperr.ErrGenerationParse)
		assert.Equal(t, 502, apperr.HTTPStatus(err))
		h.gen.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("No indexed chunks", func(t *testing.T) {
		h := newHarness(t, nil, pipeline.Options{})
		id := h.records.seed(record.StatusProcessed, 4, "")

		_, err := h.orch.GenerateFlashcards(ctx, id, 3)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		h.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Context limited to first chunks", func(t *testing.T) {
		h := newHarness(t, nil, pipeline.Options{MaxContextChunks: 2})
		id := h.records.seed(record.StatusProcessed, 3, "")
		h.index.chunks[id] = []string{"one", "two", "three"}
		h.gen.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, "one\n\ntwo") && !strings.Contains(p, "three")
		}), mock.Anything).Return(`{"flashcards":[{"question":"q","answer":"a"}]}`, nil).Once()

		cards, err := h.orch.GenerateFlashcards(ctx, id, 1)
		require.NoError(t, err)
		assert.Len(t, cards, 1)
		h.gen.AssertExpectations(t)
	})
}

func TestGenerateQuiz_FiveQuestionsFromThreeChunks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, pipeline.Options{})
	id := h.records.seed(record.StatusProcessed, 3, "")
	h.index.chunks[id] = []string{"Chunk one.", "Chunk two.", "Chunk three."}

	answers := []string{"A", "b", "C)", "D. Fourth", "(B)"}
	var items []string
	for i, a := range answers {
		items = append(items, fmt.Sprintf(`{"question":"Q%d?","options":[
			{"label":"A","text":"First"},{"label":"B","text":"Second"},
			{"label":"C","text":"Third"},{"label":"D","text":"Fourth"}],"correct_answer":%q}`, i+1, a))
	}
	h.gen.On("Generate", mock.Anything, mock.Anything, llm.Options{JSONMode: true, System: llm.DefaultSystemPrompt}).
		Return(`{"questions":[`+strings.Join(items, ",")+`]}`, nil).Once()

	qs, err := h.orch.GenerateQuiz(ctx, id, 5)
	require.NoError(t, err)
	require.Len(t, qs, 5)

	want := []string{"A", "B", "C", "D", "B"}
	for i, q := range qs {
		assert.Equal(t, i+1, q.ID)
		require.Len(t, q.Options, 4)
		assert.Equal(t, []string{"A", "B", "C", "D"}, []string{q.Options[0].Label, q.Options[1].Label, q.Options[2].Label, q.Options[3].Label})
		assert.Equal(t, want[i], q.CorrectAnswer)
	}
}

func TestGenerateQuiz_ProviderError(t *testing.T) {
	h := newHarness(t, nil, pipeline.Options{})
	id := h.records.seed(record.StatusProcessed, 1, "")
	h.index.chunks[id] = []string{"x"}
	boom := errors.New("connection reset")
	h.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", boom)

	_, err := h.orch.GenerateQuiz(context.Background(), id, 5)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 500, apperr.HTTPStatus(err))
}

func TestGenerateQuiz_FewerQuestionsThanRequested(t *testing.T) {
	h := newHarness(t, nil, pipeline.Options{})
	id := h.records.seed(record.StatusProcessed, 1, "")
	h.index.chunks[id] = []string{"x"}
	h.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(
		`{"questions":[{"question":"Q","options":["a","b","c","d"],"correct_answer":"A"}]}`, nil).Once()

	_, err := h.orch.GenerateQuiz(context.Background(), id, 5)
	assert.ErrorIs(t, err, apperr.ErrGenerationParse)
	assert.Equal(t, 502, apperr.HTTPStatus(err))
	h.gen.AssertNumberOfCalls(t, "Generate", 1)
}
