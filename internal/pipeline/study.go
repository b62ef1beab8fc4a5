package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/llm"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/logger"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/prompt"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/record"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/text"
)

// NoMatchReply answers a question when retrieval finds nothing.
const NoMatchReply = "I couldn't find relevant information in this content to answer your question."

const (
	DefaultFlashcards = 10
	MaxFlashcards     = 50
	DefaultQuestions  = 5
	MaxQuestions      = 20
)

// Ask answers question from the chunks of contentID most similar to it.
func (o *Orchestrator) Ask(ctx context.Context, contentID, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, apperr.Input("Message cannot be empty.")
	}
	c, err := o.ready(ctx, contentID)
	if err != nil {
		return Answer{}, err
	}
	ctx = logger.WithContentID(ctx, c.ID)

	matches, err := o.Retriever.Retrieve(ctx, c.ID, question, o.opts.ChatTopK)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieve chunks: %w", err)
	}
	if len(matches) == 0 {
		return Answer{ContentID: c.ID, Reply: NoMatchReply, Sources: []string{}}, nil
	}

	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	texts = text.Fit(o.Tokens, texts, o.opts.MaxContextTokens)

	sources := make([]string, len(texts))
	for i := range texts {
		sources[i] = fmt.Sprintf("chunk_%d", matches[i].ChunkIndex)
	}

	p, err := o.Prompts.Render(prompt.Chat, prompt.Data{
		Context:  strings.Join(texts, "\n\n"),
		Question: question,
	})
	if err != nil {
		return Answer{}, err
	}

	reply, err := o.Generator.Generate(ctx, p, llm.Options{System: o.Prompts.System()})
	if err != nil {
		return Answer{}, err
	}
	return Answer{ContentID: c.ID, Reply: strings.TrimSpace(reply), Sources: sources}, nil
}

// GenerateFlashcards produces count question/answer pairs from the item's
// indexed chunks.
func (o *Orchestrator) GenerateFlashcards(ctx context.Context, contentID string, count int) ([]Flashcard, error) {
	if count < 1 || count > MaxFlashcards {
		return nil, apperr.Input(fmt.Sprintf("num_cards must be between 1 and %d.", MaxFlashcards))
	}

	raw, err := o.generateFromChunks(ctx, contentID, prompt.Flashcards, count)
	if err != nil {
		return nil, err
	}

	cards, err := ParseFlashcards(raw, count)
	if err != nil {
		slog.WarnContext(ctx, "flashcard output rejected", "error", err)
		return nil, err
	}
	return cards, nil
}

// GenerateQuiz produces count multiple choice questions with four options
// labelled A to D.
func (o *Orchestrator) GenerateQuiz(ctx context.Context, contentID string, count int) ([]QuizQuestion, error) {
	if count < 1 || count > MaxQuestions {
		return nil, apperr.Input(fmt.Sprintf("num_questions must be between 1 and %d.", MaxQuestions))
	}

	raw, err := o.generateFromChunks(ctx, contentID, prompt.Quiz, count)
	if err != nil {
		return nil, err
	}

	questions, err := ParseQuiz(raw, count)
	if err != nil {
		slog.WarnContext(ctx, "quiz output rejected", "error", err)
		return nil, err
	}
	return questions, nil
}

func (o *Orchestrator) generateFromChunks(ctx context.Context, contentID, name string, count int) (string, error) {
	c, err := o.ready(ctx, contentID)
	if err != nil {
		return "", err
	}
	ctx = logger.WithContentID(ctx, c.ID)

	chunks, err := o.Index.FetchAllChunks(ctx, c.ID, c.ChunksCount)
	if err != nil {
		return "", fmt.Errorf("fetch chunks: %w", err)
	}
	if len(chunks) == 0 {
		return "", apperr.NotFound("No indexed content was found for this item. Try processing it again.")
	}
	if len(chunks) > o.opts.MaxContextChunks {
		chunks = chunks[:o.opts.MaxContextChunks]
	}
	chunks = text.Fit(o.Tokens, chunks, o.opts.MaxContextTokens)

	p, err := o.Prompts.Render(name, prompt.Data{
		Context: strings.Join(chunks, "\n\n"),
		Count:   count,
	})
	if err != nil {
		return "", err
	}

	return o.Generator.Generate(ctx, p, llm.Options{JSONMode: true, System: o.Prompts.System()})
}

// ready loads the record and rejects items that are not processed. It runs
// before any provider or index call.
func (o *Orchestrator) ready(ctx context.Context, contentID string) (*record.Content, error) {
	c, err := o.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case record.StatusProcessed:
		return c, nil
	case record.StatusProcessing:
		return nil, &apperr.StateError{Status: string(c.Status)}
	default:
		return nil, &apperr.StateError{Status: string(c.Status), Reason: c.ErrorMessage()}
	}
}
