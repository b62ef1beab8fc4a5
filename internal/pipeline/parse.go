package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
)

var optionLabels = [4]string{"A", "B", "C", "D"}

const parseFailure = "The AI returned an unexpected format. Please try again."

// StripFences removes a surrounding Markdown code fence, with or without a
// language tag.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseFlashcards decodes {"flashcards":[{"question","answer"}]} and returns
// exactly count cards numbered from 1. Extra cards are dropped; fewer than
// count is a parse failure.
func ParseFlashcards(raw string, count int) ([]Flashcard, error) {
	var payload struct {
		Flashcards []struct {
			Question string `json:"question"`
			Answer   string `json:"answer"`
		} `json:"flashcards"`
	}
	if err := json.Unmarshal([]byte(StripFences(raw)), &payload); err != nil {
		return nil, apperr.GenerationParse(parseFailure, err)
	}
	if len(payload.Flashcards) < count {
		return nil, apperr.GenerationParse(parseFailure, fmt.Errorf("got %d flashcards, want %d", len(payload.Flashcards), count))
	}

	cards := make([]Flashcard, 0, count)
	for i, fc := range payload.Flashcards[:count] {
		q, a := strings.TrimSpace(fc.Question), strings.TrimSpace(fc.Answer)
		if q == "" || a == "" {
			return nil, apperr.GenerationParse(parseFailure, fmt.Errorf("flashcard %d is missing a question or answer", i+1))
		}
		cards = append(cards, Flashcard{ID: i + 1, Question: q, Answer: a})
	}
	return cards, nil
}

// quizOption accepts both {"label","text"} objects and bare strings.
type quizOption struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

func (o *quizOption) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Text = s
		return nil
	}
	type plain quizOption
	return json.Unmarshal(data, (*plain)(o))
}

// ParseQuiz decodes {"questions":[...]} and returns exactly count questions.
// Every question needs four non-empty options, relabelled A to D by
// position, and a correct answer naming one of them.
func ParseQuiz(raw string, count int) ([]QuizQuestion, error) {
	var payload struct {
		Questions []struct {
			Question      string       `json:"question"`
			Options       []quizOption `json:"options"`
			CorrectAnswer string       `json:"correct_answer"`
		} `json:"questions"`
	}
	if err := json.Unmarshal([]byte(StripFences(raw)), &payload); err != nil {
		return nil, apperr.GenerationParse(parseFailure, err)
	}
	if len(payload.Questions) < count {
		return nil, apperr.GenerationParse(parseFailure, fmt.Errorf("got %d questions, want %d", len(payload.Questions), count))
	}

	out := make([]QuizQuestion, 0, count)
	for i, q := range payload.Questions[:count] {
		question := strings.TrimSpace(q.Question)
		if question == "" {
			return nil, apperr.GenerationParse(parseFailure, fmt.Errorf("question %d is empty", i+1))
		}
		if len(q.Options) != len(optionLabels) {
			return nil, apperr.GenerationParse(parseFailure, fmt.Errorf("question %d has %d options", i+1, len(q.Options)))
		}

		opts := make([]QuizOption, len(q.Options))
		for j, opt := range q.Options {
			t := strings.TrimSpace(opt.Text)
			if t == "" {
				return nil, apperr.GenerationParse(parseFailure, fmt.Errorf("question %d option %d is empty", i+1, j+1))
			}
			opts[j] = QuizOption{Label: optionLabels[j], Text: t}
		}

		answer, ok := normalizeAnswer(q.CorrectAnswer, q.Options)
		if !ok {
			return nil, apperr.GenerationParse(parseFailure, fmt.Errorf("question %d has invalid correct answer %q", i+1, q.CorrectAnswer))
		}

		out = append(out, QuizQuestion{
			ID:            i + 1,
			Question:      question,
			Options:       opts,
			CorrectAnswer: answer,
		})
	}
	return out, nil
}

// normalizeAnswer resolves the model's correct answer to a position label.
// The full text or original label of an option wins. Otherwise a letter
// answer such as "b", "B)", "(B)" or "B. text" names the option the model
// labelled with that letter, or the option at that position when the
// options carry no letter labels.
func normalizeAnswer(raw string, opts []quizOption) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	for j, o := range opts {
		if strings.EqualFold(strings.TrimSpace(o.Text), s) {
			return optionLabels[j], true
		}
	}
	for j, o := range opts {
		if l := strings.TrimSpace(o.Label); l != "" && strings.EqualFold(l, s) {
			return optionLabels[j], true
		}
	}

	letter, ok := answerLetter(s)
	if !ok {
		return "", false
	}
	if byLabel, ok := letterPositions(opts); ok {
		j, found := byLabel[letter]
		if !found {
			return "", false
		}
		return optionLabels[j], true
	}
	return letter, true
}

// answerLetter reads a leading A-D that stands on its own, so "B) Paris"
// yields B and "A fish" yields nothing.
func answerLetter(s string) (string, bool) {
	s = strings.TrimPrefix(s, "(")
	if s == "" {
		return "", false
	}
	letter := strings.ToUpper(s[:1])
	if !strings.Contains("ABCD", letter) {
		return "", false
	}
	rest := strings.TrimLeft(s[1:], " ")
	if rest != "" && isLetter(rest[0]) {
		return "", false
	}
	return letter, true
}

// letterPositions maps each option's own letter label to its position. It
// reports false unless all options carry distinct labels A to D.
func letterPositions(opts []quizOption) (map[string]int, bool) {
	out := make(map[string]int, len(opts))
	for j, o := range opts {
		l := strings.ToUpper(strings.Trim(strings.TrimSpace(o.Label), "().:"))
		if len(l) != 1 || !strings.Contains("ABCD", l) {
			return nil, false
		}
		if _, dup := out[l]; dup {
			return nil, false
		}
		out[l] = j
	}
	return out, true
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
