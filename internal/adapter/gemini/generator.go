package gemini

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/llm"
)

type GeneratorConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

type Generator struct {
	client *genai.Client
	cfg    GeneratorConfig
}

func NewGenerator(client *genai.Client, cfg GeneratorConfig) *Generator {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	return &Generator{client: client, cfg: cfg}
}

func (g *Generator) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	name := g.cfg.Model
	if opts.Model != "" {
		name = opts.Model
	}

	model := g.client.GenerativeModel(name)
	if opts.System != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(opts.System))
	}
	model.SetTemperature(g.cfg.Temperature)
	if g.cfg.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(g.cfg.MaxTokens))
	}
	if opts.JSONMode {
		model.ResponseMIMEType = "application/json"
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}
