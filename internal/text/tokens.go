package text

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// TokenCounter counts cl100k_base tokens, used to keep generation context
// under a token budget.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	mu       sync.Mutex
}

var (
	counterInstance *TokenCounter
	counterOnce     sync.Once
	counterErr      error
)

// Tokens returns the shared counter, loading the encoding once.
func Tokens() (*TokenCounter, error) {
	counterOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			counterErr = err
			return
		}
		counterInstance = &TokenCounter{encoding: enc}
	})
	if counterErr != nil {
		return nil, counterErr
	}
	return counterInstance, nil
}

func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoding.Encode(text, nil, nil))
}

// Counter is satisfied by TokenCounter and by test doubles.
type Counter interface {
	Count(text string) int
}

// Fit returns the longest prefix of texts whose token total stays within
// budget. The first text is always kept so a context is never empty. A nil
// counter or non-positive budget disables trimming.
func Fit(counter Counter, texts []string, budget int) []string {
	if counter == nil || budget <= 0 || len(texts) == 0 {
		return texts
	}
	total := 0
	for i, t := range texts {
		total += counter.Count(t)
		if total > budget && i > 0 {
			return texts[:i]
		}
	}
	return texts
}
