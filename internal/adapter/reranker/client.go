// Package reranker reorders retrieved chunks with a hosted cross-encoder.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
)

type endpoint struct {
	url   string
	model string
}

var endpoints = map[string]endpoint{
	"jina":   {url: "https://api.jina.ai/v1/rerank", model: "jina-reranker-v1-base-en"},
	"cohere": {url: "https://api.cohere.ai/v1/rerank", model: "rerank-english-v3.0"},
}

type Client struct {
	apiKey   string
	provider string
	client   *http.Client
	baseURL  string
}

func NewClient(provider, apiKey string) *Client {
	return &Client{
		provider: provider,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// Enabled reports whether a hosted provider is configured.
func (c *Client) Enabled() bool {
	_, ok := endpoints[c.provider]
	return ok
}

// Rerank returns document positions, most relevant first. Without a hosted
// provider it returns the identity order.
func (c *Client) Rerank(ctx context.Context, query string, docs []string) ([]int, error) {
	ep, ok := endpoints[c.provider]
	if !ok || len(docs) == 0 {
		indices := make([]int, len(docs))
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}

	url := ep.url
	if c.baseURL != "" {
		url = c.baseURL
	}

	reqBody := map[string]interface{}{
		"model":     ep.model,
		"query":     query,
		"documents": docs,
		"top_n":     len(docs),
	}
	if c.provider == "cohere" {
		reqBody["return_documents"] = false
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("%s api error: %d %s", c.provider, resp.StatusCode, string(body))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, apperr.MarkRetryable(err)
		}
		return nil, err
	}

	var result struct {
		Results []struct {
			Index int     `json:"index"`
			Score float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(docs))
	indices := make([]int, 0, len(docs))
	for _, r := range result.Results {
		if r.Index >= 0 && r.Index < len(docs) && !seen[r.Index] {
			seen[r.Index] = true
			indices = append(indices, r.Index)
		}
	}
	return indices, nil
}
