// Package record holds the content record model shared by the orchestrator,
// the record store and the request layer.
package record

import (
	"errors"
	"time"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

type ContentType string

const (
	TypePDF   ContentType = "pdf"
	TypeVideo ContentType = "video"
)

// ErrTerminal is returned when an update targets a record that already
// reached processed or failed.
var ErrTerminal = errors.New("content record is in a terminal state")

// Content is one ingested document or video.
type Content struct {
	ID          string                 `json:"id"`
	ContentType ContentType            `json:"content_type"`
	Source      string                 `json:"source"`
	Title       string                 `json:"title"`
	Status      Status                 `json:"status"`
	ChunksCount int                    `json:"chunks_count"`
	Metadata    map[string]interface{} `json:"metadata"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ErrorMessage returns the failure reason stored in metadata.
func (c *Content) ErrorMessage() string {
	if c == nil || c.Metadata == nil {
		return ""
	}
	if msg, ok := c.Metadata["error"].(string); ok {
		return msg
	}
	return ""
}

type NewContent struct {
	ContentType ContentType
	Source      string
	Title       string
	Metadata    map[string]interface{}
}

// Update moves a record to a terminal status. ChunksCount is only applied
// for processed records; ErrorMessage only for failed ones. Metadata is
// merged into the stored map.
type Update struct {
	Status       Status
	ChunksCount  int
	ErrorMessage string
	Metadata     map[string]interface{}
}
