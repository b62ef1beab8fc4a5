package retrieval

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// QueryLogEntry is one retrieval call, written as a single JSON line.
type QueryLogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ContentID     string    `json:"content_id"`
	Query         string    `json:"query"`
	TopK          int       `json:"top_k"`
	NumResults    int       `json:"num_results"`
	Reranked      bool      `json:"reranked"`
	LatencyMs     int64     `json:"latency_ms"`
}

// QueryLogger appends retrieval entries to a JSON lines sink. It is safe for
// concurrent use. A nil *QueryLogger discards entries.
type QueryLogger struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	now    func() time.Time
}

func NewQueryLogger(w io.Writer) *QueryLogger {
	return &QueryLogger{enc: json.NewEncoder(w), now: time.Now}
}

// NewFileQueryLogger appends to path, creating it and its directory if
// needed. Close releases the file.
func NewFileQueryLogger(path string) (*QueryLogger, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path comes from config
	if err != nil {
		return nil, err
	}
	l := NewQueryLogger(f)
	l.closer = f
	return l, nil
}

func (l *QueryLogger) record(e QueryLogEntry, took time.Duration) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Timestamp = l.now().UTC()
	e.LatencyMs = took.Milliseconds()
	if l.enc == nil {
		return
	}
	if err := l.enc.Encode(e); err != nil {
		slog.Warn("query log write failed", "error", err)
	}
}

// Close closes the underlying file, if the logger owns one. Later entries
// are dropped.
func (l *QueryLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enc = nil
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}
