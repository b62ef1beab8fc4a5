package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/config"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/middleware"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/pipeline"
)

// DefaultTouchInterval keeps long ingestions from hitting the nsqd message
// timeout (60s by default).
const DefaultTouchInterval = 30 * time.Second

// IngestConsumer handles messages from the ingest topic.
type IngestConsumer struct {
	runner        Runner
	touchInterval time.Duration
}

func NewIngestConsumer(r Runner) *IngestConsumer {
	return &IngestConsumer{runner: r, touchInterval: DefaultTouchInterval}
}

// HandleMessage always finishes the message. RunTask records the outcome on
// the content record, so a requeue could only hit a terminal record.
func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task pipeline.IngestTask
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison pill
		slog.Error("poison pill: invalid ingest task json", "error", err)
		return nil
	}
	if task.ContentID == "" {
		slog.Error("poison pill: ingest task without content_id")
		return nil
	}

	ctx := context.Background()
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}

	stop := h.keepAlive(m)
	defer stop()

	start := time.Now()
	if err := h.runner.RunTask(ctx, task); err != nil {
		slog.WarnContext(ctx, "ingestion task failed", "content_id", task.ContentID, "attempts", m.Attempts, "error", err)
		return nil
	}
	slog.InfoContext(ctx, "ingestion task finished", "content_id", task.ContentID, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (h *IngestConsumer) keepAlive(m *nsq.Message) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(h.touchInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				m.Touch()
			}
		}
	}()
	return func() { close(done) }
}

// Subscribe connects an IngestConsumer with one in-flight message per worker.
// It discovers producers through lookupd, or connects to nsqd directly when
// lookupd is empty.
func Subscribe(runner Runner, lookupd, nsqd string, concurrency int) (*nsq.Consumer, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	cfg := nsq.NewConfig()
	cfg.MaxInFlight = concurrency

	consumer, err := nsq.NewConsumer(config.TopicIngestContent, config.ChannelIngestWorker, cfg)
	if err != nil {
		return nil, err
	}
	consumer.SetLogger(nsqLogger{}, nsq.LogLevelWarning)
	consumer.AddConcurrentHandlers(NewIngestConsumer(runner), concurrency)

	if lookupd != "" {
		err = consumer.ConnectToNSQLookupd(lookupd)
	} else {
		err = consumer.ConnectToNSQD(nsqd)
	}
	if err != nil {
		consumer.Stop()
		return nil, err
	}
	return consumer, nil
}

// nsqLogger routes go-nsq's internal logging through slog.
type nsqLogger struct{}

func (nsqLogger) Output(_ int, s string) error {
	slog.Warn("nsq", "message", s)
	return nil
}
