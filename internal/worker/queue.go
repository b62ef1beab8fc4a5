// Package worker runs background ingestion tasks, either on an in-process
// pool or through an NSQ topic.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/pipeline"
)

var (
	ErrQueueFull   = errors.New("ingestion queue is full")
	ErrQueueClosed = errors.New("ingestion queue is closed")
)

// Runner executes one ingestion task to completion.
type Runner interface {
	RunTask(ctx context.Context, task pipeline.IngestTask) error
}

// MemoryQueue is a bounded in-process queue drained by a fixed worker pool.
// Enqueue never blocks: a full buffer is reported as ErrQueueFull.
type MemoryQueue struct {
	tasks  chan pipeline.IngestTask
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer < 1 {
		buffer = 1
	}
	return &MemoryQueue{tasks: make(chan pipeline.IngestTask, buffer)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task pipeline.IngestTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Start launches workers that hand tasks to runner until Close is called.
// Tasks run detached from ctx; it only supplies request-scoped values.
func (q *MemoryQueue) Start(ctx context.Context, runner Runner, workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			for task := range q.tasks {
				if err := runner.RunTask(context.WithoutCancel(ctx), task); err != nil {
					slog.WarnContext(ctx, "ingestion task failed", "worker", id, "content_id", task.ContentID, "error", err)
				}
			}
		}(i)
	}
	slog.InfoContext(ctx, "ingestion workers started", "workers", workers)
}

// Close stops accepting tasks and waits for queued ones to finish.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// NSQQueue publishes tasks to an NSQ topic for IngestConsumer to pick up.
type NSQQueue struct {
	pub   Publisher
	topic string
}

func NewNSQQueue(pub Publisher, topic string) *NSQQueue {
	return &NSQQueue{pub: pub, topic: topic}
}

func (q *NSQQueue) Enqueue(ctx context.Context, task pipeline.IngestTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode ingest task: %w", err)
	}
	if err := q.pub.Publish(q.topic, body); err != nil {
		return fmt.Errorf("publish to %s: %w", q.topic, err)
	}
	return nil
}
