package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueAudit is the default asynq queue for audit events.
	QueueAudit = "audit"
	// TaskTypeRecord is the task type carrying one audit event.
	TaskTypeRecord = "audit:record"

	enqueueTimeout = 3 * time.Second
	recordRetries  = 5
)

// NewRecordTask encodes e as an asynq task.
func NewRecordTask(e Event) (*asynq.Task, error) {
	data, err := json.Marshal(e.normalize())
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRecord, data), nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSink hands events to the audit worker through asynq. Enqueueing runs
// in the background so callers never wait on redis.
type QueueSink struct {
	client Enqueuer
	queue  string
	logger *slog.Logger
	failed func(sink string)
	wg     sync.WaitGroup
}

// NewQueueSink constructs a QueueSink.
func NewQueueSink(client Enqueuer, queue string, logger *slog.Logger) *QueueSink {
	if queue == "" {
		queue = QueueAudit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueSink{client: client, queue: queue, logger: logger}
}

// OnFailure registers fn to be called whenever an event could not be enqueued.
func (s *QueueSink) OnFailure(fn func(sink string)) {
	s.failed = fn
}

// Record implements Sink.
func (s *QueueSink) Record(ctx context.Context, e Event) {
	e = e.normalize()
	task, err := NewRecordTask(e)
	if err != nil {
		s.logger.Warn("audit encode", slog.String("event", e.Name), slog.Any("error", err))
		s.fail()
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
		defer cancel()
		_, err := s.client.EnqueueContext(ctx, task,
			asynq.Queue(s.queue),
			asynq.MaxRetry(recordRetries),
			asynq.TaskID(e.ID.String()),
		)
		if err != nil {
			s.logger.Warn("audit enqueue", slog.String("event", e.Name), slog.String("id", e.ID.String()), slog.Any("error", err))
			s.fail()
		}
	}()
}

func (s *QueueSink) fail() {
	if s.failed != nil {
		s.failed("queue")
	}
}

// Flush waits for in-flight enqueues.
func (s *QueueSink) Flush() {
	s.wg.Wait()
}

// EventWriter persists events; *Writer implements it.
type EventWriter interface {
	Write(ctx context.Context, e Event) error
}

// NewRecordHandler processes TaskTypeRecord tasks.
func NewRecordHandler(w EventWriter) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var e Event
		if err := json.Unmarshal(t.Payload(), &e); err != nil {
			return fmt.Errorf("audit: decode payload: %v: %w", err, asynq.SkipRetry)
		}
		if e.Name == "" || e.Entity == "" {
			return fmt.Errorf("audit: incomplete event %s: %w", e.ID, asynq.SkipRetry)
		}
		return w.Write(ctx, e)
	}
}
