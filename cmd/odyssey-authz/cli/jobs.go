package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/jobs"
)

// Inspector is the subset of *asynq.Inspector used by the CLI.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for the audit queue.
type JobsCLI struct {
	client    audit.Enqueuer
	inspector Inspector
	queue     string
}

// NewJobsCLI initialises the CLI helpers.
func NewJobsCLI(client audit.Enqueuer, inspector Inspector, queue string) *JobsCLI {
	if queue == "" {
		queue = audit.QueueAudit
	}
	return &JobsCLI{client: client, inspector: inspector, queue: queue}
}

// TriggerPrune enqueues an audit prune with the given retention.
func (c *JobsCLI) TriggerPrune(ctx context.Context, retentionDays int) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	if retentionDays <= 0 {
		return nil, fmt.Errorf("jobs cli: retention must be positive, got %d", retentionDays)
	}
	task, err := jobs.NewAuditPruneTask(retentionDays)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the metrics of the audit queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(c.queue)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: c.queue}
	if info != nil {
		stats.Pending = int(info.Pending)
		stats.Active = int(info.Active)
		stats.Scheduled = int(info.Scheduled)
		stats.Retry = int(info.Retry)
		stats.Archived = int(info.Archived)
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos of the audit queue.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(c.queue, asynq.PageSize(size), asynq.Page(1))
}

// Exec dispatches a jobs subcommand against c.
func Exec(ctx context.Context, c *JobsCLI, args []string, defaultRetention int, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("jobs cli: missing command")
	}
	switch args[0] {
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return err
	case "scheduled":
		tasks, err := c.ListScheduled(ctx, 20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if _, err := fmt.Fprintf(out, "%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02T15:04:05Z07:00")); err != nil {
				return err
			}
		}
		return nil
	case "prune":
		days := defaultRetention
		if len(args) > 1 {
			parsed, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("jobs cli: invalid retention %q", args[1])
			}
			days = parsed
		}
		info, err := c.TriggerPrune(ctx, days)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "enqueued %s id=%s retention_days=%d\n", info.Type, info.ID, days)
		return err
	}
	return fmt.Errorf("jobs cli: unknown command %q", args[0])
}
