package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditPrune removes audit events older than the retention window.
	TaskAuditPrune = "audit:prune"

	jobAuditRecord = "audit_record"
	jobAuditPrune  = "audit_prune"
)

// PrunePayload describes the retention window of an audit prune run.
type PrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditPruneTask constructs an Asynq task pruning events older than retentionDays.
func NewAuditPruneTask(retentionDays int) (*asynq.Task, error) {
	data, err := json.Marshal(PrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, data), nil
}

// RecordJob persists audit events delivered through the audit queue.
type RecordJob struct {
	Writer  audit.EventWriter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRecordJob initialises the audit record handler.
func NewRecordJob(writer audit.EventWriter, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecordJob {
	return &RecordJob{Writer: writer, Logger: logger, Metrics: metrics}
}

// Handle decodes and writes one audit event.
func (j *RecordJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Writer == nil {
		return errors.New("audit record: writer not configured")
	}
	tracker := j.Metrics.Track(jobAuditRecord)
	defer func() {
		err = tracker.End(err)
	}()
	err = audit.NewRecordHandler(countingWriter{writer: j.Writer, metrics: j.Metrics})(ctx, t)
	if err != nil {
		logger(j.Logger).Warn("audit record failed", slog.Any("error", err))
	}
	return err
}

type countingWriter struct {
	writer  audit.EventWriter
	metrics *jobmetrics.Metrics
}

func (w countingWriter) Write(ctx context.Context, e audit.Event) error {
	if err := w.writer.Write(ctx, e); err != nil {
		return err
	}
	w.metrics.AddRecords(e.Name, 1)
	return nil
}

// Pruner deletes audit events older than a cutoff; *audit.Writer implements it.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneJob enforces the audit retention window.
type PruneJob struct {
	Pruner  Pruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPruneJob initialises the audit prune handler.
func NewPruneJob(pruner Pruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *PruneJob {
	return &PruneJob{
		Pruner:  pruner,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the prune.
func (j *PruneJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Pruner == nil {
		return errors.New("audit prune: pruner not configured")
	}
	tracker := j.Metrics.Track(jobAuditPrune)
	defer func() {
		err = tracker.End(err)
	}()

	var payload PrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("audit prune: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RetentionDays <= 0 {
		return fmt.Errorf("audit prune: retention %d days: %w", payload.RetentionDays, asynq.SkipRetry)
	}

	cutoff := j.clock().AddDate(0, 0, -payload.RetentionDays)
	removed, err := j.Pruner.Prune(ctx, cutoff)
	if err != nil {
		logger(j.Logger).Error("audit prune failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddPruned(removed)
	logger(j.Logger).Info("audit prune completed",
		slog.Int("retention_days", payload.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Int64("removed", removed),
	)
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
