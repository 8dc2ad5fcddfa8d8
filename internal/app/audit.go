package app

import (
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
)

// AuditDeps carries the collaborators an audit sink may need.
type AuditDeps struct {
	Writer    audit.EventWriter
	Enqueuer  audit.Enqueuer
	Logger    *slog.Logger
	OnFailure func(sink string)
}

// NewAuditSink returns the sink selected by cfg.AuditMode together with a
// flush function to call before shutdown.
func NewAuditSink(cfg *Config, deps AuditDeps) (audit.Sink, func(), error) {
	noop := func() {}
	switch cfg.AuditMode {
	case AuditModeQueue:
		if deps.Enqueuer == nil {
			return nil, noop, fmt.Errorf("audit mode %q requires a queue client", cfg.AuditMode)
		}
		sink := audit.NewQueueSink(deps.Enqueuer, cfg.AuditQueue, deps.Logger)
		if deps.OnFailure != nil {
			sink.OnFailure(deps.OnFailure)
		}
		return sink, sink.Flush, nil
	case AuditModeDirect:
		if deps.Writer == nil {
			return nil, noop, fmt.Errorf("audit mode %q requires a writer", cfg.AuditMode)
		}
		return audit.DirectSink{Writer: deps.Writer, Logger: deps.Logger, OnFailure: deps.OnFailure}, noop, nil
	case AuditModeLog:
		return audit.LogSink{Logger: deps.Logger}, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown audit mode %q", cfg.AuditMode)
}
