package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/app"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/jobs"
	"github.com/odyssey-erp/odyssey-authz/migrations"
)

// Run executes a maintenance command:
//
//	migrate
//	jobs stats
//	jobs scheduled
//	jobs prune [retention-days]
func Run(ctx context.Context, cfg *app.Config, args []string, out io.Writer) error {
	switch {
	case len(args) == 1 && args[0] == "migrate":
		return migrate(ctx, cfg, out)
	case len(args) >= 2 && args[0] == "jobs":
		client := jobs.NewClient(cfg.RedisOpt())
		defer client.Close()
		inspector := asynq.NewInspector(cfg.RedisOpt())
		defer inspector.Close()
		return Exec(ctx, NewJobsCLI(client, inspector, cfg.AuditQueue), args[1:], cfg.AuditRetentionDays, out)
	}
	return errors.New("usage: odyssey-authz migrate | jobs stats|scheduled|prune [days]")
}

func migrate(ctx context.Context, cfg *app.Config, out io.Writer) error {
	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN})
	if err != nil {
		return err
	}
	defer pool.Close()
	applied, err := db.Migrate(ctx, pool, migrations.FS)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "applied %d migration(s) %v\n", len(applied), applied)
	return err
}
