package rbac

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultSyncChannel is the Redis channel carrying invalidation notices.
const DefaultSyncChannel = "odyssey:authz:invalidate"

// Reloader reloads the in-memory store from persistence; *Service implements it.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Syncer keeps the in-memory store of every process current. Mutations
// publish a notice on a Redis channel; each process subscribes and reloads,
// and also reloads periodically in case a notice was missed.
type Syncer struct {
	client   redis.UniversalClient
	channel  string
	interval time.Duration
	reloader Reloader
	logger   *slog.Logger
	origin   string
	group    singleflight.Group
}

// NewSyncer constructs a Syncer. A zero interval disables periodic reloads.
func NewSyncer(client redis.UniversalClient, channel string, interval time.Duration, reloader Reloader, logger *slog.Logger) *Syncer {
	if channel == "" {
		channel = DefaultSyncChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		client:   client,
		channel:  channel,
		interval: interval,
		reloader: reloader,
		logger:   logger,
		origin:   uuid.NewString(),
	}
}

// Publish announces that RBAC state changed.
func (s *Syncer) Publish(ctx context.Context) error {
	return s.client.Publish(ctx, s.channel, s.origin).Err()
}

// Run subscribes to the channel and reloads on every notice from another
// process and on every tick. It returns when ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	messages := sub.Channel()

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if msg.Payload == s.origin {
				continue
			}
			s.reload(ctx, "notice")
		case <-tick:
			s.reload(ctx, "interval")
		}
	}
}

// Reload reloads the store, coalescing concurrent calls.
func (s *Syncer) Reload(ctx context.Context) error {
	_, err, _ := s.group.Do("reload", func() (any, error) {
		return nil, s.reloader.Reload(ctx)
	})
	return err
}

func (s *Syncer) reload(ctx context.Context, trigger string) {
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("rbac sync reload", slog.String("trigger", trigger), slog.Any("error", err))
		return
	}
	s.logger.Debug("rbac sync reloaded", slog.String("trigger", trigger))
}
