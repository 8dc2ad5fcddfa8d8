package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
)

// Publisher announces RBAC mutations to other processes.
type Publisher interface {
	Publish(ctx context.Context) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context) error {
	return f(ctx)
}

// Service orchestrates RBAC mutations: every write runs in one transaction,
// then the in-memory store is reloaded, peers are notified and the change is
// audited.
type Service struct {
	repo      Repository
	store     *Store
	sink      audit.Sink
	publisher Publisher
	validate  *validator.Validate
	logger    *slog.Logger
	onReload  func(version uint64)
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithPublisher installs the cross-process invalidation publisher.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// WithServiceAudit sets the audit sink for mutations.
func WithServiceAudit(sink audit.Sink) ServiceOption {
	return func(s *Service) { s.sink = sink }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithReloadHook calls fn with the store version after every reload.
func WithReloadHook(fn func(version uint64)) ServiceOption {
	return func(s *Service) { s.onReload = fn }
}

// NewService constructs a Service.
func NewService(repo Repository, store *Store, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		store:    store,
		sink:     audit.Discard,
		validate: NewValidator(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the in-memory store the service keeps current.
func (s *Service) Store() *Store {
	return s.store
}

// Reload replaces the in-memory store with the persisted state.
func (s *Service) Reload(ctx context.Context) error {
	snap, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	s.store.Replace(snap)
	if s.onReload != nil {
		s.onReload(s.store.Version())
	}
	return nil
}

// CreateRole inserts a new role; duplicates return shared.ErrDuplicate.
func (s *Service) CreateRole(ctx context.Context, actorID int64, guard Guard, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if err := s.validate.Var(name, roleNameTag); err != nil {
		return Role{}, fmt.Errorf("%w: role name %q", ErrInvalidDefinition, name)
	}
	if err := s.store.CheckGuard(guard); err != nil {
		return Role{}, err
	}
	var role Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		role, err = tx.CreateRole(ctx, name, guard, strings.TrimSpace(description))
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.afterCommit(ctx, audit.RoleEvent(actorID, audit.EventRoleProvisioned, string(guard), name, nil))
	return role, nil
}

// SyncRolePermissions replaces the permissions of role. Unknown permission
// names are skipped; the applied set is returned.
func (s *Service) SyncRolePermissions(ctx context.Context, actorID int64, guard Guard, role string, names []string) ([]string, error) {
	if err := s.store.CheckGuard(guard); err != nil {
		return nil, err
	}
	current, ok := s.store.Role(role, guard)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrRoleNotFound, role, guard)
	}
	var applied []string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		applied, err = tx.SyncRolePermissions(ctx, current.ID, guard, uniqueStrings(names))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, audit.RoleEvent(actorID, audit.EventRolePermissions, string(guard), role, applied))
	return applied, nil
}

// SyncUserRoles replaces the roles a user holds in guard.
func (s *Service) SyncUserRoles(ctx context.Context, actorID, userID int64, guard Guard, roles []string) error {
	if err := s.store.CheckGuard(guard); err != nil {
		return err
	}
	roles = uniqueStrings(roles)
	for _, role := range roles {
		if _, ok := s.store.Role(role, guard); !ok {
			return fmt.Errorf("%w: %s (%s)", ErrRoleNotFound, role, guard)
		}
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SyncUserRoles(ctx, userID, guard, roles)
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, audit.UserEvent(actorID, audit.EventRolesAssigned, string(guard), strconv.FormatInt(userID, 10), roles))
	return nil
}

// DeleteRole removes a role and, explicitly, its associations.
func (s *Service) DeleteRole(ctx context.Context, actorID int64, guard Guard, role string) error {
	if err := s.store.CheckGuard(guard); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteRole(ctx, role, guard)
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, audit.RoleEvent(actorID, audit.EventRoleDeleted, string(guard), role, nil))
	return nil
}

// Invalidate reloads the store and notifies peers after role assignments
// were changed outside this service, such as a user removal.
func (s *Service) Invalidate(ctx context.Context, events ...audit.Event) {
	s.afterCommit(ctx, events...)
}

func (s *Service) afterCommit(ctx context.Context, events ...audit.Event) {
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("rbac reload after commit", slog.Any("error", err))
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx); err != nil {
			s.logger.Warn("rbac publish invalidation", slog.Any("error", err))
		}
	}
	for _, e := range events {
		s.sink.Record(ctx, e)
	}
}
