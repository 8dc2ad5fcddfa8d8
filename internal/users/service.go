package users

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Denial reasons specific to role assignment.
const (
	ReasonGodGrant  = "only a god-tier principal can grant the god role"
	ReasonGodDemote = "only a god-tier principal can change the roles of a god-tier principal"
)

// RoleManager persists role assignments and refreshes the RBAC store;
// *rbac.Service implements it.
type RoleManager interface {
	SyncUserRoles(ctx context.Context, actorID, userID int64, guard rbac.Guard, roles []string) error
	Invalidate(ctx context.Context, events ...audit.Event)
}

// Hydrator fills a principal's roles from the RBAC store; *rbac.Store implements it.
type Hydrator interface {
	Hydrate(p *rbac.Principal)
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	engine   *rbac.Engine
	roles    RoleManager
	hydrator Hydrator
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, engine *rbac.Engine, roles RoleManager, hydrator Hydrator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		engine:   engine,
		roles:    roles,
		hydrator: hydrator,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// LoadPrincipal returns the principal for id with its current roles.
func (s *Service) LoadPrincipal(ctx context.Context, id int64) (*rbac.Principal, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.principal(user), nil
}

func (s *Service) principal(u User) *rbac.Principal {
	p := &rbac.Principal{ID: u.ID, Status: u.Status, DeletedAt: u.DeletedAt}
	s.hydrator.Hydrate(p)
	return p
}

// Get returns a user visible to actor.
func (s *Service) Get(ctx context.Context, actor *rbac.Principal, id int64) (User, []rbac.RoleRef, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, nil, err
	}
	target := s.principal(user)
	if err := s.authorize(ctx, s.engine, actor, shared.VerbShow, target); err != nil {
		return User{}, nil, err
	}
	return user, target.Roles, nil
}

// List returns users matching filter.
func (s *Service) List(ctx context.Context, actor *rbac.Principal, filter ListFilter) ([]User, error) {
	if err := s.authorize(ctx, s.engine, actor, shared.VerbIndex, nil); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListUsers(ctx, filter)
}

// Remove soft-deletes the user and detaches every role it holds. The actor
// must hold users.destroy and pass the role hierarchy.
func (s *Service) Remove(ctx context.Context, actor *rbac.Principal, id int64) error {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user.DeletedAt != nil {
		return fmt.Errorf("users: %d already removed: %w", id, shared.ErrNotFound)
	}
	target := s.principal(user)
	if err := s.authorize(ctx, s.engine, actor, shared.VerbDestroy, target); err != nil {
		return err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SoftDelete(ctx, id); err != nil {
			return err
		}
		return tx.DetachRoles(ctx, id)
	})
	if err != nil {
		return err
	}

	guard := s.engine.Guard()
	s.roles.Invalidate(ctx, audit.UserEvent(actor.ID, audit.EventUserRemoved, string(guard), strconv.FormatInt(id, 10), target.RoleNames(guard)))
	s.logger.Info("user removed", slog.Int64("user_id", id), slog.Int64("actor_id", actor.ID))
	return nil
}

// AssignRoles replaces the roles user id holds in guard. Granting the god
// role requires a god-tier actor.
func (s *Service) AssignRoles(ctx context.Context, actor *rbac.Principal, id int64, guard rbac.Guard, roles []string) error {
	if guard == "" {
		guard = s.engine.Guard()
	}
	engine := s.engine.ForGuard(guard)
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user.DeletedAt != nil {
		return fmt.Errorf("users: %d removed: %w", id, shared.ErrNotFound)
	}
	target := s.principal(user)
	if err := s.authorize(ctx, engine, actor, shared.VerbUpdate, target); err != nil {
		return err
	}
	if !actor.HasRole(rbac.RoleGod, guard) {
		// Roles of a god-tier principal are only changed by another god.
		if target.HasRole(rbac.RoleGod, guard) {
			return rbac.Denied(rbac.Forbid(ReasonGodDemote))
		}
		if slices.Contains(roles, rbac.RoleGod) {
			return rbac.Denied(rbac.Forbid(ReasonGodGrant))
		}
	}
	return s.roles.SyncUserRoles(ctx, actor.ID, id, guard, roles)
}

// Restore clears the soft-delete marker of user id. Roles detached on
// removal are not reattached.
func (s *Service) Restore(ctx context.Context, actor *rbac.Principal, id int64) error {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user.DeletedAt == nil {
		return fmt.Errorf("users: %d not removed: %w", id, shared.ErrNotFound)
	}
	if err := s.authorize(ctx, s.engine, actor, shared.VerbRestore, s.principal(user)); err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Restore(ctx, id)
	})
	if err != nil {
		return err
	}
	guard := s.engine.Guard()
	s.roles.Invalidate(ctx, audit.UserEvent(actor.ID, audit.EventUserRestored, string(guard), strconv.FormatInt(id, 10), nil))
	s.logger.Info("user restored", slog.Int64("user_id", id), slog.Int64("actor_id", actor.ID))
	return nil
}

// SeedAccounts creates or updates the given logins in one transaction and
// returns the user id of each account mapped to its roles. Existing
// passwords are left untouched.
func (s *Service) SeedAccounts(ctx context.Context, accounts []Account) (map[int64][]string, error) {
	hashes := make([]string, len(accounts))
	for i, acc := range accounts {
		if err := s.validate.Struct(acc); err != nil {
			return nil, fmt.Errorf("users: account %q: %w", acc.Email, err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(acc.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("users: hash password: %w", err)
		}
		hashes[i] = string(hash)
	}

	out := make(map[int64][]string, len(accounts))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		clear(out)
		for i, acc := range accounts {
			id, err := tx.UpsertAccount(ctx, strings.ToLower(strings.TrimSpace(acc.Email)), acc.Name, hashes[i])
			if err != nil {
				return fmt.Errorf("users: upsert %s: %w", acc.Email, err)
			}
			out[id] = acc.Roles
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) authorize(ctx context.Context, engine *rbac.Engine, actor *rbac.Principal, verb string, target rbac.Target) error {
	d, err := engine.Authorize(ctx, actor, shared.ResourceUsers, verb, target)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return rbac.Denied(d)
	}
	return nil
}

func rbacStatus(s string) rbac.Status {
	switch rbac.Status(s) {
	case rbac.StatusActive, rbac.StatusBanned:
		return rbac.Status(s)
	}
	return rbac.StatusInactive
}
