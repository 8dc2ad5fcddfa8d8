// Package audit records provisioning, role-assignment and sensitive
// authorization events and serves them back as a paged timeline.
package audit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event names.
const (
	EventRoleProvisioned = "rbac.role.provisioned"
	EventRolePermissions = "rbac.role.permissions_synced"
	EventRoleDeleted     = "rbac.role.deleted"
	EventRolesAssigned   = "rbac.user.roles_synced"
	EventUserRemoved     = "users.removed"
	EventUserRestored    = "users.restored"
	EventDestroyAllowed  = "authz.destroy.allowed"
	EventDestroyDenied   = "authz.destroy.denied"
	EventAccountsSeeded  = "users.accounts_seeded"
)

const (
	entityRole      = "role"
	entityUser      = "user"
	defaultEntityID = "-"
	systemActor     = "system"
)

// Event is a single audit record. ActorID 0 denotes the system.
type Event struct {
	ID          uuid.UUID `json:"id"`
	ActorID     int64     `json:"actor_id"`
	Name        string    `json:"name"`
	Guard       string    `json:"guard,omitempty"`
	Entity      string    `json:"entity"`
	EntityID    string    `json:"entity_id"`
	Roles       []string  `json:"roles,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// RoleEvent builds an event about a role.
func RoleEvent(actorID int64, name, guard, role string, permissions []string) Event {
	return Event{ActorID: actorID, Name: name, Guard: guard, Entity: entityRole, EntityID: role, Roles: []string{role}, Permissions: permissions}
}

// UserEvent builds an event about a user account.
func UserEvent(actorID int64, name, guard, userID string, roles []string) Event {
	return Event{ActorID: actorID, Name: name, Guard: guard, Entity: entityUser, EntityID: userID, Roles: roles}
}

// normalize fills the identity fields of e.
func (e Event) normalize() Event {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.EntityID == "" {
		e.EntityID = defaultEntityID
	}
	return e
}

// Sink receives audit events. Record is fire-and-forget: implementations
// report failures through their logger and never block callers on retries.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

// Record implements Sink.
func (f SinkFunc) Record(ctx context.Context, e Event) {
	f(ctx, e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// LogSink writes events to a slog.Logger.
type LogSink struct {
	Logger *slog.Logger
}

// Record implements Sink.
func (s LogSink) Record(ctx context.Context, e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e = e.normalize()
	actor := systemActor
	if e.ActorID != 0 {
		actor = strconv.FormatInt(e.ActorID, 10)
	}
	logger.InfoContext(ctx, "audit event",
		slog.String("id", e.ID.String()),
		slog.String("event", e.Name),
		slog.String("actor", actor),
		slog.String("entity", e.Entity),
		slog.String("entity_id", e.EntityID),
		slog.Any("roles", e.Roles),
		slog.Int("permissions", len(e.Permissions)),
	)
}
