package rbac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
)

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Record(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) Events() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

type countingObserver struct {
	outcomes map[string]int
}

func (c *countingObserver) ObserveDecision(_, _, _, outcome string) {
	if c.outcomes == nil {
		c.outcomes = make(map[string]int)
	}
	c.outcomes[outcome]++
}

func TestAuthorizeScenarios(t *testing.T) {
	engine := NewEngine(seededStore(t), GuardAPI)
	ctx := context.Background()

	tests := []struct {
		name     string
		p        *Principal
		resource string
		verb     string
		target   Target
		want     Decision
	}{
		{"admin lists audits", principal(1, RoleAdmin), "audit", "index", nil, Allow()},
		{"anonymous views audit", nil, "audit", "show", nil, Unauthenticated()},
		{"tech views audit", principal(2, RoleTech), "audit", "show", nil, Forbid(ReasonMissingPermission)},
		{"god destroys god", principal(3, RoleGod), "users", "destroy", principal(4, RoleGod), Allow()},
		{"admin destroys god", principal(5, RoleAdmin), "users", "destroy", principal(4, RoleGod), Forbid(ReasonGodProtection)},
		{"tech destroys admin", principal(2, RoleTech), "users", "destroy", principal(5, RoleAdmin), Forbid(ReasonTechVsAdmin)},
		{"tech destroys customer", principal(2, RoleTech), "users", "destroy", principal(6, RoleCustomer), Allow()},
		{"god deletes god", principal(3, RoleGod), "users", "delete", principal(4, RoleGod), Allow()},
		{"admin deletes god", principal(5, RoleAdmin), "users", "delete", principal(4, RoleGod), Forbid(ReasonGodProtection)},
		{"admin deletes customer", principal(5, RoleAdmin), "users", "delete", principal(6, RoleCustomer), Allow()},
		{"tech deletes customer", principal(2, RoleTech), "users", "delete", principal(6, RoleCustomer), Forbid(ReasonMissingPermission)},
		{"god restores user", principal(3, RoleGod), "users", "restore", principal(6, RoleCustomer), Allow()},
		{"admin restores user", principal(5, RoleAdmin), "users", "restore", principal(6, RoleCustomer), Allow()},
		{"admin stores role", principal(5, RoleAdmin), "roles", "store", nil, Forbid(ReasonMissingPermission)},
		{"admin destroys role", principal(5, RoleAdmin), "roles", "destroy", nil, Forbid(ReasonMissingPermission)},
		{"god destroys role", principal(3, RoleGod), "roles", "destroy", nil, Allow()},
		{"admin updates god", principal(5, RoleAdmin), "users", "update", principal(4, RoleGod), Allow()},
		{"anonymous lists pages", nil, "pages", "index", nil, Allow()},
		{"anonymous views published page", nil, "pages", "show", Content{ID: 1, Published: true}, Allow()},
		{"anonymous views draft page", nil, "pages", "show", Content{ID: 1}, Unauthenticated()},
		{"guest views draft page", principal(7, RoleGuest), "pages", "show", &Content{ID: 1}, Allow()},
		{"customer views draft page", principal(8, RoleCustomer), "pages", "show", Content{ID: 1}, Forbid(ReasonMissingPermission)},
		{"customer stores page", principal(8, RoleCustomer), "pages", "store", nil, Forbid(ReasonMissingPermission)},
		{"no roles", principal(9), "products", "index", nil, Forbid(ReasonMissingPermission)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Authorize(ctx, tt.p, tt.resource, tt.verb, tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthorizeBlockedPrincipalsNeverAllowed(t *testing.T) {
	engine := NewEngine(seededStore(t), GuardAPI)
	deleted := time.Now()

	banned := principal(1, RoleGod)
	banned.Status = StatusBanned
	gone := principal(2, RoleGod)
	gone.DeletedAt = &deleted
	idle := principal(3, RoleGod)
	idle.Status = StatusInactive

	cases := map[*Principal]string{banned: ReasonBanned, gone: ReasonDeleted, idle: ReasonInactive}
	for p, reason := range cases {
		for _, verb := range []string{"index", "show", "destroy"} {
			for _, resource := range []string{"audit", "users", "pages"} {
				d, err := engine.Authorize(context.Background(), p, resource, verb, Content{Published: true})
				require.NoError(t, err)
				assert.False(t, d.Allowed)
				assert.Equal(t, Forbid(reason), d)
			}
		}
	}
}

func TestAuthorizeConfigurationErrors(t *testing.T) {
	engine := NewEngine(seededStore(t), GuardAPI)
	ctx := context.Background()

	_, err := engine.Authorize(ctx, principal(1, RoleGod), "audit", "export", nil)
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = engine.Authorize(ctx, nil, "audit", "list", nil)
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = engine.Authorize(ctx, principal(1, RoleGod), " ", "index", nil)
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = engine.ForGuard("mobile").Authorize(ctx, principal(1, RoleGod), "audit", "index", nil)
	assert.ErrorIs(t, err, ErrUnknownGuard)
}

func TestAuthorizeAuditsDestructiveDecisions(t *testing.T) {
	sink := &recordingSink{}
	obs := &countingObserver{}
	engine := NewEngine(seededStore(t), GuardAPI, WithAuditSink(sink), WithObserver(obs))
	ctx := context.Background()

	_, err := engine.Authorize(ctx, principal(2, RoleTech), "users", "destroy", principal(5, RoleAdmin))
	require.NoError(t, err)
	_, err = engine.Authorize(ctx, principal(3, RoleGod), "users", "destroy", principal(5, RoleAdmin))
	require.NoError(t, err)
	_, err = engine.Authorize(ctx, principal(3, RoleGod), "users", "index", nil)
	require.NoError(t, err)
	_, err = engine.Authorize(ctx, nil, "users", "index", nil)
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventDestroyDenied, events[0].Name)
	assert.Equal(t, int64(2), events[0].ActorID)
	assert.Equal(t, "5", events[0].EntityID)
	assert.Equal(t, ReasonTechVsAdmin, events[0].Reason)
	assert.Equal(t, []string{RoleAdmin}, events[0].Roles)
	assert.Equal(t, audit.EventDestroyAllowed, events[1].Name)

	assert.Equal(t, map[string]int{"forbidden": 1, "allow": 2, "unauthenticated": 1}, obs.outcomes)
}

func TestForGuardKeepsOriginal(t *testing.T) {
	engine := NewEngine(NewStore(nil, GuardAPI, GuardWeb), GuardAPI)
	web := engine.ForGuard(GuardWeb)
	assert.Equal(t, GuardAPI, engine.Guard())
	assert.Equal(t, GuardWeb, web.Guard())
}
