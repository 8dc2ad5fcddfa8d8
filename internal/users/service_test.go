package users

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// ============================================================================
// MOCKS
// ============================================================================

type mockRepository struct {
	users    map[int64]*User
	hashes   map[string]string
	byEmail  map[string]int64
	nextID   int64
	txError  error
	detached []int64
}

func newMockRepository(users ...User) *mockRepository {
	m := &mockRepository{
		users:   make(map[int64]*User),
		hashes:  make(map[string]string),
		byEmail: make(map[string]int64),
		nextID:  100,
	}
	for i := range users {
		u := users[i]
		m.users[u.ID] = &u
	}
	return m
}

func (m *mockRepository) GetUser(ctx context.Context, id int64) (User, error) {
	u, ok := m.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return *u, nil
}

func (m *mockRepository) ListUsers(ctx context.Context, filter ListFilter) ([]User, error) {
	var out []User
	for id := int64(0); id <= m.nextID; id++ {
		u, ok := m.users[id]
		if !ok || (u.DeletedAt != nil && !filter.IncludeDeleted) {
			continue
		}
		out = append(out, *u)
	}
	return out, nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txError != nil {
		return m.txError
	}
	return fn(ctx, &mockTxRepo{mock: m})
}

type mockTxRepo struct {
	mock *mockRepository
}

func (t *mockTxRepo) SoftDelete(ctx context.Context, id int64) error {
	u, ok := t.mock.users[id]
	if !ok || u.DeletedAt != nil {
		return shared.ErrNotFound
	}
	now := time.Now()
	u.DeletedAt = &now
	return nil
}

func (t *mockTxRepo) Restore(ctx context.Context, id int64) error {
	u, ok := t.mock.users[id]
	if !ok || u.DeletedAt == nil {
		return shared.ErrNotFound
	}
	u.DeletedAt = nil
	return nil
}

func (t *mockTxRepo) DetachRoles(ctx context.Context, id int64) error {
	t.mock.detached = append(t.mock.detached, id)
	return nil
}

func (t *mockTxRepo) UpsertAccount(ctx context.Context, email, name, hash string) (int64, error) {
	if id, ok := t.mock.byEmail[email]; ok {
		t.mock.users[id].Name = name
		return id, nil
	}
	t.mock.nextID++
	id := t.mock.nextID
	t.mock.byEmail[email] = id
	t.mock.hashes[email] = hash
	t.mock.users[id] = &User{ID: id, Email: email, Name: name, Status: rbac.StatusActive}
	return id, nil
}

type stubRoleManager struct {
	store  *rbac.Store
	events []audit.Event
}

func (s *stubRoleManager) SyncUserRoles(ctx context.Context, actorID, userID int64, guard rbac.Guard, roles []string) error {
	return s.store.SyncRoles(userID, guard, roles...)
}

func (s *stubRoleManager) Invalidate(ctx context.Context, events ...audit.Event) {
	s.events = append(s.events, events...)
}

type fixture struct {
	svc   *Service
	repo  *mockRepository
	store *rbac.Store
	roles *stubRoleManager
}

const (
	godID      = 1
	adminID    = 2
	techID     = 3
	customerID = 4
)

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := rbac.NewStore(rbac.DefaultCatalog(), rbac.GuardAPI)
	for _, name := range shared.AllPermissions() {
		_, err := store.EnsurePermission(name, rbac.GuardAPI)
		require.NoError(t, err)
	}
	for _, tier := range rbac.DefaultCatalog().Tiers() {
		_, err := store.EnsureRole(tier, rbac.GuardAPI, "")
		require.NoError(t, err)
		require.NoError(t, store.SyncPermissions(tier, rbac.GuardAPI, store.GrantRoleDefaults(tier)...))
	}
	require.NoError(t, store.AssignRole(godID, rbac.RoleGod, rbac.GuardAPI))
	require.NoError(t, store.AssignRole(adminID, rbac.RoleAdmin, rbac.GuardAPI))
	require.NoError(t, store.AssignRole(techID, rbac.RoleTech, rbac.GuardAPI))
	require.NoError(t, store.AssignRole(customerID, rbac.RoleCustomer, rbac.GuardAPI))

	repo := newMockRepository(
		User{ID: godID, Email: "god@odyssey.local", Status: rbac.StatusActive},
		User{ID: adminID, Email: "admin@odyssey.local", Status: rbac.StatusActive},
		User{ID: techID, Email: "tech@odyssey.local", Status: rbac.StatusActive},
		User{ID: customerID, Email: "customer@odyssey.local", Status: rbac.StatusActive},
	)
	roles := &stubRoleManager{store: store}
	svc := NewService(repo, rbac.NewEngine(store, rbac.GuardAPI), roles, store, nil)
	return fixture{svc: svc, repo: repo, store: store, roles: roles}
}

func (f fixture) actor(t *testing.T, id int64) *rbac.Principal {
	t.Helper()
	p, err := f.svc.LoadPrincipal(context.Background(), id)
	require.NoError(t, err)
	return p
}

func denial(t *testing.T, err error) rbac.Decision {
	t.Helper()
	var denied *rbac.DeniedError
	require.True(t, errors.As(err, &denied), "expected deny, got %v", err)
	return denied.Decision
}

// ============================================================================
// TESTS
// ============================================================================

func TestRemoveEnforcesHierarchy(t *testing.T) {
	ctx := context.Background()

	t.Run("tech cannot remove admin", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.Remove(ctx, f.actor(t, techID), adminID)
		assert.Equal(t, rbac.ReasonTechVsAdmin, denial(t, err).Reason)
		assert.Nil(t, f.repo.users[adminID].DeletedAt)
		assert.Empty(t, f.roles.events)
	})

	t.Run("admin cannot remove god", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.Remove(ctx, f.actor(t, adminID), godID)
		assert.Equal(t, rbac.ReasonGodProtection, denial(t, err).Reason)
	})

	t.Run("customer lacks permission", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.Remove(ctx, f.actor(t, customerID), techID)
		assert.Equal(t, rbac.ReasonMissingPermission, denial(t, err).Reason)
	})

	t.Run("anonymous", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.Remove(ctx, nil, techID)
		assert.Equal(t, rbac.DenyUnauthenticated, denial(t, err).Kind)
	})

	t.Run("tech removes customer", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.Remove(ctx, f.actor(t, techID), customerID))
		assert.NotNil(t, f.repo.users[customerID].DeletedAt)
		assert.Equal(t, []int64{customerID}, f.repo.detached)
		require.Len(t, f.roles.events, 1)
		assert.Equal(t, audit.EventUserRemoved, f.roles.events[0].Name)
		assert.Equal(t, []string{rbac.RoleCustomer}, f.roles.events[0].Roles)

		err := f.svc.Remove(ctx, f.actor(t, techID), customerID)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("god removes god", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.AssignRole(adminID, rbac.RoleGod, rbac.GuardAPI))
		require.NoError(t, f.svc.Remove(ctx, f.actor(t, godID), adminID))
	})
}

func TestRemovedPrincipalIsDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Remove(ctx, f.actor(t, godID), adminID))

	removed := f.actor(t, adminID)
	_, err := f.svc.List(ctx, removed, ListFilter{})
	assert.Equal(t, rbac.ReasonDeleted, denial(t, err).Reason)
}

func TestBannedPrincipalIsDenied(t *testing.T) {
	f := newFixture(t)
	f.repo.users[godID].Status = rbac.StatusBanned

	_, err := f.svc.List(context.Background(), f.actor(t, godID), ListFilter{})
	assert.Equal(t, rbac.ReasonBanned, denial(t, err).Reason)
}

func TestAssignRoles(t *testing.T) {
	ctx := context.Background()

	t.Run("admin assigns tech", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.AssignRoles(ctx, f.actor(t, adminID), customerID, "", []string{rbac.RoleTech}))
		assert.Equal(t, []string{rbac.RoleTech}, f.store.RolesOf(customerID, rbac.GuardAPI))
	})

	t.Run("admin cannot grant god", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.AssignRoles(ctx, f.actor(t, adminID), customerID, rbac.GuardAPI, []string{rbac.RoleGod})
		assert.Equal(t, ReasonGodGrant, denial(t, err).Reason)
	})

	t.Run("admin cannot demote god", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.AssignRoles(ctx, f.actor(t, adminID), godID, rbac.GuardAPI, []string{rbac.RoleCustomer})
		assert.Equal(t, ReasonGodDemote, denial(t, err).Reason)
		assert.Equal(t, []string{rbac.RoleGod}, f.store.RolesOf(godID, rbac.GuardAPI))

		err = f.svc.Remove(ctx, f.actor(t, adminID), godID)
		assert.Equal(t, rbac.ReasonGodProtection, denial(t, err).Reason)
		assert.Nil(t, f.repo.users[godID].DeletedAt)
	})

	t.Run("god demotes god", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.AssignRole(5, rbac.RoleGod, rbac.GuardAPI))
		f.repo.users[5] = &User{ID: 5, Email: "root2@odyssey.local", Status: rbac.StatusActive}

		require.NoError(t, f.svc.AssignRoles(ctx, f.actor(t, godID), 5, rbac.GuardAPI, []string{rbac.RoleAdmin}))
		assert.Equal(t, []string{rbac.RoleAdmin}, f.store.RolesOf(5, rbac.GuardAPI))
	})

	t.Run("tech lacks users.update", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.AssignRoles(ctx, f.actor(t, techID), customerID, rbac.GuardAPI, []string{rbac.RoleGuest})
		assert.Equal(t, rbac.ReasonMissingPermission, denial(t, err).Reason)
	})

	t.Run("unknown guard", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.AssignRoles(ctx, f.actor(t, godID), customerID, "mobile", []string{rbac.RoleGuest})
		assert.ErrorIs(t, err, rbac.ErrUnknownGuard)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.AssignRoles(ctx, f.actor(t, godID), 999, rbac.GuardAPI, []string{rbac.RoleGuest})
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("admin restores removed customer", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.Remove(ctx, f.actor(t, adminID), customerID))
		require.NotNil(t, f.repo.users[customerID].DeletedAt)

		require.NoError(t, f.svc.Restore(ctx, f.actor(t, adminID), customerID))
		assert.Nil(t, f.repo.users[customerID].DeletedAt)
		last := f.roles.events[len(f.roles.events)-1]
		assert.Equal(t, audit.EventUserRestored, last.Name)
	})

	t.Run("tech lacks users.restore", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.Remove(ctx, f.actor(t, adminID), customerID))
		err := f.svc.Restore(ctx, f.actor(t, techID), customerID)
		assert.Equal(t, rbac.ReasonMissingPermission, denial(t, err).Reason)
	})

	t.Run("active user", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.Restore(ctx, f.actor(t, godID), customerID)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestSeedAccountsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accounts := []Account{
		{Email: "Root@Odyssey.local", Name: "Root", Password: "changeme123", Roles: []string{rbac.RoleGod}},
		{Email: "ops@odyssey.local", Name: "Ops", Password: "changeme123", Roles: []string{rbac.RoleTech}},
	}

	first, err := f.svc.SeedAccounts(ctx, accounts)
	require.NoError(t, err)
	second, err := f.svc.SeedAccounts(ctx, accounts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
	hash := f.repo.hashes["root@odyssey.local"]
	require.NotEmpty(t, hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("changeme123")))

	_, err = f.svc.SeedAccounts(ctx, []Account{{Email: "bad", Name: "x", Password: "short"}})
	assert.Error(t, err)
}

func TestHandlerRemoveUser(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(nil, f.svc)
	r := chi.NewRouter()
	r.Route("/v1/users", h.MountRoutes)

	do := func(actor *rbac.Principal, method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		if actor != nil {
			req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), actor))
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(f.actor(t, techID), http.MethodDelete, "/v1/users/2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), rbac.ReasonTechVsAdmin)

	rec = do(nil, http.MethodDelete, "/v1/users/2", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(f.actor(t, techID), http.MethodDelete, "/v1/users/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(f.actor(t, techID), http.MethodDelete, "/v1/users/4", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(f.actor(t, adminID), http.MethodGet, "/v1/users/3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"tech"`)

	rec = do(f.actor(t, adminID), http.MethodPut, "/v1/users/3/roles", `{"roles":["Bad Role"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(f.actor(t, adminID), http.MethodPut, "/v1/users/3/roles", `{"roles":["customer"]}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(f.actor(t, adminID), http.MethodGet, "/v1/users/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "customer@odyssey.local")

	rec = do(f.actor(t, adminID), http.MethodPut, "/v1/users/1/roles", `{"roles":["customer"]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), ReasonGodDemote)

	rec = do(f.actor(t, techID), http.MethodPost, "/v1/users/4/restore", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(f.actor(t, adminID), http.MethodPost, "/v1/users/4/restore", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, f.repo.users[customerID].DeletedAt)

	rec = do(f.actor(t, adminID), http.MethodPost, "/v1/users/4/restore", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
