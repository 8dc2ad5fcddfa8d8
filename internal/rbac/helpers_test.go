package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// seededStore returns a store with every CRUD permission and the default
// tiers provisioned in the api guard.
func seededStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(DefaultCatalog(), GuardAPI)
	for _, name := range shared.AllPermissions() {
		_, err := s.EnsurePermission(name, GuardAPI)
		require.NoError(t, err)
	}
	for _, tier := range s.catalog.Tiers() {
		_, err := s.EnsureRole(tier, GuardAPI, "")
		require.NoError(t, err)
		require.NoError(t, s.SyncPermissions(tier, GuardAPI, s.GrantRoleDefaults(tier)...))
	}
	return s
}

func principal(id int64, roles ...string) *Principal {
	p := &Principal{ID: id, Status: StatusActive}
	for _, r := range roles {
		p.Roles = append(p.Roles, RoleRef{Name: r, Guard: GuardAPI})
	}
	return p
}
