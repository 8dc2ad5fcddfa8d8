package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

func TestHasPermissionWithoutRolesIsAlwaysFalse(t *testing.T) {
	s := seededStore(t)
	p := principal(1)
	for _, name := range shared.AllPermissions() {
		ok, err := s.HasPermission(p, name, GuardAPI)
		require.NoError(t, err)
		assert.False(t, ok, name)
	}
}

func TestHasPermissionNilPrincipalFailsClosed(t *testing.T) {
	s := seededStore(t)
	ok, err := s.HasPermission(nil, "audit.index", GuardAPI)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasPermissionUnknownGuard(t *testing.T) {
	s := seededStore(t)
	_, err := s.HasPermission(principal(1, RoleGod), "audit.index", Guard("mobile"))
	assert.ErrorIs(t, err, ErrUnknownGuard)
}

func TestHasPermissionMatchesExactName(t *testing.T) {
	s := seededStore(t)
	tech := principal(2, RoleTech)

	ok, err := s.HasPermission(tech, "users.destroy", GuardAPI)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasPermission(tech, "users", GuardAPI)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.HasPermission(tech, "audit.show", GuardAPI)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasPermissionIsGuardScoped(t *testing.T) {
	s := NewStore(nil, GuardAPI, GuardWeb)
	_, err := s.EnsurePermission("audit.index", GuardWeb)
	require.NoError(t, err)
	_, err = s.EnsureRole(RoleAdmin, GuardWeb, "")
	require.NoError(t, err)
	require.NoError(t, s.AssignPermissions(RoleAdmin, GuardWeb, "audit.index"))

	p := &Principal{ID: 7, Status: StatusActive, Roles: []RoleRef{{Name: RoleAdmin, Guard: GuardWeb}}}

	ok, err := s.HasPermission(p, "audit.index", GuardWeb)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasPermission(p, "audit.index", GuardAPI)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEffectivePermissionsAreUnionOfRoles(t *testing.T) {
	s := seededStore(t)
	p := principal(3, RoleCustomer, RoleTech)

	got := s.PermissionsFor(p, GuardAPI)
	for _, name := range s.PermissionsForRole(RoleCustomer, GuardAPI) {
		assert.Contains(t, got, name)
	}
	for _, name := range s.PermissionsForRole(RoleTech, GuardAPI) {
		assert.Contains(t, got, name)
	}
	assert.NotContains(t, got, "audit.index")
}

func TestAssignPermissionsIsIdempotent(t *testing.T) {
	s := NewStore(nil, GuardAPI)
	_, err := s.EnsurePermission("audit.index", GuardAPI)
	require.NoError(t, err)
	_, err = s.EnsureRole("auditor", GuardAPI, "")
	require.NoError(t, err)

	require.NoError(t, s.AssignPermissions("auditor", GuardAPI, "audit.index"))
	require.NoError(t, s.AssignPermissions("auditor", GuardAPI, "audit.index", "audit.index"))

	assert.Equal(t, []string{"audit.index"}, s.PermissionsForRole("auditor", GuardAPI))
}

func TestAssignPermissionsSkipsUnknownNames(t *testing.T) {
	s := NewStore(nil, GuardAPI)
	_, err := s.EnsurePermission("audit.index", GuardAPI)
	require.NoError(t, err)
	_, err = s.EnsureRole("auditor", GuardAPI, "")
	require.NoError(t, err)

	require.NoError(t, s.AssignPermissions("auditor", GuardAPI, "audit.index", "audit.export"))
	assert.Equal(t, []string{"audit.index"}, s.PermissionsForRole("auditor", GuardAPI))
}

func TestAssignPermissionsUnknownRole(t *testing.T) {
	s := NewStore(nil, GuardAPI)
	err := s.AssignPermissions("ghost", GuardAPI, "audit.index")
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestPermissionsForUnknownRoleIsEmpty(t *testing.T) {
	s := seededStore(t)
	got := s.PermissionsForRole("ghost", GuardAPI)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGrantRoleDefaults(t *testing.T) {
	s := NewStore(nil, GuardAPI)
	god := s.GrantRoleDefaults(RoleGod)
	assert.ElementsMatch(t, shared.AllPermissions(), god)

	admin := s.GrantRoleDefaults(RoleAdmin)
	for _, reserved := range []string{"permissions.store", "permissions.update", "permissions.destroy", "roles.store", "roles.update", "roles.destroy"} {
		assert.NotContains(t, admin, reserved)
		assert.Contains(t, god, reserved)
	}
	assert.Contains(t, admin, "roles.index")
	assert.Contains(t, admin, "audit.index")
	assert.Contains(t, admin, "users.delete")
	assert.Contains(t, admin, "users.restore")

	tech := s.GrantRoleDefaults(RoleTech)
	assert.Contains(t, tech, "users.destroy")
	assert.NotContains(t, tech, "audit.show")
	assert.NotContains(t, tech, "users.delete")

	assert.Nil(t, s.GrantRoleDefaults("ghost"))

	// Callers get a copy.
	god[0] = "mutated"
	assert.NotContains(t, s.GrantRoleDefaults(RoleGod), "mutated")
}

func TestDeleteRoleCascades(t *testing.T) {
	s := seededStore(t)
	require.NoError(t, s.AssignRole(9, RoleTech, GuardAPI))
	require.NoError(t, s.AssignRole(9, RoleCustomer, GuardAPI))

	require.NoError(t, s.DeleteRole(RoleTech, GuardAPI))

	_, ok := s.Role(RoleTech, GuardAPI)
	assert.False(t, ok)
	assert.Empty(t, s.PermissionsForRole(RoleTech, GuardAPI))
	assert.Equal(t, []string{RoleCustomer}, s.RolesOf(9, GuardAPI))

	assert.ErrorIs(t, s.DeleteRole(RoleTech, GuardAPI), ErrRoleNotFound)
}

func TestDeletePermissionDetachesFromRoles(t *testing.T) {
	s := seededStore(t)
	require.NoError(t, s.DeletePermission("audit.index", GuardAPI))

	assert.NotContains(t, s.PermissionsForRole(RoleGod, GuardAPI), "audit.index")
	assert.NotContains(t, s.PermissionsForRole(RoleAdmin, GuardAPI), "audit.index")
	require.NoError(t, s.AssignPermissions(RoleGod, GuardAPI, "audit.index"))
	assert.NotContains(t, s.PermissionsForRole(RoleGod, GuardAPI), "audit.index")
}

func TestSyncRolesIsAllOrNothing(t *testing.T) {
	s := seededStore(t)
	require.NoError(t, s.SyncRoles(4, GuardAPI, RoleCustomer))

	err := s.SyncRoles(4, GuardAPI, RoleTech, "ghost")
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.Equal(t, []string{RoleCustomer}, s.RolesOf(4, GuardAPI))

	require.NoError(t, s.SyncRoles(4, GuardAPI, RoleTech, RoleAdmin))
	assert.Equal(t, []string{RoleAdmin, RoleTech}, s.RolesOf(4, GuardAPI))

	p := &Principal{ID: 4}
	s.Hydrate(p)
	assert.True(t, p.HasRole(RoleAdmin, GuardAPI))
	assert.False(t, p.HasRole(RoleCustomer, GuardAPI))
}

func TestSyncRolesBumpsVersionOnlyOnChange(t *testing.T) {
	s := seededStore(t)
	require.NoError(t, s.SyncRoles(4, GuardAPI, RoleCustomer, RoleGuest))
	v := s.Version()

	require.NoError(t, s.SyncRoles(4, GuardAPI, RoleGuest, RoleCustomer, RoleGuest))
	assert.Equal(t, v, s.Version())

	require.NoError(t, s.SyncRoles(99, GuardAPI))
	assert.Equal(t, v, s.Version())

	require.NoError(t, s.SyncRoles(4, GuardAPI, RoleCustomer))
	assert.Greater(t, s.Version(), v)
	assert.Equal(t, []string{RoleCustomer}, s.RolesOf(4, GuardAPI))
}

func TestSnapshotReplaceRoundTrip(t *testing.T) {
	src := seededStore(t)
	require.NoError(t, src.AssignRole(11, RoleAdmin, GuardAPI))

	dst := NewStore(nil, GuardAPI)
	dst.Replace(src.Snapshot())

	for _, tier := range DefaultCatalog().Tiers() {
		assert.Equal(t, src.PermissionsForRole(tier, GuardAPI), dst.PermissionsForRole(tier, GuardAPI), tier)
	}
	assert.Equal(t, []string{RoleAdmin}, dst.RolesOf(11, GuardAPI))
	assert.Greater(t, dst.Version(), uint64(0))

	// New rows do not collide with replaced ids.
	perm, err := dst.EnsurePermission("reports.index", GuardAPI)
	require.NoError(t, err)
	for _, p := range src.Snapshot().Permissions {
		assert.NotEqual(t, p.ID, perm.ID)
	}
}

func TestReplaceDropsUnregisteredGuards(t *testing.T) {
	s := NewStore(nil, GuardAPI)
	s.Replace(Snapshot{
		Roles:       []Role{{ID: 1, Name: RoleAdmin, Guard: GuardAPI}, {ID: 2, Name: RoleAdmin, Guard: "mobile"}},
		Permissions: []Permission{{ID: 3, Name: "audit.index", Guard: GuardAPI}, {ID: 4, Name: "audit.index", Guard: "mobile"}},
		Assignments: []Assignment{{RoleID: 1, PermissionID: 3}, {RoleID: 2, PermissionID: 4}, {RoleID: 1, PermissionID: 4}},
	})

	assert.Len(t, s.Roles(GuardAPI), 1)
	assert.Equal(t, []string{"audit.index"}, s.PermissionsForRole(RoleAdmin, GuardAPI))
	assert.Empty(t, s.Roles("mobile"))
}
