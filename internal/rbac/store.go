package rbac

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// Assignment ties a permission to a role.
type Assignment struct {
	RoleID       int64
	PermissionID int64
}

// UserRole links a principal to a role.
type UserRole struct {
	UserID int64
	RoleID int64
}

// Snapshot is the full persisted RBAC state.
type Snapshot struct {
	Roles       []Role
	Permissions []Permission
	Assignments []Assignment
	UserRoles   []UserRole
}

type key struct {
	name  string
	guard Guard
}

// Store is the in-memory index of roles, permissions and their associations.
// Removing a role or permission removes its association entries explicitly.
type Store struct {
	mu      sync.RWMutex
	catalog Catalog

	guards      map[Guard]struct{}
	roles       map[key]*Role
	permissions map[key]*Permission
	rolePerms   map[key]map[string]struct{}
	userRoles   map[int64]map[key]struct{}

	nextID  int64
	version uint64
}

// NewStore builds an empty store with the given default catalog and guards.
func NewStore(catalog Catalog, guards ...Guard) *Store {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	s := &Store{
		catalog:     catalog,
		guards:      make(map[Guard]struct{}, len(guards)),
		roles:       make(map[key]*Role),
		permissions: make(map[key]*Permission),
		rolePerms:   make(map[key]map[string]struct{}),
		userRoles:   make(map[int64]map[key]struct{}),
	}
	for _, g := range guards {
		s.guards[g] = struct{}{}
	}
	return s
}

// RegisterGuard adds a guard scope.
func (s *Store) RegisterGuard(g Guard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guards[g] = struct{}{}
}

// Guards lists registered guards in name order.
func (s *Store) Guards() []Guard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Guard, 0, len(s.guards))
	for g := range s.guards {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckGuard returns ErrUnknownGuard when g is not registered.
func (s *Store) CheckGuard(g Guard) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkGuardLocked(g)
}

func (s *Store) checkGuardLocked(g Guard) error {
	if _, ok := s.guards[g]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownGuard, g)
	}
	return nil
}

// Version increments on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// EnsurePermission returns the permission, creating it when missing.
func (s *Store) EnsurePermission(name string, guard Guard) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, fmt.Errorf("%w: permission name required", ErrInvalidDefinition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkGuardLocked(guard); err != nil {
		return Permission{}, err
	}
	k := key{name, guard}
	if p, ok := s.permissions[k]; ok {
		return *p, nil
	}
	s.nextID++
	p := &Permission{ID: s.nextID, Name: name, Guard: guard}
	s.permissions[k] = p
	s.version++
	return *p, nil
}

// EnsureRole returns the role, creating it when missing.
func (s *Store) EnsureRole(name string, guard Guard, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", ErrInvalidDefinition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkGuardLocked(guard); err != nil {
		return Role{}, err
	}
	k := key{name, guard}
	if r, ok := s.roles[k]; ok {
		return *r, nil
	}
	s.nextID++
	now := time.Now().UTC()
	r := &Role{ID: s.nextID, Name: name, Guard: guard, Description: strings.TrimSpace(description), CreatedAt: now, UpdatedAt: now}
	s.roles[k] = r
	s.rolePerms[k] = make(map[string]struct{})
	s.version++
	return *r, nil
}

// Role looks up a role by name.
func (s *Store) Role(name string, guard Guard) (Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[key{name, guard}]
	if !ok {
		return Role{}, false
	}
	return *r, true
}

// Roles lists the roles of guard ordered by name.
func (s *Store) Roles(guard Guard) []Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Role
	for k, r := range s.roles {
		if k.guard == guard {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Permissions lists the permissions of guard ordered by name.
func (s *Store) Permissions(guard Guard) []Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Permission
	for k, p := range s.permissions {
		if k.guard == guard {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasPermission reports whether any role p holds in guard grants exactly name.
// A nil principal never has a permission.
func (s *Store) HasPermission(p *Principal, name string, guard Guard) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkGuardLocked(guard); err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}
	for _, ref := range p.Roles {
		if ref.Guard != guard {
			continue
		}
		if _, ok := s.rolePerms[key{ref.Name, guard}][name]; ok {
			return true, nil
		}
	}
	return false, nil
}

// PermissionsFor returns the effective permission set of p in guard.
func (s *Store) PermissionsFor(p *Principal, guard Guard) []string {
	if p == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]struct{})
	for _, ref := range p.Roles {
		if ref.Guard != guard {
			continue
		}
		for name := range s.rolePerms[key{ref.Name, guard}] {
			set[name] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// PermissionsForRole returns the permission names bound to role, empty when the role is unknown.
func (s *Store) PermissionsForRole(role string, guard Guard) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.rolePerms[key{role, guard}])
}

// AssignPermissions associates permissions with role. Already-associated and
// unknown permission names are skipped.
func (s *Store) AssignPermissions(role string, guard Guard, names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, err := s.roleKeyLocked(role, guard)
	if err != nil {
		return err
	}
	set := s.rolePerms[k]
	changed := false
	for _, name := range names {
		if _, ok := s.permissions[key{name, guard}]; !ok {
			continue
		}
		if _, ok := set[name]; ok {
			continue
		}
		set[name] = struct{}{}
		changed = true
	}
	if changed {
		s.touchRoleLocked(k)
	}
	return nil
}

// RevokePermissions detaches permissions from role.
func (s *Store) RevokePermissions(role string, guard Guard, names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, err := s.roleKeyLocked(role, guard)
	if err != nil {
		return err
	}
	set := s.rolePerms[k]
	changed := false
	for _, name := range names {
		if _, ok := set[name]; ok {
			delete(set, name)
			changed = true
		}
	}
	if changed {
		s.touchRoleLocked(k)
	}
	return nil
}

// SyncPermissions replaces the permissions of role with the known subset of names.
func (s *Store) SyncPermissions(role string, guard Guard, names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, err := s.roleKeyLocked(role, guard)
	if err != nil {
		return err
	}
	next := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := s.permissions[key{name, guard}]; ok {
			next[name] = struct{}{}
		}
	}
	if !sameSet(s.rolePerms[k], next) {
		s.rolePerms[k] = next
		s.touchRoleLocked(k)
	}
	return nil
}

// GrantRoleDefaults returns the statically configured default permissions for a role tier.
func (s *Store) GrantRoleDefaults(role string) []string {
	return s.catalog.Defaults(role)
}

// DeleteRole removes role together with its permission associations and assignments.
func (s *Store) DeleteRole(role string, guard Guard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, err := s.roleKeyLocked(role, guard)
	if err != nil {
		return err
	}
	delete(s.roles, k)
	delete(s.rolePerms, k)
	for _, held := range s.userRoles {
		delete(held, k)
	}
	s.version++
	return nil
}

// DeletePermission removes a permission and detaches it from every role of the guard.
func (s *Store) DeletePermission(name string, guard Guard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkGuardLocked(guard); err != nil {
		return err
	}
	k := key{name, guard}
	if _, ok := s.permissions[k]; !ok {
		return nil
	}
	delete(s.permissions, k)
	for rk, set := range s.rolePerms {
		if rk.guard == guard {
			delete(set, name)
		}
	}
	s.version++
	return nil
}

// AssignRole gives principalID the role.
func (s *Store) AssignRole(principalID int64, role string, guard Guard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, err := s.roleKeyLocked(role, guard)
	if err != nil {
		return err
	}
	held := s.userRoles[principalID]
	if held == nil {
		held = make(map[key]struct{})
		s.userRoles[principalID] = held
	}
	if _, ok := held[k]; !ok {
		held[k] = struct{}{}
		s.version++
	}
	return nil
}

// RemoveRole takes the role away from principalID.
func (s *Store) RemoveRole(principalID int64, role string, guard Guard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{role, guard}
	if _, ok := s.userRoles[principalID][k]; ok {
		delete(s.userRoles[principalID], k)
		s.version++
	}
}

// SyncRoles replaces the roles principalID holds in guard. Unknown roles fail
// the whole call.
func (s *Store) SyncRoles(principalID int64, guard Guard, roles ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[key]struct{}, len(roles))
	for _, role := range roles {
		k, err := s.roleKeyLocked(role, guard)
		if err != nil {
			return err
		}
		next[k] = struct{}{}
	}
	held := s.userRoles[principalID]
	current := make(map[key]struct{}, len(held))
	for k := range held {
		if k.guard == guard {
			current[k] = struct{}{}
		}
	}
	if maps.Equal(current, next) {
		return nil
	}
	if held == nil {
		held = make(map[key]struct{})
		s.userRoles[principalID] = held
	}
	for k := range current {
		delete(held, k)
	}
	for k := range next {
		held[k] = struct{}{}
	}
	s.version++
	return nil
}

// RolesOf lists the roles principalID holds in guard.
func (s *Store) RolesOf(principalID int64, guard Guard) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.userRoles[principalID] {
		if k.guard == guard {
			out = append(out, k.name)
		}
	}
	sort.Strings(out)
	return out
}

// Hydrate replaces p.Roles with the assignments recorded in the store.
func (s *Store) Hydrate(p *Principal) {
	if p == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := make([]RoleRef, 0, len(s.userRoles[p.ID]))
	for k := range s.userRoles[p.ID] {
		refs = append(refs, RoleRef{Name: k.name, Guard: k.guard})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Guard != refs[j].Guard {
			return refs[i].Guard < refs[j].Guard
		}
		return refs[i].Name < refs[j].Name
	})
	p.Roles = refs
}

// Snapshot exports the store contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snap Snapshot
	for _, r := range s.roles {
		snap.Roles = append(snap.Roles, *r)
	}
	for _, p := range s.permissions {
		snap.Permissions = append(snap.Permissions, *p)
	}
	for rk, set := range s.rolePerms {
		role := s.roles[rk]
		for name := range set {
			snap.Assignments = append(snap.Assignments, Assignment{RoleID: role.ID, PermissionID: s.permissions[key{name, rk.guard}].ID})
		}
	}
	for uid, held := range s.userRoles {
		for k := range held {
			snap.UserRoles = append(snap.UserRoles, UserRole{UserID: uid, RoleID: s.roles[k].ID})
		}
	}
	sort.Slice(snap.Roles, func(i, j int) bool { return snap.Roles[i].ID < snap.Roles[j].ID })
	sort.Slice(snap.Permissions, func(i, j int) bool { return snap.Permissions[i].ID < snap.Permissions[j].ID })
	sort.Slice(snap.Assignments, func(i, j int) bool {
		if snap.Assignments[i].RoleID != snap.Assignments[j].RoleID {
			return snap.Assignments[i].RoleID < snap.Assignments[j].RoleID
		}
		return snap.Assignments[i].PermissionID < snap.Assignments[j].PermissionID
	})
	sort.Slice(snap.UserRoles, func(i, j int) bool {
		if snap.UserRoles[i].UserID != snap.UserRoles[j].UserID {
			return snap.UserRoles[i].UserID < snap.UserRoles[j].UserID
		}
		return snap.UserRoles[i].RoleID < snap.UserRoles[j].RoleID
	})
	return snap
}

// Replace swaps the store contents for snap. Rows belonging to unregistered
// guards and associations pointing at missing rows are dropped.
func (s *Store) Replace(snap Snapshot) {
	roles := make(map[key]*Role, len(snap.Roles))
	rolesByID := make(map[int64]key, len(snap.Roles))
	perms := make(map[key]*Permission, len(snap.Permissions))
	permsByID := make(map[int64]*Permission, len(snap.Permissions))
	rolePerms := make(map[key]map[string]struct{}, len(snap.Roles))
	userRoles := make(map[int64]map[key]struct{})
	var maxID int64

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range snap.Roles {
		r := snap.Roles[i]
		if _, ok := s.guards[r.Guard]; !ok {
			continue
		}
		k := key{r.Name, r.Guard}
		roles[k] = &r
		rolesByID[r.ID] = k
		rolePerms[k] = make(map[string]struct{})
		maxID = max(maxID, r.ID)
	}
	for i := range snap.Permissions {
		p := snap.Permissions[i]
		if _, ok := s.guards[p.Guard]; !ok {
			continue
		}
		perms[key{p.Name, p.Guard}] = &p
		permsByID[p.ID] = &p
		maxID = max(maxID, p.ID)
	}
	for _, a := range snap.Assignments {
		rk, ok := rolesByID[a.RoleID]
		if !ok {
			continue
		}
		p, ok := permsByID[a.PermissionID]
		if !ok || p.Guard != rk.guard {
			continue
		}
		rolePerms[rk][p.Name] = struct{}{}
	}
	for _, ur := range snap.UserRoles {
		rk, ok := rolesByID[ur.RoleID]
		if !ok {
			continue
		}
		held := userRoles[ur.UserID]
		if held == nil {
			held = make(map[key]struct{})
			userRoles[ur.UserID] = held
		}
		held[rk] = struct{}{}
	}

	s.roles = roles
	s.permissions = perms
	s.rolePerms = rolePerms
	s.userRoles = userRoles
	s.nextID = max(s.nextID, maxID)
	s.version++
}

func (s *Store) roleKeyLocked(role string, guard Guard) (key, error) {
	if err := s.checkGuardLocked(guard); err != nil {
		return key{}, err
	}
	k := key{role, guard}
	if _, ok := s.roles[k]; !ok {
		return key{}, fmt.Errorf("%w: %s (%s)", ErrRoleNotFound, role, guard)
	}
	return k, nil
}

func (s *Store) touchRoleLocked(k key) {
	s.roles[k].UpdatedAt = time.Now().UTC()
	s.version++
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
