package rbac

import (
	"sort"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Catalog maps role tiers to their default permission sets.
type Catalog map[string][]string

// DefaultCatalog returns the permission sets provisioned for each role tier.
func DefaultCatalog() Catalog {
	read := func(resources ...string) []string {
		out := make([]string, 0, len(resources)*2)
		for _, r := range resources {
			out = append(out, shared.Permission(r, shared.VerbIndex), shared.Permission(r, shared.VerbShow))
		}
		return out
	}

	all := shared.AllPermissions()

	// Permission-manager writes stay with god: whoever can create, rewrite or
	// delete roles can strip the god tier from its holders.
	reserved := map[string]struct{}{}
	for _, r := range []string{shared.ResourceRoles, shared.ResourcePermissions} {
		for _, v := range []string{shared.VerbStore, shared.VerbUpdate, shared.VerbDestroy} {
			reserved[shared.Permission(r, v)] = struct{}{}
		}
	}
	admin := make([]string, 0, len(all))
	for _, p := range all {
		if _, ok := reserved[p]; !ok {
			admin = append(admin, p)
		}
	}

	tech := []string{
		shared.Permission(shared.ResourceUsers, shared.VerbIndex),
		shared.Permission(shared.ResourceUsers, shared.VerbShow),
		shared.Permission(shared.ResourceUsers, shared.VerbDestroy),
	}
	tech = append(tech, shared.CrudPermissions(
		shared.ResourcePages,
		shared.ResourceProducts,
		shared.ResourceCategories,
		shared.ResourceBrands,
		shared.ResourceWarehouses,
		shared.ResourceStocks,
	)...)

	customer := read(shared.ResourceProducts, shared.ResourceCategories, shared.ResourceBrands)
	customer = append(customer, shared.CrudPermissions(shared.ResourceCarts)...)
	customer = append(customer,
		shared.Permission(shared.ResourceOrders, shared.VerbIndex),
		shared.Permission(shared.ResourceOrders, shared.VerbShow),
		shared.Permission(shared.ResourceOrders, shared.VerbStore),
	)

	guest := read(shared.ResourceProducts, shared.ResourceCategories, shared.ResourceBrands, shared.ResourcePages)

	return Catalog{
		RoleGod:      all,
		RoleAdmin:    admin,
		RoleTech:     tech,
		RoleCustomer: customer,
		RoleGuest:    guest,
	}
}

// Tiers returns the role names in the catalog, highest tier first when known.
func (c Catalog) Tiers() []string {
	rank := map[string]int{RoleGod: 0, RoleAdmin: 1, RoleTech: 2, RoleCustomer: 3, RoleGuest: 4}
	out := make([]string, 0, len(c))
	for name := range c {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return out[i] < out[j]
	})
	return out
}

// Defaults returns a copy of the permission set for role; nil for unknown tiers.
func (c Catalog) Defaults(role string) []string {
	perms, ok := c[role]
	if !ok {
		return nil
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}
