package shared

// Resource types exposed by the ERP modules. Permission names are built as
// "<resource>.<verb>".
const (
	ResourceAudit       = "audit"
	ResourceUsers       = "users"
	ResourceRoles       = "roles"
	ResourcePermissions = "permissions"
	ResourcePages       = "pages"
	ResourceProducts    = "products"
	ResourceCategories  = "categories"
	ResourceBrands      = "brands"
	ResourceWarehouses  = "warehouses"
	ResourceStocks      = "stocks"
	ResourceSuppliers   = "suppliers"
	ResourcePurchases   = "purchases"
	ResourceCustomers   = "customers"
	ResourceSales       = "sales"
	ResourceCarts       = "carts"
	ResourceOrders      = "orders"
)

// Action verbs recognised by the authorizers.
const (
	VerbIndex   = "index"
	VerbShow    = "show"
	VerbStore   = "store"
	VerbUpdate  = "update"
	VerbDestroy = "destroy"
	VerbDelete  = "delete"
	VerbRestore = "restore"
)

// CrudVerbs are the verbs every resource is provisioned with.
func CrudVerbs() []string {
	return []string{VerbIndex, VerbShow, VerbStore, VerbUpdate, VerbDestroy}
}

// LifecycleVerbs are provisioned for soft-deletable resources only.
func LifecycleVerbs() []string {
	return []string{VerbDelete, VerbRestore}
}

// SoftDeletableResources lists resources carrying delete/restore permissions.
func SoftDeletableResources() []string {
	return []string{ResourceUsers}
}

// ModuleResources groups resource types by owning ERP module.
func ModuleResources() map[string][]string {
	return map[string][]string{
		"audit":              {ResourceAudit},
		"user":               {ResourceUsers},
		"permission_manager": {ResourceRoles, ResourcePermissions},
		"page_builder":       {ResourcePages},
		"product":            {ResourceProducts, ResourceCategories, ResourceBrands},
		"inventory":          {ResourceWarehouses, ResourceStocks},
		"purchase":           {ResourceSuppliers, ResourcePurchases},
		"sales":              {ResourceCustomers, ResourceSales},
		"ecommerce":          {ResourceCarts, ResourceOrders},
	}
}

// Resources lists every resource type in module order.
func Resources() []string {
	order := []string{"audit", "user", "permission_manager", "page_builder", "product", "inventory", "purchase", "sales", "ecommerce"}
	modules := ModuleResources()
	var out []string
	for _, m := range order {
		out = append(out, modules[m]...)
	}
	return out
}

// Permission joins a resource and verb into a permission name.
func Permission(resource, verb string) string {
	return resource + "." + verb
}

// CrudPermissions lists CRUD permissions for the given resources.
func CrudPermissions(resources ...string) []string {
	verbs := CrudVerbs()
	out := make([]string, 0, len(resources)*len(verbs))
	for _, r := range resources {
		for _, v := range verbs {
			out = append(out, Permission(r, v))
		}
	}
	return out
}

// LifecyclePermissions lists delete/restore permissions for the given resources.
func LifecyclePermissions(resources ...string) []string {
	verbs := LifecycleVerbs()
	out := make([]string, 0, len(resources)*len(verbs))
	for _, r := range resources {
		for _, v := range verbs {
			out = append(out, Permission(r, v))
		}
	}
	return out
}

// AllPermissions lists the CRUD permissions of every resource plus the
// lifecycle permissions of soft-deletable ones.
func AllPermissions() []string {
	return append(CrudPermissions(Resources()...), LifecyclePermissions(SoftDeletableResources()...)...)
}
