package rbac

// HierarchyRule inspects an acting and a target principal and returns a
// non-empty reason when the action must be denied.
type HierarchyRule struct {
	Name  string
	Check func(acting, target *Principal, guard Guard) (reason string)
}

// GodProtection denies acting on a god-tier principal unless the actor is also god-tier.
var GodProtection = HierarchyRule{
	Name: "god-protection",
	Check: func(acting, target *Principal, guard Guard) string {
		if target.HasRole(RoleGod, guard) && !acting.HasRole(RoleGod, guard) {
			return ReasonGodProtection
		}
		return ""
	},
}

// TechVsAdmin denies a tech-tier principal acting on an admin-tier principal.
var TechVsAdmin = HierarchyRule{
	Name: "tech-vs-admin",
	Check: func(acting, target *Principal, guard Guard) string {
		if !target.HasRole(RoleAdmin, guard) {
			return ""
		}
		if acting.HasRole(RoleTech, guard) && !acting.HasRole(RoleAdmin, guard) && !acting.HasRole(RoleGod, guard) {
			return ReasonTechVsAdmin
		}
		return ""
	},
}

// HierarchyResolver applies precedence rules that a flat permission check cannot express.
type HierarchyResolver struct {
	rules []HierarchyRule
}

// NewHierarchyResolver returns a resolver evaluating rules in order. With no
// rules it uses GodProtection followed by TechVsAdmin.
func NewHierarchyResolver(rules ...HierarchyRule) *HierarchyResolver {
	if len(rules) == 0 {
		rules = []HierarchyRule{GodProtection, TechVsAdmin}
	}
	return &HierarchyResolver{rules: rules}
}

// EvaluateHierarchy returns the decision of the first matching rule, or Allow.
func (h *HierarchyResolver) EvaluateHierarchy(acting, target *Principal, guard Guard) Decision {
	if target == nil {
		return Allow()
	}
	for _, rule := range h.rules {
		if reason := rule.Check(acting, target, guard); reason != "" {
			return Forbid(reason)
		}
	}
	return Allow()
}
