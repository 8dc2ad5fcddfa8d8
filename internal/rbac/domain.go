package rbac

import (
	"time"
)

// Guard partitions roles and permissions by credential domain ("api", "web").
type Guard string

const (
	// GuardAPI is the token-authenticated API guard.
	GuardAPI Guard = "api"
	// GuardWeb is the session-authenticated web guard.
	GuardWeb Guard = "web"
)

// Role tiers provisioned by default.
const (
	RoleGod      = "god"
	RoleAdmin    = "admin"
	RoleTech     = "tech"
	RoleCustomer = "customer"
	RoleGuest    = "guest"
)

// Role represents a named bundle of permissions inside a guard.
type Role struct {
	ID          int64
	Name        string
	Guard       Guard
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability, conventionally "<resource>.<verb>".
type Permission struct {
	ID    int64
	Name  string
	Guard Guard
}

// RoleRef names a role in a guard.
type RoleRef struct {
	Name  string `json:"name"`
	Guard Guard  `json:"guard"`
}

// Status is the lifecycle state of a principal account.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusBanned   Status = "banned"
)

// Principal describes the actor of a request and the roles it holds.
type Principal struct {
	ID        int64
	Status    Status
	Roles     []RoleRef
	DeletedAt *time.Time
}

// HasRole reports whether the principal holds the named role in guard.
func (p *Principal) HasRole(name string, guard Guard) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r.Name == name && r.Guard == guard {
			return true
		}
	}
	return false
}

// RoleNames returns the role names held in guard.
func (p *Principal) RoleNames(guard Guard) []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, r := range p.Roles {
		if r.Guard == guard {
			out = append(out, r.Name)
		}
	}
	return out
}

// IsDeleted reports whether the principal was soft-deleted.
func (p *Principal) IsDeleted() bool {
	return p != nil && p.DeletedAt != nil
}

// blockReason returns a non-empty reason when the principal must never be allowed.
func (p *Principal) blockReason() string {
	switch {
	case p.IsDeleted():
		return ReasonDeleted
	case p.Status == StatusBanned:
		return ReasonBanned
	case p.Status == StatusInactive:
		return ReasonInactive
	}
	return ""
}

func (*Principal) authzTarget() {}

// Content is a publishable target such as a page.
type Content struct {
	ID        int64
	Published bool
}

func (Content) authzTarget() {}

// Target is the optional entity an action applies to: a *Principal or a Content.
type Target interface {
	authzTarget()
}

// DenyKind distinguishes why a request was denied.
type DenyKind int

const (
	// DenyNone marks an allowed decision.
	DenyNone DenyKind = iota
	// DenyUnauthenticated means no principal was present.
	DenyUnauthenticated
	// DenyForbidden means the principal lacks permission or is blocked by a rule.
	DenyForbidden
)

// Deny reasons. They reference role tiers only and are safe to expose.
const (
	ReasonUnauthenticated   = "unauthenticated"
	ReasonMissingPermission = "missing permission"
	ReasonGodProtection     = "cannot remove a god-tier principal"
	ReasonTechVsAdmin       = "a tech-tier principal cannot remove an admin-tier principal"
	ReasonBanned            = "principal is banned"
	ReasonDeleted           = "principal is deleted"
	ReasonInactive          = "principal is inactive"
)

// Decision is the binary outcome of an authorization check.
type Decision struct {
	Allowed bool
	Kind    DenyKind
	Reason  string
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Forbid returns a forbidden decision with reason.
func Forbid(reason string) Decision {
	return Decision{Kind: DenyForbidden, Reason: reason}
}

// Unauthenticated returns the decision used when no principal is present.
func Unauthenticated() Decision {
	return Decision{Kind: DenyUnauthenticated, Reason: ReasonUnauthenticated}
}

func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	if d.Reason == "" {
		return "deny"
	}
	return "deny: " + d.Reason
}
