package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// RoleSpec declares a role and the permissions it should hold.
type RoleSpec struct {
	Name        string   `validate:"required,max=64,rolename"`
	Description string   `validate:"max=255"`
	Permissions []string `validate:"dive,permission"`
}

// PrincipalSpec declares the roles a user should hold.
type PrincipalSpec struct {
	UserID int64    `validate:"gt=0"`
	Roles  []string `validate:"dive,required,rolename"`
}

// GuardPlan is the desired state of one guard.
type GuardPlan struct {
	Guard       Guard           `validate:"required"`
	Permissions []string        `validate:"dive,permission"`
	Roles       []RoleSpec      `validate:"dive"`
	Principals  []PrincipalSpec `validate:"dive"`
}

// Plan is the desired RBAC state applied by Provision.
type Plan struct {
	Guards []GuardPlan `validate:"required,min=1,dive"`
}

// RoleReport lists the permissions a role ended up with.
type RoleReport struct {
	Guard       Guard
	Role        string
	Permissions []string
}

var tierDescriptions = map[string]string{
	RoleGod:      "Unrestricted access, including the permission manager",
	RoleAdmin:    "Full access to every ERP module",
	RoleTech:     "Technical staff: catalog, inventory, pages and user cleanup",
	RoleCustomer: "Storefront customer",
	RoleGuest:    "Anonymous storefront browsing",
}

// DefaultPlan builds the seed plan: every catalog permission and one role per
// catalog tier in each guard. accounts maps user ids to tier names.
func DefaultPlan(catalog Catalog, accounts map[int64][]string, guards ...Guard) Plan {
	var plan Plan
	userIDs := make([]int64, 0, len(accounts))
	for id := range accounts {
		userIDs = append(userIDs, id)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	for _, g := range guards {
		gp := GuardPlan{Guard: g, Permissions: shared.AllPermissions()}
		for _, tier := range catalog.Tiers() {
			gp.Roles = append(gp.Roles, RoleSpec{
				Name:        tier,
				Description: tierDescriptions[tier],
				Permissions: catalog.Defaults(tier),
			})
		}
		for _, id := range userIDs {
			gp.Principals = append(gp.Principals, PrincipalSpec{UserID: id, Roles: accounts[id]})
		}
		plan.Guards = append(plan.Guards, gp)
	}
	return plan
}

// Provision applies plan in a single transaction. Re-running the same plan
// converges to the same role→permission associations.
func (s *Service) Provision(ctx context.Context, actorID int64, plan Plan) ([]RoleReport, error) {
	if err := s.validate.Struct(plan); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDefinition, verrs[0].Namespace())
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	for _, gp := range plan.Guards {
		if err := s.store.CheckGuard(gp.Guard); err != nil {
			return nil, err
		}
	}

	var (
		reports []RoleReport
		events  []audit.Event
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reports, events = nil, nil
		for _, gp := range plan.Guards {
			for _, name := range uniqueStrings(gp.Permissions) {
				if _, err := tx.UpsertPermission(ctx, name, gp.Guard); err != nil {
					return fmt.Errorf("rbac: upsert permission %s: %w", name, err)
				}
			}
			for _, spec := range gp.Roles {
				role, err := tx.UpsertRole(ctx, spec.Name, gp.Guard, spec.Description)
				if err != nil {
					return fmt.Errorf("rbac: upsert role %s: %w", spec.Name, err)
				}
				applied, err := tx.SyncRolePermissions(ctx, role.ID, gp.Guard, uniqueStrings(spec.Permissions))
				if err != nil {
					return fmt.Errorf("rbac: sync role %s: %w", spec.Name, err)
				}
				reports = append(reports, RoleReport{Guard: gp.Guard, Role: spec.Name, Permissions: applied})
				events = append(events, audit.RoleEvent(actorID, audit.EventRoleProvisioned, string(gp.Guard), spec.Name, applied))
			}
			for _, ps := range gp.Principals {
				roles := uniqueStrings(ps.Roles)
				if err := tx.SyncUserRoles(ctx, ps.UserID, gp.Guard, roles); err != nil {
					return fmt.Errorf("rbac: assign user %d: %w", ps.UserID, err)
				}
				events = append(events, audit.UserEvent(actorID, audit.EventRolesAssigned, string(gp.Guard), strconv.FormatInt(ps.UserID, 10), roles))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, events...)
	return reports, nil
}
