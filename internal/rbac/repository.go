package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Repository is the persistence port for RBAC state.
type Repository interface {
	LoadSnapshot(ctx context.Context) (Snapshot, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes available inside a provisioning transaction.
type TxRepository interface {
	UpsertPermission(ctx context.Context, name string, guard Guard) (Permission, error)
	UpsertRole(ctx context.Context, name string, guard Guard, description string) (Role, error)
	CreateRole(ctx context.Context, name string, guard Guard, description string) (Role, error)
	// SyncRolePermissions replaces the role's permissions with the existing
	// subset of names and returns that subset.
	SyncRolePermissions(ctx context.Context, roleID int64, guard Guard, names []string) ([]string, error)
	SyncUserRoles(ctx context.Context, userID int64, guard Guard, roles []string) error
	DeleteRole(ctx context.Context, name string, guard Guard) error
}

// PGRepository implements Repository on PostgreSQL using the role/permission
// tables roles, permissions, role_has_permissions and model_has_roles.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// LoadSnapshot reads the four RBAC tables concurrently.
func (r *PGRepository) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := r.pool.Query(ctx, `SELECT id, name, guard_name, description, created_at, updated_at FROM roles ORDER BY id`)
		if err != nil {
			return fmt.Errorf("rbac: load roles: %w", err)
		}
		snap.Roles, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Role, error) {
			var role Role
			err := row.Scan(&role.ID, &role.Name, &role.Guard, &role.Description, &role.CreatedAt, &role.UpdatedAt)
			return role, err
		})
		return err
	})
	g.Go(func() error {
		rows, err := r.pool.Query(ctx, `SELECT id, name, guard_name FROM permissions ORDER BY id`)
		if err != nil {
			return fmt.Errorf("rbac: load permissions: %w", err)
		}
		snap.Permissions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Permission, error) {
			var perm Permission
			err := row.Scan(&perm.ID, &perm.Name, &perm.Guard)
			return perm, err
		})
		return err
	})
	g.Go(func() error {
		rows, err := r.pool.Query(ctx, `SELECT role_id, permission_id FROM role_has_permissions`)
		if err != nil {
			return fmt.Errorf("rbac: load role permissions: %w", err)
		}
		snap.Assignments, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Assignment, error) {
			var a Assignment
			err := row.Scan(&a.RoleID, &a.PermissionID)
			return a, err
		})
		return err
	})
	g.Go(func() error {
		rows, err := r.pool.Query(ctx, `SELECT model_id, role_id FROM model_has_roles`)
		if err != nil {
			return fmt.Errorf("rbac: load user roles: %w", err)
		}
		snap.UserRoles, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (UserRole, error) {
			var ur UserRole
			err := row.Scan(&ur.UserID, &ur.RoleID)
			return ur, err
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// WithTx runs fn inside one transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) UpsertPermission(ctx context.Context, name string, guard Guard) (Permission, error) {
	var p Permission
	err := t.tx.QueryRow(ctx, `
		INSERT INTO permissions (name, guard_name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (name, guard_name) DO UPDATE SET updated_at = permissions.updated_at
		RETURNING id, name, guard_name`, name, string(guard)).Scan(&p.ID, &p.Name, &p.Guard)
	return p, err
}

func (t *pgTx) UpsertRole(ctx context.Context, name string, guard Guard, description string) (Role, error) {
	var role Role
	err := t.tx.QueryRow(ctx, `
		INSERT INTO roles (name, guard_name, description, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (name, guard_name) DO UPDATE SET description = EXCLUDED.description, updated_at = NOW()
		RETURNING id, name, guard_name, description, created_at, updated_at`, name, string(guard), description).
		Scan(&role.ID, &role.Name, &role.Guard, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

func (t *pgTx) CreateRole(ctx context.Context, name string, guard Guard, description string) (Role, error) {
	var role Role
	err := t.tx.QueryRow(ctx, `
		INSERT INTO roles (name, guard_name, description, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, name, guard_name, description, created_at, updated_at`, name, string(guard), description).
		Scan(&role.ID, &role.Name, &role.Guard, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Role{}, fmt.Errorf("rbac: role %s (%s): %w", name, guard, shared.ErrDuplicate)
		}
		return Role{}, err
	}
	return role, nil
}

func (t *pgTx) SyncRolePermissions(ctx context.Context, roleID int64, guard Guard, names []string) ([]string, error) {
	if names == nil {
		names = []string{}
	}
	if _, err := t.tx.Exec(ctx, `
		DELETE FROM role_has_permissions rp
		USING permissions p
		WHERE rp.permission_id = p.id AND rp.role_id = $1 AND NOT (p.name = ANY($2))`, roleID, names); err != nil {
		return nil, err
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO role_has_permissions (role_id, permission_id)
		SELECT $1, id FROM permissions WHERE guard_name = $2 AND name = ANY($3)
		ON CONFLICT DO NOTHING`, roleID, string(guard), names); err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(ctx, `
		SELECT p.name FROM role_has_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (t *pgTx) SyncUserRoles(ctx context.Context, userID int64, guard Guard, roles []string) error {
	if roles == nil {
		roles = []string{}
	}
	var known int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(DISTINCT name) FROM roles WHERE guard_name = $1 AND name = ANY($2)`, string(guard), roles).Scan(&known); err != nil {
		return err
	}
	if known != len(uniqueStrings(roles)) {
		return fmt.Errorf("%w: one of %v (%s)", ErrRoleNotFound, roles, guard)
	}
	if _, err := t.tx.Exec(ctx, `
		DELETE FROM model_has_roles mr
		USING roles r
		WHERE mr.role_id = r.id AND mr.model_id = $1 AND r.guard_name = $2`, userID, string(guard)); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO model_has_roles (role_id, model_id)
		SELECT id, $1 FROM roles WHERE guard_name = $2 AND name = ANY($3)
		ON CONFLICT DO NOTHING`, userID, string(guard), roles)
	return err
}

func (t *pgTx) DeleteRole(ctx context.Context, name string, guard Guard) error {
	var roleID int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1 AND guard_name = $2`, name, string(guard)).Scan(&roleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s (%s)", ErrRoleNotFound, name, guard)
		}
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM role_has_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM model_has_roles WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	return err
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
