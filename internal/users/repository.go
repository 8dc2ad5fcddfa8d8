package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetUser(ctx context.Context, id int64) (User, error)
	ListUsers(ctx context.Context, filter ListFilter) ([]User, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes available inside a transaction.
type TxRepository interface {
	SoftDelete(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error
	DetachRoles(ctx context.Context, id int64) error
	UpsertAccount(ctx context.Context, email, name, passwordHash string) (int64, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

// GetUser returns the user with id, soft-deleted or not.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	rows, err := r.pool.Query(ctx, getUserSQL, id)
	if err != nil {
		return User{}, err
	}
	user, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("users: %d: %w", id, shared.ErrNotFound)
	}
	return user, err
}

// ListUsers returns users ordered by id.
func (r *Repository) ListUsers(ctx context.Context, filter ListFilter) ([]User, error) {
	status := pgtype.Text{String: string(filter.Status), Valid: filter.Status != ""}
	rows, err := r.pool.Query(ctx, listUsersSQL, status, filter.IncludeDeleted, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanUser)
}

// WithTx runs fn inside one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, softDeleteUserSQL, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("users: %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) Restore(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, restoreUserSQL, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("users: %d not removed: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) DetachRoles(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, detachUserRolesSQL, id)
	return err
}

func (t *txRepository) UpsertAccount(ctx context.Context, email, name, passwordHash string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, upsertAccountSQL, email, name, passwordHash).Scan(&id)
	return id, err
}

func scanUser(row pgx.CollectableRow) (User, error) {
	var (
		u         User
		status    string
		deletedAt pgtype.Timestamptz
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &status, &deletedAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	u.Status = rbacStatus(status)
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return u, nil
}
