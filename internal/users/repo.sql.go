package users

const (
	selectUserColumns = `id, email, name, status, deleted_at, created_at, updated_at`

	getUserSQL = `SELECT ` + selectUserColumns + ` FROM users WHERE id = $1`

	listUsersSQL = `SELECT ` + selectUserColumns + ` FROM users
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::bool OR deleted_at IS NULL)
ORDER BY id
LIMIT $3 OFFSET $4`

	softDeleteUserSQL = `UPDATE users SET deleted_at = NOW(), updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL`

	restoreUserSQL = `UPDATE users SET deleted_at = NULL, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NOT NULL`

	detachUserRolesSQL = `DELETE FROM model_has_roles WHERE model_id = $1`

	upsertAccountSQL = `INSERT INTO users (email, name, password_hash, status, created_at, updated_at)
VALUES ($1, $2, $3, 'active', NOW(), NOW())
ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
RETURNING id`
)
