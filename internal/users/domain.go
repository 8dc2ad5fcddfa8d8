package users

import (
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// User represents a user account for management.
type User struct {
	ID        int64       `json:"id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Status    rbac.Status `json:"status"`
	DeletedAt *time.Time  `json:"deleted_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Account is a login provisioned by the seeder.
type Account struct {
	Email    string   `validate:"required,email"`
	Name     string   `validate:"required,max=120"`
	Password string   `validate:"required,min=8"`
	Roles    []string `validate:"dive,required"`
}

// ListFilter narrows ListUsers.
type ListFilter struct {
	Status         rbac.Status
	IncludeDeleted bool
	Limit          int
	Offset         int
}
