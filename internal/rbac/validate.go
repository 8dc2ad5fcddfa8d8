package rbac

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

const (
	roleNameTag       = "required,max=64,rolename"
	permissionNameTag = "permission"
)

var (
	roleNamePattern       = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	permissionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*(\.[a-z][a-z0-9_-]*)+$`)
)

// NewValidator returns a validator with the "rolename" and "permission" tags registered.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("rolename", func(fl validator.FieldLevel) bool {
		return roleNamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation(permissionNameTag, func(fl validator.FieldLevel) bool {
		return permissionNamePattern.MatchString(fl.Field().String())
	})
	return v
}
