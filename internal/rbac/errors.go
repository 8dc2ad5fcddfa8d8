package rbac

import "errors"

var (
	// ErrUnknownAction is returned when an authorizer is invoked with a verb it does not recognise.
	ErrUnknownAction = errors.New("rbac: unknown action verb")
	// ErrUnknownGuard is returned for lookups against an unregistered guard.
	ErrUnknownGuard = errors.New("rbac: unknown guard")
	// ErrRoleNotFound indicates the requested role is not defined in the guard.
	ErrRoleNotFound = errors.New("rbac: role not found")
	// ErrInvalidDefinition indicates a malformed role or permission definition.
	ErrInvalidDefinition = errors.New("rbac: invalid definition")
)

// DeniedError carries a deny decision through layers that return errors.
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	return "rbac: " + e.Decision.String()
}

// Denied wraps d as an error.
func Denied(d Decision) error {
	return &DeniedError{Decision: d}
}
