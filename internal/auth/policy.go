package auth

import (
	"fmt"
	"strings"
)

// Policy combines required permissions.
type Policy int

const (
	// AnyOf passes when at least one required permission is held.
	AnyOf Policy = iota
	// AllOf passes only when every required permission is held.
	AllOf
)

func (p Policy) String() string {
	switch p {
	case AnyOf:
		return "any"
	case AllOf:
		return "all"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Requirement is the permission rule declared by a route.
type Requirement struct {
	Policy      Policy
	Permissions []string
}

// Any requires at least one of perms.
func Any(perms ...string) Requirement { return Requirement{Policy: AnyOf, Permissions: perms} }

// All requires every one of perms.
func All(perms ...string) Requirement { return Requirement{Policy: AllOf, Permissions: perms} }

// Check decides the requirement against an effective permission set. An empty
// requirement always passes.
func (r Requirement) Check(set PermissionSet) error {
	if len(r.Permissions) == 0 {
		return nil
	}
	switch r.Policy {
	case AnyOf:
		for _, p := range r.Permissions {
			if set.Has(p) {
				return nil
			}
		}
		return fmt.Errorf("%w: access denied, required permission: %s", ErrForbidden, strings.Join(r.Permissions, ", "))
	case AllOf:
		var missing []string
		for _, p := range r.Permissions {
			if !set.Has(p) {
				missing = append(missing, p)
			}
		}
		if len(missing) == 0 {
			return nil
		}
		return fmt.Errorf("%w: access denied, missing permission: %s", ErrForbidden, strings.Join(missing, ", "))
	default:
		return fmt.Errorf("%w: unknown policy %s", ErrForbidden, r.Policy)
	}
}

func (r Requirement) String() string {
	return r.Policy.String() + "(" + strings.Join(r.Permissions, ",") + ")"
}
