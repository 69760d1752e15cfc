package auth

import (
	"context"
	"errors"
	"sort"
)

// PermissionSet is a set of permission names.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from permission records.
func NewPermissionSet(perms []Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p.Name] = struct{}{}
	}
	return set
}

// Has reports whether name is in the set.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the sorted member names.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolver computes effective permissions by walking user roles and each
// role's permissions on every call, unless a cache is attached.
type Resolver struct {
	graph RoleGraph
	cache *PermissionCache
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPermissionCache memoizes resolved permissions per user. Writers must
// call Invalidate or InvalidateAll after changing assignments.
func WithPermissionCache(c *PermissionCache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

func NewResolver(graph RoleGraph, opts ...ResolverOption) (*Resolver, error) {
	if graph == nil {
		return nil, errors.New("role graph is required")
	}
	r := &Resolver{graph: graph}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// EffectivePermissions returns the union of the permissions of all roles of
// the user, deduplicated by name in first-seen order.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) ([]Permission, error) {
	if perms, ok := r.cache.Get(userID); ok {
		return perms, nil
	}
	roles, err := r.graph.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	var all []Permission
	for _, role := range roles {
		list, err := r.graph.RolePermissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		all = append(all, list...)
	}
	perms := DedupePermissions(all)
	r.cache.Add(userID, perms)
	return perms, nil
}

// PermissionSet resolves the effective permissions of the user as a set.
func (r *Resolver) PermissionSet(ctx context.Context, userID string) (PermissionSet, error) {
	perms, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewPermissionSet(perms), nil
}

// Profile attaches the effective permissions of u.
func (r *Resolver) Profile(ctx context.Context, u User) (Profile, error) {
	perms, err := r.EffectivePermissions(ctx, u.ID)
	if err != nil {
		return Profile{}, err
	}
	if perms == nil {
		perms = []Permission{}
	}
	if u.Roles == nil {
		u.Roles = []Role{}
	}
	return Profile{User: u, Permissions: perms}, nil
}

// Invalidate drops the cached permissions of a single user.
func (r *Resolver) Invalidate(userID string) { r.cache.Remove(userID) }

// InvalidateAll drops every cached permission set.
func (r *Resolver) InvalidateAll() { r.cache.Purge() }

// DedupePermissions keeps the first permission seen for every name.
func DedupePermissions(perms []Permission) []Permission {
	if len(perms) == 0 {
		return []Permission{}
	}
	seen := make(map[string]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Roles returns the roles currently assigned to the user.
func (r *Resolver) Roles(ctx context.Context, userID string) ([]Role, error) {
	roles, err := r.graph.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []Role{}
	}
	return roles, nil
}
