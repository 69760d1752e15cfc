package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	UserStore
	RoleStore
	PermissionStore
	RoleGraph
}

// UserReader loads single users with their roles and profile.
type UserReader interface {
	GetUser(ctx context.Context, id string) (User, error)
}

// UserStore manages users. Lookups return ErrNotFound for unknown ids,
// including soft-deleted rows only where noted by the filter.
type UserStore interface {
	UserReader
	CreateUser(ctx context.Context, u NewUser) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]User, int, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
	SetUserRoles(ctx context.Context, userID string, roleIDs []int64) ([]Role, error)
	SoftDeleteUser(ctx context.Context, id, deletedBy string, at time.Time) error
	DeleteUser(ctx context.Context, id string) error
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
	NIMTaken(ctx context.Context, nim, exceptUserID string) (bool, error)
}

// RoleStore manages roles and their permission sets.
type RoleStore interface {
	ListRoles(ctx context.Context, filter ListFilter) ([]RoleDetail, int, error)
	GetRole(ctx context.Context, id int64) (RoleDetail, error)
	RoleByName(ctx context.Context, name string) (Role, error)
	RolesByIDs(ctx context.Context, ids []int64) ([]Role, error)
	UpdateRole(ctx context.Context, id int64, name, guardName string, at time.Time) (Role, error)
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) ([]Permission, error)
	EnsureRoles(ctx context.Context, roles []Role) error
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error)
	EnsurePermissions(ctx context.Context, perms []Permission) error
}

// RoleGraph is the user -> role -> permission graph walked by the Resolver.
// UserRoles returns ErrNotFound when the user does not exist.
type RoleGraph interface {
	UserRoles(ctx context.Context, userID string) ([]Role, error)
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
}
