package auth

const (
	RoleSuperAdmin = "superadmin"
	RoleOperator   = "operator"
	RoleSupervisor = "supervisor"
	// RoleStudent holders carry a user profile.
	RoleStudent = "mahasiswa"

	DefaultGuard = "web"
)

const (
	PermViewUser           = "view_user"
	PermViewAnyUser        = "view_any_user"
	PermCreateUser         = "create_user"
	PermUpdateUser         = "update_user"
	PermDeleteUser         = "delete_user"
	PermDeleteAnyUser      = "delete_any_user"
	PermRestoreUser        = "restore_user"
	PermRestoreAnyUser     = "restore_any_user"
	PermForceDeleteUser    = "force_delete_user"
	PermForceDeleteAnyUser = "force_delete_any_user"

	PermViewRole      = "view_role"
	PermViewAnyRole   = "view_any_role"
	PermCreateRole    = "create_role"
	PermUpdateRole    = "update_role"
	PermDeleteRole    = "delete_role"
	PermDeleteAnyRole = "delete_any_role"
)

// BuiltinRoles are created on startup when missing.
var BuiltinRoles = []Role{
	{Name: RoleSuperAdmin, GuardName: DefaultGuard},
	{Name: RoleOperator, GuardName: DefaultGuard},
	{Name: RoleSupervisor, GuardName: DefaultGuard},
	{Name: RoleStudent, GuardName: DefaultGuard},
}

// BuiltinPermissions are created on startup when missing.
var BuiltinPermissions = []Permission{
	{Name: PermViewUser, GuardName: DefaultGuard},
	{Name: PermViewAnyUser, GuardName: DefaultGuard},
	{Name: PermCreateUser, GuardName: DefaultGuard},
	{Name: PermUpdateUser, GuardName: DefaultGuard},
	{Name: PermDeleteUser, GuardName: DefaultGuard},
	{Name: PermDeleteAnyUser, GuardName: DefaultGuard},
	{Name: PermRestoreUser, GuardName: DefaultGuard},
	{Name: PermRestoreAnyUser, GuardName: DefaultGuard},
	{Name: PermForceDeleteUser, GuardName: DefaultGuard},
	{Name: PermForceDeleteAnyUser, GuardName: DefaultGuard},
	{Name: PermViewRole, GuardName: DefaultGuard},
	{Name: PermViewAnyRole, GuardName: DefaultGuard},
	{Name: PermCreateRole, GuardName: DefaultGuard},
	{Name: PermUpdateRole, GuardName: DefaultGuard},
	{Name: PermDeleteRole, GuardName: DefaultGuard},
	{Name: PermDeleteAnyRole, GuardName: DefaultGuard},
}
