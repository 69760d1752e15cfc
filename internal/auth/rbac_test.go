package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newRBACFixture(t *testing.T) (*memStore, *RBACService, *Resolver) {
	t.Helper()
	store := newMemStore()
	store.seed(map[string][]string{RoleOperator: {PermViewUser}})
	resolver := mustResolver(t, store, WithPermissionCache(NewPermissionCache(16, time.Minute)))
	fixed := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	svc, err := NewRBACService(store, resolver, WithRBACClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}
	return store, svc, resolver
}

func roleRef(store *memStore, name string) string {
	return fmt.Sprint(store.roleID(name))
}

func TestRBACCreateStudentWithProfile(t *testing.T) {
	store, svc, _ := newRBACFixture(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, CreateUserInput{
		Username:    "dina",
		Email:       "Dina@Example.com",
		Password:    "secret123",
		Firstname:   "Dina",
		Lastname:    "Putri",
		PhoneNumber: "0812345",
		RoleIDs:     IDList{roleRef(store, RoleStudent)},
		NIM:         "2101",
		Major:       "Informatika",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Email != "dina@example.com" || user.PhoneNumber == nil || *user.PhoneNumber != "+62812345" {
		t.Fatalf("unexpected user %+v", user)
	}
	if !user.HasRole(RoleStudent) {
		t.Fatalf("expected student role, got %v", user.Roles)
	}
	if user.Profile == nil || user.Profile.NIM == nil || *user.Profile.NIM != "2101" {
		t.Fatalf("expected profile with nim, got %+v", user.Profile)
	}

	_, err = svc.CreateUser(ctx, CreateUserInput{
		Username: "dina2", Email: "dina2@example.com", Password: "secret123",
		Firstname: "Dina", Lastname: "Dua", RoleIDs: IDList{roleRef(store, RoleStudent)}, NIM: "2101",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected nim conflict, got %v", err)
	}
}

func TestRBACCreateNonStudentSkipsProfile(t *testing.T) {
	store, svc, _ := newRBACFixture(t)
	user, err := svc.CreateUser(context.Background(), CreateUserInput{
		Username: "opr", Email: "opr@example.com", Password: "secret123",
		Firstname: "Op", Lastname: "Erator", RoleIDs: IDList{roleRef(store, RoleOperator)}, NIM: "999",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Profile != nil {
		t.Fatalf("non student must not get a profile")
	}
	if user.Fullname == nil || *user.Fullname != "Op Erator" {
		t.Fatalf("expected default fullname, got %v", user.Fullname)
	}
}

func TestRBACCreateRejectsUnknownRoles(t *testing.T) {
	_, svc, _ := newRBACFixture(t)
	base := CreateUserInput{Username: "x_user", Email: "x@example.com", Password: "secret123", Firstname: "Xx", Lastname: "Yy"}

	in := base
	in.RoleIDs = IDList{"999"}
	if _, err := svc.CreateUser(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown role, got %v", err)
	}
	in.RoleIDs = IDList{"abc"}
	var verr *ValidationError
	if _, err := svc.CreateUser(context.Background(), in); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for malformed id, got %v", err)
	}
}

func TestRBACUpdateUser(t *testing.T) {
	store, svc, _ := newRBACFixture(t)
	store.addUser("u1", "alice", RoleOperator)
	store.addUser("u2", "bob", RoleOperator)
	ctx := context.Background()

	user, err := svc.UpdateUser(ctx, "u1", UpdateUserInput{
		Firstname:   "Alice",
		Lastname:    "Liddell",
		Email:       strPtr("ALICE.new@example.com"),
		PhoneNumber: strPtr("0811"),
	})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if user.Email != "alice.new@example.com" || user.Username != "alice" || *user.PhoneNumber != "+62811" {
		t.Fatalf("unexpected update %+v", user)
	}
	if !user.UpdatedAt.Equal(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected clock to stamp update, got %v", user.UpdatedAt)
	}

	_, err = svc.UpdateUser(ctx, "u1", UpdateUserInput{Firstname: "Alice", Lastname: "Liddell", Username: strPtr("bob")})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected username conflict, got %v", err)
	}
	_, err = svc.UpdateUser(ctx, "u1", UpdateUserInput{Firstname: "Alice", Lastname: "Liddell", Major: strPtr("Math")})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected profile rejection for non student, got %v", err)
	}
	_, err = svc.UpdateUser(ctx, "ghost", UpdateUserInput{Firstname: "Alice", Lastname: "Liddell"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRBACUpdateStudentProfile(t *testing.T) {
	store, svc, _ := newRBACFixture(t)
	store.addUser("s1", "sari", RoleStudent)
	ctx := context.Background()

	verified := true
	user, err := svc.UpdateUser(ctx, "s1", UpdateUserInput{
		Firstname: "Sari", Lastname: "Dewi", NIM: strPtr("3301"), RoomNumber: strPtr("A-12"), IsVerified: &verified,
	})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if user.Profile == nil || *user.Profile.NIM != "3301" || *user.Profile.RoomNumber != "A-12" || !user.Profile.IsVerified {
		t.Fatalf("unexpected profile %+v", user.Profile)
	}

	user, err = svc.UpdateUser(ctx, "s1", UpdateUserInput{Firstname: "Sari", Lastname: "Dewi", NIM: strPtr("")})
	if err != nil {
		t.Fatalf("UpdateUser clear nim: %v", err)
	}
	if user.Profile.NIM != nil {
		t.Fatalf("empty nim must be stored as null")
	}
}

func TestRBACSetUserRolesInvalidatesCache(t *testing.T) {
	store, svc, resolver := newRBACFixture(t)
	store.addUser("u1", "alice", RoleOperator)
	ctx := context.Background()

	set, err := resolver.PermissionSet(ctx, "u1")
	if err != nil || !set.Has(PermViewUser) {
		t.Fatalf("expected cached view_user, got %v (err %v)", set.Names(), err)
	}
	roles, err := svc.SetUserRoles(ctx, "u1", IDList{})
	if err != nil {
		t.Fatalf("SetUserRoles: %v", err)
	}
	if roles == nil || len(roles) != 0 {
		t.Fatalf("expected empty role list, got %#v", roles)
	}
	set, err = resolver.PermissionSet(ctx, "u1")
	if err != nil {
		t.Fatalf("PermissionSet: %v", err)
	}
	if set.Has(PermViewUser) {
		t.Fatalf("cache not invalidated after role change")
	}

	roles, err = svc.SetUserRoles(ctx, "u1", IDList{roleRef(store, RoleSupervisor), roleRef(store, RoleSupervisor)})
	if err != nil {
		t.Fatalf("SetUserRoles: %v", err)
	}
	if len(roles) != 1 || roles[0].Name != RoleSupervisor {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
	if _, err := svc.SetUserRoles(ctx, "ghost", IDList{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRBACDeleteUser(t *testing.T) {
	store, svc, _ := newRBACFixture(t)
	store.addUser("u1", "alice", RoleOperator)
	ctx := context.Background()

	if err := svc.DeleteUser(ctx, "u1", "root"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	user, err := svc.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !user.Deleted() || user.DeletedBy == nil || *user.DeletedBy != "root" {
		t.Fatalf("expected soft delete marker, got %+v", user)
	}
	if err := svc.DeleteUser(ctx, "u1", "root"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on second delete, got %v", err)
	}

	page, err := svc.ListUsers(ctx, UserFilter{Deleted: true})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if page.Pagination.Total != 1 || page.Users[0].ID != "u1" {
		t.Fatalf("expected deleted listing, got %+v", page)
	}

	if err := svc.ForceDeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("ForceDeleteUser: %v", err)
	}
	if _, err := svc.GetUser(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected user gone, got %v", err)
	}
	if err := svc.ForceDeleteUser(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRBACVerifyAndResetPassword(t *testing.T) {
	store, svc, _ := newRBACFixture(t)
	store.addUser("u1", "alice", RoleOperator)
	ctx := context.Background()

	at, err := svc.VerifyEmail(ctx, "u1")
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	user, _ := svc.GetUser(ctx, "u1")
	if user.EmailVerifiedAt == nil || !user.EmailVerifiedAt.Equal(at) {
		t.Fatalf("expected verification timestamp, got %v", user.EmailVerifiedAt)
	}
	email, err := svc.SendVerificationEmail(ctx, "u1")
	if err != nil || email != "alice@example.com" {
		t.Fatalf("SendVerificationEmail: %q %v", email, err)
	}

	err = svc.ResetPassword(ctx, "u1", ResetPasswordInput{Password: "newsecret1", ConfirmPassword: "different1"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["confirm_password"] == "" {
		t.Fatalf("expected confirm mismatch, got %v", err)
	}
	if err := svc.ResetPassword(ctx, "u1", ResetPasswordInput{Password: "newsecret1", ConfirmPassword: "newsecret1"}); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	user, _ = svc.GetUser(ctx, "u1")
	if err := VerifyPassword(user.PasswordHash, "newsecret1"); err != nil {
		t.Fatalf("password not updated: %v", err)
	}

	if err := store.SoftDeleteUser(ctx, "u1", "root", time.Now()); err != nil {
		t.Fatalf("SoftDeleteUser: %v", err)
	}
	err = svc.ResetPassword(ctx, "u1", ResetPasswordInput{Password: "newsecret2", ConfirmPassword: "newsecret2"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for deleted user, got %v", err)
	}
}

func TestRBACRoles(t *testing.T) {
	store, svc, resolver := newRBACFixture(t)
	store.addUser("u1", "alice", RoleOperator)
	ctx := context.Background()
	opID := roleRef(store, RoleOperator)

	role, err := svc.GetRole(ctx, opID)
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if role.PermissionsCount != 1 || role.UsersCount != 1 || role.Users[0].ID != "u1" {
		t.Fatalf("unexpected role detail %+v", role)
	}
	if _, err := svc.GetRole(ctx, "abc"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid id, got %v", err)
	}
	if _, err := svc.GetRole(ctx, "999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := svc.UpdateRole(ctx, opID, UpdateRoleInput{Name: RoleSupervisor, GuardName: DefaultGuard}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected name conflict, got %v", err)
	}
	updated, err := svc.UpdateRole(ctx, opID, UpdateRoleInput{Name: "staff", GuardName: "api"})
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if updated.Name != "staff" || updated.GuardName != "api" {
		t.Fatalf("unexpected role %+v", updated)
	}
	if _, err := svc.UpdateRole(ctx, opID, UpdateRoleInput{Name: "staff", GuardName: "api"}); err != nil {
		t.Fatalf("renaming to own name must pass: %v", err)
	}

	if _, err := resolver.PermissionSet(ctx, "u1"); err != nil {
		t.Fatalf("PermissionSet: %v", err)
	}
	createID := fmt.Sprint(store.permID(PermCreateUser))
	perms, err := svc.SetRolePermissions(ctx, opID, IDList{createID})
	if err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if len(perms) != 1 || perms[0].Name != PermCreateUser {
		t.Fatalf("unexpected permissions %v", perms)
	}
	set, err := resolver.PermissionSet(ctx, "u1")
	if err != nil {
		t.Fatalf("PermissionSet: %v", err)
	}
	if set.Has(PermViewUser) || !set.Has(PermCreateUser) {
		t.Fatalf("cache not purged after permission change: %v", set.Names())
	}
	if _, err := svc.SetRolePermissions(ctx, opID, IDList{"12345"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown permission rejection, got %v", err)
	}

	page, err := svc.ListRoles(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if page.Pagination.Limit != 10 || page.Pagination.Total != len(BuiltinRoles) {
		t.Fatalf("unexpected pagination %+v", page.Pagination)
	}
}

func TestRBACEnsureBuiltins(t *testing.T) {
	store := newMemStore()
	resolver := mustResolver(t, store)
	svc, err := NewRBACService(store, resolver)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}
	ctx := context.Background()
	admin := &BootstrapAdmin{Email: "Root@Example.com", Password: "rootpass1"}

	for i := 0; i < 2; i++ {
		if err := svc.EnsureBuiltins(ctx, admin); err != nil {
			t.Fatalf("EnsureBuiltins #%d: %v", i, err)
		}
	}
	perms, _ := store.ListPermissions(ctx)
	if len(perms) != len(BuiltinPermissions) {
		t.Fatalf("expected %d permissions, got %d", len(BuiltinPermissions), len(perms))
	}
	root, err := store.FindUserByEmail(ctx, "root@example.com")
	if err != nil {
		t.Fatalf("bootstrap admin missing: %v", err)
	}
	if !root.HasRole(RoleSuperAdmin) {
		t.Fatalf("bootstrap admin must be superadmin, got %v", root.Roles)
	}
	set, err := resolver.PermissionSet(ctx, root.ID)
	if err != nil {
		t.Fatalf("PermissionSet: %v", err)
	}
	for _, p := range BuiltinPermissions {
		if !set.Has(p.Name) {
			t.Fatalf("superadmin lacks %s", p.Name)
		}
	}
}
