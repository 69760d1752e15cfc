package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateUserInput is the admin request to create an account.
type CreateUserInput struct {
	Username    string `json:"username" validate:"required,username"`
	Email       string `json:"email" validate:"required,email_address"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	Firstname   string `json:"firstname" validate:"required,min=2"`
	Lastname    string `json:"lastname" validate:"required,min=2"`
	Fullname    string `json:"fullname" validate:"max=255"`
	PhoneNumber string `json:"phone_number" validate:"max=20"`
	RoleIDs     IDList `json:"roleIds"`
	NIM         string `json:"nim" validate:"max=50"`
	Major       string `json:"major" validate:"max=255"`
	Faculty     string `json:"faculty" validate:"max=255"`
	RoomNumber  string `json:"room_number" validate:"max=50"`
	IsVerified  bool   `json:"is_verified"`
}

func (in *CreateUserInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.Firstname = strings.TrimSpace(in.Firstname)
	in.Lastname = strings.TrimSpace(in.Lastname)
	in.Fullname = strings.TrimSpace(in.Fullname)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	in.NIM = strings.TrimSpace(in.NIM)
	in.Major = strings.TrimSpace(in.Major)
	in.Faculty = strings.TrimSpace(in.Faculty)
	in.RoomNumber = strings.TrimSpace(in.RoomNumber)
}

// UpdateUserInput edits a user. Nil pointers keep the stored value; an
// explicit empty string clears optional columns.
type UpdateUserInput struct {
	Firstname   string  `json:"firstname" validate:"required,min=2"`
	Lastname    string  `json:"lastname" validate:"required,min=2"`
	Fullname    *string `json:"fullname" validate:"omitempty,max=255"`
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
	Email       *string `json:"email" validate:"omitempty,email_address"`
	Username    *string `json:"username" validate:"omitempty,username"`
	NIM         *string `json:"nim" validate:"omitempty,max=50"`
	Major       *string `json:"major" validate:"omitempty,max=255"`
	Faculty     *string `json:"faculty" validate:"omitempty,max=255"`
	RoomNumber  *string `json:"room_number" validate:"omitempty,max=50"`
	IsVerified  *bool   `json:"is_verified"`
}

func (in *UpdateUserInput) normalize() {
	in.Firstname = strings.TrimSpace(in.Firstname)
	in.Lastname = strings.TrimSpace(in.Lastname)
	for _, p := range []**string{&in.Fullname, &in.PhoneNumber, &in.NIM, &in.Major, &in.Faculty, &in.RoomNumber} {
		if *p != nil {
			v := strings.TrimSpace(**p)
			*p = &v
		}
	}
	if in.Email != nil {
		v := normalizeEmail(*in.Email)
		in.Email = nilIfEmpty(v)
	}
	if in.Username != nil {
		in.Username = nilIfEmpty(strings.TrimSpace(*in.Username))
	}
}

func (in UpdateUserInput) hasProfileFields() bool {
	return (in.NIM != nil && *in.NIM != "") || in.Major != nil || in.Faculty != nil || in.RoomNumber != nil || in.IsVerified != nil
}

// ResetPasswordInput is the admin password reset request.
type ResetPasswordInput struct {
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// UpdateRoleInput edits role details.
type UpdateRoleInput struct {
	Name      string `json:"name" validate:"required,max=100"`
	GuardName string `json:"guard_name" validate:"required,max=100"`
}

// BootstrapAdmin describes the superadmin account created on first start.
type BootstrapAdmin struct {
	Username string
	Email    string
	Password string
}

// RBACService manages users, roles and their assignments.
type RBACService struct {
	store    Store
	resolver *Resolver
	now      func() time.Time
}

// RBACOption configures RBACService behavior.
type RBACOption func(*RBACService)

// WithRBACClock overrides time source (useful for tests).
func WithRBACClock(fn func() time.Time) RBACOption {
	return func(s *RBACService) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewRBACService(store Store, resolver *Resolver, opts ...RBACOption) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	s := &RBACService{store: store, resolver: resolver, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RBACService) ListUsers(ctx context.Context, filter UserFilter) (UserPage, error) {
	filter.ListFilter = filter.ListFilter.Normalize()
	users, total, err := s.store.ListUsers(ctx, filter)
	if err != nil {
		return UserPage{}, err
	}
	if users == nil {
		users = []User{}
	}
	return UserPage{Users: users, Pagination: newPagination(filter.ListFilter, total)}, nil
}

func (s *RBACService) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, fmt.Errorf("%w: user not found", ErrNotFound)
		}
		return User{}, err
	}
	if user.Roles == nil {
		user.Roles = []Role{}
	}
	return user, nil
}

func (s *RBACService) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	in.normalize()
	if err := validateStruct(in); err != nil {
		return User{}, err
	}
	roles, err := s.lookupRoles(ctx, in.RoleIDs, "roleIds")
	if err != nil {
		return User{}, err
	}
	student := false
	roleIDs := make([]int64, 0, len(roles))
	for _, r := range roles {
		roleIDs = append(roleIDs, r.ID)
		if r.Name == RoleStudent {
			student = true
		}
	}
	if err := ensureUnique(ctx, s.store, in.Email, in.Username, ""); err != nil {
		return User{}, err
	}
	if student && in.NIM != "" {
		if err := s.ensureNIMFree(ctx, in.NIM, ""); err != nil {
			return User{}, err
		}
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	fullname := in.Fullname
	if fullname == "" {
		fullname = in.Firstname + " " + in.Lastname
	}
	nu := NewUser{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Firstname:    in.Firstname,
		Lastname:     in.Lastname,
		Fullname:     &fullname,
		PhoneNumber:  nilIfEmpty(NormalizePhone(in.PhoneNumber)),
		RoleIDs:      roleIDs,
		CreatedAt:    s.now().UTC(),
	}
	if student {
		verified := in.IsVerified
		nu.Profile = &ProfilePatch{
			NIM:        nilIfEmpty(in.NIM),
			Major:      nilIfEmpty(in.Major),
			Faculty:    nilIfEmpty(in.Faculty),
			RoomNumber: nilIfEmpty(in.RoomNumber),
			IsVerified: &verified,
		}
	}
	return s.store.CreateUser(ctx, nu)
}

func (s *RBACService) UpdateUser(ctx context.Context, id string, in UpdateUserInput) (User, error) {
	in.normalize()
	if err := validateStruct(in); err != nil {
		return User{}, err
	}
	existing, err := s.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}

	upd := UserUpdate{
		Username:    existing.Username,
		Email:       existing.Email,
		Firstname:   in.Firstname,
		Lastname:    in.Lastname,
		Fullname:    existing.Fullname,
		PhoneNumber: existing.PhoneNumber,
		UpdatedAt:   s.now().UTC(),
	}
	var email, username string
	if in.Email != nil && *in.Email != existing.Email {
		email = *in.Email
		upd.Email = email
	}
	if in.Username != nil && *in.Username != existing.Username {
		username = *in.Username
		upd.Username = username
	}
	if err := ensureUnique(ctx, s.store, email, username, existing.ID); err != nil {
		return User{}, err
	}
	if in.Fullname != nil {
		upd.Fullname = nilIfEmpty(*in.Fullname)
	}
	if in.PhoneNumber != nil {
		upd.PhoneNumber = nilIfEmpty(NormalizePhone(*in.PhoneNumber))
	}

	student := existing.HasRole(RoleStudent)
	if in.hasProfileFields() && !student {
		return User{}, fmt.Errorf("%w: user profile can only be set for users with the %s role", ErrInvalidInput, RoleStudent)
	}
	if student {
		if in.NIM != nil && *in.NIM != "" {
			if err := s.ensureNIMFree(ctx, *in.NIM, existing.ID); err != nil {
				return User{}, err
			}
		}
		upd.Profile = &ProfilePatch{
			NIM:        in.NIM,
			Major:      in.Major,
			Faculty:    in.Faculty,
			RoomNumber: in.RoomNumber,
			IsVerified: in.IsVerified,
		}
	}
	return s.store.UpdateUser(ctx, existing.ID, upd)
}

// SetUserRoles replaces every role of the user with roleIDs.
func (s *RBACService) SetUserRoles(ctx context.Context, userID string, roleIDs IDList) ([]Role, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles, err := s.lookupRoles(ctx, roleIDs, "role_ids")
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
	}
	updated, err := s.store.SetUserRoles(ctx, user.ID, ids)
	if err != nil {
		return nil, err
	}
	s.resolver.Invalidate(user.ID)
	if updated == nil {
		updated = []Role{}
	}
	return updated, nil
}

// DeleteUser soft-deletes the user, recording who deleted it.
func (s *RBACService) DeleteUser(ctx context.Context, id, deletedBy string) error {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user.Deleted() {
		return fmt.Errorf("%w: user is already deleted", ErrConflict)
	}
	if err := s.store.SoftDeleteUser(ctx, user.ID, deletedBy, s.now().UTC()); err != nil {
		return err
	}
	s.resolver.Invalidate(user.ID)
	return nil
}

// ForceDeleteUser removes the user with its role assignments and profile.
func (s *RBACService) ForceDeleteUser(ctx context.Context, id string) error {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, user.ID); err != nil {
		return err
	}
	s.resolver.Invalidate(user.ID)
	return nil
}

// VerifyEmail marks the user's email address as verified now.
func (s *RBACService) VerifyEmail(ctx context.Context, id string) (time.Time, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	at := s.now().UTC()
	if err := s.store.MarkEmailVerified(ctx, user.ID, at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// SendVerificationEmail returns the address a verification mail would go to.
// No mail is sent.
func (s *RBACService) SendVerificationEmail(ctx context.Context, id string) (string, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

func (s *RBACService) ResetPassword(ctx context.Context, id string, in ResetPasswordInput) error {
	if err := validateStruct(in); err != nil {
		return err
	}
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user.Deleted() {
		return fmt.Errorf("%w: cannot reset the password of a deleted user", ErrConflict)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(ctx, user.ID, hash, s.now().UTC())
}

func (s *RBACService) ListRoles(ctx context.Context, filter ListFilter) (RolePage, error) {
	filter = filter.Normalize()
	roles, total, err := s.store.ListRoles(ctx, filter)
	if err != nil {
		return RolePage{}, err
	}
	if roles == nil {
		roles = []RoleDetail{}
	}
	return RolePage{Roles: roles, Pagination: newPagination(filter, total)}, nil
}

func (s *RBACService) GetRole(ctx context.Context, id string) (RoleDetail, error) {
	roleID, err := parseID(id)
	if err != nil {
		return RoleDetail{}, fmt.Errorf("%w: invalid role id", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RoleDetail{}, fmt.Errorf("%w: role not found", ErrNotFound)
		}
		return RoleDetail{}, err
	}
	return role, nil
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []Permission{}
	}
	return perms, nil
}

func (s *RBACService) UpdateRole(ctx context.Context, id string, in UpdateRoleInput) (Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.GuardName = strings.TrimSpace(in.GuardName)
	if err := validateStruct(in); err != nil {
		return Role{}, err
	}
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	existing, err := s.store.RoleByName(ctx, in.Name)
	switch {
	case err == nil && existing.ID != role.ID:
		return Role{}, fmt.Errorf("%w: role name is already in use", ErrConflict)
	case err != nil && !errors.Is(err, ErrNotFound):
		return Role{}, err
	}
	return s.store.UpdateRole(ctx, role.ID, in.Name, in.GuardName, s.now().UTC())
}

// SetRolePermissions replaces every permission of the role with permissionIDs.
func (s *RBACService) SetRolePermissions(ctx context.Context, roleID string, permissionIDs IDList) ([]Permission, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	ids, err := permissionIDs.Int64s("permission_ids")
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		found, err := s.store.PermissionsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(found) != len(ids) {
			return nil, fmt.Errorf("%w: some permissions were not found", ErrInvalidInput)
		}
	}
	perms, err := s.store.SetRolePermissions(ctx, role.ID, ids)
	if err != nil {
		return nil, err
	}
	s.resolver.InvalidateAll()
	if perms == nil {
		perms = []Permission{}
	}
	return perms, nil
}

// EnsureBuiltins creates the builtin roles and permissions, grants every
// permission to the superadmin role and creates admin when it is missing.
func (s *RBACService) EnsureBuiltins(ctx context.Context, admin *BootstrapAdmin) error {
	if err := s.store.EnsurePermissions(ctx, BuiltinPermissions); err != nil {
		return fmt.Errorf("ensure permissions: %w", err)
	}
	if err := s.store.EnsureRoles(ctx, BuiltinRoles); err != nil {
		return fmt.Errorf("ensure roles: %w", err)
	}
	super, err := s.store.RoleByName(ctx, RoleSuperAdmin)
	if err != nil {
		return fmt.Errorf("load %s role: %w", RoleSuperAdmin, err)
	}
	all, err := s.store.ListPermissions(ctx)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(all))
	for _, p := range all {
		ids = append(ids, p.ID)
	}
	if _, err := s.store.SetRolePermissions(ctx, super.ID, ids); err != nil {
		return fmt.Errorf("grant %s permissions: %w", RoleSuperAdmin, err)
	}
	s.resolver.InvalidateAll()

	if admin == nil || strings.TrimSpace(admin.Email) == "" {
		return nil
	}
	email := normalizeEmail(admin.Email)
	if _, err := s.store.FindUserByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	username := strings.TrimSpace(admin.Username)
	if username == "" {
		username = RoleSuperAdmin
	}
	_, err = s.CreateUser(ctx, CreateUserInput{
		Username:  username,
		Email:     email,
		Password:  admin.Password,
		Firstname: "Super",
		Lastname:  "Admin",
		RoleIDs:   IDList{fmt.Sprint(super.ID)},
	})
	if err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	return nil
}

func (s *RBACService) lookupRoles(ctx context.Context, raw IDList, field string) ([]Role, error) {
	ids, err := raw.Int64s(field)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	roles, err := s.store.RolesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(roles) != len(ids) {
		return nil, fmt.Errorf("%w: some roles were not found", ErrInvalidInput)
	}
	return roles, nil
}

func (s *RBACService) ensureNIMFree(ctx context.Context, nim, exceptUserID string) error {
	taken, err := s.store.NIMTaken(ctx, nim, exceptUserID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: nim is already in use", ErrConflict)
	}
	return nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
