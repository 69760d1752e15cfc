package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func init() {
	bcryptCost = bcrypt.MinCost
}

// memStore is an in-memory Store used by the package tests.
type memStore struct {
	mu        sync.Mutex
	users     map[string]*User
	roles     map[int64]*Role
	perms     map[int64]*Permission
	userRoles map[string][]int64
	rolePerms map[int64][]int64
	nextRole  int64
	nextPerm  int64

	userRoleCalls int
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[string]*User{},
		roles:     map[int64]*Role{},
		perms:     map[int64]*Permission{},
		userRoles: map[string][]int64{},
		rolePerms: map[int64][]int64{},
	}
}

// seed installs the builtin catalog and grants permissions per role name.
func (m *memStore) seed(grants map[string][]string) {
	_ = m.EnsurePermissions(context.Background(), BuiltinPermissions)
	_ = m.EnsureRoles(context.Background(), BuiltinRoles)
	for roleName, names := range grants {
		role, err := m.RoleByName(context.Background(), roleName)
		if err != nil {
			role = m.addRole(roleName)
		}
		var ids []int64
		for _, n := range names {
			ids = append(ids, m.permID(n))
		}
		m.mu.Lock()
		m.rolePerms[role.ID] = ids
		m.mu.Unlock()
	}
}

func (m *memStore) addRole(name string) Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRole++
	r := &Role{ID: m.nextRole, Name: name, GuardName: DefaultGuard}
	m.roles[r.ID] = r
	return *r
}

func (m *memStore) permID(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.perms {
		if p.Name == name {
			return id
		}
	}
	m.nextPerm++
	m.perms[m.nextPerm] = &Permission{ID: m.nextPerm, Name: name, GuardName: DefaultGuard}
	return m.nextPerm
}

func (m *memStore) roleID(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.roles {
		if r.Name == name {
			return id
		}
	}
	return 0
}

// addUser stores a user with the named roles and password "Password1".
func (m *memStore) addUser(id, username string, roles ...string) User {
	hash, err := HashPassword("Password1")
	if err != nil {
		panic(err)
	}
	var ids []int64
	for _, name := range roles {
		rid := m.roleID(name)
		if rid == 0 {
			rid = m.addRole(name).ID
		}
		ids = append(ids, rid)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.mu.Lock()
	m.users[id] = &User{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Firstname:    username,
		Lastname:     "Test",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.userRoles[id] = ids
	m.mu.Unlock()
	u, _ := m.GetUser(context.Background(), id)
	return u
}

func (m *memStore) hydrate(u User) User {
	u.Roles = []Role{}
	for _, rid := range m.userRoles[u.ID] {
		if r, ok := m.roles[rid]; ok {
			u.Roles = append(u.Roles, *r)
		}
	}
	return u
}

func (m *memStore) GetUser(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.hydrate(*u), nil
}

func (m *memStore) CreateUser(_ context.Context, nu NewUser) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == nu.Email || u.Username == nu.Username {
			return User{}, ErrConflict
		}
	}
	u := &User{
		ID:           nu.ID,
		Username:     nu.Username,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Firstname:    nu.Firstname,
		Lastname:     nu.Lastname,
		Fullname:     nu.Fullname,
		PhoneNumber:  nu.PhoneNumber,
		CreatedAt:    nu.CreatedAt,
		UpdatedAt:    nu.CreatedAt,
	}
	if nu.Profile != nil {
		u.Profile = applyProfile(nil, nu.Profile)
	}
	m.users[u.ID] = u
	m.userRoles[u.ID] = append([]int64(nil), nu.RoleIDs...)
	return m.hydrate(*u), nil
}

func applyProfile(p *UserProfile, patch *ProfilePatch) *UserProfile {
	if p == nil {
		p = &UserProfile{ID: 1}
	}
	if patch.NIM != nil {
		p.NIM = nilIfEmpty(*patch.NIM)
	}
	if patch.Major != nil {
		p.Major = patch.Major
	}
	if patch.Faculty != nil {
		p.Faculty = patch.Faculty
	}
	if patch.RoomNumber != nil {
		p.RoomNumber = patch.RoomNumber
	}
	if patch.IsVerified != nil {
		p.IsVerified = *patch.IsVerified
	}
	return p
}

func (m *memStore) FindUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return m.hydrate(*u), nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memStore) FindUserByUsername(_ context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return m.hydrate(*u), nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memStore) ListUsers(_ context.Context, f UserFilter) ([]User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []User
	for _, u := range m.users {
		if u.Deleted() != f.Deleted {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(u.Username+" "+u.Email), strings.ToLower(f.Search)) {
			continue
		}
		all = append(all, m.hydrate(*u))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *memStore) UpdateUser(_ context.Context, id string, upd UserUpdate) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	u.Username = upd.Username
	u.Email = upd.Email
	u.Firstname = upd.Firstname
	u.Lastname = upd.Lastname
	u.Fullname = upd.Fullname
	u.PhoneNumber = upd.PhoneNumber
	u.UpdatedAt = upd.UpdatedAt
	if upd.Profile != nil {
		u.Profile = applyProfile(u.Profile, upd.Profile)
	}
	return m.hydrate(*u), nil
}

func (m *memStore) SetUserRoles(_ context.Context, userID string, roleIDs []int64) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return nil, ErrNotFound
	}
	m.userRoles[userID] = append([]int64(nil), roleIDs...)
	return m.hydrate(*m.users[userID]).Roles, nil
}

func (m *memStore) SoftDeleteUser(_ context.Context, id, deletedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.DeletedAt = &at
	u.DeletedBy = &deletedBy
	return nil
}

func (m *memStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	delete(m.userRoles, id)
	return nil
}

func (m *memStore) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.EmailVerifiedAt = &at
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, id, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = at
	return nil
}

func (m *memStore) NIMTaken(_ context.Context, nim, exceptUserID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if id != exceptUserID && u.Profile != nil && u.Profile.NIM != nil && *u.Profile.NIM == nim {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) roleDetail(r Role) RoleDetail {
	d := RoleDetail{Role: r, Permissions: []Permission{}}
	for _, pid := range m.rolePerms[r.ID] {
		d.Permissions = append(d.Permissions, *m.perms[pid])
	}
	d.PermissionsCount = len(d.Permissions)
	for uid, rids := range m.userRoles {
		for _, rid := range rids {
			if rid == r.ID {
				d.UsersCount++
				u := m.users[uid]
				d.Users = append(d.Users, RoleMember{ID: u.ID, Username: u.Username, Email: u.Email})
			}
		}
	}
	return d
}

func (m *memStore) ListRoles(_ context.Context, f ListFilter) ([]RoleDetail, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RoleDetail
	for _, r := range m.roles {
		if f.Search != "" && !strings.Contains(r.Name, strings.ToLower(f.Search)) {
			continue
		}
		d := m.roleDetail(*r)
		d.Users = nil
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memStore) GetRole(_ context.Context, id int64) (RoleDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return RoleDetail{}, ErrNotFound
	}
	return m.roleDetail(*r), nil
}

func (m *memStore) RoleByName(_ context.Context, name string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			return *r, nil
		}
	}
	return Role{}, ErrNotFound
}

func (m *memStore) RolesByIDs(_ context.Context, ids []int64) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Role
	for _, id := range ids {
		if r, ok := m.roles[id]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateRole(_ context.Context, id int64, name, guard string, at time.Time) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	r.Name = name
	r.GuardName = guard
	r.UpdatedAt = at
	return *r, nil
}

func (m *memStore) SetRolePermissions(_ context.Context, roleID int64, ids []int64) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return nil, ErrNotFound
	}
	m.rolePerms[roleID] = append([]int64(nil), ids...)
	out := []Permission{}
	for _, id := range ids {
		out = append(out, *m.perms[id])
	}
	return out, nil
}

func (m *memStore) EnsureRoles(_ context.Context, roles []Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
next:
	for _, want := range roles {
		for _, r := range m.roles {
			if r.Name == want.Name {
				continue next
			}
		}
		m.nextRole++
		m.roles[m.nextRole] = &Role{ID: m.nextRole, Name: want.Name, GuardName: want.GuardName}
	}
	return nil
}

func (m *memStore) ListPermissions(_ context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) PermissionsByIDs(_ context.Context, ids []int64) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, id := range ids {
		if p, ok := m.perms[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) EnsurePermissions(_ context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
next:
	for _, want := range perms {
		for _, p := range m.perms {
			if p.Name == want.Name {
				continue next
			}
		}
		m.nextPerm++
		m.perms[m.nextPerm] = &Permission{ID: m.nextPerm, Name: want.Name, GuardName: want.GuardName}
	}
	return nil
}

func (m *memStore) UserRoles(_ context.Context, userID string) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userRoleCalls++
	if _, ok := m.users[userID]; !ok {
		return nil, ErrNotFound
	}
	return m.hydrate(*m.users[userID]).Roles, nil
}

func (m *memStore) RolePermissions(_ context.Context, roleID int64) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Permission{}
	for _, id := range m.rolePerms[roleID] {
		out = append(out, *m.perms[id])
	}
	return out, nil
}

var _ Store = (*memStore)(nil)

func mustCodec(t interface{ Fatalf(string, ...any) }, opts ...CodecOption) *TokenCodec {
	codec, err := NewTokenCodec("0123456789abcdef0123456789abcdef", opts...)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	return codec
}

func mustResolver(t interface{ Fatalf(string, ...any) }, graph RoleGraph, opts ...ResolverOption) *Resolver {
	r, err := NewResolver(graph, opts...)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func strPtr(s string) *string { return &s }

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return fmt.Sprint(err)
}
