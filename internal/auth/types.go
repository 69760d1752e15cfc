package auth

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// User is an account of the admin panel. PasswordHash is never serialized.
type User struct {
	ID              string       `json:"id"`
	Username        string       `json:"username"`
	Email           string       `json:"email"`
	PasswordHash    string       `json:"-"`
	Firstname       string       `json:"firstname"`
	Lastname        string       `json:"lastname"`
	Fullname        *string      `json:"fullname"`
	PhoneNumber     *string      `json:"phone_number"`
	EmailVerifiedAt *time.Time   `json:"email_verified_at"`
	DeletedAt       *time.Time   `json:"deleted_at,omitempty"`
	DeletedBy       *string      `json:"deleted_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	Profile         *UserProfile `json:"user_profile"`
	Roles           []Role       `json:"roles"`
}

// Deleted reports whether the account is soft-deleted.
func (u User) Deleted() bool { return u.DeletedAt != nil }

// HasRole reports whether the user holds a role with the given name.
func (u User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Identity returns the public identity of the user.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Username: u.Username, Email: u.Email}
}

// Identity is the minimal public view of a user.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// UserProfile holds student data; it exists only for holders of RoleStudent.
type UserProfile struct {
	ID         int64   `json:"id,string"`
	NIM        *string `json:"nim"`
	Major      *string `json:"major"`
	Faculty    *string `json:"faculty"`
	RoomNumber *string `json:"room_number"`
	IsVerified bool    `json:"is_verified"`
}

type Role struct {
	ID        int64     `json:"id,string"`
	Name      string    `json:"name"`
	GuardName string    `json:"guard_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Permission struct {
	ID        int64     `json:"id,string"`
	Name      string    `json:"name"`
	GuardName string    `json:"guard_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleMember is a user listed on a role detail page.
type RoleMember struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Fullname *string `json:"fullname"`
}

// RoleDetail is a role with its permission and membership counts.
type RoleDetail struct {
	Role
	PermissionsCount int          `json:"permissions_count"`
	UsersCount       int          `json:"users_count"`
	Permissions      []Permission `json:"permissions"`
	Users            []RoleMember `json:"users,omitempty"`
}

// Profile is a user together with the effective permissions of its roles.
type Profile struct {
	User
	Permissions    []Permission `json:"permissions"`
	ImpersonatedBy *Identity    `json:"impersonatedBy,omitempty"`
}

// ListFilter carries paging and free text search.
type ListFilter struct {
	Page   int
	Limit  int
	Search string
}

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// Normalize clamps paging values to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

// Offset is the number of rows to skip for the current page.
func (f ListFilter) Offset() int { return (f.Page - 1) * f.Limit }

// UserFilter selects either live or soft-deleted users.
type UserFilter struct {
	ListFilter
	Deleted bool
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func newPagination(f ListFilter, total int) Pagination {
	pages := 0
	if f.Limit > 0 {
		pages = (total + f.Limit - 1) / f.Limit
	}
	return Pagination{Page: f.Page, Limit: f.Limit, Total: total, TotalPages: pages}
}

type UserPage struct {
	Users      []User     `json:"users"`
	Pagination Pagination `json:"pagination"`
}

type RolePage struct {
	Roles      []RoleDetail `json:"roles"`
	Pagination Pagination   `json:"pagination"`
}

// NewUser is the persisted shape of a user being created.
type NewUser struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Firstname    string
	Lastname     string
	Fullname     *string
	PhoneNumber  *string
	RoleIDs      []int64
	Profile      *ProfilePatch
	CreatedAt    time.Time
}

// UserUpdate replaces the editable columns of a user. A nil Profile leaves the
// profile untouched.
type UserUpdate struct {
	Username    string
	Email       string
	Firstname   string
	Lastname    string
	Fullname    *string
	PhoneNumber *string
	Profile     *ProfilePatch
	UpdatedAt   time.Time
}

// ProfilePatch lists profile columns to write. Nil pointers are left as they
// are on update and stored as NULL (or false) on insert.
type ProfilePatch struct {
	NIM        *string
	Major      *string
	Faculty    *string
	RoomNumber *string
	IsVerified *bool
}

// IDList decodes a JSON array whose items are numbers or numeric strings.
type IDList []string

func (l *IDList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("expected an array of ids")
	}
	out := make(IDList, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err != nil {
			return fmt.Errorf("invalid id %s", string(item))
		}
		out = append(out, n.String())
	}
	*l = out
	return nil
}

// Int64s parses and deduplicates the list, keeping the first occurrence.
func (l IDList) Int64s(field string) ([]int64, error) {
	seen := make(map[int64]struct{}, len(l))
	out := make([]int64, 0, len(l))
	for _, raw := range l {
		id, err := parseID(raw)
		if err != nil {
			verr := &ValidationError{}
			verr.Add(field, fmt.Sprintf("%s contains an invalid id %q", field, raw))
			return nil, verr
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", ErrInvalidInput, raw)
	}
	return id, nil
}
