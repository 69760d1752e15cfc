package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rusunawa.app/internal/auth"
)

const userSelect = `
	select u.id, u.username, u.email, u.password, u.firstname, u.lastname, u.fullname, u.phone_number,
		u.email_verified_at, u.deleted_at, u.deleted_by, u.created_at, u.updated_at,
		p.id, p.nim, p.major, p.faculty, p.room_number, p.is_verified
	from users u
	left join user_profiles p on p.user_id = u.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u                   auth.User
		fullname, phone     sql.NullString
		verifiedAt          sql.NullTime
		deletedAt           sql.NullTime
		deletedBy           sql.NullString
		profileID           sql.NullInt64
		nim, major, faculty sql.NullString
		room                sql.NullString
		profileVerified     sql.NullBool
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Firstname, &u.Lastname, &fullname, &phone,
		&verifiedAt, &deletedAt, &deletedBy, &u.CreatedAt, &u.UpdatedAt,
		&profileID, &nim, &major, &faculty, &room, &profileVerified); err != nil {
		return auth.User{}, err
	}
	u.Fullname = stringPtr(fullname)
	u.PhoneNumber = stringPtr(phone)
	u.DeletedBy = stringPtr(deletedBy)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		u.EmailVerifiedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	if profileID.Valid {
		u.Profile = &auth.UserProfile{
			ID:         profileID.Int64,
			NIM:        stringPtr(nim),
			Major:      stringPtr(major),
			Faculty:    stringPtr(faculty),
			RoomNumber: stringPtr(room),
			IsVerified: profileVerified.Valid && profileVerified.Bool,
		}
	}
	u.Roles = []auth.Role{}
	return u, nil
}

func (s *Store) userWhere(ctx context.Context, cond string, arg any) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errUnavailable
	}
	c := s.conn()
	u, err := scanUser(c.queryRow(ctx, userSelect+"\n\twhere "+cond, arg))
	if err != nil {
		return auth.User{}, c.d.classify(err)
	}
	users := []auth.User{u}
	if err := s.attachRoles(ctx, c, users); err != nil {
		return auth.User{}, err
	}
	return users[0], nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	return s.userWhere(ctx, "u.id = $1", id)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.userWhere(ctx, "u.email = $1", email)
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (auth.User, error) {
	return s.userWhere(ctx, "u.username = $1", username)
}

// attachRoles loads the roles of users in one query. Rows from the user query
// must already be closed.
func (s *Store) attachRoles(ctx context.Context, c conn, users []auth.User) error {
	if len(users) == 0 {
		return nil
	}
	ids := make([]string, len(users))
	index := make(map[string]int, len(users))
	for i, u := range users {
		ids[i] = u.ID
		index[u.ID] = i
	}
	rows, err := c.query(ctx, `
		select mr.model_id, r.id, r.name, r.guard_name, r.created_at, r.updated_at
		from model_has_roles mr
		join roles r on r.id = mr.role_id
		where mr.model_id in (`+placeholders(1, len(ids))+`)
		order by r.id
	`, stringArgs(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			userID string
			role   auth.Role
		)
		if err := rows.Scan(&userID, &role.ID, &role.Name, &role.GuardName, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return err
		}
		if i, ok := index[userID]; ok {
			users[i].Roles = append(users[i].Roles, role)
		}
	}
	return rows.Err()
}

func (s *Store) ListUsers(ctx context.Context, filter auth.UserFilter) ([]auth.User, int, error) {
	if s.db == nil {
		return nil, 0, errUnavailable
	}
	var (
		conds = []string{"u.deleted_at is null"}
		order = "u.created_at desc, u.id"
		args  []any
	)
	if filter.Deleted {
		conds[0] = "u.deleted_at is not null"
		order = "u.deleted_at desc, u.id"
	}
	if filter.Search != "" {
		conds = append(conds, `(lower(u.username) like $1 escape '\' or lower(u.email) like $1 escape '\'
			or lower(u.firstname) like $1 escape '\' or lower(u.lastname) like $1 escape '\'
			or lower(coalesce(u.fullname, '')) like $1 escape '\')`)
		args = append(args, searchPattern(filter.Search))
	}
	where := strings.Join(conds, " and ")
	c := s.conn()

	var total int
	if err := c.queryRow(ctx, `select count(*) from users u where `+where, args...).Scan(&total); err != nil {
		return nil, 0, c.d.classify(err)
	}

	n := len(args)
	query := fmt.Sprintf("%s\n\twhere %s\n\torder by %s\n\tlimit $%d offset $%d", userSelect, where, order, n+1, n+2)
	rows, err := c.query(ctx, query, append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	users := []auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, err
	}
	rows.Close()

	if err := s.attachRoles(ctx, c, users); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (s *Store) CreateUser(ctx context.Context, nu auth.NewUser) (auth.User, error) {
	err := s.withTx(ctx, func(c conn) error {
		if _, err := c.exec(ctx, `
			insert into users (id, username, email, password, firstname, lastname, fullname, phone_number, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		`, nu.ID, nu.Username, nu.Email, nu.PasswordHash, nu.Firstname, nu.Lastname,
			nullString(nu.Fullname), nullString(nu.PhoneNumber), nu.CreatedAt); err != nil {
			return err
		}
		if err := insertUserRoles(ctx, c, nu.ID, nu.RoleIDs); err != nil {
			return err
		}
		if nu.Profile != nil {
			return insertProfile(ctx, c, nu.ID, nu.Profile, nu.CreatedAt)
		}
		return nil
	})
	if err != nil {
		return auth.User{}, err
	}
	return s.GetUser(ctx, nu.ID)
}

func insertUserRoles(ctx context.Context, c conn, userID string, roleIDs []int64) error {
	for _, roleID := range roleIDs {
		if _, err := c.exec(ctx, `
			insert into model_has_roles (role_id, model_type, model_id)
			values ($1, 'User', $2)
		`, roleID, userID); err != nil {
			return err
		}
	}
	return nil
}

func insertProfile(ctx context.Context, c conn, userID string, p *auth.ProfilePatch, at time.Time) error {
	verified := p.IsVerified != nil && *p.IsVerified
	_, err := c.exec(ctx, `
		insert into user_profiles (user_id, nim, major, faculty, room_number, is_verified, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $7)
	`, userID, nullString(p.NIM), nullString(p.Major), nullString(p.Faculty), nullString(p.RoomNumber), verified, at)
	return err
}

// updateProfile writes only the non-nil columns of p, creating the profile
// when the user has none.
func updateProfile(ctx context.Context, c conn, userID string, p *auth.ProfilePatch, at time.Time) error {
	var profileID int64
	err := c.queryRow(ctx, `select id from user_profiles where user_id = $1`, userID).Scan(&profileID)
	if err != nil {
		if err = c.d.classify(err); errors.Is(err, auth.ErrNotFound) {
			return insertProfile(ctx, c, userID, p, at)
		}
		return err
	}

	var (
		sets []string
		args []any
		idx  = 1
	)
	for _, col := range []struct {
		name  string
		value *string
	}{
		{"nim", p.NIM}, {"major", p.Major}, {"faculty", p.Faculty}, {"room_number", p.RoomNumber},
	} {
		if col.value == nil {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col.name, idx))
		args = append(args, nullString(col.value))
		idx++
	}
	if p.IsVerified != nil {
		sets = append(sets, fmt.Sprintf("is_verified = $%d", idx))
		args = append(args, *p.IsVerified)
		idx++
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", idx))
	args = append(args, at, profileID)
	query := fmt.Sprintf(`update user_profiles set %s where id = $%d`, strings.Join(sets, ", "), idx+1)
	_, err = c.exec(ctx, query, args...)
	return err
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	err := s.withTx(ctx, func(c conn) error {
		if err := c.execOne(ctx, `
			update users
			set username = $1, email = $2, firstname = $3, lastname = $4, fullname = $5, phone_number = $6, updated_at = $7
			where id = $8
		`, upd.Username, upd.Email, upd.Firstname, upd.Lastname,
			nullString(upd.Fullname), nullString(upd.PhoneNumber), upd.UpdatedAt, id); err != nil {
			return err
		}
		if upd.Profile != nil {
			return updateProfile(ctx, c, id, upd.Profile, upd.UpdatedAt)
		}
		return nil
	})
	if err != nil {
		return auth.User{}, err
	}
	return s.GetUser(ctx, id)
}

func (s *Store) SetUserRoles(ctx context.Context, userID string, roleIDs []int64) ([]auth.Role, error) {
	err := s.withTx(ctx, func(c conn) error {
		var exists int
		if err := c.queryRow(ctx, `select 1 from users where id = $1`, userID).Scan(&exists); err != nil {
			return c.d.classify(err)
		}
		if _, err := c.exec(ctx, `delete from model_has_roles where model_id = $1`, userID); err != nil {
			return err
		}
		return insertUserRoles(ctx, c, userID, roleIDs)
	})
	if err != nil {
		return nil, err
	}
	return s.UserRoles(ctx, userID)
}

func (s *Store) SoftDeleteUser(ctx context.Context, id, deletedBy string, at time.Time) error {
	if s.db == nil {
		return errUnavailable
	}
	return s.conn().execOne(ctx, `
		update users set deleted_at = $1, deleted_by = $2, updated_at = $1
		where id = $3
	`, at, nullString(&deletedBy), id)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.withTx(ctx, func(c conn) error {
		if _, err := c.exec(ctx, `delete from model_has_roles where model_id = $1`, id); err != nil {
			return err
		}
		if _, err := c.exec(ctx, `delete from user_profiles where user_id = $1`, id); err != nil {
			return err
		}
		return c.execOne(ctx, `delete from users where id = $1`, id)
	})
}

func (s *Store) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errUnavailable
	}
	return s.conn().execOne(ctx, `update users set email_verified_at = $1, updated_at = $1 where id = $2`, at, id)
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	if s.db == nil {
		return errUnavailable
	}
	return s.conn().execOne(ctx, `update users set password = $1, updated_at = $2 where id = $3`, passwordHash, at, id)
}

func (s *Store) NIMTaken(ctx context.Context, nim, exceptUserID string) (bool, error) {
	if s.db == nil {
		return false, errUnavailable
	}
	c := s.conn()
	var n int
	if err := c.queryRow(ctx, `
		select count(*) from user_profiles where nim = $1 and user_id <> $2
	`, nim, exceptUserID).Scan(&n); err != nil {
		return false, c.d.classify(err)
	}
	return n > 0, nil
}
