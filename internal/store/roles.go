package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rusunawa.app/internal/auth"
)

const roleColumns = `r.id, r.name, r.guard_name, r.created_at, r.updated_at`

const permissionColumns = `p.id, p.name, p.guard_name, p.created_at, p.updated_at`

func scanRole(row rowScanner) (auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.Name, &r.GuardName, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanPermission(row rowScanner) (auth.Permission, error) {
	var p auth.Permission
	err := row.Scan(&p.ID, &p.Name, &p.GuardName, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func collectRoles(rows *sql.Rows) ([]auth.Role, error) {
	defer rows.Close()
	roles := []auth.Role{}
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func collectPermissions(rows *sql.Rows) ([]auth.Permission, error) {
	defer rows.Close()
	perms := []auth.Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

const roleDetailSelect = `
	select ` + roleColumns + `,
		(select count(*) from role_has_permissions rp where rp.role_id = r.id),
		(select count(*) from model_has_roles mr where mr.role_id = r.id)
	from roles r`

func scanRoleDetail(row rowScanner) (auth.RoleDetail, error) {
	var d auth.RoleDetail
	err := row.Scan(&d.ID, &d.Name, &d.GuardName, &d.CreatedAt, &d.UpdatedAt, &d.PermissionsCount, &d.UsersCount)
	d.Permissions = []auth.Permission{}
	return d, err
}

func (s *Store) ListRoles(ctx context.Context, filter auth.ListFilter) ([]auth.RoleDetail, int, error) {
	if s.db == nil {
		return nil, 0, errUnavailable
	}
	var (
		where = ""
		args  []any
	)
	if filter.Search != "" {
		where = `
	where lower(r.name) like $1 escape '\' or lower(r.guard_name) like $1 escape '\'`
		args = append(args, searchPattern(filter.Search))
	}
	c := s.conn()

	var total int
	if err := c.queryRow(ctx, `select count(*) from roles r`+where, args...).Scan(&total); err != nil {
		return nil, 0, c.d.classify(err)
	}

	n := len(args)
	query := fmt.Sprintf("%s%s\n\torder by r.id\n\tlimit $%d offset $%d", roleDetailSelect, where, n+1, n+2)
	rows, err := c.query(ctx, query, append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	roles := []auth.RoleDetail{}
	for rows.Next() {
		d, err := scanRoleDetail(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		roles = append(roles, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, err
	}
	rows.Close()

	if err := attachPermissions(ctx, c, roles); err != nil {
		return nil, 0, err
	}
	return roles, total, nil
}

// attachPermissions loads the permissions of roles in one query.
func attachPermissions(ctx context.Context, c conn, roles []auth.RoleDetail) error {
	if len(roles) == 0 {
		return nil
	}
	ids := make([]int64, len(roles))
	index := make(map[int64]int, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
		index[r.ID] = i
	}
	rows, err := c.query(ctx, `
		select rp.role_id, `+permissionColumns+`
		from role_has_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id in (`+placeholders(1, len(ids))+`)
		order by p.id
	`, int64Args(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			roleID int64
			p      auth.Permission
		)
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &p.GuardName, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, p)
		}
	}
	return rows.Err()
}

func (s *Store) GetRole(ctx context.Context, id int64) (auth.RoleDetail, error) {
	if s.db == nil {
		return auth.RoleDetail{}, errUnavailable
	}
	c := s.conn()
	d, err := scanRoleDetail(c.queryRow(ctx, roleDetailSelect+"\n\twhere r.id = $1", id))
	if err != nil {
		return auth.RoleDetail{}, c.d.classify(err)
	}
	roles := []auth.RoleDetail{d}
	if err := attachPermissions(ctx, c, roles); err != nil {
		return auth.RoleDetail{}, err
	}
	d = roles[0]

	rows, err := c.query(ctx, `
		select u.id, u.username, u.email, u.fullname
		from model_has_roles mr
		join users u on u.id = mr.model_id
		where mr.role_id = $1
		order by u.username
	`, id)
	if err != nil {
		return auth.RoleDetail{}, err
	}
	defer rows.Close()

	d.Users = []auth.RoleMember{}
	for rows.Next() {
		var (
			m        auth.RoleMember
			fullname sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Username, &m.Email, &fullname); err != nil {
			return auth.RoleDetail{}, err
		}
		m.Fullname = stringPtr(fullname)
		d.Users = append(d.Users, m)
	}
	if err := rows.Err(); err != nil {
		return auth.RoleDetail{}, err
	}
	return d, nil
}

func (s *Store) RoleByName(ctx context.Context, name string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errUnavailable
	}
	c := s.conn()
	r, err := scanRole(c.queryRow(ctx, `select `+roleColumns+` from roles r where r.name = $1`, name))
	if err != nil {
		return auth.Role{}, c.d.classify(err)
	}
	return r, nil
}

func (s *Store) RolesByIDs(ctx context.Context, ids []int64) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	if len(ids) == 0 {
		return []auth.Role{}, nil
	}
	rows, err := s.conn().query(ctx, `
		select `+roleColumns+` from roles r
		where r.id in (`+placeholders(1, len(ids))+`)
		order by r.id
	`, int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func (s *Store) UpdateRole(ctx context.Context, id int64, name, guardName string, at time.Time) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errUnavailable
	}
	c := s.conn()
	if err := c.execOne(ctx, `
		update roles set name = $1, guard_name = $2, updated_at = $3
		where id = $4
	`, name, guardName, at, id); err != nil {
		return auth.Role{}, err
	}
	r, err := scanRole(c.queryRow(ctx, `select `+roleColumns+` from roles r where r.id = $1`, id))
	if err != nil {
		return auth.Role{}, c.d.classify(err)
	}
	return r, nil
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) ([]auth.Permission, error) {
	err := s.withTx(ctx, func(c conn) error {
		var exists int
		if err := c.queryRow(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
			return c.d.classify(err)
		}
		if _, err := c.exec(ctx, `delete from role_has_permissions where role_id = $1`, roleID); err != nil {
			return err
		}
		for _, permID := range permissionIDs {
			if _, err := c.exec(ctx, `
				insert into role_has_permissions (permission_id, role_id)
				values ($1, $2)
			`, permID, roleID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.RolePermissions(ctx, roleID)
}

// EnsureRoles inserts roles whose names are missing.
func (s *Store) EnsureRoles(ctx context.Context, roles []auth.Role) error {
	return s.withTx(ctx, func(c conn) error {
		now := time.Now().UTC()
		for _, r := range roles {
			if _, err := c.exec(ctx, `
				insert into roles (name, guard_name, created_at, updated_at)
				values ($1, $2, $3, $3)
				on conflict (name) do nothing
			`, r.Name, guardOrDefault(r.GuardName), now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.conn().query(ctx, `select `+permissionColumns+` from permissions p order by p.name`)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

func (s *Store) PermissionsByIDs(ctx context.Context, ids []int64) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	if len(ids) == 0 {
		return []auth.Permission{}, nil
	}
	rows, err := s.conn().query(ctx, `
		select `+permissionColumns+` from permissions p
		where p.id in (`+placeholders(1, len(ids))+`)
		order by p.id
	`, int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

// EnsurePermissions inserts permissions whose names are missing.
func (s *Store) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
	return s.withTx(ctx, func(c conn) error {
		now := time.Now().UTC()
		for _, p := range perms {
			if _, err := c.exec(ctx, `
				insert into permissions (name, guard_name, created_at, updated_at)
				values ($1, $2, $3, $3)
				on conflict (name) do nothing
			`, p.Name, guardOrDefault(p.GuardName), now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) UserRoles(ctx context.Context, userID string) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	c := s.conn()
	var exists int
	if err := c.queryRow(ctx, `select 1 from users where id = $1`, userID).Scan(&exists); err != nil {
		return nil, c.d.classify(err)
	}
	rows, err := c.query(ctx, `
		select `+roleColumns+`
		from model_has_roles mr
		join roles r on r.id = mr.role_id
		where mr.model_id = $1
		order by r.id
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func (s *Store) RolePermissions(ctx context.Context, roleID int64) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.conn().query(ctx, `
		select `+permissionColumns+`
		from role_has_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.id
	`, roleID)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

func guardOrDefault(guard string) string {
	if guard == "" {
		return auth.DefaultGuard
	}
	return guard
}
