package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"authgrid.org/internal/auth"
)

type roleStore Store

const roleColumns = `id, service_id, name, description, is_default, created_at, updated_at`

func scanRole(row scanner) (*auth.Role, error) {
	var (
		role auth.Role
		desc sql.NullString
	)
	err := row.Scan(&role.ID, &role.ServiceID, &role.Name, &desc, &role.Default, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	role.Description = desc.String
	return &role, nil
}

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, service_id, name, description, is_default)
		values ($1, $2, $3, $4, $5)
	`, role.ID, role.ServiceID, role.Name, nullIfEmpty(role.Description), role.Default)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where id = $1`, id)
	return scanRole(row)
}

func (s *roleStore) FindByName(ctx context.Context, serviceID, name string) (*auth.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where service_id = $1 and name = $2`, serviceID, name)
	return scanRole(row)
}

func (s *roleStore) ListByService(ctx context.Context, serviceID string) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+roleColumns+` from roles where service_id = $1 order by name`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*auth.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *roleStore) Update(ctx context.Context, id string, upd auth.RoleUpdate) (*auth.Role, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		if *upd.Description == "" {
			sets = append(sets, "description = null")
		} else {
			sets = append(sets, fmt.Sprintf("description = $%d", idx))
			args = append(args, *upd.Description)
			idx++
		}
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, mapPgError(err)
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if aff == 0 {
			return nil, auth.ErrNotFound
		}
	}
	return s.Find(ctx, id)
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *roleStore) Assign(ctx context.Context, grant auth.Grant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_service_roles (user_id, service_id, role_id)
		values ($1, $2, $3)
	`, grant.UserID, grant.ServiceID, grant.RoleID)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *roleStore) Unassign(ctx context.Context, userID, serviceID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_service_roles
		where user_id = $1 and service_id = $2 and role_id = $3
	`, userID, serviceID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *roleStore) RolesForUser(ctx context.Context, userID, serviceID string) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+prefixed("r", roleColumns)+`
		from roles r
		join user_service_roles usr on usr.role_id = r.id
		where usr.user_id = $1 and usr.service_id = $2
		order by r.name
	`, userID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*auth.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *roleStore) GrantsForUser(ctx context.Context, userID string) ([]auth.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, service_id, role_id, created_at
		from user_service_roles
		where user_id = $1
		order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []auth.Grant
	for rows.Next() {
		var g auth.Grant
		if err := rows.Scan(&g.UserID, &g.ServiceID, &g.RoleID, &g.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}
