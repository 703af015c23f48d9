package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"authgrid.org/internal/auth"
)

type serviceStore Store

const serviceColumns = `id, public_id, name, description, is_active, created_at, updated_at`

func scanService(row scanner) (*auth.Service, error) {
	var (
		svc  auth.Service
		desc sql.NullString
	)
	err := row.Scan(&svc.ID, &svc.PublicID, &svc.Name, &desc, &svc.Active, &svc.CreatedAt, &svc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	svc.Description = desc.String
	return &svc, nil
}

func (s *serviceStore) Create(ctx context.Context, svc *auth.Service, roles []*auth.Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into services (id, public_id, name, description, is_active)
		values ($1, $2, $3, $4, $5)
	`, svc.ID, svc.PublicID, svc.Name, nullIfEmpty(svc.Description), svc.Active); err != nil {
		return mapPgError(err)
	}
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, `
			insert into roles (id, service_id, name, description, is_default)
			values ($1, $2, $3, $4, $5)
		`, role.ID, role.ServiceID, role.Name, nullIfEmpty(role.Description), role.Default); err != nil {
			return mapPgError(err)
		}
	}
	return tx.Commit()
}

func (s *serviceStore) findBy(ctx context.Context, where string, arg any) (*auth.Service, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+serviceColumns+` from services where `+where, arg)
	return scanService(row)
}

func (s *serviceStore) Find(ctx context.Context, id string) (*auth.Service, error) {
	return s.findBy(ctx, `id = $1`, id)
}

func (s *serviceStore) FindByPublicID(ctx context.Context, publicID string) (*auth.Service, error) {
	return s.findBy(ctx, `public_id = $1`, publicID)
}

func (s *serviceStore) FindByName(ctx context.Context, name string) (*auth.Service, error) {
	return s.findBy(ctx, `name = $1`, name)
}

func (s *serviceStore) List(ctx context.Context) ([]*auth.Service, error) {
	return s.list(ctx, `select `+serviceColumns+` from services order by name`)
}

func (s *serviceStore) ListForUser(ctx context.Context, userID string) ([]*auth.Service, error) {
	return s.list(ctx, `
		select distinct `+prefixed("s", serviceColumns)+`
		from services s
		join user_service_roles usr on usr.service_id = s.id
		where usr.user_id = $1
		order by s.name
	`, userID)
}

func (s *serviceStore) list(ctx context.Context, query string, args ...any) ([]*auth.Service, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *serviceStore) Update(ctx context.Context, id string, upd auth.ServiceUpdate) (*auth.Service, error) {
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
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("is_active = $%d", idx))
		args = append(args, *upd.Active)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update services set %s where id = $%d`, strings.Join(sets, ", "), idx)
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

func (s *serviceStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from services where id = $1`, id)
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

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
