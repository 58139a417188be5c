package repo

import (
	"context"
	"database/sql"

	"tms/internal/domain"
)

func scanRole(scan func(dest ...any) error) (domain.Role, error) {
	var role domain.Role
	err := scan(&role.ID, &role.Authority, &role.UserID)
	if err == sql.ErrNoRows {
		return role, ErrNotFound
	}
	return role, err
}

func (r Repo) InsertRole(ctx context.Context, role domain.Role) (domain.Role, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO roles(authority,user_id) VALUES (?,?)`, role.Authority, role.UserID)
	if err != nil {
		return domain.Role{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Role{}, err
	}
	role.ID = id
	return role, nil
}

func (r Repo) GetRole(ctx context.Context, id int64) (domain.Role, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,authority,user_id FROM roles WHERE id=?`, id)
	return scanRole(row.Scan)
}

// GetRoleByUser resolves the one-to-one role for a user.
func (r Repo) GetRoleByUser(ctx context.Context, userID int64) (domain.Role, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,authority,user_id FROM roles WHERE user_id=?`, userID)
	return scanRole(row.Scan)
}

func (r Repo) UpdateRole(ctx context.Context, role domain.Role) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE roles SET authority=?, user_id=? WHERE id=?`, role.Authority, role.UserID, role.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRole(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM roles WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListRoles(ctx context.Context, pageNumber, pageSize int) ([]domain.Role, int64, error) {
	var total int64
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM roles`).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := page(pageNumber, pageSize)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,authority,user_id FROM roles ORDER BY id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Role
	for rows.Next() {
		role, err := scanRole(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, role)
	}
	return res, total, rows.Err()
}
