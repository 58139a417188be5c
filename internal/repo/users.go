package repo

import (
	"context"
	"database/sql"

	"tms/internal/domain"
)

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var roleID sql.NullInt64
	err := scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Enabled, &roleID)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if roleID.Valid {
		u.RoleID = roleID.Int64
	}
	return u, err
}

const userColumns = `u.id,u.name,u.email,u.password_hash,u.enabled,r.id`

func (r Repo) InsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO users(name,email,password_hash,enabled) VALUES (?,?,?,?)`,
		u.Name, u.Email, u.PasswordHash, u.Enabled)
	if err != nil {
		return domain.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.User{}, err
	}
	u.ID = id
	return u, nil
}

func (r Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u LEFT JOIN roles r ON r.user_id=u.id WHERE u.id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u LEFT JOIN roles r ON r.user_id=u.id WHERE u.email=?`, email)
	return scanUser(row.Scan)
}

func (r Repo) UserExists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=? LIMIT 1`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) UpdateUser(ctx context.Context, u domain.User) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET name=?, email=?, password_hash=?, enabled=? WHERE id=?`,
		u.Name, u.Email, u.PasswordHash, u.Enabled, u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteUser(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListUsers(ctx context.Context, pageNumber, pageSize int) ([]domain.User, int64, error) {
	var total int64
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := page(pageNumber, pageSize)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users u LEFT JOIN roles r ON r.user_id=u.id ORDER BY u.id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, u)
	}
	return res, total, rows.Err()
}
