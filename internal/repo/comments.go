package repo

import (
	"context"
	"database/sql"

	"tms/internal/domain"
)

const commentColumns = `id,text,user_id,task_id,version,created_at`

func scanComment(scan func(dest ...any) error) (domain.Comment, error) {
	var c domain.Comment
	err := scan(&c.ID, &c.Text, &c.UserID, &c.TaskID, &c.Version, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO comments(text,user_id,task_id,version,created_at) VALUES (?,?,?,0,?)`,
		c.Text, c.UserID, c.TaskID, c.CreatedAt)
	if err != nil {
		return domain.Comment{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Comment{}, err
	}
	c.ID = id
	c.Version = 0
	return c, nil
}

func (r Repo) GetComment(ctx context.Context, id int64) (domain.Comment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=?`, id)
	return scanComment(row.Scan)
}

func (r Repo) CommentExists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM comments WHERE id=? LIMIT 1`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UpdateComment is version-guarded the same way as Repo.UpdateTask.
func (r Repo) UpdateComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE comments SET text=?, user_id=?, task_id=?, version=version+1 WHERE id=? AND version=?`,
		c.Text, c.UserID, c.TaskID, c.ID, c.Version)
	if err != nil {
		return domain.Comment{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Comment{}, err
	}
	if affected == 0 {
		exists, err := r.CommentExists(ctx, c.ID)
		if err != nil {
			return domain.Comment{}, err
		}
		if !exists {
			return domain.Comment{}, ErrNotFound
		}
		return domain.Comment{}, ErrVersionConflict
	}
	c.Version++
	return c, nil
}

func (r Repo) DeleteComment(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM comments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type CommentFilters struct {
	TaskID     int64
	UserID     int64
	PageNumber int
	PageSize   int
}

func (r Repo) ListComments(ctx context.Context, f CommentFilters) ([]domain.Comment, int64, error) {
	where := ""
	var args []any
	switch {
	case f.TaskID != 0:
		where = "WHERE task_id=?"
		args = append(args, f.TaskID)
	case f.UserID != 0:
		where = "WHERE user_id=?"
		args = append(args, f.UserID)
	}
	var total int64
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM comments `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := page(f.PageNumber, f.PageSize)
	query := `SELECT ` + commentColumns + ` FROM comments ` + where + ` ORDER BY id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, c)
	}
	return res, total, rows.Err()
}
