package repo

import (
	"context"
	"database/sql"

	"tms/internal/domain"
)

const taskColumns = `id,name,description,status,priority,author_id,assignee_id,version,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	err := scan(&t.ID, &t.Name, &t.Description, &t.Status, &t.Priority, &t.AuthorID, &t.AssigneeID, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// InsertTask persists a new task at version 0 and returns it with its
// assigned id.
func (r Repo) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(name,description,status,priority,author_id,assignee_id,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,0,?,?)`,
		t.Name, t.Description, t.Status, t.Priority, t.AuthorID, t.AssigneeID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = id
	t.Version = 0
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err != nil {
		return t, err
	}
	ids, err := r.ListTaskCommentIDs(ctx, t.ID)
	if err != nil {
		return t, err
	}
	t.CommentIDs = ids
	return t, nil
}

func (r Repo) TaskExists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id=? LIMIT 1`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// TaskHasAuthor reports whether the task exists and userID is its author.
func (r Repo) TaskHasAuthor(ctx context.Context, taskID, userID int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id=? AND author_id=? LIMIT 1`, taskID, userID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// TaskHasAssignee reports whether the task exists and userID is its assignee.
func (r Repo) TaskHasAssignee(ctx context.Context, taskID, userID int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id=? AND assignee_id=? LIMIT 1`, taskID, userID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UpdateTask submits a write carrying the version the caller read. The row
// is only touched when the persisted version still matches; otherwise the
// caller gets ErrVersionConflict (or ErrNotFound if the task vanished).
func (r Repo) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET name=?, description=?, status=?, priority=?, author_id=?, assignee_id=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		t.Name, t.Description, t.Status, t.Priority, t.AuthorID, t.AssigneeID, t.UpdatedAt, t.ID, t.Version)
	if err != nil {
		return domain.Task{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Task{}, err
	}
	if affected == 0 {
		exists, err := r.TaskExists(ctx, t.ID)
		if err != nil {
			return domain.Task{}, err
		}
		if !exists {
			return domain.Task{}, ErrNotFound
		}
		return domain.Task{}, ErrVersionConflict
	}
	t.Version++
	return t, nil
}

func (r Repo) DeleteTask(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTaskCommentIDs(ctx context.Context, taskID int64) ([]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM comments WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type TaskFilters struct {
	AuthorID   int64
	AssigneeID int64
	PageNumber int
	PageSize   int
}

// ListTasks returns one page of tasks plus the unpaged total for the filter.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, int64, error) {
	where := ""
	var args []any
	switch {
	case f.AuthorID != 0:
		where = "WHERE author_id=?"
		args = append(args, f.AuthorID)
	case f.AssigneeID != 0:
		where = "WHERE assignee_id=?"
		args = append(args, f.AssigneeID)
	}
	var total int64
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := page(f.PageNumber, f.PageSize)
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, t)
	}
	return res, total, rows.Err()
}
