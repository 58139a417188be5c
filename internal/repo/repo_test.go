package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"tms/internal/db"
	"tms/internal/domain"
	"tms/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

func seedUser(t *testing.T, r Repo, email string) domain.User {
	t.Helper()
	u, err := r.InsertUser(context.Background(), domain.User{
		Name:         "user",
		Email:        email,
		PasswordHash: "x",
		Enabled:      true,
	})
	if err != nil {
		t.Fatalf("insert user %s: %v", email, err)
	}
	return u
}

func seedTask(t *testing.T, r Repo, author, assignee int64) domain.Task {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	task, err := r.InsertTask(context.Background(), domain.Task{
		Name:       "task",
		Status:     domain.TaskPending,
		Priority:   domain.PriorityMedium,
		AuthorID:   author,
		AssigneeID: assignee,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}
	return task
}

func TestTaskVersionGuard(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	author := seedUser(t, r, "author@example.com")
	task := seedTask(t, r, author.ID, author.ID)
	if task.Version != 0 {
		t.Fatalf("new task version = %d, want 0", task.Version)
	}

	task.Name = "renamed"
	updated, err := r.UpdateTask(ctx, task)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 1 {
		t.Fatalf("version after update = %d, want 1", updated.Version)
	}

	// A writer still holding version 0 must get a conflict, not a
	// silent overwrite.
	stale := task
	stale.Name = "stale write"
	if _, err := r.UpdateTask(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale update err = %v, want ErrVersionConflict", err)
	}

	got, err := r.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "renamed" || got.Version != 1 {
		t.Fatalf("task = %+v, stale write leaked", got)
	}
}

func TestUpdateMissingTaskIsNotFound(t *testing.T) {
	r := newTestRepo(t)
	author := seedUser(t, r, "author@example.com")
	task := seedTask(t, r, author.ID, author.ID)
	if err := r.DeleteTask(context.Background(), task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.UpdateTask(context.Background(), task); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update deleted task err = %v, want ErrNotFound", err)
	}
}

func TestCommentVersionGuard(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	u := seedUser(t, r, "author@example.com")
	task := seedTask(t, r, u.ID, u.ID)
	c, err := r.InsertComment(ctx, domain.Comment{
		Text:      "first",
		UserID:    u.ID,
		TaskID:    task.ID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("insert comment: %v", err)
	}
	c.Text = "edited"
	updated, err := r.UpdateComment(ctx, c)
	if err != nil {
		t.Fatalf("update comment: %v", err)
	}
	if updated.Version != 1 {
		t.Fatalf("version = %d, want 1", updated.Version)
	}
	if _, err := r.UpdateComment(ctx, c); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale comment update err = %v, want ErrVersionConflict", err)
	}
}

func TestUniqueEmail(t *testing.T) {
	r := newTestRepo(t)
	seedUser(t, r, "dup@example.com")
	_, err := r.InsertUser(context.Background(), domain.User{
		Name:         "other",
		Email:        "dup@example.com",
		PasswordHash: "x",
		Enabled:      true,
	})
	if err == nil {
		t.Fatal("expected unique constraint error")
	}
}

func TestDeleteTaskCascadesComments(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	u := seedUser(t, r, "author@example.com")
	task := seedTask(t, r, u.ID, u.ID)
	c, err := r.InsertComment(ctx, domain.Comment{
		Text:      "will vanish",
		UserID:    u.ID,
		TaskID:    task.ID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("insert comment: %v", err)
	}
	if err := r.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if _, err := r.GetComment(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("comment after cascade err = %v, want ErrNotFound", err)
	}
}

func TestOwnershipQueries(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	author := seedUser(t, r, "author@example.com")
	assignee := seedUser(t, r, "assignee@example.com")
	task := seedTask(t, r, author.ID, assignee.ID)

	if ok, _ := r.TaskHasAuthor(ctx, task.ID, author.ID); !ok {
		t.Error("author not recognized")
	}
	if ok, _ := r.TaskHasAuthor(ctx, task.ID, assignee.ID); ok {
		t.Error("assignee reported as author")
	}
	if ok, _ := r.TaskHasAssignee(ctx, task.ID, assignee.ID); !ok {
		t.Error("assignee not recognized")
	}
	// A task that does not exist owns nothing.
	if ok, _ := r.TaskHasAuthor(ctx, 999, author.ID); ok {
		t.Error("nonexistent task reported an author")
	}
}

func TestListTasksPaging(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	author := seedUser(t, r, "author@example.com")
	other := seedUser(t, r, "other@example.com")
	for i := 0; i < 5; i++ {
		seedTask(t, r, author.ID, other.ID)
	}
	seedTask(t, r, other.ID, author.ID)

	items, total, err := r.ListTasks(ctx, TaskFilters{AuthorID: author.ID, PageNumber: 0, PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(items) != 2 {
		t.Fatalf("page len = %d, want 2", len(items))
	}

	items, _, err = r.ListTasks(ctx, TaskFilters{AuthorID: author.ID, PageNumber: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("list last page: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("last page len = %d, want 1", len(items))
	}
}

func TestGetUserCarriesRole(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	u := seedUser(t, r, "admin@example.com")
	role, err := r.InsertRole(ctx, domain.Role{Authority: "ROLE_ADMIN", UserID: u.ID})
	if err != nil {
		t.Fatalf("insert role: %v", err)
	}
	got, err := r.GetUserByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.RoleID != role.ID {
		t.Fatalf("role id = %d, want %d", got.RoleID, role.ID)
	}
}

func TestGetMissing(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.GetTask(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask err = %v", err)
	}
	if _, err := r.GetUser(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser err = %v", err)
	}
	if _, err := r.GetComment(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetComment err = %v", err)
	}
}
