package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/bcrypt"

	"tms/internal/cache"
	"tms/internal/config"
	"tms/internal/domain"
	"tms/internal/events"
	"tms/internal/repo"
)

// ConflictError reports a versioned write that still lost the race after
// every permitted retry. It surfaces to clients as a conflict, never as a
// silent overwrite.
type ConflictError struct {
	Kind     string
	ID       int64
	Attempts int
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %d: version conflict after %d attempts", e.Kind, e.ID, e.Attempts)
}

// ReferenceError reports a mutation naming an entity that does not exist,
// e.g. a task created for an unknown author.
type ReferenceError struct {
	Kind string
	ID   int64
}

func (e ReferenceError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

var (
	ErrEmailInUse      = errors.New("email already in use")
	ErrBadCredentials  = errors.New("bad credentials")
	ErrAccountDisabled = errors.New("account disabled")
)

// Page is one window of a listing plus the unpaged total. It is the unit
// cached for list reads.
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

// Engine coordinates mutations over the store: it owns the optimistic retry
// loop, post-commit cache eviction and the audit trail. Reads go through the
// caches; writes never do.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Cache  cache.Caches
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Logger *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Cache:  cache.NewCaches(cfg.Cache.Capacity, cfg.Cache.TTL),
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// record appends an audit event after the mutation committed. A failed
// append is logged and swallowed; it never undoes the write.
func (e Engine) record(ctx context.Context, evtType, entityKind string, entityID, actorID int64, payload events.EventPayload) {
	if err := e.Events.Append(ctx, evtType, entityKind, entityID, actorID, payload); err != nil {
		e.logf("event %s for %s %d: %v", evtType, entityKind, entityID, err)
	}
}

// withRetry runs op until it succeeds, fails for a reason other than a
// version conflict, or the attempt budget is spent. Waits between attempts
// start at the configured delay and double, with no jitter.
func (e Engine) withRetry(ctx context.Context, kind string, id int64, op func(ctx context.Context) error) error {
	attempts := e.Config.Retry.MaxAttempts
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.Config.Retry.InitialDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	var err error
	for i := 0; i < attempts; i++ {
		err = op(ctx)
		if !errors.Is(err, repo.ErrVersionConflict) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
	return ConflictError{Kind: kind, ID: id, Attempts: attempts}
}

func (e Engine) ensureUser(ctx context.Context, id int64) error {
	ok, err := e.Repo.UserExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ReferenceError{Kind: "user", ID: id}
	}
	return nil
}

// --- tasks ---

type TaskCreateOptions struct {
	Name        string
	Description string
	Status      domain.TaskStatus
	Priority    domain.TaskPriority
	AuthorID    int64
	AssigneeID  int64
	ActorID     int64
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Name == "" {
		return domain.Task{}, errors.New("name is required")
	}
	if opts.Status == "" {
		opts.Status = domain.TaskPending
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !domain.ValidTaskStatus(opts.Status) {
		return domain.Task{}, fmt.Errorf("invalid status %s", opts.Status)
	}
	if !domain.ValidTaskPriority(opts.Priority) {
		return domain.Task{}, fmt.Errorf("invalid priority %s", opts.Priority)
	}
	if err := e.ensureUser(ctx, opts.AuthorID); err != nil {
		return domain.Task{}, err
	}
	if err := e.ensureUser(ctx, opts.AssigneeID); err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		Name:        opts.Name,
		Description: opts.Description,
		Status:      opts.Status,
		Priority:    opts.Priority,
		AuthorID:    opts.AuthorID,
		AssigneeID:  opts.AssigneeID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t, err := e.Repo.InsertTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	// List windows now under-report; drop them rather than patching totals.
	e.Cache.Tasks.Purge()
	e.record(ctx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{"name": t.Name, "status": string(t.Status)})
	return t, nil
}

// TaskUpdateOptions carries a partial update. Nil fields are left as read.
// When ExpectedVersion is set the write is guarded against it once, with no
// retry: a stale client sees the conflict instead of the server absorbing it.
type TaskUpdateOptions struct {
	ID              int64
	Name            *string
	Description     *string
	Status          *domain.TaskStatus
	Priority        *domain.TaskPriority
	AssigneeID      *int64
	ExpectedVersion *int64
	ActorID         int64
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	var updated domain.Task
	apply := func(ctx context.Context) error {
		t, err := e.Repo.GetTask(ctx, opts.ID)
		if err != nil {
			return err
		}
		if opts.ExpectedVersion != nil && *opts.ExpectedVersion != t.Version {
			return repo.ErrVersionConflict
		}
		if opts.Name != nil {
			t.Name = *opts.Name
		}
		if opts.Description != nil {
			t.Description = *opts.Description
		}
		if opts.Status != nil {
			if !domain.ValidTaskStatus(*opts.Status) {
				return fmt.Errorf("invalid status %s", *opts.Status)
			}
			t.Status = *opts.Status
		}
		if opts.Priority != nil {
			if !domain.ValidTaskPriority(*opts.Priority) {
				return fmt.Errorf("invalid priority %s", *opts.Priority)
			}
			t.Priority = *opts.Priority
		}
		if opts.AssigneeID != nil {
			if err := e.ensureUser(ctx, *opts.AssigneeID); err != nil {
				return err
			}
			t.AssigneeID = *opts.AssigneeID
		}
		t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
		updated, err = e.Repo.UpdateTask(ctx, t)
		return err
	}

	var err error
	if opts.ExpectedVersion != nil {
		err = apply(ctx)
		if errors.Is(err, repo.ErrVersionConflict) {
			err = ConflictError{Kind: "task", ID: opts.ID, Attempts: 1}
		}
	} else {
		err = e.withRetry(ctx, "task", opts.ID, apply)
	}
	if err != nil {
		return domain.Task{}, err
	}
	// Evict strictly after commit so no reader caches the pre-write state
	// on top of the new version.
	e.Cache.Tasks.Evict(cache.TaskKey(opts.ID))
	e.record(ctx, "task.updated", "task", updated.ID, opts.ActorID, events.EventPayload{"version": updated.Version})
	return updated, nil
}

// UpdateTaskStatus is the status-only mutation assignees are allowed to use.
func (e Engine) UpdateTaskStatus(ctx context.Context, taskID int64, status domain.TaskStatus, actorID int64) (domain.Task, error) {
	if !domain.ValidTaskStatus(status) {
		return domain.Task{}, fmt.Errorf("invalid status %s", status)
	}
	var updated domain.Task
	err := e.withRetry(ctx, "task", taskID, func(ctx context.Context) error {
		t, err := e.Repo.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		from := t.Status
		t.Status = status
		t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
		updated, err = e.Repo.UpdateTask(ctx, t)
		if err == nil {
			e.record(ctx, "task.status.updated", "task", t.ID, actorID, events.EventPayload{"from": string(from), "to": string(status)})
		}
		return err
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.Cache.Tasks.Evict(cache.TaskKey(taskID))
	return updated, nil
}

func (e Engine) DeleteTask(ctx context.Context, id, actorID int64) error {
	if err := e.Repo.DeleteTask(ctx, id); err != nil {
		return err
	}
	// Comments cascade with the task, so both scopes are now suspect.
	e.Cache.Tasks.Purge()
	e.Cache.Comments.Purge()
	e.record(ctx, "task.deleted", "task", id, actorID, nil)
	return nil
}

func (e Engine) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return cache.GetOrLoad(e.Cache.Tasks, cache.TaskKey(id), func() (domain.Task, error) {
		return e.Repo.GetTask(ctx, id)
	})
}

// GetAllTasks is an admin read and bypasses the cache.
func (e Engine) GetAllTasks(ctx context.Context, pageNumber, pageSize int) (Page[domain.Task], error) {
	items, total, err := e.Repo.ListTasks(ctx, repo.TaskFilters{PageNumber: pageNumber, PageSize: pageSize})
	return Page[domain.Task]{Items: items, Total: total}, err
}

func (e Engine) GetTasksByAuthor(ctx context.Context, authorID int64, pageNumber, pageSize int) (Page[domain.Task], error) {
	key := cache.TasksByAuthorKey(authorID, pageNumber, pageSize)
	return cache.GetOrLoad(e.Cache.Tasks, key, func() (Page[domain.Task], error) {
		items, total, err := e.Repo.ListTasks(ctx, repo.TaskFilters{AuthorID: authorID, PageNumber: pageNumber, PageSize: pageSize})
		return Page[domain.Task]{Items: items, Total: total}, err
	})
}

func (e Engine) GetTasksByAssignee(ctx context.Context, assigneeID int64, pageNumber, pageSize int) (Page[domain.Task], error) {
	key := cache.TasksByAssigneeKey(assigneeID, pageNumber, pageSize)
	return cache.GetOrLoad(e.Cache.Tasks, key, func() (Page[domain.Task], error) {
		items, total, err := e.Repo.ListTasks(ctx, repo.TaskFilters{AssigneeID: assigneeID, PageNumber: pageNumber, PageSize: pageSize})
		return Page[domain.Task]{Items: items, Total: total}, err
	})
}

// --- comments ---

func (e Engine) CreateComment(ctx context.Context, taskID int64, text string, userID int64) (domain.Comment, error) {
	if text == "" {
		return domain.Comment{}, errors.New("text is required")
	}
	ok, err := e.Repo.TaskExists(ctx, taskID)
	if err != nil {
		return domain.Comment{}, err
	}
	if !ok {
		return domain.Comment{}, ReferenceError{Kind: "task", ID: taskID}
	}
	if err := e.ensureUser(ctx, userID); err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		Text:      text,
		UserID:    userID,
		TaskID:    taskID,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	c, err = e.Repo.InsertComment(ctx, c)
	if err != nil {
		return domain.Comment{}, err
	}
	e.Cache.Comments.Purge()
	// The task's comment id list changed with it.
	e.Cache.Tasks.Evict(cache.TaskKey(taskID))
	e.record(ctx, "comment.created", "comment", c.ID, userID, events.EventPayload{"task_id": taskID})
	return c, nil
}

type CommentUpdateOptions struct {
	ID              int64
	Text            *string
	ExpectedVersion *int64
	ActorID         int64
}

func (e Engine) UpdateComment(ctx context.Context, opts CommentUpdateOptions) (domain.Comment, error) {
	var updated domain.Comment
	apply := func(ctx context.Context) error {
		c, err := e.Repo.GetComment(ctx, opts.ID)
		if err != nil {
			return err
		}
		if opts.ExpectedVersion != nil && *opts.ExpectedVersion != c.Version {
			return repo.ErrVersionConflict
		}
		if opts.Text != nil {
			c.Text = *opts.Text
		}
		updated, err = e.Repo.UpdateComment(ctx, c)
		return err
	}

	var err error
	if opts.ExpectedVersion != nil {
		err = apply(ctx)
		if errors.Is(err, repo.ErrVersionConflict) {
			err = ConflictError{Kind: "comment", ID: opts.ID, Attempts: 1}
		}
	} else {
		err = e.withRetry(ctx, "comment", opts.ID, apply)
	}
	if err != nil {
		return domain.Comment{}, err
	}
	e.Cache.Comments.Evict(cache.CommentKey(opts.ID))
	e.record(ctx, "comment.updated", "comment", updated.ID, opts.ActorID, events.EventPayload{"version": updated.Version})
	return updated, nil
}

func (e Engine) DeleteComment(ctx context.Context, id, actorID int64) error {
	c, err := e.Repo.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteComment(ctx, id); err != nil {
		return err
	}
	e.Cache.Comments.Purge()
	e.Cache.Tasks.Evict(cache.TaskKey(c.TaskID))
	e.record(ctx, "comment.deleted", "comment", id, actorID, nil)
	return nil
}

func (e Engine) GetComment(ctx context.Context, id int64) (domain.Comment, error) {
	return cache.GetOrLoad(e.Cache.Comments, cache.CommentKey(id), func() (domain.Comment, error) {
		return e.Repo.GetComment(ctx, id)
	})
}

func (e Engine) GetAllComments(ctx context.Context, pageNumber, pageSize int) (Page[domain.Comment], error) {
	items, total, err := e.Repo.ListComments(ctx, repo.CommentFilters{PageNumber: pageNumber, PageSize: pageSize})
	return Page[domain.Comment]{Items: items, Total: total}, err
}

func (e Engine) GetCommentsByTask(ctx context.Context, taskID int64, pageNumber, pageSize int) (Page[domain.Comment], error) {
	key := cache.CommentsByTaskKey(taskID, pageNumber, pageSize)
	return cache.GetOrLoad(e.Cache.Comments, key, func() (Page[domain.Comment], error) {
		items, total, err := e.Repo.ListComments(ctx, repo.CommentFilters{TaskID: taskID, PageNumber: pageNumber, PageSize: pageSize})
		return Page[domain.Comment]{Items: items, Total: total}, err
	})
}

func (e Engine) GetCommentsByUser(ctx context.Context, userID int64, pageNumber, pageSize int) (Page[domain.Comment], error) {
	key := cache.CommentsByUserKey(userID, pageNumber, pageSize)
	return cache.GetOrLoad(e.Cache.Comments, key, func() (Page[domain.Comment], error) {
		items, total, err := e.Repo.ListComments(ctx, repo.CommentFilters{UserID: userID, PageNumber: pageNumber, PageSize: pageSize})
		return Page[domain.Comment]{Items: items, Total: total}, err
	})
}

// --- users and roles ---

type UserCreateOptions struct {
	Name      string
	Email     string
	Password  string
	Authority string
	Enabled   bool
	ActorID   int64
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if opts.Email == "" {
		return domain.User{}, errors.New("email is required")
	}
	if opts.Password == "" {
		return domain.User{}, errors.New("password is required")
	}
	if opts.Authority == "" {
		opts.Authority = "ROLE_USER"
	}
	if _, err := e.Repo.GetUserByEmail(ctx, opts.Email); err == nil {
		return domain.User{}, ErrEmailInUse
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		Name:         opts.Name,
		Email:        opts.Email,
		PasswordHash: string(hash),
		Enabled:      opts.Enabled,
	}
	u, err = e.Repo.InsertUser(ctx, u)
	if err != nil {
		return domain.User{}, err
	}
	role, err := e.Repo.InsertRole(ctx, domain.Role{Authority: opts.Authority, UserID: u.ID})
	if err != nil {
		return domain.User{}, err
	}
	u.RoleID = role.ID
	e.record(ctx, "user.created", "user", u.ID, opts.ActorID, events.EventPayload{"email": u.Email, "authority": opts.Authority})
	return u, nil
}

type UserUpdateOptions struct {
	ID       int64
	Name     *string
	Email    *string
	Password *string
	Enabled  *bool
	ActorID  int64
}

func (e Engine) UpdateUser(ctx context.Context, opts UserUpdateOptions) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, opts.ID)
	if err != nil {
		return domain.User{}, err
	}
	if opts.Name != nil {
		u.Name = *opts.Name
	}
	if opts.Email != nil && *opts.Email != u.Email {
		if _, err := e.Repo.GetUserByEmail(ctx, *opts.Email); err == nil {
			return domain.User{}, ErrEmailInUse
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, err
		}
		u.Email = *opts.Email
	}
	if opts.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*opts.Password), bcrypt.DefaultCost)
		if err != nil {
			return domain.User{}, err
		}
		u.PasswordHash = string(hash)
	}
	if opts.Enabled != nil {
		u.Enabled = *opts.Enabled
	}
	if err := e.Repo.UpdateUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	e.record(ctx, "user.updated", "user", u.ID, opts.ActorID, nil)
	return u, nil
}

func (e Engine) DeleteUser(ctx context.Context, id, actorID int64) error {
	if err := e.Repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	e.record(ctx, "user.deleted", "user", id, actorID, nil)
	return nil
}

func (e Engine) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

func (e Engine) GetAllUsers(ctx context.Context, pageNumber, pageSize int) (Page[domain.User], error) {
	items, total, err := e.Repo.ListUsers(ctx, pageNumber, pageSize)
	return Page[domain.User]{Items: items, Total: total}, err
}

func (e Engine) SetUserRole(ctx context.Context, userID int64, authority string, actorID int64) (domain.Role, error) {
	if err := e.ensureUser(ctx, userID); err != nil {
		return domain.Role{}, err
	}
	role, err := e.Repo.GetRoleByUser(ctx, userID)
	switch {
	case err == nil:
		role.Authority = authority
		if err := e.Repo.UpdateRole(ctx, role); err != nil {
			return domain.Role{}, err
		}
	case errors.Is(err, repo.ErrNotFound):
		role, err = e.Repo.InsertRole(ctx, domain.Role{Authority: authority, UserID: userID})
		if err != nil {
			return domain.Role{}, err
		}
	default:
		return domain.Role{}, err
	}
	e.record(ctx, "role.assigned", "role", role.ID, actorID, events.EventPayload{"user_id": userID, "authority": authority})
	return role, nil
}

func (e Engine) GetRole(ctx context.Context, id int64) (domain.Role, error) {
	return e.Repo.GetRole(ctx, id)
}

func (e Engine) GetAllRoles(ctx context.Context, pageNumber, pageSize int) (Page[domain.Role], error) {
	items, total, err := e.Repo.ListRoles(ctx, pageNumber, pageSize)
	return Page[domain.Role]{Items: items, Total: total}, err
}

func (e Engine) DeleteRole(ctx context.Context, id, actorID int64) error {
	if err := e.Repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	e.record(ctx, "role.deleted", "role", id, actorID, nil)
	return nil
}

// --- authentication ---

// CheckCredentials verifies the email/password pair and returns the user
// with their granted authorities. Disabled accounts are rejected even with
// the right password.
func (e Engine) CheckCredentials(ctx context.Context, email, password string) (domain.User, []string, error) {
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, nil, ErrBadCredentials
		}
		return domain.User{}, nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, nil, ErrBadCredentials
	}
	if !u.Enabled {
		return domain.User{}, nil, ErrAccountDisabled
	}
	roles, err := e.Authorities(ctx, u.ID)
	if err != nil {
		return domain.User{}, nil, err
	}
	return u, roles, nil
}

// Authorities returns the authority strings granted to a user.
func (e Engine) Authorities(ctx context.Context, userID int64) ([]string, error) {
	role, err := e.Repo.GetRoleByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []string{role.Authority}, nil
}
