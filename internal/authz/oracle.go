package authz

import (
	"context"

	"tms/internal/repo"
)

// Oracle answers ownership questions for the decision engine. Lookups are
// read-only and idempotent; a nonexistent task answers false, never an
// error, so a missing resource confers no access.
type Oracle interface {
	IsTaskAuthor(ctx context.Context, userID, taskID int64) (bool, error)
	IsTaskAssignee(ctx context.Context, userID, taskID int64) (bool, error)
}

// StoreOracle resolves ownership with explicit foreign-key queries against
// the store; it never walks an object graph.
type StoreOracle struct {
	Repo repo.Repo
}

func (o StoreOracle) IsTaskAuthor(ctx context.Context, userID, taskID int64) (bool, error) {
	return o.Repo.TaskHasAuthor(ctx, taskID, userID)
}

func (o StoreOracle) IsTaskAssignee(ctx context.Context, userID, taskID int64) (bool, error) {
	return o.Repo.TaskHasAssignee(ctx, taskID, userID)
}
