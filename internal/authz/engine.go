package authz

import (
	"context"
	"net/http"
	"path"
	"strings"
)

// RoleAdmin is the authority granting access to user/role management and
// cross-collection reads.
const RoleAdmin = "ROLE_ADMIN"

type Decision int

const (
	Deny Decision = iota
	Allow
)

// Identity is the authenticated caller as seen by the decision engine.
// UserID is resolved from the credential subject; Roles come from the role
// claim.
type Identity struct {
	UserID        int64
	Roles         []string
	Authenticated bool
	Expired       bool
}

func (i Identity) hasRole(authority string) bool {
	for _, r := range i.Roles {
		if r == authority {
			return true
		}
	}
	return false
}

// Engine evaluates the fixed, ordered rule list. First match wins and the
// terminal rule denies, so every path must be explicitly granted.
// Evaluation is deterministic and side-effect-free apart from read-only
// oracle lookups.
type Engine struct {
	Oracle   Oracle
	BasePath string
}

func (e Engine) base() string {
	if e.BasePath == "" {
		return "/api"
	}
	return e.BasePath
}

func (e Engine) isPublic(p string) bool {
	switch p {
	case "/", "/docs", "/openapi.json":
		return true
	}
	return strings.HasPrefix(p, path.Join(e.base(), "auth")+"/")
}

// isAdminSurface matches user/role management and reads that span a full
// collection rather than a single owned resource.
func (e Engine) isAdminSurface(method, p string) bool {
	base := e.base()
	if p == path.Join(base, "users") || strings.HasPrefix(p, path.Join(base, "users")+"/") {
		return true
	}
	if p == path.Join(base, "roles") || strings.HasPrefix(p, path.Join(base, "roles")+"/") {
		return true
	}
	// Comments addressed by their own id are managed through the admin
	// surface; only the by-task routes carry ownership semantics.
	commentsPrefix := path.Join(base, "comments") + "/"
	if strings.HasPrefix(p, commentsPrefix) && !strings.HasPrefix(p, commentsPrefix+"task/") {
		return true
	}
	if method != http.MethodGet {
		return false
	}
	switch p {
	case path.Join(base, "tasks"), path.Join(base, "comments"):
		return true
	}
	return strings.HasPrefix(p, path.Join(base, "tasks")+"/author/") ||
		strings.HasPrefix(p, path.Join(base, "tasks")+"/assignee/")
}

// Decide returns the access decision for an authenticated identity and a
// request method + path. Denials carry no detail about which rule matched.
func (e Engine) Decide(ctx context.Context, ident Identity, method, reqPath string) (Decision, error) {
	// Public endpoints are granted before identity is considered; the
	// credential-issuance endpoint must be reachable without one.
	if e.isPublic(reqPath) {
		return Allow, nil
	}
	if !ident.Authenticated || ident.Expired {
		return Deny, nil
	}
	if e.isAdminSurface(method, reqPath) {
		if ident.hasRole(RoleAdmin) {
			return Allow, nil
		}
		return Deny, nil
	}
	// Task creation: the requester becomes the task's author, so there is
	// no ownership to check yet.
	if method == http.MethodPost && reqPath == path.Join(e.base(), "tasks") {
		return Allow, nil
	}

	res := Resolve(reqPath)
	switch res.Class {
	case ClassTaskDirect, ClassTaskStatus, ClassCommentOnTask, ClassCommentDirect:
		if !res.HasTaskID {
			return Deny, nil
		}
		isAuthor, err := e.Oracle.IsTaskAuthor(ctx, ident.UserID, res.TaskID)
		if err != nil {
			return Deny, err
		}
		if isAuthor {
			return Allow, nil
		}
		isAssignee, err := e.Oracle.IsTaskAssignee(ctx, ident.UserID, res.TaskID)
		if err != nil {
			return Deny, err
		}
		if isAssignee {
			if method == http.MethodPatch && res.Class == ClassTaskStatus {
				return Allow, nil
			}
			if method == http.MethodPost && res.Class == ClassCommentOnTask {
				return Allow, nil
			}
			return Deny, nil
		}
		// Neither author nor assignee. Deletes are re-checked explicitly
		// even though the terminal rule already denies them.
		if method == http.MethodDelete {
			return Deny, nil
		}
		return Deny, nil
	}
	return Deny, nil
}
