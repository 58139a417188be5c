package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"testing"
	"time"

	"tms/internal/config"
	"tms/internal/db"
	"tms/internal/domain"
	"tms/internal/engine"
	"tms/internal/migrate"
	"tms/internal/token"
)

const testSecret = "server-test-secret"

type testServer struct {
	baseURL string
	engine  engine.Engine
	codec   *token.Codec

	admin    domain.User
	author   domain.User
	assignee domain.User
	third    domain.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Default()
	cfg.Retry.InitialDelay = time.Millisecond
	eng := engine.New(conn, cfg)
	eng.Logger = log.New(io.Discard, "", 0)

	codec, err := token.NewCodec(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	ts := &testServer{engine: eng, codec: codec}
	ts.admin = ts.seedUser(t, "admin@example.com", "ROLE_ADMIN", true)
	ts.author = ts.seedUser(t, "author@example.com", "ROLE_USER", true)
	ts.assignee = ts.seedUser(t, "assignee@example.com", "ROLE_USER", true)
	ts.third = ts.seedUser(t, "third@example.com", "ROLE_USER", true)
	ts.seedUser(t, "disabled@example.com", "ROLE_USER", false)

	handler, err := New(Config{
		Engine: eng,
		Auth:   AuthConfig{Codec: codec, Logger: log.New(io.Discard, "", 0)},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	ts.baseURL = "http://" + ln.Addr().String()
	return ts
}

func (ts *testServer) seedUser(t *testing.T, email, authority string, enabled bool) domain.User {
	t.Helper()
	u, err := ts.engine.CreateUser(context.Background(), engine.UserCreateOptions{
		Name:      email,
		Email:     email,
		Password:  "secret",
		Authority: authority,
		Enabled:   enabled,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}

func (ts *testServer) token(t *testing.T, u domain.User, roles ...string) string {
	t.Helper()
	tok, err := ts.codec.Issue(u.Email, roles)
	if err != nil {
		t.Fatalf("issue token for %s: %v", u.Email, err)
	}
	return tok
}

func doJSON(t *testing.T, method, url, bearer string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decodeInto(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env errorEnvelope
	decodeInto(t, data, &env)
	return env.Error.Code
}

func (ts *testServer) createTask(t *testing.T, bearer string, assigneeID int64) domain.Task {
	t.Helper()
	resp, data := doJSON(t, http.MethodPost, ts.baseURL+"/api/tasks", bearer, map[string]any{
		"name":        "quarterly report",
		"assignee_id": assigneeID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d, body %s", resp.StatusCode, data)
	}
	var task domain.Task
	decodeInto(t, data, &task)
	return task
}

func TestHealthEndpointIsPublic(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, http.MethodGet, ts.baseURL+"/", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, body %s", resp.StatusCode, data)
	}
	var body map[string]string
	decodeInto(t, data, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %s", data)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id header")
	}
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)
	url := ts.baseURL + "/api/auth/login"

	resp, data := doJSON(t, http.MethodPost, url, "", LoginRequest{Email: "author@example.com", Password: "secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d, body %s", resp.StatusCode, data)
	}
	var lr LoginResponse
	decodeInto(t, data, &lr)
	if lr.Token == "" || lr.TokenType != "Bearer" || lr.ExpiresIn <= 0 {
		t.Fatalf("login response = %+v", lr)
	}

	// The issued token must be usable on a protected route.
	resp, data = doJSON(t, http.MethodPost, ts.baseURL+"/api/tasks", lr.Token, map[string]any{
		"name":        "logged-in task",
		"assignee_id": ts.assignee.ID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create with login token: status %d, body %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, http.MethodPost, url, "", LoginRequest{Email: "author@example.com", Password: "nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d, body %s", resp.StatusCode, data)
	}
	if code := errorCode(t, data); code != "invalid_credentials" {
		t.Fatalf("bad password code = %s", code)
	}

	resp, data = doJSON(t, http.MethodPost, url, "", LoginRequest{Email: "disabled@example.com", Password: "secret"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("disabled login: status %d, body %s", resp.StatusCode, data)
	}
	if code := errorCode(t, data); code != "account_disabled" {
		t.Fatalf("disabled login code = %s", code)
	}
}

func TestCredentialRejection(t *testing.T) {
	ts := newTestServer(t)
	url := ts.baseURL + "/api/tasks/1"

	resp, data := doJSON(t, http.MethodGet, url, "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, body %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, http.MethodGet, url, "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d, body %s", resp.StatusCode, data)
	}
	if code := errorCode(t, data); code != "invalid_credentials" {
		t.Fatalf("garbage token code = %s", code)
	}

	// Sign with the right secret but an expiry already in the past.
	past, err := token.NewCodec(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	past.Now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := past.Issue(ts.author.Email, []string{"ROLE_USER"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	resp, data = doJSON(t, http.MethodGet, url, stale, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expired token: status %d, body %s", resp.StatusCode, data)
	}
	if code := errorCode(t, data); code != "token_expired" {
		t.Fatalf("expired token code = %s", code)
	}
}

func TestTaskOwnership(t *testing.T) {
	ts := newTestServer(t)
	authorTok := ts.token(t, ts.author, "ROLE_USER")
	assigneeTok := ts.token(t, ts.assignee, "ROLE_USER")
	thirdTok := ts.token(t, ts.third, "ROLE_USER")

	task := ts.createTask(t, authorTok, ts.assignee.ID)
	if task.Version != 0 || task.AuthorID != ts.author.ID {
		t.Fatalf("created task = %+v", task)
	}
	taskURL := fmt.Sprintf("%s/api/tasks/%d", ts.baseURL, task.ID)

	// The assignee may move the status but not touch anything else.
	resp, data := doJSON(t, http.MethodPatch, taskURL+"/status", assigneeTok, UpdateTaskStatusRequest{Status: domain.TaskProcessing})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assignee status patch: status %d, body %s", resp.StatusCode, data)
	}
	var got domain.Task
	decodeInto(t, data, &got)
	if got.Status != domain.TaskProcessing || got.Version != 1 {
		t.Fatalf("after status patch = %+v", got)
	}

	resp, data = doJSON(t, http.MethodPatch, taskURL, assigneeTok, map[string]any{"priority": "HIGH"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("assignee full patch: status %d, body %s", resp.StatusCode, data)
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("assignee full patch code = %s", code)
	}

	resp, data = doJSON(t, http.MethodGet, taskURL, assigneeTok, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("assignee read: status %d, body %s", resp.StatusCode, data)
	}

	// The author has the full surface.
	resp, data = doJSON(t, http.MethodPatch, taskURL, authorTok, map[string]any{"priority": "HIGH"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("author patch: status %d, body %s", resp.StatusCode, data)
	}
	decodeInto(t, data, &got)
	if got.Priority != domain.PriorityHigh || got.Version != 2 {
		t.Fatalf("after author patch = %+v", got)
	}

	// A bystander gets the same flat denial everywhere.
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		resp, data = doJSON(t, method, taskURL, thirdTok, nil)
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("third %s: status %d, body %s", method, resp.StatusCode, data)
		}
	}

	resp, data = doJSON(t, http.MethodDelete, taskURL, authorTok, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("author delete: status %d, body %s", resp.StatusCode, data)
	}
}

func TestStaleVersionConflicts(t *testing.T) {
	ts := newTestServer(t)
	authorTok := ts.token(t, ts.author, "ROLE_USER")

	task := ts.createTask(t, authorTok, ts.assignee.ID)
	taskURL := fmt.Sprintf("%s/api/tasks/%d", ts.baseURL, task.ID)

	resp, data := doJSON(t, http.MethodPatch, taskURL, authorTok, map[string]any{"name": "first edit", "version": 0})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("guarded patch: status %d, body %s", resp.StatusCode, data)
	}

	// Replaying the same version must conflict, not overwrite.
	resp, data = doJSON(t, http.MethodPatch, taskURL, authorTok, map[string]any{"name": "stale edit", "version": 0})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale patch: status %d, body %s", resp.StatusCode, data)
	}
	if code := errorCode(t, data); code != "version_conflict" {
		t.Fatalf("stale patch code = %s", code)
	}

	resp, data = doJSON(t, http.MethodGet, taskURL, authorTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read back: status %d, body %s", resp.StatusCode, data)
	}
	var got domain.Task
	decodeInto(t, data, &got)
	if got.Name != "first edit" || got.Version != 1 {
		t.Fatalf("read back = %+v, stale write leaked", got)
	}
}

func TestCommentAccess(t *testing.T) {
	ts := newTestServer(t)
	authorTok := ts.token(t, ts.author, "ROLE_USER")
	assigneeTok := ts.token(t, ts.assignee, "ROLE_USER")
	thirdTok := ts.token(t, ts.third, "ROLE_USER")
	adminTok := ts.token(t, ts.admin, "ROLE_ADMIN")

	task := ts.createTask(t, authorTok, ts.assignee.ID)
	commentsURL := fmt.Sprintf("%s/api/comments/task/%d", ts.baseURL, task.ID)

	resp, data := doJSON(t, http.MethodPost, commentsURL, authorTok, CreateCommentRequest{Text: "from author"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("author comment: status %d, body %s", resp.StatusCode, data)
	}
	var c domain.Comment
	decodeInto(t, data, &c)

	resp, data = doJSON(t, http.MethodPost, commentsURL, assigneeTok, CreateCommentRequest{Text: "from assignee"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("assignee comment: status %d, body %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, http.MethodPost, commentsURL, thirdTok, CreateCommentRequest{Text: "from third"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("third comment: status %d, body %s", resp.StatusCode, data)
	}

	// Reading the thread is an author privilege; the assignee only writes.
	resp, data = doJSON(t, http.MethodGet, commentsURL, authorTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("author list: status %d, body %s", resp.StatusCode, data)
	}
	var page PagedResponse[domain.Comment]
	decodeInto(t, data, &page)
	if page.TotalElements != 2 || len(page.Content) != 2 {
		t.Fatalf("thread = %+v", page)
	}

	resp, data = doJSON(t, http.MethodGet, commentsURL, assigneeTok, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("assignee list: status %d, body %s", resp.StatusCode, data)
	}

	// Direct comment ids are an administrative surface.
	commentURL := fmt.Sprintf("%s/api/comments/%d", ts.baseURL, c.ID)
	resp, data = doJSON(t, http.MethodGet, commentURL, authorTok, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("author direct comment read: status %d, body %s", resp.StatusCode, data)
	}
	resp, data = doJSON(t, http.MethodGet, commentURL, adminTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin direct comment read: status %d, body %s", resp.StatusCode, data)
	}
}

func TestAdminSurfaces(t *testing.T) {
	ts := newTestServer(t)
	adminTok := ts.token(t, ts.admin, "ROLE_ADMIN")
	userTok := ts.token(t, ts.author, "ROLE_USER")

	for _, route := range []string{"/api/users", "/api/tasks", "/api/comments", "/api/roles"} {
		resp, data := doJSON(t, http.MethodGet, ts.baseURL+route, userTok, nil)
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("user GET %s: status %d, body %s", route, resp.StatusCode, data)
		}
		resp, data = doJSON(t, http.MethodGet, ts.baseURL+route, adminTok, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("admin GET %s: status %d, body %s", route, resp.StatusCode, data)
		}
	}

	// Promotion through the role surface takes effect on the next token.
	roleURL := fmt.Sprintf("%s/api/users/%d/role", ts.baseURL, ts.third.ID)
	resp, data := doJSON(t, http.MethodPut, roleURL, adminTok, AssignRoleRequest{Authority: "ROLE_ADMIN"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assign role: status %d, body %s", resp.StatusCode, data)
	}
	var role domain.Role
	decodeInto(t, data, &role)
	if role.Authority != "ROLE_ADMIN" || role.UserID != ts.third.ID {
		t.Fatalf("role = %+v", role)
	}

	promotedTok := ts.token(t, ts.third, "ROLE_ADMIN")
	resp, data = doJSON(t, http.MethodGet, ts.baseURL+"/api/users", promotedTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("promoted GET /api/users: status %d, body %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, http.MethodPut, roleURL, userTok, AssignRoleRequest{Authority: "ROLE_ADMIN"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("user assign role: status %d, body %s", resp.StatusCode, data)
	}
}

func TestDuplicateEmailAnswersBadRequest(t *testing.T) {
	ts := newTestServer(t)
	adminTok := ts.token(t, ts.admin, "ROLE_ADMIN")

	resp, data := doJSON(t, http.MethodPost, ts.baseURL+"/api/users", adminTok, CreateUserRequest{
		Name:     "clone",
		Email:    "author@example.com",
		Password: "secret",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate email: status %d, body %s", resp.StatusCode, data)
	}
	if code := errorCode(t, data); code != "email_in_use" {
		t.Fatalf("duplicate email code = %s", code)
	}
}

func TestOpenAPIAndDocsArePublic(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, http.MethodGet, ts.baseURL+"/openapi.json", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("openapi: status %d", resp.StatusCode)
	}
	var oas struct {
		Paths map[string]any `json:"paths"`
	}
	decodeInto(t, data, &oas)
	if _, ok := oas.Paths["/api/tasks"]; !ok {
		t.Fatalf("openapi paths = %v", oas.Paths)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.baseURL+"/docs", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("docs: status %d", resp.StatusCode)
	}
}
