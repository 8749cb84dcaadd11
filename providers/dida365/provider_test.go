package dida365

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-outbound/core"
)

type recordedCall struct {
	method string
	path   string
	auth   string
	cookie string
	body   map[string]any
}

type fakeDida struct {
	mu      sync.Mutex
	calls   []recordedCall
	content string
}

func (f *fakeDida) taskContent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.content == "" {
		return "first line"
	}
	return f.content
}

func (f *fakeDida) setContent(content string) {
	f.mu.Lock()
	f.content = content
	f.mu.Unlock()
}

func (f *fakeDida) record(r *http.Request) recordedCall {
	call := recordedCall{
		method: r.Method,
		path:   r.URL.Path,
		auth:   r.Header.Get("Authorization"),
		cookie: r.Header.Get("Cookie"),
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&call.body)
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	return call
}

func (f *fakeDida) snapshot() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func newFakeServer(t *testing.T, fake *fakeDida) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := fake.record(r)
		switch {
		case call.method == http.MethodGet && call.path == "/open/v1/project":
			_, _ = w.Write([]byte(`[{"id":"p1","name":"Inbox"}]`))
		case call.method == http.MethodGet && call.path == "/open/v1/project/p1/task/t1":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "t1", "projectId": "p1", "content": fake.taskContent()})
		case call.method == http.MethodPost && call.path == "/open/v1/task":
			_, _ = w.Write([]byte(`{"id":"t-new","projectId":"p1"}`))
		case call.method == http.MethodPost && call.path == "/open/v1/project/p1/task/t1/complete":
			w.WriteHeader(http.StatusOK)
		case call.method == http.MethodPost && call.path == "/open/v1/task/t1":
			if content, ok := call.body["content"].(string); ok {
				fake.setContent(content)
			}
			_, _ = w.Write([]byte(`{"id":"t1"}`))
		case call.method == http.MethodGet && call.path == "/api/v2/project/p1/task/t1/comments":
			if call.cookie == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`[{"id":"c1","title":"looks good"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errorMessage":"not found"}`))
		}
	}))
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := New(Config{AccessToken: "dida-access-token", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.now = func() time.Time { return time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC) }
	return client
}

func TestListProjects_UsesBearerToken(t *testing.T) {
	fake := &fakeDida{}
	server := newFakeServer(t, fake)
	defer server.Close()
	client := newTestClient(t, server)

	env := client.ListProjects(context.Background())
	if !env.OK() {
		t.Fatalf("expected success, got %+v", env)
	}
	response, _ := core.DataAs[core.Response](env)
	if projects, ok := response.Body.([]any); !ok || len(projects) != 1 {
		t.Fatalf("expected project list, got %#v", response.Body)
	}
	if calls := fake.snapshot(); calls[0].auth != "Bearer dida-access-token" {
		t.Fatalf("unexpected authorization %q", calls[0].auth)
	}
}

func TestCreateTask_PayloadAndIdempotency(t *testing.T) {
	fake := &fakeDida{}
	server := newFakeServer(t, fake)
	defer server.Close()
	client := newTestClient(t, server)

	task := NewTask{
		ProjectID: "p1",
		Title:     "rotate certificates",
		Priority:  PriorityHigh,
		DueDate:   time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC),
		Reminder:  true,
	}
	first := client.CreateTask(context.Background(), task)
	client.now = func() time.Time { return time.Date(2026, 3, 1, 8, 31, 0, 0, time.UTC) }
	second := client.CreateTask(context.Background(), task)
	if !first.OK() || !second.OK() {
		t.Fatalf("expected success, got %+v / %+v", first, second)
	}
	calls := fake.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected duplicate create to be suppressed, got %d calls", len(calls))
	}
	body := calls[0].body
	if body["startDate"] != "2026-03-01T08:30:00.000+0000" || body["dueDate"] != "2026-03-02T18:00:00.000+0000" {
		t.Fatalf("unexpected dates %v / %v", body["startDate"], body["dueDate"])
	}
	if body["timeZone"] != DefaultTimeZone || body["kind"] != DefaultKind {
		t.Fatalf("expected defaults, got %v", body)
	}
	if reminders, ok := body["reminders"].([]any); !ok || reminders[0] != "TRIGGER:PT0S" {
		t.Fatalf("expected reminder, got %v", body["reminders"])
	}
}

func TestCreateTask_RequiresProjectAndTitle(t *testing.T) {
	fake := &fakeDida{}
	server := newFakeServer(t, fake)
	defer server.Close()
	client := newTestClient(t, server)

	if env := client.CreateTask(context.Background(), NewTask{ProjectID: "p1"}); env.Code != core.CodeBadRequest {
		t.Fatalf("expected bad request, got %+v", env)
	}
	if len(fake.snapshot()) != 0 {
		t.Fatalf("expected no upstream call")
	}
}

func TestCompleteTask_EmptyBodyIsSuccess(t *testing.T) {
	fake := &fakeDida{}
	server := newFakeServer(t, fake)
	defer server.Close()
	client := newTestClient(t, server)

	env := client.CompleteTask(context.Background(), "p1", "t1")
	if !env.OK() {
		t.Fatalf("expected success, got %+v", env)
	}
	client.CompleteTask(context.Background(), "p1", "t1")
	if len(fake.snapshot()) != 1 {
		t.Fatalf("expected completion to be idempotent")
	}
}

func TestUpdateTask_AppendsContent(t *testing.T) {
	fake := &fakeDida{}
	server := newFakeServer(t, fake)
	defer server.Close()
	client := newTestClient(t, server)

	env := client.UpdateTask(context.Background(), TaskUpdate{
		ProjectID: "p1",
		TaskID:    "t1",
		Content:   "second line",
	})
	if !env.OK() {
		t.Fatalf("expected success, got %+v", env)
	}
	calls := fake.snapshot()
	if len(calls) != 2 || calls[0].method != http.MethodGet {
		t.Fatalf("expected read then write, got %+v", calls)
	}
	body := calls[1].body
	if body["content"] != "first line\nsecond line" {
		t.Fatalf("expected merged content, got %q", body["content"])
	}
	if _, ok := body["title"]; ok {
		t.Fatalf("expected unset title to be omitted")
	}
}

func TestUpdateTask_RepeatedUpdateIsAppliedOnce(t *testing.T) {
	fake := &fakeDida{}
	server := newFakeServer(t, fake)
	defer server.Close()
	client := newTestClient(t, server)

	update := TaskUpdate{ProjectID: "p1", TaskID: "t1", Content: "second line"}
	first := client.UpdateTask(context.Background(), update)
	second := client.UpdateTask(context.Background(), update)
	if !first.OK() || !second.OK() {
		t.Fatalf("expected success, got %+v / %+v", first, second)
	}
	writes := 0
	for _, call := range fake.snapshot() {
		if call.method == http.MethodPost {
			writes++
		}
	}
	if writes != 1 {
		t.Fatalf("expected a single write, got %d", writes)
	}
	if got := fake.taskContent(); got != "first line\nsecond line" {
		t.Fatalf("expected content appended once, got %q", got)
	}

	other := client.UpdateTask(context.Background(), TaskUpdate{ProjectID: "p1", TaskID: "t1", Content: "second line", ContentFront: true})
	if !other.OK() {
		t.Fatalf("expected success, got %+v", other)
	}
	if got := fake.taskContent(); got != "second line\nfirst line\nsecond line" {
		t.Fatalf("expected a different intent to write, got %q", got)
	}
}

func TestTaskComments_UsesCookieWithoutBearer(t *testing.T) {
	fake := &fakeDida{}
	server := newFakeServer(t, fake)
	defer server.Close()
	client, err := New(Config{
		AccessToken: "dida-access-token",
		Cookie:      "t=session-cookie-value",
		BaseURL:     server.URL,
		HTTPClient:  server.Client(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	env := client.TaskComments(context.Background(), "p1", "t1")
	if !env.OK() {
		t.Fatalf("expected success, got %+v", env)
	}
	response, _ := core.DataAs[core.Response](env)
	if comments, ok := response.Body.([]any); !ok || len(comments) != 1 {
		t.Fatalf("expected comments, got %#v", response.Body)
	}
	call := fake.snapshot()[0]
	if call.cookie != "t=session-cookie-value" || call.auth != "" {
		t.Fatalf("expected cookie only, got cookie=%q auth=%q", call.cookie, call.auth)
	}

	failed := client.TaskComments(context.Background(), "p1", "missing")
	if failed.OK() || strings.Contains(failed.Message, "session-cookie-value") {
		t.Fatalf("expected failure without cookie material, got %+v", failed)
	}
}

func TestTaskComments_RequiresCookie(t *testing.T) {
	fake := &fakeDida{}
	server := newFakeServer(t, fake)
	defer server.Close()
	client := newTestClient(t, server)

	if env := client.TaskComments(context.Background(), "p1", "t1"); env.Code != core.CodeBadRequest {
		t.Fatalf("expected bad request, got %+v", env)
	}
	if len(fake.snapshot()) != 0 {
		t.Fatalf("expected no upstream call")
	}
}

func TestGetTask_MissingTaskIsPermanent(t *testing.T) {
	fake := &fakeDida{}
	server := newFakeServer(t, fake)
	defer server.Close()
	client := newTestClient(t, server)

	env := client.GetTask(context.Background(), "p1", "missing")
	if env.Code != core.CodePermanent {
		t.Fatalf("expected permanent failure, got %+v", env)
	}
	if len(fake.snapshot()) != 1 {
		t.Fatalf("expected no retry for a 404")
	}
}

func TestMergeContent(t *testing.T) {
	if got := mergeContent("a", "b", true); got != "b\na" {
		t.Fatalf("expected prepend, got %q", got)
	}
	if got := mergeContent("a", "", false); got != "a" {
		t.Fatalf("expected existing content, got %q", got)
	}
}
