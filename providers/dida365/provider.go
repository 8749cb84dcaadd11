// Package dida365 wraps the Dida365 open API task endpoints. Writes carry
// idempotency keys so a replayed create or complete is not applied twice.
package dida365

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/auth"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/transport"
)

const (
	ServiceName     = "dida365"
	BaseURL         = "https://api.dida365.com"
	DefaultTimeZone = "Asia/Shanghai"
	DefaultKind     = "TEXT"

	// DateLayout is the timestamp format the API accepts for start and due
	// dates, always rendered in UTC.
	DateLayout = "2006-01-02T15:04:05.000-0700"

	PriorityNone   = 0
	PriorityLow    = 1
	PriorityMedium = 3
	PriorityHigh   = 5
)

type Config struct {
	AccessToken string
	// Cookie authenticates the web API endpoints the open API lacks, such as
	// task comments. Optional.
	Cookie     string
	BaseURL    string
	HTTPClient transport.HTTPDoer
}

func DefaultConfig() Config {
	return Config{BaseURL: BaseURL}
}

type Client struct {
	client *core.Client
	cookie string
	now    func() time.Time
}

func New(cfg Config, opts ...core.Option) (*Client, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, goerrors.New("dida365: access_token is required", goerrors.CategoryBadInput).
			WithTextCode(core.OutboundErrorConfigInvalid)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultConfig().BaseURL
	}
	cookie := strings.TrimSpace(cfg.Cookie)
	secrets := []string{token}
	if cookie != "" {
		secrets = append(secrets, cookie)
	}
	options := append([]core.Option{
		core.WithTransport(transport.NewRESTAdapter(cfg.HTTPClient)),
		core.WithTokenFetcher(auth.NewStaticFetcher(token, 0)),
		core.WithSecrets(secrets...),
	}, opts...)

	client, err := core.NewClient(core.Config{ServiceName: ServiceName, BaseURL: baseURL}, options...)
	if err != nil {
		return nil, err
	}
	return &Client{
		client: client,
		cookie: cookie,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (c *Client) ListProjects(ctx context.Context) core.Envelope {
	return c.client.Execute(ctx, core.RequestSpec{
		Method:    http.MethodGet,
		Target:    "/open/v1/project",
		Operation: "list_projects",
	})
}

// ProjectData returns the project together with its undone tasks.
func (c *Client) ProjectData(ctx context.Context, projectID string) core.Envelope {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return core.Failure(core.CodeBadRequest, "dida365: project_id is required", nil)
	}
	return c.client.Execute(ctx, core.RequestSpec{
		Method:    http.MethodGet,
		Target:    "/open/v1/project/" + url.PathEscape(projectID) + "/data",
		Operation: "project_data",
	})
}

type NewTask struct {
	ProjectID string
	Title     string
	Content   string
	Tags      []string
	Priority  int
	// StartDate defaults to now. A defaulted start is left out of the
	// idempotency key so repeated creates still collapse.
	StartDate time.Time
	DueDate   time.Time
	Kind      string
	TimeZone  string
	Assignee  string
	// Reminder adds an on-start reminder.
	Reminder bool
}

func (c *Client) CreateTask(ctx context.Context, task NewTask) core.Envelope {
	projectID := strings.TrimSpace(task.ProjectID)
	title := strings.TrimSpace(task.Title)
	if projectID == "" || title == "" {
		return core.Failure(core.CodeBadRequest, "dida365: project_id and title are required", nil)
	}
	kind := strings.TrimSpace(task.Kind)
	if kind == "" {
		kind = DefaultKind
	}
	timeZone := strings.TrimSpace(task.TimeZone)
	if timeZone == "" {
		timeZone = DefaultTimeZone
	}

	explicitStart := ""
	start := task.StartDate
	if !start.IsZero() {
		explicitStart = FormatDate(start)
	} else {
		start = c.now()
	}
	payload := map[string]any{
		"projectId": projectID,
		"title":     title,
		"priority":  task.Priority,
		"timeZone":  timeZone,
		"kind":      kind,
		"startDate": FormatDate(start),
	}
	if task.Content != "" {
		payload["content"] = task.Content
	}
	if assignee := strings.TrimSpace(task.Assignee); assignee != "" {
		payload["assignee"] = assignee
	}
	if task.Reminder {
		payload["reminders"] = []string{"TRIGGER:PT0S"}
	}
	if len(task.Tags) > 0 {
		payload["tags"] = task.Tags
	}
	dueDate := ""
	if !task.DueDate.IsZero() {
		dueDate = FormatDate(task.DueDate)
		payload["dueDate"] = dueDate
	}

	return c.client.Execute(ctx, core.RequestSpec{
		Method:    http.MethodPost,
		Target:    "/open/v1/task",
		Body:      payload,
		Operation: "task_create",
		IdempotencyKey: core.BuildIdempotencyKey("dida365.task_create",
			projectID, title, task.Content, task.Priority, explicitStart, dueDate, kind, task.Assignee, task.Tags),
	})
}

func (c *Client) CompleteTask(ctx context.Context, projectID string, taskID string) core.Envelope {
	projectID, taskID = strings.TrimSpace(projectID), strings.TrimSpace(taskID)
	if projectID == "" || taskID == "" {
		return core.Failure(core.CodeBadRequest, "dida365: project_id and task_id are required", nil)
	}
	return c.client.Execute(ctx, core.RequestSpec{
		Method:         http.MethodPost,
		Target:         taskPath(projectID, taskID) + "/complete",
		Operation:      "task_complete",
		IdempotencyKey: core.BuildIdempotencyKey("dida365.task_complete", projectID, taskID),
	})
}

func (c *Client) GetTask(ctx context.Context, projectID string, taskID string) core.Envelope {
	projectID, taskID = strings.TrimSpace(projectID), strings.TrimSpace(taskID)
	if projectID == "" || taskID == "" {
		return core.Failure(core.CodeBadRequest, "dida365: project_id and task_id are required", nil)
	}
	return c.client.Execute(ctx, core.RequestSpec{
		Method:    http.MethodGet,
		Target:    taskPath(projectID, taskID),
		Operation: "task_get",
	})
}

// TaskComments reads the comments of a task from the web API, which only
// accepts the session cookie.
func (c *Client) TaskComments(ctx context.Context, projectID string, taskID string) core.Envelope {
	projectID, taskID = strings.TrimSpace(projectID), strings.TrimSpace(taskID)
	if projectID == "" || taskID == "" {
		return core.Failure(core.CodeBadRequest, "dida365: project_id and task_id are required", nil)
	}
	if c.cookie == "" {
		return core.Failure(core.CodeBadRequest, "dida365: cookie is required for task comments", nil)
	}
	return c.client.Execute(ctx, core.RequestSpec{
		Method:    http.MethodGet,
		Target:    "/api/v2/project/" + url.PathEscape(projectID) + "/task/" + url.PathEscape(taskID) + "/comments",
		Headers:   map[string]string{"Cookie": c.cookie},
		Operation: "task_comments",
		SkipAuth:  true,
	})
}

type TaskUpdate struct {
	ProjectID string
	TaskID    string
	Title     string
	// Content is appended to the existing content, or prepended when
	// ContentFront is set.
	Content      string
	ContentFront bool
	Priority     int
	StartDate    string
}

// UpdateTask reads the task, merges content and posts the changed fields. The
// idempotency key covers the requested change, not the merged result, so a
// repeated update neither reads nor writes again.
func (c *Client) UpdateTask(ctx context.Context, update TaskUpdate) core.Envelope {
	projectID, taskID := strings.TrimSpace(update.ProjectID), strings.TrimSpace(update.TaskID)
	if projectID == "" || taskID == "" {
		return core.Failure(core.CodeBadRequest, "dida365: project_id and task_id are required", nil)
	}
	key := core.BuildIdempotencyKey("dida365.task_update",
		projectID, taskID, update.Title, update.Content, update.ContentFront, update.Priority, update.StartDate)
	if entry, ok := c.client.Idempotency().Lookup(key); ok {
		return entry.Result
	}
	current := c.GetTask(ctx, projectID, taskID)
	if !current.OK() {
		return current
	}
	existing := ""
	if response, ok := core.DataAs[core.Response](current); ok {
		if body, ok := response.Body.(map[string]any); ok {
			existing, _ = body["content"].(string)
		}
	}
	content := mergeContent(existing, update.Content, update.ContentFront)

	payload := map[string]any{
		"projectId": projectID,
		"taskId":    taskID,
		"content":   content,
	}
	if title := strings.TrimSpace(update.Title); title != "" {
		payload["title"] = title
	}
	if update.Priority != PriorityNone {
		payload["priority"] = update.Priority
	}
	if start := strings.TrimSpace(update.StartDate); start != "" {
		payload["startDate"] = start
	}
	return c.client.Execute(ctx, core.RequestSpec{
		Method:         http.MethodPost,
		Target:         "/open/v1/task/" + url.PathEscape(taskID),
		Body:           payload,
		Operation:      "task_update",
		IdempotencyKey: key,
	})
}

func (c *Client) Forget(key string) bool {
	return c.client.Forget(key)
}

func (c *Client) Core() *core.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

func FormatDate(value time.Time) string {
	return value.UTC().Format(DateLayout)
}

func taskPath(projectID string, taskID string) string {
	return "/open/v1/project/" + url.PathEscape(projectID) + "/task/" + url.PathEscape(taskID)
}

func mergeContent(existing string, addition string, front bool) string {
	switch {
	case addition == "":
		return existing
	case existing == "":
		return addition
	case front:
		return addition + "\n" + existing
	default:
		return existing + "\n" + addition
	}
}
