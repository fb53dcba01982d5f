package nostracksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Client is a minimal Nostrack HTTP API client. Admin calls sign a fresh
// auth event per request; the credential is only valid within the server's
// freshness window, so it is never cached.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. secretKey may be empty for
// public-only use.
func New(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		Timeout:   10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Task represents the API task model.
type Task struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	Type         string  `json:"type"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status"`
	Priority     bool    `json:"priority"`
	Ignored      bool    `json:"ignored"`
	AuthorPubkey *string `json:"author_pubkey,omitempty"`
	NostrEventID *string `json:"nostr_event_id,omitempty"`
	AdminNotes   *string `json:"admin_notes,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// Comment represents the API comment model.
type Comment struct {
	ID           string  `json:"id"`
	TaskID       string  `json:"task_id"`
	Content      string  `json:"content"`
	AuthorPubkey *string `json:"author_pubkey,omitempty"`
	NostrEventID *string `json:"nostr_event_id,omitempty"`
	IsAdmin      bool    `json:"is_admin"`
	CreatedAt    string  `json:"created_at"`
}

// Stats counts a project's tasks by status.
type Stats struct {
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Closed     int `json:"closed"`
	Total      int `json:"total"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListProjects returns active projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "api/projects", nil, &resp, false)
	return resp, err
}

// ListTasks returns a project's visible tasks.
func (c *Client) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	var resp []Task
	endpoint := fmt.Sprintf("api/projects/%s/tasks", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp, false)
	return resp, err
}

// Stats returns a project's task counts.
func (c *Client) Stats(ctx context.Context, projectID string) (Stats, error) {
	var resp Stats
	endpoint := fmt.Sprintf("api/projects/%s/stats", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp, false)
	return resp, err
}

// SubmitTask submits a task. When the client holds a secret key the
// submission is signed, attributing the author and triggering relay
// publication server-side.
func (c *Client) SubmitTask(ctx context.Context, projectID, taskType, title, description string) (Task, error) {
	body := map[string]any{
		"type":        taskType,
		"title":       title,
		"description": description,
	}
	if c.SecretKey != "" {
		content := title
		if description != "" {
			content += "\n\n" + description
		}
		ev := nostr.Event{
			Kind:      nostr.KindTextNote,
			CreatedAt: nostr.Timestamp(time.Now().Unix()),
			Content:   content,
		}
		if err := ev.Sign(c.SecretKey); err != nil {
			return Task{}, err
		}
		body["signed_event"] = ev
	}
	var resp Task
	endpoint := fmt.Sprintf("api/projects/%s/tasks", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp, false)
	return resp, err
}

// CommentTask adds a comment to a task.
func (c *Client) CommentTask(ctx context.Context, taskID, content string) (Comment, error) {
	body := map[string]any{"content": content}
	var resp Comment
	endpoint := fmt.Sprintf("api/tasks/%s/comments", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp, false)
	return resp, err
}

// ListComments returns a task's comments oldest first.
func (c *Client) ListComments(ctx context.Context, taskID string) ([]Comment, error) {
	var resp []Comment
	endpoint := fmt.Sprintf("api/tasks/%s/comments", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp, false)
	return resp, err
}

// AdminListTasks returns all tasks, ignored included.
func (c *Client) AdminListTasks(ctx context.Context, projectID string) ([]Task, error) {
	var resp []Task
	endpoint := "api/admin/tasks"
	if projectID != "" {
		endpoint += "?project_id=" + url.QueryEscape(projectID)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp, true)
	return resp, err
}

// AdminUpdateStatus moves a task to a new status. adminNotes nil leaves
// notes untouched; a pointer to "" clears them.
func (c *Client) AdminUpdateStatus(ctx context.Context, taskID, status string, adminNotes *string) (Task, error) {
	body := map[string]any{"status": status}
	if adminNotes != nil {
		body["admin_notes"] = *adminNotes
	}
	var resp Task
	endpoint := fmt.Sprintf("api/admin/tasks/%s/status", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp, true)
	return resp, err
}

// AdminTogglePriority flips a task's priority flag.
func (c *Client) AdminTogglePriority(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("api/admin/tasks/%s/priority", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp, true)
	return resp, err
}

// AdminToggleIgnored flips a task's ignored flag.
func (c *Client) AdminToggleIgnored(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("api/admin/tasks/%s/ignored", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp, true)
	return resp, err
}

// AdminCompleteTask marks a task completed.
func (c *Client) AdminCompleteTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("api/admin/tasks/%s/complete", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp, true)
	return resp, err
}

// AdminDeleteTask removes a task and its comments.
func (c *Client) AdminDeleteTask(ctx context.Context, taskID string) error {
	endpoint := fmt.Sprintf("api/admin/tasks/%s", url.PathEscape(taskID))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil, true)
}

// AdminReplyNostr signs a reply to the task's original event with the
// client's key and asks the server to publish it.
func (c *Client) AdminReplyNostr(ctx context.Context, taskID, content, replyToEventID string) (string, error) {
	ev := nostr.Event{
		Kind:      nostr.KindTextNote,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Content:   content,
		Tags:      nostr.Tags{{"e", replyToEventID}},
	}
	if err := ev.Sign(c.SecretKey); err != nil {
		return "", err
	}
	body := map[string]any{"signed_event": ev}
	var resp struct {
		EventID string `json:"event_id"`
	}
	endpoint := fmt.Sprintf("api/admin/tasks/%s/reply-nostr", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp, true)
	return resp.EventID, err
}

// AdminSetRelays replaces the relay set.
func (c *Client) AdminSetRelays(ctx context.Context, relays []string) error {
	body := map[string]any{"relays": relays}
	return c.do(ctx, http.MethodPut, "api/admin/settings/nostr-relays", body, nil, true)
}

// Whoami verifies the credential and returns the admin pubkey.
func (c *Client) Whoami(ctx context.Context) (string, error) {
	var resp struct {
		Pubkey string `json:"pubkey"`
	}
	err := c.do(ctx, http.MethodGet, "api/admin/whoami", nil, &resp, true)
	return resp.Pubkey, err
}

// authHeader signs a fresh auth event and serializes it as the token.
func (c *Client) authHeader() (string, error) {
	if c.SecretKey == "" {
		return "", fmt.Errorf("secret key required for admin calls")
	}
	ev := nostr.Event{
		Kind:      nostr.KindClientAuthentication,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Tags:      nostr.Tags{{"challenge", "admin-login"}},
	}
	if err := ev.Sign(c.SecretKey); err != nil {
		return "", err
	}
	token, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return "Nostr " + string(token), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any, admin bool) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if admin {
		header, err := c.authHeader()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", header)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
