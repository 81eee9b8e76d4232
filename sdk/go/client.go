package foundrysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Foundry HTTP API client.
type Client struct {
	BaseURL     string
	FoundryID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client for one foundry. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v1.
func New(baseURL, foundryID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		FoundryID: foundryID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID                  string  `json:"id"`
	FoundryID           string  `json:"foundry_id"`
	TaskNumber          int64   `json:"task_number"`
	Title               string  `json:"title"`
	Type                string  `json:"type"`
	Status              string  `json:"status"`
	RiskLevel           string  `json:"risk_level"`
	CreatorID           string  `json:"creator_id"`
	AssigneeID          *string `json:"assignee_id,omitempty"`
	Progress            int     `json:"progress"`
	ApprovalRequestedAt *string `json:"approval_requested_at,omitempty"`
	ApprovalEscalated   bool    `json:"approval_escalated"`
}

// NewTask is the body of CreateTask.
type NewTask struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	RiskLevel   string `json:"risk_level,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	ObjectiveID string `json:"objective_id,omitempty"`
}

type Delegation struct {
	ID          string   `json:"id"`
	FoundryID   string   `json:"foundry_id"`
	DelegatorID string   `json:"delegator_id"`
	DelegateID  string   `json:"delegate_id"`
	IsActive    bool     `json:"is_active"`
	StartDate   string   `json:"start_date"`
	EndDate     *string  `json:"end_date,omitempty"`
	AllTasks    bool     `json:"all_tasks"`
	TaskTypes   []string `json:"task_types"`
	Reason      string   `json:"reason,omitempty"`
}

// NewDelegation is the body of CreateDelegation. An empty DelegatorID
// delegates the caller's own authority.
type NewDelegation struct {
	DelegatorID string   `json:"delegator_id,omitempty"`
	DelegateID  string   `json:"delegate_id"`
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
	AllTasks    bool     `json:"all_tasks,omitempty"`
	TaskTypes   []string `json:"task_types,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// EscalationCandidate is a task waiting on approval past the timeout.
type EscalationCandidate struct {
	TaskID              string  `json:"task_id"`
	TaskNumber          int64   `json:"task_number"`
	Title               string  `json:"title"`
	Status              string  `json:"status"`
	ApprovalRequestedAt string  `json:"approval_requested_at"`
	HoursPending        float64 `json:"hours_pending"`
	Escalated           bool    `json:"approval_escalated"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	FoundryID  string `json:"foundry_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps event listings. Pass NextCursor back to EventsPage
// for the next older page.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

func (c *Client) CreateTask(ctx context.Context, in NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.foundryPath("tasks"), in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, ""), nil, &resp)
	return resp, err
}

// ListTasks lists tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, statuses ...string) ([]Task, error) {
	endpoint := c.foundryPath("tasks")
	if len(statuses) > 0 {
		endpoint += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) AcceptTask(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "accept", nil)
}

func (c *Client) DeclineTask(ctx context.Context, taskID, reason string) (Task, error) {
	return c.taskAction(ctx, taskID, "decline", map[string]any{"reason": reason})
}

func (c *Client) AmendTask(ctx context.Context, taskID, notes string) (Task, error) {
	return c.taskAction(ctx, taskID, "amend", map[string]any{"notes": notes})
}

func (c *Client) SubmitAmendment(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "submit-amendment", nil)
}

func (c *Client) SubmitForReview(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "submit", nil)
}

func (c *Client) NudgeTask(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "nudge", nil)
}

func (c *Client) ForwardTask(ctx context.Context, taskID, to, note string) (Task, error) {
	return c.taskAction(ctx, taskID, "forward", map[string]any{"to": to, "note": note})
}

// Decide approves or rejects a task at its current review stage.
func (c *Client) Decide(ctx context.Context, taskID string, approve bool, note string) (Task, error) {
	return c.taskAction(ctx, taskID, "decision", map[string]any{"approve": approve, "note": note})
}

// BatchDecide applies one decision to every task or to none of them.
func (c *Client) BatchDecide(ctx context.Context, taskIDs []string, approve bool, note string) ([]Task, error) {
	body := map[string]any{"task_ids": taskIDs, "approve": approve, "note": note}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, c.foundryPath("tasks/batch-decision"), body, &resp)
	return resp.Items, err
}

// CanApprove reports whether userID may approve the task; an empty userID
// checks the caller.
func (c *Client) CanApprove(ctx context.Context, taskID, userID string) (bool, error) {
	endpoint := c.taskPath(taskID, "can-approve")
	if userID != "" {
		endpoint += "?user_id=" + url.QueryEscape(userID)
	}
	var resp struct {
		CanApprove bool `json:"can_approve"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.CanApprove, err
}

func (c *Client) Escalate(ctx context.Context, taskID, reason string) (Task, error) {
	return c.taskAction(ctx, taskID, "escalate", map[string]any{"reason": reason})
}

// Escalations lists overdue approvals. A zero timeout uses the foundry policy.
func (c *Client) Escalations(ctx context.Context, timeoutHours float64) ([]EscalationCandidate, error) {
	endpoint := c.foundryPath("escalations")
	if timeoutHours > 0 {
		endpoint += "?timeout_hours=" + strconv.FormatFloat(timeoutHours, 'f', -1, 64)
	}
	var resp struct {
		Items []EscalationCandidate `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) CreateDelegation(ctx context.Context, in NewDelegation) (Delegation, error) {
	var resp Delegation
	err := c.do(ctx, http.MethodPost, c.foundryPath("delegations"), in, &resp)
	return resp, err
}

func (c *Client) ListDelegations(ctx context.Context) ([]Delegation, error) {
	var resp struct {
		Items []Delegation `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.foundryPath("delegations"), nil, &resp)
	return resp.Items, err
}

func (c *Client) RevokeDelegation(ctx context.Context, id string) (Delegation, error) {
	var resp Delegation
	endpoint := c.foundryPath(fmt.Sprintf("delegations/%s/revoke", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a page of events older than cursor.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("before", cursor)
	}
	endpoint := c.foundryPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) taskAction(ctx context.Context, taskID, action string, body any) (Task, error) {
	if body == nil {
		body = map[string]any{}
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, action), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) foundryPath(p string) string {
	return fmt.Sprintf("foundries/%s/%s", url.PathEscape(c.FoundryID), strings.TrimLeft(p, "/"))
}

func (c *Client) taskPath(taskID, action string) string {
	p := "tasks/" + url.PathEscape(taskID)
	if action != "" {
		p += "/" + action
	}
	return c.foundryPath(p)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
