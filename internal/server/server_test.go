package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"foundry/internal/config"
	"foundry/internal/db"
	"foundry/internal/domain"
	"foundry/internal/engine"
	"foundry/internal/migrate"
)

const (
	testSecret  = "test-secret"
	testFoundry = "acme"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	now    time.Time
	mu     sync.Mutex
}

func (s *testServer) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *testServer) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))

	ts := &testServer{client: &http.Client{}, now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	e := engine.New(conn, config.Default(testFoundry))
	e.Now = ts.Now
	ts.Engine = e

	ctx := context.Background()
	_, err = e.InitFoundry(ctx, engine.FoundryInitOptions{ID: testFoundry, Name: "Acme", ActorID: "founder"})
	require.NoError(t, err)
	for _, p := range []engine.ProfileCreateOptions{
		{ID: "exec", FullName: "Eve Exec", Role: "Executive"},
		{ID: "alice", FullName: "Alice", Role: "Apprentice", Skills: []string{"go"}},
		{ID: "bob", FullName: "Bob", Role: "Apprentice", Skills: []string{"go", "sql"}},
	} {
		p.FoundryID, p.ActorID = testFoundry, "founder"
		_, err := e.CreateProfile(ctx, p)
		require.NoError(t, err)
	}

	handler, err := New(Config{
		Engine: e,
		Auth:   AuthConfig{JWTSecret: testSecret, AllowLegacyHeader: true, AllowDevLogin: true},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	ts.URL = "http://" + ln.Addr().String() + "/v1"
	return ts
}

func bearer(t *testing.T, profileID string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, profileID, nil, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func (s *testServer) call(t *testing.T, as, method, path string, body any) (int, []byte) {
	t.Helper()
	var headers map[string]string
	if as != "" {
		headers = bearer(t, as)
	}
	res, data := doJSON(t, s.client, method, s.URL+path, body, headers)
	return res.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

// pendingExec creates a Medium task for alice and walks it to executive approval.
func (s *testServer) pendingExec(t *testing.T) domain.Task {
	t.Helper()
	status, data := s.call(t, "founder", http.MethodPost, "/foundries/acme/tasks", map[string]any{
		"title":       "Ship billing",
		"risk_level":  "Medium",
		"assignee_id": "alice",
	})
	require.Equal(t, http.StatusCreated, status, string(data))
	task := decode[domain.Task](t, data)

	for _, step := range []struct{ as, verb string }{{"alice", "accept"}, {"alice", "submit"}} {
		status, data = s.call(t, step.as, http.MethodPost, "/foundries/acme/tasks/"+task.ID+"/"+step.verb, nil)
		require.Equal(t, http.StatusOK, status, string(data))
	}
	status, data = s.call(t, "bob", http.MethodPost, "/foundries/acme/tasks/"+task.ID+"/decision", map[string]any{"approve": true})
	require.Equal(t, http.StatusOK, status, string(data))
	task = decode[domain.Task](t, data)
	require.Equal(t, domain.StatusPendingExecutiveApproval, task.Status)
	return task
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	status, data := srv.call(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status, string(data))

	status, data = srv.call(t, "", http.MethodGet, "/foundries", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorCode(t, data))
}

func TestAuthSources(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/me", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/me", nil, map[string]string{"X-Profile-Id": "alice"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	me := decode[MeResponse](t, data)
	assert.Equal(t, "alice", me.ProfileID)
	assert.Equal(t, "legacy_header", me.Source)

	status, data := srv.call(t, "alice", http.MethodPost, "/profiles/alice/api-keys", map[string]any{"name": "laptop"})
	require.Equal(t, http.StatusCreated, status, string(data))
	key := decode[APIKeyResponse](t, data)
	require.NotEmpty(t, key.Key)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/me", nil, map[string]string{"X-Api-Key": key.Key})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	me = decode[MeResponse](t, data)
	assert.Equal(t, "alice", me.ProfileID)
	assert.Equal(t, "api_key", me.Source)
	require.NotNil(t, me.Profile)
	assert.Equal(t, domain.RoleApprentice, me.Profile.Role)

	status, _ = srv.call(t, "bob", http.MethodGet, "/profiles/alice/api-keys", nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestDevLogin(t *testing.T) {
	srv := newTestServer(t)
	status, data := srv.call(t, "", http.MethodPost, "/auth/dev/login", map[string]any{"profile_id": "exec"})
	require.Equal(t, http.StatusOK, status, string(data))
	login := decode[DevLoginResponse](t, data)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "jwt", decode[MeResponse](t, data).Source)
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	task := srv.pendingExec(t)
	base := "/foundries/acme/tasks/" + task.ID

	status, data := srv.call(t, "exec", http.MethodGet, base+"/can-approve?user_id=bob", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	assert.False(t, decode[CanApproveResponse](t, data).CanApprove)

	status, data = srv.call(t, "exec", http.MethodGet, base+"/can-approve", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	can := decode[CanApproveResponse](t, data)
	assert.Equal(t, "exec", can.UserID)
	assert.True(t, can.CanApprove)

	status, data = srv.call(t, "bob", http.MethodPost, base+"/decision", map[string]any{"approve": true})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_approver", errorCode(t, data))

	status, data = srv.call(t, "exec", http.MethodPost, base+"/decision", map[string]any{"approve": true, "note": "ship it"})
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, domain.StatusCompleted, decode[domain.Task](t, data).Status)

	status, data = srv.call(t, "exec", http.MethodPost, base+"/decision", map[string]any{"approve": true})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "not_awaiting_approval", errorCode(t, data))

	status, data = srv.call(t, "alice", http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	assert.NotEmpty(t, decode[HistoryList](t, data).Items)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	status, data := srv.call(t, "founder", http.MethodPost, "/foundries/acme/tasks", map[string]any{
		"title":       "Write docs",
		"assignee_id": "alice",
	})
	require.Equal(t, http.StatusCreated, status, string(data))
	task := decode[domain.Task](t, data)
	base := "/foundries/acme/tasks/" + task.ID

	status, data = srv.call(t, "bob", http.MethodPost, base+"/accept", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_task_actor", errorCode(t, data))

	status, data = srv.call(t, "alice", http.MethodPost, base+"/submit", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_transition", errorCode(t, data))

	status, data = srv.call(t, "alice", http.MethodPost, "/foundries/acme/tasks", map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, status, string(data))

	status, data = srv.call(t, "alice", http.MethodGet, "/foundries/acme/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorCode(t, data))

	status, data = srv.call(t, "founder", http.MethodPost, "/foundries", map[string]any{"id": "other"})
	require.Equal(t, http.StatusCreated, status, string(data))
	status, _ = srv.call(t, "founder", http.MethodGet, "/foundries/other/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, data = srv.call(t, "alice", http.MethodPost, "/foundries/acme/delegations", map[string]any{"delegate_id": "bob", "all_tasks": true})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", errorCode(t, data))

	status, data = srv.call(t, "alice", http.MethodGet, "/foundries/acme/tasks?status=Bogus", nil)
	assert.Equal(t, http.StatusBadRequest, status, string(data))
}

func TestEscalationOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	task := srv.pendingExec(t)

	status, data := srv.call(t, "exec", http.MethodGet, "/foundries/acme/escalations", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	empty := decode[EscalationList](t, data)
	assert.Empty(t, empty.Items)
	assert.Equal(t, 24.0, empty.TimeoutHours)

	srv.Advance(25 * time.Hour)
	status, data = srv.call(t, "exec", http.MethodGet, "/foundries/acme/escalations?timeout_hours=24", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	list := decode[EscalationList](t, data)
	require.Len(t, list.Items, 1)
	assert.Equal(t, task.ID, list.Items[0].TaskID)
	assert.InDelta(t, 25, list.Items[0].HoursPending, 0.01)

	status, data = srv.call(t, "alice", http.MethodPost, "/foundries/acme/tasks/"+task.ID+"/escalate", map[string]any{"reason": "stuck"})
	assert.Equal(t, http.StatusForbidden, status, string(data))

	status, data = srv.call(t, "exec", http.MethodPost, "/foundries/acme/tasks/"+task.ID+"/escalate", map[string]any{"reason": "client unresponsive"})
	require.Equal(t, http.StatusOK, status, string(data))
	escalated := decode[domain.Task](t, data)
	assert.True(t, escalated.ApprovalEscalated)
	require.NotNil(t, escalated.EscalationReason)
	assert.Equal(t, "client unresponsive", *escalated.EscalationReason)
}

func TestBatchDecisionIsAtomic(t *testing.T) {
	srv := newTestServer(t)
	first := srv.pendingExec(t)
	second := srv.pendingExec(t)

	status, data := srv.call(t, "exec", http.MethodPost, "/foundries/acme/tasks/"+second.ID+"/decision", map[string]any{"approve": false})
	require.Equal(t, http.StatusOK, status, string(data))

	status, _ = srv.call(t, "exec", http.MethodPost, "/foundries/acme/tasks/batch-decision", map[string]any{
		"task_ids": []string{first.ID, second.ID},
		"approve":  true,
	})
	assert.Equal(t, http.StatusConflict, status)

	status, data = srv.call(t, "exec", http.MethodGet, "/foundries/acme/tasks/"+first.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.StatusPendingExecutiveApproval, decode[domain.Task](t, data).Status)

	status, data = srv.call(t, "exec", http.MethodPost, "/foundries/acme/tasks/batch-decision", map[string]any{
		"task_ids": []string{first.ID, first.ID},
		"approve":  true,
	})
	require.Equal(t, http.StatusOK, status, string(data))
	items := decode[TaskList](t, data).Items
	require.Len(t, items, 1)
	assert.Equal(t, domain.StatusCompleted, items[0].Status)
}

func TestDelegationOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	task := srv.pendingExec(t)

	status, data := srv.call(t, "exec", http.MethodPost, "/foundries/acme/delegations", map[string]any{
		"delegate_id": "bob",
		"all_tasks":   true,
		"reason":      "vacation",
	})
	require.Equal(t, http.StatusCreated, status, string(data))
	d := decode[domain.ApprovalDelegation](t, data)
	assert.Equal(t, "exec", d.DelegatorID)

	status, data = srv.call(t, "bob", http.MethodGet, "/foundries/acme/tasks/"+task.ID+"/can-approve", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	assert.True(t, decode[CanApproveResponse](t, data).CanApprove)

	status, data = srv.call(t, "exec", http.MethodPost, "/foundries/acme/delegations/"+d.ID+"/revoke", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	assert.False(t, decode[domain.ApprovalDelegation](t, data).IsActive)

	status, data = srv.call(t, "bob", http.MethodGet, "/foundries/acme/tasks/"+task.ID+"/can-approve", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	assert.False(t, decode[CanApproveResponse](t, data).CanApprove)
}

func TestRecommendationsAndRituals(t *testing.T) {
	srv := newTestServer(t)

	status, data := srv.call(t, "exec", http.MethodPost, "/foundries/acme/assignees/suggest", map[string]any{
		"required_skills": []string{"go"},
		"preferred_skills": []string{"sql"},
		"limit":           2,
	})
	require.Equal(t, http.StatusOK, status, string(data))
	suggestions := decode[SuggestionList](t, data).Items
	require.Len(t, suggestions, 2)
	assert.Equal(t, "bob", suggestions[0].UserID)

	status, data = srv.call(t, "exec", http.MethodGet, "/foundries/acme/profiles/alice/workload", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Zero(t, decode[WorkloadResponse](t, data).WorkloadScore)

	status, data = srv.call(t, "alice", http.MethodGet, "/foundries/acme/standups/today", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Nil(t, decode[StandupResponse](t, data).Standup)

	status, data = srv.call(t, "alice", http.MethodPost, "/foundries/acme/standups", map[string]any{"today": "billing", "blockers": "none"})
	require.Equal(t, http.StatusOK, status, string(data))

	status, data = srv.call(t, "alice", http.MethodGet, "/foundries/acme/standups/today", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	today := decode[StandupResponse](t, data).Standup
	require.NotNil(t, today)
	assert.Equal(t, "2024-03-01", today.Date)

	status, data = srv.call(t, "alice", http.MethodPut, "/foundries/acme/presence", map[string]any{"status": "busy"})
	require.Equal(t, http.StatusOK, status, string(data))
	status, data = srv.call(t, "alice", http.MethodPut, "/foundries/acme/presence", map[string]any{"status": "sleeping"})
	assert.Equal(t, http.StatusBadRequest, status, string(data))
}

func TestEventsListing(t *testing.T) {
	srv := newTestServer(t)
	srv.pendingExec(t)

	status, data := srv.call(t, "exec", http.MethodGet, "/foundries/acme/events?entity_kind=task&limit=2", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	page := decode[EventList](t, data)
	require.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)
	assert.Greater(t, page.Items[0].ID, page.Items[1].ID)

	status, data = srv.call(t, "exec", http.MethodGet, "/foundries/acme/events?type=task.created", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	for _, evt := range decode[EventList](t, data).Items {
		assert.Equal(t, "task.created", evt.Type)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc struct {
		Paths      map[string]any `json:"paths"`
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc.Paths, "/v1/foundries/{foundry_id}/tasks/{task_id}/can-approve")
	assert.Contains(t, doc.Components.SecuritySchemes, "bearerAuth")
}

func TestOpenAPIDocumentConcurrentFirstFetch(t *testing.T) {
	srv := newTestServer(t)
	const n = 8
	bodies := make([][]byte, n)
	errs := make([]error, n)
	wg := conc.NewWaitGroup()
	for i := 0; i < n; i++ {
		i := i
		wg.Go(func() {
			res, err := srv.client.Get(srv.URL + "/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			bodies[i], errs[i] = io.ReadAll(res.Body)
		})
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.NotEmpty(t, bodies[i])
		assert.Equal(t, string(bodies[0]), string(bodies[i]))
	}
}

func TestConfigRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	status, data := srv.call(t, "founder", http.MethodGet, "/foundries/acme/config", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	doc := decode[ConfigDocument](t, data)
	cfg, err := config.FromYAML([]byte(doc.YAML))
	require.NoError(t, err)
	cfg.Approvals.PeerOnlyRiskLevels = []string{"Low", "Medium"}
	raw, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	out := string(raw)
	status, data = srv.call(t, "alice", http.MethodPut, "/foundries/acme/config", ConfigDocument{YAML: out})
	assert.Equal(t, http.StatusForbidden, status, string(data))

	status, data = srv.call(t, "founder", http.MethodPut, "/foundries/acme/config", ConfigDocument{YAML: out})
	require.Equal(t, http.StatusOK, status, string(data))
	stored, err := srv.Engine.ConfigFor(context.Background(), testFoundry)
	require.NoError(t, err)
	assert.True(t, stored.PeerOnly(domain.RiskMedium))

	status, data = srv.call(t, "founder", http.MethodPut, "/foundries/acme/config", ConfigDocument{YAML: "escalation: ["})
	assert.Equal(t, http.StatusBadRequest, status, string(data))
	assert.Equal(t, "invalid_config", errorCode(t, data))
}

type delivery struct {
	event     string
	signature string
	body      []byte
}

func TestWebhookDispatchSignsDeliveries(t *testing.T) {
	srv := newTestServer(t)
	var (
		mu  sync.Mutex
		got []delivery
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, delivery{event: r.Header.Get("X-Foundry-Event"), signature: r.Header.Get("X-Foundry-Signature"), body: body})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	ctx := context.Background()
	cfg, err := srv.Engine.ConfigFor(ctx, testFoundry)
	require.NoError(t, err)
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"task.*"}, Secret: "s3cret"}}
	require.NoError(t, srv.Engine.ImportConfig(ctx, testFoundry, cfg, "founder"))

	d := NewWebhookDispatcher(srv.Engine, nil, nil)
	require.NoError(t, d.DispatchOnce(ctx))
	mu.Lock()
	assert.Empty(t, got, "history before the first dispatch is not replayed")
	mu.Unlock()

	status, data := srv.call(t, "founder", http.MethodPost, "/foundries/acme/tasks", map[string]any{"title": "Hooked"})
	require.Equal(t, http.StatusCreated, status, string(data))
	status, data = srv.call(t, "founder", http.MethodPost, "/foundries/acme/objectives", map[string]any{"title": "Q3"})
	require.Equal(t, http.StatusCreated, status, string(data))

	require.NoError(t, d.DispatchOnce(ctx))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "task.created", got[0].event)
	assert.True(t, VerifySignature("s3cret", got[0].body, got[0].signature))
	assert.False(t, VerifySignature("other", got[0].body, got[0].signature))
	var evt webhookEvent
	require.NoError(t, json.Unmarshal(got[0].body, &evt))
	assert.Equal(t, testFoundry, evt.FoundryID)
}

func TestWebhookSameURLKeepsSeparateCursors(t *testing.T) {
	srv := newTestServer(t)
	var (
		mu        sync.Mutex
		failTasks = true
		delivered []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		evt := r.Header.Get("X-Foundry-Event")
		if failTasks && strings.HasPrefix(evt, "task.") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		delivered = append(delivered, evt)
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	ctx := context.Background()
	cfg, err := srv.Engine.ConfigFor(ctx, testFoundry)
	require.NoError(t, err)
	cfg.Webhooks = []config.WebhookConfig{
		{URL: hook.URL, Events: []string{"task.created"}},
		{URL: hook.URL, Events: []string{"objective.created"}},
	}
	require.NoError(t, srv.Engine.ImportConfig(ctx, testFoundry, cfg, "founder"))

	d := NewWebhookDispatcher(srv.Engine, nil, nil)
	require.NoError(t, d.DispatchOnce(ctx))
	status, data := srv.call(t, "founder", http.MethodPost, "/foundries/acme/tasks", map[string]any{"title": "Shared"})
	require.Equal(t, http.StatusCreated, status, string(data))
	status, data = srv.call(t, "founder", http.MethodPost, "/foundries/acme/objectives", map[string]any{"title": "Q4"})
	require.Equal(t, http.StatusCreated, status, string(data))

	// the task hook fails while the objective hook moves past both events
	assert.Error(t, d.DispatchOnce(ctx))
	mu.Lock()
	assert.Equal(t, []string{"objective.created"}, delivered)
	failTasks = false
	mu.Unlock()

	require.NoError(t, d.DispatchOnce(ctx))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"objective.created", "task.created"}, delivered)
}

func TestWebhookFailureKeepsCursor(t *testing.T) {
	srv := newTestServer(t)
	var (
		mu    sync.Mutex
		fail  = true
		count int
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		count++
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	ctx := context.Background()
	cfg, err := srv.Engine.ConfigFor(ctx, testFoundry)
	require.NoError(t, err)
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"task.created"}}}
	require.NoError(t, srv.Engine.ImportConfig(ctx, testFoundry, cfg, "founder"))

	d := NewWebhookDispatcher(srv.Engine, nil, nil)
	require.NoError(t, d.DispatchOnce(ctx))
	status, _ := srv.call(t, "founder", http.MethodPost, "/foundries/acme/tasks", map[string]any{"title": "Retry me"})
	require.Equal(t, http.StatusCreated, status)

	assert.Error(t, d.DispatchOnce(ctx))
	mu.Lock()
	fail = false
	mu.Unlock()
	require.NoError(t, d.DispatchOnce(ctx))
	require.NoError(t, d.DispatchOnce(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter(nil)
	assert.True(t, all.match("anything"))

	f := newEventFilter([]string{" task.* ", "delegation.created", ""})
	assert.True(t, f.match("task.escalated"))
	assert.True(t, f.match("delegation.created"))
	assert.False(t, f.match("delegation.revoked"))
	assert.False(t, f.match("objective.created"))
}
