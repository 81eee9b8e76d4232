package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foundry/internal/config"
	"foundry/internal/db"
	"foundry/internal/domain"
	"foundry/internal/engine"
	"foundry/internal/engine/auth"
	"foundry/internal/events"
	"foundry/internal/migrate"
	"foundry/internal/repo"
)

const foundryID = "acme"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	Engine engine.Engine
	Clock  *clock
	Ctx    context.Context
}

// newTestEnv opens a fresh foundry owned by "founder" with an executive,
// two apprentices and an AI agent as members.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	clk := &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, config.Default(foundryID))
	eng.Now = clk.Now
	ctx := context.Background()
	_, err = eng.InitFoundry(ctx, engine.FoundryInitOptions{ID: foundryID, Name: "Acme", ActorID: "founder", ActorName: "Fay Founder"})
	require.NoError(t, err)

	env := testEnv{Engine: eng, Clock: clk, Ctx: ctx}
	env.profile(t, "exec", "Eve Exec", "Executive")
	env.profile(t, "alice", "Alice", "Apprentice", "go", "sql")
	env.profile(t, "bob", "Bob", "Apprentice", "go")
	env.profile(t, "bot", "Build Bot", "AI_Agent", "go")
	return env
}

func (env testEnv) profile(t *testing.T, id, name, role string, skills ...string) domain.Profile {
	t.Helper()
	p, err := env.Engine.CreateProfile(env.Ctx, engine.ProfileCreateOptions{
		ID:        id,
		FullName:  name,
		Role:      role,
		Skills:    skills,
		FoundryID: foundryID,
		ActorID:   "founder",
	})
	require.NoError(t, err)
	return p
}

func (env testEnv) task(t *testing.T, title, risk, assignee string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		FoundryID:  foundryID,
		Title:      title,
		RiskLevel:  risk,
		AssigneeID: assignee,
		ActorID:    "founder",
	})
	require.NoError(t, err)
	return task
}

// inReview creates a task assigned to alice and walks it to peer review.
func (env testEnv) inReview(t *testing.T, title, risk string) domain.Task {
	t.Helper()
	task := env.task(t, title, risk, "alice")
	_, err := env.Engine.AcceptTask(env.Ctx, task.ID, "alice")
	require.NoError(t, err)
	task, err = env.Engine.SubmitForReview(env.Ctx, task.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingPeerReview, task.Status)
	return task
}

// awaitingExec walks a Medium task through a peer approval by bob.
func (env testEnv) awaitingExec(t *testing.T, title string) domain.Task {
	t.Helper()
	task := env.inReview(t, title, "Medium")
	task, err := env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "bob", Approve: true})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingExecutiveApproval, task.Status)
	return task
}

func (env testEnv) taskEvents(t *testing.T, taskID, evtType string) []domain.Event {
	t.Helper()
	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{EntityKind: "task", EntityID: taskID, Type: evtType})
	require.NoError(t, err)
	return evs
}

func TestTaskNumbersArePerFoundrySequence(t *testing.T) {
	env := newTestEnv(t)
	for want := int64(1); want <= 3; want++ {
		task := env.task(t, "work", "", "")
		assert.Equal(t, want, task.TaskNumber)
		assert.Equal(t, domain.StatusPending, task.Status)
		assert.Equal(t, domain.RiskMedium, task.RiskLevel)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{FoundryID: foundryID, Title: "  ", ActorID: "founder"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{FoundryID: foundryID, Title: "x", RiskLevel: "Extreme", ActorID: "founder"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{FoundryID: foundryID, Title: "x", AssigneeID: "ghost", ActorID: "founder"})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestLifecycleTransitions(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "ship it", "High", "alice")

	_, err := env.Engine.SubmitForReview(env.Ctx, task.ID, "alice")
	require.ErrorIs(t, err, engine.ErrInvalidTransition)

	_, err = env.Engine.AcceptTask(env.Ctx, task.ID, "bob")
	require.ErrorIs(t, err, engine.ErrNotTaskActor)

	task, err = env.Engine.AcceptTask(env.Ctx, task.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, task.Status)

	_, err = env.Engine.DeclineTask(env.Ctx, task.ID, "alice", "busy")
	require.ErrorIs(t, err, engine.ErrInvalidTransition)

	task, err = env.Engine.AmendTask(env.Ctx, task.ID, "alice", "scope grew")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAmended, task.Status)
	require.NotNil(t, task.AmendmentNotes)
	assert.Equal(t, "scope grew", *task.AmendmentNotes)

	task, err = env.Engine.SubmitAmendment(env.Ctx, task.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAmendedPendingApproval, task.Status)
	require.NotNil(t, task.ApprovalRequestedAt)

	// the creator approves the amendment
	task, err = env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "founder", Approve: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, task.Status)
	assert.Nil(t, task.ApprovalRequestedAt)

	task, err = env.Engine.SubmitForReview(env.Ctx, task.ID, "alice")
	require.NoError(t, err)
	task, err = env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "bob", Approve: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingExecutiveApproval, task.Status)

	task, err = env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "exec", Approve: true, Note: "ship"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	assert.NotNil(t, task.CompletedAt)

	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Title: ptr("renamed"), ActorID: "founder"})
	assert.ErrorIs(t, err, engine.ErrTaskClosed)

	history, err := env.Engine.TaskHistory(env.Ctx, task.ID)
	require.NoError(t, err)
	var actions []string
	for _, h := range history {
		actions = append(actions, h.Action)
	}
	assert.Contains(t, actions, events.TaskCreated)
	assert.Contains(t, actions, events.TaskAmendSubmitted)
	assert.Contains(t, actions, events.TaskCompleted)
}

func TestDeclineByAssignee(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "not mine", "", "alice")
	task, err := env.Engine.DeclineTask(env.Ctx, task.ID, "alice", "wrong team")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, task.Status)
}

func TestAcceptUnassignedTakesTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "open", "", "")
	task, err := env.Engine.AcceptTask(env.Ctx, task.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, task.AssigneeID)
	assert.Equal(t, "bob", *task.AssigneeID)
}

func TestLowRiskPeerApprovalCompletes(t *testing.T) {
	env := newTestEnv(t)
	task := env.inReview(t, "typo fix", "Low")
	task, err := env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "bob", Approve: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Len(t, env.taskEvents(t, task.ID, events.TaskCompleted), 1)
}

func TestRejectFromReview(t *testing.T) {
	env := newTestEnv(t)
	task := env.inReview(t, "draft", "High")
	task, err := env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "bob", Approve: false, Note: "incomplete"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, task.Status)
	assert.Nil(t, task.ApprovalRequestedAt)
}

func TestApproverRules(t *testing.T) {
	env := newTestEnv(t)
	task := env.inReview(t, "review me", "High")

	// the assignee cannot approve their own work
	ok, err := env.Engine.CanUserApprove(env.Ctx, task.ID, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "alice", Approve: true})
	var notApprover auth.NotApproverError
	require.ErrorAs(t, err, &notApprover)
	assert.Equal(t, "alice", notApprover.ProfileID)

	// agents lack the approve permission altogether
	_, err = env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "bot", Approve: true})
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, "task.approve", forbidden.Permission)

	ok, err = env.Engine.CanUserApprove(env.Ctx, task.ID, "outsider")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.Engine.CanUserApprove(env.Ctx, task.ID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	task, err = env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "bob", Approve: true})
	require.NoError(t, err)
	ok, err = env.Engine.CanUserApprove(env.Ctx, task.ID, "bob")
	require.NoError(t, err)
	assert.False(t, ok, "apprentices have no executive authority")
	ok, err = env.Engine.CanUserApprove(env.Ctx, task.ID, "exec")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDecideRequiresPendingApproval(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "fresh", "", "alice")
	_, err := env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "exec", Approve: true})
	assert.ErrorIs(t, err, engine.ErrNotAwaitingApproval)
}

func TestDelegationGrantsExecutiveAuthority(t *testing.T) {
	env := newTestEnv(t)
	task := env.awaitingExec(t, "contract")

	d, err := env.Engine.CreateDelegation(env.Ctx, engine.DelegationCreateOptions{
		FoundryID:   foundryID,
		DelegatorID: "exec",
		DelegateID:  "bob",
		StartDate:   "2024-03-01",
		EndDate:     "2024-03-07",
		AllTasks:    true,
		Reason:      "vacation",
		ActorID:     "exec",
	})
	require.NoError(t, err)
	assert.True(t, d.IsActive)

	ok, err := env.Engine.CanUserApprove(env.Ctx, task.ID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	// a week later the window has closed
	env.Clock.Advance(7 * 24 * time.Hour)
	ok, err = env.Engine.CanUserApprove(env.Ctx, task.ID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInactiveDelegationDoesNotGrant(t *testing.T) {
	env := newTestEnv(t)
	task := env.awaitingExec(t, "invoice")

	d, err := env.Engine.CreateDelegation(env.Ctx, engine.DelegationCreateOptions{
		FoundryID:  foundryID,
		DelegateID: "bob",
		AllTasks:   true,
		ActorID:    "exec",
	})
	require.NoError(t, err)
	assert.Equal(t, "exec", d.DelegatorID)

	_, err = env.Engine.RevokeDelegation(env.Ctx, d.ID, "exec")
	require.NoError(t, err)

	ok, err := env.Engine.CanUserApprove(env.Ctx, task.ID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "bob", Approve: true})
	var notApprover auth.NotApproverError
	assert.ErrorAs(t, err, &notApprover)
}

func TestAssigneeDelegationDoesNotApproveOwnTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "exec's own work", "Medium", "exec")
	_, err := env.Engine.AcceptTask(env.Ctx, task.ID, "exec")
	require.NoError(t, err)
	_, err = env.Engine.SubmitForReview(env.Ctx, task.ID, "exec")
	require.NoError(t, err)
	task, err = env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "bob", Approve: true})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingExecutiveApproval, task.Status)

	_, err = env.Engine.CreateDelegation(env.Ctx, engine.DelegationCreateOptions{
		FoundryID:  foundryID,
		DelegateID: "bob",
		AllTasks:   true,
		ActorID:    "exec",
	})
	require.NoError(t, err)

	ok, err := env.Engine.CanUserApprove(env.Ctx, task.ID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "bob", Approve: true})
	var notApprover auth.NotApproverError
	require.ErrorAs(t, err, &notApprover)

	// the founder keeps direct authority over the task
	ok, err = env.Engine.CanUserApprove(env.Ctx, task.ID, "founder")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDelegationScopedToTaskTypes(t *testing.T) {
	env := newTestEnv(t)
	task := env.awaitingExec(t, "general work")

	_, err := env.Engine.CreateDelegation(env.Ctx, engine.DelegationCreateOptions{
		FoundryID:  foundryID,
		DelegateID: "bob",
		TaskTypes:  []string{"finance"},
		ActorID:    "exec",
	})
	require.NoError(t, err)
	ok, err := env.Engine.CanUserApprove(env.Ctx, task.ID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelegationValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]engine.DelegationCreateOptions{
		"self":          {DelegateID: "exec", AllTasks: true},
		"no scope":      {DelegateID: "bob"},
		"bad date":      {DelegateID: "bob", AllTasks: true, StartDate: "03/01/2024"},
		"end precedes":  {DelegateID: "bob", AllTasks: true, StartDate: "2024-03-05", EndDate: "2024-03-01"},
		"missing party": {AllTasks: true},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			opts.FoundryID = foundryID
			opts.ActorID = "exec"
			_, err := env.Engine.CreateDelegation(env.Ctx, opts)
			assert.ErrorIs(t, err, engine.ErrInvalidInput)
		})
	}

	// apprentices cannot hand out authority
	_, err := env.Engine.CreateDelegation(env.Ctx, engine.DelegationCreateOptions{FoundryID: foundryID, DelegateID: "bob", AllTasks: true, ActorID: "alice"})
	var forbidden auth.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestBatchDecideIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	first := env.inReview(t, "one", "Low")
	second := env.inReview(t, "two", "Low")
	idle := env.task(t, "idle", "", "alice")

	_, err := env.Engine.BatchDecide(env.Ctx, []string{first.ID, idle.ID, second.ID}, "bob", true, "")
	require.ErrorIs(t, err, engine.ErrNotAwaitingApproval)
	assert.Contains(t, err.Error(), idle.ID)

	for _, id := range []string{first.ID, second.ID} {
		got, err := env.Engine.GetTask(env.Ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPendingPeerReview, got.Status)
		assert.Empty(t, env.taskEvents(t, id, events.TaskCompleted))
	}

	done, err := env.Engine.BatchDecide(env.Ctx, []string{first.ID, second.ID, first.ID}, "bob", true, "lgtm")
	require.NoError(t, err)
	require.Len(t, done, 2)
	for _, task := range done {
		assert.Equal(t, domain.StatusCompleted, task.Status)
	}

	_, err = env.Engine.BatchDecide(env.Ctx, nil, "bob", true, "")
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestEscalationCandidates(t *testing.T) {
	env := newTestEnv(t)
	task := env.inReview(t, "waiting", "High")
	env.Clock.Advance(23 * time.Hour)

	got, err := env.Engine.TasksNeedingEscalation(env.Ctx, foundryID, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	env.Clock.Advance(2 * time.Hour)
	got, err = env.Engine.TasksNeedingEscalation(env.Ctx, foundryID, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, task.ID, got[0].TaskID)
	assert.InDelta(t, 25.0, got[0].HoursPending, 0.01)
	assert.False(t, got[0].Escalated)

	// an explicit timeout overrides the foundry policy
	got, err = env.Engine.TasksNeedingEscalation(env.Ctx, foundryID, 48)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEscalationTimeoutFallsBackToPolicy(t *testing.T) {
	env := newTestEnv(t)
	for _, in := range []float64{0, -3} {
		got, err := env.Engine.EscalationTimeout(env.Ctx, foundryID, in)
		require.NoError(t, err)
		assert.Equal(t, 24.0, got)
	}
	got, err := env.Engine.EscalationTimeout(env.Ctx, foundryID, 6)
	require.NoError(t, err)
	assert.Equal(t, 6.0, got)
}

func TestEscalateTaskIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task := env.inReview(t, "stuck", "High")

	task, err := env.Engine.EscalateTask(env.Ctx, task.ID, "client unresponsive", "founder")
	require.NoError(t, err)
	assert.True(t, task.ApprovalEscalated)
	require.NotNil(t, task.EscalationReason)
	assert.Equal(t, "client unresponsive", *task.EscalationReason)

	task, err = env.Engine.EscalateTask(env.Ctx, task.ID, "second opinion", "founder")
	require.NoError(t, err)
	assert.Equal(t, "client unresponsive", *task.EscalationReason)
	assert.Len(t, env.taskEvents(t, task.ID, events.TaskEscalated), 1)

	_, err = env.Engine.EscalateTask(env.Ctx, task.ID, "", "alice")
	var forbidden auth.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestEscalateRequiresPendingApproval(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "not yet", "", "alice")
	_, err := env.Engine.EscalateTask(env.Ctx, task.ID, "", "founder")
	assert.ErrorIs(t, err, engine.ErrNotAwaitingApproval)
}

func TestConcurrentEscalationRecordsOneEvent(t *testing.T) {
	env := newTestEnv(t)
	task := env.inReview(t, "race", "High")

	var (
		wg   = conc.NewWaitGroup()
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 8; i++ {
		wg.Go(func() {
			_, err := env.Engine.EscalateTask(env.Ctx, task.ID, "", "founder")
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	require.NoError(t, errors.Join(errs...))

	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.ApprovalEscalated)
	assert.Equal(t, "approval pending past timeout", *got.EscalationReason)
	assert.Len(t, env.taskEvents(t, task.ID, events.TaskEscalated), 1)
}

func TestReenteringApprovalResetsEscalation(t *testing.T) {
	env := newTestEnv(t)
	task := env.inReview(t, "loop", "Medium")
	_, err := env.Engine.EscalateTask(env.Ctx, task.ID, "slow", "founder")
	require.NoError(t, err)

	task, err = env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "bob", Approve: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingExecutiveApproval, task.Status)
	assert.False(t, task.ApprovalEscalated)
	assert.Nil(t, task.EscalationReason)
	require.NotNil(t, task.ApprovalRequestedAt)
}

func TestSweeperEscalatesOverdueApprovals(t *testing.T) {
	env := newTestEnv(t)
	overdue := env.inReview(t, "old", "High")
	env.Clock.Advance(20 * time.Hour)
	fresh := env.inReview(t, "new", "High")
	env.Clock.Advance(6 * time.Hour)

	sweeper := engine.Sweeper{Engine: env.Engine}
	n, err := sweeper.SweepOnce(env.Ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = sweeper.SweepOnce(env.Ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := env.Engine.GetTask(env.Ctx, overdue.ID)
	require.NoError(t, err)
	assert.True(t, got.ApprovalEscalated)
	assert.Equal(t, "approval pending for 26h", *got.EscalationReason)
	evs := env.taskEvents(t, overdue.ID, events.TaskEscalated)
	require.Len(t, evs, 1)
	assert.Equal(t, engine.SystemEscalationActor, evs[0].ActorID)

	got, err = env.Engine.GetTask(env.Ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, got.ApprovalEscalated)
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	env := newTestEnv(t)
	env.inReview(t, "old", "High")
	env.Clock.Advance(30 * time.Hour)

	ctx, cancel := context.WithCancel(env.Ctx)
	sweeper := engine.Sweeper{
		Engine:   env.Engine,
		Settings: func() config.ServerSettings { return config.ServerSettings{SweepInterval: time.Hour} },
	}
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := env.Engine.TasksNeedingEscalation(env.Ctx, foundryID, 0)
		return err == nil && len(got) == 1 && got[0].Escalated
	}, 5*time.Second, 20*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestObjectiveCyclesRejected(t *testing.T) {
	env := newTestEnv(t)
	root, err := env.Engine.CreateObjective(env.Ctx, engine.ObjectiveCreateOptions{FoundryID: foundryID, Title: "Grow", ActorID: "founder"})
	require.NoError(t, err)
	child, err := env.Engine.CreateObjective(env.Ctx, engine.ObjectiveCreateOptions{FoundryID: foundryID, Title: "Sell", ParentID: root.ID, ActorID: "founder"})
	require.NoError(t, err)
	leaf, err := env.Engine.CreateObjective(env.Ctx, engine.ObjectiveCreateOptions{FoundryID: foundryID, Title: "Call", ParentID: child.ID, ActorID: "founder"})
	require.NoError(t, err)

	_, err = env.Engine.SetObjectiveParent(env.Ctx, root.ID, leaf.ID, "founder")
	assert.ErrorIs(t, err, engine.ErrCycle)
	_, err = env.Engine.SetObjectiveParent(env.Ctx, root.ID, root.ID, "founder")
	assert.ErrorIs(t, err, engine.ErrCycle)

	moved, err := env.Engine.SetObjectiveParent(env.Ctx, leaf.ID, root.ID, "founder")
	require.NoError(t, err)
	assert.Equal(t, root.ID, *moved.ParentID)

	moved, err = env.Engine.SetObjectiveParent(env.Ctx, leaf.ID, "", "founder")
	require.NoError(t, err)
	assert.Nil(t, moved.ParentID)
}

func TestObjectiveProgressFollowsTasks(t *testing.T) {
	env := newTestEnv(t)
	obj, err := env.Engine.CreateObjective(env.Ctx, engine.ObjectiveCreateOptions{FoundryID: foundryID, Title: "Launch", ActorID: "founder"})
	require.NoError(t, err)

	done := env.inReview(t, "landing page", "Low")
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: done.ID, ObjectiveID: ptr(obj.ID), ActorID: "founder"})
	require.NoError(t, err)
	open, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{FoundryID: foundryID, Title: "pricing", ObjectiveID: obj.ID, ActorID: "founder"})
	require.NoError(t, err)
	dropped, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{FoundryID: foundryID, Title: "billboard", ObjectiveID: obj.ID, AssigneeID: "bob", ActorID: "founder"})
	require.NoError(t, err)

	_, err = env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: done.ID, ActorID: "bob", Approve: true})
	require.NoError(t, err)
	_, err = env.Engine.DeclineTask(env.Ctx, dropped.ID, "bob", "no budget")
	require.NoError(t, err)

	got, err := env.Engine.GetObjective(env.Ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, got.Progress)

	// moving the open task away leaves only completed work
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: open.ID, ObjectiveID: ptr(""), ActorID: "founder"})
	require.NoError(t, err)
	got, err = env.Engine.GetObjective(env.Ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Progress)
}

func TestEventsAreAppendOnly(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "audited", "", "")

	_, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE events SET actor_id='someone else'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = env.Engine.DB.ExecContext(env.Ctx, `DELETE FROM events`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")
}

func TestNudgeRateLimit(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "ping", "", "alice")

	task, err := env.Engine.NudgeTask(env.Ctx, task.ID, "founder")
	require.NoError(t, err)
	assert.Equal(t, 1, task.NudgeCount)

	env.Clock.Advance(time.Hour)
	_, err = env.Engine.NudgeTask(env.Ctx, task.ID, "founder")
	require.ErrorIs(t, err, engine.ErrNudgeTooSoon)

	env.Clock.Advance(4 * time.Hour)
	task, err = env.Engine.NudgeTask(env.Ctx, task.ID, "founder")
	require.NoError(t, err)
	assert.Equal(t, 2, task.NudgeCount)
	assert.Len(t, env.taskEvents(t, task.ID, events.TaskNudged), 2)
}

func TestForwardRecordsHistory(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "hand off", "", "alice")

	task, err := env.Engine.ForwardTask(env.Ctx, task.ID, "alice", "bob", "bob knows the client")
	require.NoError(t, err)
	require.NotNil(t, task.AssigneeID)
	assert.Equal(t, "bob", *task.AssigneeID)
	require.Len(t, task.ForwardingHistory, 1)
	step := task.ForwardingHistory[0]
	assert.Equal(t, "alice", step.From)
	assert.Equal(t, "bob", step.To)
	assert.Equal(t, "alice", step.By)
	assert.Equal(t, "bob knows the client", step.Note)

	_, err = env.Engine.ForwardTask(env.Ctx, task.ID, "alice", "bot", "")
	assert.ErrorIs(t, err, engine.ErrNotTaskActor)

	_, err = env.Engine.ForwardTask(env.Ctx, task.ID, "bob", "ghost", "")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	// executives may forward anyone's work
	task, err = env.Engine.ForwardTask(env.Ctx, task.ID, "exec", "bot", "")
	require.NoError(t, err)
	assert.Len(t, task.ForwardingHistory, 2)
}

func TestCommentsAndAssignees(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "pair", "", "alice")
	team, err := env.Engine.CreateTeam(env.Ctx, foundryID, "platform", []string{"alice", "bob"}, "founder")
	require.NoError(t, err)

	_, err = env.Engine.AddTaskAssignee(env.Ctx, task.ID, "bob", team.ID, "founder")
	require.NoError(t, err)
	assignees, err := env.Engine.ListTaskAssignees(env.Ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, assignees, 1)
	assert.Equal(t, "bob", assignees[0].ProfileID)

	_, err = env.Engine.AddComment(env.Ctx, task.ID, "bob", "  ")
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	c, err := env.Engine.AddComment(env.Ctx, task.ID, "bob", "on it")
	require.NoError(t, err)
	comments, err := env.Engine.ListComments(env.Ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, c.ID, comments[0].ID)
}

func TestSuggestAssigneesRanksBySkillAndLoad(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "migration", "High", "bob")
	env.task(t, "outage", "High", "bob")

	load, err := env.Engine.CalculateWorkloadScore(env.Ctx, foundryID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 60.0, load)

	got, err := env.Engine.SuggestTaskAssignees(env.Ctx, engine.SuggestOptions{
		FoundryID: foundryID,
		Required:  []string{"Go"},
		Preferred: []string{"sql"},
		Exclude:   []string{"bot"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "alice", got[0].UserID)
	assert.Equal(t, 100.0, got[0].SkillMatchScore)
	assert.Equal(t, 0.0, got[0].WorkloadScore)
	assert.Equal(t, 100.0, got[0].TotalScore)

	assert.Equal(t, "bob", got[1].UserID)
	assert.Equal(t, 70.0, got[1].SkillMatchScore)
	assert.Equal(t, 60.0, got[1].WorkloadScore)
	assert.Equal(t, 61.0, got[1].TotalScore)
	assert.Contains(t, got[1].MatchReason, "preferred 0/1")

	got, err = env.Engine.SuggestTaskAssignees(env.Ctx, engine.SuggestOptions{FoundryID: foundryID, Required: []string{"go"}, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStandupUpsertAndToday(t *testing.T) {
	env := newTestEnv(t)
	mine, err := env.Engine.GetMyTodayStandup(env.Ctx, foundryID, "alice")
	require.NoError(t, err)
	assert.Nil(t, mine)

	_, err = env.Engine.SubmitStandup(env.Ctx, engine.StandupInput{FoundryID: foundryID, ActorID: "alice"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	first, err := env.Engine.SubmitStandup(env.Ctx, engine.StandupInput{FoundryID: foundryID, Today: "api", ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", first.Date)

	env.Clock.Advance(time.Hour)
	second, err := env.Engine.SubmitStandup(env.Ctx, engine.StandupInput{FoundryID: foundryID, Today: "api and docs", Blockers: "review", ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	mine, err = env.Engine.GetMyTodayStandup(env.Ctx, foundryID, "alice")
	require.NoError(t, err)
	require.NotNil(t, mine)
	assert.Equal(t, "api and docs", mine.Today)

	all, err := env.Engine.ListStandups(env.Ctx, foundryID, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPresence(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "focus", "", "alice")

	_, err := env.Engine.UpsertPresence(env.Ctx, engine.PresenceInput{FoundryID: foundryID, Status: "sleeping", ActorID: "alice"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.UpsertPresence(env.Ctx, engine.PresenceInput{FoundryID: foundryID, Status: "busy", Timezone: ptr("Mars/Olympus"), ActorID: "alice"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	p, err := env.Engine.UpsertPresence(env.Ctx, engine.PresenceInput{
		FoundryID:     foundryID,
		Status:        "busy",
		Timezone:      ptr("UTC"),
		CurrentTaskID: ptr(task.ID),
		ActorID:       "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "busy", p.Status)

	_, err = env.Engine.UpsertPresence(env.Ctx, engine.PresenceInput{FoundryID: foundryID, Status: "online", ActorID: "alice"})
	require.NoError(t, err)
	all, err := env.Engine.ListPresence(env.Ctx, foundryID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "online", all[0].Status)
}

func TestAPIKeyIsStoredHashed(t *testing.T) {
	env := newTestEnv(t)
	raw, key, err := env.Engine.CreateAPIKey(env.Ctx, "alice", "laptop", "alice")
	require.NoError(t, err)
	assert.NotEqual(t, raw, key.KeyHash)

	found, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(raw))
	require.NoError(t, err)
	assert.Equal(t, "alice", found.ProfileID)

	_, _, err = env.Engine.CreateAPIKey(env.Ctx, "alice", "stolen", "bob")
	assert.ErrorIs(t, err, engine.ErrNotTaskActor)
}

func TestImportConfigChangesPolicy(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default(foundryID)
	cfg.Approvals.PeerOnlyRiskLevels = []string{"Low", "Medium"}
	require.NoError(t, env.Engine.ImportConfig(env.Ctx, foundryID, cfg, "founder"))

	task := env.inReview(t, "medium now peer only", "Medium")
	task, err := env.Engine.DecideApproval(env.Ctx, engine.DecisionOptions{TaskID: task.ID, ActorID: "bob", Approve: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)

	var forbidden auth.ForbiddenError
	assert.ErrorAs(t, env.Engine.ImportConfig(env.Ctx, foundryID, cfg, "alice"), &forbidden)
}

func ptr[T any](v T) *T { return &v }
