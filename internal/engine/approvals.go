package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"foundry/internal/config"
	"foundry/internal/domain"
	"foundry/internal/engine/auth"
	"foundry/internal/events"
	"foundry/internal/repo"
	"foundry/internal/telemetry"
)

func policyOf(cfg *config.Config) auth.Policy {
	return auth.Policy{
		ExecutiveRoles:    cfg.Approvals.ExecutiveRoles,
		PeerExcludedRoles: cfg.Approvals.PeerExcludedRoles,
		AllowSelfApproval: cfg.Approvals.AllowSelfApproval,
	}
}

func snapshot(t domain.Task) auth.TaskSnapshot {
	return auth.TaskSnapshot{
		ID:         t.ID,
		Status:     t.Status,
		Type:       t.Type,
		CreatorID:  t.CreatorID,
		AssigneeID: deref(t.AssigneeID),
	}
}

func (e Engine) approver(ctx context.Context, q repo.Querier, foundryID, profileID string) (auth.Approver, error) {
	m, err := e.Repo.GetMember(ctx, q, foundryID, profileID)
	if errors.Is(err, repo.ErrNotFound) {
		return auth.Approver{ID: profileID}, nil
	}
	if err != nil {
		return auth.Approver{}, err
	}
	return auth.Approver{ID: m.ID, Role: m.Role, Member: true}, nil
}

func (e Engine) canApprove(ctx context.Context, q repo.Querier, t domain.Task, cfg *config.Config, userID string) (bool, error) {
	user, err := e.approver(ctx, q, t.FoundryID, userID)
	if err != nil {
		return false, err
	}
	delegations, err := e.Repo.ListDelegations(ctx, q, repo.DelegationFilters{FoundryID: t.FoundryID, DelegateID: userID, ActiveOnly: true})
	if err != nil {
		return false, err
	}
	delegators := map[string]auth.Approver{}
	for _, d := range delegations {
		if _, seen := delegators[d.DelegatorID]; seen {
			continue
		}
		a, err := e.approver(ctx, q, t.FoundryID, d.DelegatorID)
		if err != nil {
			return false, err
		}
		delegators[d.DelegatorID] = a
	}
	return policyOf(cfg).CanApprove(snapshot(t), user, delegations, delegators, e.today()), nil
}

// CanUserApprove reports whether userID may approve the task in its current
// state, directly or through an effective delegation.
func (e Engine) CanUserApprove(ctx context.Context, taskID, userID string) (ok bool, err error) {
	ctx, span := telemetry.Start(ctx, "engine.CanUserApprove", attribute.String("task_id", taskID), attribute.String("user_id", userID))
	defer func() {
		span.SetAttributes(attribute.Bool("allowed", ok))
		telemetry.End(span, err)
	}()
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	cfg, err := e.configFor(ctx, e.DB, t.FoundryID)
	if err != nil {
		return false, err
	}
	return e.canApprove(ctx, e.DB, t, cfg, userID)
}

// DecisionOptions approve or reject a task awaiting approval.
type DecisionOptions struct {
	TaskID  string
	ActorID string
	Approve bool
	Note    string
}

// approvedStatus is where an approval moves a pending task.
func approvedStatus(t domain.Task, cfg *config.Config) domain.Status {
	switch t.Status {
	case domain.StatusAmendedPendingApproval:
		return domain.StatusAccepted
	case domain.StatusPendingPeerReview:
		if cfg.PeerOnly(t.RiskLevel) {
			return domain.StatusCompleted
		}
		return domain.StatusPendingExecutiveApproval
	default:
		return domain.StatusCompleted
	}
}

func (e Engine) decide(ctx context.Context, tx *sql.Tx, opts DecisionOptions) (domain.Task, error) {
	return e.mutateTaskTx(ctx, tx, opts.TaskID, opts.ActorID, "task.approve", func(tx *sql.Tx, t *domain.Task, cfg *config.Config) (string, events.EventPayload, error) {
		if !t.Status.PendingApproval() {
			return "", nil, fmt.Errorf("%w: task %s is %s", ErrNotAwaitingApproval, t.ID, t.Status)
		}
		ok, err := e.canApprove(ctx, tx, *t, cfg, opts.ActorID)
		if err != nil {
			return "", nil, err
		}
		if !ok {
			return "", nil, auth.NotApproverError{TaskID: t.ID, ProfileID: opts.ActorID, Status: string(t.Status)}
		}
		from := t.Status
		to := domain.StatusRejected
		if opts.Approve {
			to = approvedStatus(*t, cfg)
		}
		if err := e.moveTo(t, to); err != nil {
			return "", nil, err
		}
		evt := events.TaskApproved
		switch {
		case !opts.Approve:
			evt = events.TaskRejected
		case to == domain.StatusCompleted:
			evt = events.TaskCompleted
		}
		return evt, transitionPayload(from, to, events.EventPayload{"note": opts.Note}), nil
	})
}

// DecideApproval applies one approval decision.
func (e Engine) DecideApproval(ctx context.Context, opts DecisionOptions) (t domain.Task, err error) {
	ctx, span := telemetry.Start(ctx, "engine.DecideApproval", attribute.String("task_id", opts.TaskID), attribute.Bool("approve", opts.Approve))
	defer func() { telemetry.End(span, err) }()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err = e.decide(ctx, tx, opts)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// BatchDecide applies the same decision to every task in one transaction.
// The first failure aborts the whole batch.
func (e Engine) BatchDecide(ctx context.Context, taskIDs []string, actorID string, approve bool, note string) (out []domain.Task, err error) {
	ctx, span := telemetry.Start(ctx, "engine.BatchDecide", attribute.Int("tasks", len(taskIDs)), attribute.Bool("approve", approve))
	defer func() { telemetry.End(span, err) }()

	if len(taskIDs) == 0 {
		return nil, invalidf("no tasks selected")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	seen := map[string]bool{}
	for _, id := range taskIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		t, err := e.decide(ctx, tx, DecisionOptions{TaskID: id, ActorID: actorID, Approve: approve, Note: note})
		if err != nil {
			return nil, fmt.Errorf("batch aborted at task %s: %w", id, err)
		}
		out = append(out, t)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}
