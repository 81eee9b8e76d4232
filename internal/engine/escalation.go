package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"foundry/internal/domain"
	"foundry/internal/events"
	"foundry/internal/telemetry"
)

// EscalationTimeout returns timeoutHours, or the foundry's
// escalation.timeout_hours when it is not positive.
func (e Engine) EscalationTimeout(ctx context.Context, foundryID string, timeoutHours float64) (float64, error) {
	if timeoutHours > 0 {
		return timeoutHours, nil
	}
	cfg, err := e.configFor(ctx, e.DB, foundryID)
	if err != nil {
		return 0, err
	}
	return cfg.Escalation.TimeoutHours, nil
}

// TasksNeedingEscalation lists tasks of the foundry that have waited for
// approval longer than timeoutHours. A non-positive timeout uses the
// foundry's escalation.timeout_hours.
func (e Engine) TasksNeedingEscalation(ctx context.Context, foundryID string, timeoutHours float64) (out []domain.EscalationCandidate, err error) {
	ctx, span := telemetry.Start(ctx, "engine.TasksNeedingEscalation", attribute.String("foundry_id", foundryID))
	defer func() {
		span.SetAttributes(attribute.Int("candidates", len(out)))
		telemetry.End(span, err)
	}()

	if timeoutHours, err = e.EscalationTimeout(ctx, foundryID, timeoutHours); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	cutoff := now.Add(-time.Duration(timeoutHours * float64(time.Hour)))
	tasks, err := e.Repo.PendingApprovalsBefore(ctx, foundryID, cutoff.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	out = make([]domain.EscalationCandidate, 0, len(tasks))
	for _, t := range tasks {
		requested, err := time.Parse(time.RFC3339, deref(t.ApprovalRequestedAt))
		if err != nil {
			return nil, fmt.Errorf("task %s approval_requested_at: %w", t.ID, err)
		}
		out = append(out, domain.EscalationCandidate{
			TaskID:              t.ID,
			TaskNumber:          t.TaskNumber,
			Title:               t.Title,
			Status:              t.Status,
			ApprovalRequestedAt: deref(t.ApprovalRequestedAt),
			HoursPending:        round2(now.Sub(requested).Hours()),
			Escalated:           t.ApprovalEscalated,
		})
	}
	return out, nil
}

// EscalateTask flags a task awaiting approval. Repeating the call, or
// racing another escalation, leaves the first reason in place and records
// a single event.
func (e Engine) EscalateTask(ctx context.Context, taskID, reason, actorID string) (t domain.Task, err error) {
	t, err = e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.require(ctx, e.DB, t.FoundryID, actorID, "task.escalate"); err != nil {
		return domain.Task{}, err
	}
	t, _, err = e.escalate(ctx, taskID, reason, actorID)
	return t, err
}

// escalate reports whether this call was the one that flagged the task.
func (e Engine) escalate(ctx context.Context, taskID, reason, actorID string) (t domain.Task, updated bool, err error) {
	ctx, span := telemetry.Start(ctx, "engine.EscalateTask", attribute.String("task_id", taskID))
	defer func() { telemetry.End(span, err) }()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, false, err
	}
	defer tx.Rollback()

	t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, false, err
	}
	if !t.Status.PendingApproval() {
		return domain.Task{}, false, fmt.Errorf("%w: task %s is %s", ErrNotAwaitingApproval, t.ID, t.Status)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		cfg, err := e.configFor(ctx, tx, t.FoundryID)
		if err != nil {
			return domain.Task{}, false, err
		}
		reason = cfg.Escalation.DefaultReason
	}
	updated, err = e.Repo.MarkEscalated(ctx, tx, t.ID, reason, e.stamp())
	if err != nil {
		return domain.Task{}, false, err
	}
	span.SetAttributes(attribute.Bool("escalated", updated))
	if updated {
		if err := e.journal().Append(ctx, tx, events.TaskEscalated, t.FoundryID, "task", t.ID, actorID, events.EventPayload{
			"reason":                reason,
			"status":                t.Status,
			"approval_requested_at": t.ApprovalRequestedAt,
		}); err != nil {
			return domain.Task{}, false, err
		}
		if t, err = e.Repo.GetTaskTx(ctx, tx, taskID); err != nil {
			return domain.Task{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, false, err
	}
	return t, updated, nil
}
