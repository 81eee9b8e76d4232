package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"foundry/internal/config"
	"foundry/internal/domain"
	"foundry/internal/events"
	"foundry/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID            string
	FoundryID     string
	Title         string
	Description   string
	Type          string
	RiskLevel     string
	AssigneeID    string
	ObjectiveID   string
	ClientVisible bool
	ActorID       string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, invalidf("title is required")
	}
	if opts.FoundryID == "" {
		return domain.Task{}, invalidf("foundry is required")
	}
	if _, err := e.Repo.GetFoundry(ctx, opts.FoundryID); err != nil {
		return domain.Task{}, err
	}
	risk := domain.RiskMedium
	if opts.RiskLevel != "" {
		parsed, err := domain.ParseRiskLevel(opts.RiskLevel)
		if err != nil {
			return domain.Task{}, invalidf("%v", err)
		}
		risk = parsed
	}
	if opts.Type == "" {
		opts.Type = "general"
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.require(ctx, tx, opts.FoundryID, opts.ActorID, "task.create"); err != nil {
		return domain.Task{}, err
	}
	if opts.AssigneeID != "" {
		if err := e.ensureMember(ctx, tx, opts.FoundryID, opts.AssigneeID); err != nil {
			return domain.Task{}, err
		}
	}
	if opts.ObjectiveID != "" {
		if err := e.ensureObjectiveInFoundry(ctx, tx, opts.FoundryID, opts.ObjectiveID); err != nil {
			return domain.Task{}, err
		}
	}
	number, err := e.Repo.NextTaskNumber(ctx, tx, opts.FoundryID)
	if err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:                id,
		FoundryID:         opts.FoundryID,
		TaskNumber:        number,
		Title:             strings.TrimSpace(opts.Title),
		Description:       opts.Description,
		Type:              opts.Type,
		Status:            domain.StatusPending,
		RiskLevel:         risk,
		CreatorID:         opts.ActorID,
		AssigneeID:        optionalString(opts.AssigneeID),
		ObjectiveID:       optionalString(opts.ObjectiveID),
		ForwardingHistory: []domain.ForwardingStep{},
		ClientVisible:     opts.ClientVisible,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.journal().Append(ctx, tx, events.TaskCreated, t.FoundryID, "task", t.ID, opts.ActorID, events.EventPayload{
		"task_number": t.TaskNumber,
		"title":       t.Title,
		"status":      t.Status,
		"risk_level":  t.RiskLevel,
		"assignee_id": t.AssigneeID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.recalcObjective(ctx, tx, deref(t.ObjectiveID)); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// TaskUpdateOptions carries the editable fields; nil leaves a field as is.
// An empty AssigneeID or ObjectiveID clears it.
type TaskUpdateOptions struct {
	ID            string
	Title         *string
	Description   *string
	Type          *string
	RiskLevel     *string
	AssigneeID    *string
	ObjectiveID   *string
	Progress      *int
	ClientVisible *bool
	ActorID       string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	return e.mutateTask(ctx, opts.ID, opts.ActorID, "task.update", func(tx *sql.Tx, t *domain.Task, _ *config.Config) (string, events.EventPayload, error) {
		if t.Status.Terminal() {
			return "", nil, fmt.Errorf("%w: %s", ErrTaskClosed, t.Status)
		}
		changes := map[string]any{}
		change := func(field string, from, to any) {
			changes[field] = map[string]any{"from": from, "to": to}
		}
		if opts.Title != nil && strings.TrimSpace(*opts.Title) != t.Title {
			title := strings.TrimSpace(*opts.Title)
			if title == "" {
				return "", nil, invalidf("title cannot be empty")
			}
			change("title", t.Title, title)
			t.Title = title
		}
		if opts.Description != nil && *opts.Description != t.Description {
			change("description", t.Description, *opts.Description)
			t.Description = *opts.Description
		}
		if opts.Type != nil && *opts.Type != t.Type {
			if *opts.Type == "" {
				return "", nil, invalidf("type cannot be empty")
			}
			change("type", t.Type, *opts.Type)
			t.Type = *opts.Type
		}
		if opts.RiskLevel != nil {
			risk, err := domain.ParseRiskLevel(*opts.RiskLevel)
			if err != nil {
				return "", nil, invalidf("%v", err)
			}
			if risk != t.RiskLevel {
				change("risk_level", t.RiskLevel, risk)
				t.RiskLevel = risk
			}
		}
		if opts.AssigneeID != nil && *opts.AssigneeID != deref(t.AssigneeID) {
			if *opts.AssigneeID != "" {
				if err := e.ensureMember(ctx, tx, t.FoundryID, *opts.AssigneeID); err != nil {
					return "", nil, err
				}
			}
			change("assignee_id", deref(t.AssigneeID), *opts.AssigneeID)
			t.AssigneeID = optionalString(*opts.AssigneeID)
		}
		if opts.ObjectiveID != nil && *opts.ObjectiveID != deref(t.ObjectiveID) {
			if *opts.ObjectiveID != "" {
				if err := e.ensureObjectiveInFoundry(ctx, tx, t.FoundryID, *opts.ObjectiveID); err != nil {
					return "", nil, err
				}
			}
			change("objective_id", deref(t.ObjectiveID), *opts.ObjectiveID)
			t.ObjectiveID = optionalString(*opts.ObjectiveID)
		}
		if opts.Progress != nil && *opts.Progress != t.Progress {
			if *opts.Progress < 0 || *opts.Progress > 100 {
				return "", nil, invalidf("progress must be within 0..100")
			}
			change("progress", t.Progress, *opts.Progress)
			t.Progress = *opts.Progress
		}
		if opts.ClientVisible != nil && *opts.ClientVisible != t.ClientVisible {
			change("client_visible", t.ClientVisible, *opts.ClientVisible)
			t.ClientVisible = *opts.ClientVisible
		}
		if len(changes) == 0 {
			return "", nil, nil
		}
		return events.TaskUpdated, events.EventPayload{"changes": changes}, nil
	})
}

// taskMutation edits t in place and names the event to record. An empty
// event type means nothing changed and the task is not written.
type taskMutation func(tx *sql.Tx, t *domain.Task, cfg *config.Config) (string, events.EventPayload, error)

func (e Engine) mutateTask(ctx context.Context, taskID, actorID, perm string, fn taskMutation) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.mutateTaskTx(ctx, tx, taskID, actorID, perm, fn)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) mutateTaskTx(ctx context.Context, tx *sql.Tx, taskID, actorID, perm string, fn taskMutation) (domain.Task, error) {
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	if err := e.require(ctx, tx, t.FoundryID, actorID, perm); err != nil {
		return domain.Task{}, err
	}
	cfg, err := e.configFor(ctx, tx, t.FoundryID)
	if err != nil {
		return domain.Task{}, err
	}
	previousObjective := deref(t.ObjectiveID)
	evtType, payload, err := fn(tx, &t, cfg)
	if err != nil {
		return domain.Task{}, err
	}
	if evtType == "" {
		return t, nil
	}
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.journal().Append(ctx, tx, evtType, t.FoundryID, "task", t.ID, actorID, payload); err != nil {
		return domain.Task{}, err
	}
	if err := e.recalcObjective(ctx, tx, deref(t.ObjectiveID)); err != nil {
		return domain.Task{}, err
	}
	if previousObjective != deref(t.ObjectiveID) {
		if err := e.recalcObjective(ctx, tx, previousObjective); err != nil {
			return domain.Task{}, err
		}
	}
	return t, nil
}

// moveTo applies a status change and keeps the approval bookkeeping in
// step: entering a pending-approval state restarts the approval clock,
// leaving one clears it.
func (e Engine) moveTo(t *domain.Task, to domain.Status) error {
	if !domain.CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	now := e.stamp()
	from := t.Status
	t.Status = to
	switch {
	case to.PendingApproval():
		t.ApprovalRequestedAt = &now
		t.ApprovalEscalated = false
		t.EscalationReason = nil
	case from.PendingApproval():
		t.ApprovalRequestedAt = nil
		t.ApprovalEscalated = false
		t.EscalationReason = nil
	}
	if to == domain.StatusCompleted {
		t.CompletedAt = &now
		t.Progress = 100
	}
	return nil
}

func transitionPayload(from, to domain.Status, extra events.EventPayload) events.EventPayload {
	payload := events.EventPayload{"from": from, "to": to}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

func isAssignee(t domain.Task, actorID string) bool {
	return t.AssigneeID != nil && *t.AssigneeID == actorID
}

// AcceptTask moves a Pending task to Accepted. An unassigned task is taken
// by the accepting actor.
func (e Engine) AcceptTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.mutateTask(ctx, taskID, actorID, "task.transition", func(tx *sql.Tx, t *domain.Task, _ *config.Config) (string, events.EventPayload, error) {
		if t.AssigneeID != nil && !isAssignee(*t, actorID) {
			return "", nil, fmt.Errorf("%w: only the assignee can accept", ErrNotTaskActor)
		}
		from := t.Status
		if err := e.moveTo(t, domain.StatusAccepted); err != nil {
			return "", nil, err
		}
		t.AssigneeID = optionalString(actorID)
		return events.TaskAccepted, transitionPayload(from, t.Status, events.EventPayload{"assignee_id": actorID}), nil
	})
}

// DeclineTask rejects a Pending task on behalf of its assignee or creator.
func (e Engine) DeclineTask(ctx context.Context, taskID, actorID, reason string) (domain.Task, error) {
	return e.mutateTask(ctx, taskID, actorID, "task.transition", func(tx *sql.Tx, t *domain.Task, _ *config.Config) (string, events.EventPayload, error) {
		if t.Status != domain.StatusPending {
			return "", nil, fmt.Errorf("%w: decline requires Pending, task is %s", ErrInvalidTransition, t.Status)
		}
		if !isAssignee(*t, actorID) && t.CreatorID != actorID {
			return "", nil, fmt.Errorf("%w: only the assignee or creator can decline", ErrNotTaskActor)
		}
		from := t.Status
		if err := e.moveTo(t, domain.StatusRejected); err != nil {
			return "", nil, err
		}
		return events.TaskRejected, transitionPayload(from, t.Status, events.EventPayload{"reason": reason}), nil
	})
}

// AmendTask reopens accepted work with amendment notes.
func (e Engine) AmendTask(ctx context.Context, taskID, actorID, notes string) (domain.Task, error) {
	if strings.TrimSpace(notes) == "" {
		return domain.Task{}, invalidf("amendment notes required")
	}
	return e.mutateTask(ctx, taskID, actorID, "task.transition", func(tx *sql.Tx, t *domain.Task, _ *config.Config) (string, events.EventPayload, error) {
		if !isAssignee(*t, actorID) && t.CreatorID != actorID {
			return "", nil, fmt.Errorf("%w: only the assignee or creator can amend", ErrNotTaskActor)
		}
		from := t.Status
		if err := e.moveTo(t, domain.StatusAmended); err != nil {
			return "", nil, err
		}
		t.AmendmentNotes = optionalString(strings.TrimSpace(notes))
		return events.TaskAmended, transitionPayload(from, t.Status, events.EventPayload{"notes": notes}), nil
	})
}

// SubmitAmendment asks for the amendment to be approved.
func (e Engine) SubmitAmendment(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.mutateTask(ctx, taskID, actorID, "task.transition", func(tx *sql.Tx, t *domain.Task, _ *config.Config) (string, events.EventPayload, error) {
		if !isAssignee(*t, actorID) && t.CreatorID != actorID {
			return "", nil, fmt.Errorf("%w: only the assignee or creator can submit an amendment", ErrNotTaskActor)
		}
		from := t.Status
		if err := e.moveTo(t, domain.StatusAmendedPendingApproval); err != nil {
			return "", nil, err
		}
		return events.TaskAmendSubmitted, transitionPayload(from, t.Status, nil), nil
	})
}

// SubmitForReview hands in-progress work to peer review.
func (e Engine) SubmitForReview(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.mutateTask(ctx, taskID, actorID, "task.transition", func(tx *sql.Tx, t *domain.Task, _ *config.Config) (string, events.EventPayload, error) {
		allowed := isAssignee(*t, actorID) || (t.AssigneeID == nil && t.CreatorID == actorID)
		if !allowed {
			return "", nil, fmt.Errorf("%w: only the assignee can submit for review", ErrNotTaskActor)
		}
		if !t.Status.InProgress() {
			return "", nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, domain.StatusPendingPeerReview)
		}
		from := t.Status
		if err := e.moveTo(t, domain.StatusPendingPeerReview); err != nil {
			return "", nil, err
		}
		return events.TaskReviewRequested, transitionPayload(from, t.Status, nil), nil
	})
}

// NudgeTask pings the current owner of a task. Nudges closer together than
// nudges.min_interval fail with ErrNudgeTooSoon.
func (e Engine) NudgeTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.mutateTask(ctx, taskID, actorID, "task.nudge", func(tx *sql.Tx, t *domain.Task, cfg *config.Config) (string, events.EventPayload, error) {
		if t.Status.Terminal() {
			return "", nil, fmt.Errorf("%w: %s", ErrTaskClosed, t.Status)
		}
		now := e.now().UTC()
		if t.LastNudgedAt != nil {
			last, err := time.Parse(time.RFC3339, *t.LastNudgedAt)
			if err == nil && now.Sub(last) < cfg.NudgeInterval() {
				return "", nil, fmt.Errorf("%w: next nudge allowed after %s", ErrNudgeTooSoon, last.Add(cfg.NudgeInterval()).Format(time.RFC3339))
			}
		}
		stamp := now.Format(time.RFC3339)
		t.NudgeCount++
		t.LastNudgedAt = &stamp
		return events.TaskNudged, events.EventPayload{"nudge_count": t.NudgeCount, "assignee_id": t.AssigneeID, "status": t.Status}, nil
	})
}

// ForwardTask reassigns an open task and appends to its forwarding history.
func (e Engine) ForwardTask(ctx context.Context, taskID, actorID, toID, note string) (domain.Task, error) {
	if toID == "" {
		return domain.Task{}, invalidf("forward target required")
	}
	return e.mutateTask(ctx, taskID, actorID, "task.forward", func(tx *sql.Tx, t *domain.Task, cfg *config.Config) (string, events.EventPayload, error) {
		if t.Status.Terminal() {
			return "", nil, fmt.Errorf("%w: %s", ErrTaskClosed, t.Status)
		}
		if isAssignee(*t, toID) {
			return "", nil, invalidf("task already assigned to %s", toID)
		}
		if !isAssignee(*t, actorID) && t.CreatorID != actorID {
			actor, err := e.Repo.GetMember(ctx, tx, t.FoundryID, actorID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return "", nil, err
			}
			if err != nil || !cfg.IsExecutiveRole(actor.Role) {
				return "", nil, fmt.Errorf("%w: only the assignee, creator or an executive can forward", ErrNotTaskActor)
			}
		}
		if err := e.ensureMember(ctx, tx, t.FoundryID, toID); err != nil {
			return "", nil, err
		}
		step := domain.ForwardingStep{From: deref(t.AssigneeID), To: toID, By: actorID, Note: note, At: e.stamp()}
		t.ForwardingHistory = append(t.ForwardingHistory, step)
		t.AssigneeID = optionalString(toID)
		return events.TaskForwarded, events.EventPayload{"from": step.From, "to": step.To, "note": note}, nil
	})
}

// AddTaskAssignee attaches an additional assignee, optionally via a team.
func (e Engine) AddTaskAssignee(ctx context.Context, taskID, profileID, teamID, actorID string) (domain.TaskAssignee, error) {
	var added domain.TaskAssignee
	_, err := e.mutateTask(ctx, taskID, actorID, "task.update", func(tx *sql.Tx, t *domain.Task, _ *config.Config) (string, events.EventPayload, error) {
		if err := e.ensureMember(ctx, tx, t.FoundryID, profileID); err != nil {
			return "", nil, err
		}
		if teamID != "" {
			team, err := e.Repo.GetTeam(ctx, tx, teamID)
			if err != nil {
				return "", nil, fmt.Errorf("team %s: %w", teamID, err)
			}
			if team.FoundryID != t.FoundryID {
				return "", nil, invalidf("team %s not in foundry %s", teamID, t.FoundryID)
			}
		}
		added = domain.TaskAssignee{TaskID: t.ID, ProfileID: profileID, TeamID: optionalString(teamID), AssignedAt: e.stamp()}
		if err := e.Repo.AddTaskAssignee(ctx, tx, added); err != nil {
			return "", nil, err
		}
		return events.TaskAssigneeAdded, events.EventPayload{"profile_id": profileID, "team_id": teamID}, nil
	})
	return added, err
}

func (e Engine) ListTaskAssignees(ctx context.Context, taskID string) ([]domain.TaskAssignee, error) {
	return e.Repo.ListTaskAssignees(ctx, taskID)
}

func (e Engine) AddComment(ctx context.Context, taskID, actorID, body string) (domain.TaskComment, error) {
	if strings.TrimSpace(body) == "" {
		return domain.TaskComment{}, invalidf("comment body required")
	}
	var c domain.TaskComment
	_, err := e.mutateTask(ctx, taskID, actorID, "task.comment", func(tx *sql.Tx, t *domain.Task, _ *config.Config) (string, events.EventPayload, error) {
		c = domain.TaskComment{ID: ulid.Make().String(), TaskID: t.ID, AuthorID: actorID, Body: body, CreatedAt: e.stamp()}
		if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
			return "", nil, err
		}
		return events.TaskCommented, events.EventPayload{"comment_id": c.ID}, nil
	})
	return c, err
}

func (e Engine) ListComments(ctx context.Context, taskID string) ([]domain.TaskComment, error) {
	return e.Repo.ListComments(ctx, taskID)
}

func (e Engine) TaskHistory(ctx context.Context, taskID string) ([]domain.HistoryEntry, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.Repo.TaskHistory(ctx, taskID)
}

func (e Engine) ensureMember(ctx context.Context, q repo.Querier, foundryID, profileID string) error {
	ok, err := e.Repo.IsMember(ctx, q, foundryID, profileID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("member %s of foundry %s: %w", profileID, foundryID, repo.ErrNotFound)
	}
	return nil
}
