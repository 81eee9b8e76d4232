package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Event types emitted by the engine.
const (
	FoundryCreated      = "foundry.created"
	FoundryConfigSet    = "foundry.config_updated"
	ProfileCreated      = "profile.created"
	MemberAdded         = "member.added"
	TeamCreated         = "team.created"
	TaskCreated         = "task.created"
	TaskUpdated         = "task.updated"
	TaskAccepted        = "task.accepted"
	TaskRejected        = "task.rejected"
	TaskAmended         = "task.amended"
	TaskAmendSubmitted  = "task.amendment_submitted"
	TaskReviewRequested = "task.review_requested"
	TaskApproved        = "task.approved"
	TaskCompleted       = "task.completed"
	TaskEscalated       = "task.escalated"
	TaskNudged          = "task.nudged"
	TaskForwarded       = "task.forwarded"
	TaskAssigneeAdded   = "task.assignee_added"
	TaskCommented       = "task.commented"
	ObjectiveCreated    = "objective.created"
	ObjectiveUpdated    = "objective.updated"
	DelegationCreated   = "delegation.created"
	DelegationRevoked   = "delegation.revoked"
	StandupSubmitted    = "standup.submitted"
	PresenceUpdated     = "presence.updated"
	APIKeyCreated       = "api_key.created"
	APIKeyDeleted       = "api_key.deleted"
)

// Append writes one row to the event log. Callers pass the transaction
// that carries the state change so both commit together.
func (w Writer) Append(ctx context.Context, q Execer, evtType, foundryID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO events(ts,type,foundry_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(foundryID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
