package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"foundry/internal/domain"
	"foundry/internal/events"
	"foundry/internal/repo"
)

type StandupInput struct {
	FoundryID string
	// Date defaults to today (UTC).
	Date      string
	Yesterday string
	Today     string
	Blockers  string
	ActorID   string
}

// SubmitStandup records the actor's standup for the date, replacing an
// earlier submission of the same day.
func (e Engine) SubmitStandup(ctx context.Context, in StandupInput) (domain.Standup, error) {
	date := in.Date
	if date == "" {
		date = e.today()
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return domain.Standup{}, invalidf("date %q: want YYYY-MM-DD", date)
	}
	if in.Yesterday == "" && in.Today == "" && in.Blockers == "" {
		return domain.Standup{}, invalidf("standup is empty")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Standup{}, err
	}
	defer tx.Rollback()
	if err := e.require(ctx, tx, in.FoundryID, in.ActorID, "standup.write"); err != nil {
		return domain.Standup{}, err
	}
	now := e.stamp()
	s := domain.Standup{
		ID:        ulid.Make().String(),
		FoundryID: in.FoundryID,
		ProfileID: in.ActorID,
		Date:      date,
		Yesterday: in.Yesterday,
		Today:     in.Today,
		Blockers:  in.Blockers,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.UpsertStandup(ctx, tx, s); err != nil {
		return domain.Standup{}, err
	}
	stored, err := e.Repo.GetStandup(ctx, tx, in.FoundryID, in.ActorID, date)
	if err != nil {
		return domain.Standup{}, err
	}
	if err := e.journal().Append(ctx, tx, events.StandupSubmitted, in.FoundryID, "standup", stored.ID, in.ActorID, events.EventPayload{
		"date":         date,
		"has_blockers": in.Blockers != "",
	}); err != nil {
		return domain.Standup{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Standup{}, err
	}
	return stored, nil
}

// GetMyTodayStandup returns nil when the actor has not submitted today.
func (e Engine) GetMyTodayStandup(ctx context.Context, foundryID, actorID string) (*domain.Standup, error) {
	s, err := e.Repo.GetStandup(ctx, e.DB, foundryID, actorID, e.today())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (e Engine) ListStandups(ctx context.Context, foundryID, date string) ([]domain.Standup, error) {
	if date == "" {
		date = e.today()
	}
	return e.Repo.ListStandups(ctx, foundryID, date)
}

type PresenceInput struct {
	FoundryID     string
	Status        string
	StatusMessage *string
	Timezone      *string
	CurrentTaskID *string
	ActorID       string
}

func (e Engine) UpsertPresence(ctx context.Context, in PresenceInput) (domain.Presence, error) {
	valid := false
	for _, s := range domain.PresenceStatuses {
		if s == in.Status {
			valid = true
		}
	}
	if !valid {
		return domain.Presence{}, invalidf("presence status %q: want one of %v", in.Status, domain.PresenceStatuses)
	}
	if in.Timezone != nil && *in.Timezone != "" {
		if _, err := time.LoadLocation(*in.Timezone); err != nil {
			return domain.Presence{}, invalidf("timezone %q: %v", *in.Timezone, err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Presence{}, err
	}
	defer tx.Rollback()
	if err := e.require(ctx, tx, in.FoundryID, in.ActorID, "presence.write"); err != nil {
		return domain.Presence{}, err
	}
	if id := deref(in.CurrentTaskID); id != "" {
		t, err := e.Repo.GetTaskTx(ctx, tx, id)
		if err != nil {
			return domain.Presence{}, fmt.Errorf("task %s: %w", id, err)
		}
		if t.FoundryID != in.FoundryID {
			return domain.Presence{}, invalidf("task %s not in foundry %s", id, in.FoundryID)
		}
	}
	p := domain.Presence{
		FoundryID:     in.FoundryID,
		ProfileID:     in.ActorID,
		Status:        in.Status,
		StatusMessage: in.StatusMessage,
		Timezone:      in.Timezone,
		CurrentTaskID: in.CurrentTaskID,
		UpdatedAt:     e.stamp(),
	}
	if err := e.Repo.UpsertPresence(ctx, tx, p); err != nil {
		return domain.Presence{}, err
	}
	if err := e.journal().Append(ctx, tx, events.PresenceUpdated, in.FoundryID, "presence", in.ActorID, in.ActorID, events.EventPayload{"status": in.Status}); err != nil {
		return domain.Presence{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Presence{}, err
	}
	return p, nil
}

func (e Engine) ListPresence(ctx context.Context, foundryID string) ([]domain.Presence, error) {
	return e.Repo.ListPresence(ctx, foundryID)
}
