package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"foundry/internal/domain"
	"foundry/internal/events"
	"foundry/internal/repo"
)

type ObjectiveCreateOptions struct {
	FoundryID string
	Title     string
	ParentID  string
	ActorID   string
}

func (e Engine) CreateObjective(ctx context.Context, opts ObjectiveCreateOptions) (domain.Objective, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Objective{}, invalidf("title is required")
	}
	now := e.stamp()
	o := domain.Objective{
		ID:        ulid.Make().String(),
		FoundryID: opts.FoundryID,
		Title:     strings.TrimSpace(opts.Title),
		ParentID:  optionalString(opts.ParentID),
		CreatorID: opts.ActorID,
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Objective{}, err
	}
	defer tx.Rollback()
	if err := e.require(ctx, tx, opts.FoundryID, opts.ActorID, "objective.write"); err != nil {
		return domain.Objective{}, err
	}
	if opts.ParentID != "" {
		if err := e.ensureObjectiveInFoundry(ctx, tx, opts.FoundryID, opts.ParentID); err != nil {
			return domain.Objective{}, err
		}
	}
	if err := e.Repo.InsertObjective(ctx, tx, o); err != nil {
		return domain.Objective{}, err
	}
	if err := e.journal().Append(ctx, tx, events.ObjectiveCreated, o.FoundryID, "objective", o.ID, opts.ActorID, events.EventPayload{"title": o.Title, "parent_id": o.ParentID}); err != nil {
		return domain.Objective{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Objective{}, err
	}
	return o, nil
}

func (e Engine) GetObjective(ctx context.Context, id string) (domain.Objective, error) {
	return e.Repo.GetObjective(ctx, e.DB, id)
}

func (e Engine) ListObjectives(ctx context.Context, foundryID string) ([]domain.Objective, error) {
	return e.Repo.ListObjectives(ctx, foundryID)
}

// SetObjectiveParent moves an objective under parentID, or to the root
// when parentID is empty.
func (e Engine) SetObjectiveParent(ctx context.Context, id, parentID, actorID string) (domain.Objective, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Objective{}, err
	}
	defer tx.Rollback()
	o, err := e.Repo.GetObjective(ctx, tx, id)
	if err != nil {
		return domain.Objective{}, err
	}
	if err := e.require(ctx, tx, o.FoundryID, actorID, "objective.write"); err != nil {
		return domain.Objective{}, err
	}
	if parentID != "" {
		if err := e.ensureObjectiveInFoundry(ctx, tx, o.FoundryID, parentID); err != nil {
			return domain.Objective{}, err
		}
		if err := e.ensureNoCycle(ctx, tx, parentID, id); err != nil {
			return domain.Objective{}, err
		}
	}
	previous := deref(o.ParentID)
	o.ParentID = optionalString(parentID)
	o.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateObjective(ctx, tx, o); err != nil {
		return domain.Objective{}, err
	}
	if err := e.journal().Append(ctx, tx, events.ObjectiveUpdated, o.FoundryID, "objective", o.ID, actorID, events.EventPayload{
		"changes": map[string]any{"parent_id": map[string]any{"from": previous, "to": parentID}},
	}); err != nil {
		return domain.Objective{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Objective{}, err
	}
	return o, nil
}

// ensureNoCycle climbs from parentID to the root and fails if childID is
// on the way.
func (e Engine) ensureNoCycle(ctx context.Context, q repo.Querier, parentID, childID string) error {
	seen := map[string]bool{}
	for cur := parentID; cur != ""; {
		if cur == childID {
			return fmt.Errorf("%w: %s would become its own ancestor", ErrCycle, childID)
		}
		if seen[cur] {
			return fmt.Errorf("%w: existing loop at %s", ErrCycle, cur)
		}
		seen[cur] = true
		next, err := e.Repo.ObjectiveParent(ctx, q, cur)
		if err != nil {
			return err
		}
		cur = next
	}
	return nil
}

func (e Engine) ensureObjectiveInFoundry(ctx context.Context, q repo.Querier, foundryID, objectiveID string) error {
	o, err := e.Repo.GetObjective(ctx, q, objectiveID)
	if err != nil {
		return fmt.Errorf("objective %s: %w", objectiveID, err)
	}
	if o.FoundryID != foundryID {
		return invalidf("objective %s not in foundry %s", objectiveID, foundryID)
	}
	return nil
}

// RecalculateObjectiveProgress recomputes and stores an objective's progress.
func (e Engine) RecalculateObjectiveProgress(ctx context.Context, id string) (domain.Objective, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Objective{}, err
	}
	defer tx.Rollback()
	if err := e.recalcObjective(ctx, tx, id); err != nil {
		return domain.Objective{}, err
	}
	o, err := e.Repo.GetObjective(ctx, tx, id)
	if err != nil {
		return domain.Objective{}, err
	}
	return o, tx.Commit()
}

func (e Engine) recalcObjective(ctx context.Context, q repo.Querier, id string) error {
	if id == "" {
		return nil
	}
	o, err := e.Repo.GetObjective(ctx, q, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	progress, err := e.Repo.ObjectiveProgress(ctx, q, id)
	if err != nil {
		return err
	}
	progress = round2(progress)
	if progress == o.Progress {
		return nil
	}
	o.Progress = progress
	o.UpdatedAt = e.stamp()
	return e.Repo.UpdateObjective(ctx, q, o)
}
