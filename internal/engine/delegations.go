package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"foundry/internal/domain"
	"foundry/internal/events"
	"foundry/internal/repo"
)

type DelegationCreateOptions struct {
	FoundryID   string
	DelegatorID string
	DelegateID  string
	StartDate   string
	EndDate     string
	AllTasks    bool
	TaskTypes   []string
	Reason      string
	ActorID     string
}

// CreateDelegation lends the delegator's approval authority to the
// delegate. Only the delegator or an executive may create one.
func (e Engine) CreateDelegation(ctx context.Context, opts DelegationCreateOptions) (domain.ApprovalDelegation, error) {
	if opts.DelegatorID == "" {
		opts.DelegatorID = opts.ActorID
	}
	if opts.DelegateID == "" {
		return domain.ApprovalDelegation{}, invalidf("delegate required")
	}
	if opts.DelegatorID == opts.DelegateID {
		return domain.ApprovalDelegation{}, invalidf("delegator and delegate must differ")
	}
	if opts.StartDate == "" {
		opts.StartDate = e.today()
	}
	if _, err := time.Parse(dateLayout, opts.StartDate); err != nil {
		return domain.ApprovalDelegation{}, invalidf("start_date %q: want YYYY-MM-DD", opts.StartDate)
	}
	if opts.EndDate != "" {
		if _, err := time.Parse(dateLayout, opts.EndDate); err != nil {
			return domain.ApprovalDelegation{}, invalidf("end_date %q: want YYYY-MM-DD", opts.EndDate)
		}
		if opts.EndDate < opts.StartDate {
			return domain.ApprovalDelegation{}, invalidf("end_date before start_date")
		}
	}
	types := normalizeList(opts.TaskTypes)
	if !opts.AllTasks && len(types) == 0 {
		return domain.ApprovalDelegation{}, invalidf("task_types required unless all_tasks is set")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApprovalDelegation{}, err
	}
	defer tx.Rollback()
	if err := e.require(ctx, tx, opts.FoundryID, opts.ActorID, "delegation.write"); err != nil {
		return domain.ApprovalDelegation{}, err
	}
	if err := e.ensureDelegationOwner(ctx, tx, opts.FoundryID, opts.DelegatorID, opts.ActorID); err != nil {
		return domain.ApprovalDelegation{}, err
	}
	for _, id := range []string{opts.DelegatorID, opts.DelegateID} {
		if err := e.ensureMember(ctx, tx, opts.FoundryID, id); err != nil {
			return domain.ApprovalDelegation{}, err
		}
	}
	d := domain.ApprovalDelegation{
		ID:          ulid.Make().String(),
		FoundryID:   opts.FoundryID,
		DelegatorID: opts.DelegatorID,
		DelegateID:  opts.DelegateID,
		IsActive:    true,
		StartDate:   opts.StartDate,
		EndDate:     optionalString(opts.EndDate),
		AllTasks:    opts.AllTasks,
		TaskTypes:   types,
		Reason:      opts.Reason,
		CreatedAt:   e.stamp(),
	}
	if err := e.Repo.InsertDelegation(ctx, tx, d); err != nil {
		return domain.ApprovalDelegation{}, err
	}
	if err := e.journal().Append(ctx, tx, events.DelegationCreated, d.FoundryID, "delegation", d.ID, opts.ActorID, events.EventPayload{
		"delegator_id": d.DelegatorID,
		"delegate_id":  d.DelegateID,
		"start_date":   d.StartDate,
		"end_date":     d.EndDate,
		"all_tasks":    d.AllTasks,
		"task_types":   d.TaskTypes,
	}); err != nil {
		return domain.ApprovalDelegation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ApprovalDelegation{}, err
	}
	return d, nil
}

func (e Engine) ListDelegations(ctx context.Context, f repo.DelegationFilters) ([]domain.ApprovalDelegation, error) {
	return e.Repo.ListDelegations(ctx, e.DB, f)
}

// RevokeDelegation deactivates a delegation; the row is kept for audit.
func (e Engine) RevokeDelegation(ctx context.Context, id, actorID string) (domain.ApprovalDelegation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApprovalDelegation{}, err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetDelegation(ctx, tx, id)
	if err != nil {
		return domain.ApprovalDelegation{}, err
	}
	if err := e.require(ctx, tx, d.FoundryID, actorID, "delegation.write"); err != nil {
		return domain.ApprovalDelegation{}, err
	}
	if err := e.ensureDelegationOwner(ctx, tx, d.FoundryID, d.DelegatorID, actorID); err != nil {
		return domain.ApprovalDelegation{}, err
	}
	if !d.IsActive {
		return d, nil
	}
	if err := e.Repo.DeactivateDelegation(ctx, tx, id); err != nil {
		return domain.ApprovalDelegation{}, err
	}
	d.IsActive = false
	if err := e.journal().Append(ctx, tx, events.DelegationRevoked, d.FoundryID, "delegation", d.ID, actorID, nil); err != nil {
		return domain.ApprovalDelegation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ApprovalDelegation{}, err
	}
	return d, nil
}

func (e Engine) ensureDelegationOwner(ctx context.Context, q repo.Querier, foundryID, delegatorID, actorID string) error {
	if delegatorID == actorID {
		return nil
	}
	cfg, err := e.configFor(ctx, q, foundryID)
	if err != nil {
		return err
	}
	actor, err := e.Repo.GetMember(ctx, q, foundryID, actorID)
	if err != nil {
		return fmt.Errorf("member %s: %w", actorID, err)
	}
	if !cfg.IsExecutiveRole(actor.Role) {
		return fmt.Errorf("%w: only the delegator or an executive can manage this delegation", ErrNotTaskActor)
	}
	return nil
}
