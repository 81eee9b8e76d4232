package auth

import (
	"context"
	"fmt"

	"foundry/internal/repo"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// NotApproverError is returned when a profile lacks approval authority
// over a task in its current state.
type NotApproverError struct {
	TaskID    string
	ProfileID string
	Status    string
}

func (e NotApproverError) Error() string {
	return fmt.Sprintf("profile %s cannot approve task %s in status %s", e.ProfileID, e.TaskID, e.Status)
}

// Service provides RBAC checks backed by SQL.
type Service struct {
	Repo repo.Repo
}

func (s Service) ProfileHasPermission(ctx context.Context, q repo.Querier, foundryID, profileID, perm string) (bool, error) {
	return s.Repo.HasPermission(ctx, q, foundryID, profileID, perm)
}

// Require returns ForbiddenError unless the profile holds perm.
func (s Service) Require(ctx context.Context, q repo.Querier, foundryID, profileID, perm string) error {
	ok, err := s.ProfileHasPermission(ctx, q, foundryID, profileID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}
