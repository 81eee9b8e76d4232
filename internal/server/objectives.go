package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"foundry/internal/domain"
	"foundry/internal/engine"
)

type ObjectiveParam struct {
	FoundryID   string `path:"foundry_id"`
	ObjectiveID string `path:"objective_id"`
}

func objectiveInFoundry(ctx context.Context, e engine.Engine, foundryID, id string) (domain.Objective, error) {
	o, err := e.GetObjective(ctx, id)
	if err != nil {
		return domain.Objective{}, handleError(ctx, err)
	}
	if o.FoundryID != foundryID {
		return domain.Objective{}, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("objective %s not found in foundry %s", id, foundryID), nil)
	}
	return o, nil
}

func registerObjectives(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-objective",
		Method:        http.MethodPost,
		Path:          "/foundries/{foundry_id}/objectives",
		Summary:       "Create an objective",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		Body CreateObjectiveRequest
	}) (*out[domain.Objective], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.CreateObjective(ctx, engine.ObjectiveCreateOptions{
			FoundryID: input.FoundryID,
			Title:     input.Body.Title,
			ParentID:  input.Body.ParentID,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-objectives",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/objectives",
		Summary:     "List objectives",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *FoundryParam) (*out[ObjectiveList], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "objective.read"); err != nil {
			return nil, err
		}
		items, err := e.ListObjectives(ctx, input.FoundryID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(ObjectiveList{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-objective",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/objectives/{objective_id}",
		Summary:     "Get an objective",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *ObjectiveParam) (*out[domain.Objective], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "objective.read"); err != nil {
			return nil, err
		}
		o, err := objectiveInFoundry(ctx, e, input.FoundryID, input.ObjectiveID)
		if err != nil {
			return nil, err
		}
		return reply(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-objective-parent",
		Method:      http.MethodPut,
		Path:        "/foundries/{foundry_id}/objectives/{objective_id}/parent",
		Summary:     "Move an objective under another one",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ObjectiveParam
		Body SetParentRequest
	}) (*out[domain.Objective], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := objectiveInFoundry(ctx, e, input.FoundryID, input.ObjectiveID); err != nil {
			return nil, err
		}
		o, err := e.SetObjectiveParent(ctx, input.ObjectiveID, input.Body.ParentID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recalculate-objective",
		Method:      http.MethodPost,
		Path:        "/foundries/{foundry_id}/objectives/{objective_id}/recalculate",
		Summary:     "Recompute progress from linked tasks",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *ObjectiveParam) (*out[domain.Objective], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "objective.write"); err != nil {
			return nil, err
		}
		if _, err := objectiveInFoundry(ctx, e, input.FoundryID, input.ObjectiveID); err != nil {
			return nil, err
		}
		o, err := e.RecalculateObjectiveProgress(ctx, input.ObjectiveID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(o), nil
	})
}
