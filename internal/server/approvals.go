package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"foundry/internal/domain"
	"foundry/internal/engine"
	"foundry/internal/repo"
)

func registerApprovals(api huma.API, e engine.Engine) {
	registerTaskAction(api, e, huma.Operation{
		OperationID: "decide-approval",
		Path:        "/foundries/{foundry_id}/tasks/{task_id}/decision",
		Summary:     "Approve or reject a pending task",
	}, func(ctx context.Context, taskID, actorID string, body DecisionRequest) (domain.Task, error) {
		return e.DecideApproval(ctx, engine.DecisionOptions{
			TaskID:  taskID,
			ActorID: actorID,
			Approve: body.Approve,
			Note:    body.Note,
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "batch-decision",
		Method:      http.MethodPost,
		Path:        "/foundries/{foundry_id}/tasks/batch-decision",
		Summary:     "Approve or reject several tasks at once; all or nothing",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		Body BatchDecisionRequest
	}) (*out[TaskList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var sel domain.Selection
		for _, id := range input.Body.TaskIDs {
			if sel.IsSelected(id) {
				continue
			}
			if _, err := taskInFoundry(ctx, e, input.FoundryID, id); err != nil {
				return nil, err
			}
			sel.Toggle(id)
		}
		tasks, err := e.BatchDecide(ctx, sel.Selected(), actorID, input.Body.Approve, input.Body.Note)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(TaskList{Items: nonNilSlice(tasks)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "can-approve",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/tasks/{task_id}/can-approve",
		Summary:     "Whether a user may approve the task right now",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskParam
		UserID string `query:"user_id" doc:"defaults to the caller"`
	}) (*out[CanApproveResponse], error) {
		actorID, err := requirePermission(ctx, e, input.FoundryID, "task.read")
		if err != nil {
			return nil, err
		}
		if _, err := taskInFoundry(ctx, e, input.FoundryID, input.TaskID); err != nil {
			return nil, err
		}
		userID := input.UserID
		if userID == "" {
			userID = actorID
		}
		ok, err := e.CanUserApprove(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(CanApproveResponse{TaskID: input.TaskID, UserID: userID, CanApprove: ok}), nil
	})

	registerTaskAction(api, e, huma.Operation{
		OperationID: "escalate-task",
		Path:        "/foundries/{foundry_id}/tasks/{task_id}/escalate",
		Summary:     "Escalate a pending approval",
	}, func(ctx context.Context, taskID, actorID string, body *ReasonRequest) (domain.Task, error) {
		return e.EscalateTask(ctx, taskID, reasonOf(body), actorID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-escalations",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/escalations",
		Summary:     "Approvals pending past the timeout",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		TimeoutHours float64 `query:"timeout_hours" doc:"defaults to the foundry policy"`
	}) (*out[EscalationList], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "task.read"); err != nil {
			return nil, err
		}
		items, err := e.TasksNeedingEscalation(ctx, input.FoundryID, input.TimeoutHours)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		timeout, err := e.EscalationTimeout(ctx, input.FoundryID, input.TimeoutHours)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(EscalationList{TimeoutHours: timeout, Items: nonNilSlice(items)}), nil
	})

	registerDelegations(api, e)
}

func registerDelegations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-delegation",
		Method:        http.MethodPost,
		Path:          "/foundries/{foundry_id}/delegations",
		Summary:       "Delegate approval authority",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		Body CreateDelegationRequest
	}) (*out[domain.ApprovalDelegation], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		delegator := input.Body.DelegatorID
		if delegator == "" {
			delegator = actorID
		}
		d, err := e.CreateDelegation(ctx, engine.DelegationCreateOptions{
			FoundryID:   input.FoundryID,
			DelegatorID: delegator,
			DelegateID:  input.Body.DelegateID,
			StartDate:   input.Body.StartDate,
			EndDate:     input.Body.EndDate,
			AllTasks:    input.Body.AllTasks,
			TaskTypes:   input.Body.TaskTypes,
			Reason:      input.Body.Reason,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-delegations",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/delegations",
		Summary:     "List delegations",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		DelegatorID string `query:"delegator_id"`
		DelegateID  string `query:"delegate_id"`
		ActiveOnly  bool   `query:"active_only"`
	}) (*out[DelegationList], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "delegation.read"); err != nil {
			return nil, err
		}
		items, err := e.ListDelegations(ctx, repo.DelegationFilters{
			FoundryID:   input.FoundryID,
			DelegatorID: input.DelegatorID,
			DelegateID:  input.DelegateID,
			ActiveOnly:  input.ActiveOnly,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(DelegationList{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-delegation",
		Method:      http.MethodPost,
		Path:        "/foundries/{foundry_id}/delegations/{delegation_id}/revoke",
		Summary:     "Revoke a delegation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		DelegationID string `path:"delegation_id"`
	}) (*out[domain.ApprovalDelegation], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.Repo.GetDelegation(ctx, e.DB, input.DelegationID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if d.FoundryID != input.FoundryID {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("delegation %s not found in foundry %s", input.DelegationID, input.FoundryID), nil)
		}
		d, err = e.RevokeDelegation(ctx, input.DelegationID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(d), nil
	})
}
