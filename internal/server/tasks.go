package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"foundry/internal/domain"
	"foundry/internal/engine"
	"foundry/internal/repo"
)

type TaskParam struct {
	FoundryID string `path:"foundry_id"`
	TaskID    string `path:"task_id"`
}

type taskListInput struct {
	FoundryParam
	Status      string `query:"status" doc:"comma-separated statuses"`
	AssigneeID  string `query:"assignee_id"`
	CreatorID   string `query:"creator_id"`
	ObjectiveID string `query:"objective_id"`
	Type        string `query:"type"`
	Limit       int    `query:"limit"`
}

// registerTaskAction wires a POST /tasks/{task_id}/<verb> route that runs
// one engine transition for the caller.
func registerTaskAction[B any](api huma.API, e engine.Engine, op huma.Operation, fn func(ctx context.Context, taskID, actorID string, body B) (domain.Task, error)) {
	op.Method = http.MethodPost
	if op.Errors == nil {
		op.Errors = []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict}
	}
	huma.Register(api, op, func(ctx context.Context, input *struct {
		TaskParam
		Body B
	}) (*out[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := taskInFoundry(ctx, e, input.FoundryID, input.TaskID); err != nil {
			return nil, err
		}
		t, err := fn(ctx, input.TaskID, actorID, input.Body)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(t), nil
	})
}

type emptyBody struct{}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/foundries/{foundry_id}/tasks",
		Summary:       "Create a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		Body CreateTaskRequest
	}) (*out[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ID:            input.Body.ID,
			FoundryID:     input.FoundryID,
			Title:         input.Body.Title,
			Description:   input.Body.Description,
			Type:          input.Body.Type,
			RiskLevel:     input.Body.RiskLevel,
			AssigneeID:    input.Body.AssigneeID,
			ObjectiveID:   input.Body.ObjectiveID,
			ClientVisible: input.Body.ClientVisible,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *taskListInput) (*out[TaskList], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "task.read"); err != nil {
			return nil, err
		}
		f := repo.TaskFilters{
			FoundryID:   input.FoundryID,
			AssigneeID:  input.AssigneeID,
			CreatorID:   input.CreatorID,
			ObjectiveID: input.ObjectiveID,
			Type:        input.Type,
			Limit:       normalizeLimit(input.Limit),
		}
		for _, raw := range splitCSV(input.Status) {
			s, err := domain.ParseStatus(raw)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			f.Statuses = append(f.Statuses, s)
		}
		items, err := e.ListTasks(ctx, f)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(TaskList{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/tasks/{task_id}",
		Summary:     "Get a task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *TaskParam) (*out[domain.Task], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "task.read"); err != nil {
			return nil, err
		}
		t, err := taskInFoundry(ctx, e, input.FoundryID, input.TaskID)
		if err != nil {
			return nil, err
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/foundries/{foundry_id}/tasks/{task_id}",
		Summary:     "Update task fields",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskParam
		Body UpdateTaskRequest
	}) (*out[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := taskInFoundry(ctx, e, input.FoundryID, input.TaskID); err != nil {
			return nil, err
		}
		t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:            input.TaskID,
			Title:         input.Body.Title,
			Description:   input.Body.Description,
			Type:          input.Body.Type,
			RiskLevel:     input.Body.RiskLevel,
			AssigneeID:    input.Body.AssigneeID,
			ObjectiveID:   input.Body.ObjectiveID,
			Progress:      input.Body.Progress,
			ClientVisible: input.Body.ClientVisible,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(t), nil
	})

	registerTaskAction(api, e, huma.Operation{
		OperationID: "accept-task",
		Path:        "/foundries/{foundry_id}/tasks/{task_id}/accept",
		Summary:     "Accept an assigned task",
	}, func(ctx context.Context, taskID, actorID string, _ *emptyBody) (domain.Task, error) {
		return e.AcceptTask(ctx, taskID, actorID)
	})

	registerTaskAction(api, e, huma.Operation{
		OperationID: "decline-task",
		Path:        "/foundries/{foundry_id}/tasks/{task_id}/decline",
		Summary:     "Decline an assigned task",
	}, func(ctx context.Context, taskID, actorID string, body *ReasonRequest) (domain.Task, error) {
		return e.DeclineTask(ctx, taskID, actorID, reasonOf(body))
	})

	registerTaskAction(api, e, huma.Operation{
		OperationID: "amend-task",
		Path:        "/foundries/{foundry_id}/tasks/{task_id}/amend",
		Summary:     "Request an amendment",
	}, func(ctx context.Context, taskID, actorID string, body AmendRequest) (domain.Task, error) {
		return e.AmendTask(ctx, taskID, actorID, body.Notes)
	})

	registerTaskAction(api, e, huma.Operation{
		OperationID: "submit-amendment",
		Path:        "/foundries/{foundry_id}/tasks/{task_id}/submit-amendment",
		Summary:     "Submit the amendment for approval",
	}, func(ctx context.Context, taskID, actorID string, _ *emptyBody) (domain.Task, error) {
		return e.SubmitAmendment(ctx, taskID, actorID)
	})

	registerTaskAction(api, e, huma.Operation{
		OperationID: "submit-task",
		Path:        "/foundries/{foundry_id}/tasks/{task_id}/submit",
		Summary:     "Submit work for peer review",
	}, func(ctx context.Context, taskID, actorID string, _ *emptyBody) (domain.Task, error) {
		return e.SubmitForReview(ctx, taskID, actorID)
	})

	registerTaskAction(api, e, huma.Operation{
		OperationID: "nudge-task",
		Path:        "/foundries/{foundry_id}/tasks/{task_id}/nudge",
		Summary:     "Nudge the assignee",
	}, func(ctx context.Context, taskID, actorID string, _ *emptyBody) (domain.Task, error) {
		return e.NudgeTask(ctx, taskID, actorID)
	})

	registerTaskAction(api, e, huma.Operation{
		OperationID: "forward-task",
		Path:        "/foundries/{foundry_id}/tasks/{task_id}/forward",
		Summary:     "Forward the task to another member",
	}, func(ctx context.Context, taskID, actorID string, body ForwardRequest) (domain.Task, error) {
		return e.ForwardTask(ctx, taskID, actorID, body.To, body.Note)
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-history",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/tasks/{task_id}/history",
		Summary:     "Task audit history",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *TaskParam) (*out[HistoryList], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "task.read"); err != nil {
			return nil, err
		}
		if _, err := taskInFoundry(ctx, e, input.FoundryID, input.TaskID); err != nil {
			return nil, err
		}
		items, err := e.TaskHistory(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(HistoryList{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/tasks/{task_id}/comments",
		Summary:     "List task comments",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *TaskParam) (*out[CommentList], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "task.read"); err != nil {
			return nil, err
		}
		if _, err := taskInFoundry(ctx, e, input.FoundryID, input.TaskID); err != nil {
			return nil, err
		}
		items, err := e.ListComments(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(CommentList{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/foundries/{foundry_id}/tasks/{task_id}/comments",
		Summary:       "Comment on a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskParam
		Body CommentRequest
	}) (*out[domain.TaskComment], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := taskInFoundry(ctx, e, input.FoundryID, input.TaskID); err != nil {
			return nil, err
		}
		c, err := e.AddComment(ctx, input.TaskID, actorID, input.Body.Body)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assignees",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/tasks/{task_id}/assignees",
		Summary:     "List co-assignees",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *TaskParam) (*out[AssigneeList], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "task.read"); err != nil {
			return nil, err
		}
		if _, err := taskInFoundry(ctx, e, input.FoundryID, input.TaskID); err != nil {
			return nil, err
		}
		items, err := e.ListTaskAssignees(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(AssigneeList{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-assignee",
		Method:        http.MethodPost,
		Path:          "/foundries/{foundry_id}/tasks/{task_id}/assignees",
		Summary:       "Add a co-assignee",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskParam
		Body AddAssigneeRequest
	}) (*out[domain.TaskAssignee], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := taskInFoundry(ctx, e, input.FoundryID, input.TaskID); err != nil {
			return nil, err
		}
		a, err := e.AddTaskAssignee(ctx, input.TaskID, input.Body.ProfileID, input.Body.TeamID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(a), nil
	})
}

func reasonOf(body *ReasonRequest) string {
	if body == nil {
		return ""
	}
	return body.Reason
}
