package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"foundry/internal/domain"
	"foundry/internal/engine"
	"foundry/internal/repo"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Task lifecycle"}
	cmd.AddCommand(
		taskCreateCmd(),
		taskListCmd(),
		taskShowCmd(),
		taskUpdateCmd(),
		taskActionCmd("accept", "Accept a pending task", func(ctx context.Context, e engine.Engine, id, note string) (domain.Task, error) {
			return e.AcceptTask(ctx, id, actorID())
		}),
		taskActionCmd("decline", "Decline a pending task", func(ctx context.Context, e engine.Engine, id, note string) (domain.Task, error) {
			return e.DeclineTask(ctx, id, actorID(), note)
		}),
		taskActionCmd("amend", "Request an amendment", func(ctx context.Context, e engine.Engine, id, note string) (domain.Task, error) {
			return e.AmendTask(ctx, id, actorID(), note)
		}),
		taskActionCmd("submit-amendment", "Send an amended task back for approval", func(ctx context.Context, e engine.Engine, id, note string) (domain.Task, error) {
			return e.SubmitAmendment(ctx, id, actorID())
		}),
		taskActionCmd("submit", "Submit work for peer review", func(ctx context.Context, e engine.Engine, id, note string) (domain.Task, error) {
			return e.SubmitForReview(ctx, id, actorID())
		}),
		taskActionCmd("approve", "Approve the task at its current review stage", func(ctx context.Context, e engine.Engine, id, note string) (domain.Task, error) {
			return e.DecideApproval(ctx, engine.DecisionOptions{TaskID: id, ActorID: actorID(), Approve: true, Note: note})
		}),
		taskActionCmd("reject", "Reject the task", func(ctx context.Context, e engine.Engine, id, note string) (domain.Task, error) {
			return e.DecideApproval(ctx, engine.DecisionOptions{TaskID: id, ActorID: actorID(), Approve: false, Note: note})
		}),
		taskActionCmd("nudge", "Nudge the assignee", func(ctx context.Context, e engine.Engine, id, note string) (domain.Task, error) {
			return e.NudgeTask(ctx, id, actorID())
		}),
		taskBatchCmd(),
		taskForwardCmd(),
		taskAssignCmd(),
		taskCommentCmd(),
		taskHistoryCmd(),
	)
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				opts.FoundryID = foundryID
				opts.ActorID = actorID()
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Type, "type", "", "task type (defaults from policy)")
	cmd.Flags().StringVar(&opts.RiskLevel, "risk", string(domain.RiskLow), "Low, Medium or High")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee", "", "assignee profile id")
	cmd.Flags().StringVar(&opts.ObjectiveID, "objective", "", "objective id")
	cmd.Flags().BoolVar(&opts.ClientVisible, "client-visible", false, "visible to clients")
	return cmd
}

func parseStatuses(csv string) ([]domain.Status, error) {
	var out []domain.Status
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		st, err := domain.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func taskRows(items []domain.Task) []table.Row {
	rows := make([]table.Row, 0, len(items))
	for _, t := range items {
		status := string(t.Status)
		switch {
		case t.ApprovalEscalated:
			status = color.RedString(status)
		case t.Status.PendingApproval():
			status = color.YellowString(status)
		case t.Status == domain.StatusCompleted:
			status = color.GreenString(status)
		}
		rows = append(rows, table.Row{t.TaskNumber, t.ID, t.Title, status, t.RiskLevel, deref(t.AssigneeID), t.Progress})
	}
	return rows
}

var taskHeader = table.Row{"#", "ID", "Title", "Status", "Risk", "Assignee", "Progress"}

func taskListCmd() *cobra.Command {
	var status, assignee, creator, objective, taskType string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(status)
			if err != nil {
				return err
			}
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				items, err := e.ListTasks(ctx, repo.TaskFilters{
					FoundryID:   foundryID,
					Statuses:    statuses,
					AssigneeID:  assignee,
					CreatorID:   creator,
					ObjectiveID: objective,
					Type:        taskType,
					Limit:       limit,
				})
				if err != nil {
					return err
				}
				return printTable(items, taskHeader, taskRows(items))
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "comma separated statuses")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee profile id")
	cmd.Flags().StringVar(&creator, "creator", "", "creator profile id")
	cmd.Flags().StringVar(&objective, "objective", "", "objective id")
	cmd.Flags().StringVar(&taskType, "type", "", "task type")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, taskType, risk, assignee, objective string
	var progress int
	var clientVisible bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{
				ID:          args[0],
				Title:       optional(cmd, "title", title),
				Description: optional(cmd, "description", description),
				Type:        optional(cmd, "type", taskType),
				RiskLevel:   optional(cmd, "risk", risk),
				AssigneeID:  optional(cmd, "assignee", assignee),
				ObjectiveID: optional(cmd, "objective", objective),
				ActorID:     actorID(),
			}
			if cmd.Flags().Changed("progress") {
				opts.Progress = &progress
			}
			if cmd.Flags().Changed("client-visible") {
				opts.ClientVisible = &clientVisible
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&taskType, "type", "", "task type")
	cmd.Flags().StringVar(&risk, "risk", "", "Low, Medium or High")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee profile id")
	cmd.Flags().StringVar(&objective, "objective", "", "objective id")
	cmd.Flags().IntVar(&progress, "progress", 0, "progress 0-100")
	cmd.Flags().BoolVar(&clientVisible, "client-visible", false, "visible to clients")
	return cmd
}

// taskActionCmd builds a single-task command. The --note flag feeds the
// reason, amendment notes or decision note depending on the action.
func taskActionCmd(use, short string, fn func(ctx context.Context, e engine.Engine, id, note string) (domain.Task, error)) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := fn(ctx, e, args[0], note)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(t)
				}
				fmt.Printf("Task #%d %s is now %s\n", t.TaskNumber, t.ID, t.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "reason or note")
	return cmd
}

func taskBatchCmd() *cobra.Command {
	var ids, except []string
	var all, reject bool
	var note string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Approve or reject several tasks at once; all or none are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				var sel domain.Selection
				if all {
					pending, err := e.ListTasks(ctx, repo.TaskFilters{FoundryID: foundryID, Statuses: domain.PendingApprovalStatuses})
					if err != nil {
						return err
					}
					pendingIDs := make([]string, 0, len(pending))
					for _, t := range pending {
						pendingIDs = append(pendingIDs, t.ID)
					}
					sel.ToggleAll(pendingIDs)
				}
				for _, id := range ids {
					if !sel.IsSelected(id) {
						sel.Toggle(id)
					}
				}
				for _, id := range except {
					if sel.IsSelected(id) {
						sel.Toggle(id)
					}
				}
				if sel.Len() == 0 {
					return fmt.Errorf("no tasks selected; use --task or --all")
				}
				out, err := e.BatchDecide(ctx, sel.Selected(), actorID(), !reject, note)
				if err != nil {
					return err
				}
				return printTable(out, taskHeader, taskRows(out))
			})
		},
	}
	cmd.Flags().StringSliceVar(&ids, "task", nil, "task id (repeatable)")
	cmd.Flags().StringSliceVar(&except, "except", nil, "task id to leave out (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "select every task awaiting approval")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	cmd.Flags().StringVar(&note, "note", "", "decision note")
	return cmd
}

func taskForwardCmd() *cobra.Command {
	var to, note string
	cmd := &cobra.Command{
		Use:   "forward <id>",
		Short: "Hand the task to another member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ForwardTask(ctx, args[0], actorID(), to, note)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "new assignee profile id")
	cmd.Flags().StringVar(&note, "note", "", "note")
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var profileID, teamID string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Add a co-assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.AddTaskAssignee(ctx, args[0], profileID, teamID, actorID())
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id")
	cmd.Flags().StringVar(&teamID, "team", "", "team the assignment comes through")
	return cmd
}

func taskCommentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "comment", Short: "Task comments"}
	var body string
	add := &cobra.Command{
		Use:   "add <id>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, args[0], actorID(), body)
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	add.Flags().StringVar(&body, "body", "", "comment text")
	list := &cobra.Command{
		Use:   "list <id>",
		Short: "List comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListComments(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, c := range items {
					rows = append(rows, table.Row{c.CreatedAt, c.AuthorID, c.Body})
				}
				return printTable(items, table.Row{"At", "Author", "Body"}, rows)
			})
		},
	}
	cmd.AddCommand(add, list)
	return cmd
}

func taskHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the task audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.TaskHistory(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, h := range items {
					rows = append(rows, table.Row{h.ID, h.TS, h.Action, h.ActorID, h.Changes})
				}
				return printTable(items, table.Row{"ID", "At", "Action", "Actor", "Changes"}, rows)
			})
		},
	}
}
