package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"foundry/internal/domain"
	"foundry/internal/engine"
	"foundry/internal/repo"
)

func objectiveCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "objective", Short: "Objective hierarchy"}
	cmd.AddCommand(objectiveCreateCmd(), objectiveListCmd(), objectiveSetParentCmd(), objectiveRecalcCmd())
	return cmd
}

func objectiveCreateCmd() *cobra.Command {
	var title, parent string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an objective",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				o, err := e.CreateObjective(ctx, engine.ObjectiveCreateOptions{
					FoundryID: foundryID,
					Title:     title,
					ParentID:  parent,
					ActorID:   actorID(),
				})
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&parent, "parent", "", "parent objective id")
	return cmd
}

func objectiveListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List objectives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				items, err := e.ListObjectives(ctx, foundryID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, o := range items {
					rows = append(rows, table.Row{o.ID, o.Title, deref(o.ParentID), o.Status, fmt.Sprintf("%.0f%%", o.Progress)})
				}
				return printTable(items, table.Row{"ID", "Title", "Parent", "Status", "Progress"}, rows)
			})
		},
	}
}

func objectiveSetParentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-parent <id> [parent-id]",
		Short: "Move an objective; omit parent-id to make it top level",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := ""
			if len(args) == 2 {
				parent = args[1]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.SetObjectiveParent(ctx, args[0], parent, actorID())
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
}

func objectiveRecalcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recalculate <id>",
		Short: "Recompute progress from linked tasks and children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.GetObjective(ctx, args[0])
				if err != nil {
					return err
				}
				if err := e.Authorize(ctx, o.FoundryID, actorID(), "objective.write"); err != nil {
					return err
				}
				o, err = e.RecalculateObjectiveProgress(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
}

func delegationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "delegation", Short: "Approval delegations"}
	cmd.AddCommand(delegationCreateCmd(), delegationListCmd(), delegationRevokeCmd())
	return cmd
}

func delegationCreateCmd() *cobra.Command {
	var opts engine.DelegationCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Delegate executive approval authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				opts.FoundryID = foundryID
				opts.ActorID = actorID()
				if opts.DelegatorID == "" {
					opts.DelegatorID = opts.ActorID
				}
				opts.AllTasks = len(opts.TaskTypes) == 0
				d, err := e.CreateDelegation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.DelegatorID, "from", "", "delegating executive (defaults to the actor)")
	cmd.Flags().StringVar(&opts.DelegateID, "to", "", "delegate profile id")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "first day, YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&opts.EndDate, "end", "", "last day, YYYY-MM-DD")
	cmd.Flags().StringSliceVar(&opts.TaskTypes, "task-type", nil, "limit to task type (repeatable)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason")
	return cmd
}

func delegationRows(items []domain.ApprovalDelegation) []table.Row {
	rows := make([]table.Row, 0, len(items))
	for _, d := range items {
		scope := "all"
		if !d.AllTasks {
			scope = strings.Join(d.TaskTypes, ",")
		}
		rows = append(rows, table.Row{d.ID, d.DelegatorID, d.DelegateID, d.StartDate, deref(d.EndDate), scope, d.IsActive})
	}
	return rows
}

func delegationListCmd() *cobra.Command {
	var f repo.DelegationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List delegations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				f.FoundryID = foundryID
				items, err := e.ListDelegations(ctx, f)
				if err != nil {
					return err
				}
				return printTable(items, table.Row{"ID", "From", "To", "Start", "End", "Scope", "Active"}, delegationRows(items))
			})
		},
	}
	cmd.Flags().StringVar(&f.DelegatorID, "from", "", "delegator profile id")
	cmd.Flags().StringVar(&f.DelegateID, "to", "", "delegate profile id")
	cmd.Flags().BoolVar(&f.ActiveOnly, "active", false, "only active delegations")
	return cmd
}

func delegationRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a delegation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.RevokeDelegation(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
}
