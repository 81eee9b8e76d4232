package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"foundry/internal/engine"
)

func approvalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "approval", Short: "Approval checks"}
	var userID string
	can := &cobra.Command{
		Use:   "can <task-id>",
		Short: "Report whether a user may approve the task now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				userID = actorID()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.CanUserApprove(ctx, args[0], userID)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]any{"task_id": args[0], "user_id": userID, "can_approve": ok})
				}
				if ok {
					fmt.Println(color.GreenString("yes"), userID, "can approve", args[0])
				} else {
					fmt.Println(color.RedString("no"), userID, "cannot approve", args[0])
				}
				return nil
			})
		},
	}
	can.Flags().StringVar(&userID, "user", "", "profile to check (defaults to the actor)")
	cmd.AddCommand(can)
	return cmd
}

func escalationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "escalation", Short: "Overdue approvals"}
	cmd.AddCommand(escalationListCmd(), escalationEscalateCmd())
	return cmd
}

func escalationListCmd() *cobra.Command {
	var hours float64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approvals pending longer than the timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				items, err := e.TasksNeedingEscalation(ctx, foundryID, hours)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, c := range items {
					rows = append(rows, table.Row{c.TaskNumber, c.TaskID, c.Title, c.Status, fmt.Sprintf("%.1f", c.HoursPending), c.Escalated})
				}
				return printTable(items, table.Row{"#", "ID", "Title", "Status", "Hours", "Escalated"}, rows)
			})
		},
	}
	cmd.Flags().Float64Var(&hours, "hours", 0, "timeout in hours (defaults to the foundry policy)")
	return cmd
}

func escalationEscalateCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "escalate <task-id>",
		Short: "Flag a pending approval as escalated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.EscalateTask(ctx, args[0], reason, actorID())
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "escalation reason")
	return cmd
}
