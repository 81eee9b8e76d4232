package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"foundry/internal/engine"
	"foundry/internal/repo"
)

func recommendCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "recommend", Short: "Workload and assignee suggestions"}
	cmd.AddCommand(recommendWorkloadCmd(), recommendSuggestCmd())
	return cmd
}

func recommendWorkloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workload <profile-id>",
		Short: "Show a member's workload score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				score, err := e.CalculateWorkloadScore(ctx, foundryID, args[0])
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]any{"profile_id": args[0], "workload_score": score})
				}
				fmt.Printf("%s: %.2f\n", args[0], score)
				return nil
			})
		},
	}
}

func recommendSuggestCmd() *cobra.Command {
	var opts engine.SuggestOptions
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Rank members for a task by skills and load",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				opts.FoundryID = foundryID
				items, err := e.SuggestTaskAssignees(ctx, opts)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, s := range items {
					rows = append(rows, table.Row{
						s.UserID, s.FullName, s.Role,
						fmt.Sprintf("%.2f", s.SkillMatchScore),
						fmt.Sprintf("%.2f", s.WorkloadScore),
						fmt.Sprintf("%.2f", s.TotalScore),
						s.MatchReason,
					})
				}
				return printTable(items, table.Row{"ID", "Name", "Role", "Skill", "Workload", "Total", "Reason"}, rows)
			})
		},
	}
	cmd.Flags().StringSliceVar(&opts.Required, "require", nil, "required skill (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Preferred, "prefer", nil, "preferred skill (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Exclude, "exclude", nil, "profile id to skip (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 5, "max suggestions")
	return cmd
}

func standupCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "standup", Short: "Daily standups"}
	cmd.AddCommand(standupSubmitCmd(), standupTodayCmd(), standupListCmd())
	return cmd
}

func standupSubmitCmd() *cobra.Command {
	var in engine.StandupInput
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit or replace your standup for the day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				in.FoundryID = foundryID
				in.ActorID = actorID()
				s, err := e.SubmitStandup(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&in.Date, "date", "", "YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&in.Yesterday, "yesterday", "", "what got done")
	cmd.Flags().StringVar(&in.Today, "today", "", "what is planned")
	cmd.Flags().StringVar(&in.Blockers, "blockers", "", "blockers")
	return cmd
}

func standupTodayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Show your standup for today",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				s, err := e.GetMyTodayStandup(ctx, foundryID, actorID())
				if err != nil {
					return err
				}
				if s == nil && !jsonOutput() {
					fmt.Println("No standup submitted today")
					return nil
				}
				return printJSON(s)
			})
		},
	}
}

func standupListCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List standups for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				items, err := e.ListStandups(ctx, foundryID, date)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, s := range items {
					rows = append(rows, table.Row{s.ProfileID, s.Date, s.Yesterday, s.Today, s.Blockers})
				}
				return printTable(items, table.Row{"Profile", "Date", "Yesterday", "Today", "Blockers"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "YYYY-MM-DD (defaults to today)")
	return cmd
}

func presenceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "presence", Short: "Member presence"}
	cmd.AddCommand(presenceSetCmd(), presenceListCmd())
	return cmd
}

func presenceSetCmd() *cobra.Command {
	var message, timezone, currentTask string
	cmd := &cobra.Command{
		Use:   "set <online|away|busy|offline>",
		Short: "Set your presence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				p, err := e.UpsertPresence(ctx, engine.PresenceInput{
					FoundryID:     foundryID,
					Status:        strings.ToLower(args[0]),
					StatusMessage: optional(cmd, "message", message),
					Timezone:      optional(cmd, "timezone", timezone),
					CurrentTaskID: optional(cmd, "task", currentTask),
					ActorID:       actorID(),
				})
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "status message")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone")
	cmd.Flags().StringVar(&currentTask, "task", "", "task being worked on")
	return cmd
}

func presenceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List member presence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				items, err := e.ListPresence(ctx, foundryID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ProfileID, p.Status, deref(p.StatusMessage), deref(p.CurrentTaskID), p.UpdatedAt})
				}
				return printTable(items, table.Row{"Profile", "Status", "Message", "Task", "Updated"}, rows)
			})
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				f.FoundryID = foundryID
				items, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, evt := range items {
					rows = append(rows, table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind, evt.EntityID, evt.ActorID})
				}
				return printTable(items, table.Row{"ID", "At", "Type", "Kind", "Entity", "Actor"}, rows)
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}
