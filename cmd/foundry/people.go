package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"foundry/internal/engine"
)

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Profiles and foundry members"}
	cmd.AddCommand(profileCreateCmd(), profileListCmd(), profileShowCmd())
	return cmd
}

func profileCreateCmd() *cobra.Command {
	var id, name, kind, role string
	var skills []string
	var capacity float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a profile and add it to the foundry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				p, err := e.CreateProfile(ctx, engine.ProfileCreateOptions{
					ID:            id,
					FullName:      name,
					Kind:          kind,
					Role:          role,
					Skills:        skills,
					CapacityScore: capacity,
					FoundryID:     foundryID,
					ActorID:       actorID(),
				})
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "profile id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&kind, "kind", "person", "person or ai_agent")
	cmd.Flags().StringVar(&role, "role", "Apprentice", "Founder, Executive, Apprentice or AI_Agent")
	cmd.Flags().StringSliceVar(&skills, "skill", nil, "skill (repeatable)")
	cmd.Flags().Float64Var(&capacity, "capacity", 1, "capacity score")
	return cmd
}

func profileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List foundry members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				items, err := e.ListProfiles(ctx, foundryID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, m := range items {
					rows = append(rows, table.Row{m.ID, m.FullName, m.Role, m.Kind, strings.Join(m.Skills, ","), m.CapacityScore})
				}
				return printTable(items, table.Row{"ID", "Name", "Role", "Kind", "Skills", "Capacity"}, rows)
			})
		},
	}
}

func profileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func memberCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Foundry membership"}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <profile-id>",
		Short: "Add an existing profile to the foundry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				if err := e.AddMember(ctx, foundryID, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("Added %s to %s\n", args[0], foundryID)
				return nil
			})
		},
	})
	return cmd
}

func teamCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "team", Short: "Teams"}
	cmd.AddCommand(teamCreateCmd(), teamAddMemberCmd(), teamListCmd())
	return cmd
}

func teamCreateCmd() *cobra.Command {
	var name string
	var members []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				team, err := e.CreateTeam(ctx, foundryID, name, members, actorID())
				if err != nil {
					return err
				}
				return printJSON(team)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "team name")
	cmd.Flags().StringSliceVar(&members, "member", nil, "member profile id (repeatable)")
	return cmd
}

func teamAddMemberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-member <team-id> <profile-id>",
		Short: "Add a foundry member to a team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				team, err := e.AddTeamMember(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSON(team)
			})
		},
	}
}

func teamListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				items, err := e.ListTeams(ctx, foundryID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					rows = append(rows, table.Row{t.ID, t.Name, strings.Join(t.MemberIDs, ",")})
				}
				return printTable(items, table.Row{"ID", "Name", "Members"}, rows)
			})
		},
	}
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys for the acting profile"}
	cmd.AddCommand(apikeyCreateCmd(), apikeyListCmd(), apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the raw key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw, key, err := e.CreateAPIKey(ctx, actorID(), name, actorID())
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"key": raw, "api_key": key})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAPIKeys(ctx, actorID())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, k := range items {
					rows = append(rows, table.Row{k.ID, k.Name, k.CreatedAt})
				}
				return printTable(items, table.Row{"ID", "Name", "Created"}, rows)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteAPIKey(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("Deleted", args[0])
				return nil
			})
		},
	}
}
