package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"foundry/internal/app"
	"foundry/internal/config"
	"foundry/internal/engine"
)

func foundryCreateCmd() *cobra.Command {
	var id, name, actorName, configFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a foundry; the actor becomes its Founder",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("--id required")
			}
			var cfg *config.Config
			if configFile != "" {
				var err error
				if cfg, err = config.FromFile(configFile); err != nil {
					return err
				}
				cfg.Foundry.ID = id
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.InitFoundry(ctx, engine.FoundryInitOptions{
					ID:        id,
					Name:      name,
					ActorID:   actorID(),
					ActorName: actorName,
					Config:    cfg,
				})
				if err != nil {
					return err
				}
				return printJSON(f)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "foundry id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&actorName, "actor-name", "", "full name of the founding profile")
	cmd.Flags().StringVar(&configFile, "config", "", "policy YAML to start from")
	return cmd
}

func foundryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List foundries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListFoundries(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, f := range items {
					rows = append(rows, table.Row{f.ID, f.Name, f.Status, f.CreatedAt})
				}
				return printTable(items, table.Row{"ID", "Name", "Status", "Created"}, rows)
			})
		},
	}
}

func foundryUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the default foundry for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return fmt.Errorf("foundry id is required")
			}
			workspace := viper.GetString("workspace")
			if err := app.SetDefaultFoundry(workspace, id); err != nil {
				return err
			}
			fmt.Printf("Set %s=%s in %s\n", app.DefaultFoundryEnv, id, app.EnvPath(workspace))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Foundry policy stored in the database"}
	cmd.AddCommand(configShowCmd(), configImportCmd(), configInitCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the foundry policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				cfg, err := e.ConfigFor(ctx, foundryID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				return yaml.NewEncoder(os.Stdout).Encode(cfg)
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the foundry policy from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withFoundry(cmd.Context(), func(ctx context.Context, e engine.Engine, foundryID string) error {
				if cfg.Foundry.ID != foundryID {
					return fmt.Errorf("config is for foundry %q, not %q", cfg.Foundry.ID, foundryID)
				}
				if err := e.ImportConfig(ctx, foundryID, cfg, actorID()); err != nil {
					return err
				}
				fmt.Printf("Imported %s into foundry %s\n", file, foundryID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", config.Path("."), "policy YAML")
	return cmd
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default policy to foundry.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := viper.GetString("foundry")
			if id == "" {
				return fmt.Errorf("--foundry required")
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
}
