package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"foundry/internal/app"
	"foundry/internal/config"
	"foundry/internal/db"
	"foundry/internal/engine"
	"foundry/internal/migrate"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "foundry",
	Short: "Foundry CLI",
	Long: `Foundry tracks delegated work through a review and approval lifecycle.

- Foundry: a workspace of members, tasks and objectives with its own approval policy.
- Tasks move Pending -> Accepted -> Pending_Peer_Review -> Pending_Executive_Approval -> Completed;
  amendments and rejections branch off along the way.
- Approvals: a peer reviews first; executives sign off higher-risk work. Executives may
  delegate their authority for a date window.
- Escalation: approvals pending past the timeout are flagged, by hand or by 'foundry serve'.
- Event log: every change is journaled, view with 'foundry log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return app.LoadWorkspaceEnv(workspace)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FOUNDRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "profile acting on the foundry")
	rootCmd.PersistentFlags().String("foundry", "", "foundry id (overrides the workspace default)")
	for _, name := range []string{"workspace", "json", "actor-id", "foundry"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(
		foundryCreateCmd(),
		foundryListCmd(),
		foundryUseCmd(),
		configCmd(),
		profileCmd(),
		memberCmd(),
		teamCmd(),
		taskCmd(),
		objectiveCmd(),
		delegationCmd(),
		approvalCmd(),
		escalationCmd(),
		recommendCmd(),
		standupCmd(),
		presenceCmd(),
		logCmd(),
		apikeyCmd(),
		serveCmd(),
	)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func openEngine() (engine.Engine, func(), error) {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	return engine.New(conn, config.Default("")), func() { conn.Close() }, nil
}

// withEngine runs fn against the workspace database.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

// withFoundry is withEngine plus the resolved foundry id.
func withFoundry(ctx context.Context, fn func(ctx context.Context, e engine.Engine, foundryID string) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		foundryID, err := app.ResolveFoundry(ctx, e.Repo, viper.GetString("foundry"))
		if err != nil {
			return err
		}
		return fn(ctx, e, foundryID)
	})
}

func jsonOutput() bool {
	return viper.GetBool("json")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable renders rows with go-pretty, or v as JSON under --json.
func printTable(v any, header table.Row, rows []table.Row) error {
	if jsonOutput() {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}
