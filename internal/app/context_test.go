package app

import (
	"context"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foundry/internal/config"
	"foundry/internal/db"
	"foundry/internal/engine"
	"foundry/internal/migrate"
)

func TestSetDefaultFoundryKeepsOtherEntries(t *testing.T) {
	workspace := t.TempDir()
	t.Setenv(DefaultFoundryEnv, "")
	require.NoError(t, os.WriteFile(EnvPath(workspace), []byte("FOUNDRY_JWT_SECRET=shh\n"), 0o644))

	require.NoError(t, SetDefaultFoundry(workspace, "acme"))
	values, err := godotenv.Read(EnvPath(workspace))
	require.NoError(t, err)
	assert.Equal(t, "shh", values["FOUNDRY_JWT_SECRET"])
	assert.Equal(t, "acme", values[DefaultFoundryEnv])
	assert.Equal(t, "acme", os.Getenv(DefaultFoundryEnv))
}

func TestLoadWorkspaceEnvMissingFile(t *testing.T) {
	assert.NoError(t, LoadWorkspaceEnv(t.TempDir()))
}

func TestResolveFoundry(t *testing.T) {
	t.Setenv(DefaultFoundryEnv, "")
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default("acme"))

	_, err = ResolveFoundry(ctx, e.Repo, "")
	assert.ErrorContains(t, err, "no foundry")

	_, err = e.InitFoundry(ctx, engine.FoundryInitOptions{ID: "acme", ActorID: "founder"})
	require.NoError(t, err)
	id, err := ResolveFoundry(ctx, e.Repo, "")
	require.NoError(t, err)
	assert.Equal(t, "acme", id)

	_, err = e.InitFoundry(ctx, engine.FoundryInitOptions{ID: "globex", ActorID: "founder"})
	require.NoError(t, err)
	_, err = ResolveFoundry(ctx, e.Repo, "")
	assert.ErrorContains(t, err, "multiple foundries")

	t.Setenv(DefaultFoundryEnv, "globex")
	id, err = ResolveFoundry(ctx, e.Repo, "")
	require.NoError(t, err)
	assert.Equal(t, "globex", id)

	id, err = ResolveFoundry(ctx, e.Repo, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", id)

	_, err = ResolveFoundry(ctx, e.Repo, "initech")
	assert.ErrorContains(t, err, "not found")
}
