package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"foundry/internal/repo"
)

// DefaultFoundryEnv names the variable `foundry use` writes to the
// workspace .env file.
const DefaultFoundryEnv = "FOUNDRY_DEFAULT_FOUNDRY"

// EnvPath returns the workspace .env path.
func EnvPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".env")
}

// LoadWorkspaceEnv loads the workspace .env into the process environment.
// Variables already set win; a missing file is not an error.
func LoadWorkspaceEnv(workspace string) error {
	path := EnvPath(workspace)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// SetDefaultFoundry records foundryID as the workspace default, keeping any
// other entries of the .env file.
func SetDefaultFoundry(workspace, foundryID string) error {
	path := EnvPath(workspace)
	values := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		if values, err = godotenv.Read(path); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
	values[DefaultFoundryEnv] = foundryID
	if err := godotenv.Write(values, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Setenv(DefaultFoundryEnv, foundryID)
}

// ResolveFoundry picks the foundry a command acts on: the explicit
// override, then the workspace default, then the only foundry in the
// database.
func ResolveFoundry(ctx context.Context, r repo.Repo, override string) (string, error) {
	id := strings.TrimSpace(override)
	if id == "" {
		id = strings.TrimSpace(os.Getenv(DefaultFoundryEnv))
	}
	if id != "" {
		if _, err := r.GetFoundry(ctx, id); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", fmt.Errorf("foundry %s not found; create it with `foundry create --id %s`", id, id)
			}
			return "", err
		}
		return id, nil
	}
	f, err := r.SingleFoundry(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return "", fmt.Errorf("no foundry in this workspace; run `foundry create --id <id>`")
	}
	if err != nil {
		return "", err
	}
	return f.ID, nil
}
