package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"foundry/internal/domain"
)

// HashAPIKey returns the SHA-256 hex digest stored for a raw key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a key whose KeyHash is already hashed.
func (r Repo) InsertAPIKey(ctx context.Context, q Querier, key domain.APIKey) error {
	switch {
	case key.ID == "":
		return errors.New("id required")
	case key.ProfileID == "":
		return errors.New("profile_id required")
	case key.KeyHash == "":
		return errors.New("key_hash required")
	}
	_, err := q.ExecContext(ctx, `INSERT INTO api_keys(id,profile_id,name,key_hash,created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.ProfileID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var key domain.APIKey
	err := r.DB.QueryRowContext(ctx, `SELECT id,profile_id,COALESCE(name,''),key_hash,created_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash).
		Scan(&key.ID, &key.ProfileID, &key.Name, &key.KeyHash, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return key, ErrNotFound
	}
	return key, err
}

func (r Repo) ListAPIKeys(ctx context.Context, profileID string) ([]domain.APIKey, error) {
	query := `SELECT id,profile_id,COALESCE(name,''),key_hash,created_at FROM api_keys`
	var args []any
	if profileID != "" {
		query += ` WHERE profile_id=?`
		args = append(args, profileID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		if err := rows.Scan(&key.ID, &key.ProfileID, &key.Name, &key.KeyHash, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r Repo) GetAPIKey(ctx context.Context, id string) (domain.APIKey, error) {
	var key domain.APIKey
	err := r.DB.QueryRowContext(ctx, `SELECT id,profile_id,COALESCE(name,''),key_hash,created_at FROM api_keys WHERE id=?`, id).
		Scan(&key.ID, &key.ProfileID, &key.Name, &key.KeyHash, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return key, ErrNotFound
	}
	return key, err
}

func (r Repo) DeleteAPIKey(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
