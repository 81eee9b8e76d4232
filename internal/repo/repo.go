package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"foundry/internal/config"
	"foundry/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

// Querier is satisfied by *sql.DB and *sql.Tx. Methods that run inside an
// engine transaction take one so every read and write uses the same tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func ptrFromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func decodeStrings(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (r Repo) InsertFoundry(ctx context.Context, q Querier, f domain.Foundry) error {
	_, err := q.ExecContext(ctx, `INSERT INTO foundries(id,name,status,created_at) VALUES (?,?,?,?)`,
		f.ID, f.Name, f.Status, f.CreatedAt)
	return err
}

func (r Repo) GetFoundry(ctx context.Context, id string) (domain.Foundry, error) {
	var f domain.Foundry
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at FROM foundries WHERE id=?`, id).
		Scan(&f.ID, &f.Name, &f.Status, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

func (r Repo) ListFoundries(ctx context.Context) ([]domain.Foundry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,created_at FROM foundries ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Foundry
	for rows.Next() {
		var f domain.Foundry
		if err := rows.Scan(&f.ID, &f.Name, &f.Status, &f.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// SingleFoundry returns the only foundry in the workspace.
func (r Repo) SingleFoundry(ctx context.Context) (domain.Foundry, error) {
	all, err := r.ListFoundries(ctx)
	if err != nil {
		return domain.Foundry{}, err
	}
	if len(all) == 0 {
		return domain.Foundry{}, ErrNotFound
	}
	if len(all) > 1 {
		return domain.Foundry{}, fmt.Errorf("multiple foundries exist; specify --foundry")
	}
	return all[0], nil
}

func (r Repo) UpsertFoundryConfig(ctx context.Context, q Querier, foundryID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Foundry.ID = foundryID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = q.ExecContext(ctx, `INSERT INTO foundry_configs(foundry_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(foundry_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, foundryID, string(payload), now, now)
	return err
}

func (r Repo) GetFoundryConfig(ctx context.Context, q Querier, foundryID string) (*config.Config, error) {
	var payload string
	err := q.QueryRowContext(ctx, `SELECT config_json FROM foundry_configs WHERE foundry_id=?`, foundryID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Foundry.ID == "" {
		cfg.Foundry.ID = foundryID
	}
	return &cfg, cfg.Validate()
}

type EventFilters struct {
	FoundryID  string
	Type       string
	EntityKind string
	EntityID   string
	Before     int64
	Limit      int
}

const eventColumns = `id,ts,type,COALESCE(foundry_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.FoundryID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns events newest first, paging backwards from Before.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.FoundryID != "" {
		clauses = append(clauses, "foundry_id=?")
		args = append(args, f.FoundryID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, foundryID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if foundryID != "" {
		clauses = append(clauses, "foundry_id=?")
		args = append(args, foundryID)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id ASC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID for a foundry.
func (r Repo) LatestEventID(ctx context.Context, foundryID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE foundry_id=?`, foundryID).Scan(&id)
	return id, err
}

// TaskHistory reads the task audit view, oldest first.
func (r Repo) TaskHistory(ctx context.Context, taskID string) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,action,changes,actor_id,ts FROM task_history WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		if err := rows.Scan(&h.ID, &h.TaskID, &h.Action, &h.Changes, &h.ActorID, &h.TS); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}
