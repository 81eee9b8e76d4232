package repo

import (
	"context"
	"database/sql"

	"foundry/internal/domain"
)

const standupColumns = `id,foundry_id,profile_id,date,COALESCE(yesterday,''),COALESCE(today,''),COALESCE(blockers,''),created_at,updated_at`

// UpsertStandup stores the entry for (foundry, profile, date), replacing
// the text of an earlier submission the same day.
func (r Repo) UpsertStandup(ctx context.Context, q Querier, s domain.Standup) error {
	_, err := q.ExecContext(ctx, `INSERT INTO standups(id,foundry_id,profile_id,date,yesterday,today,blockers,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(foundry_id,profile_id,date) DO UPDATE SET yesterday=excluded.yesterday, today=excluded.today,
blockers=excluded.blockers, updated_at=excluded.updated_at`,
		s.ID, s.FoundryID, s.ProfileID, s.Date, nullable(s.Yesterday), nullable(s.Today), nullable(s.Blockers), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetStandup(ctx context.Context, q Querier, foundryID, profileID, date string) (domain.Standup, error) {
	var s domain.Standup
	err := q.QueryRowContext(ctx, `SELECT `+standupColumns+` FROM standups WHERE foundry_id=? AND profile_id=? AND date=?`, foundryID, profileID, date).
		Scan(&s.ID, &s.FoundryID, &s.ProfileID, &s.Date, &s.Yesterday, &s.Today, &s.Blockers, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListStandups(ctx context.Context, foundryID, date string) ([]domain.Standup, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+standupColumns+` FROM standups WHERE foundry_id=? AND date=? ORDER BY profile_id`, foundryID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Standup
	for rows.Next() {
		var s domain.Standup
		if err := rows.Scan(&s.ID, &s.FoundryID, &s.ProfileID, &s.Date, &s.Yesterday, &s.Today, &s.Blockers, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpsertPresence(ctx context.Context, q Querier, p domain.Presence) error {
	_, err := q.ExecContext(ctx, `INSERT INTO presence(foundry_id,profile_id,status,status_message,timezone,current_task_id,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(foundry_id,profile_id) DO UPDATE SET status=excluded.status, status_message=excluded.status_message,
timezone=excluded.timezone, current_task_id=excluded.current_task_id, updated_at=excluded.updated_at`,
		p.FoundryID, p.ProfileID, p.Status, nullableStringPtr(p.StatusMessage), nullableStringPtr(p.Timezone), nullableStringPtr(p.CurrentTaskID), p.UpdatedAt)
	return err
}

func (r Repo) ListPresence(ctx context.Context, foundryID string) ([]domain.Presence, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT foundry_id,profile_id,status,status_message,timezone,current_task_id,updated_at FROM presence WHERE foundry_id=? ORDER BY profile_id`, foundryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Presence
	for rows.Next() {
		var p domain.Presence
		var msg, tz, task sql.NullString
		if err := rows.Scan(&p.FoundryID, &p.ProfileID, &p.Status, &msg, &tz, &task, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.StatusMessage = ptrFromNull(msg)
		p.Timezone = ptrFromNull(tz)
		p.CurrentTaskID = ptrFromNull(task)
		res = append(res, p)
	}
	return res, rows.Err()
}
