package repo

import (
	"context"
	"database/sql"

	"foundry/internal/domain"
)

const objectiveColumns = `id,foundry_id,title,parent_id,creator_id,status,progress,created_at,updated_at`

func scanObjective(s rowScanner) (domain.Objective, error) {
	var o domain.Objective
	var parent sql.NullString
	err := s.Scan(&o.ID, &o.FoundryID, &o.Title, &parent, &o.CreatorID, &o.Status, &o.Progress, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	o.ParentID = ptrFromNull(parent)
	return o, err
}

func (r Repo) InsertObjective(ctx context.Context, q Querier, o domain.Objective) error {
	_, err := q.ExecContext(ctx, `INSERT INTO objectives(`+objectiveColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		o.ID, o.FoundryID, o.Title, nullableStringPtr(o.ParentID), o.CreatorID, o.Status, o.Progress, o.CreatedAt, o.UpdatedAt)
	return err
}

func (r Repo) UpdateObjective(ctx context.Context, q Querier, o domain.Objective) error {
	res, err := q.ExecContext(ctx, `UPDATE objectives SET title=?,parent_id=?,status=?,progress=?,updated_at=? WHERE id=?`,
		o.Title, nullableStringPtr(o.ParentID), o.Status, o.Progress, o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetObjective(ctx context.Context, q Querier, id string) (domain.Objective, error) {
	return scanObjective(q.QueryRowContext(ctx, `SELECT `+objectiveColumns+` FROM objectives WHERE id=?`, id))
}

func (r Repo) ListObjectives(ctx context.Context, foundryID string) ([]domain.Objective, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+objectiveColumns+` FROM objectives WHERE foundry_id=? ORDER BY created_at, id`, foundryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Objective
	for rows.Next() {
		o, err := scanObjective(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// ObjectiveParent returns the parent of id, empty when it is a root.
func (r Repo) ObjectiveParent(ctx context.Context, q Querier, id string) (string, error) {
	var parent sql.NullString
	err := q.QueryRowContext(ctx, `SELECT parent_id FROM objectives WHERE id=?`, id).Scan(&parent)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return parent.String, err
}
