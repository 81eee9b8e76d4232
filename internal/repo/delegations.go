package repo

import (
	"context"
	"database/sql"

	"foundry/internal/domain"
)

const delegationColumns = `id,foundry_id,delegator_id,delegate_id,is_active,start_date,end_date,all_tasks,task_types_json,reason,created_at`

func scanDelegation(s rowScanner) (domain.ApprovalDelegation, error) {
	var (
		d           domain.ApprovalDelegation
		active, all int
		end, reason sql.NullString
		taskTypes   string
	)
	err := s.Scan(&d.ID, &d.FoundryID, &d.DelegatorID, &d.DelegateID, &active, &d.StartDate, &end, &all, &taskTypes, &reason, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.IsActive = active != 0
	d.AllTasks = all != 0
	d.EndDate = ptrFromNull(end)
	d.TaskTypes = decodeStrings(taskTypes)
	d.Reason = reason.String
	return d, nil
}

func (r Repo) InsertDelegation(ctx context.Context, q Querier, d domain.ApprovalDelegation) error {
	_, err := q.ExecContext(ctx, `INSERT INTO approval_delegations(`+delegationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.FoundryID, d.DelegatorID, d.DelegateID, boolInt(d.IsActive), d.StartDate, nullableStringPtr(d.EndDate),
		boolInt(d.AllTasks), encodeStrings(d.TaskTypes), nullable(d.Reason), d.CreatedAt)
	return err
}

func (r Repo) GetDelegation(ctx context.Context, q Querier, id string) (domain.ApprovalDelegation, error) {
	return scanDelegation(q.QueryRowContext(ctx, `SELECT `+delegationColumns+` FROM approval_delegations WHERE id=?`, id))
}

func (r Repo) DeactivateDelegation(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `UPDATE approval_delegations SET is_active=0 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type DelegationFilters struct {
	FoundryID   string
	DelegatorID string
	DelegateID  string
	ActiveOnly  bool
}

// ListDelegations returns delegation rows; date windows are not applied here.
func (r Repo) ListDelegations(ctx context.Context, q Querier, f DelegationFilters) ([]domain.ApprovalDelegation, error) {
	query := `SELECT ` + delegationColumns + ` FROM approval_delegations WHERE foundry_id=?`
	args := []any{f.FoundryID}
	if f.DelegatorID != "" {
		query += ` AND delegator_id=?`
		args = append(args, f.DelegatorID)
	}
	if f.DelegateID != "" {
		query += ` AND delegate_id=?`
		args = append(args, f.DelegateID)
	}
	if f.ActiveOnly {
		query += ` AND is_active=1`
	}
	query += ` ORDER BY created_at, id`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ApprovalDelegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
