package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"foundry/internal/domain"
)

const taskColumns = `id,foundry_id,task_number,title,description,type,status,risk_level,creator_id,assignee_id,objective_id,progress,
approval_requested_at,approval_escalated,escalation_reason,amendment_notes,forwarding_history_json,nudge_count,last_nudged_at,
client_visible,created_at,updated_at,completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(s rowScanner) (domain.Task, error) {
	var (
		t                                          domain.Task
		description, assignee, objective           sql.NullString
		requestedAt, reason, notes, nudged, doneAt sql.NullString
		history                                    string
		escalated, visible                         int
	)
	err := s.Scan(&t.ID, &t.FoundryID, &t.TaskNumber, &t.Title, &description, &t.Type, &t.Status, &t.RiskLevel, &t.CreatorID,
		&assignee, &objective, &t.Progress, &requestedAt, &escalated, &reason, &notes, &history, &t.NudgeCount, &nudged,
		&visible, &t.CreatedAt, &t.UpdatedAt, &doneAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Description = description.String
	t.AssigneeID = ptrFromNull(assignee)
	t.ObjectiveID = ptrFromNull(objective)
	t.ApprovalRequestedAt = ptrFromNull(requestedAt)
	t.ApprovalEscalated = escalated != 0
	t.EscalationReason = ptrFromNull(reason)
	t.AmendmentNotes = ptrFromNull(notes)
	t.LastNudgedAt = ptrFromNull(nudged)
	t.ClientVisible = visible != 0
	t.CompletedAt = ptrFromNull(doneAt)
	t.ForwardingHistory = []domain.ForwardingStep{}
	if history != "" {
		if err := json.Unmarshal([]byte(history), &t.ForwardingHistory); err != nil {
			return t, fmt.Errorf("decode forwarding history of %s: %w", t.ID, err)
		}
	}
	return t, nil
}

func encodeHistory(h []domain.ForwardingStep) (string, error) {
	if h == nil {
		h = []domain.ForwardingStep{}
	}
	data, err := json.Marshal(h)
	return string(data), err
}

// NextTaskNumber returns the next per-foundry sequence number. It must be
// called inside the write transaction that inserts the task.
func (r Repo) NextTaskNumber(ctx context.Context, q Querier, foundryID string) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(task_number),0)+1 FROM tasks WHERE foundry_id=?`, foundryID).Scan(&n)
	return n, err
}

func (r Repo) InsertTask(ctx context.Context, q Querier, t domain.Task) error {
	history, err := encodeHistory(t.ForwardingHistory)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.FoundryID, t.TaskNumber, t.Title, nullable(t.Description), t.Type, t.Status, t.RiskLevel, t.CreatorID,
		nullableStringPtr(t.AssigneeID), nullableStringPtr(t.ObjectiveID), t.Progress, nullableStringPtr(t.ApprovalRequestedAt),
		boolInt(t.ApprovalEscalated), nullableStringPtr(t.EscalationReason), nullableStringPtr(t.AmendmentNotes), history,
		t.NudgeCount, nullableStringPtr(t.LastNudgedAt), boolInt(t.ClientVisible), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

// UpdateTask rewrites every mutable column of t.
func (r Repo) UpdateTask(ctx context.Context, q Querier, t domain.Task) error {
	history, err := encodeHistory(t.ForwardingHistory)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `UPDATE tasks SET title=?,description=?,type=?,status=?,risk_level=?,assignee_id=?,objective_id=?,progress=?,
approval_requested_at=?,approval_escalated=?,escalation_reason=?,amendment_notes=?,forwarding_history_json=?,nudge_count=?,last_nudged_at=?,
client_visible=?,updated_at=?,completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Type, t.Status, t.RiskLevel, nullableStringPtr(t.AssigneeID), nullableStringPtr(t.ObjectiveID),
		t.Progress, nullableStringPtr(t.ApprovalRequestedAt), boolInt(t.ApprovalEscalated), nullableStringPtr(t.EscalationReason),
		nullableStringPtr(t.AmendmentNotes), history, t.NudgeCount, nullableStringPtr(t.LastNudgedAt), boolInt(t.ClientVisible),
		t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.GetTaskTx(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, q Querier, id string) (domain.Task, error) {
	return scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// MarkEscalated flags a pending task as escalated. It reports false when
// the task was not pending or had already been escalated.
func (r Repo) MarkEscalated(ctx context.Context, q Querier, id, reason, now string) (bool, error) {
	args := []any{reason, now, id}
	for _, s := range domain.PendingApprovalStatuses {
		args = append(args, s)
	}
	res, err := q.ExecContext(ctx, `UPDATE tasks SET approval_escalated=1, escalation_reason=?, updated_at=?
WHERE id=? AND approval_escalated=0 AND status IN (`+placeholders(len(domain.PendingApprovalStatuses))+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type TaskFilters struct {
	FoundryID   string
	Statuses    []domain.Status
	AssigneeID  string
	CreatorID   string
	ObjectiveID string
	Type        string
	Limit       int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"foundry_id=?"}
	args := []any{f.FoundryID}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "(assignee_id=? OR id IN (SELECT task_id FROM task_assignees WHERE profile_id=?))")
		args = append(args, f.AssigneeID, f.AssigneeID)
	}
	if f.CreatorID != "" {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.ObjectiveID != "" {
		clauses = append(clauses, "objective_id=?")
		args = append(args, f.ObjectiveID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY task_number ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// PendingApprovalsBefore lists tasks awaiting approval whose request time
// is strictly before cutoff.
func (r Repo) PendingApprovalsBefore(ctx context.Context, foundryID, cutoff string) ([]domain.Task, error) {
	args := []any{foundryID, cutoff}
	for _, s := range domain.PendingApprovalStatuses {
		args = append(args, s)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE foundry_id=? AND approval_requested_at IS NOT NULL AND approval_requested_at < ?
AND status IN (`+placeholders(len(domain.PendingApprovalStatuses))+`)
ORDER BY approval_requested_at ASC, task_number ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) AddTaskAssignee(ctx context.Context, q Querier, a domain.TaskAssignee) error {
	_, err := q.ExecContext(ctx, `INSERT INTO task_assignees(task_id,profile_id,team_id,assigned_at) VALUES (?,?,?,?)
ON CONFLICT(task_id,profile_id) DO UPDATE SET team_id=excluded.team_id`,
		a.TaskID, a.ProfileID, nullableStringPtr(a.TeamID), a.AssignedAt)
	return err
}

func (r Repo) ListTaskAssignees(ctx context.Context, taskID string) ([]domain.TaskAssignee, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id,profile_id,team_id,assigned_at FROM task_assignees WHERE task_id=? ORDER BY assigned_at, profile_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskAssignee
	for rows.Next() {
		var a domain.TaskAssignee
		var team sql.NullString
		if err := rows.Scan(&a.TaskID, &a.ProfileID, &team, &a.AssignedAt); err != nil {
			return nil, err
		}
		a.TeamID = ptrFromNull(team)
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertComment(ctx context.Context, q Querier, c domain.TaskComment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO task_comments(id,task_id,author_id,body,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.TaskID, c.AuthorID, c.Body, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.TaskComment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,author_id,body,created_at FROM task_comments WHERE task_id=? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskComment
	for rows.Next() {
		var c domain.TaskComment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// OpenWorkload sums the risk levels of non-terminal tasks each profile is
// attached to, either as primary assignee or as additional assignee.
func (r Repo) OpenWorkload(ctx context.Context, foundryID string) (map[string]map[domain.RiskLevel]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT profile_id, risk_level, COUNT(*) FROM (
  SELECT assignee_id AS profile_id, id, risk_level FROM tasks
  WHERE foundry_id=? AND assignee_id IS NOT NULL AND status NOT IN ('Completed','Rejected')
  UNION
  SELECT ta.profile_id, t.id, t.risk_level FROM task_assignees ta JOIN tasks t ON t.id=ta.task_id
  WHERE t.foundry_id=? AND t.status NOT IN ('Completed','Rejected')
) GROUP BY profile_id, risk_level`, foundryID, foundryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]map[domain.RiskLevel]int{}
	for rows.Next() {
		var (
			profileID string
			level     domain.RiskLevel
			count     int
		)
		if err := rows.Scan(&profileID, &level, &count); err != nil {
			return nil, err
		}
		if res[profileID] == nil {
			res[profileID] = map[domain.RiskLevel]int{}
		}
		res[profileID][level] = count
	}
	return res, rows.Err()
}

// ObjectiveProgress averages the progress of the objective's live tasks,
// counting Completed as 100 and ignoring Rejected.
func (r Repo) ObjectiveProgress(ctx context.Context, q Querier, objectiveID string) (float64, error) {
	var avg float64
	err := q.QueryRowContext(ctx, `SELECT COALESCE(AVG(CASE WHEN status='Completed' THEN 100 ELSE progress END),0)
FROM tasks WHERE objective_id=? AND status<>'Rejected'`, objectiveID).Scan(&avg)
	return avg, err
}
