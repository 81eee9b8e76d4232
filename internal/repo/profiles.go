package repo

import (
	"context"
	"database/sql"

	"foundry/internal/domain"
)

const profileColumns = `p.id,p.full_name,p.kind,p.role,p.skills_json,p.capacity_score,p.created_at`

func scanProfile(s rowScanner, extra ...any) (domain.Profile, error) {
	var p domain.Profile
	var skills string
	dest := append([]any{&p.ID, &p.FullName, &p.Kind, &p.Role, &skills, &p.CapacityScore, &p.CreatedAt}, extra...)
	if err := s.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return p, ErrNotFound
		}
		return p, err
	}
	p.Skills = decodeStrings(skills)
	return p, nil
}

// UpsertProfile inserts p or refreshes its mutable fields.
func (r Repo) UpsertProfile(ctx context.Context, q Querier, p domain.Profile) error {
	_, err := q.ExecContext(ctx, `INSERT INTO profiles(id,full_name,kind,role,skills_json,capacity_score,created_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET full_name=excluded.full_name, kind=excluded.kind, role=excluded.role,
skills_json=excluded.skills_json, capacity_score=excluded.capacity_score`,
		p.ID, p.FullName, p.Kind, p.Role, encodeStrings(p.Skills), p.CapacityScore, p.CreatedAt)
	return err
}

// EnsureProfile creates p only if no profile with that ID exists yet.
func (r Repo) EnsureProfile(ctx context.Context, q Querier, p domain.Profile) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO profiles(id,full_name,kind,role,skills_json,capacity_score,created_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.FullName, p.Kind, p.Role, encodeStrings(p.Skills), p.CapacityScore, p.CreatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	return r.GetProfileTx(ctx, r.DB, id)
}

func (r Repo) GetProfileTx(ctx context.Context, q Querier, id string) (domain.Profile, error) {
	return scanProfile(q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles p WHERE p.id=?`, id))
}

func (r Repo) AddMember(ctx context.Context, q Querier, foundryID, profileID, now string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO foundry_members(foundry_id,profile_id,joined_at) VALUES (?,?,?)`, foundryID, profileID, now)
	return err
}

func (r Repo) IsMember(ctx context.Context, q Querier, foundryID, profileID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM foundry_members WHERE foundry_id=? AND profile_id=?`, foundryID, profileID).Scan(&n)
	return n > 0, err
}

// GetMember returns the profile together with its membership in foundryID.
func (r Repo) GetMember(ctx context.Context, q Querier, foundryID, profileID string) (domain.Member, error) {
	row := q.QueryRowContext(ctx, `SELECT `+profileColumns+`,m.joined_at FROM profiles p
JOIN foundry_members m ON m.profile_id=p.id WHERE m.foundry_id=? AND p.id=?`, foundryID, profileID)
	var m domain.Member
	p, err := scanProfile(row, &m.JoinedAt)
	if err != nil {
		return m, err
	}
	m.Profile = p
	m.FoundryID = foundryID
	return m, nil
}

// ListMembers returns members ordered by name. An empty role matches all.
func (r Repo) ListMembers(ctx context.Context, q Querier, foundryID string, roles ...domain.Role) ([]domain.Member, error) {
	query := `SELECT ` + profileColumns + `,m.joined_at FROM profiles p
JOIN foundry_members m ON m.profile_id=p.id WHERE m.foundry_id=?`
	args := []any{foundryID}
	if len(roles) > 0 {
		query += ` AND p.role IN (` + placeholders(len(roles)) + `)`
		for _, role := range roles {
			args = append(args, role)
		}
	}
	query += ` ORDER BY p.full_name, p.id`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		p, err := scanProfile(rows, &m.JoinedAt)
		if err != nil {
			return nil, err
		}
		m.Profile = p
		m.FoundryID = foundryID
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) InsertTeam(ctx context.Context, q Querier, t domain.Team) error {
	if _, err := q.ExecContext(ctx, `INSERT INTO teams(id,foundry_id,name,created_at) VALUES (?,?,?,?)`, t.ID, t.FoundryID, t.Name, t.CreatedAt); err != nil {
		return err
	}
	for _, member := range t.MemberIDs {
		if err := r.AddTeamMember(ctx, q, t.ID, member); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) AddTeamMember(ctx context.Context, q Querier, teamID, profileID string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO team_members(team_id,profile_id) VALUES (?,?)`, teamID, profileID)
	return err
}

func (r Repo) GetTeam(ctx context.Context, q Querier, id string) (domain.Team, error) {
	var t domain.Team
	err := q.QueryRowContext(ctx, `SELECT id,foundry_id,name,created_at FROM teams WHERE id=?`, id).Scan(&t.ID, &t.FoundryID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.MemberIDs, err = r.teamMembers(ctx, q, id)
	return t, err
}

func (r Repo) ListTeams(ctx context.Context, foundryID string) ([]domain.Team, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,foundry_id,name,created_at FROM teams WHERE foundry_id=? ORDER BY name`, foundryID)
	if err != nil {
		return nil, err
	}
	var res []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.FoundryID, &t.Name, &t.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].MemberIDs, err = r.teamMembers(ctx, r.DB, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) teamMembers(ctx context.Context, q Querier, teamID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT profile_id FROM team_members WHERE team_id=? ORDER BY profile_id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
