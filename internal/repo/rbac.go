package repo

import (
	"context"
	"sort"
)

// SyncRolePermissions replaces the foundry's role grants with perms.
func (r Repo) SyncRolePermissions(ctx context.Context, q Querier, foundryID string, perms map[string][]string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM role_permissions WHERE foundry_id=?`, foundryID); err != nil {
		return err
	}
	roles := make([]string, 0, len(perms))
	for role := range perms {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		for _, perm := range perms[role] {
			if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(foundry_id,role,permission) VALUES (?,?,?)`, foundryID, role, perm); err != nil {
				return err
			}
		}
	}
	return nil
}

// HasPermission reports whether the profile's role grants perm inside the
// foundry. Non-members never hold permissions.
func (r Repo) HasPermission(ctx context.Context, q Querier, foundryID, profileID, perm string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM foundry_members m
JOIN profiles p ON p.id=m.profile_id
JOIN role_permissions rp ON rp.foundry_id=m.foundry_id AND rp.role=p.role
WHERE m.foundry_id=? AND m.profile_id=? AND rp.permission=?`, foundryID, profileID, perm).Scan(&n)
	return n > 0, err
}

func (r Repo) RolePermissions(ctx context.Context, foundryID, role string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT permission FROM role_permissions WHERE foundry_id=? AND role=? ORDER BY permission`, foundryID, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
