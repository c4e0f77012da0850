package database

import (
	"context"
	"time"

	"fleetd/common"
)

// StackRow represents one compose project on one host.
type StackRow struct {
	ID        int64     `json:"id"`
	HostID    int64     `json:"host_id"`
	Project   string    `json:"project"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnsureStack ensures a stack exists for the given host and project
func EnsureStack(ctx context.Context, hostID int64, project, owner string) (int64, error) {
	var id int64
	err := common.DB.QueryRow(ctx, `
		INSERT INTO stacks (host_id, project, owner)
		VALUES ($1, $2, COALESCE(NULLIF($3,''), 'unassigned'))
		ON CONFLICT (host_id, project) DO UPDATE
		  SET owner = COALESCE(EXCLUDED.owner, stacks.owner),
		      updated_at = now()
		RETURNING id
	`, hostID, project, owner).Scan(&id)
	return id, err
}

// ListStacksByHost lists stacks for a host in project order.
func ListStacksByHost(ctx context.Context, hostName string) ([]StackRow, error) {
	h, err := GetHostByName(ctx, hostName)
	if err != nil {
		return nil, err
	}
	rows, err := common.DB.Query(ctx, `
		SELECT id, host_id, project, owner, created_at, updated_at
		FROM stacks WHERE host_id=$1 ORDER BY project
	`, h.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StackRow
	for rows.Next() {
		var s StackRow
		if err := rows.Scan(&s.ID, &s.HostID, &s.Project, &s.Owner, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetStackByHostAndProject fetches a single stack.
func GetStackByHostAndProject(ctx context.Context, hostName, project string) (*StackRow, error) {
	h, err := GetHostByName(ctx, hostName)
	if err != nil {
		return nil, err
	}
	var s StackRow
	err = common.DB.QueryRow(ctx, `
		SELECT id, host_id, project, owner, created_at, updated_at
		FROM stacks WHERE host_id=$1 AND project=$2
	`, h.ID, project).Scan(&s.ID, &s.HostID, &s.Project, &s.Owner, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
