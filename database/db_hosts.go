package database

import (
	"context"
	"encoding/json"
	"strings"

	"fleetd/common"
)

// HostRow is a host as stored in the DB.
type HostRow struct {
	ID     int64             `json:"id"`
	Name   string            `json:"name"`
	Addr   string            `json:"addr"`
	Vars   map[string]string `json:"vars"`
	Groups []string          `json:"groups"`
	Owner  string            `json:"owner"`
}

// UpsertHosts imports inventory hosts, never letting owner become NULL/"".
func UpsertHosts(ctx context.Context, items []common.Host) error {
	for _, h := range items {
		if h.Vars == nil {
			h.Vars = map[string]string{}
		}
		g := h.Groups
		if g == nil {
			g = []string{}
		}

		// owner fallback -> env or "unassigned"
		owner := strings.TrimSpace(h.Owner)
		if owner == "" {
			if def := common.Env("FLEETD_DEFAULT_OWNER", ""); def != "" {
				owner = def
			} else {
				owner = "unassigned"
			}
		}

		varsJSON, _ := json.Marshal(h.Vars)

		// double guard at SQL: never let NULL/"" through
		_, err := common.DB.Exec(ctx, `
			INSERT INTO hosts (name, addr, vars, "groups", owner, updated_at)
			VALUES ($1, $2, $3::jsonb, $4, COALESCE(NULLIF($5,''), 'unassigned'), now())
			ON CONFLICT (name) DO UPDATE
			SET addr       = EXCLUDED.addr,
			    vars       = EXCLUDED.vars,
			    "groups"   = EXCLUDED."groups",
			    owner      = COALESCE(NULLIF(EXCLUDED.owner,''), hosts.owner, 'unassigned'),
			    updated_at = now()
		`, h.Name, h.Addr, string(varsJSON), g, owner)
		if err != nil {
			return err
		}
	}
	return nil
}

// ImportInventoryToDB replaces the host set with the parsed inventory.
func ImportInventoryToDB(ctx context.Context, items []common.Host) error {
	if err := UpsertHosts(ctx, items); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	names := make([]string, 0, len(items))
	for _, h := range items {
		names = append(names, h.Name)
	}
	// drop hosts that left the inventory
	_, err := common.DB.Exec(ctx, `DELETE FROM hosts WHERE NOT (name = ANY($1))`, names)
	return err
}

func scanHostRow(dest *HostRow, varsB []byte) {
	dest.Vars = map[string]string{}
	_ = json.Unmarshal(varsB, &dest.Vars)
	if dest.Groups == nil {
		dest.Groups = []string{}
	}
}

// GetHostByName fetches a single host.
func GetHostByName(ctx context.Context, name string) (HostRow, error) {
	var (
		h     HostRow
		varsB []byte
	)
	err := common.DB.QueryRow(ctx, `
		SELECT id, name, addr, vars, "groups", COALESCE(owner, 'unassigned')
		FROM hosts WHERE name=$1
	`, name).Scan(&h.ID, &h.Name, &h.Addr, &varsB, &h.Groups, &h.Owner)
	if err != nil {
		return HostRow{}, err
	}
	scanHostRow(&h, varsB)
	return h, nil
}

// ListHosts returns all hosts in stable name order. The fleet sweep relies on
// this ordering being deterministic.
func ListHosts(ctx context.Context) ([]HostRow, error) {
	rows, err := common.DB.Query(ctx, `
		SELECT id, name, addr, vars, "groups", COALESCE(owner, 'unassigned')
		FROM hosts ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HostRow
	for rows.Next() {
		var (
			h     HostRow
			varsB []byte
		)
		if err := rows.Scan(&h.ID, &h.Name, &h.Addr, &varsB, &h.Groups, &h.Owner); err != nil {
			return nil, err
		}
		scanHostRow(&h, varsB)
		out = append(out, h)
	}
	return out, rows.Err()
}
