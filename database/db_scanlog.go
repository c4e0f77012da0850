package database

import (
	"context"
	"encoding/json"
	"time"

	"fleetd/common"
)

// ScanLogRow is one structured scan event for a host.
type ScanLogRow struct {
	ID        int64          `json:"id"`
	HostID    int64          `json:"host_id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// ScanLog records a scan event for a host. Best effort; a failed insert is
// logged but never fails the scan itself.
func ScanLog(ctx context.Context, hostID int64, level, msg string, data map[string]any) {
	if common.DB == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	b, _ := json.Marshal(data)
	if _, err := common.DB.Exec(ctx, `INSERT INTO scan_logs (host_id, level, message, data) VALUES ($1,$2,$3,$4::jsonb)`,
		hostID, level, msg, string(b)); err != nil {
		common.ErrorLog("scanlog insert failed: %v (msg=%s)", err, msg)
	}
}

// ListScanLogs returns the most recent scan events for a host.
func ListScanLogs(ctx context.Context, hostName string, limit int) ([]ScanLogRow, error) {
	h, err := GetHostByName(ctx, hostName)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := common.DB.Query(ctx, `
		SELECT id, host_id, level, message, data, created_at
		FROM scan_logs WHERE host_id=$1
		ORDER BY created_at DESC LIMIT $2
	`, h.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScanLogRow
	for rows.Next() {
		var (
			r     ScanLogRow
			dataB []byte
		)
		if err := rows.Scan(&r.ID, &r.HostID, &r.Level, &r.Message, &dataB, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Data = map[string]any{}
		_ = json.Unmarshal(dataB, &r.Data)
		out = append(out, r)
	}
	return out, rows.Err()
}
