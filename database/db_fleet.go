package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"fleetd/common"
)

// HostResult is the per-host outcome of one fleet sweep.
type HostResult struct {
	Host       string        `json:"host"`
	OK         bool          `json:"ok"`
	Error      string        `json:"error,omitempty"`
	OutputTail string        `json:"output_tail,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// FleetRun is the recorded report of one fleet-wide up/down sweep.
type FleetRun struct {
	ID          int64        `json:"id"`
	RunID       uuid.UUID    `json:"run_id"`
	Operation   string       `json:"operation"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
	HostsTotal  int          `json:"hosts_total"`
	HostsOK     int          `json:"hosts_ok"`
	HostsFailed int          `json:"hosts_failed"`
	Report      []HostResult `json:"report"`
}

// CreateFleetRun records the start of a sweep.
func CreateFleetRun(ctx context.Context, runID uuid.UUID, operation string, hostsTotal int) (int64, error) {
	var id int64
	err := common.DB.QueryRow(ctx, `
		INSERT INTO fleet_runs (run_id, operation, hosts_total)
		VALUES ($1, $2, $3)
		RETURNING id
	`, runID, operation, hostsTotal).Scan(&id)
	return id, err
}

// FinishFleetRun stores the final per-host report.
func FinishFleetRun(ctx context.Context, id int64, results []HostResult) error {
	ok, failed := 0, 0
	for _, r := range results {
		if r.OK {
			ok++
		} else {
			failed++
		}
	}
	reportB, _ := json.Marshal(results)
	_, err := common.DB.Exec(ctx, `
		UPDATE fleet_runs
		SET finished_at = now(), hosts_ok = $2, hosts_failed = $3, report = $4::jsonb
		WHERE id = $1
	`, id, ok, failed, string(reportB))
	return err
}

// GetFleetRun fetches a sweep report by its public run ID.
func GetFleetRun(ctx context.Context, runID uuid.UUID) (*FleetRun, error) {
	var (
		fr      FleetRun
		reportB []byte
	)
	err := common.DB.QueryRow(ctx, `
		SELECT id, run_id, operation, started_at, finished_at,
		       hosts_total, hosts_ok, hosts_failed, report
		FROM fleet_runs WHERE run_id=$1
	`, runID).Scan(&fr.ID, &fr.RunID, &fr.Operation, &fr.StartedAt, &fr.FinishedAt,
		&fr.HostsTotal, &fr.HostsOK, &fr.HostsFailed, &reportB)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(reportB, &fr.Report)
	return &fr, nil
}

// ListFleetRuns returns the most recent sweeps.
func ListFleetRuns(ctx context.Context, limit int) ([]FleetRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := common.DB.Query(ctx, `
		SELECT id, run_id, operation, started_at, finished_at,
		       hosts_total, hosts_ok, hosts_failed, report
		FROM fleet_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FleetRun
	for rows.Next() {
		var (
			fr      FleetRun
			reportB []byte
		)
		if err := rows.Scan(&fr.ID, &fr.RunID, &fr.Operation, &fr.StartedAt, &fr.FinishedAt,
			&fr.HostsTotal, &fr.HostsOK, &fr.HostsFailed, &reportB); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(reportB, &fr.Report)
		out = append(out, fr)
	}
	return out, rows.Err()
}
