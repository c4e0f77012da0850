package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"fleetd/common"
)

// DeploymentStamp records one compose deploy: a content hash of the compose
// bundle plus outcome. History only; it never gates a fleet sweep.
type DeploymentStamp struct {
	ID                  int64     `json:"id"`
	StackID             int64     `json:"stack_id"`
	DeploymentHash      string    `json:"deployment_hash"`
	DeploymentTimestamp time.Time `json:"deployment_timestamp"`
	DeploymentMethod    string    `json:"deployment_method"`
	DeploymentUser      string    `json:"deployment_user,omitempty"`
	DeploymentStatus    string    `json:"deployment_status"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func generateDeploymentHash(config []byte) string {
	sum := sha256.Sum256(config)
	return hex.EncodeToString(sum[:])
}

// CreateDeploymentStamp hashes the config bytes and inserts a pending stamp.
func CreateDeploymentStamp(ctx context.Context, stackID int64, method, user string, config []byte) (*DeploymentStamp, error) {
	deploymentHash := generateDeploymentHash(config)

	var stamp DeploymentStamp
	err := common.DB.QueryRow(ctx, `
		INSERT INTO deployment_stamps
			(host_id, stack_id, deployment_hash, deployment_method, deployment_user, deployment_status)
		SELECT s.host_id, s.id, $2, $3, $4, 'pending'
		FROM stacks s
		WHERE s.id = $1
		RETURNING id, stack_id, deployment_hash, deployment_timestamp, deployment_method,
		          COALESCE(deployment_user, ''), deployment_status, created_at, updated_at
	`, stackID, deploymentHash, method, user).Scan(
		&stamp.ID, &stamp.StackID, &stamp.DeploymentHash, &stamp.DeploymentTimestamp,
		&stamp.DeploymentMethod, &stamp.DeploymentUser, &stamp.DeploymentStatus,
		&stamp.CreatedAt, &stamp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &stamp, nil
}

// CheckDeploymentStampExists returns the latest stamp for this exact config,
// if any.
func CheckDeploymentStampExists(ctx context.Context, stackID int64, config []byte) (*DeploymentStamp, error) {
	deploymentHash := generateDeploymentHash(config)

	var stamp DeploymentStamp
	err := common.DB.QueryRow(ctx, `
		SELECT id, stack_id, deployment_hash, deployment_timestamp, deployment_method,
		       COALESCE(deployment_user, ''), deployment_status, created_at, updated_at
		FROM deployment_stamps
		WHERE stack_id = $1 AND deployment_hash = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, stackID, deploymentHash).Scan(
		&stamp.ID, &stamp.StackID, &stamp.DeploymentHash, &stamp.DeploymentTimestamp,
		&stamp.DeploymentMethod, &stamp.DeploymentUser, &stamp.DeploymentStatus,
		&stamp.CreatedAt, &stamp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &stamp, nil
}

// UpdateDeploymentStampStatus updates the status of a deployment stamp.
func UpdateDeploymentStampStatus(ctx context.Context, stampID int64, status string) error {
	_, err := common.DB.Exec(ctx, `
		UPDATE deployment_stamps
		SET deployment_status = $1, updated_at = now()
		WHERE id = $2
	`, status, stampID)
	return err
}

// GetLatestDeploymentStamp gets the most recent stamp for a stack.
func GetLatestDeploymentStamp(ctx context.Context, stackID int64) (*DeploymentStamp, error) {
	var stamp DeploymentStamp
	err := common.DB.QueryRow(ctx, `
		SELECT id, stack_id, deployment_hash, deployment_timestamp, deployment_method,
		       COALESCE(deployment_user, ''), deployment_status, created_at, updated_at
		FROM deployment_stamps
		WHERE stack_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, stackID).Scan(
		&stamp.ID, &stamp.StackID, &stamp.DeploymentHash, &stamp.DeploymentTimestamp,
		&stamp.DeploymentMethod, &stamp.DeploymentUser, &stamp.DeploymentStatus,
		&stamp.CreatedAt, &stamp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &stamp, nil
}
