package database

import (
	"context"

	"fleetd/common"
)

// GetHostCount returns the total number of hosts
func GetHostCount(ctx context.Context) (int, error) {
	var count int
	err := common.DB.QueryRow(ctx, `SELECT COUNT(*) FROM hosts`).Scan(&count)
	return count, err
}

// GetStackCount returns the total number of stacks
func GetStackCount(ctx context.Context) (int, error) {
	var count int
	err := common.DB.QueryRow(ctx, `SELECT COUNT(*) FROM stacks`).Scan(&count)
	return count, err
}

// GetContainerCount returns the total number of containers
func GetContainerCount(ctx context.Context) (int, error) {
	var count int
	err := common.DB.QueryRow(ctx, `SELECT COUNT(*) FROM containers`).Scan(&count)
	return count, err
}

// GetRunningContainerCount returns how many scanned containers are running
func GetRunningContainerCount(ctx context.Context) (int, error) {
	var count int
	err := common.DB.QueryRow(ctx, `SELECT COUNT(*) FROM containers WHERE state='running'`).Scan(&count)
	return count, err
}
