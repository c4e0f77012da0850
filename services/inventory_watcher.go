package services

import (
	"context"
	"os"
	"time"

	"fleetd/common"
)

var (
	lastModTime    time.Time
	watcherRunning bool
)

// StartInventoryWatcher monitors the inventory file for changes and reloads automatically
func StartInventoryWatcher(ctx context.Context) {
	if watcherRunning {
		return
	}
	watcherRunning = true

	if p := InventoryPath(); p != "" {
		if stat, err := os.Stat(p); err == nil {
			lastModTime = stat.ModTime()
		}
	}

	interval := common.EnvDuration("FLEETD_INVENTORY_WATCH_INTERVAL", "10s")
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				common.InfoLog("inventory: watcher stopped")
				watcherRunning = false
				return
			case <-ticker.C:
				checkAndReloadInventory()
			}
		}
	}()

	common.InfoLog("inventory: watcher started (checking every %s)", interval)
}

func checkAndReloadInventory() {
	p := InventoryPath()
	if p == "" {
		return
	}
	stat, err := os.Stat(p)
	if err != nil {
		common.DebugLog("inventory: watcher failed to stat %s: %v", p, err)
		return
	}
	modTime := stat.ModTime()
	if modTime.After(lastModTime) {
		common.InfoLog("inventory: file changed, reloading...")
		if err := ReloadInventory(); err != nil {
			common.ErrorLog("inventory: reload failed: %v", err)
			return
		}
		lastModTime = modTime
	}
}
