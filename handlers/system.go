package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fleetd/database"
)

// SetupSystemRoutes exposes aggregate counters for the dashboard.
func SetupSystemRoutes(router chi.Router) {
	router.Get("/system/stats", handleSystemStats)
}

func handleSystemStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	hosts, err := database.GetHostCount(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stacks, _ := database.GetStackCount(ctx)
	containers, _ := database.GetContainerCount(ctx)
	running, _ := database.GetRunningContainerCount(ctx)

	writeJSON(w, http.StatusOK, map[string]any{
		"hosts":              hosts,
		"stacks":             stacks,
		"containers":         containers,
		"containers_running": running,
	})
}
