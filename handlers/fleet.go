package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fleetd/common"
	"fleetd/database"
	"fleetd/middleware"
	"fleetd/services"
)

// SetupFleetRoutes wires the fleet-wide up/down sweeps and run reports.
func SetupFleetRoutes(router chi.Router) {
	router.Route("/fleet", func(r chi.Router) {
		r.Post("/up", handleFleetUp)
		r.Post("/down", handleFleetDown)
		r.Get("/runs", handleFleetRuns)
		r.Get("/runs/{runID}", handleFleetRun)
	})
}

// handleFleetUp brings the whole fleet up, one host at a time. The request
// blocks until the sweep finishes; failed hosts are in the report, never a
// reason to abort.
func handleFleetUp(w http.ResponseWriter, r *http.Request) {
	common.InfoLog("fleet: up requested by %s", middleware.GetUserEmail(r.Context()))
	run, err := services.FleetUp(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func handleFleetDown(w http.ResponseWriter, r *http.Request) {
	common.InfoLog("fleet: down requested by %s", middleware.GetUserEmail(r.Context()))
	run, err := services.FleetDown(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func handleFleetRuns(w http.ResponseWriter, r *http.Request) {
	limit := clamp(parseIntDefault(r.URL.Query().Get("limit"), 50), 1, 500)
	runs, err := database.ListFleetRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func handleFleetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}
	run, err := database.GetFleetRun(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}
