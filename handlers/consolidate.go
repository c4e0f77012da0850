package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fleetd/services"
)

// SetupConsolidateRoutes exposes the load monitor state.
func SetupConsolidateRoutes(router chi.Router) {
	router.Route("/consolidate", func(r chi.Router) {
		r.Get("/status", handleConsolidateStatus)
		r.Get("/queue", handleConsolidateQueue)
	})
}

func handleConsolidateStatus(w http.ResponseWriter, r *http.Request) {
	c := services.GetConsolidator()
	writeJSON(w, http.StatusOK, map[string]any{"hosts": c.Loads()})
}

func handleConsolidateQueue(w http.ResponseWriter, r *http.Request) {
	c := services.GetConsolidator()
	writeJSON(w, http.StatusOK, map[string]any{"queue": c.Queue()})
}
