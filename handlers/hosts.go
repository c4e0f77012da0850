package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fleetd/common"
	"fleetd/database"
	"fleetd/middleware"
	"fleetd/services"
)

// SetupHostRoutes wires inventory and scan endpoints.
func SetupHostRoutes(router chi.Router) {
	router.Route("/hosts", func(r chi.Router) {
		r.Get("/", handleHostsList)
		r.Post("/reload", handleHostsReload)
		r.Route("/{hostname}", func(r chi.Router) {
			r.Get("/", handleHostGet)
			r.Post("/scan", handleHostScan)
			r.Get("/scan-logs", handleHostScanLogs)
		})
	})
}

func handleHostsList(w http.ResponseWriter, r *http.Request) {
	hosts, err := database.ListHosts(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list hosts: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hosts": hosts})
}

func handleHostGet(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	h, err := database.GetHostByName(r.Context(), hostname)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"host": h})
}

// handleHostsReload re-reads the inventory file (optionally from a new path)
// and re-imports hosts.
func handleHostsReload(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := services.ReloadInventoryWithPath(body.Path); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	common.InfoLog("inventory: reload requested by %s", middleware.GetUserEmail(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"hosts":   len(services.GetHosts()),
		"path":    services.InventoryPath(),
	})
}

func handleHostScan(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	n, err := services.ScanHostContainers(r.Context(), hostname)
	if err != nil {
		if err == services.ErrSkipScan {
			writeJSON(w, http.StatusOK, map[string]any{"skipped": true})
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"containers": n})
}

func handleHostScanLogs(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
	logs, err := database.ListScanLogs(r.Context(), hostname, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
