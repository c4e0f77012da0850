package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fleetd/common"
	"fleetd/database"
	"fleetd/middleware"
	"fleetd/services"
	"fleetd/utils"
)

// SetupStackRoutes wires per-host stack listing and deploys.
func SetupStackRoutes(router chi.Router) {
	router.Route("/stacks", func(r chi.Router) {
		r.Route("/hosts/{hostname}", func(r chi.Router) {
			r.Get("/", handleStacksList)
			r.Route("/{project}", func(r chi.Router) {
				r.Get("/", handleStackGet)
				r.Get("/deployments", handleStackDeployments)
				r.Post("/deploy", handleStackDeploy)
				r.Get("/deploy/stream", handleStackDeployStream)
			})
		})
	})
}

func handleStacksList(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	stacks, err := database.ListStacksByHost(r.Context(), hostname)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stacks": stacks})
}

func handleStackGet(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	project := utils.SanitizeProject(chi.URLParam(r, "project"))
	st, err := database.GetStackByHostAndProject(r.Context(), hostname, project)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stack": st})
}

func handleStackDeployments(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	project := utils.SanitizeProject(chi.URLParam(r, "project"))
	st, err := database.GetStackByHostAndProject(r.Context(), hostname, project)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	stamp, err := database.GetLatestDeploymentStamp(r.Context(), st.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"latest": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"latest": stamp})
}

func handleStackDeploy(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	project := utils.SanitizeProject(chi.URLParam(r, "project"))

	common.InfoLog("deploy: host=%s project=%s requested by %s",
		hostname, project, middleware.GetUserEmail(r.Context()))

	if err := services.DeployStack(r.Context(), hostname, project); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleStackDeployStream runs the deploy and emits its output as SSE events.
func handleStackDeployStream(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	project := utils.SanitizeProject(chi.URLParam(r, "project"))

	fl, ok := utils.WriteSSEHeader(w)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	events := make(chan map[string]any, 64)
	go func() {
		_ = services.DeployStackWithStream(r.Context(), hostname, project, events)
	}()

	enc := json.NewEncoder(w)
	for ev := range events {
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if err := enc.Encode(ev); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return
		}
		fl.Flush()
	}
}
