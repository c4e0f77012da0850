package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"fleetd/common"
	"fleetd/handlers"
	"fleetd/middleware"
)

type Health struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
}

func makeRouter() http.Handler {
	r := chi.NewRouter()

	// CORS locked down for credentials
	uiOrigin := strings.TrimSpace(common.Env("FLEETD_UI_ORIGIN", ""))
	allowedOrigins := []string{}
	if uiOrigin != "" {
		allowedOrigins = append(allowedOrigins, uiOrigin)
	}
	// dev helpers
	allowedOrigins = append(allowedOrigins,
		"http://localhost:5173",
		"http://127.0.0.1:5173",
	)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins, // no "*"
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           600,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			common.RespondJSON(w, Health{Status: "ok", StartedAt: startedAt})
		})

		// Everything below requires auth
		api.Group(func(priv chi.Router) {
			priv.Use(middleware.RequireAuth)

			handlers.SetupHostRoutes(priv)
			handlers.SetupContainerRoutes(priv)
			handlers.SetupStackRoutes(priv)
			handlers.SetupFleetRoutes(priv)
			handlers.SetupConsolidateRoutes(priv)
			handlers.SetupSystemRoutes(priv)
		})
	})

	// Legacy alias
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		common.RespondJSON(w, Health{Status: "ok", StartedAt: startedAt})
	})

	// Auth endpoints
	r.Get("/login", LoginHandler)
	r.Get("/auth/login", LoginHandler) // alias
	r.Get("/auth/callback", CallbackHandler)
	r.Post("/logout", LogoutHandler)
	r.Post("/auth/logout", LogoutHandler) // alias
	r.Get("/api/session", SessionHandler)

	return r
}

func isTrueish(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	}
	return false
}
