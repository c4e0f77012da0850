package common

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Shared between main and the handler/service packages.
var (
	DB             *pgxpool.Pool // database connection pool used across all packages
	SessionManager *scs.SessionManager
)

const (
	SessionName = "fleetd_sess"
)

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode JSON", http.StatusInternalServerError)
	}
}

// Env gets an environment variable with a default value
func Env(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// EnvBool gets an environment variable as a boolean with a default value
func EnvBool(key, def string) bool {
	v := strings.ToLower(Env(key, def))
	return v == "1" || v == "t" || v == "true" || v == "yes" || v == "on"
}

// EnvInt gets an environment variable as an int with a default value
func EnvInt(key string, def int) int {
	if s := Env(key, ""); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// EnvDuration gets an environment variable as a duration with a default value
func EnvDuration(key, def string) time.Duration {
	if d, err := time.ParseDuration(Env(key, def)); err == nil {
		return d
	}
	out, _ := time.ParseDuration(def)
	return out
}

// EnvFloat gets an environment variable as a float with a default value
func EnvFloat(key string, def float64) float64 {
	if s := Env(key, ""); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return def
}

// ReadSecretMaybeFile reads a secret from a file if the value starts with "@"
func ReadSecretMaybeFile(value string) (string, error) {
	if strings.HasPrefix(value, "@") {
		path := strings.TrimPrefix(value, "@")
		content, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(content)), nil
	}
	return value, nil
}

// EnvOrFile reads a secret from ENV var or the *_FILE path variant. Also
// accepts "@/path" in the value.
func EnvOrFile(valueKey, fileKey string) (string, error) {
	if raw := os.Getenv(valueKey); raw != "" {
		return ReadSecretMaybeFile(raw)
	}
	if fp := strings.TrimSpace(os.Getenv(fileKey)); fp != "" {
		b, err := os.ReadFile(fp)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	return "", nil
}
