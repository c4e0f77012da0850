package common

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"
)

// Log levels for hierarchical logging
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var logLevels = map[string]int{
	"debug": LevelDebug,
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
	"fatal": LevelFatal,
}

// shouldLog determines if a message at the given level should be logged
func shouldLog(level string) bool {
	currentLevel := Env("FLEETD_LOG_LEVEL", "info")

	currentLevelNum, ok1 := logLevels[strings.ToLower(currentLevel)]
	targetLevelNum, ok2 := logLevels[strings.ToLower(level)]

	if !ok1 || !ok2 {
		return true
	}
	return targetLevelNum >= currentLevelNum
}

// logOutput handles both text and JSON output based on FLEETD_LOG_FORMAT
func logOutput(level string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)

	// Ensure no secrets are accidentally logged
	message = sanitizeForLogging(message)

	if Env("FLEETD_LOG_FORMAT", "text") == "json" {
		entry := map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"level":     strings.ToLower(level),
			"message":   message,
		}
		if jsonBytes, err := json.Marshal(entry); err == nil {
			fmt.Println(string(jsonBytes))
		} else {
			fmt.Printf("%s: %s\n", level, message)
		}
	} else {
		fmt.Printf("%s/%s %s: %s\n",
			time.Now().Format("2006/01/02"),
			time.Now().Format("15:04:05"),
			level, message)
	}
}

// DebugLog logs debug messages only if log level allows it
func DebugLog(format string, args ...interface{}) {
	if shouldLog("debug") {
		logOutput("DEBUG", format, args...)
	}
}

// InfoLog logs info messages only if log level allows it
func InfoLog(format string, args ...interface{}) {
	if shouldLog("info") {
		logOutput("INFO", format, args...)
	}
}

// WarnLog logs warning messages only if log level allows it
func WarnLog(format string, args ...interface{}) {
	if shouldLog("warn") {
		logOutput("WARN", format, args...)
	}
}

// ErrorLog logs error messages only if log level allows it
func ErrorLog(format string, args ...interface{}) {
	if shouldLog("error") {
		logOutput("ERROR", format, args...)
	}
}

// FatalLog logs fatal messages and exits (always shown)
func FatalLog(format string, args ...interface{}) {
	if Env("FLEETD_LOG_FORMAT", "text") == "json" {
		message := fmt.Sprintf(format, args...)
		entry := map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"level":     "fatal",
			"message":   message,
		}
		if jsonBytes, err := json.Marshal(entry); err == nil {
			fmt.Println(string(jsonBytes))
		}
		os.Exit(1)
	}
	log.Fatalf("FATAL: "+format, args...)
}

// LogCommandOutput logs wrapped-tool output, debug level only to keep
// sensitive data out of normal logs.
func LogCommandOutput(prefix string, output []byte) {
	if !shouldLog("debug") {
		return
	}
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	maxLines := 20
	if len(lines) > maxLines {
		lines = append(lines[:maxLines], fmt.Sprintf("... %d more lines truncated ...", len(lines)-maxLines))
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			DebugLog("%s: %s", prefix, line)
		}
	}
}

// sanitizeForLogging removes potential secrets from any string before logging
func sanitizeForLogging(line string) string {
	protectedEnvVars := []string{
		"SSH_KEY",
		"OIDC_CLIENT_SECRET",
		"OIDC_CLIENT_ID",
		"FLEETD_SESSION_SECRET",
		"FLEETD_DB_PASS",
		"FLEETD_DB_DSN",
		"POSTGRES_PASSWORD",
	}

	for _, envVar := range protectedEnvVars {
		if value := os.Getenv(envVar); value != "" && value != "true" && value != "false" {
			line = strings.ReplaceAll(line, value, "***REDACTED***")
		}
		fileVar := envVar + "_FILE"
		if fileContent := os.Getenv(fileVar); fileContent != "" {
			line = strings.ReplaceAll(line, fileContent, "***REDACTED***")
		}
	}

	patterns := []string{
		`(?i)(password|passwd|pwd|secret|token|api[-_]?key|credential|bearer)[-_=:\s]*[^\s]+`,
		`(?i)(mysql|postgres|postgresql|mongodb|redis|amqp)://[^@]+@[^\s]+`,
	}
	for _, pattern := range patterns {
		re := regexp.MustCompile(pattern)
		line = re.ReplaceAllStringFunc(line, func(match string) string {
			parts := strings.SplitN(match, "=", 2)
			if len(parts) == 2 {
				return parts[0] + "=***REDACTED***"
			}
			parts = strings.SplitN(match, ":", 2)
			if len(parts) == 2 {
				return parts[0] + ":***REDACTED***"
			}
			return "***REDACTED***"
		})
	}
	return line
}
