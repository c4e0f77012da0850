package utils

import (
	"regexp"
	"strings"
)

// The user's *display* stack name is kept untouched for -p. Only for lookups
// we normalize to Compose's label form.
var projRe = regexp.MustCompile(`[^a-z0-9_-]+`)

func SanitizeProject(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = projRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_-")
	if s == "" {
		s = "default"
	}
	return s
}

// ComposeProjectLabel is the com.docker.compose.project value Compose will
// assign for a given stack name.
func ComposeProjectLabel(stackName string) string {
	return SanitizeProject(stackName)
}
