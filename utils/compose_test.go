package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeProject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Stack", "my_stack"},
		{"web-frontend", "web-frontend"},
		{"  Padded  ", "padded"},
		{"weird!!chars##", "weird_chars"},
		{"__trimmed__", "trimmed"},
		{"", "default"},
		{"***", "default"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeProject(tt.in), "input %q", tt.in)
	}
}

func TestComposeProjectLabel(t *testing.T) {
	assert.Equal(t, "my_stack", ComposeProjectLabel("My Stack"))
}
