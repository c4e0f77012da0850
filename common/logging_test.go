package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLoggingProtectedEnv(t *testing.T) {
	t.Setenv("FLEETD_DB_PASS", "s3cretpass")

	out := sanitizeForLogging("connecting with s3cretpass to db")
	assert.NotContains(t, out, "s3cretpass")
	assert.Contains(t, out, "***REDACTED***")
}

func TestSanitizeForLoggingPatterns(t *testing.T) {
	out := sanitizeForLogging("password=hunter2 rest of line")
	assert.NotContains(t, out, "hunter2")

	out = sanitizeForLogging("dsn postgres://user:pw@db:5432/fleetd")
	assert.NotContains(t, out, "user:pw@db")
}

func TestSanitizeForLoggingPlainLine(t *testing.T) {
	line := "scan: host=alpha saved=12"
	assert.Equal(t, line, sanitizeForLogging(line))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("FLEETD_TEST_STR", "value")
	assert.Equal(t, "value", Env("FLEETD_TEST_STR", "def"))
	assert.Equal(t, "def", Env("FLEETD_TEST_MISSING", "def"))

	t.Setenv("FLEETD_TEST_BOOL", "yes")
	assert.True(t, EnvBool("FLEETD_TEST_BOOL", "false"))
	assert.False(t, EnvBool("FLEETD_TEST_BOOL_MISSING", "false"))

	t.Setenv("FLEETD_TEST_DUR", "250ms")
	assert.Equal(t, "250ms", EnvDuration("FLEETD_TEST_DUR", "1s").String())
	assert.Equal(t, "1s", EnvDuration("FLEETD_TEST_DUR_MISSING", "1s").String())
}

func TestReadSecretMaybeFile(t *testing.T) {
	got, err := ReadSecretMaybeFile("plainvalue")
	assert.NoError(t, err)
	assert.Equal(t, "plainvalue", got)

	got, err = ReadSecretMaybeFile("")
	assert.NoError(t, err)
	assert.Empty(t, got)

	_, err = ReadSecretMaybeFile("@/does/not/exist")
	assert.Error(t, err)
}

func TestLogCommandOutputTruncation(t *testing.T) {
	// nothing to assert on stdout here, just exercise the truncation path
	lines := strings.Repeat("line\n", 40)
	LogCommandOutput("test", []byte(lines))
}
