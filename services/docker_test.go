package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fleetd/database"
)

func TestDockerURLForInventoryVarsWin(t *testing.T) {
	h := database.HostRow{Name: "alpha", Vars: map[string]string{
		"docker_host":    "tcp://10.0.0.1:2376",
		"docker_ssh_cmd": "ssh -i /k",
	}}
	url, sshCmd := DockerURLFor(h)
	assert.Equal(t, "tcp://10.0.0.1:2376", url)
	assert.Equal(t, "ssh -i /k", sshCmd)
}

func TestDockerURLForLocalHost(t *testing.T) {
	t.Setenv("FLEETD_LOCAL_HOST", "alpha")
	t.Setenv("DOCKER_SOCK_PATH", "/run/docker.sock")

	url, sshCmd := DockerURLFor(database.HostRow{Name: "Alpha", Vars: map[string]string{}})
	assert.Equal(t, "unix:///run/docker.sock", url)
	assert.Empty(t, sshCmd)
}

func TestDockerURLForTCP(t *testing.T) {
	t.Setenv("DOCKER_CONNECTION_METHOD", "tcp")
	t.Setenv("DOCKER_TCP_PORT", "2375")

	url, _ := DockerURLFor(database.HostRow{Name: "beta", Addr: "10.0.0.2", Vars: map[string]string{}})
	assert.Equal(t, "tcp://10.0.0.2:2375", url)

	// name stands in when the inventory has no address
	url, _ = DockerURLFor(database.HostRow{Name: "gamma", Vars: map[string]string{}})
	assert.Equal(t, "tcp://gamma:2375", url)
}

func TestDockerURLForSSHDefault(t *testing.T) {
	t.Setenv("DOCKER_CONNECTION_METHOD", "ssh")
	t.Setenv("SSH_KEY_FILE", "/keys/id_ed25519")
	t.Setenv("SSH_PORT", "2222")

	h := database.HostRow{Name: "beta", Addr: "10.0.0.2",
		Vars: map[string]string{"ansible_user": "deploy"}}
	url, sshCmd := DockerURLFor(h)
	assert.Equal(t, "ssh://deploy@10.0.0.2", url)
	assert.Contains(t, sshCmd, "-i /keys/id_ed25519")
	assert.Contains(t, sshCmd, "-p 2222")
}

func TestLocalHostAllowed(t *testing.T) {
	t.Setenv("FLEETD_LOCAL_HOST", "alpha")

	cases := []struct {
		name string
		host database.HostRow
		want bool
	}{
		{"designated local host", database.HostRow{Name: "alpha", Vars: map[string]string{}}, true},
		{"case insensitive", database.HostRow{Name: "ALPHA", Vars: map[string]string{}}, true},
		{"per-host opt-in", database.HostRow{Name: "beta", Vars: map[string]string{"docker_local": "yes"}}, true},
		{"loopback address", database.HostRow{Name: "gamma", Addr: "127.0.0.1", Vars: map[string]string{}}, true},
		{"plain remote host", database.HostRow{Name: "delta", Addr: "10.0.0.4", Vars: map[string]string{}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LocalHostAllowed(tc.host))
		})
	}
}

func TestComposeProjectFrom(t *testing.T) {
	assert.Equal(t, "web", composeProjectFrom(map[string]string{"com.docker.compose.project": "web"}))
	assert.Equal(t, "ns", composeProjectFrom(map[string]string{"com.docker.stack.namespace": "ns"}))
	assert.Empty(t, composeProjectFrom(map[string]string{}))
}

func TestContainerCreatedAt(t *testing.T) {
	got := containerCreatedAt("2026-08-01T10:00:00.000000000Z", 0)
	if assert.NotNil(t, got) {
		assert.Equal(t, 2026, got.Year())
	}

	got = containerCreatedAt("not-a-time", 1754042400)
	if assert.NotNil(t, got) {
		assert.Equal(t, time.Unix(1754042400, 0).UTC(), *got)
	}

	assert.Nil(t, containerCreatedAt("", 0))
}
