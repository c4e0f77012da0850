package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/client"

	"fleetd/common"
	"fleetd/database"
	"fleetd/utils"
)

// ErrSkipScan marks a host that was intentionally not scanned.
var ErrSkipScan = errors.New("skip scan")

var sshEnvMu sync.Mutex

// IsUnixSock reports whether the endpoint is a local Docker socket.
func IsUnixSock(url string) bool { return strings.HasPrefix(url, "unix://") }

// LocalHostAllowed decides whether a host may be served by the local
// docker.sock. At most one host is; everything else must come in over tcp
// or ssh, otherwise every "host" would silently be the same daemon.
func LocalHostAllowed(h database.HostRow) bool {
	if truthy(h.Vars["docker_local"]) {
		return true
	}
	if lh := localHostName(); lh != "" && strings.EqualFold(lh, h.Name) {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(h.Addr)) {
	case "127.0.0.1", "::1", "localhost":
		return true
	}
	return false
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func localHostName() string {
	return strings.TrimSpace(common.Env("FLEETD_LOCAL_HOST", ""))
}

func localSockURL() string {
	return "unix://" + common.Env("DOCKER_SOCK_PATH", "/var/run/docker.sock")
}

func hostAddr(h database.HostRow) string {
	if h.Addr != "" {
		return h.Addr
	}
	return h.Name
}

// DockerURLFor resolves a host's Docker endpoint plus the ssh command the
// CLI connhelper would need. Per-host inventory vars beat the global
// connection method.
func DockerURLFor(h database.HostRow) (string, string) {
	if v := h.Vars["docker_host"]; v != "" {
		return v, h.Vars["docker_ssh_cmd"]
	}
	if lh := localHostName(); lh != "" && strings.EqualFold(lh, h.Name) {
		return localSockURL(), ""
	}
	switch common.Env("DOCKER_CONNECTION_METHOD", "ssh") {
	case "local":
		return localSockURL(), ""
	case "tcp":
		return fmt.Sprintf("tcp://%s:%s", hostAddr(h), common.Env("DOCKER_TCP_PORT", "2375")), ""
	default:
		return sshDockerURL(h)
	}
}

func sshDockerURL(h database.HostRow) (string, string) {
	user := h.Vars["ansible_user"]
	if user == "" {
		user = common.Env("SSH_USER", "root")
	}

	opts := []string{"ssh"}
	if keyFile := common.Env("SSH_KEY_FILE", ""); keyFile != "" {
		opts = append(opts, "-i", keyFile)
	}
	if common.Env("SSH_STRICT_HOST_KEY", "true") == "false" {
		opts = append(opts, "-o", "StrictHostKeyChecking=no")
	}
	if port := common.Env("SSH_PORT", ""); port != "" && port != "22" {
		opts = append(opts, "-p", port)
	}
	return fmt.Sprintf("ssh://%s@%s", user, hostAddr(h)), strings.Join(opts, " ")
}

// withSSHEnv pins DOCKER_SSH_CMD for the duration of fn. The docker ssh
// connhelper reads it at dial time, and process env is global, hence the
// mutex.
func withSSHEnv(cmd string, fn func() error) error {
	sshEnvMu.Lock()
	defer sshEnvMu.Unlock()
	prev, had := os.LookupEnv("DOCKER_SSH_CMD")
	if cmd != "" {
		_ = os.Setenv("DOCKER_SSH_CMD", cmd)
	}
	defer func() {
		if had {
			_ = os.Setenv("DOCKER_SSH_CMD", prev)
		} else {
			_ = os.Unsetenv("DOCKER_SSH_CMD")
		}
	}()
	return fn()
}

// DockerClientForURL dials a Docker endpoint and verifies it with a ping
// before handing it out. The returned func releases the client.
func DockerClientForURL(ctx context.Context, url, sshCmd string) (*client.Client, func(), error) {
	if strings.HasPrefix(url, "ssh://") {
		return sshDockerClient(ctx, url)
	}

	var cli *client.Client
	err := withSSHEnv(sshCmd, func() error {
		var err error
		cli, err = client.NewClientWithOpts(
			client.WithHost(url),
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			return err
		}
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err = cli.Ping(pctx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return cli, func() { _ = cli.Close() }, nil
}

// sshDockerClient tunnels the Docker API over our own pooled ssh transport
// instead of the CLI connhelper, which would spawn an ssh process per dial.
func sshDockerClient(ctx context.Context, url string) (*client.Client, func(), error) {
	user, host, err := utils.ParseSSHURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("bad ssh url %q: %w", url, err)
	}
	keyFile := common.Env("SSH_KEY_FILE", "")
	if keyFile == "" {
		return nil, nil, errors.New("SSH_KEY_FILE not configured")
	}
	cli, cleanup, err := utils.CreateSSHDockerClient(user, host, keyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("ssh docker client for %s@%s: %w", user, host, err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := cli.Ping(pctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ping %s@%s: %w", user, host, err)
	}
	common.DebugLog("docker: ssh client ready for %s@%s", user, host)
	return cli, cleanup, nil
}

// DockerClientForHost resolves the endpoint for a host and dials it.
func DockerClientForHost(ctx context.Context, h database.HostRow) (*client.Client, func(), error) {
	url, sshCmd := DockerURLFor(h)
	if IsUnixSock(url) && !LocalHostAllowed(h) {
		return nil, nil, fmt.Errorf("refusing local docker.sock for non-local host %q (set FLEETD_LOCAL_HOST=%s or hosts.%s.vars.docker_local=true)",
			h.Name, h.Name, h.Name)
	}
	return DockerClientForURL(ctx, url, sshCmd)
}
