package utils

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/client"
	"golang.org/x/crypto/ssh"
)

// SSHConnection holds an SSH connection and its details
type SSHConnection struct {
	client   *ssh.Client
	hostAddr string
	user     string
	lastUsed time.Time
	mu       sync.RWMutex
}

// SSHConnectionPool manages SSH connections, keyed by user@host.
type SSHConnectionPool struct {
	connections map[string]*SSHConnection
	mu          sync.RWMutex
}

var SSHPool = &SSHConnectionPool{
	connections: make(map[string]*SSHConnection),
}

// GetSSHConnection gets or creates an SSH connection
func (p *SSHConnectionPool) GetSSHConnection(user, host, keyFile string) (*ssh.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := fmt.Sprintf("%s@%s", user, host)

	if conn, exists := p.connections[key]; exists {
		conn.mu.RLock()
		if conn.client != nil {
			// probe the connection before reuse
			session, err := conn.client.NewSession()
			if err == nil {
				session.Close()
				conn.lastUsed = time.Now()
				conn.mu.RUnlock()
				return conn.client, nil
			}
		}
		conn.mu.RUnlock()
		// stale, drop it
		delete(p.connections, key)
	}

	sshClient, err := CreateSSHClient(user, host, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH client: %v", err)
	}

	p.connections[key] = &SSHConnection{
		client:   sshClient,
		hostAddr: host,
		user:     user,
		lastUsed: time.Now(),
	}
	return sshClient, nil
}

// CreateSSHClient creates a new SSH client connection
func CreateSSHClient(user, host, keyFile string) (*ssh.Client, error) {
	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key file %s: %v", keyFile, err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH private key: %v", err)
	}

	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := host
	if !strings.Contains(addr, ":") {
		addr = addr + ":22"
	}

	cli, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH server %s: %v", addr, err)
	}
	return cli, nil
}

// SSHTransport implements http.RoundTripper for tunneling the Docker API
// over an SSH connection to the remote unix socket.
type SSHTransport struct {
	sshClient *ssh.Client
}

// RoundTrip implements http.RoundTripper
func (t *SSHTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := &http.Transport{
		Dial: func(network, addr string) (net.Conn, error) {
			conn, err := t.sshClient.Dial("unix", "/var/run/docker.sock")
			if err != nil {
				return nil, fmt.Errorf("failed to create SSH tunnel to Docker socket: %v", err)
			}
			return conn, nil
		},
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return transport.RoundTrip(req)
}

// CreateSSHDockerClient creates a Docker client that uses SSH transport
func CreateSSHDockerClient(user, host, keyFile string) (*client.Client, func(), error) {
	sshClient, err := SSHPool.GetSSHConnection(user, host, keyFile)
	if err != nil {
		return nil, nil, err
	}

	httpClient := &http.Client{
		Transport: &SSHTransport{sshClient: sshClient},
		Timeout:   30 * time.Second,
	}

	dockerClient, err := client.NewClientWithOpts(
		client.WithHost("unix:///var/run/docker.sock"), // tunneled through SSH
		client.WithHTTPClient(httpClient),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Docker client: %v", err)
	}

	cleanup := func() {
		if dockerClient != nil {
			dockerClient.Close()
		}
		// SSH connection stays pooled
	}
	return dockerClient, cleanup, nil
}

// ParseSSHURL parses an ssh:// URL to extract user and host
func ParseSSHURL(sshURL string) (user, host string, err error) {
	if !strings.HasPrefix(sshURL, "ssh://") {
		return "", "", fmt.Errorf("invalid SSH URL format: %s", sshURL)
	}
	address := strings.TrimPrefix(sshURL, "ssh://")
	parts := strings.SplitN(address, "@", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("SSH URL must contain user@host format: %s", sshURL)
	}
	return parts[0], parts[1], nil
}
