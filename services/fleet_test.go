package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd/database"
)

func TestComposeArgs(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		files   []string
		want    []string
		wantErr bool
	}{
		{
			name:  "up with one file",
			op:    "up",
			files: []string{"/data/compose/alpha/compose.yaml"},
			want:  []string{"compose", "-f", "/data/compose/alpha/compose.yaml", "up", "-d", "--remove-orphans"},
		},
		{
			name:  "down with override",
			op:    "down",
			files: []string{"a.yml", "b.yml"},
			want:  []string{"compose", "-f", "a.yml", "-f", "b.yml", "down"},
		},
		{
			name:    "unknown operation",
			op:      "restart",
			files:   []string{"a.yml"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComposeArgs(tt.op, tt.files)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTailOutput(t *testing.T) {
	assert.Equal(t, "", TailOutput(nil, 10))
	assert.Equal(t, "one", TailOutput([]byte("one\n"), 10))
	assert.Equal(t, "d\ne", TailOutput([]byte("a\nb\nc\nd\ne"), 2))
}

func TestHostComposeDir(t *testing.T) {
	root := "/data/compose"

	h := database.HostRow{Name: "alpha", Vars: map[string]string{}}
	assert.Equal(t, filepath.Join(root, "alpha"), HostComposeDir(root, h))

	h.Vars["compose_dir"] = "custom"
	assert.Equal(t, filepath.Join(root, "custom"), HostComposeDir(root, h))

	h.Vars["compose_dir"] = "/srv/stacks/alpha"
	assert.Equal(t, "/srv/stacks/alpha", HostComposeDir(root, h))
}

func TestFindComposeFiles(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, FindComposeFiles(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte("services: {}\n"), 0o644))
	got := FindComposeFiles(dir)
	require.Len(t, got, 1)
	assert.Equal(t, filepath.Join(dir, "docker-compose.yml"), got[0])

	// compose.yaml wins over docker-compose.yml, override file is appended
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compose.yaml"), []byte("services: {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compose.override.yml"), []byte("services: {}\n"), 0o644))
	got = FindComposeFiles(dir)
	require.Len(t, got, 2)
	assert.Equal(t, filepath.Join(dir, "compose.yaml"), got[0])
	assert.Equal(t, filepath.Join(dir, "compose.override.yml"), got[1])
}

func writeStackDir(t *testing.T, root, host string) {
	t.Helper()
	dir := filepath.Join(root, host)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compose.yaml"), []byte("services: {}\n"), 0o644))
}

func TestSweepHostsSequentialOrder(t *testing.T) {
	root := t.TempDir()
	for _, h := range []string{"alpha", "beta", "gamma"} {
		writeStackDir(t, root, h)
	}

	var calls []string
	orig := runCompose
	runCompose = func(ctx context.Context, dir string, env []string, args ...string) ([]byte, error) {
		calls = append(calls, filepath.Base(dir))
		return []byte("ok\n"), nil
	}
	defer func() { runCompose = orig }()

	hosts := []database.HostRow{
		{Name: "alpha", Vars: map[string]string{}},
		{Name: "beta", Vars: map[string]string{}},
		{Name: "gamma", Vars: map[string]string{}},
	}
	results := sweepHosts(context.Background(), "up", root, hosts, time.Minute)

	// hosts are visited one at a time, in slice order
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, calls)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, hosts[i].Name, r.Host)
		assert.True(t, r.OK)
	}
}

func TestSweepHostsRepeatIssuesCommandsAgain(t *testing.T) {
	root := t.TempDir()
	for _, h := range []string{"alpha", "beta", "gamma"} {
		writeStackDir(t, root, h)
	}

	var calls []string
	orig := runCompose
	runCompose = func(ctx context.Context, dir string, env []string, args ...string) ([]byte, error) {
		calls = append(calls, filepath.Base(dir))
		return []byte("ok\n"), nil
	}
	defer func() { runCompose = orig }()

	hosts := []database.HostRow{
		{Name: "alpha", Vars: map[string]string{}},
		{Name: "beta", Vars: map[string]string{}},
		{Name: "gamma", Vars: map[string]string{}},
	}

	// no idempotence gate: a second sweep runs every host again
	sweepHosts(context.Background(), "up", root, hosts, time.Minute)
	sweepHosts(context.Background(), "up", root, hosts, time.Minute)

	assert.Equal(t, []string{"alpha", "beta", "gamma", "alpha", "beta", "gamma"}, calls)
	assert.Len(t, calls, 6)
}

func TestSweepHostsFailureDoesNotHalt(t *testing.T) {
	root := t.TempDir()
	for _, h := range []string{"alpha", "beta", "gamma"} {
		writeStackDir(t, root, h)
	}

	var calls []string
	orig := runCompose
	runCompose = func(ctx context.Context, dir string, env []string, args ...string) ([]byte, error) {
		host := filepath.Base(dir)
		calls = append(calls, host)
		if host == "beta" {
			return []byte("boom\n"), errors.New("exit status 1")
		}
		return []byte("ok\n"), nil
	}
	defer func() { runCompose = orig }()

	hosts := []database.HostRow{
		{Name: "alpha", Vars: map[string]string{}},
		{Name: "beta", Vars: map[string]string{}},
		{Name: "gamma", Vars: map[string]string{}},
	}
	results := sweepHosts(context.Background(), "down", root, hosts, time.Minute)

	// the failing host is recorded, the walk continues
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, calls)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.Contains(t, results[1].Error, "exit status 1")
	assert.Equal(t, "boom", results[1].OutputTail)
	assert.True(t, results[2].OK)
}

func TestSweepHostMissingDir(t *testing.T) {
	root := t.TempDir()

	called := false
	orig := runCompose
	runCompose = func(ctx context.Context, dir string, env []string, args ...string) ([]byte, error) {
		called = true
		return nil, nil
	}
	defer func() { runCompose = orig }()

	res := sweepHost(context.Background(), "up", root, database.HostRow{Name: "ghost", Vars: map[string]string{}}, time.Minute)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "compose dir missing")
	assert.False(t, called)
}

func TestSweepHostsStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	for _, h := range []string{"alpha", "beta", "gamma"} {
		writeStackDir(t, root, h)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var calls []string
	orig := runCompose
	runCompose = func(_ context.Context, dir string, env []string, args ...string) ([]byte, error) {
		calls = append(calls, filepath.Base(dir))
		cancel() // cancel during the first host
		return []byte("ok\n"), nil
	}
	defer func() { runCompose = orig }()

	hosts := []database.HostRow{
		{Name: "alpha", Vars: map[string]string{}},
		{Name: "beta", Vars: map[string]string{}},
		{Name: "gamma", Vars: map[string]string{}},
	}
	results := sweepHosts(ctx, "up", root, hosts, time.Minute)

	assert.Equal(t, []string{"alpha"}, calls)
	assert.Len(t, results, 1)
}
