package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetd/common"
	"fleetd/database"
)

// compose file names probed inside a stack directory, in priority order.
var composeFileNames = []string{
	"compose.yaml", "compose.yml", "docker-compose.yml", "docker-compose.yaml",
}

// runCompose executes the docker CLI; swapped out in tests.
var runCompose = func(ctx context.Context, dir string, env []string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = dir
	cmd.Env = env
	return cmd.CombinedOutput()
}

// ComposeRoot is the directory holding one subdirectory per host.
func ComposeRoot() string {
	return common.Env("FLEETD_COMPOSE_ROOT", "/data/compose")
}

// HostComposeDir resolves the compose directory for a host: the inventory
// var "compose_dir" wins, else <root>/<host name>.
func HostComposeDir(root string, h database.HostRow) string {
	if d := strings.TrimSpace(h.Vars["compose_dir"]); d != "" {
		if filepath.IsAbs(d) {
			return d
		}
		return filepath.Join(root, d)
	}
	return filepath.Join(root, h.Name)
}

// FindComposeFiles returns the compose files tracked in a stack directory.
// Exactly one of the known names is used; extra override files are appended
// when present (compose.override.yml).
func FindComposeFiles(dir string) []string {
	var out []string
	for _, n := range composeFileNames {
		p := filepath.Join(dir, n)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			out = append(out, p)
			break
		}
	}
	if len(out) > 0 {
		for _, n := range []string{"compose.override.yml", "compose.override.yaml", "docker-compose.override.yml"} {
			p := filepath.Join(dir, n)
			if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// ComposeArgs builds the docker CLI argument list for a sweep operation.
func ComposeArgs(op string, composeFiles []string) ([]string, error) {
	args := []string{"compose"}
	for _, f := range composeFiles {
		args = append(args, "-f", f)
	}
	switch op {
	case "up":
		args = append(args, "up", "-d", "--remove-orphans")
	case "down":
		args = append(args, "down")
	default:
		return nil, fmt.Errorf("unknown fleet operation: %s", op)
	}
	return args, nil
}

// TailOutput keeps the last n lines of combined command output for reports.
func TailOutput(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func hostEnv(h database.HostRow) []string {
	url, _ := DockerURLFor(h)
	env := os.Environ()
	if !IsUnixSock(url) || LocalHostAllowed(h) {
		env = append(env, "DOCKER_HOST="+url)
	}
	return env
}

// FleetSweep walks all hosts in inventory (name) order and runs one compose
// operation on each, strictly sequentially. A failing host is recorded and
// the walk continues; nothing is retried or rolled back. Running a sweep
// twice issues the commands twice.
func FleetSweep(ctx context.Context, op string) (*database.FleetRun, error) {
	if op != "up" && op != "down" {
		return nil, fmt.Errorf("unknown fleet operation: %s", op)
	}
	hostRows, err := database.ListHosts(ctx)
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	dbID, err := database.CreateFleetRun(ctx, runID, op, len(hostRows))
	if err != nil {
		return nil, err
	}

	perHostTO := common.EnvDuration("FLEETD_FLEET_HOST_TIMEOUT", "5m")
	root := ComposeRoot()

	common.InfoLog("fleet: %s sweep %s starting hosts=%d root=%s", op, runID, len(hostRows), root)

	results := sweepHosts(ctx, op, root, hostRows, perHostTO)

	// the report must land even when the sweep itself was canceled
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := database.FinishFleetRun(finishCtx, dbID, results); err != nil {
		common.ErrorLog("fleet: failed to store report for run %s: %v", runID, err)
	}

	run, err := database.GetFleetRun(finishCtx, runID)
	if err != nil {
		// report is still useful even if the re-read failed
		run = &database.FleetRun{RunID: runID, Operation: op, HostsTotal: len(hostRows), Report: results}
	}
	common.InfoLog("fleet: %s sweep %s complete ok=%d failed=%d", op, runID, run.HostsOK, run.HostsFailed)
	return run, nil
}

// sweepHosts runs one compose operation per host, in slice order, one at a
// time. Failures are collected, never fatal; only context cancellation stops
// the walk early.
func sweepHosts(ctx context.Context, op, root string, hostRows []database.HostRow, timeout time.Duration) []database.HostResult {
	results := make([]database.HostResult, 0, len(hostRows))
	for _, h := range hostRows {
		res := sweepHost(ctx, op, root, h, timeout)
		if res.OK {
			common.InfoLog("fleet: %s host=%s ok (%.1fs)", op, h.Name, res.Duration.Seconds())
		} else {
			common.ErrorLog("fleet: %s host=%s failed: %s", op, h.Name, res.Error)
		}
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

func sweepHost(ctx context.Context, op, root string, h database.HostRow, timeout time.Duration) database.HostResult {
	start := time.Now()
	res := database.HostResult{Host: h.Name}

	dir := HostComposeDir(root, h)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		res.Error = fmt.Sprintf("compose dir missing: %s", dir)
		res.Duration = time.Since(start)
		return res
	}
	composes := FindComposeFiles(dir)
	if len(composes) == 0 {
		res.Error = fmt.Sprintf("no compose file in %s", dir)
		res.Duration = time.Since(start)
		return res
	}

	args, err := ComposeArgs(op, composes)
	if err != nil {
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := runCompose(hctx, dir, hostEnv(h), args...)
	res.Duration = time.Since(start)
	res.OutputTail = TailOutput(out, 10)
	if err != nil {
		res.Error = err.Error()
		database.ScanLog(ctx, h.ID, "error", "fleet "+op+" failed",
			map[string]any{"error": err.Error(), "dir": dir})
		return res
	}
	res.OK = true
	database.ScanLog(ctx, h.ID, "info", "fleet "+op+" ok", map[string]any{"dir": dir})
	return res
}

// FleetUp brings every host's stack up, one host at a time.
func FleetUp(ctx context.Context) (*database.FleetRun, error) { return FleetSweep(ctx, "up") }

// FleetDown tears every host's stack down, one host at a time.
func FleetDown(ctx context.Context) (*database.FleetRun, error) { return FleetSweep(ctx, "down") }

// DeployStack runs `docker compose -p <project> up -d` for one stack on one
// host, recording a deployment stamp. The stamp is history only; the command
// is issued on every call.
func DeployStack(ctx context.Context, hostName, project string) error {
	h, err := database.GetHostByName(ctx, hostName)
	if err != nil {
		return err
	}
	dir, composes, err := stackDir(h, project)
	if err != nil {
		return err
	}

	stackID, err := database.EnsureStack(ctx, h.ID, project, h.Owner)
	if err != nil {
		return err
	}
	stamp := stampDeploy(ctx, stackID, composes)

	args := []string{"compose", "-p", project}
	for _, f := range composes {
		args = append(args, "-f", f)
	}
	args = append(args, "up", "-d", "--remove-orphans")

	out, err := runCompose(ctx, dir, hostEnv(h), args...)
	if err != nil {
		if stamp != nil {
			_ = database.UpdateDeploymentStampStatus(ctx, stamp.ID, "failed")
		}
		common.ErrorLog("deploy: docker compose failed: %v\n----\n%s\n----", err, string(out))
		return fmt.Errorf("docker compose up failed: %v\n%s", err, string(out))
	}
	if stamp != nil {
		if uerr := database.UpdateDeploymentStampStatus(ctx, stamp.ID, "success"); uerr != nil {
			common.ErrorLog("deploy: failed to update deployment stamp status: %v", uerr)
		}
	}
	common.LogCommandOutput("deploy", out)
	common.InfoLog("deploy: host=%s project=%s deployed (files=%d)", hostName, project, len(composes))
	return nil
}

// DeployStackWithStream performs a deployment while streaming docker compose
// output as events. The channel is closed when the deploy finishes.
func DeployStackWithStream(ctx context.Context, hostName, project string, events chan<- map[string]any) error {
	defer close(events)

	send := func(eventType, message string) {
		select {
		case events <- map[string]any{"type": eventType, "message": message}:
		case <-ctx.Done():
		}
	}

	h, err := database.GetHostByName(ctx, hostName)
	if err != nil {
		send("error", err.Error())
		return err
	}
	dir, composes, err := stackDir(h, project)
	if err != nil {
		send("error", err.Error())
		return err
	}

	stackID, err := database.EnsureStack(ctx, h.ID, project, h.Owner)
	if err != nil {
		send("error", err.Error())
		return err
	}
	stamp := stampDeploy(ctx, stackID, composes)

	send("info", fmt.Sprintf("Starting deployment of stack %s on %s", project, hostName))

	args := []string{"compose", "-p", project}
	for _, f := range composes {
		args = append(args, "-f", f)
	}
	args = append(args, "up", "-d", "--remove-orphans")
	send("info", "Running: docker "+strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = dir
	cmd.Env = hostEnv(h)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		send("error", err.Error())
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		send("error", err.Error())
		return err
	}
	if err := cmd.Start(); err != nil {
		send("error", fmt.Sprintf("Failed to start docker compose: %v", err))
		if stamp != nil {
			_ = database.UpdateDeploymentStampStatus(ctx, stamp.ID, "failed")
		}
		return err
	}

	done := make(chan error, 2)
	stream := func(name string, r *bufio.Scanner) {
		for r.Scan() {
			if line := r.Text(); line != "" {
				send(name, line)
			}
		}
		done <- r.Err()
	}
	go stream("stdout", bufio.NewScanner(stdout))
	go stream("stderr", bufio.NewScanner(stderr))

	cmdErr := cmd.Wait()
	<-done
	<-done

	if cmdErr != nil {
		if stamp != nil {
			_ = database.UpdateDeploymentStampStatus(ctx, stamp.ID, "failed")
		}
		send("error", fmt.Sprintf("Docker compose failed: %v", cmdErr))
		return cmdErr
	}
	if stamp != nil {
		if uerr := database.UpdateDeploymentStampStatus(ctx, stamp.ID, "success"); uerr != nil {
			common.ErrorLog("deploy: failed to update deployment stamp status: %v", uerr)
		}
	}
	send("complete", fmt.Sprintf("Deployment of stack %s completed successfully", project))
	return nil
}

// stackDir resolves the working directory and compose files for one stack:
// <host dir>/<project> when it exists, else the host dir itself.
func stackDir(h database.HostRow, project string) (string, []string, error) {
	base := HostComposeDir(ComposeRoot(), h)
	dir := filepath.Join(base, project)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		dir = base
	}
	composes := FindComposeFiles(dir)
	if len(composes) == 0 {
		return "", nil, errors.New("deploy: no compose files in " + dir)
	}
	return dir, composes, nil
}

// stampDeploy records a pending stamp from the concatenated compose bundle.
// Best effort; a nil stamp never blocks the deploy.
func stampDeploy(ctx context.Context, stackID int64, composes []string) *database.DeploymentStamp {
	var bundle []byte
	for _, f := range composes {
		b, err := os.ReadFile(f)
		if err != nil {
			common.WarnLog("deploy: failed to read %s for stamping: %v", f, err)
			return nil
		}
		bundle = append(bundle, b...)
		bundle = append(bundle, '\n')
	}
	stamp, err := database.CreateDeploymentStamp(ctx, stackID, "compose", "", bundle)
	if err != nil {
		common.InfoLog("deploy: failed to create deployment stamp: %v", err)
		if existing, ferr := database.CheckDeploymentStampExists(ctx, stackID, bundle); ferr == nil && existing != nil {
			common.InfoLog("deploy: reusing existing deployment stamp %d", existing.ID)
			return existing
		}
		return nil
	}
	return stamp
}
