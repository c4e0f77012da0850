package services

import (
	"context"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"fleetd/common"
	"fleetd/database"
	"fleetd/utils"
)

// containerRecord is one scanned container flattened into the shape the
// containers table stores.
type containerRecord struct {
	ID       string
	Name     string
	Image    string
	State    string
	Status   string
	Project  string
	IP       string
	Created  *time.Time
	Ports    []map[string]any
	Labels   map[string]string
	Env      []string
	Networks any
	Mounts   any
}

// ScanHostContainers connects to a host's Docker endpoint, inspects every
// container and persists the result. Returns the number of rows saved.
func ScanHostContainers(ctx context.Context, hostName string) (int, error) {
	h, err := database.GetHostByName(ctx, hostName)
	if err != nil {
		return 0, err
	}
	url, sshCmd := DockerURLFor(h)

	// a single local sock only ever represents one host
	if IsUnixSock(url) && !LocalHostAllowed(h) {
		database.ScanLog(ctx, h.ID, "info", "skip local sock for non-local host",
			map[string]any{"url": url, "host": h.Name})
		return 0, ErrSkipScan
	}
	if common.EnvBool("FLEETD_SCAN_DEBUG", "false") {
		common.InfoLog("scan: host=%s docker_url=%s", h.Name, url)
	}

	cli, done, err := DockerClientForURL(ctx, url, sshCmd)
	if err != nil {
		database.ScanLog(ctx, h.ID, "error", "docker connect failed",
			map[string]any{"error": err.Error(), "url": url})
		return 0, err
	}
	defer done()

	list, err := cli.ContainerList(ctx, container.ListOptions{All: true, Filters: filters.NewArgs()})
	if err != nil {
		database.ScanLog(ctx, h.ID, "error", "container list failed", map[string]any{"error": err.Error()})
		return 0, err
	}

	seen := make([]string, 0, len(list))
	saved := 0
	for _, c := range list {
		seen = append(seen, c.ID)

		rec, err := inspectContainer(ctx, cli, c)
		if err != nil {
			database.ScanLog(ctx, h.ID, "warn", "inspect failed",
				map[string]any{"id": c.ID, "error": err.Error()})
			continue
		}
		if err := saveContainer(ctx, h, rec); err != nil {
			database.ScanLog(ctx, h.ID, "error", "upsert container failed",
				map[string]any{"name": rec.Name, "id": rec.ID, "error": err.Error()})
			continue
		}
		saved++
		database.ScanLog(ctx, h.ID, "info", "container discovered",
			map[string]any{"name": rec.Name, "image": rec.Image, "state": rec.State,
				"status": rec.Status, "project": rec.Project})
	}

	// rows whose container is gone get removed, not left to rot
	if pruned, err := database.PruneMissingContainers(ctx, h.ID, seen); err == nil && pruned > 0 {
		database.ScanLog(ctx, h.ID, "info", "pruned missing containers", map[string]any{"count": pruned})
	}

	database.ScanLog(ctx, h.ID, "info", "scan complete", map[string]any{"containers": saved})
	return saved, nil
}

// inspectContainer flattens the inspect response into a containerRecord.
func inspectContainer(ctx context.Context, cli *client.Client, c container.Summary) (containerRecord, error) {
	ci, err := cli.ContainerInspect(ctx, c.ID)
	if err != nil {
		return containerRecord{}, err
	}

	rec := containerRecord{
		ID:       c.ID,
		Image:    c.Image,
		State:    c.State,
		Status:   c.Status,
		Labels:   map[string]string{},
		Networks: map[string]any{},
		Mounts:   ci.Mounts,
	}
	if len(c.Names) > 0 {
		rec.Name = strings.TrimPrefix(c.Names[0], "/")
	}
	if ci.Config != nil {
		if ci.Config.Labels != nil {
			rec.Labels = ci.Config.Labels
		}
		rec.Env = ci.Config.Env
	}
	rec.Project = composeProjectFrom(rec.Labels)
	rec.Created = containerCreatedAt(ci.Created, c.Created)

	if ns := ci.NetworkSettings; ns != nil {
		if ns.Ports != nil {
			rec.Ports = utils.FlattenPorts(ns.Ports)
		}
		if ns.Networks != nil {
			rec.Networks = ns.Networks
		}
		rec.IP = ns.IPAddress
		if rec.IP == "" {
			for _, ep := range ns.Networks {
				if ep != nil && ep.IPAddress != "" {
					rec.IP = ep.IPAddress
					break
				}
			}
		}
	}
	return rec, nil
}

// composeProjectFrom reads the compose project off the labels, falling back
// to the swarm stack namespace.
func composeProjectFrom(labels map[string]string) string {
	if p := labels["com.docker.compose.project"]; p != "" {
		return p
	}
	return labels["com.docker.stack.namespace"]
}

// containerCreatedAt prefers the inspect timestamp over the list epoch.
func containerCreatedAt(inspected string, listed int64) *time.Time {
	if inspected != "" {
		if t, err := time.Parse(time.RFC3339Nano, inspected); err == nil {
			return &t
		}
	}
	if listed > 0 {
		t := time.Unix(listed, 0).UTC()
		return &t
	}
	return nil
}

// saveContainer resolves the record's stack, if any, and upserts the row.
// A failed stack ensure degrades to an unstacked row rather than dropping
// the container.
func saveContainer(ctx context.Context, h database.HostRow, rec containerRecord) error {
	var stackID *int64
	if rec.Project != "" {
		if sid, err := database.EnsureStack(ctx, h.ID, rec.Project, h.Owner); err == nil {
			stackID = &sid
		} else {
			database.ScanLog(ctx, h.ID, "warn", "ensure stack failed",
				map[string]any{"project": rec.Project, "error": err.Error()})
		}
	}
	return database.UpsertContainer(
		ctx, h.ID, stackID, rec.ID, rec.Name, rec.Image, rec.State, rec.Status, h.Owner,
		rec.Created, rec.IP, rec.Ports, rec.Labels, rec.Env, rec.Networks, rec.Mounts,
	)
}
