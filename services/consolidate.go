package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"fleetd/common"
	"fleetd/database"
	"fleetd/utils"
)

// Host load classification.
const (
	LoadNormal      = "normal"
	LoadOverloaded  = "overloaded"
	LoadUnderloaded = "underloaded"
)

// Thresholds are the static load boundaries, percentages.
type Thresholds struct {
	MaxCPU float64
	MinCPU float64
	MaxMem float64
	MinMem float64
}

// ThresholdsFromEnv reads the boundaries, defaulting to 55 high / 20 low.
func ThresholdsFromEnv() Thresholds {
	return Thresholds{
		MaxCPU: common.EnvFloat("FLEETD_CONSOLIDATE_CPU_HIGH", 55),
		MinCPU: common.EnvFloat("FLEETD_CONSOLIDATE_CPU_LOW", 20),
		MaxMem: common.EnvFloat("FLEETD_CONSOLIDATE_MEM_HIGH", 55),
		MinMem: common.EnvFloat("FLEETD_CONSOLIDATE_MEM_LOW", 20),
	}
}

// Classify buckets a host by its average utilization. Either resource over
// its high threshold makes the host overloaded; both under their low
// thresholds makes it underloaded.
func Classify(avgCPU, avgMem float64, thr Thresholds) string {
	if avgCPU > thr.MaxCPU || avgMem > thr.MaxMem {
		return LoadOverloaded
	}
	if avgCPU < thr.MinCPU && avgMem < thr.MinMem {
		return LoadUnderloaded
	}
	return LoadNormal
}

// HostLoad is the sampled utilization of one host.
type HostLoad struct {
	Host       string    `json:"host"`
	CPU        float64   `json:"cpu_percent"`
	Mem        float64   `json:"mem_percent"`
	Status     string    `json:"status"`
	Containers int       `json:"containers"`
	SampledAt  time.Time `json:"sampled_at"`
}

// MigrationTask is one container queued for migration off an overloaded host.
type MigrationTask struct {
	Host        string    `json:"host"`
	ContainerID string    `json:"container_id"`
	Name        string    `json:"name"`
	CPU         float64   `json:"cpu_percent"`
	Mem         float64   `json:"mem_percent"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Consolidator watches per-host container load and migrates the hottest
// container off overloaded hosts. FIFO queue, deduplicated by container ID.
type Consolidator struct {
	mu     sync.Mutex
	loads  map[string]HostLoad
	queue  []MigrationTask
	queued map[string]bool

	thr Thresholds
}

var consolidator = &Consolidator{
	loads:  make(map[string]HostLoad),
	queued: make(map[string]bool),
	thr:    ThresholdsFromEnv(),
}

// GetConsolidator returns the process-wide consolidator.
func GetConsolidator() *Consolidator { return consolidator }

// Loads returns the last sampled load per host, name order.
func (c *Consolidator) Loads() []HostLoad {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]HostLoad, 0, len(c.loads))
	for _, l := range c.loads {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// Queue returns a snapshot of the pending migrations.
func (c *Consolidator) Queue() []MigrationTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MigrationTask, len(c.queue))
	copy(out, c.queue)
	return out
}

func (c *Consolidator) setLoad(l HostLoad) {
	c.mu.Lock()
	c.loads[l.Host] = l
	c.mu.Unlock()
}

func (c *Consolidator) enqueue(t MigrationTask) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queued[t.ContainerID] {
		return false
	}
	c.queued[t.ContainerID] = true
	c.queue = append(c.queue, t)
	return true
}

func (c *Consolidator) dequeue() (MigrationTask, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return MigrationTask{}, false
	}
	t := c.queue[0]
	c.queue = c.queue[1:]
	delete(c.queued, t.ContainerID)
	return t, true
}

// pickTarget chooses the least loaded underloaded host, else the source
// host itself.
func (c *Consolidator) pickTarget(source string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	best := source
	bestScore := -1.0
	for name, l := range c.loads {
		if name == source || l.Status != LoadUnderloaded {
			continue
		}
		score := l.CPU + l.Mem
		if bestScore < 0 || score < bestScore {
			bestScore = score
			best = name
		}
	}
	return best
}

// StartConsolidator launches the monitor and migration loops.
func StartConsolidator(ctx context.Context) {
	if !common.EnvBool("FLEETD_CONSOLIDATE_AUTO", "false") {
		common.InfoLog("consolidate: disabled (FLEETD_CONSOLIDATE_AUTO=false)")
		return
	}
	monitorEvery := common.EnvDuration("FLEETD_CONSOLIDATE_INTERVAL", "3s")
	migrateEvery := common.EnvDuration("FLEETD_CONSOLIDATE_MIGRATE_INTERVAL", "2s")
	common.InfoLog("consolidate: enabled monitor=%s migrate=%s thresholds=%+v",
		monitorEvery, migrateEvery, consolidator.thr)

	go consolidator.monitorLoop(ctx, monitorEvery)
	go consolidator.migrateLoop(ctx, migrateEvery)
}

func (c *Consolidator) monitorLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			common.InfoLog("consolidate: monitor stopping: %v", ctx.Err())
			return
		case <-t.C:
			c.sampleAllHosts(ctx)
		}
	}
}

func (c *Consolidator) sampleAllHosts(ctx context.Context) {
	hostRows, err := database.ListHosts(ctx)
	if err != nil {
		common.ErrorLog("consolidate: list hosts failed: %v", err)
		return
	}
	for _, h := range hostRows {
		if err := c.sampleHost(ctx, h); err != nil {
			if !errors.Is(err, ErrSkipScan) {
				common.DebugLog("consolidate: sample host=%s failed: %v", h.Name, err)
			}
		}
	}
}

// containerSample is one container's measured utilization.
type containerSample struct {
	ID   string
	Name string
	CPU  float64
	Mem  float64
}

func (c *Consolidator) sampleHost(ctx context.Context, h database.HostRow) error {
	url, sshCmd := DockerURLFor(h)
	if IsUnixSock(url) && !LocalHostAllowed(h) {
		return ErrSkipScan
	}
	cli, done, err := DockerClientForURL(ctx, url, sshCmd)
	if err != nil {
		return err
	}
	defer done()

	list, err := cli.ContainerList(ctx, container.ListOptions{Filters: filters.NewArgs()})
	if err != nil {
		return err
	}

	samples := make([]containerSample, 0, len(list))
	var totalCPU, totalMem float64
	for _, ctr := range list {
		s, err := oneShotStats(ctx, cli, ctr.ID)
		if err != nil {
			common.DebugLog("consolidate: stats %s failed: %v", ctr.ID, err)
			continue
		}
		name := ""
		if len(ctr.Names) > 0 {
			name = trimSlash(ctr.Names[0])
		}
		cs := containerSample{
			ID:   ctr.ID,
			Name: name,
			CPU:  utils.CPUPercent(s),
			Mem:  utils.MemPercent(s),
		}
		samples = append(samples, cs)
		totalCPU += cs.CPU
		totalMem += cs.Mem
	}

	load := HostLoad{Host: h.Name, Status: LoadNormal, Containers: len(samples), SampledAt: time.Now()}
	if len(samples) > 0 {
		load.CPU = totalCPU / float64(len(samples))
		load.Mem = totalMem / float64(len(samples))
		load.Status = Classify(load.CPU, load.Mem, c.thr)
	}
	c.setLoad(load)

	common.InfoLog("consolidate: host=%s status=%s avg_cpu=%.2f%% avg_mem=%.2f%%",
		h.Name, load.Status, load.CPU, load.Mem)

	if load.Status == LoadOverloaded && len(samples) > 0 {
		hottest := hottestContainer(samples)
		task := MigrationTask{
			Host:        h.Name,
			ContainerID: hottest.ID,
			Name:        hottest.Name,
			CPU:         hottest.CPU,
			Mem:         hottest.Mem,
			EnqueuedAt:  time.Now(),
		}
		if c.enqueue(task) {
			database.ScanLog(ctx, h.ID, "warn", "host overloaded, container queued for migration",
				map[string]any{"container": hottest.Name, "cpu": hottest.CPU, "mem": hottest.Mem})
		}
	}
	return nil
}

// hottestContainer picks the sample with the highest combined utilization.
func hottestContainer(samples []containerSample) containerSample {
	best := samples[0]
	for _, s := range samples[1:] {
		if s.CPU+s.Mem > best.CPU+best.Mem {
			best = s
		}
	}
	return best
}

func (c *Consolidator) migrateLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			common.InfoLog("consolidate: migration worker stopping: %v", ctx.Err())
			return
		case <-t.C:
			task, ok := c.dequeue()
			if !ok {
				continue
			}
			if err := c.migrate(ctx, task); err != nil {
				common.ErrorLog("consolidate: migration of %s failed: %v", task.Name, err)
			}
		}
	}
}

// migrate stops the container, commits its state to a migrated-* image and
// starts a replacement from that image. The replacement runs on the source
// host; the selected target is reported, but cross-host placement needs a
// shared registry the image was never pushed to.
func (c *Consolidator) migrate(ctx context.Context, task MigrationTask) error {
	h, err := database.GetHostByName(ctx, task.Host)
	if err != nil {
		return err
	}
	cli, done, err := DockerClientForHost(ctx, h)
	if err != nil {
		return err
	}
	defer done()

	target := c.pickTarget(task.Host)
	if target != task.Host {
		common.InfoLog("consolidate: selected target host %s for %s (placement stays on %s without a shared registry)",
			target, task.Name, task.Host)
	}

	timeout := 10
	if err := cli.ContainerStop(ctx, task.ContainerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop %s: %w", task.Name, err)
	}
	common.InfoLog("consolidate: stopped %s for migration", task.Name)
	database.ScanLog(ctx, h.ID, "info", "stopped container for migration", map[string]any{"container": task.Name})

	commit, err := cli.ContainerCommit(ctx, task.ContainerID, container.CommitOptions{
		Reference: "migrated-" + task.Name,
	})
	if err != nil {
		return fmt.Errorf("commit %s: %w", task.Name, err)
	}
	common.InfoLog("consolidate: committed %s to image %s", task.Name, commit.ID)

	created, err := cli.ContainerCreate(ctx,
		&container.Config{Image: commit.ID},
		nil, nil, nil, "migrated-"+task.Name)
	if err != nil {
		return fmt.Errorf("create replacement for %s: %w", task.Name, err)
	}
	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start replacement for %s: %w", task.Name, err)
	}

	common.InfoLog("consolidate: migrated %s to migrated-%s on %s", task.Name, task.Name, target)
	database.ScanLog(ctx, h.ID, "info", "container migrated",
		map[string]any{"container": task.Name, "image": commit.ID, "target": target})
	return nil
}

func oneShotStats(ctx context.Context, cli *client.Client, ctr string) (container.StatsResponse, error) {
	var s container.StatsResponse
	resp, err := cli.ContainerStats(ctx, ctr, false)
	if err != nil {
		return s, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return s, err
	}
	return s, nil
}

func trimSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}
