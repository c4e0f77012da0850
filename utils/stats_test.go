package utils

import (
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statsSample(totalUsage, preTotal, sysUsage, preSys uint64, onlineCPUs uint32) container.StatsResponse {
	var s container.StatsResponse
	s.CPUStats.CPUUsage.TotalUsage = totalUsage
	s.PreCPUStats.CPUUsage.TotalUsage = preTotal
	s.CPUStats.SystemUsage = sysUsage
	s.PreCPUStats.SystemUsage = preSys
	s.CPUStats.OnlineCPUs = onlineCPUs
	return s
}

func TestCPUPercent(t *testing.T) {
	// 100ms of CPU over 1s of system time on 4 CPUs = 40%
	s := statsSample(200_000_000, 100_000_000, 2_000_000_000, 1_000_000_000, 4)
	assert.InDelta(t, 40.0, CPUPercent(s), 0.001)
}

func TestCPUPercentFirstSample(t *testing.T) {
	// no pre-read sample yet
	s := statsSample(100_000_000, 0, 1_000_000_000, 1_000_000_000, 4)
	assert.Zero(t, CPUPercent(s))
}

func TestCPUPercentPercpuFallback(t *testing.T) {
	s := statsSample(200_000_000, 100_000_000, 2_000_000_000, 1_000_000_000, 0)
	s.CPUStats.CPUUsage.PercpuUsage = []uint64{1, 2}
	assert.InDelta(t, 20.0, CPUPercent(s), 0.001)

	s.CPUStats.CPUUsage.PercpuUsage = nil
	assert.Zero(t, CPUPercent(s))
}

func TestMemPercent(t *testing.T) {
	var s container.StatsResponse
	s.MemoryStats.Usage = 256 * 1024 * 1024
	s.MemoryStats.Limit = 1024 * 1024 * 1024
	assert.InDelta(t, 25.0, MemPercent(s), 0.001)

	s.MemoryStats.Limit = 0
	assert.Zero(t, MemPercent(s))
}

func TestFlattenPorts(t *testing.T) {
	pm := nat.PortMap{
		"80/tcp": []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: "8080"},
		},
		"53/udp": nil,
	}
	out := FlattenPorts(pm)
	require.Len(t, out, 2)

	byPrivate := map[int]map[string]any{}
	for _, p := range out {
		byPrivate[p["PrivatePort"].(int)] = p
	}

	web := byPrivate[80]
	require.NotNil(t, web)
	assert.Equal(t, "0.0.0.0", web["IP"])
	assert.Equal(t, 8080, web["PublicPort"])
	assert.Equal(t, "tcp", web["Type"])

	dns := byPrivate[53]
	require.NotNil(t, dns)
	assert.Equal(t, 0, dns["PublicPort"])
	assert.Equal(t, "udp", dns["Type"])
}
