package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	thr := Thresholds{MaxCPU: 55, MinCPU: 20, MaxMem: 55, MinMem: 20}

	tests := []struct {
		name string
		cpu  float64
		mem  float64
		want string
	}{
		{"idle host", 5, 10, LoadUnderloaded},
		{"cpu hot", 80, 30, LoadOverloaded},
		{"mem hot", 30, 90, LoadOverloaded},
		{"both hot", 90, 90, LoadOverloaded},
		{"steady", 40, 40, LoadNormal},
		{"cpu low mem normal", 10, 40, LoadNormal},
		{"exactly at high threshold", 55, 55, LoadNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.cpu, tt.mem, thr))
		})
	}
}

func TestHottestContainer(t *testing.T) {
	samples := []containerSample{
		{ID: "a", Name: "web", CPU: 10, Mem: 20},
		{ID: "b", Name: "db", CPU: 50, Mem: 45},
		{ID: "c", Name: "cache", CPU: 60, Mem: 5},
	}
	assert.Equal(t, "b", hottestContainer(samples).ID)
}

func newTestConsolidator() *Consolidator {
	return &Consolidator{
		loads:  make(map[string]HostLoad),
		queued: make(map[string]bool),
		thr:    Thresholds{MaxCPU: 55, MinCPU: 20, MaxMem: 55, MinMem: 20},
	}
}

func TestQueueFIFOAndDedup(t *testing.T) {
	c := newTestConsolidator()

	assert.True(t, c.enqueue(MigrationTask{ContainerID: "a", Name: "one"}))
	assert.True(t, c.enqueue(MigrationTask{ContainerID: "b", Name: "two"}))
	// same container again while still queued
	assert.False(t, c.enqueue(MigrationTask{ContainerID: "a", Name: "one"}))

	require.Len(t, c.Queue(), 2)

	first, ok := c.dequeue()
	require.True(t, ok)
	assert.Equal(t, "a", first.ContainerID)

	// dequeued containers may be enqueued again
	assert.True(t, c.enqueue(MigrationTask{ContainerID: "a", Name: "one"}))

	second, ok := c.dequeue()
	require.True(t, ok)
	assert.Equal(t, "b", second.ContainerID)

	third, ok := c.dequeue()
	require.True(t, ok)
	assert.Equal(t, "a", third.ContainerID)

	_, ok = c.dequeue()
	assert.False(t, ok)
}

func TestPickTarget(t *testing.T) {
	c := newTestConsolidator()
	now := time.Now()
	c.setLoad(HostLoad{Host: "alpha", CPU: 80, Mem: 70, Status: LoadOverloaded, SampledAt: now})
	c.setLoad(HostLoad{Host: "beta", CPU: 10, Mem: 12, Status: LoadUnderloaded, SampledAt: now})
	c.setLoad(HostLoad{Host: "gamma", CPU: 5, Mem: 8, Status: LoadUnderloaded, SampledAt: now})
	c.setLoad(HostLoad{Host: "delta", CPU: 40, Mem: 40, Status: LoadNormal, SampledAt: now})

	// least loaded underloaded host wins
	assert.Equal(t, "gamma", c.pickTarget("alpha"))

	// the source itself is never the target unless nothing else qualifies
	assert.Equal(t, "beta", c.pickTarget("gamma"))
}

func TestPickTargetFallsBackToSource(t *testing.T) {
	c := newTestConsolidator()
	c.setLoad(HostLoad{Host: "alpha", CPU: 80, Mem: 70, Status: LoadOverloaded})
	c.setLoad(HostLoad{Host: "beta", CPU: 50, Mem: 50, Status: LoadNormal})

	assert.Equal(t, "alpha", c.pickTarget("alpha"))
}

func TestLoadsSortedByHost(t *testing.T) {
	c := newTestConsolidator()
	c.setLoad(HostLoad{Host: "zulu"})
	c.setLoad(HostLoad{Host: "alpha"})
	c.setLoad(HostLoad{Host: "mike"})

	loads := c.Loads()
	require.Len(t, loads, 3)
	assert.Equal(t, "alpha", loads[0].Host)
	assert.Equal(t, "mike", loads[1].Host)
	assert.Equal(t, "zulu", loads[2].Host)
}
