package services

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd/common"
)

const yamlInv = `
all:
  hosts:
    alpha:
      ansible_host: 10.0.0.1
      ansible_user: deploy
      owner: team-a
    beta:
      ansible_host: 10.0.0.2
    gamma: {}
`

func hostByName(hs []common.Host, name string) (common.Host, bool) {
	for _, h := range hs {
		if h.Name == name {
			return h, true
		}
	}
	return common.Host{}, false
}

func TestParseYAMLInventory(t *testing.T) {
	hs, err := parseYAMLInventory([]byte(yamlInv))
	require.NoError(t, err)
	require.Len(t, hs, 3)

	alpha, ok := hostByName(hs, "alpha")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", alpha.Addr)
	assert.Equal(t, "deploy", alpha.Vars["ansible_user"])
	assert.Equal(t, "team-a", alpha.Owner)

	gamma, ok := hostByName(hs, "gamma")
	require.True(t, ok)
	assert.Empty(t, gamma.Addr)
}

func TestParseYAMLInventoryNoHosts(t *testing.T) {
	_, err := parseYAMLInventory([]byte("all: {}\n"))
	assert.Error(t, err)
}

func TestParseINIInventory(t *testing.T) {
	ini := `
# fleet hosts
[workers]
alpha ansible_host=10.0.0.1 ansible_user=deploy
beta ansible_host=10.0.0.2
gamma
`
	hs, err := parseINIInventory([]byte(ini))
	require.NoError(t, err)
	require.Len(t, hs, 3)

	names := make([]string, 0, len(hs))
	for _, h := range hs {
		names = append(names, h.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, names)

	alpha, ok := hostByName(hs, "alpha")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", alpha.Addr)
	assert.Equal(t, "deploy", alpha.Vars["ansible_user"])
}

func TestParseINIInventoryRejectsYAML(t *testing.T) {
	flat := "hosts:\n  alpha:\n    ansible_host: 10.0.0.1\n"
	_, err := parseINIInventory([]byte(flat))
	assert.Error(t, err)
}

func TestDetectInventoryFormat(t *testing.T) {
	kind, hs, err := detectInventoryFormat([]byte(yamlInv))
	require.NoError(t, err)
	assert.Equal(t, "yaml", kind)
	assert.Len(t, hs, 3)

	kind, hs, err = detectInventoryFormat([]byte("alpha ansible_host=10.0.0.1\n"))
	require.NoError(t, err)
	assert.Equal(t, "ini", kind)
	assert.Len(t, hs, 1)

	// lenient top-level hosts: form
	flat := "hosts:\n  alpha:\n    ansible_host: 10.0.0.1\n"
	kind, hs, err = detectInventoryFormat([]byte(flat))
	require.NoError(t, err)
	assert.Equal(t, "yaml", kind)
	require.Len(t, hs, 1)
	assert.Equal(t, "10.0.0.1", hs[0].Addr)

	_, _, err = detectInventoryFormat([]byte("   \n"))
	assert.Error(t, err)
}

func TestInventoryPathConcurrentAccess(t *testing.T) {
	// reload (path write) racing the watcher (path read)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				setInventoryPath(fmt.Sprintf("/data/inv-%d-%d.yml", i, j))
				_ = InventoryPath()
			}
		}(i)
	}
	wg.Wait()

	assert.Contains(t, InventoryPath(), "/data/inv-")
}

func TestApplyOwnerDefault(t *testing.T) {
	t.Setenv("FLEETD_DEFAULT_OWNER", "platform")

	hs, err := parseYAMLInventory([]byte(yamlInv))
	require.NoError(t, err)

	alpha, _ := hostByName(hs, "alpha")
	assert.Equal(t, "team-a", alpha.Owner) // explicit var wins

	beta, _ := hostByName(hs, "beta")
	assert.Equal(t, "platform", beta.Owner)
}
