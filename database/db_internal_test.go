package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateDeploymentHash(t *testing.T) {
	a := generateDeploymentHash([]byte("services: {}\n"))
	b := generateDeploymentHash([]byte("services: {}\n"))
	c := generateDeploymentHash([]byte("services:\n  web: {}\n"))

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDeriveComposeMeta(t *testing.T) {
	t.Run("stack project wins", func(t *testing.T) {
		proj := "from-stack"
		cr := ContainerRow{Labels: map[string]string{
			"com.docker.compose.project": "from-label",
			"com.docker.compose.service": "web",
		}}
		deriveComposeMeta(&cr, &proj)
		assert.Equal(t, "from-stack", cr.ComposeProj)
		assert.Equal(t, "web", cr.ComposeSvc)
	})

	t.Run("compose label", func(t *testing.T) {
		cr := ContainerRow{Labels: map[string]string{
			"com.docker.compose.project": "from-label",
		}}
		deriveComposeMeta(&cr, nil)
		assert.Equal(t, "from-label", cr.ComposeProj)
	})

	t.Run("swarm namespace fallback", func(t *testing.T) {
		cr := ContainerRow{Labels: map[string]string{
			"com.docker.stack.namespace": "swarm-ns",
		}}
		deriveComposeMeta(&cr, nil)
		assert.Equal(t, "swarm-ns", cr.ComposeProj)
	})

	t.Run("no labels", func(t *testing.T) {
		cr := ContainerRow{Labels: map[string]string{}}
		deriveComposeMeta(&cr, nil)
		assert.Empty(t, cr.ComposeProj)
		assert.Empty(t, cr.ComposeSvc)
	})
}

func TestScanHostRowVars(t *testing.T) {
	var h HostRow
	scanHostRow(&h, []byte(`{"ansible_user":"deploy","compose_dir":"alpha"}`))
	assert.Equal(t, "deploy", h.Vars["ansible_user"])
	assert.Equal(t, "alpha", h.Vars["compose_dir"])

	var empty HostRow
	scanHostRow(&empty, nil)
	assert.NotNil(t, empty.Vars)
}
