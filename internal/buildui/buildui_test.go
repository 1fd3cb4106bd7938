package buildui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLayerStatusString(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "building", StatusBuilding.String())
	assert.Equal(t, "cached", StatusCached.String())
	assert.Equal(t, "done", StatusDone.String())
	assert.Equal(t, "failed", StatusFailed.String())
}

func TestStdoutUILifecycleDoesNotPanic(t *testing.T) {
	ui := NewStdoutUI()
	assert.NoError(t, ui.Start())
	ui.LayerUpdate("debootstrap", StatusBuilding)
	ui.LogEvent("debootstrap", "running debootstrap")
	ui.Stop()
}

func TestNewScreenUIDefaultsAllLayersPending(t *testing.T) {
	ui := NewScreenUI()
	for _, l := range Layers {
		assert.Equal(t, StatusPending, ui.statuses[l])
	}
}

func TestColorForStatus(t *testing.T) {
	assert.Contains(t, colorForStatus(StatusDone), "done")
	assert.Contains(t, colorForStatus(StatusFailed), "failed")
	assert.Equal(t, "pending", colorForStatus(StatusPending))
}
