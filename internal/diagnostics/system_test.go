package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectNeverPanicsAndFillsHardwareInfo(t *testing.T) {
	c := NewCollector()

	first := c.Collect()
	second := c.Collect()

	// Hardware identity is cached across calls.
	assert.Equal(t, first.CPUModel, second.CPUModel)
	assert.Equal(t, first.CPUCores, second.CPUCores)

	// CPU percent needs a delta, so only the second sample can be non-zero.
	assert.GreaterOrEqual(t, second.CPUPercent, 0.0)
	assert.LessOrEqual(t, second.CPUPercent, 100.0)
}

func TestCollectMemoryAndDiskAreSane(t *testing.T) {
	m := NewCollector().Collect()

	if m.MemTotalMB > 0 {
		assert.LessOrEqual(t, m.MemUsedMB, m.MemTotalMB)
	}
	if m.DiskTotalGB > 0 {
		assert.LessOrEqual(t, m.DiskUsedGB, m.DiskTotalGB)
	}
}
