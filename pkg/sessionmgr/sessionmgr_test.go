package sessionmgr_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nortis/idverify/pkg/sessionmgr"
)

func TestCanStartRespectsGlobalBudget(t *testing.T) {
	m := sessionmgr.New(4, time.Hour)

	assert.True(t, m.CanStart(2))
	m.RegisterWorkers("tenant-a", 2)
	assert.True(t, m.CanStart(2))
	m.RegisterWorkers("tenant-b", 2)
	assert.False(t, m.CanStart(2))
}

func TestUnregisterWorkersFreesBudget(t *testing.T) {
	m := sessionmgr.New(2, time.Hour)

	m.RegisterWorkers("tenant-a", 2)
	assert.False(t, m.CanStart(2))

	m.UnregisterWorkers("tenant-a")
	assert.True(t, m.CanStart(2))
}

func TestStatsReportsGlobalCounts(t *testing.T) {
	m := sessionmgr.New(10, time.Hour)

	m.Touch("tenant-a")
	m.RegisterWorkers("tenant-a", 2)
	m.Touch("tenant-b")

	stats := m.Stats()
	assert.Equal(t, 2, stats.TotalWorkers)
	assert.Equal(t, 10, stats.MaxWorkers)
	assert.Equal(t, 2, stats.ActiveSessions)
}

func TestGetOrchestratorAbsentByDefault(t *testing.T) {
	m := sessionmgr.New(10, time.Hour)

	_, ok := m.GetOrchestrator("tenant-a")
	assert.False(t, ok)
}
