package orchestrator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nortis/idverify/pkg/orchestrator"
	"github.com/nortis/idverify/pkg/stage/fakestage"
	"github.com/nortis/idverify/pkg/storage"
	"github.com/nortis/idverify/pkg/types"
)

func TestOrchestratorProcessesRecordThroughBothStages(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.CreateBatch("tenant-a", "a.csv", []string{"10000002"})
	require.NoError(t, err)

	procA := fakestage.NewProcessor("A", map[string]fakestage.Outcome{
		"10000002": {Found: false, Reason: "no hit"},
	})
	procB := fakestage.NewProcessor("B", map[string]fakestage.Outcome{
		"10000002": {Found: true, Payload: types.Payload{"title": "Bob"}},
	})

	timing := orchestrator.Timing{
		PollInterval: 10 * time.Millisecond,
		JitterAMin:   time.Millisecond,
		JitterAMax:   2 * time.Millisecond,
		JitterBMin:   time.Millisecond,
		JitterBMax:   2 * time.Millisecond,
	}

	orch := orchestrator.New("tenant-a", store, nil, fakestage.NewFactory(), procA, procB, timing)
	orch.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		counts, err := store.Counts("tenant-a")
		require.NoError(t, err)
		if counts[types.FoundB] == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	orch.Stop()

	counts, err := store.Counts("tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.FoundB])
	assert.False(t, orch.IsRunning())
}

func TestOrchestratorStartIsIdempotentWhileRunning(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	timing := orchestrator.Timing{PollInterval: 10 * time.Millisecond}
	orch := orchestrator.New("tenant-a", store, nil, fakestage.NewFactory(), fakestage.NewProcessor("A", nil), fakestage.NewProcessor("B", nil), timing)

	orch.Start()
	orch.Start()
	assert.True(t, orch.IsRunning())
	orch.Stop()
	assert.False(t, orch.IsRunning())
}
