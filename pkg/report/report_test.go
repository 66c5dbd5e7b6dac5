package report_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nortis/idverify/pkg/report"
	"github.com/nortis/idverify/pkg/storage"
	"github.com/nortis/idverify/pkg/types"
)

func TestStatusComputesDerivedFields(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.CreateBatch("tenant-a", "a.csv", []string{"10000001", "10000002"})
	require.NoError(t, err)

	rec, _, err := store.Claim("tenant-a", types.Pending, types.ProcessingA)
	require.NoError(t, err)
	_, err = store.Settle(rec.ID, types.ProcessingA, types.FoundA, types.Payload{"name": "Alice"}, "")
	require.NoError(t, err)

	svc := report.New(store)
	status, err := svc.Status("tenant-a")
	require.NoError(t, err)

	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 1, status.Completed)
	assert.Equal(t, 0, status.InProgress)
	assert.InDelta(t, 50.0, status.ProgressPercent, 0.001)
}

func TestExportFlattensPayloadFields(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.CreateBatch("tenant-a", "a.csv", []string{"10000001"})
	require.NoError(t, err)

	rec, _, err := store.Claim("tenant-a", types.Pending, types.ProcessingA)
	require.NoError(t, err)
	_, err = store.Settle(rec.ID, types.ProcessingA, types.FoundA, types.Payload{"name": "Alice", "grade": "A"}, "")
	require.NoError(t, err)

	svc := report.New(store)
	rows, err := svc.Export("tenant-a")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice", rows[0].AName)
	assert.Equal(t, "A", rows[0].AGrade)
	assert.Equal(t, "", rows[0].BName)
}

func TestExportEmptyTenantReturnsNoRows(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := report.New(store)
	rows, err := svc.Export("tenant-a")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
