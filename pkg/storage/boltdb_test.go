package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nortis/idverify/pkg/storage"
	"github.com/nortis/idverify/pkg/types"
)

func newStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateBatchAndClaimOrdering(t *testing.T) {
	store := newStore(t)

	batch, err := store.CreateBatch("tenant-a", "batch.csv", []string{"10000001", "10000002", "10000003"})
	require.NoError(t, err)
	assert.Equal(t, 3, batch.DeclaredRecordCount)

	rec, ok, err := store.Claim("tenant-a", types.Pending, types.ProcessingA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10000001", rec.Key)
	assert.Equal(t, types.ProcessingA, rec.State)

	rec2, ok, err := store.Claim("tenant-a", types.Pending, types.ProcessingA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10000002", rec2.Key)
}

func TestClaimEmptyReturnsFalse(t *testing.T) {
	store := newStore(t)

	_, ok, err := store.Claim("tenant-a", types.Pending, types.ProcessingA)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimScopedPerTenant(t *testing.T) {
	store := newStore(t)

	_, err := store.CreateBatch("tenant-a", "a.csv", []string{"10000001"})
	require.NoError(t, err)

	_, ok, err := store.Claim("tenant-b", types.Pending, types.ProcessingA)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSettleFoundTransitionsAndStoresPayload(t *testing.T) {
	store := newStore(t)
	_, err := store.CreateBatch("tenant-a", "a.csv", []string{"10000001"})
	require.NoError(t, err)

	rec, _, err := store.Claim("tenant-a", types.Pending, types.ProcessingA)
	require.NoError(t, err)

	ok, err := store.Settle(rec.ID, types.ProcessingA, types.FoundA, types.Payload{"name": "Alice"}, "")
	require.NoError(t, err)
	assert.True(t, ok)

	counts, err := store.Counts("tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.FoundA])
}

func TestSettleNoOpIfNotInExpectedState(t *testing.T) {
	store := newStore(t)
	_, err := store.CreateBatch("tenant-a", "a.csv", []string{"10000001"})
	require.NoError(t, err)

	rec, _, err := store.Claim("tenant-a", types.Pending, types.ProcessingA)
	require.NoError(t, err)

	ok, err := store.Settle(rec.ID, types.ProcessingB, types.FoundB, nil, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecoverDemotesStrandedRecords(t *testing.T) {
	store := newStore(t)
	_, err := store.CreateBatch("tenant-a", "a.csv", []string{"10000001", "10000002"})
	require.NoError(t, err)

	_, _, err = store.Claim("tenant-a", types.Pending, types.ProcessingA)
	require.NoError(t, err)

	n, err := store.Recover("tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := store.Counts("tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[types.Pending])
	assert.Equal(t, 0, counts[types.ProcessingA])
}

func TestRetryFailedRequeuesAndIncrementsCount(t *testing.T) {
	store := newStore(t)
	_, err := store.CreateBatch("tenant-a", "a.csv", []string{"10000001"})
	require.NoError(t, err)

	rec, _, err := store.Claim("tenant-a", types.Pending, types.ProcessingA)
	require.NoError(t, err)
	_, err = store.Settle(rec.ID, types.ProcessingA, types.ErrorA, nil, "exhausted")
	require.NoError(t, err)

	n, err := store.RetryFailed("tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := store.Counts("tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.Pending])
}

func TestMigrateLegacyTenantIsIdempotent(t *testing.T) {
	store := newStore(t)
	_, err := store.CreateBatch("", "legacy.csv", []string{"10000001"})
	require.NoError(t, err)

	n, err := store.MigrateLegacyTenant()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.MigrateLegacyTenant()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	counts, err := store.Counts(types.LegacyTenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.Pending])
}
