package storage

import "github.com/nortis/idverify/pkg/types"

// Store is the Record Store and Batch Store interface: durable
// persistence, the atomic claim/settle/rec/retry operations, and the
// read-side projection queries. Every operation that mutates state is a
// single committed transaction; a failed transaction leaves state
// unchanged.
type Store interface {
	// CreateBatch inserts a Batch row and one Pending Record per key in a
	// single transaction. Keys must already be cleaned, validated, and
	// de-duplicated (see pkg/ingest) — the store does not re-validate them.
	CreateBatch(tenantID, sourceFilename string, keys []string) (*types.Batch, error)

	// Claim performs the atomic select-and-update: the smallest
	// record-id in `source` state for the tenant is moved to
	// `processing`, inside a single write transaction. Returns
	// (nil, false, nil) if no eligible row exists.
	Claim(tenantID string, source, processing types.State) (*types.Record, bool, error)

	// Settle moves a record from `processing` to `to`, optionally
	// writing a payload (Found) or a last-error-message (NotFound /
	// Exhausted / worker error). It is a no-op, reporting false, if the
	// record is no longer in the expected processing state.
	Settle(recordID uint64, processing, to types.State, payload types.Payload, reason string) (bool, error)

	// Recover applies the `rec` transition to every record of the tenant
	// currently in a processing state: Processing-A -> Pending,
	// Processing-B -> Check-B. Returns the number of records demoted.
	Recover(tenantID string) (int, error)

	// RecoverAll runs Recover for every tenant with at least one record.
	// Intended for process-startup recovery.
	RecoverAll() (int, error)

	// RetryFailed moves every record of the tenant in {Not-Found,
	// Error-A, Error-B} back to Pending, incrementing retry-count and
	// clearing payloads and last-error-message.
	RetryFailed(tenantID string) (int, error)

	// Counts returns the count of records in each state for the tenant.
	Counts(tenantID string) (map[types.State]int, error)

	// ListRecords returns a page of records for the tenant, optionally
	// filtered by state and/or batch, ordered by record-id ascending,
	// along with the total matching count.
	ListRecords(tenantID string, state *types.State, batchID *uint64, limit, offset int) ([]*types.Record, int, error)

	// ListBatches returns all batches for the tenant in reverse
	// chronological order.
	ListBatches(tenantID string) ([]*types.Batch, error)

	// AllRecords returns every record for the tenant ordered by
	// record-id ascending, for export flattening.
	AllRecords(tenantID string) ([]*types.Record, error)

	// Clean removes every Record and Batch belonging to the tenant.
	Clean(tenantID string) error

	// MigrateLegacyTenant is a one-shot, idempotent migration: any
	// record or batch persisted without a tenant-id is assigned
	// types.LegacyTenantID. Safe to call on every startup.
	MigrateLegacyTenant() (int, error)

	Close() error
}
