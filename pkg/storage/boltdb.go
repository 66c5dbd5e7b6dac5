package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/nortis/idverify/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketBatches  = []byte("batches")
	bucketRecords  = []byte("records")
	bucketByState  = []byte("records_by_state")
)

// BoltStore implements Store on top of a single bbolt file: one writer,
// many concurrent readers, MVCC transactions. Every claim/settle/rec/
// retry below is exactly one read-write transaction.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the data file at
// <dataDir>/idverify.db and ensures its buckets exist.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "idverify.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBatches, bucketRecords, bucketByState} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func idKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// stateIndexKey builds the (tenant-id, state, record-id) secondary-index
// key. Bytewise-sorted bbolt keys then give ascending record-id order
// for a fixed tenant+state prefix, which is exactly what claim needs.
func stateIndexKey(tenantID string, state types.State, recordID uint64) []byte {
	k := make([]byte, 0, len(tenantID)+1+len(state)+1+8)
	k = append(k, []byte(tenantID)...)
	k = append(k, 0)
	k = append(k, []byte(state)...)
	k = append(k, 0)
	k = append(k, idKey(recordID)...)
	return k
}

func stateIndexPrefix(tenantID string, state types.State) []byte {
	k := make([]byte, 0, len(tenantID)+1+len(state)+1)
	k = append(k, []byte(tenantID)...)
	k = append(k, 0)
	k = append(k, []byte(state)...)
	k = append(k, 0)
	return k
}

func putRecord(tx *bolt.Tx, rec *types.Record, oldState types.State, hadOld bool) error {
	b := tx.Bucket(bucketRecords)
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := b.Put(idKey(rec.ID), data); err != nil {
		return err
	}

	idx := tx.Bucket(bucketByState)
	if hadOld {
		if err := idx.Delete(stateIndexKey(rec.TenantID, oldState, rec.ID)); err != nil {
			return err
		}
	}
	return idx.Put(stateIndexKey(rec.TenantID, rec.State, rec.ID), idKey(rec.ID))
}

func getRecord(tx *bolt.Tx, id uint64) (*types.Record, error) {
	b := tx.Bucket(bucketRecords)
	data := b.Get(idKey(id))
	if data == nil {
		return nil, fmt.Errorf("record not found: %d", id)
	}
	var rec types.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateBatch inserts one Batch row and N Pending Record rows in a
// single write transaction.
func (s *BoltStore) CreateBatch(tenantID, sourceFilename string, keys []string) (*types.Batch, error) {
	var batch types.Batch
	err := s.db.Update(func(tx *bolt.Tx) error {
		batches := tx.Bucket(bucketBatches)
		batchSeq, err := batches.NextSequence()
		if err != nil {
			return err
		}

		now := time.Now()
		batch = types.Batch{
			ID:                  batchSeq,
			TenantID:            tenantID,
			SourceFilename:      sourceFilename,
			DeclaredRecordCount: len(keys),
			CreatedAt:           now,
		}
		data, err := json.Marshal(&batch)
		if err != nil {
			return err
		}
		if err := batches.Put(idKey(batch.ID), data); err != nil {
			return err
		}

		records := tx.Bucket(bucketRecords)
		for _, key := range keys {
			recSeq, err := records.NextSequence()
			if err != nil {
				return err
			}
			rec := &types.Record{
				ID:        recSeq,
				BatchID:   batch.ID,
				TenantID:  tenantID,
				Key:       key,
				State:     types.Pending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := putRecord(tx, rec, "", false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// Claim returns the smallest record-id in `source` state for the tenant,
// transitioning it to `processing`. bbolt's single-writer transaction
// serializes concurrent claims; there is no separate row lock to take.
func (s *BoltStore) Claim(tenantID string, source, processing types.State) (*types.Record, bool, error) {
	var found *types.Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketByState)
		c := idx.Cursor()
		prefix := stateIndexPrefix(tenantID, source)

		k, v := c.Seek(prefix)
		if k == nil || !hasPrefix(k, prefix) {
			return nil
		}

		recordID := binary.BigEndian.Uint64(v)
		rec, err := getRecord(tx, recordID)
		if err != nil {
			return err
		}

		rec.State = processing
		rec.UpdatedAt = time.Now()
		if err := putRecord(tx, rec, source, true); err != nil {
			return err
		}
		found = rec
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if found == nil {
		return nil, false, nil
	}
	return found, true, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Settle moves a record from `processing` to `to`. It is a no-op if the
// record is no longer in the expected processing state, protecting
// against out-of-band mutation (e.g. a concurrent recovery sweep).
func (s *BoltStore) Settle(recordID uint64, processing, to types.State, payload types.Payload, reason string) (bool, error) {
	var ok bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getRecord(tx, recordID)
		if err != nil {
			return err
		}
		if rec.State != processing {
			return nil
		}

		oldState := rec.State
		rec.State = to
		rec.UpdatedAt = time.Now()
		rec.PayloadA = nil
		rec.PayloadB = nil
		rec.LastErrorMessage = reason

		switch to {
		case types.FoundA:
			rec.PayloadA = payload
			rec.LastErrorMessage = ""
		case types.FoundB:
			rec.PayloadB = payload
			rec.LastErrorMessage = ""
		case types.CheckB:
			rec.LastErrorMessage = ""
		}

		if err := putRecord(tx, rec, oldState, true); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

// Recover applies the `rec` transition to every processing-state record
// of the tenant: Processing-A -> Pending, Processing-B -> Check-B.
func (s *BoltStore) Recover(tenantID string) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		for from, to := range map[types.State]types.State{types.ProcessingA: types.Pending, types.ProcessingB: types.CheckB} {
			ids, err := collectStateIDs(tx, tenantID, from)
			if err != nil {
				return err
			}
			for _, id := range ids {
				rec, err := getRecord(tx, id)
				if err != nil {
					return err
				}
				rec.State = to
				rec.UpdatedAt = time.Now()
				if err := putRecord(tx, rec, from, true); err != nil {
					return err
				}
				count++
			}
		}
		return nil
	})
	return count, err
}

// RecoverAll runs the recovery sweep across every tenant that has at
// least one record, for process-startup recovery.
func (s *BoltStore) RecoverAll() (int, error) {
	tenants, err := s.distinctTenants()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, tenantID := range tenants {
		n, err := s.Recover(tenantID)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// RetryFailed re-queues every terminal-failure / not-found record of the
// tenant back to Pending.
func (s *BoltStore) RetryFailed(tenantID string) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, from := range []types.State{types.NotFound, types.ErrorA, types.ErrorB} {
			ids, err := collectStateIDs(tx, tenantID, from)
			if err != nil {
				return err
			}
			for _, id := range ids {
				rec, err := getRecord(tx, id)
				if err != nil {
					return err
				}
				rec.State = types.Pending
				rec.RetryCount++
				rec.PayloadA = nil
				rec.PayloadB = nil
				rec.LastErrorMessage = ""
				rec.UpdatedAt = time.Now()
				if err := putRecord(tx, rec, from, true); err != nil {
					return err
				}
				count++
			}
		}
		return nil
	})
	return count, err
}

func collectStateIDs(tx *bolt.Tx, tenantID string, state types.State) ([]uint64, error) {
	idx := tx.Bucket(bucketByState)
	c := idx.Cursor()
	prefix := stateIndexPrefix(tenantID, state)

	var ids []uint64
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		ids = append(ids, binary.BigEndian.Uint64(v))
	}
	return ids, nil
}

func (s *BoltStore) Counts(tenantID string) (map[types.State]int, error) {
	counts := make(map[types.State]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, state := range types.AllStates {
			ids, err := collectStateIDs(tx, tenantID, state)
			if err != nil {
				return err
			}
			counts[state] = len(ids)
		}
		return nil
	})
	return counts, err
}

func (s *BoltStore) ListRecords(tenantID string, state *types.State, batchID *uint64, limit, offset int) ([]*types.Record, int, error) {
	var page []*types.Record
	total := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		var ids []uint64
		if state != nil {
			var err error
			ids, err = collectStateIDs(tx, tenantID, *state)
			if err != nil {
				return err
			}
		} else {
			for _, st := range types.AllStates {
				stIDs, err := collectStateIDs(tx, tenantID, st)
				if err != nil {
					return err
				}
				ids = append(ids, stIDs...)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		}

		var matched []*types.Record
		for _, id := range ids {
			rec, err := getRecord(tx, id)
			if err != nil {
				return err
			}
			if batchID != nil && rec.BatchID != *batchID {
				continue
			}
			matched = append(matched, rec)
		}

		total = len(matched)
		if offset < 0 {
			offset = 0
		}
		if offset >= len(matched) {
			page = nil
			return nil
		}
		end := offset + limit
		if limit <= 0 || end > len(matched) {
			end = len(matched)
		}
		page = matched[offset:end]
		return nil
	})
	return page, total, err
}

func (s *BoltStore) ListBatches(tenantID string) ([]*types.Batch, error) {
	var batches []*types.Batch
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBatches)
		return b.ForEach(func(k, v []byte) error {
			var batch types.Batch
			if err := json.Unmarshal(v, &batch); err != nil {
				return err
			}
			if batch.TenantID == tenantID {
				batches = append(batches, &batch)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].ID > batches[j].ID })
	return batches, nil
}

func (s *BoltStore) AllRecords(tenantID string) ([]*types.Record, error) {
	var out []*types.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		var ids []uint64
		for _, st := range types.AllStates {
			stIDs, err := collectStateIDs(tx, tenantID, st)
			if err != nil {
				return err
			}
			ids = append(ids, stIDs...)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			rec, err := getRecord(tx, id)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Clean(tenantID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketByState)
		records := tx.Bucket(bucketRecords)

		for _, st := range types.AllStates {
			ids, err := collectStateIDs(tx, tenantID, st)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := idx.Delete(stateIndexKey(tenantID, st, id)); err != nil {
					return err
				}
				if err := records.Delete(idKey(id)); err != nil {
					return err
				}
			}
		}

		batches := tx.Bucket(bucketBatches)
		var toDelete [][]byte
		err := batches.ForEach(func(k, v []byte) error {
			var batch types.Batch
			if err := json.Unmarshal(v, &batch); err != nil {
				return err
			}
			if batch.TenantID == tenantID {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := batches.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) distinctTenants() ([]string, error) {
	seen := make(map[string]struct{})
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		return b.ForEach(func(k, v []byte) error {
			var rec types.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			seen[rec.TenantID] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	tenants := make([]string, 0, len(seen))
	for t := range seen {
		tenants = append(tenants, t)
	}
	return tenants, nil
}

// MigrateLegacyTenant assigns types.LegacyTenantID to any record or
// batch persisted without a tenant-id. One-shot and idempotent: once no
// row lacks a tenant-id, subsequent calls are no-ops.
func (s *BoltStore) MigrateLegacyTenant() (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		idx := tx.Bucket(bucketByState)

		type pending struct {
			id    uint64
			state types.State
		}
		var toMigrate []pending

		if err := records.ForEach(func(k, v []byte) error {
			var rec types.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.TenantID == "" {
				toMigrate = append(toMigrate, pending{id: rec.ID, state: rec.State})
			}
			return nil
		}); err != nil {
			return err
		}

		for _, p := range toMigrate {
			rec, err := getRecord(tx, p.id)
			if err != nil {
				return err
			}
			if err := idx.Delete(stateIndexKey("", p.state, p.id)); err != nil {
				return err
			}
			rec.TenantID = types.LegacyTenantID
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := records.Put(idKey(rec.ID), data); err != nil {
				return err
			}
			if err := idx.Put(stateIndexKey(types.LegacyTenantID, rec.State, rec.ID), idKey(rec.ID)); err != nil {
				return err
			}
			count++
		}

		batches := tx.Bucket(bucketBatches)
		return batches.ForEach(func(k, v []byte) error {
			var batch types.Batch
			if err := json.Unmarshal(v, &batch); err != nil {
				return err
			}
			if batch.TenantID == "" {
				batch.TenantID = types.LegacyTenantID
				data, err := json.Marshal(&batch)
				if err != nil {
					return err
				}
				return batches.Put(k, data)
			}
			return nil
		})
	})
	return count, err
}
