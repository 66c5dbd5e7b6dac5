// Package report implements the Report Projection: the read-side
// views over the Record Store — counts-by-state, progress, paged
// listings, and the flattened export shape that promotes selected
// payload fields into named columns.
package report

import (
	"github.com/nortis/idverify/pkg/storage"
	"github.com/nortis/idverify/pkg/types"
)

// Service builds read-side projections over a Store.
type Service struct {
	store storage.Store
}

// New constructs a Report Service over store.
func New(store storage.Store) *Service {
	return &Service{store: store}
}

// Status returns the per-tenant counts-by-state projection, with total,
// completed, in-progress, and percent-complete derived fields.
func (s *Service) Status(tenantID string) (*types.StatusReport, error) {
	counts, err := s.store.Counts(tenantID)
	if err != nil {
		return nil, err
	}

	total := 0
	completed := 0
	inProgress := 0
	for _, st := range types.AllStates {
		n := counts[st]
		total += n
		if st.Terminal() {
			completed += n
		}
		if st.Processing() {
			inProgress += n
		}
	}

	percent := 0.0
	if total > 0 {
		percent = float64(completed) / float64(total) * 100
	}

	return &types.StatusReport{
		Counts:          counts,
		Total:           total,
		Completed:       completed,
		InProgress:      inProgress,
		ProgressPercent: percent,
	}, nil
}

// ListRecords returns a page of the tenant's records, optionally
// filtered by state and/or batch.
func (s *Service) ListRecords(tenantID string, state *types.State, batchID *uint64, limit, offset int) ([]*types.Record, int, error) {
	return s.store.ListRecords(tenantID, state, batchID, limit, offset)
}

// ListBatches returns the tenant's batches, most recent first.
func (s *Service) ListBatches(tenantID string) ([]*types.Batch, error) {
	return s.store.ListBatches(tenantID)
}

// Export returns every record of the tenant flattened into the fixed
// export shape: key, state, message, A-name, A-grade, A-institution,
// A-date, B-name, B-title, B-institution, B-date. A-/B- columns are
// sourced from payload-A / payload-B if present, else empty strings.
func (s *Service) Export(tenantID string) ([]types.ExportRow, error) {
	records, err := s.store.AllRecords(tenantID)
	if err != nil {
		return nil, err
	}

	rows := make([]types.ExportRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, types.ExportRow{
			Key:          rec.Key,
			State:        rec.State,
			Message:      rec.LastErrorMessage,
			AName:        payloadField(rec.PayloadA, "name"),
			AGrade:       payloadField(rec.PayloadA, "grade"),
			AInstitution: payloadField(rec.PayloadA, "institution"),
			ADate:        payloadField(rec.PayloadA, "date"),
			BName:        payloadField(rec.PayloadB, "name"),
			BTitle:       payloadField(rec.PayloadB, "title"),
			BInstitution: payloadField(rec.PayloadB, "institution"),
			BDate:        payloadField(rec.PayloadB, "date"),
		})
	}
	return rows, nil
}

func payloadField(p types.Payload, key string) string {
	if p == nil {
		return ""
	}
	v, ok := p[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
