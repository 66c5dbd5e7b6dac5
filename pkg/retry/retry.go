// Package retry implements the Retry Service: re-queues records
// sitting in a terminal failure or not-found state back to Pending so
// a subsequent orchestrator run gives them another pass through both
// stages. It never runs on its own schedule; it is invoked on demand
// through the control plane and is never rejected — it always returns
// success, even when there was nothing to retry (see the Open Question
// decisions in DESIGN.md).
package retry

import (
	"github.com/rs/zerolog"

	"github.com/nortis/idverify/pkg/log"
	"github.com/nortis/idverify/pkg/metrics"
	"github.com/nortis/idverify/pkg/storage"
)

// Service re-queues failed records for one tenant at a time.
type Service struct {
	store  storage.Store
	logger zerolog.Logger
}

// New constructs a Retry Service over store.
func New(store storage.Store) *Service {
	return &Service{
		store:  store,
		logger: log.WithComponent("retry"),
	}
}

// RetryFailed moves every Not-Found, Error-A, and Error-B record of
// tenantID back to Pending, bumping each one's retry count. It returns
// the number of records re-queued; zero is a normal, successful result.
func (s *Service) RetryFailed(tenantID string) (int, error) {
	n, err := s.store.RetryFailed(tenantID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RetriesTotal.Add(float64(n))
		s.logger.Info().Str("tenant_id", tenantID).Int("count", n).Msg("re-queued failed records")
	}
	return n, nil
}
