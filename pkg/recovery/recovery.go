// Package recovery implements the Recovery Service: it demotes
// records stranded in a processing state back to a claimable state,
// for cases where a worker died mid-claim (process crash, driver
// panic) and left a record unreachable by any future claim. It runs
// once at process startup across every tenant, and once per tenant
// whenever that tenant's orchestrator starts.
package recovery

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nortis/idverify/pkg/log"
	"github.com/nortis/idverify/pkg/metrics"
	"github.com/nortis/idverify/pkg/storage"
)

// SweepInterval is how often the background safety-net sweep runs, in
// addition to the on-demand calls around startup and tenant start.
const SweepInterval = 60 * time.Second

// Service runs recovery sweeps against a Store.
type Service struct {
	store  storage.Store
	logger zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

// New constructs a Recovery Service over store.
func New(store storage.Store) *Service {
	return &Service{
		store:  store,
		logger: log.WithComponent("recovery"),
	}
}

// RecoverTenant demotes one tenant's stranded processing records. It is
// called at the top of Session Orchestrator.Start before any worker is
// launched, so a newly started session never races a worker against a
// demotion of the same record.
func (s *Service) RecoverTenant(tenantID string) (int, error) {
	n, err := s.store.Recover(tenantID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RecoveriesTotal.WithLabelValues("startup").Add(float64(n))
		s.logger.Info().Str("tenant_id", tenantID).Int("count", n).Msg("recovered stranded records")
	}
	return n, nil
}

// RecoverAll demotes stranded processing records across every tenant.
// Called at process startup, before the Session Manager's idle
// eviction loop or any orchestrator starts, and on every tick of the
// background sweep.
func (s *Service) RecoverAll() (int, error) {
	n, err := s.store.RecoverAll()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("recovered stranded records across all tenants")
	}
	return n, nil
}

// StartBackgroundSweep launches a periodic safety-net sweep across all
// tenants, catching any processing record stranded by a crash that
// happened after the startup sweep already ran.
func (s *Service) StartBackgroundSweep() {
	s.mu.Lock()
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	go s.run(stopCh)
}

func (s *Service) run(stopCh chan struct{}) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	s.logger.Info().Msg("recovery background sweep started")

	for {
		select {
		case <-ticker.C:
			timer := metrics.NewTimer()
			n, err := s.RecoverAll()
			timer.ObserveDurationVec(metrics.StageProcessDuration, "recovery_sweep")
			if err != nil {
				s.logger.Error().Err(err).Msg("recovery sweep failed")
				continue
			}
			if n > 0 {
				metrics.RecoveriesTotal.WithLabelValues("sweep").Add(float64(n))
			}
		case <-stopCh:
			s.logger.Info().Msg("recovery background sweep stopped")
			return
		}
	}
}

// Stop halts the background sweep, if running.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}
