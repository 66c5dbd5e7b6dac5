// Package orchestrator implements the Session Orchestrator: one
// instance per tenant, owning the stop/pause flags and the tenant's
// two long-lived worker goroutines (Stage A, Stage B) plus their
// driver lifecycle.
package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nortis/idverify/pkg/log"
	"github.com/nortis/idverify/pkg/recovery"
	"github.com/nortis/idverify/pkg/stage"
	"github.com/nortis/idverify/pkg/storage"
	"github.com/nortis/idverify/pkg/worker"
)

// StopTimeout bounds how long Stop waits for both workers to exit
// before returning anyway; it accommodates driver teardown.
const StopTimeout = 15 * time.Second

// Timing holds the poll interval shared by both stages and the
// per-stage jitter range knobs.
type Timing struct {
	PollInterval time.Duration
	JitterAMin   time.Duration
	JitterAMax   time.Duration
	JitterBMin   time.Duration
	JitterBMax   time.Duration
}

// Orchestrator is one tenant's Session Orchestrator.
type Orchestrator struct {
	tenantID string
	store    storage.Store
	recovery *recovery.Service
	factory  stage.Factory
	procA    stage.Processor
	procB    stage.Processor
	timing   Timing
	logger   zerolog.Logger

	stopFlag  int32
	pauseFlag int32

	mu      sync.Mutex
	running bool
	doneA   chan struct{}
	doneB   chan struct{}
}

// New constructs an orchestrator for one tenant. It does not start any
// workers; call Start for that.
func New(tenantID string, store storage.Store, recoverySvc *recovery.Service, factory stage.Factory, procA, procB stage.Processor, timing Timing) *Orchestrator {
	return &Orchestrator{
		tenantID: tenantID,
		store:    store,
		recovery: recoverySvc,
		factory:  factory,
		procA:    procA,
		procB:    procB,
		timing:   timing,
		logger:   log.WithTenant(tenantID),
	}
}

// Stopped implements worker.Control.
func (o *Orchestrator) Stopped() bool { return atomic.LoadInt32(&o.stopFlag) == 1 }

// Paused implements worker.Control.
func (o *Orchestrator) Paused() bool { return atomic.LoadInt32(&o.pauseFlag) == 1 }

// Start launches the two worker goroutines if none is alive. Calling
// Start while already running is a no-op with a warning, not an error.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		o.logger.Warn().Msg("start called while orchestrator already running, ignoring")
		return
	}

	if o.recovery != nil {
		if _, err := o.recovery.RecoverTenant(o.tenantID); err != nil {
			o.logger.Error().Err(err).Msg("recovery sweep before start failed, starting anyway")
		}
	}

	atomic.StoreInt32(&o.stopFlag, 0)
	atomic.StoreInt32(&o.pauseFlag, 0)

	o.doneA = make(chan struct{})
	o.doneB = make(chan struct{})

	wa := worker.New(o.tenantID, worker.StageASpec(o.timing.PollInterval, o.timing.JitterAMin, o.timing.JitterAMax), o.store, o.procA, o.factory, o)
	wb := worker.New(o.tenantID, worker.StageBSpec(o.timing.PollInterval, o.timing.JitterBMin, o.timing.JitterBMax), o.store, o.procB, o.factory, o)

	go wa.Run(o.doneA)
	go wb.Run(o.doneB)

	o.running = true
	o.logger.Info().Msg("orchestrator started")
}

// Pause asserts the pause flag; workers suspend before their next claim.
func (o *Orchestrator) Pause() {
	atomic.StoreInt32(&o.pauseFlag, 1)
}

// Resume clears the pause flag.
func (o *Orchestrator) Resume() {
	atomic.StoreInt32(&o.pauseFlag, 0)
}

// Stop asserts the stop flag, clears pause, and joins both workers with
// a bounded timeout. Stop on a non-running orchestrator is a no-op
// success.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	atomic.StoreInt32(&o.stopFlag, 1)
	atomic.StoreInt32(&o.pauseFlag, 0)
	doneA, doneB := o.doneA, o.doneB
	o.mu.Unlock()

	deadline := time.Now().Add(StopTimeout)
	waitUntil(doneA, deadline)
	waitUntil(doneB, deadline)

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	o.logger.Info().Msg("orchestrator stopped")
}

// IsRunning reports whether the orchestrator has live workers.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// IsPaused reports the current pause flag.
func (o *Orchestrator) IsPaused() bool {
	return o.Paused()
}

func waitUntil(done <-chan struct{}, deadline time.Time) {
	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	select {
	case <-done:
	case <-time.After(remaining):
	}
}
