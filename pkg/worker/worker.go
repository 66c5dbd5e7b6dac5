// Package worker implements the Worker Loop: one polymorphic loop
// parameterized by a StageSpec and a stage.Processor, claiming one
// record at a time and settling it to a successor state. Stage A and
// Stage B are two instances of the same loop with different specs.
package worker

import (
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/nortis/idverify/pkg/log"
	"github.com/nortis/idverify/pkg/metrics"
	"github.com/nortis/idverify/pkg/stage"
	"github.com/nortis/idverify/pkg/storage"
	"github.com/nortis/idverify/pkg/types"
)

// StageSpec names the source/processing/success/forward-or-terminal/
// error states one Worker Loop instance operates over, plus its timing
// knobs.
type StageSpec struct {
	Name              string
	Source            types.State
	Processing        types.State
	Success           types.State
	ForwardOrTerminal types.State
	Error             types.State
	PollInterval      time.Duration
	JitterMin         time.Duration
	JitterMax         time.Duration
}

// StageASpec is the canonical Stage-A spec: Pending -> Processing-A,
// success Found-A, forward Check-B, error Error-A.
func StageASpec(pollInterval, jitterMin, jitterMax time.Duration) StageSpec {
	return StageSpec{
		Name:              "A",
		Source:            types.Pending,
		Processing:        types.ProcessingA,
		Success:           types.FoundA,
		ForwardOrTerminal: types.CheckB,
		Error:             types.ErrorA,
		PollInterval:      pollInterval,
		JitterMin:         jitterMin,
		JitterMax:         jitterMax,
	}
}

// StageBSpec is the canonical Stage-B spec: Check-B -> Processing-B,
// success Found-B, forward-or-terminal Not-Found, error Error-B.
func StageBSpec(pollInterval, jitterMin, jitterMax time.Duration) StageSpec {
	return StageSpec{
		Name:              "B",
		Source:            types.CheckB,
		Processing:        types.ProcessingB,
		Success:           types.FoundB,
		ForwardOrTerminal: types.NotFound,
		Error:             types.ErrorB,
		PollInterval:      pollInterval,
		JitterMin:         jitterMin,
		JitterMax:         jitterMax,
	}
}

// Control exposes the two cooperative signals a worker must observe
// once per iteration, before each claim: the monotonic stop flag and
// the toggleable pause flag. The Session Orchestrator implements this.
type Control interface {
	Stopped() bool
	Paused() bool
}

const pausePollInterval = 200 * time.Millisecond

// Worker runs one StageSpec's loop for one tenant.
type Worker struct {
	tenantID  string
	spec      StageSpec
	store     storage.Store
	processor stage.Processor
	factory   stage.Factory
	control   Control
	logger    zerolog.Logger
}

// New constructs a worker. The driver is acquired on Run entry and
// released on every exit path, scoped entirely to this call.
func New(tenantID string, spec StageSpec, store storage.Store, processor stage.Processor, factory stage.Factory, control Control) *Worker {
	return &Worker{
		tenantID:  tenantID,
		spec:      spec,
		store:     store,
		processor: processor,
		factory:   factory,
		control:   control,
		logger:    log.WithTenant(tenantID).With().Str("stage", spec.Name).Logger(),
	}
}

// Run blocks until the stop signal is observed or the driver cannot be
// acquired. Intended to be launched with `go`. Signals doneCh on exit
// if non-nil.
func (w *Worker) Run(doneCh chan<- struct{}) {
	if doneCh != nil {
		defer close(doneCh)
	}

	driver, err := w.factory.Acquire()
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to acquire driver, worker exiting")
		return
	}
	defer driver.Close()

	w.logger.Debug().Msg("worker started")
	for {
		for w.control.Paused() {
			if w.control.Stopped() {
				return
			}
			time.Sleep(pausePollInterval)
		}
		if w.control.Stopped() {
			return
		}

		rec, ok, err := w.store.Claim(w.tenantID, w.spec.Source, w.spec.Processing)
		if err != nil {
			w.logger.Error().Err(err).Msg("claim failed")
			time.Sleep(w.spec.PollInterval)
			continue
		}
		if !ok {
			time.Sleep(w.spec.PollInterval)
			continue
		}

		metrics.ClaimsTotal.WithLabelValues(w.spec.Name, "claimed").Inc()
		w.processOne(driver, rec)
		time.Sleep(jitter(w.spec.JitterMin, w.spec.JitterMax))
	}
}

func (w *Worker) processOne(driver stage.Driver, rec *types.Record) {
	recLogger := w.logger.With().Uint64("record_id", rec.ID).Logger()

	result, err := w.processor.Process(driver, rec.Key)
	if err != nil {
		var exhausted *types.ExhaustedError
		reason := "worker: " + err.Error()
		if errors.As(err, &exhausted) {
			reason = exhausted.Reason
		}
		if _, serr := w.store.Settle(rec.ID, w.spec.Processing, w.spec.Error, nil, reason); serr != nil {
			recLogger.Error().Err(serr).Msg("settle to error state failed")
			return
		}
		metrics.SettlesTotal.WithLabelValues(string(w.spec.Processing), string(w.spec.Error)).Inc()
		return
	}

	if result.Found {
		if _, serr := w.store.Settle(rec.ID, w.spec.Processing, w.spec.Success, result.Payload, ""); serr != nil {
			recLogger.Error().Err(serr).Msg("settle to success state failed")
			return
		}
		metrics.SettlesTotal.WithLabelValues(string(w.spec.Processing), string(w.spec.Success)).Inc()
		return
	}

	if _, serr := w.store.Settle(rec.ID, w.spec.Processing, w.spec.ForwardOrTerminal, nil, result.Reason); serr != nil {
		recLogger.Error().Err(serr).Msg("settle to forward/terminal state failed")
		return
	}
	metrics.SettlesTotal.WithLabelValues(string(w.spec.Processing), string(w.spec.ForwardOrTerminal)).Inc()
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
