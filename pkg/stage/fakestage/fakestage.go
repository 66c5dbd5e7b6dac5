// Package fakestage is a deterministic StageProcessor, driven by a
// fixed key -> outcome table (it takes no random seed), standing in
// for the real remote-site scraping drivers, which stay
// out of scope. It exercises the same resilience shape a real driver
// would need: bounded exponential-backoff retry for transient
// failures, and a circuit breaker that trips to an Exhausted result
// once a simulated site looks down, rather than retrying forever.
package fakestage

import (
	"errors"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/nortis/idverify/pkg/metrics"
	"github.com/nortis/idverify/pkg/stage"
	"github.com/nortis/idverify/pkg/types"
)

var errTransient = errors.New("fakestage: simulated transient failure")

// Outcome is the scripted result for one key.
type Outcome struct {
	Found             bool
	Payload           types.Payload
	Reason            string
	TransientFailures int // number of attempts to fail before the scripted outcome lands
}

// Driver is the fake's opaque resource handle.
type Driver struct {
	id string
}

func (d *Driver) Close() error { return nil }

// Factory acquires Drivers for the fake processor.
type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Acquire() (stage.Driver, error) {
	return &Driver{id: uuid.New().String()}, nil
}

// Processor implements stage.Processor against a fixed lookup table.
// Keys absent from the table are treated as NotFound.
type Processor struct {
	stageName string
	lookup    map[string]Outcome
	breaker   *gobreaker.CircuitBreaker

	mu       sync.Mutex
	attempts map[string]int
}

// NewProcessor builds a fake processor for one stage name (used as a
// metric label and circuit breaker name).
func NewProcessor(stageName string, lookup map[string]Outcome) *Processor {
	settings := gobreaker.Settings{
		Name: stageName,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.StageBreakerOpenTotal.WithLabelValues(name).Inc()
			}
		},
	}
	return &Processor{
		stageName: stageName,
		lookup:    lookup,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		attempts:  make(map[string]int),
	}
}

func (p *Processor) Process(_ stage.Driver, key string) (types.StageResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StageProcessDuration, p.stageName)

	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.attempt(key)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return types.StageResult{}, &types.ExhaustedError{Reason: "circuit open: " + p.stageName}
		}
		return types.StageResult{}, err
	}
	return out.(types.StageResult), nil
}

func (p *Processor) attempt(key string) (types.StageResult, error) {
	outcome, ok := p.lookup[key]
	if !ok {
		return types.StageResult{Found: false, Reason: "no hit"}, nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)

	var result types.StageResult
	retryErr := backoff.Retry(func() error {
		p.mu.Lock()
		p.attempts[key]++
		attempt := p.attempts[key]
		p.mu.Unlock()

		if attempt <= outcome.TransientFailures {
			return errTransient
		}
		if outcome.Found {
			result = types.StageResult{Found: true, Payload: outcome.Payload}
		} else {
			result = types.StageResult{Found: false, Reason: outcome.Reason}
		}
		return nil
	}, b)

	if retryErr != nil {
		reason := outcome.Reason
		if reason == "" {
			reason = "retries exhausted"
		}
		return types.StageResult{}, &types.ExhaustedError{Reason: reason}
	}
	return result, nil
}
