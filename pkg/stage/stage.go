// Package stage defines the StageProcessor capability: the external
// collaborator a Worker Loop calls once per claimed record. Real
// implementations wrap a remote-site scraping driver (out of scope
// here); this package only defines the boundary and ships a
// deterministic fake for tests and local development (see fakestage).
package stage

import "github.com/nortis/idverify/pkg/types"

// Driver is an opaque handle to an underlying resource (in a real
// implementation, a browser/session handle). It is owned by exactly one
// worker from acquisition to release and is never shared.
type Driver interface {
	Close() error
}

// Factory acquires a fresh Driver. Each worker calls Acquire when its
// loop starts and Close on the returned Driver when that loop exits,
// on every exit path.
type Factory interface {
	Acquire() (Driver, error)
}

// Processor is the StageProcessor capability: synchronous per
// invocation, returns a types.StageResult or raises
// *types.ExhaustedError once its own internal retry policy (backoff,
// circuit breaking, whatever recovery actions it needs) has given up.
// It never touches store state.
type Processor interface {
	Process(driver Driver, key string) (types.StageResult, error)
}
