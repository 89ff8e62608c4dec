package research

import "context"

// Fetcher produces normalized, quality-filtered items for one source. The
// orchestrator wires one Fetcher per fetch node; implementations live in the
// fetch subpackage (and test doubles wherever convenient).
//
// cacheHit reports whether the items came from cache rather than the
// network. Errors are classified and retried by the scheduler, so
// implementations return them raw.
type Fetcher interface {
	Source() string
	Fetch(ctx context.Context, st RunState) (items []Item, cacheHit bool, err error)
}
