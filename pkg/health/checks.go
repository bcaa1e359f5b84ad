package health

import (
	"context"
	"fmt"
)

// Pinger is any dependency with a context-aware ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports down when p fails to answer. Optional dependencies such
// as the query cache report degraded instead.
func PingCheck(p Pinger, optional bool) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := p.Ping(ctx); err != nil {
			status := StatusDown
			if optional {
				status = StatusDegraded
			}
			return ComponentHealth{Status: status, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// SnapshotSource opens and releases a snapshot, returning its generation.
type SnapshotSource interface {
	Generation() (uint64, error)
}

// IndexCheck verifies a consistent snapshot can be opened.
func IndexCheck(idx SnapshotSource) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ctx.Err(); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		gen, err := idx.Generation()
		if err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp, Message: fmt.Sprintf("generation %d", gen), Generation: gen}
	}
}
