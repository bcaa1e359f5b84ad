package handler

import (
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
)

// lease shares one snapshot between a request and the cache computation it
// may start, which keeps running after the request gives up. The snapshot
// closes when the last holder releases it.
type lease struct {
	snap *index.Snapshot
	refs atomic.Int32
}

func newLease(snap *index.Snapshot) *lease {
	l := &lease{snap: snap}
	l.refs.Store(1)
	return l
}

// acquire takes another reference, or reports false once the snapshot is
// already closed.
func (l *lease) acquire() bool {
	for {
		n := l.refs.Load()
		if n == 0 {
			return false
		}
		if l.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (l *lease) release() {
	if l.refs.Add(-1) == 0 {
		l.snap.Close()
	}
}
