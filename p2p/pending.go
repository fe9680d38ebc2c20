package p2p

import (
	"sync/atomic"
	"time"
)

type pendingRequest struct {
	kind    string
	started time.Time
	done    chan struct{}
}

func (p *pendingRequest) resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// pendingRequests is the arena of in flight background work (proxy requests, peer relays, retry
// timers). Slots are keyed by a generation counter and only removed by sweep, after they resolved.
type pendingRequests struct {
	generation atomic.Uint64
	slots      *MutexMap[uint64, *pendingRequest]
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{slots: NewMutexMap[uint64, *pendingRequest]()}
}

// track runs fn in its own goroutine and returns the slot it occupies.
func (p *pendingRequests) track(kind string, fn func()) uint64 {
	id := p.generation.Add(1)
	req := &pendingRequest{kind: kind, started: time.Now(), done: make(chan struct{})}
	p.slots.setValue(id, req)
	go func() {
		defer close(req.done)
		fn()
	}()
	return id
}

// sweep drops resolved slots and returns how many were dropped.
func (p *pendingRequests) sweep() int {
	return p.slots.deleteIf(func(_ uint64, req *pendingRequest) bool {
		return req.resolved()
	})
}

func (p *pendingRequests) size() int {
	return p.slots.getSize()
}

// countByKind reports unresolved slots per kind.
func (p *pendingRequests) countByKind() map[string]int {
	counts := map[string]int{}
	p.slots.iterate(func(_ uint64, req *pendingRequest) {
		if !req.resolved() {
			counts[req.kind]++
		}
	}, true)
	return counts
}

// wait blocks until every tracked slot resolved or timeout elapsed.
func (p *pendingRequests) wait(timeout time.Duration) bool {
	deadline := time.After(timeout)
	var open []*pendingRequest
	p.slots.iterate(func(_ uint64, req *pendingRequest) {
		open = append(open, req)
	}, true)
	for _, req := range open {
		select {
		case <-req.done:
		case <-deadline:
			return false
		}
	}
	return true
}
