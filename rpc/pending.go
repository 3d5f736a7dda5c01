package rpc

import (
	"sync"
	"time"
)

// pendingRequest tracks one in-flight call awaiting its correlated
// response. complete is invoked at most once, either by the response
// demultiplexer or by the reaper.
type pendingRequest struct {
	txID     string
	complete func(Outcome)
	deadline time.Time
}

// pendingTable is a mutex-protected map of in-flight calls: insertion
// happens-before publish, removal is atomic with delivery.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingRequest)}
}

// insert registers p before the caller publishes the request.
func (t *pendingTable) insert(p *pendingRequest) {
	t.mu.Lock()
	t.entries[p.txID] = p
	t.mu.Unlock()
}

// removeAndComplete looks up txID, removes it if present, and returns
// its completion func so the caller can invoke it outside the lock.
// Returns nil if no entry is pending for txID (already completed, or
// never existed).
func (t *pendingTable) removeAndComplete(txID string) func(Outcome) {
	t.mu.Lock()
	p, ok := t.entries[txID]
	if ok {
		delete(t.entries, txID)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return p.complete
}

// remove deletes txID without firing its completion (used when a
// publish fails before the request ever reached the broker).
func (t *pendingTable) remove(txID string) {
	t.mu.Lock()
	delete(t.entries, txID)
	t.mu.Unlock()
}

// reapExpired scans for deadlines that have passed, removes them, and
// returns their completion funcs so the caller can fire Timeout
// outside the lock.
func (t *pendingTable) reapExpired(now time.Time) []func(Outcome) {
	t.mu.Lock()
	var expired []func(Outcome)
	for id, p := range t.entries {
		if !p.deadline.After(now) {
			expired = append(expired, p.complete)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()
	return expired
}

// len reports the number of entries currently pending. Test-only
// observability hook.
func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
