package api

import (
	"sync"

	"github.com/JakeFAU/docucrawl/internal/orchestrator"
)

// defaultRetainedRuns bounds how many finished runs stay queryable.
const defaultRetainedRuns = 256

// runRegistry tracks runs started through the API in start order.
type runRegistry struct {
	mu     sync.RWMutex
	runs   map[string]*orchestrator.Run
	order  []string
	retain int
}

func newRunRegistry(retain int) *runRegistry {
	if retain <= 0 {
		retain = defaultRetainedRuns
	}
	return &runRegistry{runs: make(map[string]*orchestrator.Run), retain: retain}
}

func (r *runRegistry) add(run *orchestrator.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID()] = run
	r.order = append(r.order, run.ID())
	r.evictLocked()
}

func (r *runRegistry) get(id string) (*orchestrator.Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	return run, ok
}

// active returns the runs that have not finished yet.
func (r *runRegistry) active() []*orchestrator.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*orchestrator.Run
	for _, id := range r.order {
		run := r.runs[id]
		if _, done := run.Report(); !done {
			out = append(out, run)
		}
	}
	return out
}

// evictLocked drops the oldest finished runs beyond the retention bound.
// Running runs are never evicted.
func (r *runRegistry) evictLocked() {
	excess := len(r.order) - r.retain
	if excess <= 0 {
		return
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if excess > 0 {
			if _, done := r.runs[id].Report(); done {
				delete(r.runs, id)
				excess--
				continue
			}
		}
		kept = append(kept, id)
	}
	r.order = kept
}
