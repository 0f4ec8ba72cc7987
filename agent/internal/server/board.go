package server

import (
	"sort"
	"sync"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

// Board holds the latest result of every component.
type Board struct {
	mu     sync.RWMutex
	latest map[int]types.CheckResult
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{latest: make(map[int]types.CheckResult)}
}

// Update replaces the component's entry. It is safe to use as a scheduler
// result handler.
func (b *Board) Update(r types.CheckResult) {
	b.mu.Lock()
	b.latest[r.ComponentID] = r
	b.mu.Unlock()
}

// Get returns the latest result for a component.
func (b *Board) Get(componentID int) (types.CheckResult, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.latest[componentID]
	return r, ok
}

// Snapshot returns every entry ordered by component id.
func (b *Board) Snapshot() []types.CheckResult {
	b.mu.RLock()
	out := make([]types.CheckResult, 0, len(b.latest))
	for _, r := range b.latest {
		out = append(out, r)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ComponentID < out[j].ComponentID
	})
	return out
}
