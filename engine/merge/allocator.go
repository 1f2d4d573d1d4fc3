package merge

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-merge/engine/node"
)

// Allocator hands out slot indices for one group. Indices increase monotonically and
// are never reused, even after the slots they named were cleared.
type Allocator struct {
	mu   sync.Mutex
	next uint32
}

// NewAllocator creates an allocator whose first index is start.
//
// Parameters:
//   - start: the first index handed out
//
// Returns:
//   - *Allocator: the allocator
func NewAllocator(start uint32) *Allocator {
	return &Allocator{next: start}
}

// Allocate stamps a fresh slot index on root and on every descendant, depth-first
// pre-order. Nodes are never skipped by type, and indices already present are
// overwritten with new ones.
//
// Parameters:
//   - root: the subtree to index
//
// Returns:
//   - uint32: the first index assigned
//   - int: the number of indices assigned
func (a *Allocator) Allocate(root node.Node) (uint32, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	first := a.next
	count := 0
	if root == nil {
		return first, 0
	}
	root.Traverse(func(n node.Node) bool {
		n.SetSlotIndex(a.next)
		a.next++
		count++
		return true
	})
	return first, count
}

// Next returns the index the next allocation will start at.
func (a *Allocator) Next() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
