package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-merge/engine/batch"
	"github.com/Carmen-Shannon/oxy-merge/engine/node"
)

var (
	// ErrUnindexedGeometry is returned when a mesh leaf reaches the collector without a
	// slot index. It is a caller error: allocate slots before merging.
	ErrUnindexedGeometry = errors.New("merge: mesh leaf has no slot index")

	// ErrUnknownBatchKey is returned by Clear and Update when a leaf's geometry identity
	// has no batch in the group.
	ErrUnknownBatchKey = errors.New("merge: no batch for geometry key")

	// ErrSingularOrigin is returned when the region origin's world matrix cannot be inverted.
	ErrSingularOrigin = errors.New("merge: origin world matrix is singular")
)

const (
	defaultYieldEvery  = 50
	defaultBakeWorkers = 4
)

// Outcome reports what happened to a Merge request.
type Outcome int

const (
	// OutcomeApplied means the pass ran (successfully or not; see the returned error).
	OutcomeApplied Outcome = iota

	// OutcomeDropped means another merge was in flight and the request was discarded.
	OutcomeDropped

	// OutcomeQueued means another merge was in flight and the request will run right
	// after it, replacing any request already waiting.
	OutcomeQueued
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDropped:
		return "dropped"
	case OutcomeQueued:
		return "queued"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// State is the merge state of a group.
type State int

const (
	// StateIdle means no merge pass is running.
	StateIdle State = iota

	// StateMerging means a merge pass is running.
	StateMerging
)

func (s State) String() string {
	if s == StateMerging {
		return "merging"
	}
	return "idle"
}

// KeyStats describes one batch of a group.
type KeyStats struct {
	Key      string
	Slots    int
	Vertices int
	Indices  int
	Version  uint64
}

// mergeRequest is a merge waiting behind the in-flight pass.
type mergeRequest struct {
	ctx   context.Context
	roots []node.Node
}

type group struct {
	// passMu serializes every pass that touches batches.
	passMu sync.Mutex

	stateMu  sync.Mutex
	state    State
	pending  *mergeRequest
	coalesce bool

	containerOnce sync.Once
	container     node.Node

	// regMu guards the registry for readers; writers also hold passMu.
	regMu   sync.RWMutex
	batches map[string]*batch.Batch
	keys    []string

	alloc         *Allocator
	engine        batch.Engine
	collector     *collector
	bakeWorkers   int
	pool          worker.DynamicWorkerPool
	castShadow    bool
	receiveShadow bool
	logger        *slog.Logger
}

// Group is one batching domain: a composite container node holding one merged mesh per
// geometry identity, the batches behind those meshes, and the slot allocator that names
// the objects inside them.
//
// Merge, Clear and Update take forests of subtree roots whose mesh leaves already carry
// slot indices (see AllocateSlots). All three snapshot the leaves in world space first
// and only then touch any batch, so a contract violation leaves the group untouched.
// Errors from the batch engine are returned as-is; keys handled before the failing key
// keep their changes.
//
// Only one Merge runs at a time. A Merge arriving while another is in flight is dropped
// (OutcomeDropped), or with coalescing enabled kept as the single pending request
// (OutcomeQueued). Clear and Update wait for the running pass.
type Group interface {
	// Container returns the composite node holding one merged mesh node per batch. The
	// node is created on first use and never replaced.
	//
	// Returns:
	//   - node.Node: the container
	Container() node.Node

	// AllocateSlots stamps fresh slot indices on root and all of its descendants.
	// Calling it again on an already merged subtree assigns new indices without
	// removing the old ones from their batches; clear the subtree first.
	//
	// Parameters:
	//   - root: the subtree to index
	//
	// Returns:
	//   - uint32: the first index assigned
	//   - int: the number of indices assigned
	AllocateSlots(root node.Node) (uint32, int)

	// Merge appends every mesh leaf of roots to the batch of its geometry identity,
	// creating batches (and their merged mesh nodes) for identities seen for the first
	// time. Every known batch is passed to the engine, with an empty list when this call
	// brought nothing for it. Hiding the original nodes is up to the caller.
	//
	// Parameters:
	//   - ctx: cancels the pass at yield points, before anything is mutated
	//   - roots: the subtrees to merge, in order
	//
	// Returns:
	//   - Outcome: whether the request ran, was dropped or was queued
	//   - error: a contract violation, ctx.Err(), or the engine's error
	Merge(ctx context.Context, roots ...node.Node) (Outcome, error)

	// Clear removes every mesh leaf of roots from the batches it was merged into.
	//
	// Parameters:
	//   - ctx: cancels the pass at yield points, before anything is mutated
	//   - roots: the subtrees to remove
	//
	// Returns:
	//   - error: ErrUnindexedGeometry, ErrUnknownBatchKey, ctx.Err(), or the engine's error
	Clear(ctx context.Context, roots ...node.Node) error

	// Update rewrites the batched data of every mesh leaf of roots from its current
	// world transform. Batch membership and the key set never change.
	//
	// Parameters:
	//   - ctx: cancels the pass at yield points, before anything is mutated
	//   - roots: the subtrees to refresh
	//
	// Returns:
	//   - error: ErrUnindexedGeometry, ErrUnknownBatchKey, ctx.Err(), or the engine's error
	Update(ctx context.Context, roots ...node.Node) error

	// Batch returns the batch for a geometry identity.
	//
	// Parameters:
	//   - key: the geometry identity
	//
	// Returns:
	//   - *batch.Batch: the batch, or nil
	//   - bool: false if the group has no batch for key
	Batch(key string) (*batch.Batch, bool)

	// Keys returns the batch keys in creation order.
	Keys() []string

	// Stats returns per-batch sizes in creation order.
	Stats() []KeyStats

	// State returns the current merge state.
	State() State

	// Close stops the bake worker pool. The group must not be used afterwards.
	Close()
}

var _ Group = &group{}

// NewGroup creates a new Group configured with the given options.
//
// Parameters:
//   - options: functional options to configure the group
//
// Returns:
//   - Group: the newly created group
func NewGroup(options ...GroupBuilderOption) Group {
	g := &group{
		batches:     make(map[string]*batch.Batch),
		bakeWorkers: defaultBakeWorkers,
		collector: &collector{
			yieldEvery: defaultYieldEvery,
			yielder:    SchedulerYielder{},
		},
		castShadow:    true,
		receiveShadow: true,
		logger:        slog.Default(),
	}
	for _, option := range options {
		option(g)
	}
	if g.engine == nil {
		g.engine = batch.NewEngine(batch.WithEngineLogger(g.logger))
	}
	if g.alloc == nil {
		g.alloc = NewAllocator(0)
	}
	if g.bakeWorkers > 1 {
		g.pool = worker.NewDynamicWorkerPool(g.bakeWorkers, 256, 1*time.Second)
		g.collector.pool = g.pool
	}
	return g
}

func (g *group) Container() node.Node {
	g.containerOnce.Do(func() {
		g.container = node.NewNode(node.WithName("merged"))
	})
	return g.container
}

func (g *group) AllocateSlots(root node.Node) (uint32, int) {
	return g.alloc.Allocate(root)
}

func (g *group) Merge(ctx context.Context, roots ...node.Node) (Outcome, error) {
	g.stateMu.Lock()
	if g.state == StateMerging {
		if g.coalesce {
			g.pending = &mergeRequest{ctx: ctx, roots: roots}
			g.stateMu.Unlock()
			g.logger.Debug("[Merge] request queued behind running pass", "roots", len(roots))
			return OutcomeQueued, nil
		}
		g.stateMu.Unlock()
		g.logger.Debug("[Merge] request dropped, pass already running", "roots", len(roots))
		return OutcomeDropped, nil
	}
	g.state = StateMerging
	g.stateMu.Unlock()

	err := g.mergePass(ctx, roots)

	// Drain the pending request. Its caller has already returned, so failures can only
	// be logged.
	for {
		g.stateMu.Lock()
		next := g.pending
		g.pending = nil
		if next == nil {
			g.state = StateIdle
			g.stateMu.Unlock()
			return OutcomeApplied, err
		}
		g.stateMu.Unlock()

		if perr := g.mergePass(next.ctx, next.roots); perr != nil {
			g.logger.Error("[Merge] queued pass failed", "error", perr)
		}
	}
}

func (g *group) Clear(ctx context.Context, roots ...node.Node) error {
	g.passMu.Lock()
	defer g.passMu.Unlock()

	start := time.Now()
	col, err := g.collector.collect(ctx, roots)
	if err != nil {
		return err
	}
	targets, err := g.resolve(col.keys)
	if err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	for i, key := range col.keys {
		if err := g.engine.Clear(ctx, targets[i], col.byKey[key]); err != nil {
			return err
		}
	}
	g.logger.Debug("[Merge] clear done", "keys", len(col.keys), "snapshots", col.leaves, "duration", time.Since(start))
	return nil
}

func (g *group) Update(ctx context.Context, roots ...node.Node) error {
	g.passMu.Lock()
	defer g.passMu.Unlock()

	start := time.Now()
	col, err := g.collector.collect(ctx, roots)
	if err != nil {
		return err
	}
	targets, err := g.resolve(col.keys)
	if err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	for i, key := range col.keys {
		if err := g.engine.Update(ctx, targets[i], col.byKey[key]); err != nil {
			return err
		}
	}
	g.logger.Debug("[Merge] update done", "keys", len(col.keys), "snapshots", col.leaves, "duration", time.Since(start))
	return nil
}

func (g *group) Batch(key string) (*batch.Batch, bool) {
	g.regMu.RLock()
	defer g.regMu.RUnlock()
	b, ok := g.batches[key]
	return b, ok
}

func (g *group) Keys() []string {
	g.regMu.RLock()
	defer g.regMu.RUnlock()
	return append([]string(nil), g.keys...)
}

func (g *group) Stats() []KeyStats {
	g.regMu.RLock()
	defer g.regMu.RUnlock()

	out := make([]KeyStats, 0, len(g.keys))
	for _, key := range g.keys {
		b := g.batches[key]
		out = append(out, KeyStats{
			Key:      key,
			Slots:    b.SlotCount(),
			Vertices: b.VertexCount(),
			Indices:  b.IndexCount(),
			Version:  b.Version(),
		})
	}
	return out
}

func (g *group) State() State {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	return g.state
}

func (g *group) Close() {
	if g.pool != nil {
		g.pool.Stop()
	}
}

// mergePass runs one merge: collect, create batches for new keys, then hand every known
// key to the engine in creation order.
func (g *group) mergePass(ctx context.Context, roots []node.Node) error {
	g.passMu.Lock()
	defer g.passMu.Unlock()

	start := time.Now()
	col, err := g.collector.collect(ctx, roots)
	if err != nil {
		return err
	}

	container := g.Container()
	for _, key := range col.keys {
		if _, ok := g.batches[key]; ok {
			continue
		}
		first := col.byKey[key][0]
		b := batch.NewBatch(key, first.Material)
		g.regMu.Lock()
		g.batches[key] = b
		g.keys = append(g.keys, key)
		g.regMu.Unlock()
		container.Add(node.NewNode(
			node.WithName("merged:"+key),
			node.WithMesh(b.Geometry(), b.Material()),
			node.WithShadows(g.castShadow, g.receiveShadow),
		))
		g.logger.Debug("[Merge] batch created", "key", key)
	}

	ctx = context.WithoutCancel(ctx)
	for _, key := range g.keys {
		if err := g.engine.Merge(ctx, g.batches[key], col.byKey[key], false); err != nil {
			return err
		}
	}
	g.logger.Debug("[Merge] pass done", "keys", len(g.keys), "snapshots", col.leaves, "duration", time.Since(start))
	return nil
}

// resolve maps observed keys to their batches, failing before any mutation if one is
// missing.
func (g *group) resolve(keys []string) ([]*batch.Batch, error) {
	out := make([]*batch.Batch, len(keys))
	for i, key := range keys {
		b, ok := g.batches[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBatchKey, key)
		}
		out[i] = b
	}
	return out, nil
}
