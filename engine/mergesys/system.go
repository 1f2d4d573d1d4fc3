package mergesys

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-merge/common"
	"github.com/Carmen-Shannon/oxy-merge/engine/merge"
	"github.com/Carmen-Shannon/oxy-merge/engine/node"
)

const (
	defaultStartupGrace     = 3 * time.Second
	defaultLoadingThreshold = 3
	defaultWorkers          = 2
)

// LoadingCounter is told when the system starts and stops counting as "loading".
// Increase and Decrease are called alternately, starting with Increase.
type LoadingCounter interface {
	Increase()
	Decrease()
}

// mergeData is the bookkeeping for one owner.
type mergeData struct {
	owner    node.Node
	group    merge.Group
	attached bool

	children map[node.Node]struct{}
	loading  map[node.Node]struct{}
	merging  []node.Node
	merged   map[node.Node]struct{}

	// inFlight counts merge passes queued or running.
	inFlight int
	ops      []func()
	draining bool

	lastModification time.Time
	lastMerge        time.Time
}

type system struct {
	mu     sync.Mutex
	merges map[node.Node]*mergeData

	ctx    context.Context
	cancel context.CancelFunc
	pool   worker.DynamicWorkerPool
	wg     sync.WaitGroup
	taskID int

	workers          int
	startupGrace     time.Duration
	loadingThreshold int
	counter          LoadingCounter
	loadingReported  bool
	clock            func() time.Time
	start            time.Time
	groupOptions     []merge.GroupBuilderOption
	logger           *slog.Logger

	errMu   sync.Mutex
	errs    int
	lastErr error
}

// System keeps the merged batches of many owner nodes in step with their children as
// the children finish loading, move and go away.
//
// Each owner gets its own merge.Group. A child is merged once no sibling under the same
// owner is still loading: it receives slot indices, the original is hidden, and a clone
// expressed in the owner's local space is merged. The group's container is attached to
// the owner after the first merge. Removing a child shows the original again and clears
// it from the batches; updating a child re-snapshots it in place. A failed merge pass
// shows its children again and keeps them ready for the next pass.
//
// Batch work runs on a worker pool. Work for one owner runs in the order it was
// requested; different owners run in parallel. Failures are logged and counted.
// Containers are attached to owners from pool goroutines, so callers that walk an
// owner's children concurrently should Wait first.
type System interface {
	// AddMerge registers an owner. Registering twice is a no-op.
	//
	// Parameters:
	//   - owner: the node the merged container will be attached to
	AddMerge(owner node.Node)

	// AddLoadingChild records that child belongs to owner and is still loading.
	// The owner is registered if needed.
	//
	// Parameters:
	//   - owner: the owner node
	//   - child: the loading child
	AddLoadingChild(owner, child node.Node)

	// SetChildLoaded marks child as ready to merge. When no child of owner is still
	// loading, every ready child is merged in one pass.
	//
	// Parameters:
	//   - owner: the owner node
	//   - child: the child that finished loading
	SetChildLoaded(owner, child node.Node)

	// RemoveChild forgets child, makes the original visible again and clears it from
	// the batches if it was merged.
	//
	// Parameters:
	//   - owner: the owner node
	//   - child: the child to remove
	RemoveChild(owner, child node.Node)

	// UpdateChild re-snapshots a merged child at its current transform.
	//
	// Parameters:
	//   - owner: the owner node
	//   - child: the child that moved or changed
	UpdateChild(owner, child node.Node)

	// RemoveMerge forgets owner, detaching its container once pending work is done.
	//
	// Parameters:
	//   - owner: the owner node
	RemoveMerge(owner node.Node)

	// Tick updates the loading state and notifies the LoadingCounter on transitions.
	// The system counts as loading during the startup grace period, while any merge
	// pass is queued or running, and while any owner has more than the loading
	// threshold of children loading or waiting to merge.
	//
	// Parameters:
	//   - now: the current time
	//
	// Returns:
	//   - bool: true if the system counts as loading
	Tick(now time.Time) bool

	// Group returns the merge group of an owner.
	//
	// Parameters:
	//   - owner: the owner node
	//
	// Returns:
	//   - merge.Group: the group, or nil
	//   - bool: false if owner is not registered
	Group(owner node.Node) (merge.Group, bool)

	// LastMerge returns when the owner's last merge pass finished.
	//
	// Parameters:
	//   - owner: the owner node
	//
	// Returns:
	//   - time.Time: the time, zero if no pass has finished
	LastMerge(owner node.Node) time.Time

	// Wait blocks until all requested work has finished.
	Wait()

	// Errors returns the number of failed passes and the last failure.
	//
	// Returns:
	//   - int: the number of failed passes
	//   - error: the most recent failure, or nil
	Errors() (int, error)

	// Close cancels queued passes at their next yield point, waits for running work
	// and releases every group.
	Close()
}

var _ System = &system{}

// NewSystem creates a new System configured with the given options.
//
// Parameters:
//   - options: functional options to configure the system
//
// Returns:
//   - System: the newly created system
func NewSystem(options ...SystemBuilderOption) System {
	s := &system{
		merges:           make(map[node.Node]*mergeData),
		workers:          defaultWorkers,
		startupGrace:     defaultStartupGrace,
		loadingThreshold: defaultLoadingThreshold,
		clock:            time.Now,
		logger:           slog.Default(),
	}
	for _, option := range options {
		option(s)
	}
	s.start = s.clock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.pool = worker.NewDynamicWorkerPool(common.Coalesce(s.workers, 1), 256, 1*time.Second)
	return s
}

func (s *system) AddMerge(owner node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data(owner)
}

func (s *system) AddLoadingChild(owner, child node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.data(owner)
	d.lastModification = s.clock()
	d.children[child] = struct{}{}
	d.loading[child] = struct{}{}
}

func (s *system) SetChildLoaded(owner, child node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.merges[owner]
	if !ok {
		return
	}
	delete(d.loading, child)
	d.children[child] = struct{}{}
	if _, done := d.merged[child]; !done && !slices.Contains(d.merging, child) {
		d.merging = append(d.merging, child)
	}
	if len(d.loading) > 0 || len(d.merging) == 0 {
		return
	}

	originals := d.merging
	clones := make([]node.Node, 0, len(originals))
	for _, c := range originals {
		d.group.AllocateSlots(c)
		c.SetVisible(false)
		clones = append(clones, regionClone(d.owner, c))
		d.merged[c] = struct{}{}
	}
	d.merging = nil
	d.inFlight++

	start := s.clock()
	s.enqueue(d, func() {
		outcome, err := d.group.Merge(s.ctx, clones...)
		if err != nil {
			// Keys handled before the failure keep their data; take it out again so a
			// retry does not leave duplicates behind.
			cerr := d.group.Clear(context.WithoutCancel(s.ctx), clones...)
			if cerr != nil && !errors.Is(cerr, merge.ErrUnknownBatchKey) {
				s.logger.Warn("[MergeSystem] clearing failed merge", "error", cerr)
			}
		}
		s.mu.Lock()
		d.inFlight--
		switch {
		case err == nil && outcome == merge.OutcomeApplied:
			if !d.attached {
				d.owner.Add(d.group.Container())
				d.attached = true
			}
			d.lastMerge = s.clock()
		case err != nil || outcome == merge.OutcomeDropped:
			// Show the originals again and retry with the next loaded child.
			for _, c := range originals {
				delete(d.merged, c)
				c.SetVisible(true)
				if _, live := d.children[c]; live && !slices.Contains(d.merging, c) {
					d.merging = append(d.merging, c)
				}
			}
		}
		s.mu.Unlock()

		if err != nil {
			s.fail("merge", err)
			return
		}
		s.logger.Debug("[MergeSystem] merge pass done", "outcome", outcome, "children", len(clones), "duration", s.clock().Sub(start))
	})
}

func (s *system) RemoveChild(owner, child node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.merges[owner]
	if !ok {
		return
	}
	delete(d.children, child)
	delete(d.loading, child)
	if i := slices.Index(d.merging, child); i >= 0 {
		d.merging = slices.Delete(d.merging, i, i+1)
	}
	child.SetVisible(true)
	if _, ok := d.merged[child]; !ok {
		return
	}
	delete(d.merged, child)
	d.lastMerge = s.clock()

	s.enqueue(d, func() {
		if err := d.group.Clear(s.ctx, child); err != nil {
			s.fail("clear", err)
		}
	})
}

func (s *system) UpdateChild(owner, child node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.merges[owner]
	if !ok {
		return
	}
	if _, ok := d.merged[child]; !ok {
		return
	}
	clone := regionClone(d.owner, child)
	d.lastMerge = s.clock()

	s.enqueue(d, func() {
		if err := d.group.Update(s.ctx, clone); err != nil {
			s.fail("update", err)
		}
	})
}

func (s *system) RemoveMerge(owner node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.merges[owner]
	if !ok {
		return
	}
	delete(s.merges, owner)

	s.enqueue(d, func() {
		s.mu.Lock()
		if d.attached {
			d.owner.Remove(d.group.Container())
			d.attached = false
		}
		s.mu.Unlock()
		d.group.Close()
	})
}

func (s *system) Tick(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	loading := now.Sub(s.start) < s.startupGrace
	for _, d := range s.merges {
		if d.inFlight > 0 || len(d.loading) > s.loadingThreshold || len(d.merging) > s.loadingThreshold {
			loading = true
		}
	}

	switch {
	case loading && !s.loadingReported:
		s.loadingReported = true
		if s.counter != nil {
			s.counter.Increase()
		}
		s.logger.Info("[MergeSystem] loading started")
	case !loading && s.loadingReported:
		s.loadingReported = false
		if s.counter != nil {
			s.counter.Decrease()
		}
		s.logger.Info("[MergeSystem] loading finished")
	}
	return loading
}

func (s *system) Group(owner node.Node) (merge.Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.merges[owner]
	if !ok {
		return nil, false
	}
	return d.group, true
}

func (s *system) LastMerge(owner node.Node) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.merges[owner]; ok {
		return d.lastMerge
	}
	return time.Time{}
}

func (s *system) Wait() {
	s.wg.Wait()
}

func (s *system) Errors() (int, error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.errs, s.lastErr
}

func (s *system) Close() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	groups := make([]merge.Group, 0, len(s.merges))
	for _, d := range s.merges {
		groups = append(groups, d.group)
	}
	s.merges = make(map[node.Node]*mergeData)
	s.mu.Unlock()

	for _, g := range groups {
		g.Close()
	}
	s.pool.Stop()
}

// data returns the owner's bookkeeping, creating it on first use. Callers hold s.mu.
func (s *system) data(owner node.Node) *mergeData {
	if d, ok := s.merges[owner]; ok {
		return d
	}
	d := &mergeData{
		owner:    owner,
		group:    merge.NewGroup(append([]merge.GroupBuilderOption{merge.WithLogger(s.logger)}, s.groupOptions...)...),
		children: make(map[node.Node]struct{}),
		loading:  make(map[node.Node]struct{}),
		merged:   make(map[node.Node]struct{}),
	}
	s.merges[owner] = d
	return d
}

// enqueue appends op to the owner's queue and starts a drain task if none is running.
// Callers hold s.mu.
func (s *system) enqueue(d *mergeData, op func()) {
	s.wg.Add(1)
	d.ops = append(d.ops, op)
	if d.draining {
		return
	}
	d.draining = true
	id := s.taskID
	s.taskID++

	// SubmitTask can block on a full queue, and drain tasks take s.mu.
	go s.pool.SubmitTask(worker.Task{
		ID: id,
		Do: func() (any, error) {
			s.drain(d)
			return nil, nil
		},
	})
}

// drain runs the owner's queued ops in order until the queue is empty.
func (s *system) drain(d *mergeData) {
	for {
		s.mu.Lock()
		if len(d.ops) == 0 {
			d.draining = false
			s.mu.Unlock()
			return
		}
		op := d.ops[0]
		d.ops = d.ops[1:]
		s.mu.Unlock()

		op()
		s.wg.Done()
	}
}

func (s *system) fail(op string, err error) {
	if errors.Is(err, context.Canceled) {
		s.logger.Debug("[MergeSystem] pass canceled", "op", op)
		return
	}
	s.errMu.Lock()
	s.errs++
	s.lastErr = err
	s.errMu.Unlock()
	s.logger.Error("[MergeSystem] pass failed", "op", op, "error", err)
}

// regionClone copies child detached from its parent, with its world transform expressed
// in owner's local space. Only ancestor chains are refreshed: the owner's subtree holds
// the merge container, which pool tasks modify.
func regionClone(owner, child node.Node) node.Node {
	ow := owner.RefreshWorldMatrix()
	cw := child.RefreshWorldMatrix()

	var local [16]float32
	inv := make([]float32, 16)
	if common.Invert4(inv, ow[:]) {
		common.Mul4(local[:], inv, cw[:])
	} else {
		local = cw
	}

	c := node.Clone(child)
	c.SetMatrix(local)
	return c
}
