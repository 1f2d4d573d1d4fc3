package merge

import (
	"context"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-merge/common"
	"github.com/Carmen-Shannon/oxy-merge/engine/batch"
	"github.com/Carmen-Shannon/oxy-merge/engine/node"
)

// bakeChunk is the number of leaves one pool task bakes.
const bakeChunk = 32

// leafJob is one mesh leaf found by the traversal, waiting to be baked.
type leafJob struct {
	leaf  node.Node
	key   string
	slot  uint32
	world [16]float32
}

// collection is the result of one traversal: snapshots grouped by the original geometry
// identity, and the keys in first-observed order.
type collection struct {
	byKey  map[string][]batch.Snapshot
	keys   []string
	leaves int
}

// collector walks subtrees and produces world-baked snapshots.
type collector struct {
	yieldEvery int
	yielder    Yielder
	pool       worker.DynamicWorkerPool
	origin     node.Node
}

// collect traverses roots depth-first in the given order and snapshots every mesh leaf.
// It fails with ErrUnindexedGeometry on the first leaf that has no slot index, and with
// the yielder's error if the pass is canceled at a yield point.
func (c *collector) collect(ctx context.Context, roots []node.Node) (*collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var jobs []leafJob
	var walkErr error
	for _, root := range roots {
		if root == nil {
			continue
		}
		root.Traverse(func(n node.Node) bool {
			if walkErr != nil {
				return false
			}
			if !n.IsMesh() {
				return true
			}
			slot, ok := n.SlotIndex()
			if !ok {
				walkErr = fmt.Errorf("%w: node %q (geometry %s)", ErrUnindexedGeometry, n.Name(), n.Geometry().ID)
				return false
			}
			jobs = append(jobs, leafJob{leaf: n, key: n.Geometry().ID, slot: slot, world: n.RefreshWorldMatrix()})

			if c.yieldEvery > 0 && len(jobs)%c.yieldEvery == 0 {
				walkErr = c.yielder.Yield(ctx)
			}
			return walkErr == nil
		})
		if walkErr != nil {
			return nil, walkErr
		}
	}

	snaps, err := c.bake(ctx, jobs)
	if err != nil {
		return nil, err
	}

	out := &collection{byKey: make(map[string][]batch.Snapshot), leaves: len(jobs)}
	for i, job := range jobs {
		if _, ok := out.byKey[job.key]; !ok {
			out.keys = append(out.keys, job.key)
		}
		out.byKey[job.key] = append(out.byKey[job.key], snaps[i])
	}
	return out, nil
}

// bake clones every leaf's geometry and applies its world (or origin-relative) matrix.
// Results are written by job index, so the output order matches the traversal. The
// serial path yields every yieldEvery leaves; the pool path runs chunks in parallel.
func (c *collector) bake(ctx context.Context, jobs []leafJob) ([]batch.Snapshot, error) {
	var toLocal []float32
	if c.origin != nil {
		ow := c.origin.RefreshWorldMatrix()
		inv := make([]float32, 16)
		if !common.Invert4(inv, ow[:]) {
			return nil, fmt.Errorf("%w: origin %q", ErrSingularOrigin, c.origin.Name())
		}
		toLocal = inv
	}

	snaps := make([]batch.Snapshot, len(jobs))
	bakeRange := func(from, to int) {
		m := make([]float32, 16)
		for i := from; i < to; i++ {
			job := &jobs[i]
			if toLocal != nil {
				common.Mul4(m, toLocal, job.world[:])
			} else {
				copy(m, job.world[:])
			}
			g := job.leaf.Geometry().Clone()
			g.ApplyMatrix(m)
			snaps[i] = batch.Snapshot{Geometry: g, Material: job.leaf.Material(), Slot: job.slot}
		}
	}

	if c.pool == nil || len(jobs) <= bakeChunk {
		step := len(jobs)
		if c.yieldEvery > 0 {
			step = c.yieldEvery
		}
		for from := 0; from < len(jobs); from += step {
			if from > 0 {
				if err := c.yielder.Yield(ctx); err != nil {
					return nil, err
				}
			}
			bakeRange(from, min(from+step, len(jobs)))
		}
		return snaps, ctx.Err()
	}

	var wg sync.WaitGroup
	taskID := 0
	for from := 0; from < len(jobs); from += bakeChunk {
		to := min(from+bakeChunk, len(jobs))
		wg.Add(1)
		f, t := from, to
		c.pool.SubmitTask(worker.Task{
			ID: taskID,
			Do: func() (any, error) {
				defer wg.Done()
				bakeRange(f, t)
				return nil, nil
			},
		})
		taskID++
	}
	wg.Wait()
	return snaps, ctx.Err()
}
