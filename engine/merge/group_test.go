package merge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Carmen-Shannon/oxy-merge/engine/batch"
	"github.com/Carmen-Shannon/oxy-merge/engine/geometry"
	"github.com/Carmen-Shannon/oxy-merge/engine/material"
	"github.com/Carmen-Shannon/oxy-merge/engine/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingEngine holds the first Merge call until release is closed.
type blockingEngine struct {
	batch.Engine
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{
		Engine:  batch.NewEngine(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (e *blockingEngine) Merge(ctx context.Context, b *batch.Batch, snaps []batch.Snapshot, isUpdate bool) error {
	e.once.Do(func() {
		close(e.entered)
		<-e.release
	})
	return e.Engine.Merge(ctx, b, snaps, isUpdate)
}

// failingEngine fails every Merge with err.
type failingEngine struct {
	batch.Engine
	err   error
	calls int
}

func (e *failingEngine) Merge(context.Context, *batch.Batch, []batch.Snapshot, bool) error {
	e.calls++
	return e.err
}

var (
	cube = geometry.NewBox(1, 1, 1, geometry.WithID("cube"))
	ball = geometry.NewBox(0.5, 0.5, 0.5, geometry.WithID("ball"))
	red  = material.NewMaterial(material.WithName("red"))
)

// subtree returns a group node at x holding one mesh leaf of g.
func subtree(name string, x float32, g *geometry.Geometry) node.Node {
	return node.NewNode(
		node.WithName(name),
		node.WithPosition(x, 0, 0),
		node.WithChildren(node.NewNode(node.WithName(name+"/mesh"), node.WithMesh(g, red))),
	)
}

func newTestGroup(options ...GroupBuilderOption) Group {
	base := []GroupBuilderOption{WithAllocator(NewAllocator(0)), WithBakeWorkers(1)}
	g := NewGroup(append(base, options...)...)
	return g
}

func leafSlot(t *testing.T, root node.Node) uint32 {
	t.Helper()
	var slot uint32
	found := false
	root.Traverse(func(n node.Node) bool {
		if n.IsMesh() && !found {
			slot, found = n.SlotIndex()
		}
		return true
	})
	require.True(t, found)
	return slot
}

func checksum(t *testing.T, b *batch.Batch) uint64 {
	t.Helper()
	sum, err := b.Checksum()
	require.NoError(t, err)
	return sum
}

func TestAllocateSlotsPreOrder(t *testing.T) {
	g := newTestGroup(WithAllocator(NewAllocator(10)))
	defer g.Close()

	leaf := node.NewNode(node.WithName("leaf"))
	mid := node.NewNode(node.WithName("mid"), node.WithChildren(leaf))
	sibling := node.NewNode(node.WithName("sibling"))
	root := node.NewNode(node.WithName("root"), node.WithChildren(mid, sibling))

	first, count := g.AllocateSlots(root)
	assert.Equal(t, uint32(10), first)
	assert.Equal(t, 4, count)

	want := map[string]uint32{"root": 10, "mid": 11, "leaf": 12, "sibling": 13}
	for i := 0; i < 2; i++ {
		root.Traverse(func(n node.Node) bool {
			slot, ok := n.SlotIndex()
			assert.True(t, ok)
			assert.Equal(t, want[n.Name()], slot, n.Name())
			return true
		})
	}

	first, _ = g.AllocateSlots(root)
	assert.Equal(t, uint32(14), first)
	slot, _ := root.SlotIndex()
	assert.Equal(t, uint32(14), slot)
}

func TestAllocatorsAreIndependent(t *testing.T) {
	a := newTestGroup()
	b := newTestGroup()
	defer a.Close()
	defer b.Close()

	a.AllocateSlots(subtree("a", 0, cube))
	first, _ := b.AllocateSlots(subtree("b", 0, cube))
	assert.Equal(t, uint32(0), first)
}

func TestMergeThenClearCubeScenario(t *testing.T) {
	g := newTestGroup()
	defer g.Close()
	ctx := context.Background()

	a := subtree("a", 0, cube)
	b := subtree("b", 5, cube)
	g.AllocateSlots(a)
	g.AllocateSlots(b)

	outcome, err := g.Merge(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, []string{"cube"}, g.Keys())

	bt, ok := g.Batch("cube")
	require.True(t, ok)
	assert.Equal(t, 2, bt.SlotCount())
	assert.Len(t, g.Container().Children(), 1)
	assert.Same(t, bt.Geometry(), g.Container().Children()[0].Geometry())
	assert.Equal(t, red, bt.Material())

	require.NoError(t, g.Clear(ctx, a))
	assert.Equal(t, 1, bt.SlotCount())
	assert.True(t, bt.HasSlot(leafSlot(t, b)))
	assert.False(t, bt.HasSlot(leafSlot(t, a)))
	assert.Equal(t, 24, bt.VertexCount())
}

func TestMergeGroupsByGeometryIdentity(t *testing.T) {
	g := newTestGroup()
	defer g.Close()

	roots := []node.Node{subtree("a", 0, ball), subtree("b", 3, cube), subtree("c", -7, ball.Clone())}
	for _, r := range roots {
		r.SetRotationEuler(0, float32(len(r.Name())), 0)
		g.AllocateSlots(r)
	}

	_, err := g.Merge(context.Background(), roots...)
	require.NoError(t, err)

	assert.Equal(t, []string{"ball", "cube"}, g.Keys())
	balls, _ := g.Batch("ball")
	cubes, _ := g.Batch("cube")
	assert.Equal(t, 2, balls.SlotCount())
	assert.Equal(t, 1, cubes.SlotCount())

	stats := g.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, KeyStats{Key: "ball", Slots: 2, Vertices: 48, Indices: 72, Version: 1}, stats[0])
}

func TestMergeBakesWorldTransform(t *testing.T) {
	g := newTestGroup()
	defer g.Close()

	parent := node.NewNode(node.WithPosition(0, 10, 0), node.WithChildren(subtree("a", 4, cube)))
	g.AllocateSlots(parent)

	_, err := g.Merge(context.Background(), parent)
	require.NoError(t, err)

	bt, _ := g.Batch("cube")
	bounds := bt.Geometry().Bounds()
	assert.InDelta(t, 3.5, bounds.Min[0], 1e-5)
	assert.InDelta(t, 10.5, bounds.Max[1], 1e-5)
	assert.Equal(t, [3]float32{-0.5, -0.5, -0.5}, cube.Bounds().Min, "source geometry is untouched")
}

func TestMergeWithOriginBakesRegionLocal(t *testing.T) {
	origin := node.NewNode(node.WithPosition(10, 0, 0))
	g := newTestGroup(WithOrigin(origin))
	defer g.Close()

	a := subtree("a", 12, cube)
	g.AllocateSlots(a)
	_, err := g.Merge(context.Background(), a)
	require.NoError(t, err)

	bt, _ := g.Batch("cube")
	b := bt.Geometry().Bounds()
	assert.InDelta(t, 1.5, b.Min[0], 1e-5)
	assert.InDelta(t, 2.5, b.Max[0], 1e-5)
}

func TestUnindexedLeafFailsBeforeMutation(t *testing.T) {
	g := newTestGroup()
	defer g.Close()
	ctx := context.Background()

	fresh := subtree("fresh", 0, cube)
	_, err := g.Merge(ctx, fresh)
	assert.ErrorIs(t, err, ErrUnindexedGeometry)
	assert.Empty(t, g.Keys())

	a := subtree("a", 0, cube)
	g.AllocateSlots(a)
	_, err = g.Merge(ctx, a)
	require.NoError(t, err)
	bt, _ := g.Batch("cube")
	before := checksum(t, bt)

	b := subtree("b", 1, cube)
	g.AllocateSlots(b)
	c := subtree("c", 2, ball)
	_, err = g.Merge(ctx, b, c)
	assert.ErrorIs(t, err, ErrUnindexedGeometry)
	assert.Equal(t, []string{"cube"}, g.Keys())
	assert.Equal(t, before, checksum(t, bt))

	assert.ErrorIs(t, g.Update(ctx, c), ErrUnindexedGeometry)
	assert.ErrorIs(t, g.Clear(ctx, c), ErrUnindexedGeometry)
	assert.Equal(t, before, checksum(t, bt))
}

func TestClearAndUpdateRejectUnknownKey(t *testing.T) {
	g := newTestGroup()
	defer g.Close()
	ctx := context.Background()

	a := subtree("a", 0, cube)
	g.AllocateSlots(a)
	_, err := g.Merge(ctx, a)
	require.NoError(t, err)
	bt, _ := g.Batch("cube")
	before := checksum(t, bt)

	b := subtree("b", 0, ball)
	g.AllocateSlots(b)
	assert.ErrorIs(t, g.Clear(ctx, a, b), ErrUnknownBatchKey)
	assert.ErrorIs(t, g.Update(ctx, a, b), ErrUnknownBatchKey)
	assert.Equal(t, before, checksum(t, bt))
	assert.Equal(t, 1, bt.SlotCount())
}

func TestUpdateIsIdempotent(t *testing.T) {
	g := newTestGroup()
	defer g.Close()
	ctx := context.Background()

	a := subtree("a", 0, cube)
	b := subtree("b", 3, cube)
	g.AllocateSlots(a)
	g.AllocateSlots(b)
	_, err := g.Merge(ctx, a, b)
	require.NoError(t, err)

	a.SetPosition(0, 7, 0)
	require.NoError(t, g.Update(ctx, a))
	bt, _ := g.Batch("cube")
	once := checksum(t, bt)
	assert.InDelta(t, 7.5, bt.Geometry().Bounds().Max[1], 1e-5)

	require.NoError(t, g.Update(ctx, a))
	assert.Equal(t, once, checksum(t, bt))
	assert.Equal(t, 2, bt.SlotCount())
	assert.Equal(t, []string{"cube"}, g.Keys())
}

func TestMergeThenClearRestoresBatch(t *testing.T) {
	g := newTestGroup()
	defer g.Close()
	ctx := context.Background()

	a := subtree("a", 0, cube)
	g.AllocateSlots(a)
	_, err := g.Merge(ctx, a)
	require.NoError(t, err)
	bt, _ := g.Batch("cube")
	before := checksum(t, bt)
	size := bt.VertexCount()

	tr := node.NewNode(node.WithChildren(subtree("t1", 2, cube), subtree("t2", 4, cube)))
	g.AllocateSlots(tr)
	_, err = g.Merge(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, 3*size, bt.VertexCount())

	require.NoError(t, g.Clear(ctx, tr))
	assert.Equal(t, size, bt.VertexCount())
	assert.Equal(t, before, checksum(t, bt))
}

func TestMergeDropsWhileInFlight(t *testing.T) {
	e := newBlockingEngine()
	g := newTestGroup(WithEngine(e))
	defer g.Close()
	ctx := context.Background()

	first := subtree("first", 0, cube)
	second := subtree("second", 5, cube)
	g.AllocateSlots(first)
	g.AllocateSlots(second)

	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		o, err := g.Merge(ctx, first)
		done <- result{o, err}
	}()

	<-e.entered
	assert.Equal(t, StateMerging, g.State())
	outcome, err := g.Merge(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, outcome)

	close(e.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, OutcomeApplied, res.outcome)
	assert.Equal(t, StateIdle, g.State())

	bt, _ := g.Batch("cube")
	assert.Equal(t, 1, bt.SlotCount())
	assert.True(t, bt.HasSlot(leafSlot(t, first)))
	assert.False(t, bt.HasSlot(leafSlot(t, second)))
}

func TestMergeCoalescesLatestRequest(t *testing.T) {
	e := newBlockingEngine()
	g := newTestGroup(WithEngine(e), WithCoalescing(true))
	defer g.Close()
	ctx := context.Background()

	first := subtree("first", 0, cube)
	second := subtree("second", 5, cube)
	third := subtree("third", 9, cube)
	for _, r := range []node.Node{first, second, third} {
		g.AllocateSlots(r)
	}

	done := make(chan error, 1)
	go func() {
		_, err := g.Merge(ctx, first)
		done <- err
	}()

	<-e.entered
	outcome, err := g.Merge(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
	outcome, err = g.Merge(ctx, third)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)

	close(e.release)
	require.NoError(t, <-done)

	bt, _ := g.Batch("cube")
	assert.Equal(t, 2, bt.SlotCount())
	assert.True(t, bt.HasSlot(leafSlot(t, third)))
	assert.False(t, bt.HasSlot(leafSlot(t, second)))
}

func TestEngineErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	e := &failingEngine{Engine: batch.NewEngine(), err: boom}
	g := newTestGroup(WithEngine(e))
	defer g.Close()

	a := subtree("a", 0, cube)
	b := subtree("b", 0, ball)
	g.AllocateSlots(a)
	g.AllocateSlots(b)

	outcome, err := g.Merge(context.Background(), a, b)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Same(t, boom, err)
	assert.Equal(t, 1, e.calls)
	assert.Equal(t, StateIdle, g.State())
}

func TestYieldCadenceKeepsTraversalOrder(t *testing.T) {
	yields := 0
	g := newTestGroup(
		WithYieldEvery(3),
		WithYielder(YieldFunc(func(ctx context.Context) error {
			yields++
			return nil
		})),
	)
	defer g.Close()

	root := node.NewNode()
	for i := 0; i < 10; i++ {
		root.Add(subtree("leaf", float32(i), cube))
	}
	g.AllocateSlots(root)

	_, err := g.Merge(context.Background(), root)
	require.NoError(t, err)
	// Three during the traversal (after leaves 3, 6, 9) and three between bake steps.
	assert.Equal(t, 6, yields)

	bt, _ := g.Batch("cube")
	slots := bt.Slots()
	require.Len(t, slots, 10)
	for i, c := range root.Children() {
		assert.Equal(t, leafSlot(t, c), slots[i].Slot)
	}
}

func TestCancelAtYieldAbortsBeforeMutation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := newTestGroup(
		WithYieldEvery(1),
		WithYielder(YieldFunc(func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})),
	)
	defer g.Close()

	a := subtree("a", 0, cube)
	g.AllocateSlots(a)

	outcome, err := g.Merge(ctx, a)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, g.Keys())
	assert.Empty(t, g.Container().Children())
}

func TestCancelWhileBakingAbortsBeforeMutation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	yields := 0
	g := newTestGroup(
		WithYieldEvery(2),
		WithYielder(YieldFunc(func(ctx context.Context) error {
			yields++
			if yields == 2 {
				cancel()
			}
			return ctx.Err()
		})),
	)
	defer g.Close()

	// One yield after the second leaf of the traversal, the next one inside the bake.
	root := node.NewNode()
	for i := 0; i < 3; i++ {
		root.Add(subtree("leaf", float32(i), cube))
	}
	g.AllocateSlots(root)

	_, err := g.Merge(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, yields)
	assert.Empty(t, g.Keys())
}

func TestParallelBakePreservesOrder(t *testing.T) {
	g := NewGroup(WithBakeWorkers(4), WithYieldEvery(0))
	defer g.Close()

	root := node.NewNode()
	for i := 0; i < 150; i++ {
		root.Add(subtree("leaf", float32(i)*2, cube))
	}
	g.AllocateSlots(root)

	_, err := g.Merge(context.Background(), root)
	require.NoError(t, err)

	bt, _ := g.Batch("cube")
	slots := bt.Slots()
	require.Len(t, slots, 150)
	pos := bt.Geometry().Positions
	for i, c := range root.Children() {
		assert.Equal(t, leafSlot(t, c), slots[i].Slot)
		assert.InDelta(t, float32(i)*2-0.5, pos[slots[i].VertexStart][0], 1.01)
	}
}

func TestShadowFlagsOnMergedMesh(t *testing.T) {
	g := newTestGroup(WithShadows(false, true))
	defer g.Close()

	a := subtree("a", 0, cube)
	g.AllocateSlots(a)
	_, err := g.Merge(context.Background(), a)
	require.NoError(t, err)

	mesh := g.Container().Children()[0]
	assert.False(t, mesh.CastShadow())
	assert.True(t, mesh.ReceiveShadow())
}
