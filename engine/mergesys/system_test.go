package mergesys

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-merge/engine/batch"
	"github.com/Carmen-Shannon/oxy-merge/engine/geometry"
	"github.com/Carmen-Shannon/oxy-merge/engine/material"
	"github.com/Carmen-Shannon/oxy-merge/engine/merge"
	"github.com/Carmen-Shannon/oxy-merge/engine/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCounter struct {
	mu        sync.Mutex
	increases int
	decreases int
}

func (c *countingCounter) Increase() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.increases++
}

func (c *countingCounter) Decrease() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decreases++
}

type failingEngine struct {
	batch.Engine
}

func (failingEngine) Merge(context.Context, *batch.Batch, []batch.Snapshot, bool) error {
	return errors.New("out of buffer space")
}

var (
	cube  = geometry.NewBox(1, 1, 1, geometry.WithID("cube"))
	stone = material.NewMaterial(material.WithName("stone"))
)

func newTestSystem(options ...SystemBuilderOption) System {
	base := []SystemBuilderOption{
		WithStartupGrace(0),
		WithGroupOptions(merge.WithBakeWorkers(1)),
	}
	return NewSystem(append(base, options...)...)
}

// ownerWithChildren returns an owner at (100, 0, 0) holding n cube children spaced 2 apart.
func ownerWithChildren(n int) (node.Node, []node.Node) {
	owner := node.NewNode(node.WithName("region"), node.WithPosition(100, 0, 0))
	children := make([]node.Node, n)
	for i := range children {
		children[i] = node.NewNode(node.WithName("child"), node.WithPosition(float32(i)*2, 0, 0), node.WithMesh(cube, stone))
		owner.Add(children[i])
	}
	return owner, children
}

func batchOf(t *testing.T, s System, owner node.Node) *batch.Batch {
	t.Helper()
	g, ok := s.Group(owner)
	require.True(t, ok)
	b, ok := g.Batch("cube")
	require.True(t, ok)
	return b
}

func TestMergeWaitsForLastLoadingChild(t *testing.T) {
	s := newTestSystem()
	defer s.Close()
	owner, children := ownerWithChildren(2)

	for _, c := range children {
		s.AddLoadingChild(owner, c)
	}
	s.SetChildLoaded(owner, children[0])
	s.Wait()

	g, ok := s.Group(owner)
	require.True(t, ok)
	assert.Empty(t, g.Keys())
	assert.True(t, children[0].Visible())

	s.SetChildLoaded(owner, children[1])
	s.Wait()

	assert.Equal(t, 2, batchOf(t, s, owner).SlotCount())
	for _, c := range children {
		assert.False(t, c.Visible())
	}
	assert.Contains(t, owner.Children(), g.Container())
	assert.False(t, s.LastMerge(owner).IsZero())
}

func TestMergedDataIsOwnerLocal(t *testing.T) {
	s := newTestSystem()
	defer s.Close()
	owner, children := ownerWithChildren(1)
	children[0].SetPosition(2, 0, 0)

	s.AddLoadingChild(owner, children[0])
	s.SetChildLoaded(owner, children[0])
	s.Wait()

	bounds := batchOf(t, s, owner).Geometry().Bounds()
	assert.InDelta(t, 1.5, bounds.Min[0], 1e-4)
	assert.InDelta(t, 2.5, bounds.Max[0], 1e-4)
}

func TestLoadedTwiceMergesOnce(t *testing.T) {
	s := newTestSystem()
	defer s.Close()
	owner, children := ownerWithChildren(1)

	s.AddLoadingChild(owner, children[0])
	s.SetChildLoaded(owner, children[0])
	s.SetChildLoaded(owner, children[0])
	s.Wait()

	assert.Equal(t, 1, batchOf(t, s, owner).SlotCount())
}

func TestRemoveChildClearsAndShowsOriginal(t *testing.T) {
	s := newTestSystem()
	defer s.Close()
	owner, children := ownerWithChildren(3)
	for _, c := range children {
		s.AddLoadingChild(owner, c)
	}
	for _, c := range children {
		s.SetChildLoaded(owner, c)
	}
	s.Wait()

	s.RemoveChild(owner, children[1])
	s.Wait()

	b := batchOf(t, s, owner)
	assert.Equal(t, 2, b.SlotCount())
	assert.True(t, children[1].Visible())
	slot, ok := children[1].SlotIndex()
	require.True(t, ok)
	assert.False(t, b.HasSlot(slot))

	n, err := s.Errors()
	assert.Zero(t, n)
	assert.NoError(t, err)
}

func TestUpdateChildMovesBatchedData(t *testing.T) {
	s := newTestSystem()
	defer s.Close()
	owner, children := ownerWithChildren(1)
	s.AddLoadingChild(owner, children[0])
	s.SetChildLoaded(owner, children[0])
	s.Wait()

	children[0].SetPosition(0, 6, 0)
	s.UpdateChild(owner, children[0])
	s.Wait()

	b := batchOf(t, s, owner)
	assert.InDelta(t, 6.5, b.Geometry().Bounds().Max[1], 1e-4)
	assert.Equal(t, 1, b.SlotCount())
}

func TestUpdateUnmergedChildIsIgnored(t *testing.T) {
	s := newTestSystem()
	defer s.Close()
	owner, children := ownerWithChildren(2)
	s.AddLoadingChild(owner, children[0])
	s.AddLoadingChild(owner, children[1])
	s.SetChildLoaded(owner, children[0])

	s.UpdateChild(owner, children[0])
	s.RemoveChild(owner, children[0])
	s.Wait()

	n, _ := s.Errors()
	assert.Zero(t, n)
}

func TestRemoveMergeDetachesContainer(t *testing.T) {
	s := newTestSystem()
	defer s.Close()
	owner, children := ownerWithChildren(1)
	s.AddLoadingChild(owner, children[0])
	s.SetChildLoaded(owner, children[0])
	s.Wait()
	g, _ := s.Group(owner)
	require.Contains(t, owner.Children(), g.Container())

	s.RemoveMerge(owner)
	s.Wait()

	assert.NotContains(t, owner.Children(), g.Container())
	_, ok := s.Group(owner)
	assert.False(t, ok)
}

func TestTickReportsTransitionsOnce(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	counter := &countingCounter{}
	s := NewSystem(
		WithClock(func() time.Time { return base }),
		WithLoadingCounter(counter),
	)
	defer s.Close()

	assert.True(t, s.Tick(base.Add(time.Second)))
	assert.True(t, s.Tick(base.Add(2*time.Second)))
	assert.Equal(t, 1, counter.increases)

	assert.False(t, s.Tick(base.Add(4*time.Second)))
	assert.False(t, s.Tick(base.Add(5*time.Second)))
	assert.Equal(t, 1, counter.decreases)

	owner, children := ownerWithChildren(4)
	for _, c := range children {
		s.AddLoadingChild(owner, c)
	}
	assert.True(t, s.Tick(base.Add(6*time.Second)))
	assert.Equal(t, 2, counter.increases)

	s.RemoveChild(owner, children[0])
	assert.False(t, s.Tick(base.Add(7*time.Second)))
	assert.Equal(t, 2, counter.decreases)
}

func TestFailedPassIsCounted(t *testing.T) {
	s := newTestSystem(WithGroupOptions(merge.WithEngine(failingEngine{Engine: batch.NewEngine()})))
	defer s.Close()
	owner, children := ownerWithChildren(1)
	s.AddLoadingChild(owner, children[0])
	s.SetChildLoaded(owner, children[0])
	s.Wait()

	n, err := s.Errors()
	assert.Equal(t, 1, n)
	assert.EqualError(t, err, "out of buffer space")
	g, _ := s.Group(owner)
	assert.NotContains(t, owner.Children(), g.Container())
	assert.True(t, children[0].Visible())
	assert.Zero(t, batchOf(t, s, owner).SlotCount())

	// The child is still ready to merge, so the next loaded sibling retries it.
	s.SetChildLoaded(owner, children[0])
	s.Wait()
	n, _ = s.Errors()
	assert.Equal(t, 2, n)
	assert.True(t, children[0].Visible())
}

func TestLoadingChildrenWhileContainerGrows(t *testing.T) {
	s := newTestSystem()
	defer s.Close()
	owner, children := ownerWithChildren(1)
	s.AddLoadingChild(owner, children[0])
	s.SetChildLoaded(owner, children[0])
	s.Wait()
	g, _ := s.Group(owner)
	require.Contains(t, owner.Children(), g.Container())

	// Every new geometry adds a merged mesh to the container on a pool goroutine while
	// the caller keeps cloning children relative to the owner.
	const extra = 20
	for i := range extra {
		shape := geometry.NewBox(1, 1, 1, geometry.WithID(fmt.Sprintf("shape%d", i)))
		c := node.NewNode(node.WithPosition(0, float32(i), 0), node.WithMesh(shape, stone))
		owner.Add(c)
		s.AddLoadingChild(owner, c)
		s.SetChildLoaded(owner, c)
		children[0].SetPosition(float32(i), 0, 0)
		s.UpdateChild(owner, children[0])
	}
	s.Wait()

	n, err := s.Errors()
	assert.Zero(t, n)
	assert.NoError(t, err)
	assert.Len(t, g.Keys(), extra+1)
	assert.Len(t, g.Container().Children(), extra+1)
	assert.InDelta(t, extra-1+0.5, batchOf(t, s, owner).Geometry().Bounds().Max[0], 1e-4)
}
