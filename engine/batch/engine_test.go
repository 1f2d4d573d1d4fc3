package batch

import (
	"context"
	"testing"

	"github.com/Carmen-Shannon/oxy-merge/engine/geometry"
	"github.com/Carmen-Shannon/oxy-merge/engine/material"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// triangle returns a one-triangle geometry translated by x.
func triangle(x float32) *geometry.Geometry {
	return geometry.NewGeometry(
		geometry.WithID("tri"),
		geometry.WithPositions([][3]float32{{x, 0, 0}, {x + 1, 0, 0}, {x, 1, 0}}),
		geometry.WithIndices([]uint32{0, 1, 2}),
	)
}

func quad(x float32) *geometry.Geometry {
	return geometry.NewPlane(1, 1, geometry.WithID("tri"), geometry.WithPositions([][3]float32{{x, 0, 0}, {x + 1, 0, 0}, {x + 1, 0, 1}, {x, 0, 1}}))
}

func snap(slot uint32, g *geometry.Geometry) Snapshot {
	return Snapshot{Geometry: g, Slot: slot}
}

func checksum(t *testing.T, b *Batch) uint64 {
	t.Helper()
	sum, err := b.Checksum()
	require.NoError(t, err)
	return sum
}

func TestMergeAppendsAndOffsetsIndices(t *testing.T) {
	e := NewEngine()
	b := NewBatch("tri", material.NewMaterial())

	require.NoError(t, e.Merge(context.Background(), b, []Snapshot{snap(1, triangle(0)), snap(2, triangle(5))}, false))

	assert.Equal(t, 6, b.VertexCount())
	assert.Equal(t, 6, b.IndexCount())
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5}, b.Geometry().Indices)
	assert.Equal(t, []SlotRange{
		{Slot: 1, VertexStart: 0, VertexCount: 3, IndexStart: 0, IndexCount: 3},
		{Slot: 2, VertexStart: 3, VertexCount: 3, IndexStart: 3, IndexCount: 3},
	}, b.Slots())
	assert.Equal(t, uint64(1), b.Version())
}

func TestMergeFillsMissingAttributes(t *testing.T) {
	e := NewEngine()
	b := NewBatch("tri", material.NewMaterial())
	require.NoError(t, e.Merge(context.Background(), b, []Snapshot{snap(0, triangle(0))}, false))

	g := b.Geometry()
	require.Len(t, g.Colors, 3)
	assert.Equal(t, [4]float32{1, 1, 1, 1}, g.Colors[0])
	assert.Equal(t, [3]float32{}, g.Normals[2])
	assert.Len(t, b.VertexBytes(), 3*geometry.GPUVertexSize)
	assert.Len(t, b.IndexBytes(), 12)
}

func TestMergeNonIndexedGetsSequentialIndices(t *testing.T) {
	e := NewEngine()
	b := NewBatch("tri", material.NewMaterial())
	plain := geometry.NewGeometry(geometry.WithPositions([][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}))

	require.NoError(t, e.Merge(context.Background(), b, []Snapshot{snap(0, triangle(0)), snap(1, plain)}, false))
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5}, b.Geometry().Indices)
}

func TestMergeRejectsExistingSlotWithoutWriting(t *testing.T) {
	e := NewEngine()
	b := NewBatch("tri", material.NewMaterial())
	require.NoError(t, e.Merge(context.Background(), b, []Snapshot{snap(1, triangle(0))}, false))
	before := checksum(t, b)

	err := e.Merge(context.Background(), b, []Snapshot{snap(2, triangle(1)), snap(1, triangle(2))}, false)
	assert.ErrorIs(t, err, ErrSlotExists)
	assert.Equal(t, before, checksum(t, b))
	assert.False(t, b.HasSlot(2))

	err = e.Merge(context.Background(), b, []Snapshot{snap(3, triangle(1)), snap(3, triangle(2))}, false)
	assert.ErrorIs(t, err, ErrSlotExists)
	assert.Equal(t, 1, b.SlotCount())
}

func TestMergeRejectsEmptySnapshot(t *testing.T) {
	e := NewEngine()
	b := NewBatch("tri", material.NewMaterial())
	err := e.Merge(context.Background(), b, []Snapshot{{Slot: 4}}, false)
	assert.ErrorIs(t, err, ErrEmptySnapshot)
	assert.Equal(t, uint64(0), b.Version())
}

func TestMergeAsUpdateReplacesOrAppends(t *testing.T) {
	e := NewEngine()
	b := NewBatch("tri", material.NewMaterial())
	require.NoError(t, e.Merge(context.Background(), b, []Snapshot{snap(1, triangle(0))}, false))

	require.NoError(t, e.Merge(context.Background(), b, []Snapshot{snap(1, triangle(9)), snap(2, triangle(3))}, true))

	assert.Equal(t, 2, b.SlotCount())
	assert.Equal(t, float32(9), b.Geometry().Positions[0][0])
	assert.Equal(t, float32(3), b.Geometry().Positions[3][0])
}

func TestEmptySnapshotListIsNoop(t *testing.T) {
	e := NewEngine()
	b := NewBatch("tri", material.NewMaterial())
	ctx := context.Background()

	require.NoError(t, e.Merge(ctx, b, nil, false))
	require.NoError(t, e.Clear(ctx, b, nil))
	require.NoError(t, e.Update(ctx, b, nil))
	assert.Equal(t, uint64(0), b.Version())
}

func TestClearCompactsAndRebasesIndices(t *testing.T) {
	e := NewEngine()
	b := NewBatch("tri", material.NewMaterial())
	ctx := context.Background()
	require.NoError(t, e.Merge(ctx, b, []Snapshot{snap(1, triangle(0)), snap(2, triangle(5)), snap(3, triangle(10))}, false))

	require.NoError(t, e.Clear(ctx, b, []Snapshot{snap(2, nil), snap(99, nil)}))

	assert.Equal(t, 6, b.VertexCount())
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5}, b.Geometry().Indices)
	assert.Equal(t, float32(10), b.Geometry().Positions[3][0])
	assert.False(t, b.HasSlot(2))
	assert.True(t, b.HasSlot(3))
	assert.Equal(t, 3, b.Slots()[1].VertexStart)
}

func TestClearIsInverseOfMerge(t *testing.T) {
	e := NewEngine()
	b := NewBatch("tri", material.NewMaterial())
	ctx := context.Background()
	require.NoError(t, e.Merge(ctx, b, []Snapshot{snap(1, triangle(0))}, false))
	before := checksum(t, b)

	extra := []Snapshot{snap(2, triangle(4)), snap(3, quad(8))}
	require.NoError(t, e.Merge(ctx, b, extra, false))
	require.NoError(t, e.Clear(ctx, b, extra))

	assert.Equal(t, before, checksum(t, b))

	require.NoError(t, e.Clear(ctx, b, extra))
	assert.Equal(t, before, checksum(t, b))
}

func TestUpdateInPlaceIsIdempotent(t *testing.T) {
	e := NewEngine()
	b := NewBatch("tri", material.NewMaterial())
	ctx := context.Background()
	snaps := []Snapshot{snap(1, triangle(0)), snap(2, triangle(5))}
	require.NoError(t, e.Merge(ctx, b, snaps, false))
	before := checksum(t, b)

	require.NoError(t, e.Update(ctx, b, snaps))
	assert.Equal(t, before, checksum(t, b))
	assert.Equal(t, uint64(2), b.Version())
}

func TestUpdateRejectsUnknownSlot(t *testing.T) {
	e := NewEngine()
	b := NewBatch("tri", material.NewMaterial())
	ctx := context.Background()
	require.NoError(t, e.Merge(ctx, b, []Snapshot{snap(1, triangle(0))}, false))
	before := checksum(t, b)

	err := e.Update(ctx, b, []Snapshot{snap(1, triangle(7)), snap(5, triangle(0))})
	assert.ErrorIs(t, err, ErrUnknownSlot)
	assert.Equal(t, before, checksum(t, b))
}

func TestUpdateResizedSlotSplicesInPlace(t *testing.T) {
	e := NewEngine()
	b := NewBatch("tri", material.NewMaterial())
	ctx := context.Background()
	require.NoError(t, e.Merge(ctx, b, []Snapshot{snap(1, triangle(0)), snap(2, triangle(5)), snap(3, triangle(10))}, false))

	require.NoError(t, e.Update(ctx, b, []Snapshot{snap(2, quad(5))}))

	slots := b.Slots()
	require.Len(t, slots, 3)
	assert.Equal(t, uint32(2), slots[1].Slot)
	assert.Equal(t, 4, slots[1].VertexCount)
	assert.Equal(t, 6, slots[1].IndexCount)
	assert.Equal(t, 7, slots[2].VertexStart)
	assert.Equal(t, 9, slots[2].IndexStart)
	assert.Equal(t, []uint32{7, 8, 9}, b.Geometry().Indices[9:])
	assert.Equal(t, float32(10), b.Geometry().Positions[7][0])
}

func TestCanceledContextWritesNothing(t *testing.T) {
	e := NewEngine()
	b := NewBatch("tri", material.NewMaterial())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Merge(ctx, b, []Snapshot{snap(1, triangle(0))}, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.SlotCount())
}

func TestChecksumDependsOnSlotTable(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()
	a := NewBatch("tri", material.NewMaterial())
	c := NewBatch("tri", material.NewMaterial())
	require.NoError(t, e.Merge(ctx, a, []Snapshot{snap(1, triangle(0))}, false))
	require.NoError(t, e.Merge(ctx, c, []Snapshot{snap(2, triangle(0))}, false))

	assert.Equal(t, a.VertexBytes(), c.VertexBytes())
	assert.NotEqual(t, checksum(t, a), checksum(t, c))
}
