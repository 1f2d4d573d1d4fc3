package batch

import (
	"encoding/binary"
	"sync"

	"github.com/Carmen-Shannon/oxy-merge/common"
	"github.com/Carmen-Shannon/oxy-merge/engine/geometry"
	"github.com/Carmen-Shannon/oxy-merge/engine/material"
	"github.com/minio/highwayhash"
)

// checksumKey is the fixed 256-bit key for batch fingerprints. Checksums only need to
// be comparable within one process.
var checksumKey = []byte("oxy-merge.batch.checksum.key.256")

// Snapshot is one mesh leaf prepared for batching: a world-baked clone of the leaf's
// geometry, the material it is drawn with, and the slot index the leaf was assigned.
type Snapshot struct {
	Geometry *geometry.Geometry
	Material material.Material
	Slot     uint32
}

// SlotRange locates one slot's data inside the merged buffers.
type SlotRange struct {
	Slot        uint32
	VertexStart int
	VertexCount int
	IndexStart  int
	IndexCount  int
}

// Batch is the merged draw data for every mesh leaf sharing one geometry identity.
//
// The merged geometry always carries every attribute for every vertex, so its
// buffers can be interleaved into GPUVertex records directly. Slot ranges are kept
// in storage order and are contiguous. A Batch is only mutated through an Engine;
// its read accessors are safe to call while an engine pass runs on another goroutine.
type Batch struct {
	mu sync.RWMutex

	key     string
	mat     material.Material
	geom    *geometry.Geometry
	slots   []SlotRange
	lookup  map[uint32]int
	version uint64
}

// NewBatch creates an empty batch for the given geometry key, drawn with m.
//
// Parameters:
//   - key: the geometry identity the batch merges
//   - m: the material the batch is drawn with
//
// Returns:
//   - *Batch: the empty batch
func NewBatch(key string, m material.Material) *Batch {
	return &Batch{
		key:    key,
		mat:    m,
		geom:   geometry.NewGeometry(geometry.WithID(key + "#batch")),
		lookup: make(map[uint32]int),
	}
}

// Key returns the geometry identity this batch merges.
func (b *Batch) Key() string {
	return b.key
}

// Material returns the material the batch was created with.
func (b *Batch) Material() material.Material {
	return b.mat
}

// Geometry returns the live merged geometry. The returned value is owned by the batch
// and rewritten by engine calls: do not mutate it, and do not read it while an engine
// call may be running. Use VertexBytes/IndexBytes for concurrent readers.
//
// Returns:
//   - *geometry.Geometry: the merged geometry
func (b *Batch) Geometry() *geometry.Geometry {
	return b.geom
}

// Version returns a counter that increases every time the merged buffers change.
func (b *Batch) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// SlotCount returns the number of slots currently stored.
func (b *Batch) SlotCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.slots)
}

// HasSlot reports whether the slot is stored in this batch.
//
// Parameters:
//   - slot: the slot index
//
// Returns:
//   - bool: true if the slot has data in the batch
func (b *Batch) HasSlot(slot uint32) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.lookup[slot]
	return ok
}

// Slots returns a copy of the slot table in storage order.
//
// Returns:
//   - []SlotRange: the stored slot ranges
func (b *Batch) Slots() []SlotRange {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]SlotRange(nil), b.slots...)
}

// VertexCount returns the number of merged vertices.
func (b *Batch) VertexCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.geom.Positions)
}

// IndexCount returns the number of merged indices.
func (b *Batch) IndexCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.geom.Indices)
}

// VertexBytes interleaves the merged vertices into GPUVertex records.
//
// Returns:
//   - []byte: VertexCount * geometry.GPUVertexSize bytes, little-endian
func (b *Batch) VertexBytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.vertexBytes()
}

// IndexBytes returns the merged index buffer as little-endian uint32 values.
//
// Returns:
//   - []byte: IndexCount * 4 bytes
func (b *Batch) IndexBytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.indexBytes()
}

// Checksum fingerprints the merged buffers and the slot table. Two batches holding the
// same data in the same order have the same checksum.
//
// Returns:
//   - uint64: the fingerprint
//   - error: non-nil only if the hash could not be created
func (b *Batch) Checksum() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	hash, err := highwayhash.New64(checksumKey)
	if err != nil {
		return 0, err
	}
	if _, err = hash.Write(b.vertexBytes()); err != nil {
		return 0, err
	}
	if _, err = hash.Write(b.indexBytes()); err != nil {
		return 0, err
	}
	table := make([]uint32, 0, len(b.slots)*5)
	for _, r := range b.slots {
		table = append(table, r.Slot, uint32(r.VertexStart), uint32(r.VertexCount), uint32(r.IndexStart), uint32(r.IndexCount))
	}
	if _, err = hash.Write(common.SliceToBytes(table)); err != nil {
		return 0, err
	}
	return hash.Sum64(), nil
}

func (b *Batch) vertexBytes() []byte {
	g := b.geom
	buf := make([]byte, len(g.Positions)*geometry.GPUVertexSize)
	for i := range g.Positions {
		v := geometry.GPUVertex{
			Position: g.Positions[i],
			Normal:   g.Normals[i],
			TexCoord: g.TexCoords[i],
			Color:    g.Colors[i],
		}
		v.MarshalTo(buf[i*geometry.GPUVertexSize:])
	}
	return buf
}

func (b *Batch) indexBytes() []byte {
	buf := make([]byte, len(b.geom.Indices)*4)
	for i, idx := range b.geom.Indices {
		binary.LittleEndian.PutUint32(buf[i*4:], idx)
	}
	return buf
}

// reindex rebuilds the slot lookup from position start onwards.
func (b *Batch) reindex(start int) {
	for i := start; i < len(b.slots); i++ {
		b.lookup[b.slots[i].Slot] = i
	}
}
