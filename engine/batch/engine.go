package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Carmen-Shannon/oxy-merge/engine/geometry"
)

var (
	// ErrSlotExists is returned by a non-update Merge when a snapshot's slot is already
	// stored in the batch, or appears twice in one call.
	ErrSlotExists = errors.New("batch: slot already merged")

	// ErrUnknownSlot is returned by Update when a snapshot's slot is not stored in the batch.
	ErrUnknownSlot = errors.New("batch: slot not merged")

	// ErrEmptySnapshot is returned when a snapshot carries no geometry.
	ErrEmptySnapshot = errors.New("batch: snapshot has no geometry")
)

var (
	defaultNormal   = [3]float32{0, 0, 0}
	defaultTexCoord = [2]float32{0, 0}
	defaultColor    = [4]float32{1, 1, 1, 1}
)

// engine is the buffer-splicing implementation of the Engine interface.
type engine struct {
	logger *slog.Logger
}

// Engine mutates batches in place. Every call validates all of its snapshots before
// writing anything, so a failed call leaves the batch untouched. An empty snapshot
// list is a no-op. Calls on one batch must not run concurrently.
type Engine interface {
	// Merge appends the snapshots to the batch.
	//
	// With isUpdate false every slot must be new to the batch. With isUpdate true a slot
	// that is already stored is replaced in place and new slots are appended.
	//
	// Parameters:
	//   - ctx: checked once before any write
	//   - b: the batch to mutate
	//   - snaps: the snapshots to merge, in storage order
	//   - isUpdate: true to allow replacing existing slots
	//
	// Returns:
	//   - error: ErrSlotExists, ErrEmptySnapshot, a geometry validation error or ctx.Err()
	Merge(ctx context.Context, b *Batch, snaps []Snapshot, isUpdate bool) error

	// Clear removes every listed slot's vertices and indices from the batch and compacts
	// the remaining data. Slots not stored in the batch are ignored.
	//
	// Parameters:
	//   - ctx: checked once before any write
	//   - b: the batch to mutate
	//   - snaps: the snapshots whose slots to remove
	//
	// Returns:
	//   - error: ctx.Err() if the context ended first
	Clear(ctx context.Context, b *Batch, snaps []Snapshot) error

	// Update overwrites the data of slots already stored in the batch. A snapshot whose
	// vertex or index count differs from the stored range replaces the range instead.
	//
	// Parameters:
	//   - ctx: checked once before any write
	//   - b: the batch to mutate
	//   - snaps: the snapshots carrying the new data
	//
	// Returns:
	//   - error: ErrUnknownSlot, ErrEmptySnapshot, a geometry validation error or ctx.Err()
	Update(ctx context.Context, b *Batch, snaps []Snapshot) error
}

var _ Engine = &engine{}

// NewEngine creates a new buffer-splicing Engine.
//
// Parameters:
//   - options: functional options to configure the engine
//
// Returns:
//   - Engine: the engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		logger: slog.Default(),
	}
	for _, option := range options {
		option(e)
	}
	return e
}

func (e *engine) Merge(ctx context.Context, b *Batch, snaps []Snapshot, isUpdate bool) error {
	if len(snaps) == 0 {
		return nil
	}
	if err := validate(snaps); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[uint32]struct{}, len(snaps))
	if !isUpdate {
		for _, s := range snaps {
			if _, ok := b.lookup[s.Slot]; ok {
				return fmt.Errorf("%w: slot %d in batch %s", ErrSlotExists, s.Slot, b.key)
			}
			if _, ok := seen[s.Slot]; ok {
				return fmt.Errorf("%w: slot %d listed twice for batch %s", ErrSlotExists, s.Slot, b.key)
			}
			seen[s.Slot] = struct{}{}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !isUpdate {
		for i := range snaps {
			b.appendSlot(&snaps[i])
		}
		b.version++
		return nil
	}

	// Later snapshots for the same slot win.
	latest := make(map[uint32]*Snapshot, len(snaps))
	var order []uint32
	for i := range snaps {
		s := &snaps[i]
		if _, ok := latest[s.Slot]; !ok {
			order = append(order, s.Slot)
		}
		latest[s.Slot] = s
	}
	replace := make(map[uint32]*Snapshot)
	for _, slot := range order {
		if _, ok := b.lookup[slot]; ok {
			replace[slot] = latest[slot]
		}
	}
	b.replaceSlots(replace)
	for _, slot := range order {
		if _, ok := replace[slot]; !ok {
			b.appendSlot(latest[slot])
		}
	}
	b.version++
	return nil
}

func (e *engine) Clear(ctx context.Context, b *Batch, snaps []Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	remove := make(map[uint32]bool, len(snaps))
	for _, s := range snaps {
		if _, ok := b.lookup[s.Slot]; ok {
			remove[s.Slot] = true
		}
	}
	if len(remove) == 0 {
		e.logger.Debug("[Batch] clear matched no slots", "key", b.key, "snapshots", len(snaps))
		return nil
	}
	b.rebuild(remove, nil)
	b.version++
	return nil
}

func (e *engine) Update(ctx context.Context, b *Batch, snaps []Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	if err := validate(snaps); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	replace := make(map[uint32]*Snapshot, len(snaps))
	for i := range snaps {
		s := &snaps[i]
		if _, ok := b.lookup[s.Slot]; !ok {
			return fmt.Errorf("%w: slot %d in batch %s", ErrUnknownSlot, s.Slot, b.key)
		}
		replace[s.Slot] = s
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.replaceSlots(replace)
	b.version++
	return nil
}

func validate(snaps []Snapshot) error {
	for _, s := range snaps {
		if s.Geometry == nil {
			return fmt.Errorf("%w: slot %d", ErrEmptySnapshot, s.Slot)
		}
		if err := s.Geometry.Validate(); err != nil {
			return fmt.Errorf("batch: slot %d: %w", s.Slot, err)
		}
	}
	return nil
}

// appendSlot writes s at the end of the merged buffers.
func (b *Batch) appendSlot(s *Snapshot) {
	g := b.geom
	r := SlotRange{
		Slot:        s.Slot,
		VertexStart: len(g.Positions),
		VertexCount: s.Geometry.VertexCount(),
		IndexStart:  len(g.Indices),
		IndexCount:  s.Geometry.IndexCount(),
	}
	appendVertices(g, s.Geometry)
	g.Indices = appendIndices(g.Indices, s.Geometry, uint32(r.VertexStart))

	b.lookup[s.Slot] = len(b.slots)
	b.slots = append(b.slots, r)
}

// replaceSlots overwrites stored slots in place when their sizes match and rebuilds the
// buffers once for the rest.
func (b *Batch) replaceSlots(replace map[uint32]*Snapshot) {
	if len(replace) == 0 {
		return
	}
	resized := make(map[uint32]*Snapshot)
	for slot, s := range replace {
		r := b.slots[b.lookup[slot]]
		if r.VertexCount != s.Geometry.VertexCount() || r.IndexCount != s.Geometry.IndexCount() {
			resized[slot] = s
			continue
		}
		b.overwrite(r, s.Geometry)
	}
	if len(resized) > 0 {
		b.rebuild(nil, resized)
	}
}

// overwrite copies src over the range r. src has exactly r's vertex and index counts.
func (b *Batch) overwrite(r SlotRange, src *geometry.Geometry) {
	g := b.geom
	for i := 0; i < r.VertexCount; i++ {
		v := r.VertexStart + i
		g.Positions[v] = src.Positions[i]
		g.Normals[v] = attr(src.Normals, i, defaultNormal)
		g.TexCoords[v] = attr(src.TexCoords, i, defaultTexCoord)
		g.Colors[v] = attr(src.Colors, i, defaultColor)
	}
	base := uint32(r.VertexStart)
	for i := 0; i < r.IndexCount; i++ {
		if src.Indexed() {
			g.Indices[r.IndexStart+i] = src.Indices[i] + base
		} else {
			g.Indices[r.IndexStart+i] = uint32(i) + base
		}
	}
}

// rebuild walks the slot table in storage order and writes fresh buffers, dropping the
// removed slots and swapping in replacement geometry at the same position.
func (b *Batch) rebuild(remove map[uint32]bool, replace map[uint32]*Snapshot) {
	old := b.geom
	g := &geometry.Geometry{
		ID:        old.ID,
		Positions: make([][3]float32, 0, len(old.Positions)),
		Normals:   make([][3]float32, 0, len(old.Normals)),
		TexCoords: make([][2]float32, 0, len(old.TexCoords)),
		Colors:    make([][4]float32, 0, len(old.Colors)),
		Indices:   make([]uint32, 0, len(old.Indices)),
	}
	slots := make([]SlotRange, 0, len(b.slots))

	for _, r := range b.slots {
		if remove[r.Slot] {
			delete(b.lookup, r.Slot)
			continue
		}
		nr := SlotRange{Slot: r.Slot, VertexStart: len(g.Positions), IndexStart: len(g.Indices)}
		if s, ok := replace[r.Slot]; ok {
			appendVertices(g, s.Geometry)
			g.Indices = appendIndices(g.Indices, s.Geometry, uint32(nr.VertexStart))
			nr.VertexCount = s.Geometry.VertexCount()
			nr.IndexCount = s.Geometry.IndexCount()
		} else {
			vEnd := r.VertexStart + r.VertexCount
			g.Positions = append(g.Positions, old.Positions[r.VertexStart:vEnd]...)
			g.Normals = append(g.Normals, old.Normals[r.VertexStart:vEnd]...)
			g.TexCoords = append(g.TexCoords, old.TexCoords[r.VertexStart:vEnd]...)
			g.Colors = append(g.Colors, old.Colors[r.VertexStart:vEnd]...)
			shift := uint32(nr.VertexStart) - uint32(r.VertexStart)
			for _, idx := range old.Indices[r.IndexStart : r.IndexStart+r.IndexCount] {
				g.Indices = append(g.Indices, idx+shift)
			}
			nr.VertexCount = r.VertexCount
			nr.IndexCount = r.IndexCount
		}
		slots = append(slots, nr)
	}

	// The merged geometry pointer is shared with the container's mesh node, so the
	// buffers are swapped into it rather than replacing it.
	*old = *g
	b.slots = slots
	b.reindex(0)
}

func appendVertices(dst, src *geometry.Geometry) {
	for i, p := range src.Positions {
		dst.Positions = append(dst.Positions, p)
		dst.Normals = append(dst.Normals, attr(src.Normals, i, defaultNormal))
		dst.TexCoords = append(dst.TexCoords, attr(src.TexCoords, i, defaultTexCoord))
		dst.Colors = append(dst.Colors, attr(src.Colors, i, defaultColor))
	}
}

func appendIndices(dst []uint32, src *geometry.Geometry, base uint32) []uint32 {
	if !src.Indexed() {
		for i := range src.Positions {
			dst = append(dst, uint32(i)+base)
		}
		return dst
	}
	for _, idx := range src.Indices {
		dst = append(dst, idx+base)
	}
	return dst
}

func attr[T any](values []T, i int, fallback T) T {
	if i < len(values) {
		return values[i]
	}
	return fallback
}
