package geometry

import (
	"fmt"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-merge/common"
)

// nextID feeds auto-generated geometry identities.
var nextID atomic.Uint64

// Geometry is an indexed or non-indexed triangle buffer. Each attribute slice is
// either empty or has exactly one entry per vertex.
//
// The ID is the geometry resource's identity. It is shared by every clone of the
// same resource, which is what lets batching group many mesh instances of one
// template under a single key.
type Geometry struct {
	// ID is the stable identity of the geometry resource.
	ID string

	// Positions are the vertex positions.
	Positions [][3]float32

	// Normals are the per-vertex normals (optional).
	Normals [][3]float32

	// TexCoords are the per-vertex UV coordinates (optional).
	TexCoords [][2]float32

	// Colors are the per-vertex RGBA colors (optional).
	Colors [][4]float32

	// Indices are the triangle indices. Empty for non-indexed geometry.
	Indices []uint32
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min [3]float32
	Max [3]float32
}

// NewGeometry creates a new Geometry configured with the given options. A geometry
// created without WithID receives a unique generated identity.
//
// Parameters:
//   - options: functional options to configure the geometry
//
// Returns:
//   - *Geometry: the newly created geometry
func NewGeometry(options ...GeometryBuilderOption) *Geometry {
	g := &Geometry{}
	for _, option := range options {
		option(g)
	}
	if g.ID == "" {
		g.ID = fmt.Sprintf("geometry-%d", nextID.Add(1))
	}
	return g
}

// VertexCount returns the number of vertices.
func (g *Geometry) VertexCount() int {
	return len(g.Positions)
}

// IndexCount returns the number of indices drawn for this geometry. Non-indexed
// geometry draws one index per vertex.
func (g *Geometry) IndexCount() int {
	if g.Indexed() {
		return len(g.Indices)
	}
	return len(g.Positions)
}

// Indexed reports whether the geometry carries an index buffer.
func (g *Geometry) Indexed() bool {
	return len(g.Indices) > 0
}

// Clone returns a deep copy of the geometry. The clone keeps the source ID.
//
// Returns:
//   - *Geometry: the copy
func (g *Geometry) Clone() *Geometry {
	return &Geometry{
		ID:        g.ID,
		Positions: append([][3]float32(nil), g.Positions...),
		Normals:   append([][3]float32(nil), g.Normals...),
		TexCoords: append([][2]float32(nil), g.TexCoords...),
		Colors:    append([][4]float32(nil), g.Colors...),
		Indices:   append([]uint32(nil), g.Indices...),
	}
}

// ApplyMatrix bakes a column-major 4x4 transform into the geometry: positions are
// transformed as points and normals with the matrix's normal matrix, then renormalized.
//
// Parameters:
//   - m: the transform to apply (16 elements)
func (g *Geometry) ApplyMatrix(m []float32) {
	if common.IsIdentity(m) {
		return
	}
	for i, p := range g.Positions {
		g.Positions[i] = common.TransformPoint(m, p)
	}
	if len(g.Normals) == 0 {
		return
	}
	var n [9]float32
	common.NormalMatrix(&n, m)
	for i, d := range g.Normals {
		g.Normals[i] = common.TransformDirection(&n, d)
	}
}

// Validate checks that every attribute and index references existing vertices.
//
// Returns:
//   - error: a description of the first inconsistency found, or nil
func (g *Geometry) Validate() error {
	n := len(g.Positions)
	if l := len(g.Normals); l != 0 && l != n {
		return fmt.Errorf("geometry %s: %d normals for %d vertices", g.ID, l, n)
	}
	if l := len(g.TexCoords); l != 0 && l != n {
		return fmt.Errorf("geometry %s: %d texcoords for %d vertices", g.ID, l, n)
	}
	if l := len(g.Colors); l != 0 && l != n {
		return fmt.Errorf("geometry %s: %d colors for %d vertices", g.ID, l, n)
	}
	for i, idx := range g.Indices {
		if int(idx) >= n {
			return fmt.Errorf("geometry %s: index %d at %d out of range (%d vertices)", g.ID, idx, i, n)
		}
	}
	return nil
}

// Bounds computes the axis-aligned bounding box of the positions. An empty geometry
// returns the zero box.
func (g *Geometry) Bounds() Bounds {
	if len(g.Positions) == 0 {
		return Bounds{}
	}
	b := Bounds{Min: g.Positions[0], Max: g.Positions[0]}
	for _, p := range g.Positions[1:] {
		for k := 0; k < 3; k++ {
			b.Min[k] = min(b.Min[k], p[k])
			b.Max[k] = max(b.Max[k], p[k])
		}
	}
	return b
}
