package geometry

// GeometryBuilderOption is a functional option for configuring a Geometry via NewGeometry.
type GeometryBuilderOption func(*Geometry)

// WithID is an option builder that sets the identity of the Geometry.
// Geometries built from the same resource (for example one glTF mesh primitive)
// should share an ID so they batch together.
//
// Parameters:
//   - id: the geometry identity
//
// Returns:
//   - GeometryBuilderOption: a function that applies the ID option to a geometry
func WithID(id string) GeometryBuilderOption {
	return func(g *Geometry) {
		g.ID = id
	}
}

// WithPositions is an option builder that sets the vertex positions.
//
// Parameters:
//   - positions: the vertex positions
//
// Returns:
//   - GeometryBuilderOption: a function that applies the positions option to a geometry
func WithPositions(positions [][3]float32) GeometryBuilderOption {
	return func(g *Geometry) {
		g.Positions = positions
	}
}

// WithNormals is an option builder that sets the vertex normals.
//
// Parameters:
//   - normals: one normal per vertex
//
// Returns:
//   - GeometryBuilderOption: a function that applies the normals option to a geometry
func WithNormals(normals [][3]float32) GeometryBuilderOption {
	return func(g *Geometry) {
		g.Normals = normals
	}
}

// WithTexCoords is an option builder that sets the vertex UV coordinates.
//
// Parameters:
//   - texCoords: one UV per vertex
//
// Returns:
//   - GeometryBuilderOption: a function that applies the texcoords option to a geometry
func WithTexCoords(texCoords [][2]float32) GeometryBuilderOption {
	return func(g *Geometry) {
		g.TexCoords = texCoords
	}
}

// WithColors is an option builder that sets the per-vertex RGBA colors.
//
// Parameters:
//   - colors: one color per vertex
//
// Returns:
//   - GeometryBuilderOption: a function that applies the colors option to a geometry
func WithColors(colors [][4]float32) GeometryBuilderOption {
	return func(g *Geometry) {
		g.Colors = colors
	}
}

// WithIndices is an option builder that sets the triangle indices.
//
// Parameters:
//   - indices: the index buffer
//
// Returns:
//   - GeometryBuilderOption: a function that applies the indices option to a geometry
func WithIndices(indices []uint32) GeometryBuilderOption {
	return func(g *Geometry) {
		g.Indices = indices
	}
}
