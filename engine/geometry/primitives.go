package geometry

// boxFaces lists, per face, the outward normal and the two in-plane axes (u, v)
// used to lay out the face's four corners counter-clockwise.
var boxFaces = [6]struct {
	normal, u, v [3]float32
}{
	{normal: [3]float32{1, 0, 0}, u: [3]float32{0, 0, -1}, v: [3]float32{0, 1, 0}},
	{normal: [3]float32{-1, 0, 0}, u: [3]float32{0, 0, 1}, v: [3]float32{0, 1, 0}},
	{normal: [3]float32{0, 1, 0}, u: [3]float32{1, 0, 0}, v: [3]float32{0, 0, -1}},
	{normal: [3]float32{0, -1, 0}, u: [3]float32{1, 0, 0}, v: [3]float32{0, 0, 1}},
	{normal: [3]float32{0, 0, 1}, u: [3]float32{1, 0, 0}, v: [3]float32{0, 1, 0}},
	{normal: [3]float32{0, 0, -1}, u: [3]float32{-1, 0, 0}, v: [3]float32{0, 1, 0}},
}

// NewBox builds an axis-aligned box centered on the origin with 4 vertices per face
// (24 vertices, 36 indices), flat normals and per-face UVs.
//
// Parameters:
//   - width, height, depth: box extents along X, Y and Z
//   - options: extra options (typically WithID)
//
// Returns:
//   - *Geometry: the box geometry
func NewBox(width, height, depth float32, options ...GeometryBuilderOption) *Geometry {
	half := [3]float32{width / 2, height / 2, depth / 2}
	positions := make([][3]float32, 0, 24)
	normals := make([][3]float32, 0, 24)
	uvs := make([][2]float32, 0, 24)
	indices := make([]uint32, 0, 36)

	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	for _, f := range boxFaces {
		base := uint32(len(positions))
		for _, c := range corners {
			var p [3]float32
			for k := 0; k < 3; k++ {
				p[k] = (f.normal[k] + c[0]*f.u[k] + c[1]*f.v[k]) * half[k]
			}
			positions = append(positions, p)
			normals = append(normals, f.normal)
			uvs = append(uvs, [2]float32{(c[0] + 1) / 2, (c[1] + 1) / 2})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}

	opts := append([]GeometryBuilderOption{
		WithPositions(positions),
		WithNormals(normals),
		WithTexCoords(uvs),
		WithIndices(indices),
	}, options...)
	return NewGeometry(opts...)
}

// NewPlane builds a horizontal plane on the XZ axes facing +Y (4 vertices, 6 indices).
//
// Parameters:
//   - width, depth: plane extents along X and Z
//   - options: extra options (typically WithID)
//
// Returns:
//   - *Geometry: the plane geometry
func NewPlane(width, depth float32, options ...GeometryBuilderOption) *Geometry {
	hw, hd := width/2, depth/2
	opts := append([]GeometryBuilderOption{
		WithPositions([][3]float32{{-hw, 0, hd}, {hw, 0, hd}, {hw, 0, -hd}, {-hw, 0, -hd}}),
		WithNormals([][3]float32{{0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}}),
		WithTexCoords([][2]float32{{0, 0}, {1, 0}, {1, 1}, {0, 1}}),
		WithIndices([]uint32{0, 1, 2, 0, 2, 3}),
	}, options...)
	return NewGeometry(opts...)
}
