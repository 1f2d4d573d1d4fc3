package common

import (
	"unsafe"

	"github.com/chewxy/math32"
)

// Identity resets a 4x4 matrix (flat slice) to the identity matrix.
// The matrix is stored in column-major order.
//
// Parameters:
//   - m: destination slice (must be at least 16 elements)
func Identity(m []float32) {
	for i := range m {
		m[i] = 0
	}
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
}

// IsIdentity reports whether a 4x4 column-major matrix is exactly the identity.
//
// Parameters:
//   - m: the matrix to check (16 elements)
//
// Returns:
//   - bool: true if every element matches the identity matrix
func IsIdentity(m []float32) bool {
	for i := 0; i < 16; i++ {
		want := float32(0)
		if i%5 == 0 {
			want = 1
		}
		if m[i] != want {
			return false
		}
	}
	return true
}

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads and hashing.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// Mul4 multiplies two 4x4 matrices and stores the result in out.
// All matrices are stored in column-major order.
// Result: out = a * b. out may alias a or b.
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
//   - a: left-hand matrix (16 elements)
//   - b: right-hand matrix (16 elements)
func Mul4(out, a, b []float32) {
	var buf [16]float32
	for i := 0; i < 4; i++ { // column of B
		for j := 0; j < 4; j++ { // row of A
			sum := float32(0)
			for k := 0; k < 4; k++ {
				sum += a[k*4+j] * b[i*4+k]
			}
			buf[i*4+j] = sum
		}
	}
	copy(out, buf[:])
}

// ComposeTRS builds a column-major model matrix from a translation, a unit quaternion
// rotation (x, y, z, w) and a scale. Equivalent to T * R * S.
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
//   - pos: translation
//   - quat: rotation quaternion (x, y, z, w), expected to be normalized
//   - scale: per-axis scale factors
func ComposeTRS(out []float32, pos [3]float32, quat [4]float32, scale [3]float32) {
	x, y, z, w := quat[0], quat[1], quat[2], quat[3]
	x2, y2, z2 := x+x, y+y, z+z
	xx, xy, xz := x*x2, x*y2, x*z2
	yy, yz, zz := y*y2, y*z2, z*z2
	wx, wy, wz := w*x2, w*y2, w*z2

	out[0] = (1 - (yy + zz)) * scale[0]
	out[1] = (xy + wz) * scale[0]
	out[2] = (xz - wy) * scale[0]
	out[3] = 0

	out[4] = (xy - wz) * scale[1]
	out[5] = (1 - (xx + zz)) * scale[1]
	out[6] = (yz + wx) * scale[1]
	out[7] = 0

	out[8] = (xz + wy) * scale[2]
	out[9] = (yz - wx) * scale[2]
	out[10] = (1 - (xx + yy)) * scale[2]
	out[11] = 0

	out[12] = pos[0]
	out[13] = pos[1]
	out[14] = pos[2]
	out[15] = 1
}

// QuatFromEuler converts Euler angles in radians to a quaternion (x, y, z, w).
// The rotation order is Y * X * Z (yaw-pitch-roll), matching the engine's model matrices.
//
// Parameters:
//   - rotX, rotY, rotZ: rotation angles in radians around each axis
//
// Returns:
//   - [4]float32: the rotation quaternion (x, y, z, w)
func QuatFromEuler(rotX, rotY, rotZ float32) [4]float32 {
	sx, cx := math32.Sincos(rotX / 2)
	sy, cy := math32.Sincos(rotY / 2)
	sz, cz := math32.Sincos(rotZ / 2)

	// q = qy * qx * qz
	return [4]float32{
		cy*sx*cz + sy*cx*sz,
		sy*cx*cz - cy*sx*sz,
		cy*cx*sz - sy*sx*cz,
		cy*cx*cz + sy*sx*sz,
	}
}

// Invert4 computes the inverse of a 4x4 column-major matrix using the Laplace
// expansion (cofactor) method. If the matrix is singular (determinant ≈ 0) the
// output is left unchanged and the function returns false.
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
//   - m: source matrix (16 elements, column-major)
//
// Returns:
//   - bool: true if the matrix was successfully inverted, false if singular
func Invert4(out, m []float32) bool {
	s0 := m[0]*m[5] - m[4]*m[1]
	s1 := m[0]*m[6] - m[4]*m[2]
	s2 := m[0]*m[7] - m[4]*m[3]
	s3 := m[1]*m[6] - m[5]*m[2]
	s4 := m[1]*m[7] - m[5]*m[3]
	s5 := m[2]*m[7] - m[6]*m[3]

	c5 := m[10]*m[15] - m[14]*m[11]
	c4 := m[9]*m[15] - m[13]*m[11]
	c3 := m[9]*m[14] - m[13]*m[10]
	c2 := m[8]*m[15] - m[12]*m[11]
	c1 := m[8]*m[14] - m[12]*m[10]
	c0 := m[8]*m[13] - m[12]*m[9]

	det := s0*c5 - s1*c4 + s2*c3 + s3*c2 - s4*c1 + s5*c0
	if det == 0 {
		return false
	}

	invDet := 1.0 / det
	var buf [16]float32

	buf[0] = (m[5]*c5 - m[6]*c4 + m[7]*c3) * invDet
	buf[1] = (-m[1]*c5 + m[2]*c4 - m[3]*c3) * invDet
	buf[2] = (m[13]*s5 - m[14]*s4 + m[15]*s3) * invDet
	buf[3] = (-m[9]*s5 + m[10]*s4 - m[11]*s3) * invDet

	buf[4] = (-m[4]*c5 + m[6]*c2 - m[7]*c1) * invDet
	buf[5] = (m[0]*c5 - m[2]*c2 + m[3]*c1) * invDet
	buf[6] = (-m[12]*s5 + m[14]*s2 - m[15]*s1) * invDet
	buf[7] = (m[8]*s5 - m[10]*s2 + m[11]*s1) * invDet

	buf[8] = (m[4]*c4 - m[5]*c2 + m[7]*c0) * invDet
	buf[9] = (-m[0]*c4 + m[1]*c2 - m[3]*c0) * invDet
	buf[10] = (m[12]*s4 - m[13]*s2 + m[15]*s0) * invDet
	buf[11] = (-m[8]*s4 + m[9]*s2 - m[11]*s0) * invDet

	buf[12] = (-m[4]*c3 + m[5]*c1 - m[6]*c0) * invDet
	buf[13] = (m[0]*c3 - m[1]*c1 + m[2]*c0) * invDet
	buf[14] = (-m[12]*s3 + m[13]*s1 - m[14]*s0) * invDet
	buf[15] = (m[8]*s3 - m[9]*s1 + m[10]*s0) * invDet

	copy(out, buf[:])
	return true
}

// TransformPoint applies a 4x4 column-major affine matrix to a point (w = 1).
//
// Parameters:
//   - m: the matrix (16 elements)
//   - p: the point to transform
//
// Returns:
//   - [3]float32: the transformed point
func TransformPoint(m []float32, p [3]float32) [3]float32 {
	return [3]float32{
		m[0]*p[0] + m[4]*p[1] + m[8]*p[2] + m[12],
		m[1]*p[0] + m[5]*p[1] + m[9]*p[2] + m[13],
		m[2]*p[0] + m[6]*p[1] + m[10]*p[2] + m[14],
	}
}

// NormalMatrix computes the 3x3 inverse-transpose of the upper-left block of a 4x4
// column-major matrix, stored column-major in out. Falls back to the plain 3x3 block
// if that block is singular.
//
// Parameters:
//   - out: destination (9 elements)
//   - m: source matrix (16 elements)
func NormalMatrix(out *[9]float32, m []float32) {
	a00, a01, a02 := m[0], m[1], m[2]
	a10, a11, a12 := m[4], m[5], m[6]
	a20, a21, a22 := m[8], m[9], m[10]

	b01 := a22*a11 - a12*a21
	b11 := -a22*a10 + a12*a20
	b21 := a21*a10 - a11*a20

	det := a00*b01 + a01*b11 + a02*b21
	if det == 0 {
		*out = [9]float32{a00, a01, a02, a10, a11, a12, a20, a21, a22}
		return
	}
	inv := 1 / det

	// iCR is column C, row R of the inverse; transposed on assignment below
	i00 := b01 * inv
	i01 := (-a22*a01 + a02*a21) * inv
	i02 := (a12*a01 - a02*a11) * inv
	i10 := b11 * inv
	i11 := (a22*a00 - a02*a20) * inv
	i12 := (-a12*a00 + a02*a10) * inv
	i20 := b21 * inv
	i21 := (-a21*a00 + a01*a20) * inv
	i22 := (a11*a00 - a01*a10) * inv

	*out = [9]float32{
		i00, i10, i20,
		i01, i11, i21,
		i02, i12, i22,
	}
}

// TransformDirection applies a 3x3 column-major matrix (see NormalMatrix) to a
// direction and renormalizes the result. Zero-length results are returned as-is.
//
// Parameters:
//   - n: the 3x3 matrix
//   - d: the direction to transform
//
// Returns:
//   - [3]float32: the transformed, unit-length direction
func TransformDirection(n *[9]float32, d [3]float32) [3]float32 {
	return Normalize3([3]float32{
		n[0]*d[0] + n[3]*d[1] + n[6]*d[2],
		n[1]*d[0] + n[4]*d[1] + n[7]*d[2],
		n[2]*d[0] + n[5]*d[1] + n[8]*d[2],
	})
}

// Normalize3 returns v scaled to unit length, or v unchanged when its length is zero.
//
// Parameters:
//   - v: the vector to normalize
//
// Returns:
//   - [3]float32: the normalized vector
func Normalize3(v [3]float32) [3]float32 {
	l := math32.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if l == 0 {
		return v
	}
	return [3]float32{v[0] / l, v[1] / l, v[2] / l}
}

// DecomposeTRS splits a column-major affine matrix without shear into translation,
// rotation quaternion (x, y, z, w) and scale. A negative determinant is folded into
// the X scale.
//
// Parameters:
//   - m: the matrix (16 elements)
//
// Returns:
//   - pos: the translation
//   - quat: the rotation quaternion
//   - scale: the per-axis scale
func DecomposeTRS(m []float32) (pos [3]float32, quat [4]float32, scale [3]float32) {
	pos = [3]float32{m[12], m[13], m[14]}

	sx := math32.Sqrt(m[0]*m[0] + m[1]*m[1] + m[2]*m[2])
	sy := math32.Sqrt(m[4]*m[4] + m[5]*m[5] + m[6]*m[6])
	sz := math32.Sqrt(m[8]*m[8] + m[9]*m[9] + m[10]*m[10])

	det := m[0]*(m[5]*m[10]-m[9]*m[6]) - m[4]*(m[1]*m[10]-m[9]*m[2]) + m[8]*(m[1]*m[6]-m[5]*m[2])
	if det < 0 {
		sx = -sx
	}
	scale = [3]float32{sx, sy, sz}
	if sx == 0 || sy == 0 || sz == 0 {
		return pos, [4]float32{0, 0, 0, 1}, scale
	}

	r00, r10, r20 := m[0]/sx, m[1]/sx, m[2]/sx
	r01, r11, r21 := m[4]/sy, m[5]/sy, m[6]/sy
	r02, r12, r22 := m[8]/sz, m[9]/sz, m[10]/sz

	trace := r00 + r11 + r22
	switch {
	case trace > 0:
		s := 0.5 / math32.Sqrt(trace+1)
		quat = [4]float32{(r21 - r12) * s, (r02 - r20) * s, (r10 - r01) * s, 0.25 / s}
	case r00 > r11 && r00 > r22:
		s := 2 * math32.Sqrt(1+r00-r11-r22)
		quat = [4]float32{0.25 * s, (r01 + r10) / s, (r02 + r20) / s, (r21 - r12) / s}
	case r11 > r22:
		s := 2 * math32.Sqrt(1+r11-r00-r22)
		quat = [4]float32{(r01 + r10) / s, 0.25 * s, (r12 + r21) / s, (r02 - r20) / s}
	default:
		s := 2 * math32.Sqrt(1+r22-r00-r11)
		quat = [4]float32{(r02 + r20) / s, (r12 + r21) / s, 0.25 * s, (r10 - r01) / s}
	}
	return pos, quat, scale
}
