package geometry

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUVertexSize is the byte size of one GPUVertex.
const GPUVertexSize = 48

// GPUVertex is the interleaved, GPU-aligned representation of a single batched vertex.
// Size: 48 bytes (std430 aligned, no padding required).
type GPUVertex struct {
	Position [3]float32 // offset  0: vertex position in batch space (12 bytes)
	Normal   [3]float32 // offset 12: vertex normal for lighting (12 bytes)
	TexCoord [2]float32 // offset 24: UV texture coordinate (8 bytes)
	Color    [4]float32 // offset 32: per-vertex RGBA color (16 bytes)
}

// Size returns the size of the GPUVertex struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUVertex into a little-endian byte buffer suitable for GPU upload,
// independent of host byte order.
//
// Returns:
//   - []byte: 48-byte buffer ready for GPU upload.
func (g *GPUVertex) Marshal() []byte {
	buf := make([]byte, GPUVertexSize)
	g.MarshalTo(buf)
	return buf
}

// MarshalTo writes the little-endian form of the vertex into the first GPUVertexSize
// bytes of buf. buf must be at least GPUVertexSize long.
//
// Parameters:
//   - buf: the destination buffer
func (g *GPUVertex) MarshalTo(buf []byte) {
	fields := [12]float32{
		g.Position[0], g.Position[1], g.Position[2],
		g.Normal[0], g.Normal[1], g.Normal[2],
		g.TexCoord[0], g.TexCoord[1],
		g.Color[0], g.Color[1], g.Color[2], g.Color[3],
	}
	for i, f := range fields {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(f))
	}
}
