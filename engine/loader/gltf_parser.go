package loader

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
)

// Common errors returned by the parser
var (
	errInvalidGLTFVersion = errors.New("invalid glTF version: must be 2.0")
	errInvalidGLBMagic    = errors.New("invalid GLB magic number")
	errInvalidGLBVersion  = errors.New("invalid GLB version: must be 2")
	errMissingJSONChunk   = errors.New("GLB file missing JSON chunk")
	errInvalidBufferURI   = errors.New("invalid buffer URI")
	errBufferSizeMismatch = errors.New("buffer size mismatch")
	errAccessorOutOfRange = errors.New("accessor reads past the end of its buffer")
)

// gltfParserImpl is the implementation of the gltfParser interface.
type gltfParserImpl struct {
	fs             afs.Service
	baseURL        string
	document       *gltfDocument
	glbBinaryChunk []byte
}

// gltfParser loads a glTF/GLB document and its buffers and decodes accessors.
// This is internal to the loader package.
type gltfParser interface {
	// Parse downloads and parses a glTF/GLB document from the given URL.
	// The format is detected from the extension or the GLB magic number. Relative
	// buffer URIs are resolved against the document's location.
	//
	// Parameters:
	//   - ctx: the context for downloads
	//   - URL: any location the afs service can read (plain path, file://, mem://, s3://...)
	//
	// Returns:
	//   - error: error if reading or parsing fails
	Parse(ctx context.Context, URL string) error

	// ParseReader parses a document from a reader. Buffers must be embedded
	// (data URIs or the GLB BIN chunk) because there is no base location.
	//
	// Parameters:
	//   - r: reader containing glTF JSON or GLB data
	//   - isGLB: true if the data is in GLB format
	//
	// Returns:
	//   - error: error if parsing fails
	ParseReader(r io.Reader, isGLB bool) error

	// Document returns the parsed document, or nil before a successful parse.
	Document() *gltfDocument

	// ReadFloats reads an accessor as a flat float slice with the given number of
	// components per element. Normalized integer data is mapped to [0,1] or [-1,1].
	//
	// Parameters:
	//   - accessorIndex: the index of the accessor
	//   - components: the expected component count per element
	//
	// Returns:
	//   - []float32: count*components values
	//   - error: error if the accessor is missing, mistyped or out of bounds
	ReadFloats(accessorIndex, components int) ([]float32, error)

	// ReadIndices reads an accessor as index data. Handles UNSIGNED_BYTE,
	// UNSIGNED_SHORT and UNSIGNED_INT component types.
	//
	// Parameters:
	//   - accessorIndex: the index of the accessor
	//
	// Returns:
	//   - []uint32: the index data
	//   - error: error if reading fails
	ReadIndices(accessorIndex int) ([]uint32, error)
}

var _ gltfParser = &gltfParserImpl{}

// newGLTFParser creates a new glTF parser that reads through fs.
func newGLTFParser(fs afs.Service) gltfParser {
	return &gltfParserImpl{fs: fs}
}

func (p *gltfParserImpl) Document() *gltfDocument {
	return p.document
}

func (p *gltfParserImpl) Parse(ctx context.Context, URL string) error {
	if i := strings.LastIndex(URL, "/"); i >= 0 {
		p.baseURL = URL[:i]
	}

	data, err := p.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", URL, err)
	}

	if strings.HasSuffix(strings.ToLower(URL), ".glb") || (len(data) >= 4 && binary.LittleEndian.Uint32(data[:4]) == gltfGLBMagic) {
		return p.parseGLB(ctx, data)
	}
	return p.parseGLTF(ctx, data)
}

func (p *gltfParserImpl) ParseReader(r io.Reader, isGLB bool) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	if isGLB {
		return p.parseGLB(context.Background(), data)
	}
	return p.parseGLTF(context.Background(), data)
}

func (p *gltfParserImpl) parseGLTF(ctx context.Context, data []byte) error {
	var doc gltfDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse glTF JSON: %w", err)
	}
	return p.finish(ctx, &doc)
}

// parseGLB parses a GLB container: a 12-byte header followed by JSON and BIN chunks.
func (p *gltfParserImpl) parseGLB(ctx context.Context, data []byte) error {
	if len(data) < 12 {
		return errors.New("GLB file too small")
	}

	r := bytes.NewReader(data)

	var header gltfGLBHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("failed to read GLB header: %w", err)
	}
	if header.Magic != gltfGLBMagic {
		return errInvalidGLBMagic
	}
	if header.Version != gltfGLBVersion {
		return errInvalidGLBVersion
	}

	var jsonData []byte
	for {
		var chunkHeader gltfGLBChunkHeader
		if err := binary.Read(r, binary.LittleEndian, &chunkHeader); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read chunk header: %w", err)
		}
		if int64(chunkHeader.ChunkLength) > int64(r.Len()) {
			return fmt.Errorf("GLB chunk of %d bytes exceeds file", chunkHeader.ChunkLength)
		}

		chunkData := make([]byte, chunkHeader.ChunkLength)
		if _, err := io.ReadFull(r, chunkData); err != nil {
			return fmt.Errorf("failed to read chunk data: %w", err)
		}

		switch chunkHeader.ChunkType {
		case gltfGLBChunkJSON:
			jsonData = chunkData
		case gltfGLBChunkBIN:
			p.glbBinaryChunk = chunkData
		}
	}

	if jsonData == nil {
		return errMissingJSONChunk
	}

	var doc gltfDocument
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("failed to parse glTF JSON: %w", err)
	}
	return p.finish(ctx, &doc)
}

func (p *gltfParserImpl) finish(ctx context.Context, doc *gltfDocument) error {
	if !strings.HasPrefix(doc.Asset.Version, "2.") {
		return errInvalidGLTFVersion
	}
	if err := p.loadBuffers(ctx, doc); err != nil {
		return fmt.Errorf("failed to load buffers: %w", err)
	}
	p.document = doc
	return nil
}

// loadBuffers loads all buffer data from data URIs, the GLB binary chunk, or relative URIs.
func (p *gltfParserImpl) loadBuffers(ctx context.Context, doc *gltfDocument) error {
	for i := range doc.Buffers {
		buf := &doc.Buffers[i]

		switch {
		case buf.URI == "" && i == 0 && p.glbBinaryChunk != nil:
			buf.Data = p.glbBinaryChunk
		case buf.URI == "":
			return fmt.Errorf("buffer %d has no URI and no GLB binary chunk", i)
		case strings.HasPrefix(buf.URI, "data:"):
			data, err := decodeDataURI(buf.URI)
			if err != nil {
				return fmt.Errorf("buffer %d: %w", i, err)
			}
			buf.Data = data
		default:
			if p.baseURL == "" {
				return fmt.Errorf("buffer %d: relative URI %q without a base location", i, buf.URI)
			}
			data, err := p.fs.DownloadWithURL(ctx, url.Join(p.baseURL, buf.URI))
			if err != nil {
				return fmt.Errorf("failed to load buffer file %q: %w", buf.URI, err)
			}
			buf.Data = data
		}

		if len(buf.Data) < buf.ByteLength {
			return fmt.Errorf("buffer %d: %w", i, errBufferSizeMismatch)
		}
	}
	return nil
}

// decodeDataURI decodes a base64 data URI.
// Format: data:[<mediatype>][;base64],<data>
func decodeDataURI(uri string) ([]byte, error) {
	commaIdx := strings.Index(uri, ",")
	if commaIdx < 0 {
		return nil, errInvalidBufferURI
	}

	header := uri[5:commaIdx]
	if !strings.Contains(header, "base64") {
		return nil, fmt.Errorf("unsupported data URI encoding: %s", header)
	}

	data, err := base64.StdEncoding.DecodeString(uri[commaIdx+1:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	return data, nil
}

// elements returns the accessor, its backing bytes and the stride between elements,
// after checking that every element lies inside the buffer view.
func (p *gltfParserImpl) elements(accessorIndex int) (*gltfAccessor, []byte, int, error) {
	if p.document == nil {
		return nil, nil, 0, errors.New("no document loaded")
	}
	doc := p.document
	if accessorIndex < 0 || accessorIndex >= len(doc.Accessors) {
		return nil, nil, 0, fmt.Errorf("accessor index %d out of range", accessorIndex)
	}

	acc := &doc.Accessors[accessorIndex]
	if acc.Sparse != nil {
		return nil, nil, 0, errors.New("sparse accessors not supported")
	}
	if acc.BufferView == nil {
		return nil, nil, 0, errors.New("accessor has no bufferView")
	}
	if *acc.BufferView < 0 || *acc.BufferView >= len(doc.BufferViews) {
		return nil, nil, 0, fmt.Errorf("bufferView index %d out of range", *acc.BufferView)
	}
	bv := &doc.BufferViews[*acc.BufferView]
	if bv.Buffer < 0 || bv.Buffer >= len(doc.Buffers) {
		return nil, nil, 0, fmt.Errorf("buffer index %d out of range", bv.Buffer)
	}
	buf := doc.Buffers[bv.Buffer].Data
	if bv.ByteOffset < 0 || bv.ByteLength < 0 || bv.ByteOffset+bv.ByteLength > len(buf) {
		return nil, nil, 0, fmt.Errorf("bufferView %d: %w", *acc.BufferView, errAccessorOutOfRange)
	}
	view := buf[bv.ByteOffset : bv.ByteOffset+bv.ByteLength]

	elementSize := gltfComponentTypeSize(acc.ComponentType) * gltfAccessorTypeComponentCount(acc.Type)
	if elementSize == 0 {
		return nil, nil, 0, fmt.Errorf("unsupported accessor layout %s/%d", acc.Type, acc.ComponentType)
	}
	stride := elementSize
	if bv.ByteStride != nil && *bv.ByteStride > 0 {
		stride = *bv.ByteStride
	}
	if acc.Count > 0 {
		last := acc.ByteOffset + (acc.Count-1)*stride + elementSize
		if acc.ByteOffset < 0 || last > len(view) {
			return nil, nil, 0, fmt.Errorf("accessor %d: %w", accessorIndex, errAccessorOutOfRange)
		}
	}
	return acc, view[acc.ByteOffset:], stride, nil
}

func (p *gltfParserImpl) ReadFloats(accessorIndex, components int) ([]float32, error) {
	acc, data, stride, err := p.elements(accessorIndex)
	if err != nil {
		return nil, err
	}
	if got := gltfAccessorTypeComponentCount(acc.Type); got != components {
		return nil, fmt.Errorf("accessor %d has %d components, want %d", accessorIndex, got, components)
	}

	size := gltfComponentTypeSize(acc.ComponentType)
	out := make([]float32, acc.Count*components)
	for i := 0; i < acc.Count; i++ {
		base := i * stride
		for c := 0; c < components; c++ {
			out[i*components+c] = readComponent(data[base+c*size:], acc.ComponentType, acc.Normalized)
		}
	}
	return out, nil
}

func (p *gltfParserImpl) ReadIndices(accessorIndex int) ([]uint32, error) {
	acc, data, stride, err := p.elements(accessorIndex)
	if err != nil {
		return nil, err
	}
	if acc.Type != gltfAccessorTypeScalar {
		return nil, fmt.Errorf("index accessor %d has type %s", accessorIndex, acc.Type)
	}

	out := make([]uint32, acc.Count)
	for i := range out {
		b := data[i*stride:]
		switch acc.ComponentType {
		case gltfComponentTypeUnsignedByte:
			out[i] = uint32(b[0])
		case gltfComponentTypeUnsignedShort:
			out[i] = uint32(binary.LittleEndian.Uint16(b))
		case gltfComponentTypeUnsignedInt:
			out[i] = binary.LittleEndian.Uint32(b)
		default:
			return nil, fmt.Errorf("unsupported index component type %d", acc.ComponentType)
		}
	}
	return out, nil
}

// readComponent decodes one component. Normalization follows the glTF rules:
// unsigned c/max, signed max(c/max, -1).
func readComponent(b []byte, componentType int, normalized bool) float32 {
	switch componentType {
	case gltfComponentTypeFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case gltfComponentTypeUnsignedByte:
		if normalized {
			return float32(b[0]) / 255
		}
		return float32(b[0])
	case gltfComponentTypeByte:
		if normalized {
			return max(float32(int8(b[0]))/127, -1)
		}
		return float32(int8(b[0]))
	case gltfComponentTypeUnsignedShort:
		v := binary.LittleEndian.Uint16(b)
		if normalized {
			return float32(v) / 65535
		}
		return float32(v)
	case gltfComponentTypeShort:
		v := int16(binary.LittleEndian.Uint16(b))
		if normalized {
			return max(float32(v)/32767, -1)
		}
		return float32(v)
	case gltfComponentTypeUnsignedInt:
		return float32(binary.LittleEndian.Uint32(b))
	}
	return 0
}

// gltfComponentTypeSize returns the size in bytes of a glTF component type.
func gltfComponentTypeSize(componentType int) int {
	switch componentType {
	case gltfComponentTypeByte, gltfComponentTypeUnsignedByte:
		return 1
	case gltfComponentTypeShort, gltfComponentTypeUnsignedShort:
		return 2
	case gltfComponentTypeUnsignedInt, gltfComponentTypeFloat:
		return 4
	default:
		return 0
	}
}

// gltfAccessorTypeComponentCount returns the number of components for a glTF accessor type.
func gltfAccessorTypeComponentCount(accessorType string) int {
	switch accessorType {
	case gltfAccessorTypeScalar:
		return 1
	case gltfAccessorTypeVec2:
		return 2
	case gltfAccessorTypeVec3:
		return 3
	case gltfAccessorTypeVec4:
		return 4
	case gltfAccessorTypeMat4:
		return 16
	default:
		return 0
	}
}
