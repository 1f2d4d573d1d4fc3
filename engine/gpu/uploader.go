package gpu

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Carmen-Shannon/oxy-merge/engine/batch"
)

const defaultMinCapacity = 256

// UploadStats counts uploader activity since creation.
type UploadStats struct {
	Batches       int
	Uploads       int
	Reallocations int
	BytesWritten  uint64
}

// batchBuffers is the GPU mirror of one batch.
type batchBuffers struct {
	vertex     Buffer
	index      Buffer
	indexCount int
	version    uint64
	synced     bool
}

type uploader struct {
	mu      sync.Mutex
	device  Device
	entries map[*batch.Batch]*batchBuffers
	stats   UploadStats

	minCapacity uint64
	labelPrefix string
	logger      *slog.Logger
}

// Uploader mirrors batches into vertex and index buffers on a Device.
//
// Buffers grow by doubling and are only recreated when the data no longer fits.
// A batch is rewritten only when its version changed since the last Sync.
type Uploader interface {
	// Sync uploads the batch if it changed since the last call.
	//
	// Parameters:
	//   - b: the batch to mirror
	//
	// Returns:
	//   - bool: true if anything was written
	//   - error: if a buffer could not be created or written
	Sync(b *batch.Batch) (bool, error)

	// Buffers returns the GPU buffers of a synced batch.
	//
	// Parameters:
	//   - b: the batch
	//
	// Returns:
	//   - Buffer: the vertex buffer, nil while the batch is empty
	//   - Buffer: the index buffer, nil while the batch is empty
	//   - int: the number of indices to draw
	//   - bool: false if the batch was never synced
	Buffers(b *batch.Batch) (Buffer, Buffer, int, bool)

	// Release frees the buffers of one batch.
	//
	// Parameters:
	//   - b: the batch
	Release(b *batch.Batch)

	// ReleaseAll frees every buffer.
	ReleaseAll()

	// Stats returns the activity counters.
	Stats() UploadStats
}

var _ Uploader = &uploader{}

// NewUploader creates a new Uploader writing to device.
//
// Parameters:
//   - device: the device buffers are created on
//   - options: functional options to configure the uploader
//
// Returns:
//   - Uploader: the uploader
func NewUploader(device Device, options ...UploaderBuilderOption) Uploader {
	if device == nil {
		panic("gpu: NewUploader requires a device")
	}
	u := &uploader{
		device:      device,
		entries:     make(map[*batch.Batch]*batchBuffers),
		minCapacity: defaultMinCapacity,
		labelPrefix: "Merged",
		logger:      slog.Default(),
	}
	for _, option := range options {
		option(u)
	}
	return u
}

func (u *uploader) Sync(b *batch.Batch) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	e, ok := u.entries[b]
	if !ok {
		e = &batchBuffers{}
		u.entries[b] = e
		u.stats.Batches++
	}

	// Read the version first: a change racing the byte copies is caught next Sync.
	version := b.Version()
	if e.synced && e.version == version {
		return false, nil
	}
	vertexData := b.VertexBytes()
	indexData := b.IndexBytes()

	var err error
	label := fmt.Sprintf("%s %s", u.labelPrefix, b.Key())
	if e.vertex, err = u.write(e.vertex, label+" Vertex Buffer", BufferUsageVertex, vertexData); err != nil {
		return false, err
	}
	if e.index, err = u.write(e.index, label+" Index Buffer", BufferUsageIndex, indexData); err != nil {
		return false, err
	}
	e.indexCount = len(indexData) / 4
	e.version = version
	e.synced = true
	u.stats.Uploads++
	u.logger.Debug("[GPU] batch uploaded", "key", b.Key(), "version", version, "vertexBytes", len(vertexData), "indexBytes", len(indexData))
	return true, nil
}

func (u *uploader) Buffers(b *batch.Batch) (Buffer, Buffer, int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.entries[b]
	if !ok || !e.synced {
		return nil, nil, 0, false
	}
	return e.vertex, e.index, e.indexCount, true
}

func (u *uploader) Release(b *batch.Batch) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if e, ok := u.entries[b]; ok {
		release(e)
		delete(u.entries, b)
	}
}

func (u *uploader) ReleaseAll() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for b, e := range u.entries {
		release(e)
		delete(u.entries, b)
	}
}

func (u *uploader) Stats() UploadStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

// write copies data into buf, replacing buf with a larger one when it does not fit.
func (u *uploader) write(buf Buffer, label string, usage BufferUsage, data []byte) (Buffer, error) {
	if len(data) == 0 {
		return buf, nil
	}
	data = pad4(data)
	need := uint64(len(data))
	if buf == nil || buf.Size() < need {
		capacity := max(need, u.minCapacity)
		if buf != nil {
			capacity = max(capacity, buf.Size()*2)
			buf.Release()
			u.stats.Reallocations++
		}
		capacity = align4(capacity)
		created, err := u.device.CreateBuffer(label, capacity, usage)
		if err != nil {
			return nil, fmt.Errorf("gpu: create %s buffer (%d bytes): %w", usage, capacity, err)
		}
		buf = created
	}
	if err := u.device.WriteBuffer(buf, 0, data); err != nil {
		return buf, fmt.Errorf("gpu: write %s buffer: %w", usage, err)
	}
	u.stats.BytesWritten += need
	return buf, nil
}

func release(e *batchBuffers) {
	if e.vertex != nil {
		e.vertex.Release()
	}
	if e.index != nil {
		e.index.Release()
	}
}

func align4(n uint64) uint64 {
	return (n + 3) &^ 3
}

func pad4(data []byte) []byte {
	if len(data)%4 == 0 {
		return data
	}
	out := make([]byte, align4(uint64(len(data))))
	copy(out, data)
	return out
}
