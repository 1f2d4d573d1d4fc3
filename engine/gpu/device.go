package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// BufferUsage says what a buffer will be bound as.
type BufferUsage int

const (
	BufferUsageVertex BufferUsage = iota
	BufferUsageIndex
)

func (u BufferUsage) String() string {
	if u == BufferUsageIndex {
		return "index"
	}
	return "vertex"
}

// Buffer is a GPU buffer created by a Device.
type Buffer interface {
	// Size returns the allocated size in bytes.
	Size() uint64

	// Release frees the buffer.
	Release()
}

// Device is the part of a GPU device the uploader needs.
type Device interface {
	// CreateBuffer allocates a buffer that can be written from the CPU.
	//
	// Parameters:
	//   - label: the debug label
	//   - size: the size in bytes, a multiple of 4
	//   - usage: how the buffer will be bound
	//
	// Returns:
	//   - Buffer: the new buffer
	//   - error: if the allocation failed
	CreateBuffer(label string, size uint64, usage BufferUsage) (Buffer, error)

	// WriteBuffer queues a write of data into buf at offset.
	//
	// Parameters:
	//   - buf: a buffer created by this device
	//   - offset: the byte offset, a multiple of 4
	//   - data: the bytes to write, a multiple of 4 long
	//
	// Returns:
	//   - error: if the write could not be queued
	WriteBuffer(buf Buffer, offset uint64, data []byte) error
}

type wgpuBuffer struct {
	buf  *wgpu.Buffer
	size uint64
}

func (b *wgpuBuffer) Size() uint64 {
	return b.size
}

func (b *wgpuBuffer) Release() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
}

// Raw returns the underlying wgpu buffer for binding in a render pass.
func (b *wgpuBuffer) Raw() *wgpu.Buffer {
	return b.buf
}

// WGPUDevice is a Device backed by a wgpu device and queue.
type WGPUDevice struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
}

var _ Device = &WGPUDevice{}

// NewDevice wraps an existing wgpu device and its queue. The caller keeps ownership
// of both.
//
// Parameters:
//   - device: the wgpu device
//   - queue: the device's queue
//
// Returns:
//   - *WGPUDevice: the wrapper
func NewDevice(device *wgpu.Device, queue *wgpu.Queue) *WGPUDevice {
	return &WGPUDevice{device: device, queue: queue}
}

// NewHeadlessDevice requests an adapter and a device without a surface.
//
// Parameters:
//   - forceFallbackAdapter: true to request the software adapter
//
// Returns:
//   - *WGPUDevice: the device, released with Release
//   - error: if no adapter or device could be obtained
func NewHeadlessDevice(forceFallbackAdapter bool) (*WGPUDevice, error) {
	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("gpu: request adapter: %w", err)
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Merge Upload Device",
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("gpu: request device: %w", err)
	}
	return &WGPUDevice{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.GetQueue(),
	}, nil
}

func (d *WGPUDevice) CreateBuffer(label string, size uint64, usage BufferUsage) (Buffer, error) {
	u := wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst
	if usage == BufferUsageIndex {
		u = wgpu.BufferUsageIndex | wgpu.BufferUsageCopyDst
	}
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             size,
		Usage:            u,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, err
	}
	return &wgpuBuffer{buf: buf, size: size}, nil
}

func (d *WGPUDevice) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	b, ok := buf.(*wgpuBuffer)
	if !ok || b.buf == nil {
		return fmt.Errorf("gpu: buffer %T was not created by this device", buf)
	}
	return d.queue.WriteBuffer(b.buf, offset, data)
}

// Release frees the device, adapter and instance if this value created them.
func (d *WGPUDevice) Release() {
	if d.instance == nil {
		return
	}
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
	d.instance = nil
}
