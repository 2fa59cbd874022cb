package gpu

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// WgpuUploader creates one storage buffer per upload on a wgpu device.
type WgpuUploader struct {
	Device *wgpu.Device
	Usage  wgpu.BufferUsage

	mu      sync.Mutex
	next    Handle
	buffers map[Handle]*wgpu.Buffer
}

func NewWgpuUploader(device *wgpu.Device) *WgpuUploader {
	return &WgpuUploader{
		Device:  device,
		Usage:   wgpu.BufferUsageStorage,
		next:    1,
		buffers: make(map[Handle]*wgpu.Buffer),
	}
}

func (u *WgpuUploader) Upload(label string, data []byte) (Handle, error) {
	size := uint64(len(data))
	if size == 0 {
		size = 4
	}
	if size%4 != 0 {
		size += 4 - (size % 4)
	}

	buf, err := u.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             size,
		Usage:            u.Usage | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		return InvalidHandle, fmt.Errorf("gpu: create %s (%d bytes): %w", label, size, err)
	}
	if len(data) > 0 {
		// queue writes need 4-byte aligned sizes
		padded := data
		if uint64(len(data)) != size {
			padded = make([]byte, size)
			copy(padded, data)
		}
		if err := u.Device.GetQueue().WriteBuffer(buf, 0, padded); err != nil {
			buf.Release()
			return InvalidHandle, fmt.Errorf("gpu: write %s: %w", label, err)
		}
	}

	u.mu.Lock()
	h := u.next
	u.next++
	u.buffers[h] = buf
	u.mu.Unlock()
	return h, nil
}

func (u *WgpuUploader) Release(h Handle) {
	u.mu.Lock()
	buf, ok := u.buffers[h]
	delete(u.buffers, h)
	u.mu.Unlock()
	if ok {
		buf.Release()
	}
}

// Buffer returns the wgpu buffer behind a handle for bind group creation.
func (u *WgpuUploader) Buffer(h Handle) (*wgpu.Buffer, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	buf, ok := u.buffers[h]
	return buf, ok
}

// ReleaseAll frees every buffer, used when the device goes away.
func (u *WgpuUploader) ReleaseAll() {
	u.mu.Lock()
	bufs := u.buffers
	u.buffers = make(map[Handle]*wgpu.Buffer)
	u.mu.Unlock()
	for _, buf := range bufs {
		buf.Release()
	}
}
