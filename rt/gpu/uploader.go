package gpu

import (
	"fmt"
	"sync"
)

// Handle names an uploaded GPU buffer. Zero is never a valid handle.
type Handle uint64

const InvalidHandle Handle = 0

// Uploader is the GPU buffer upload service the scene caches write through.
type Uploader interface {
	Upload(label string, data []byte) (Handle, error)
	Release(h Handle)
}

// MemoryUploader keeps uploads in host memory. Used headless and in tests.
type MemoryUploader struct {
	mu       sync.Mutex
	next     Handle
	buffers  map[Handle]memoryBuffer
	uploads  int
	releases int
	bytes    int
}

type memoryBuffer struct {
	label string
	data  []byte
}

func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{next: 1, buffers: make(map[Handle]memoryBuffer)}
}

func (u *MemoryUploader) Upload(label string, data []byte) (Handle, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	h := u.next
	u.next++
	u.buffers[h] = memoryBuffer{label: label, data: append([]byte(nil), data...)}
	u.uploads++
	u.bytes += len(data)
	return h, nil
}

func (u *MemoryUploader) Release(h Handle) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.buffers[h]; !ok {
		return
	}
	delete(u.buffers, h)
	u.releases++
}

// Bytes returns a copy of the uploaded payload.
func (u *MemoryUploader) Bytes(h Handle) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	b, ok := u.buffers[h]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b.data...), true
}

func (u *MemoryUploader) Label(h Handle) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.buffers[h].label
}

// Live is the number of buffers not yet released.
func (u *MemoryUploader) Live() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.buffers)
}

type UploadStats struct {
	Uploads  int
	Releases int
	Bytes    int
}

func (s UploadStats) String() string {
	return fmt.Sprintf("uploads=%d releases=%d bytes=%d", s.Uploads, s.Releases, s.Bytes)
}

func (u *MemoryUploader) Stats() UploadStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return UploadStats{Uploads: u.uploads, Releases: u.releases, Bytes: u.bytes}
}

// TablePair is a GPU table kept for two frames: the one being written and the last committed one
// that in-flight work and queries still read.
type TablePair struct {
	Label    string
	Current  Handle
	Previous Handle
}

// Flip uploads data as the new current table. The handle that falls off the pair is returned for
// the caller to release at garbage collection.
func (p *TablePair) Flip(u Uploader, data []byte) (retired Handle, err error) {
	h, err := u.Upload(p.Label, data)
	if err != nil {
		return InvalidHandle, fmt.Errorf("gpu: upload %s: %w", p.Label, err)
	}
	retired = p.Previous
	p.Previous = p.Current
	p.Current = h
	return retired, nil
}

// Drop forgets both handles, returning them for release.
func (p *TablePair) Drop() []Handle {
	var out []Handle
	for _, h := range []Handle{p.Current, p.Previous} {
		if h != InvalidHandle {
			out = append(out, h)
		}
	}
	p.Current, p.Previous = InvalidHandle, InvalidHandle
	return out
}
