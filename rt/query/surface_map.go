package query

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"io"
	"os"
	"sync"

	"golang.org/x/image/bmp"
)

// SurfaceMap resolves a screen pixel to the surface material index rendered there during the
// last committed frame.
type SurfaceMap interface {
	SurfaceAt(x, y int) (uint32, bool)
}

// GridSurfaceMap is an in-memory ID buffer. The host writes it from the last committed frame and
// the render thread reads it while resolving picks.
type GridSurfaceMap struct {
	mu   sync.RWMutex
	w, h int
	ids  []uint32
	set  []bool
}

func NewGridSurfaceMap(w, h int) *GridSurfaceMap {
	return &GridSurfaceMap{
		w:   w,
		h:   h,
		ids: make([]uint32, w*h),
		set: make([]bool, w*h),
	}
}

func (m *GridSurfaceMap) Bounds() image.Rectangle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return image.Rect(0, 0, m.w, m.h)
}

func (m *GridSurfaceMap) Set(x, y int, id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if x < 0 || y < 0 || x >= m.w || y >= m.h {
		return
	}
	m.ids[y*m.w+x] = id
	m.set[y*m.w+x] = true
}

// Fill writes id over r, clipped to the map.
func (m *GridSurfaceMap) Fill(r image.Rectangle, id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r = r.Intersect(image.Rect(0, 0, m.w, m.h))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.ids[y*m.w+x] = id
			m.set[y*m.w+x] = true
		}
	}
}

func (m *GridSurfaceMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.ids)
	clear(m.set)
}

func (m *GridSurfaceMap) SurfaceAt(x, y int) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if x < 0 || y < 0 || x >= m.w || y >= m.h {
		return 0, false
	}
	i := y*m.w + x
	return m.ids[i], m.set[i]
}

// WriteBMP dumps the map in the encoding ImageSurfaceMap reads back.
func (m *GridSurfaceMap) WriteBMP(w io.Writer) error {
	m.mu.RLock()
	img := image.NewRGBA(image.Rect(0, 0, m.w, m.h))
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			i := y*m.w + x
			if m.set[i] {
				img.SetRGBA(x, y, encodeSurfaceID(m.ids[i]))
			} else {
				img.SetRGBA(x, y, color.RGBA{A: 0xff})
			}
		}
	}
	m.mu.RUnlock()
	return bmp.Encode(w, img)
}

// Pixel value is index+1 packed into RGB so black means "no surface".
func encodeSurfaceID(id uint32) color.RGBA {
	v := id + 1
	return color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 0xff}
}

func decodeSurfaceID(c color.Color) (uint32, bool) {
	r, g, b, _ := c.RGBA()
	v := r>>8 | (g>>8)<<8 | (b>>8)<<16
	if v == 0 {
		return 0, false
	}
	return v - 1, true
}

// ImageSurfaceMap is a decoded ID dump, BMP or PNG.
type ImageSurfaceMap struct {
	img image.Image
}

func DecodeSurfaceMap(r io.Reader) (*ImageSurfaceMap, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("query: decode surface map: %w", err)
	}
	if format != "bmp" && format != "png" {
		return nil, fmt.Errorf("query: unsupported surface map format %q", format)
	}
	return &ImageSurfaceMap{img: img}, nil
}

func LoadSurfaceMap(path string) (*ImageSurfaceMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("query: open surface map: %w", err)
	}
	defer f.Close()
	return DecodeSurfaceMap(f)
}

func (m *ImageSurfaceMap) Bounds() image.Rectangle { return m.img.Bounds() }

func (m *ImageSurfaceMap) SurfaceAt(x, y int) (uint32, bool) {
	p := image.Pt(x, y).Add(m.img.Bounds().Min)
	if !p.In(m.img.Bounds()) {
		return 0, false
	}
	return decodeSurfaceID(m.img.At(p.X, p.Y))
}
