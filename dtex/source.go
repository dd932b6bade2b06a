// Package dtex converts deep point images into deep OpenEXR files.
//
// A point image stores, for every pixel, an unordered list of points, each
// a depth plus one, three or four channel values. The converter resamples
// each pixel with package resample and writes the result row by row as a
// deep scanline EXR with A (or R, G, B, A), Z and ZBack channels.
package dtex

import (
	"errors"
	"fmt"

	"github.com/mrjoshuak/go-openexr-deep/resample"
)

var (
	// ErrNegativeSampleCount is returned for a pixel whose stored point
	// count is negative.
	ErrNegativeSampleCount = errors.New("dtex: negative number of points")
	// ErrPixelOutOfRange is returned for coordinates outside the image.
	ErrPixelOutOfRange = errors.New("dtex: pixel outside image")
)

// PointSource provides the points of a deep point image.
type PointSource interface {
	Width() int
	Height() int
	// NumChannels is 1, 3 or 4. Four-channel points are R, G, B, A; for
	// one and three channels the first value is the alpha or opacity.
	NumChannels() int
	// Pixel appends the points of pixel (x, y) to dst[:0] and returns it.
	// Row 0 is the top of the image.
	Pixel(x, y int, dst []resample.RawPoint) ([]resample.RawPoint, error)
}

// Camera is implemented by sources that know the projection their points
// were rendered with. Matrices are row-major.
type Camera interface {
	WorldToNDC() [16]float32
	WorldToCamera() [16]float32
}

// MemorySource is a PointSource held in memory.
type MemorySource struct {
	width, height int
	channels      int
	pixels        [][]resample.RawPoint

	// NP and Nl are returned by WorldToNDC and WorldToCamera.
	NP, Nl [16]float32
}

// NewMemorySource returns an empty width x height image.
func NewMemorySource(width, height, channels int) *MemorySource {
	return &MemorySource{
		width:    width,
		height:   height,
		channels: channels,
		pixels:   make([][]resample.RawPoint, width*height),
		NP:       identity(),
		Nl:       identity(),
	}
}

func identity() [16]float32 {
	return [16]float32{0: 1, 5: 1, 10: 1, 15: 1}
}

func (m *MemorySource) Width() int       { return m.width }
func (m *MemorySource) Height() int      { return m.height }
func (m *MemorySource) NumChannels() int { return m.channels }

func (m *MemorySource) WorldToNDC() [16]float32    { return m.NP }
func (m *MemorySource) WorldToCamera() [16]float32 { return m.Nl }

// SetPixel replaces the points of pixel (x, y).
func (m *MemorySource) SetPixel(x, y int, points []resample.RawPoint) error {
	if x < 0 || x >= m.width || y < 0 || y >= m.height {
		return fmt.Errorf("%w: (%d, %d)", ErrPixelOutOfRange, x, y)
	}
	m.pixels[y*m.width+x] = append([]resample.RawPoint(nil), points...)
	return nil
}

// Pixel implements PointSource.
func (m *MemorySource) Pixel(x, y int, dst []resample.RawPoint) ([]resample.RawPoint, error) {
	if x < 0 || x >= m.width || y < 0 || y >= m.height {
		return dst[:0], fmt.Errorf("%w: (%d, %d)", ErrPixelOutOfRange, x, y)
	}
	return append(dst[:0], m.pixels[y*m.width+x]...), nil
}
