package resample

import (
	"errors"
	"fmt"
)

// ErrRowBuilt is returned when a pixel is added to a row after Build.
var ErrRowBuilt = errors.New("resample: pixel added to a built row")

// DeepRow assembles the deep pixels of one scanline into flat per-channel
// arenas.
//
// Pixels are staged with AddPixel and AddHole in any x order. Build then
// allocates each arena once, copies the staged samples in x order and
// records where every pixel starts. Samples returns views resolved from
// those offsets.
type DeepRow struct {
	width int
	rgba  bool
	built bool

	counts []uint32
	// staged[x] is the offset of pixel x in the staging pixel.
	staged []int
	stage  DeepPixel

	offsets []int
	arena   DeepPixel
}

// NewDeepRow returns an empty row of width pixels. rgba rows carry colour.
func NewDeepRow(width int, rgba bool) *DeepRow {
	return &DeepRow{
		width:   width,
		rgba:    rgba,
		counts:  make([]uint32, width),
		staged:  make([]int, width),
		offsets: make([]int, width+1),
	}
}

// Width returns the number of pixels.
func (r *DeepRow) Width() int {
	return r.width
}

// RGBA reports whether the row carries colour.
func (r *DeepRow) RGBA() bool {
	return r.rgba
}

// Reset empties the row for reuse, keeping its storage.
func (r *DeepRow) Reset() {
	clear(r.counts)
	clear(r.staged)
	clear(r.offsets)
	r.stage.Reset()
	r.arena.Reset()
	r.built = false
}

func (r *DeepRow) check(x int) error {
	if r.built {
		return ErrRowBuilt
	}
	if x < 0 || x >= r.width {
		return fmt.Errorf("resample: pixel %d outside row of width %d", x, r.width)
	}
	return nil
}

// AddPixel stages the samples of px for pixel x. Adding a pixel twice
// keeps the last one.
func (r *DeepRow) AddPixel(x int, px *DeepPixel) error {
	if err := r.check(x); err != nil {
		return err
	}
	if px.IsHole() {
		r.counts[x] = 0
		return nil
	}
	r.counts[x] = uint32(px.Len())
	r.staged[x] = r.stage.Len()
	r.stage.Front = append(r.stage.Front, px.Front...)
	r.stage.Back = append(r.stage.Back, px.Back...)
	r.stage.Alpha = append(r.stage.Alpha, px.Alpha...)
	if r.rgba {
		r.stage.Red = append(r.stage.Red, px.Red...)
		r.stage.Green = append(r.stage.Green, px.Green...)
		r.stage.Blue = append(r.stage.Blue, px.Blue...)
	}
	return nil
}

// AddHole marks pixel x as having no samples.
func (r *DeepRow) AddHole(x int) error {
	if err := r.check(x); err != nil {
		return err
	}
	r.counts[x] = 0
	return nil
}

// Build lays out the staged pixels. It must be called once after every
// pixel has been added and before Samples.
func (r *DeepRow) Build() error {
	if r.built {
		return ErrRowBuilt
	}
	total := 0
	for x, c := range r.counts {
		r.offsets[x] = total
		total += int(c)
	}
	r.offsets[r.width] = total

	r.arena.Front = growFloat32s(r.arena.Front, total)
	r.arena.Back = growFloat32s(r.arena.Back, total)
	r.arena.Alpha = growFloats(r.arena.Alpha, total)
	if r.rgba {
		r.arena.Red = growFloats(r.arena.Red, total)
		r.arena.Green = growFloats(r.arena.Green, total)
		r.arena.Blue = growFloats(r.arena.Blue, total)
	}
	for x, c := range r.counts {
		if c == 0 {
			continue
		}
		src, dst, n := r.staged[x], r.offsets[x], int(c)
		copy(r.arena.Front[dst:dst+n], r.stage.Front[src:src+n])
		copy(r.arena.Back[dst:dst+n], r.stage.Back[src:src+n])
		copy(r.arena.Alpha[dst:dst+n], r.stage.Alpha[src:src+n])
		if r.rgba {
			copy(r.arena.Red[dst:dst+n], r.stage.Red[src:src+n])
			copy(r.arena.Green[dst:dst+n], r.stage.Green[src:src+n])
			copy(r.arena.Blue[dst:dst+n], r.stage.Blue[src:src+n])
		}
	}
	r.built = true
	return nil
}

// IsBuilt reports whether Build has been called since the last Reset.
func (r *DeepRow) IsBuilt() bool {
	return r.built
}

// Counts returns the sample count of every pixel.
func (r *DeepRow) Counts() []uint32 {
	return r.counts
}

// Total returns the number of samples in the built row.
func (r *DeepRow) Total() int {
	return r.offsets[r.width]
}

// Arena returns the per-channel samples of the whole built row in x order.
func (r *DeepRow) Arena() *DeepPixel {
	return &r.arena
}

// Samples returns a view of the samples of pixel x. The row must be built.
func (r *DeepRow) Samples(x int) DeepPixel {
	if !r.built || x < 0 || x >= r.width {
		return DeepPixel{}
	}
	lo, hi := r.offsets[x], r.offsets[x+1]
	px := DeepPixel{
		Front: r.arena.Front[lo:hi],
		Back:  r.arena.Back[lo:hi],
		Alpha: r.arena.Alpha[lo:hi],
	}
	if r.rgba {
		px.Red = r.arena.Red[lo:hi]
		px.Green = r.arena.Green[lo:hi]
		px.Blue = r.arena.Blue[lo:hi]
	}
	return px
}

func growFloat32s(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}
