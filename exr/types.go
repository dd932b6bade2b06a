// Package exr reads and writes deep OpenEXR images.
//
// Deep images store a variable number of samples per pixel. Each chunk of
// a deep file carries a table of per-pixel sample counts followed by the
// sample data, and both are compressed independently. This package
// provides scanline and tiled readers and writers for such files, the
// chunk-level decode and encode pipelines they are built on, and a bounded
// scheduler that runs those pipelines in parallel.
package exr

import (
	"github.com/mrjoshuak/go-openexr-deep/internal/xdr"
)

// V2i represents a 2D integer vector.
type V2i struct {
	X, Y int32
}

// V2f represents a 2D float vector.
type V2f struct {
	X, Y float32
}

// M44f is a 4x4 float matrix stored row-major.
type M44f [16]float32

// Box2i represents an axis-aligned 2D integer bounding box.
// Both corners are inclusive.
type Box2i struct {
	Min, Max V2i
}

// Width returns the width of the box.
func (b Box2i) Width() int32 {
	return b.Max.X - b.Min.X + 1
}

// Height returns the height of the box.
func (b Box2i) Height() int32 {
	return b.Max.Y - b.Min.Y + 1
}

// IsEmpty returns true if the box has no area.
func (b Box2i) IsEmpty() bool {
	return b.Max.X < b.Min.X || b.Max.Y < b.Min.Y
}

// Contains returns true if the point (x, y) is inside the box.
func (b Box2i) Contains(x, y int32) bool {
	return x >= b.Min.X && x <= b.Max.X && y >= b.Min.Y && y <= b.Max.Y
}

// Area returns the number of pixels in the box.
func (b Box2i) Area() int64 {
	if b.IsEmpty() {
		return 0
	}
	return int64(b.Width()) * int64(b.Height())
}

// Intersect returns the overlap of two boxes. The result is empty when they
// do not overlap.
func (b Box2i) Intersect(o Box2i) Box2i {
	r := b
	if o.Min.X > r.Min.X {
		r.Min.X = o.Min.X
	}
	if o.Min.Y > r.Min.Y {
		r.Min.Y = o.Min.Y
	}
	if o.Max.X < r.Max.X {
		r.Max.X = o.Max.X
	}
	if o.Max.Y < r.Max.Y {
		r.Max.Y = o.Max.Y
	}
	return r
}

// ReadV2i reads a V2i from the reader.
func ReadV2i(r *xdr.Reader) (V2i, error) {
	var v V2i
	var err error
	v.X, err = r.ReadInt32()
	if err != nil {
		return v, err
	}
	v.Y, err = r.ReadInt32()
	return v, err
}

// WriteV2i writes a V2i to the writer.
func WriteV2i(w *xdr.BufferWriter, v V2i) {
	w.WriteInt32(v.X)
	w.WriteInt32(v.Y)
}

// ReadV2f reads a V2f from the reader.
func ReadV2f(r *xdr.Reader) (V2f, error) {
	var v V2f
	var err error
	v.X, err = r.ReadFloat32()
	if err != nil {
		return v, err
	}
	v.Y, err = r.ReadFloat32()
	return v, err
}

// WriteV2f writes a V2f to the writer.
func WriteV2f(w *xdr.BufferWriter, v V2f) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
}

// ReadBox2i reads a Box2i from the reader.
func ReadBox2i(r *xdr.Reader) (Box2i, error) {
	var b Box2i
	var err error
	b.Min, err = ReadV2i(r)
	if err != nil {
		return b, err
	}
	b.Max, err = ReadV2i(r)
	return b, err
}

// WriteBox2i writes a Box2i to the writer.
func WriteBox2i(w *xdr.BufferWriter, b Box2i) {
	WriteV2i(w, b.Min)
	WriteV2i(w, b.Max)
}

// ReadM44f reads a M44f from the reader.
func ReadM44f(r *xdr.Reader) (M44f, error) {
	var m M44f
	for i := range m {
		v, err := r.ReadFloat32()
		if err != nil {
			return m, err
		}
		m[i] = v
	}
	return m, nil
}

// WriteM44f writes a M44f to the writer.
func WriteM44f(w *xdr.BufferWriter, m M44f) {
	for _, v := range m {
		w.WriteFloat32(v)
	}
}
