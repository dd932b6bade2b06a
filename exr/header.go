package exr

import (
	"fmt"

	"github.com/mrjoshuak/go-openexr-deep/internal/xdr"
)

// Standard attribute names
const (
	AttrChannels           = "channels"
	AttrCompression        = "compression"
	AttrDataWindow         = "dataWindow"
	AttrDisplayWindow      = "displayWindow"
	AttrLineOrder          = "lineOrder"
	AttrPixelAspectRatio   = "pixelAspectRatio"
	AttrScreenWindowCenter = "screenWindowCenter"
	AttrScreenWindowWidth  = "screenWindowWidth"
	AttrTiles              = "tiles"
	AttrName               = "name"
	AttrType               = "type"
	AttrVersion            = "version"
	AttrChunkCount         = "chunkCount"
	AttrMaxSamplesPerPixel = "maxSamplesPerPixel"
	AttrWorldToCamera      = "worldToCamera"
	AttrWorldToNDC         = "worldToNDC"
)

// Part types
const (
	PartTypeScanline     = "scanlineimage"
	PartTypeTiled        = "tiledimage"
	PartTypeDeepScanline = "deepscanline"
	PartTypeDeepTiled    = "deeptile"
)

// Header holds the attributes of one part, in file order.
type Header struct {
	attrs []*Attribute
}

// NewHeader returns an empty header.
func NewHeader() *Header {
	return &Header{}
}

// NewDeepScanlineHeader returns a header for a width x height deep
// scanline part with ZIPS compression and no channels.
func NewDeepScanlineHeader(width, height int) *Header {
	h := newImageHeader(width, height)
	h.SetType(PartTypeDeepScanline)
	return h
}

// NewDeepTiledHeader returns a header for a width x height deep tiled part.
func NewDeepTiledHeader(width, height int, td TileDescription) *Header {
	h := newImageHeader(width, height)
	h.SetType(PartTypeDeepTiled)
	h.SetTileDescription(td)
	return h
}

func newImageHeader(width, height int) *Header {
	h := NewHeader()
	win := Box2i{Max: V2i{int32(width - 1), int32(height - 1)}}
	h.SetChannels(NewChannelList())
	h.SetCompression(CompressionZIPS)
	h.SetDataWindow(win)
	h.SetDisplayWindow(win)
	h.SetLineOrder(LineOrderIncreasing)
	h.SetPixelAspectRatio(1)
	h.SetScreenWindowCenter(V2f{})
	h.SetScreenWindowWidth(1)
	h.Set(&Attribute{Name: AttrVersion, Type: AttrTypeInt, Value: int32(1)})
	return h
}

// Get returns the named attribute, or nil.
func (h *Header) Get(name string) *Attribute {
	for _, a := range h.attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Has reports whether the named attribute is present.
func (h *Header) Has(name string) bool {
	return h.Get(name) != nil
}

// Set adds or replaces an attribute.
func (h *Header) Set(attr *Attribute) {
	for i, a := range h.attrs {
		if a.Name == attr.Name {
			h.attrs[i] = attr
			return
		}
	}
	h.attrs = append(h.attrs, attr)
}

// Remove deletes the named attribute.
func (h *Header) Remove(name string) {
	for i, a := range h.attrs {
		if a.Name == name {
			h.attrs = append(h.attrs[:i], h.attrs[i+1:]...)
			return
		}
	}
}

// Attributes returns the attributes in file order.
func (h *Header) Attributes() []*Attribute {
	return h.attrs
}

// Channels returns the channel list, or nil.
func (h *Header) Channels() *ChannelList {
	if a := h.Get(AttrChannels); a != nil {
		if cl, ok := a.Value.(*ChannelList); ok {
			return cl
		}
	}
	return nil
}

func (h *Header) SetChannels(cl *ChannelList) {
	h.Set(&Attribute{Name: AttrChannels, Type: AttrTypeChlist, Value: cl})
}

// Compression returns the compression, CompressionNone when unset.
func (h *Header) Compression() Compression {
	if a := h.Get(AttrCompression); a != nil {
		if c, ok := a.Value.(Compression); ok {
			return c
		}
	}
	return CompressionNone
}

func (h *Header) SetCompression(c Compression) {
	h.Set(&Attribute{Name: AttrCompression, Type: AttrTypeCompression, Value: c})
}

// DataWindow returns the data window.
func (h *Header) DataWindow() Box2i {
	if a := h.Get(AttrDataWindow); a != nil {
		if b, ok := a.Value.(Box2i); ok {
			return b
		}
	}
	return Box2i{Max: V2i{-1, -1}}
}

func (h *Header) SetDataWindow(b Box2i) {
	h.Set(&Attribute{Name: AttrDataWindow, Type: AttrTypeBox2i, Value: b})
}

func (h *Header) DisplayWindow() Box2i {
	if a := h.Get(AttrDisplayWindow); a != nil {
		if b, ok := a.Value.(Box2i); ok {
			return b
		}
	}
	return Box2i{Max: V2i{-1, -1}}
}

func (h *Header) SetDisplayWindow(b Box2i) {
	h.Set(&Attribute{Name: AttrDisplayWindow, Type: AttrTypeBox2i, Value: b})
}

// LineOrder returns the line order, LineOrderIncreasing when unset.
func (h *Header) LineOrder() LineOrder {
	if a := h.Get(AttrLineOrder); a != nil {
		if lo, ok := a.Value.(LineOrder); ok {
			return lo
		}
	}
	return LineOrderIncreasing
}

func (h *Header) SetLineOrder(lo LineOrder) {
	h.Set(&Attribute{Name: AttrLineOrder, Type: AttrTypeLineOrder, Value: lo})
}

func (h *Header) SetPixelAspectRatio(v float32) {
	h.Set(&Attribute{Name: AttrPixelAspectRatio, Type: AttrTypeFloat, Value: v})
}

func (h *Header) SetScreenWindowCenter(v V2f) {
	h.Set(&Attribute{Name: AttrScreenWindowCenter, Type: AttrTypeV2f, Value: v})
}

func (h *Header) SetScreenWindowWidth(v float32) {
	h.Set(&Attribute{Name: AttrScreenWindowWidth, Type: AttrTypeFloat, Value: v})
}

// SetWorldToCamera records the camera matrix of the image.
func (h *Header) SetWorldToCamera(m M44f) {
	h.Set(&Attribute{Name: AttrWorldToCamera, Type: AttrTypeM44f, Value: m})
}

// SetWorldToNDC records the world to normalized device coordinates matrix.
func (h *Header) SetWorldToNDC(m M44f) {
	h.Set(&Attribute{Name: AttrWorldToNDC, Type: AttrTypeM44f, Value: m})
}

// Matrix returns the m44f attribute name and whether it is present.
func (h *Header) Matrix(name string) (M44f, bool) {
	if a := h.Get(name); a != nil {
		if m, ok := a.Value.(M44f); ok {
			return m, true
		}
	}
	return M44f{}, false
}

// TileDescription returns the tile description and whether one is set.
func (h *Header) TileDescription() (TileDescription, bool) {
	if a := h.Get(AttrTiles); a != nil {
		if td, ok := a.Value.(TileDescription); ok {
			return td, true
		}
	}
	return TileDescription{}, false
}

func (h *Header) SetTileDescription(td TileDescription) {
	h.Set(&Attribute{Name: AttrTiles, Type: AttrTypeTileDesc, Value: td})
}

// IsTiled reports whether the part stores tiles.
func (h *Header) IsTiled() bool {
	switch h.Type() {
	case PartTypeDeepTiled, PartTypeTiled:
		return true
	case "":
		return h.Has(AttrTiles)
	}
	return false
}

// Type returns the part type, or "" for single-part flat images that omit it.
func (h *Header) Type() string {
	if a := h.Get(AttrType); a != nil {
		if s, ok := a.Value.(string); ok {
			return s
		}
	}
	return ""
}

func (h *Header) SetType(t string) {
	h.Set(&Attribute{Name: AttrType, Type: AttrTypeString, Value: t})
}

// IsDeep reports whether the part holds deep data.
func (h *Header) IsDeep() bool {
	t := h.Type()
	return t == PartTypeDeepScanline || t == PartTypeDeepTiled
}

// Name returns the part name, or "".
func (h *Header) Name() string {
	if a := h.Get(AttrName); a != nil {
		if s, ok := a.Value.(string); ok {
			return s
		}
	}
	return ""
}

func (h *Header) SetName(name string) {
	h.Set(&Attribute{Name: AttrName, Type: AttrTypeString, Value: name})
}

// MaxSamplesPerPixel returns the recorded maximum sample count, or -1.
func (h *Header) MaxSamplesPerPixel() int {
	if a := h.Get(AttrMaxSamplesPerPixel); a != nil {
		if v, ok := a.Value.(int32); ok {
			return int(v)
		}
	}
	return -1
}

func (h *Header) SetMaxSamplesPerPixel(n int) {
	h.Set(&Attribute{Name: AttrMaxSamplesPerPixel, Type: AttrTypeInt, Value: int32(n)})
}

// ScanlinesPerChunk returns the number of scanlines in each chunk.
func (h *Header) ScanlinesPerChunk() int {
	return h.Compression().ScanlinesPerChunk()
}

// Validate checks that the header describes a deep part this package can
// read and write.
func (h *Header) Validate() error {
	for _, name := range []string{AttrChannels, AttrCompression, AttrDataWindow, AttrDisplayWindow, AttrLineOrder} {
		if !h.Has(name) {
			return fmt.Errorf("%w: missing %s attribute", ErrInvalidHeader, name)
		}
	}
	if !h.IsDeep() {
		return fmt.Errorf("%w: type %q", ErrNotDeep, h.Type())
	}

	dw := h.DataWindow()
	if dw.IsEmpty() {
		return fmt.Errorf("%w: empty data window", ErrInvalidHeader)
	}
	if c := h.Compression(); !c.SupportsDeep() {
		return fmt.Errorf("%w: %s", ErrDeepNotSupported, c)
	}
	if lo := h.LineOrder(); lo > LineOrderRandom {
		return fmt.Errorf("%w: line order %d", ErrInvalidHeader, lo)
	}

	cl := h.Channels()
	if cl == nil || cl.Len() == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalidHeader)
	}
	for _, c := range cl.channels {
		if c.Type.Size() == 0 {
			return fmt.Errorf("%w: channel %q has pixel type %d", ErrInvalidHeader, c.Name, c.Type)
		}
		if c.XSampling != 1 || c.YSampling != 1 {
			return fmt.Errorf("%w: deep channel %q has sampling %dx%d", ErrSamplingMismatch, c.Name, c.XSampling, c.YSampling)
		}
	}

	if h.Type() == PartTypeDeepTiled {
		td, ok := h.TileDescription()
		if !ok {
			return fmt.Errorf("%w: deep tiled part without tiles attribute", ErrInvalidHeader)
		}
		if td.XSize == 0 || td.YSize == 0 || td.XSize > 1<<30 || td.YSize > 1<<30 {
			return fmt.Errorf("%w: tile size %dx%d", ErrInvalidHeader, td.XSize, td.YSize)
		}
		if td.Mode > LevelModeRipmap || td.RoundingMode > LevelRoundUp {
			return fmt.Errorf("%w: level mode %d rounding %d", ErrInvalidHeader, td.Mode, td.RoundingMode)
		}
	}
	return nil
}

// ChunksInFile returns the number of chunks, and so of offset table
// entries, of the part.
func (h *Header) ChunksInFile() int {
	if a := h.Get(AttrChunkCount); a != nil {
		if v, ok := a.Value.(int32); ok && v >= 0 {
			return int(v)
		}
	}
	return h.computedChunkCount()
}

func (h *Header) computedChunkCount() int {
	if !h.IsTiled() {
		spc := h.ScanlinesPerChunk()
		return (int(h.DataWindow().Height()) + spc - 1) / spc
	}
	td, _ := h.TileDescription()
	n := 0
	switch td.Mode {
	case LevelModeRipmap:
		for ly := 0; ly < h.NumYLevels(); ly++ {
			for lx := 0; lx < h.NumXLevels(); lx++ {
				n += h.NumXTiles(lx) * h.NumYTiles(ly)
			}
		}
	default:
		for l := 0; l < h.NumXLevels(); l++ {
			n += h.NumXTiles(l) * h.NumYTiles(l)
		}
	}
	return n
}

// WriteHeader writes the attributes followed by the terminating empty name.
func WriteHeader(w *xdr.BufferWriter, h *Header) error {
	for _, a := range h.attrs {
		if err := WriteAttribute(w, a); err != nil {
			return err
		}
	}
	w.WriteByte(0)
	return nil
}

// ReadHeader reads attributes up to the terminating empty name.
func ReadHeader(r *xdr.Reader) (*Header, error) {
	h := NewHeader()
	for {
		a, err := ReadAttribute(r)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return h, nil
		}
		h.Set(a)
	}
}
