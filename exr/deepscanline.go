package exr

import (
	"fmt"

	"github.com/mrjoshuak/go-openexr-deep/internal/log"
	"github.com/mrjoshuak/go-openexr-deep/internal/xdr"
)

// rawScanlineHeaderSize is the size of the header RawPixelData puts in
// front of a chunk: y and the three sizes.
const rawScanlineHeaderSize = 4 + 3*8

// decodeWorker is the scheduler worker of deep readers.
type decodeWorker struct {
	p DecodePipeline
}

func newDecodeWorker() Worker {
	return &decodeWorker{}
}

func (w *decodeWorker) Release() {
	w.p.Destroy()
}

// prepare binds the worker's pipeline to ci, choosing routines on first use.
func (w *decodeWorker) prepare(f *File, ci ChunkInfo, fb *DeepFrameBuffer, countsOnly bool) error {
	if w.p.State() == StateUninitialized {
		if err := w.p.Initialize(f, ci); err != nil {
			return err
		}
		return w.p.ChooseRoutines(fb, countsOnly)
	}
	return w.p.Update(ci)
}

// DeepScanlineInputFile reads one deep scanline part.
//
// Reading is two-phase: ReadPixelSampleCounts fills the frame buffer's
// counts, the caller allocates the frame buffer, then ReadPixels fills the
// samples. A DeepScanlineInputFile is not safe for concurrent use; chunks
// are decoded in parallel internally.
type DeepScanlineInputFile struct {
	file   *File
	owned  bool
	part   int
	header *Header
	dw     Box2i
	spc    int
	sched  *Scheduler

	fb *DeepFrameBuffer
	// countsRead has one bit per scanline of the data window.
	countsRead []uint64
	cache      *sampleCountCache
}

// OpenDeepScanline opens a deep scanline part of f.
func OpenDeepScanline(f *File, part int, opts ...InputOption) (*DeepScanlineInputFile, error) {
	if f == nil {
		return nil, ErrInvalidFile
	}
	o := defaultInputOptions()
	for _, opt := range opts {
		opt(&o)
	}

	h, err := f.deepPart(part, false)
	if err != nil {
		return nil, opError("open deep scanline", f.Name(), err)
	}
	if err := h.Validate(); err != nil {
		return nil, opError("open deep scanline", f.Name(), err)
	}

	dw := h.DataWindow()
	in := &DeepScanlineInputFile{
		file:       f,
		part:       part,
		header:     h,
		dw:         dw,
		spc:        h.ScanlinesPerChunk(),
		sched:      schedulerOr(o.scheduler),
		countsRead: make([]uint64, (int(dw.Height())+63)/64),
	}
	if o.cacheThreshold > 0 && dw.Area() < o.cacheThreshold && o.cacheBytes > 0 {
		in.cache = newSampleCountCache(o.cacheBytes)
	}
	if !f.IsComplete(part) {
		log.Warningf("exr: %s part %d is missing chunks", f.displayName(), part)
	}
	return in, nil
}

// OpenDeepScanlineFile opens the first part of the named file.
func OpenDeepScanlineFile(path string, opts ...InputOption) (*DeepScanlineInputFile, error) {
	f, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	in, err := OpenDeepScanline(f, 0, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	in.owned = true
	return in, nil
}

// Close closes the file if it was opened by OpenDeepScanlineFile.
func (in *DeepScanlineInputFile) Close() error {
	if in.owned {
		return in.file.Close()
	}
	return nil
}

// Header returns the part header.
func (in *DeepScanlineInputFile) Header() *Header {
	return in.header
}

// DataWindow returns the part's data window.
func (in *DeepScanlineInputFile) DataWindow() Box2i {
	return in.dw
}

// IsComplete reports whether every chunk of the part is present.
func (in *DeepScanlineInputFile) IsComplete() bool {
	return in.file.IsComplete(in.part)
}

// FirstScanlineInChunk returns the first scanline of the chunk holding y.
func (in *DeepScanlineInputFile) FirstScanlineInChunk(y int) int {
	minY := int(in.dw.Min.Y)
	return minY + ((y-minY)/in.spc)*in.spc
}

// LastScanlineInChunk returns the last scanline of the chunk holding y.
func (in *DeepScanlineInputFile) LastScanlineInChunk(y int) int {
	last := in.FirstScanlineInChunk(y) + in.spc - 1
	if last > int(in.dw.Max.Y) {
		last = int(in.dw.Max.Y)
	}
	return last
}

// FrameBuffer returns the frame buffer set by SetFrameBuffer.
func (in *DeepScanlineInputFile) FrameBuffer() *DeepFrameBuffer {
	return in.fb
}

// SetFrameBuffer sets the destination of subsequent reads. It forgets
// which rows have had their sample counts read.
func (in *DeepScanlineInputFile) SetFrameBuffer(fb *DeepFrameBuffer) error {
	if fb == nil {
		return opError("SetFrameBuffer", in.file.Name(), ErrNoFrameBuffer)
	}
	if err := checkSampling(in.header, fb); err != nil {
		return opError("SetFrameBuffer", in.file.Name(), err)
	}
	in.fb = fb
	clear(in.countsRead)
	return nil
}

// checkSampling requires every slice to match the sampling of its file
// channel, and channels the file lacks to be full resolution.
func checkSampling(h *Header, fb *DeepFrameBuffer) error {
	cl := h.Channels()
	for _, name := range fb.Names() {
		xs, ys := fb.Slice(name).sampling()
		want := [2]int{1, 1}
		if c := cl.Get(name); c != nil {
			want = [2]int{int(c.XSampling), int(c.YSampling)}
		}
		if xs != want[0] || ys != want[1] {
			return fmt.Errorf("%w: channel %q sampled %dx%d, want %dx%d", ErrSamplingMismatch, name, xs, ys, want[0], want[1])
		}
	}
	return nil
}

func (in *DeepScanlineInputFile) checkRange(y1, y2 int) (int, int, error) {
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	if y1 < int(in.dw.Min.Y) || y2 > int(in.dw.Max.Y) {
		return 0, 0, fmt.Errorf("%w: [%d, %d] outside [%d, %d]", ErrScanlineOutOfRange, y1, y2, in.dw.Min.Y, in.dw.Max.Y)
	}
	return y1, y2, nil
}

func (in *DeepScanlineInputFile) markCounts(y1, y2 int) {
	for y := y1; y <= y2; y++ {
		r := y - int(in.dw.Min.Y)
		in.countsRead[r/64] |= 1 << uint(r%64)
	}
}

func (in *DeepScanlineInputFile) countsReadFor(y1, y2 int) bool {
	for y := y1; y <= y2; y++ {
		r := y - int(in.dw.Min.Y)
		if in.countsRead[r/64]&(1<<uint(r%64)) == 0 {
			return false
		}
	}
	return true
}

// ReadPixelSampleCounts reads the sample counts of scanlines y1 to y2
// (inclusive, either order) into the frame buffer.
func (in *DeepScanlineInputFile) ReadPixelSampleCounts(y1, y2 int) error {
	err := in.readSampleCounts(y1, y2)
	return opError("ReadPixelSampleCounts", in.file.Name(), err)
}

func (in *DeepScanlineInputFile) readSampleCounts(y1, y2 int) error {
	if in.fb == nil {
		return ErrNoFrameBuffer
	}
	y1, y2, err := in.checkRange(y1, y2)
	if err != nil {
		return err
	}

	first := scanlineChunkIndex(in.header, y1)
	last := scanlineChunkIndex(in.header, y2)
	err = in.sched.Run(last-first+1, newDecodeWorker, func(w Worker, i int) error {
		idx := first + i
		chunkY := int(in.dw.Min.Y) + idx*in.spc
		if counts := in.cache.get(idx); counts != nil {
			in.storeCachedCounts(counts, chunkY, y1, y2)
			return nil
		}

		ci, err := in.file.ScanlineChunk(in.part, chunkY)
		if err != nil {
			return err
		}
		dw := w.(*decodeWorker)
		if err := dw.prepare(in.file, ci, in.fb, true); err != nil {
			return err
		}
		dw.p.Restrict(y1, y2)
		if err := dw.p.Run(); err != nil {
			return err
		}
		in.cache.put(idx, dw.p.SampleCounts())
		return nil
	})
	if err != nil {
		return err
	}
	in.markCounts(y1, y2)
	return nil
}

func (in *DeepScanlineInputFile) storeCachedCounts(counts []uint32, chunkY, y1, y2 int) {
	width := int(in.dw.Width())
	for r := 0; r*width < len(counts); r++ {
		y := chunkY + r
		if y < y1 || y > y2 {
			continue
		}
		for x := 0; x < width; x++ {
			in.fb.SetSampleCount(int(in.dw.Min.X)+x, y, counts[r*width+x])
		}
	}
}

// ReadPixels reads the samples of scanlines y1 to y2 (inclusive, either
// order). Their counts must have been read and the frame buffer allocated.
func (in *DeepScanlineInputFile) ReadPixels(y1, y2 int) error {
	err := in.readPixels(y1, y2)
	return opError("ReadPixels", in.file.Name(), err)
}

func (in *DeepScanlineInputFile) readPixels(y1, y2 int) error {
	if in.fb == nil {
		return ErrNoFrameBuffer
	}
	y1, y2, err := in.checkRange(y1, y2)
	if err != nil {
		return err
	}
	if !in.countsReadFor(y1, y2) {
		return fmt.Errorf("%w: [%d, %d]", ErrSampleCountsNotRead, y1, y2)
	}
	if !in.fb.IsAllocated() {
		return ErrNotAllocated
	}

	first := scanlineChunkIndex(in.header, y1)
	last := scanlineChunkIndex(in.header, y2)
	tl := log.NewTimeLog()
	err = in.sched.Run(last-first+1, newDecodeWorker, func(w Worker, i int) error {
		ci, err := in.file.ScanlineChunk(in.part, int(in.dw.Min.Y)+(first+i)*in.spc)
		if err != nil {
			return err
		}
		dw := w.(*decodeWorker)
		if err := dw.prepare(in.file, ci, in.fb, false); err != nil {
			return err
		}
		dw.p.Restrict(y1, y2)
		return dw.p.Run()
	})
	tl.Debugf("exr: decoded %d deep chunks", last-first+1)
	return err
}

// RawPixelData returns the chunk holding scanline y as stored: y, the
// table, packed and unpacked sizes, then the packed table and data.
func (in *DeepScanlineInputFile) RawPixelData(y int) ([]byte, error) {
	ci, err := in.file.ScanlineChunk(in.part, y)
	if err != nil {
		return nil, opError("RawPixelData", in.file.Name(), err)
	}
	n := int(ci.SampleCountTableSize + ci.PackedSize)
	w := xdr.NewBufferWriter(rawScanlineHeaderSize + n)
	w.WriteInt32(int32(ci.Y))
	w.WriteUint64(ci.SampleCountTableSize)
	w.WriteUint64(ci.PackedSize)
	w.WriteUint64(ci.UnpackedSize)
	raw := append(w.Bytes(), make([]byte, n)...)
	if err := in.file.readAt(raw[rawScanlineHeaderSize:], ci.DataOffset); err != nil {
		return nil, opError("RawPixelData", in.file.Name(), err)
	}
	return raw, nil
}

// rawChunk parses the header of a RawPixelData result covering exactly
// scanlines y1 to y2.
func (in *DeepScanlineInputFile) rawChunk(raw []byte, y1, y2 int) (ChunkInfo, error) {
	r := xdr.NewReader(raw)
	y, err := r.ReadInt32()
	if err != nil {
		return ChunkInfo{}, fmt.Errorf("%w: short raw chunk", ErrCorruptChunk)
	}
	sizes, err := readChunkSizes(r)
	if err != nil {
		return ChunkInfo{}, err
	}
	if _, _, err := in.checkRange(y1, y2); err != nil {
		return ChunkInfo{}, err
	}
	if int(y) != y1 || y1 != in.FirstScanlineInChunk(y1) || y2 != in.LastScanlineInChunk(y1) {
		return ChunkInfo{}, fmt.Errorf("%w: raw chunk at y=%d does not cover [%d, %d]", ErrCorruptChunk, y, y1, y2)
	}
	return ChunkInfo{
		Index:                scanlineChunkIndex(in.header, y1),
		Part:                 in.part,
		X:                    int(in.dw.Min.X),
		Y:                    y1,
		Width:                int(in.dw.Width()),
		Height:               y2 - y1 + 1,
		SampleCountTableSize: sizes.table,
		PackedSize:           sizes.packed,
		UnpackedSize:         sizes.unpacked,
	}, nil
}

// ReadPixelSampleCountsFromRaw decodes the counts of a chunk obtained from
// RawPixelData. y1 and y2 must be the first and last scanline of the chunk.
func (in *DeepScanlineInputFile) ReadPixelSampleCountsFromRaw(raw []byte, y1, y2 int) error {
	err := in.decodeRaw(raw, y1, y2, true)
	if err == nil {
		in.markCounts(y1, y2)
	}
	return opError("ReadPixelSampleCountsFromRaw", in.file.Name(), err)
}

// ReadPixelsFromRaw decodes the samples of a chunk obtained from
// RawPixelData into the allocated frame buffer.
func (in *DeepScanlineInputFile) ReadPixelsFromRaw(raw []byte, y1, y2 int) error {
	err := in.decodeRaw(raw, y1, y2, false)
	return opError("ReadPixelsFromRaw", in.file.Name(), err)
}

func (in *DeepScanlineInputFile) decodeRaw(raw []byte, y1, y2 int, countsOnly bool) error {
	if in.fb == nil {
		return ErrNoFrameBuffer
	}
	ci, err := in.rawChunk(raw, y1, y2)
	if err != nil {
		return err
	}
	var p DecodePipeline
	defer p.Destroy()
	if err := p.Initialize(in.file, ci); err != nil {
		return err
	}
	if err := p.ChooseRoutines(in.fb, countsOnly); err != nil {
		return err
	}
	return p.RunFromMemory(raw[rawScanlineHeaderSize:])
}
