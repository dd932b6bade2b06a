package exr

import (
	"encoding/binary"
	"fmt"

	"github.com/mrjoshuak/go-openexr-deep/compression"
)

// PipelineState tracks the lifecycle of a DecodePipeline or EncodePipeline:
//
//	Uninitialized -> Initialized -> (Updated)* -> Run -> ... -> Destroyed
type PipelineState int

const (
	StateUninitialized PipelineState = iota
	StateInitialized
	StateUpdated
	StateRun
	StateDestroyed
)

func (s PipelineState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateUpdated:
		return "updated"
	case StateRun:
		return "run"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// newCompressor returns the codec for c.
func newCompressor(c Compression, level compression.Level) (compression.Compressor, error) {
	switch c {
	case CompressionNone:
		return compression.None{}, nil
	case CompressionRLE:
		return &compression.RLE{}, nil
	case CompressionZIPS, CompressionZIP:
		return &compression.ZIP{Level: level}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDeepNotSupported, c)
}

// pipeChannel is one file channel as seen by a pipeline.
type pipeChannel struct {
	name string
	typ  PixelType
	size int
	// slice is the caller's destination or source, nil when the channel
	// is skipped on read or zero-filled on write.
	slice *DeepSlice
}

func channelsOf(h *Header) ([]pipeChannel, int) {
	cl := h.Channels()
	chans := make([]pipeChannel, cl.Len())
	bps := 0
	for i := range chans {
		c := cl.At(i)
		chans[i] = pipeChannel{name: c.Name, typ: c.Type, size: c.Type.Size()}
		bps += chans[i].size
	}
	return chans, bps
}

// DecodePipeline decodes one deep chunk at a time into a DeepFrameBuffer.
// A pipeline is reused across chunks of the same part: Update switches it to
// another chunk and its buffers only grow. It is not safe for concurrent use.
type DecodePipeline struct {
	state  PipelineState
	file   *File
	header *Header
	chunk  ChunkInfo

	channels       []pipeChannel
	bytesPerSample int
	fills          []*DeepSlice

	fb         *DeepFrameBuffer
	countsOnly bool
	// Rows outside [rowMin, rowMax] are decoded but not stored.
	rowMin, rowMax int

	comp compression.Compressor

	readBuf     []byte
	countBuf    []byte
	unpackedBuf []byte
	mem         []byte

	packedTable []byte
	packed      []byte
	unpacked    []byte

	counts    []uint32
	rowTotals []int
	total     uint64

	read       func(*DecodePipeline) error
	decompress func(*DecodePipeline) error
	unpack     func(*DecodePipeline) error
}

// State returns the lifecycle state.
func (p *DecodePipeline) State() PipelineState {
	return p.state
}

// Chunk returns the chunk the pipeline is bound to.
func (p *DecodePipeline) Chunk() ChunkInfo {
	return p.chunk
}

// Initialize binds the pipeline to a part and a first chunk.
func (p *DecodePipeline) Initialize(f *File, ci ChunkInfo) error {
	if p.state != StateUninitialized {
		return fmt.Errorf("%w: Initialize in state %s", ErrPipelineState, p.state)
	}
	h := f.Header(ci.Part)
	if h == nil {
		return fmt.Errorf("%w: %d", ErrPartOutOfRange, ci.Part)
	}
	if err := checkStorage(h, ci); err != nil {
		return err
	}
	comp, err := newCompressor(h.Compression(), compression.LevelDefault)
	if err != nil {
		return err
	}
	p.file = f
	p.header = h
	p.comp = comp
	p.channels, p.bytesPerSample = channelsOf(h)
	p.bind(ci)
	p.state = StateInitialized
	return nil
}

func (p *DecodePipeline) bind(ci ChunkInfo) {
	p.chunk = ci
	p.rowMin = ci.Y
	p.rowMax = ci.Y + ci.Height - 1
}

// ChooseRoutines selects the read, decompress and unpack steps for fb.
// With countsOnly only the sample-count table is decoded and copied into
// fb. Otherwise samples of channels present in both the file and fb are
// stored, fb channels missing from the file are filled with their
// FillValue, and file channels fb lacks are skipped.
func (p *DecodePipeline) ChooseRoutines(fb *DeepFrameBuffer, countsOnly bool) error {
	switch p.state {
	case StateInitialized, StateUpdated, StateRun:
	default:
		return fmt.Errorf("%w: ChooseRoutines in state %s", ErrPipelineState, p.state)
	}
	p.fb = fb
	p.countsOnly = countsOnly
	p.fills = p.fills[:0]
	p.read = (*DecodePipeline).readFromFile
	p.decompress = nil
	p.unpack = nil

	wanted := 0
	for i := range p.channels {
		p.channels[i].slice = nil
		if fb != nil && !countsOnly {
			if s := fb.Slice(p.channels[i].name); s != nil {
				p.channels[i].slice = s
				wanted++
			}
		}
	}
	if fb != nil && !countsOnly {
		for _, name := range fb.Names() {
			if p.header.Channels().Get(name) == nil {
				p.fills = append(p.fills, fb.Slice(name))
			}
		}
	}

	if wanted > 0 {
		if p.header.Compression() == CompressionNone {
			p.decompress = (*DecodePipeline).useStored
		} else {
			p.decompress = (*DecodePipeline).decompressSamples
		}
		p.unpack = (*DecodePipeline).unpackSamples
	}
	return nil
}

// Update rebinds the pipeline to another chunk of the same part, keeping
// the chosen routines and buffers.
func (p *DecodePipeline) Update(ci ChunkInfo) error {
	switch p.state {
	case StateInitialized, StateUpdated, StateRun:
	default:
		return fmt.Errorf("%w: Update in state %s", ErrPipelineState, p.state)
	}
	if ci.Part != p.chunk.Part {
		return fmt.Errorf("%w: Update across parts", ErrPipelineState)
	}
	if err := checkStorage(p.header, ci); err != nil {
		return err
	}
	p.bind(ci)
	p.state = StateUpdated
	return nil
}

// Restrict limits the rows stored into the frame buffer to [y1, y2].
func (p *DecodePipeline) Restrict(y1, y2 int) {
	if y1 > p.rowMin {
		p.rowMin = y1
	}
	if y2 < p.rowMax {
		p.rowMax = y2
	}
}

// Run decodes the bound chunk from the file.
func (p *DecodePipeline) Run() error {
	if err := p.runnable(); err != nil {
		return err
	}
	return p.run()
}

// RunFromMemory decodes the bound chunk from raw, which holds the
// sample-count table followed by the packed sample data.
func (p *DecodePipeline) RunFromMemory(raw []byte) error {
	if err := p.runnable(); err != nil {
		return err
	}
	read := p.read
	p.mem = raw
	p.read = (*DecodePipeline).readFromMemory
	err := p.run()
	p.read = read
	p.mem = nil
	return err
}

func (p *DecodePipeline) runnable() error {
	switch p.state {
	case StateInitialized, StateUpdated, StateRun:
	default:
		return fmt.Errorf("%w: Run in state %s", ErrPipelineState, p.state)
	}
	if p.read == nil {
		return fmt.Errorf("%w: Run before ChooseRoutines", ErrPipelineState)
	}
	return nil
}

func (p *DecodePipeline) run() error {
	if err := p.read(p); err != nil {
		return err
	}
	if err := p.decodeCounts(); err != nil {
		return err
	}
	if p.total*uint64(p.bytesPerSample) > p.chunk.UnpackedSize {
		return fmt.Errorf("%w: %d samples need %d bytes, chunk unpacks to %d",
			ErrCorruptChunk, p.total, p.total*uint64(p.bytesPerSample), p.chunk.UnpackedSize)
	}

	if p.countsOnly {
		p.storeCounts()
		p.state = StateRun
		return nil
	}

	if p.unpack != nil || len(p.fills) > 0 {
		if err := p.checkAllocation(); err != nil {
			return err
		}
	}
	if p.decompress != nil {
		if err := p.decompress(p); err != nil {
			return err
		}
	}
	if p.unpack != nil {
		if err := p.unpack(p); err != nil {
			return err
		}
	}
	p.fillMissing()
	p.state = StateRun
	return nil
}

// Destroy releases the pipeline's buffers. The pipeline cannot be reused.
func (p *DecodePipeline) Destroy() {
	*p = DecodePipeline{state: StateDestroyed}
}

// SampleCounts returns the per-pixel counts decoded by the last Run, in
// row-major order over the chunk. The slice is reused by the next Run.
func (p *DecodePipeline) SampleCounts() []uint32 {
	return p.counts
}

// TotalSamples returns the number of samples in the last decoded chunk.
func (p *DecodePipeline) TotalSamples() uint64 {
	return p.total
}

func (p *DecodePipeline) readFromFile() error {
	ci := &p.chunk
	n := int(ci.SampleCountTableSize + ci.PackedSize)
	buf := p.file.slice(ci.DataOffset, n)
	if buf == nil {
		p.readBuf = growBytes(p.readBuf, n)
		if err := p.file.readAt(p.readBuf, ci.DataOffset); err != nil {
			return fmt.Errorf("reading chunk %d: %w", ci.Index, err)
		}
		buf = p.readBuf
	}
	p.packedTable = buf[:ci.SampleCountTableSize]
	p.packed = buf[ci.SampleCountTableSize:]
	return nil
}

func (p *DecodePipeline) readFromMemory() error {
	ci := &p.chunk
	if uint64(len(p.mem)) < ci.SampleCountTableSize+ci.PackedSize {
		return fmt.Errorf("%w: raw chunk holds %d bytes, header declares %d",
			ErrCorruptChunk, len(p.mem), ci.SampleCountTableSize+ci.PackedSize)
	}
	p.packedTable = p.mem[:ci.SampleCountTableSize]
	p.packed = p.mem[ci.SampleCountTableSize : ci.SampleCountTableSize+ci.PackedSize]
	return nil
}

// decodeCounts unpacks the sample-count table. Entries are cumulative
// within each row and restart at every row.
func (p *DecodePipeline) decodeCounts() error {
	ci := &p.chunk
	w, h := ci.Width, ci.Height
	size := w * h * 4

	table := p.packedTable
	if len(table) != size {
		if p.header.Compression() == CompressionNone {
			return fmt.Errorf("%w: sample count table is %d bytes, want %d", ErrCorruptChunk, len(table), size)
		}
		p.countBuf = growBytes(p.countBuf, size)
		if err := p.comp.Uncompress(p.countBuf, table); err != nil {
			return fmt.Errorf("%w: sample count table: %v", ErrCorruptChunk, err)
		}
		table = p.countBuf
	}

	if cap(p.counts) < w*h {
		p.counts = make([]uint32, w*h)
	}
	p.counts = p.counts[:w*h]
	if cap(p.rowTotals) < h {
		p.rowTotals = make([]int, h)
	}
	p.rowTotals = p.rowTotals[:h]

	p.total = 0
	for y := 0; y < h; y++ {
		prev := int32(0)
		for x := 0; x < w; x++ {
			i := y*w + x
			cum := int32(binary.LittleEndian.Uint32(table[4*i:]))
			if cum < prev {
				return fmt.Errorf("%w: count table decreases at (%d,%d)", ErrInvalidSampleData, ci.X+x, ci.Y+y)
			}
			p.counts[i] = uint32(cum - prev)
			prev = cum
		}
		p.rowTotals[y] = int(prev)
		p.total += uint64(prev)
	}
	return nil
}

func (p *DecodePipeline) storeCounts() {
	fb := p.fb
	if fb == nil {
		return
	}
	ci := &p.chunk
	for y := p.rowMin; y <= p.rowMax; y++ {
		row := p.counts[(y-ci.Y)*ci.Width:]
		for x := 0; x < ci.Width; x++ {
			fb.SetSampleCount(ci.X+x, y, row[x])
		}
	}
}

// checkAllocation verifies that the frame buffer was allocated for exactly
// the counts stored in the chunk, before any sample is written.
func (p *DecodePipeline) checkAllocation() error {
	fb := p.fb
	if fb == nil {
		return ErrNoFrameBuffer
	}
	if !fb.IsAllocated() {
		return ErrNotAllocated
	}
	ci := &p.chunk
	for y := p.rowMin; y <= p.rowMax; y++ {
		for x := 0; x < ci.Width; x++ {
			i, ok := fb.index(ci.X+x, y)
			if !ok {
				continue
			}
			if _, n := fb.span(i); n != int(p.counts[(y-ci.Y)*ci.Width+x]) {
				return fmt.Errorf("%w: pixel (%d,%d) allocated for %d samples, file has %d",
					ErrDeepSampleCountMismatch, ci.X+x, y, n, p.counts[(y-ci.Y)*ci.Width+x])
			}
		}
	}
	return nil
}

// useStored checks an uncompressed chunk and uses its data in place.
func (p *DecodePipeline) useStored() error {
	if p.chunk.PackedSize != p.chunk.UnpackedSize {
		return fmt.Errorf("%w: uncompressed chunk packed %d bytes, unpacked %d",
			ErrCorruptChunk, p.chunk.PackedSize, p.chunk.UnpackedSize)
	}
	p.unpacked = p.packed
	return nil
}

func (p *DecodePipeline) decompressSamples() error {
	if p.chunk.PackedSize == p.chunk.UnpackedSize {
		p.unpacked = p.packed
		return nil
	}
	n := int(p.chunk.UnpackedSize)
	p.unpackedBuf = growBytes(p.unpackedBuf, n)
	if err := p.comp.Uncompress(p.unpackedBuf, p.packed); err != nil {
		return fmt.Errorf("%w: sample data: %v", ErrCorruptChunk, err)
	}
	p.unpacked = p.unpackedBuf
	return nil
}

// unpackSamples scatters the chunk into the frame buffer. Within each row
// the data holds, channel by channel in name order, every sample of every
// pixel of that row.
func (p *DecodePipeline) unpackSamples() error {
	ci := &p.chunk
	fb := p.fb
	data := p.unpacked
	pos := 0
	for r := 0; r < ci.Height; r++ {
		y := ci.Y + r
		counts := p.counts[r*ci.Width : (r+1)*ci.Width]
		for _, c := range p.channels {
			block := p.rowTotals[r] * c.size
			if c.slice == nil || y < p.rowMin || y > p.rowMax {
				pos += block
				continue
			}
			off := pos
			for x, n := range counts {
				if i, ok := fb.index(ci.X+x, y); ok && n > 0 {
					start, _ := fb.span(i)
					c.slice.store(start, data[off:], c.typ, int(n))
				}
				off += int(n) * c.size
			}
			pos += block
		}
	}
	return nil
}

func (p *DecodePipeline) fillMissing() {
	if len(p.fills) == 0 {
		return
	}
	ci := &p.chunk
	fb := p.fb
	for y := p.rowMin; y <= p.rowMax; y++ {
		for x := 0; x < ci.Width; x++ {
			i, ok := fb.index(ci.X+x, y)
			if !ok {
				continue
			}
			start, n := fb.span(i)
			for _, s := range p.fills {
				s.fill(start, n)
			}
		}
	}
}

// growBytes returns buf resized to n, reallocating only when capacity is short.
func growBytes(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}
