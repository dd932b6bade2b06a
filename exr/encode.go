package exr

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mrjoshuak/go-openexr-deep/compression"
	"github.com/mrjoshuak/go-openexr-deep/internal/xdr"
)

// EncodePipeline packs one deep chunk at a time from a DeepFrameBuffer into
// its on-disk form. Like DecodePipeline it is reused across chunks and is
// not safe for concurrent use.
type EncodePipeline struct {
	state  PipelineState
	header *Header
	chunk  ChunkInfo

	channels       []pipeChannel
	bytesPerSample int
	fb             *DeepFrameBuffer

	comp compression.Compressor

	countTable []byte
	tableOut   []byte
	raw        []byte
	out        *xdr.BufferWriter
	counts     []uint32
	total      uint64
}

// State returns the lifecycle state.
func (p *EncodePipeline) State() PipelineState {
	return p.state
}

// Initialize binds the pipeline to a header and a first chunk.
func (p *EncodePipeline) Initialize(h *Header, level compression.Level, ci ChunkInfo) error {
	if p.state != StateUninitialized {
		return fmt.Errorf("%w: Initialize in state %s", ErrPipelineState, p.state)
	}
	comp, err := newCompressor(h.Compression(), level)
	if err != nil {
		return err
	}
	if err := checkStorage(h, ci); err != nil {
		return err
	}
	p.header = h
	p.comp = comp
	p.channels, p.bytesPerSample = channelsOf(h)
	p.chunk = ci
	p.out = xdr.NewBufferWriter(1024)
	p.state = StateInitialized
	return nil
}

// ChooseRoutines binds the source frame buffer. File channels fb lacks
// are written as zeros.
func (p *EncodePipeline) ChooseRoutines(fb *DeepFrameBuffer) error {
	switch p.state {
	case StateInitialized, StateUpdated, StateRun:
	default:
		return fmt.Errorf("%w: ChooseRoutines in state %s", ErrPipelineState, p.state)
	}
	if fb == nil {
		return ErrNoFrameBuffer
	}
	p.fb = fb
	for i := range p.channels {
		p.channels[i].slice = fb.Slice(p.channels[i].name)
	}
	return nil
}

// Update rebinds the pipeline to another chunk.
func (p *EncodePipeline) Update(ci ChunkInfo) error {
	switch p.state {
	case StateInitialized, StateUpdated, StateRun:
	default:
		return fmt.Errorf("%w: Update in state %s", ErrPipelineState, p.state)
	}
	if err := checkStorage(p.header, ci); err != nil {
		return err
	}
	p.chunk = ci
	p.state = StateUpdated
	return nil
}

// Run packs the bound chunk. The result is available from Bytes until the
// next Run.
func (p *EncodePipeline) Run() error {
	switch p.state {
	case StateInitialized, StateUpdated, StateRun:
	default:
		return fmt.Errorf("%w: Run in state %s", ErrPipelineState, p.state)
	}
	if p.fb == nil {
		return fmt.Errorf("%w: Run before ChooseRoutines", ErrPipelineState)
	}
	if !p.fb.IsAllocated() {
		return ErrNotAllocated
	}
	if err := p.packCounts(); err != nil {
		return err
	}
	p.packSamples()

	table, err := p.comp.Compress(p.countTable)
	if err != nil {
		return fmt.Errorf("compressing sample counts: %w", err)
	}
	// Compress reuses its output buffer, so keep a copy of the table.
	p.tableOut = append(p.tableOut[:0], table...)

	data, err := p.comp.Compress(p.raw)
	if err != nil {
		return fmt.Errorf("compressing samples: %w", err)
	}

	sizes := deepSizes{
		table:    uint64(len(p.tableOut)),
		packed:   uint64(len(data)),
		unpacked: uint64(len(p.raw)),
	}
	if err := sizes.validate(); err != nil {
		return fmt.Errorf("%w: chunk %d", ErrChunkTooLarge, p.chunk.Index)
	}

	ci := &p.chunk
	w := p.out
	w.Reset()
	if ci.Tiled {
		w.WriteInt32(int32(ci.TileX))
		w.WriteInt32(int32(ci.TileY))
		w.WriteInt32(int32(ci.LevelX))
		w.WriteInt32(int32(ci.LevelY))
	} else {
		w.WriteInt32(int32(ci.Y))
	}
	w.WriteUint64(sizes.table)
	w.WriteUint64(sizes.packed)
	w.WriteUint64(sizes.unpacked)
	w.WriteBytes(p.tableOut)
	w.WriteBytes(data)

	ci.SampleCountTableSize = sizes.table
	ci.PackedSize = sizes.packed
	ci.UnpackedSize = sizes.unpacked
	p.state = StateRun
	return nil
}

// Bytes returns the chunk packed by the last Run, without part number.
func (p *EncodePipeline) Bytes() []byte {
	return p.out.Bytes()
}

// Chunk returns the chunk bound to the pipeline, with sizes filled by Run.
func (p *EncodePipeline) Chunk() ChunkInfo {
	return p.chunk
}

// Destroy releases the pipeline's buffers.
func (p *EncodePipeline) Destroy() {
	*p = EncodePipeline{state: StateDestroyed}
}

// packCounts builds the cumulative per-row count table from the frame
// buffer. Pixels outside the frame buffer window have no samples.
func (p *EncodePipeline) packCounts() error {
	ci := &p.chunk
	fb := p.fb
	n := ci.Width * ci.Height
	if cap(p.counts) < n {
		p.counts = make([]uint32, n)
	}
	p.counts = p.counts[:n]
	p.countTable = growBytes(p.countTable, 4*n)

	p.total = 0
	for r := 0; r < ci.Height; r++ {
		var cum uint64
		for x := 0; x < ci.Width; x++ {
			var c uint32
			if i, ok := fb.index(ci.X+x, ci.Y+r); ok {
				c = fb.counts[i]
				if _, got := fb.span(i); got != int(c) {
					return fmt.Errorf("%w: pixel (%d,%d) has count %d, allocated %d",
						ErrDeepSampleCountMismatch, ci.X+x, ci.Y+r, c, got)
				}
			}
			cum += uint64(c)
			if cum > math.MaxInt32 {
				return fmt.Errorf("%w: row %d has more than 2^31 samples", ErrChunkTooLarge, ci.Y+r)
			}
			k := r*ci.Width + x
			p.counts[k] = c
			binary.LittleEndian.PutUint32(p.countTable[4*k:], uint32(cum))
		}
		p.total += cum
	}
	if p.total*uint64(p.bytesPerSample) > math.MaxInt32 {
		return fmt.Errorf("%w: chunk %d holds %d samples", ErrChunkTooLarge, ci.Index, p.total)
	}
	return nil
}

// packSamples lays out the samples row by row, channel by channel.
func (p *EncodePipeline) packSamples() {
	ci := &p.chunk
	fb := p.fb
	p.raw = growBytes(p.raw, int(p.total)*p.bytesPerSample)
	pos := 0
	for r := 0; r < ci.Height; r++ {
		counts := p.counts[r*ci.Width : (r+1)*ci.Width]
		for _, c := range p.channels {
			for x, n := range counts {
				if n == 0 {
					continue
				}
				size := int(n) * c.size
				if c.slice == nil {
					clear(p.raw[pos : pos+size])
				} else {
					i, _ := fb.index(ci.X+x, ci.Y+r)
					start, _ := fb.span(i)
					c.slice.load(p.raw[pos:], start, c.typ, int(n))
				}
				pos += size
			}
		}
	}
}
