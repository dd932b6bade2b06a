package exr

import (
	"fmt"
	"io"
	"sync"

	"github.com/mrjoshuak/go-openexr-deep/internal/log"
)

// DeepScanlineOutputFile writes a single-part deep scanline file.
//
// Scanlines are supplied in the part's line order through WritePixels. A
// chunk is encoded once all of its scanlines have been supplied, so with
// ZIP compression the frame buffer must still hold the earlier lines of a
// chunk when its last line is written. Complete chunks of one WritePixels
// call are encoded in parallel.
type DeepScanlineOutputFile struct {
	cw     *chunkWriter
	header *Header
	dw     Box2i
	spc    int
	order  LineOrder
	sched  *Scheduler
	opts   outputOptions
	fb     *DeepFrameBuffer

	// current is the next scanline to be supplied; linesLeft counts down
	// to zero.
	current   int
	linesLeft int
	nextChunk int
}

// CreateDeepScanline writes the header of h to w and returns a writer for
// its pixels. The header is validated and gets a chunkCount attribute.
func CreateDeepScanline(w io.WriteSeeker, h *Header, opts ...OutputOption) (*DeepScanlineOutputFile, error) {
	o := outputOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := h.Validate(); err != nil {
		return nil, opError("create deep scanline", "", err)
	}
	if h.Type() != PartTypeDeepScanline {
		return nil, opError("create deep scanline", "", fmt.Errorf("%w: type %q", ErrWrongStorage, h.Type()))
	}
	cw, err := newChunkWriter(w, h)
	if err != nil {
		return nil, opError("create deep scanline", "", err)
	}

	dw := h.DataWindow()
	out := &DeepScanlineOutputFile{
		cw:        cw,
		header:    h,
		dw:        dw,
		spc:       h.ScanlinesPerChunk(),
		order:     h.LineOrder(),
		sched:     schedulerOr(o.scheduler),
		opts:      o,
		linesLeft: int(dw.Height()),
	}
	if out.order == LineOrderDecreasing {
		out.current = int(dw.Max.Y)
		out.nextChunk = len(cw.offsets) - 1
	} else {
		out.current = int(dw.Min.Y)
	}
	return out, nil
}

// CreateDeepScanlineFile creates the named file and writes the header to it.
func CreateDeepScanlineFile(path string, h *Header, opts ...OutputOption) (*DeepScanlineOutputFile, error) {
	return createFile(path, func(w io.WriteSeeker) (*DeepScanlineOutputFile, *chunkWriter, error) {
		out, err := CreateDeepScanline(w, h, opts...)
		if err != nil {
			return nil, nil, err
		}
		return out, out.cw, nil
	})
}

// Header returns the header written to the file.
func (out *DeepScanlineOutputFile) Header() *Header {
	return out.header
}

// SetFrameBuffer sets the source of subsequent WritePixels calls.
func (out *DeepScanlineOutputFile) SetFrameBuffer(fb *DeepFrameBuffer) error {
	if fb == nil {
		return opError("SetFrameBuffer", out.cw.name, ErrNoFrameBuffer)
	}
	if err := checkSampling(out.header, fb); err != nil {
		return opError("SetFrameBuffer", out.cw.name, err)
	}
	out.fb = fb
	return nil
}

// CurrentScanline returns the next scanline WritePixels will consume.
func (out *DeepScanlineOutputFile) CurrentScanline() int {
	return out.current
}

// WritePixels consumes the next numLines scanlines of the frame buffer in
// line order and writes every chunk they complete.
func (out *DeepScanlineOutputFile) WritePixels(numLines int) error {
	err := out.writePixels(numLines)
	return opError("WritePixels", out.cw.name, err)
}

func (out *DeepScanlineOutputFile) writePixels(numLines int) error {
	if out.cw.closed {
		return ErrClosed
	}
	if out.fb == nil {
		return ErrNoFrameBuffer
	}
	if numLines <= 0 {
		return nil
	}
	if numLines > out.linesLeft {
		return fmt.Errorf("%w: %d lines requested, %d left", ErrScanlineOutOfRange, numLines, out.linesLeft)
	}
	if !out.fb.IsAllocated() {
		return ErrNotAllocated
	}

	if out.order == LineOrderDecreasing {
		out.current -= numLines
	} else {
		out.current += numLines
	}
	out.linesLeft -= numLines

	var batch []int
	for out.chunkReady(out.nextChunk) {
		batch = append(batch, out.nextChunk)
		if out.order == LineOrderDecreasing {
			out.nextChunk--
		} else {
			out.nextChunk++
		}
	}
	return out.writeChunks(batch)
}

// chunkReady reports whether every scanline of chunk idx has been supplied.
func (out *DeepScanlineOutputFile) chunkReady(idx int) bool {
	if idx < 0 || idx >= len(out.cw.offsets) {
		return false
	}
	first := int(out.dw.Min.Y) + idx*out.spc
	last := min(first+out.spc-1, int(out.dw.Max.Y))
	if out.order == LineOrderDecreasing {
		return first > out.current
	}
	return last < out.current
}

func (out *DeepScanlineOutputFile) chunkInfo(idx int) ChunkInfo {
	y := int(out.dw.Min.Y) + idx*out.spc
	return ChunkInfo{
		Index:  idx,
		X:      int(out.dw.Min.X),
		Y:      y,
		Width:  int(out.dw.Width()),
		Height: min(out.spc, int(out.dw.Max.Y)-y+1),
	}
}

// writeChunks encodes the chunks of batch in parallel and writes them in
// batch order, or in completion order for RANDOM_Y parts.
func (out *DeepScanlineOutputFile) writeChunks(batch []int) error {
	seq := newSequencer(0)
	var mu sync.Mutex
	tl := log.NewTimeLog()
	err := out.sched.Run(len(batch), newEncodeWorker, func(w Worker, i int) error {
		ew := w.(*encodeWorker)
		err := ew.prepare(out.header, out.opts.level, out.chunkInfo(batch[i]), out.fb)
		if err == nil {
			err = ew.p.Run()
		}
		write := func() error {
			if err != nil {
				return err
			}
			return out.cw.writeChunk(batch[i], ew.p.Bytes())
		}
		if out.order == LineOrderRandom {
			mu.Lock()
			defer mu.Unlock()
			return write()
		}
		return seq.do(i, write)
	})
	tl.Debugf("exr: encoded %d deep chunks", len(batch))
	return err
}

// CopyPixels copies every chunk of in without decoding it. It must be
// called before any pixels are written, and the two parts must share data
// window, compression and channels.
func (out *DeepScanlineOutputFile) CopyPixels(in *DeepScanlineInputFile) error {
	err := out.copyPixels(in)
	return opError("CopyPixels", out.cw.name, err)
}

func (out *DeepScanlineOutputFile) copyPixels(in *DeepScanlineInputFile) error {
	if out.cw.closed {
		return ErrClosed
	}
	if out.linesLeft != int(out.dw.Height()) {
		return fmt.Errorf("%w: pixels already written", ErrOutOfOrder)
	}
	if err := compatibleForCopy(out.header, in.header); err != nil {
		return err
	}

	n := len(out.cw.offsets)
	for k := 0; k < n; k++ {
		idx := k
		if out.order == LineOrderDecreasing {
			idx = n - 1 - k
		}
		raw, err := in.RawPixelData(int(out.dw.Min.Y) + idx*out.spc)
		if err != nil {
			return err
		}
		if err := out.cw.writeChunk(idx, raw); err != nil {
			return err
		}
	}
	out.linesLeft = 0
	if out.order == LineOrderDecreasing {
		out.current = int(out.dw.Min.Y) - 1
		out.nextChunk = -1
	} else {
		out.current = int(out.dw.Max.Y) + 1
		out.nextChunk = n
	}
	return nil
}

// Close writes the offset table and closes the file if it was created by
// CreateDeepScanlineFile. It reports ErrIncompleteFile when scanlines were
// never written; the file is still finalized.
func (out *DeepScanlineOutputFile) Close() error {
	return opError("Close", out.cw.name, out.cw.close())
}
