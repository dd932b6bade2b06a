package exr

import (
	"errors"
	"fmt"
)

// File structure errors
var (
	ErrInvalidMagic   = errors.New("exr: invalid magic number")
	ErrInvalidVersion = errors.New("exr: unsupported file version")
	ErrInvalidHeader  = errors.New("exr: invalid header")
	ErrNotDeep        = errors.New("exr: part does not hold deep data")
	ErrWrongStorage   = errors.New("exr: part storage does not match the requested access")
	ErrPartOutOfRange = errors.New("exr: part index out of range")
	ErrIncompleteFile = errors.New("exr: chunk missing from file")
)

// Chunk errors
var (
	// ErrCorruptChunk reports a chunk whose header, sizes or payload are
	// inconsistent. No caller buffer is modified when it is returned.
	ErrCorruptChunk = errors.New("exr: corrupt chunk")
	// ErrInvalidSampleData reports a sample-count table that decreases
	// within a row or does not fit the chunk.
	ErrInvalidSampleData = errors.New("exr: invalid deep sample data")
	ErrChunkTooLarge     = errors.New("exr: chunk exceeds 2 GiB")
)

// Deep data errors
var (
	ErrDeepSampleCountMismatch = errors.New("exr: deep sample count mismatch")
	ErrDeepNotSupported        = errors.New("exr: deep data not supported for this compression")
	ErrSampleCountsNotRead     = errors.New("exr: sample counts not read for requested rows")
	ErrNotAllocated            = errors.New("exr: deep frame buffer not allocated")
)

// Access errors
var (
	ErrScanlineOutOfRange = errors.New("exr: scanline outside data window")
	ErrTileOutOfRange     = errors.New("exr: tile coordinates out of range")
	ErrSamplingMismatch   = errors.New("exr: channel sampling does not match the file")
	ErrNoFrameBuffer      = errors.New("exr: no frame buffer set")
	ErrPipelineState      = errors.New("exr: pipeline used out of order")
	ErrOutOfOrder         = errors.New("exr: chunk written out of line order")
	ErrHeaderMismatch     = errors.New("exr: headers are not compatible for copying")
	ErrClosed             = errors.New("exr: file already closed")
)

// OpError records the operation and file that produced an error.
type OpError struct {
	Op   string
	File string
	Err  error
}

func (e *OpError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("exr: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("exr: %s %s: %v", e.Op, e.File, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, file string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, File: file, Err: err}
}
