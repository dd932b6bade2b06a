package dtex

import (
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/mrjoshuak/go-openexr-deep/exr"
	"github.com/mrjoshuak/go-openexr-deep/internal/log"
	"github.com/mrjoshuak/go-openexr-deep/resample"
)

// Rows resampled before each WritePixels call, rounded up to whole chunks.
const batchRows = 32

// Options control a conversion.
type Options struct {
	Params resample.Parameters
	// Full stores R, G, B and A as float instead of half.
	Full bool
	// Sideways rotates the image 90 degrees counterclockwise: source
	// columns become output rows, the rightmost column on top.
	Sideways bool
	// Compression must support deep data. DefaultOptions uses ZIPS.
	Compression exr.Compression
	// Output options are passed to the EXR writer.
	Output []exr.OutputOption
}

// DefaultOptions returns the converter defaults.
func DefaultOptions() Options {
	return Options{
		Params:      resample.DefaultParameters(),
		Compression: exr.CompressionZIPS,
	}
}

// Stats describe a finished conversion.
type Stats struct {
	Width, Height int
	Holes         int64
	Samples       int64
	MaxSamples    int
}

// Converter turns point images into deep scanline EXR files.
type Converter struct {
	opts Options
}

// NewConverter returns a converter with the given options.
func NewConverter(opts Options) *Converter {
	return &Converter{opts: opts}
}

// Header returns the header written for src: a data window the size of the
// (possibly rotated) image, R, G, B for four-channel sources, A, and float
// Z and ZBack.
func (c *Converter) Header(src PointSource) (*exr.Header, error) {
	ch := src.NumChannels()
	if ch != 1 && ch != 3 && ch != 4 {
		return nil, fmt.Errorf("%w: point image has %d channels", resample.ErrUnsupportedChannels, ch)
	}
	w, h := c.outputSize(src)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("dtex: empty %dx%d point image", src.Width(), src.Height())
	}

	hdr := exr.NewDeepScanlineHeader(w, h)
	hdr.SetCompression(c.opts.Compression)
	hdr.SetLineOrder(exr.LineOrderIncreasing)
	if cam, ok := src.(Camera); ok {
		hdr.SetWorldToNDC(exr.M44f(cam.WorldToNDC()))
		hdr.SetWorldToCamera(exr.M44f(cam.WorldToCamera()))
	}

	colorType := exr.PixelTypeHalf
	if c.opts.Full {
		colorType = exr.PixelTypeFloat
	}
	cl := exr.NewChannelList()
	if ch == 4 {
		cl.Add(exr.NewChannel("R", colorType))
		cl.Add(exr.NewChannel("G", colorType))
		cl.Add(exr.NewChannel("B", colorType))
	}
	cl.Add(exr.NewChannel("A", colorType))
	cl.Add(exr.NewChannel("Z", exr.PixelTypeFloat))
	cl.Add(exr.NewChannel("ZBack", exr.PixelTypeFloat))
	hdr.SetChannels(cl)
	return hdr, nil
}

func (c *Converter) outputSize(src PointSource) (int, int) {
	if c.opts.Sideways {
		return src.Height(), src.Width()
	}
	return src.Width(), src.Height()
}

// sourcePixel maps output pixel (x, y) to the source pixel it comes from.
func (c *Converter) sourcePixel(src PointSource, x, y int) (int, int) {
	if c.opts.Sideways {
		return src.Width() - 1 - y, x
	}
	return x, y
}

// ConvertFile converts src into the named EXR file.
func (c *Converter) ConvertFile(src PointSource, path string) (Stats, error) {
	hdr, err := c.Header(src)
	if err != nil {
		return Stats{}, err
	}
	out, err := exr.CreateDeepScanlineFile(path, hdr, c.opts.Output...)
	if err != nil {
		return Stats{}, err
	}
	stats, err := c.write(src, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		log.Infof("Wrote file: %s", path)
	}
	return stats, err
}

// Convert converts src and writes the EXR file to w.
func (c *Converter) Convert(src PointSource, w io.WriteSeeker) (Stats, error) {
	hdr, err := c.Header(src)
	if err != nil {
		return Stats{}, err
	}
	out, err := exr.CreateDeepScanline(w, hdr, c.opts.Output...)
	if err != nil {
		return Stats{}, err
	}
	stats, err := c.write(src, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return stats, err
}

// rowWorker resamples one output row. Points are gathered serially, since
// a PointSource need not be safe for concurrent use, and resampled in
// parallel with the other rows of the batch.
type rowWorker struct {
	strategy resample.Strategy
	row      *resample.DeepRow
	px       resample.DeepPixel
	// points of every pixel of the row back to back; ends[x] is the end of
	// pixel x.
	points []resample.RawPoint
	ends   []int
	y      int
}

func (w *rowWorker) gather(c *Converter, src PointSource, y int) error {
	w.y = y
	w.points = w.points[:0]
	var err error
	for x := range w.ends {
		sx, sy := c.sourcePixel(src, x, y)
		start := len(w.points)
		var pts []resample.RawPoint
		pts, err = src.Pixel(sx, sy, w.points[start:])
		if err != nil {
			return err
		}
		// pts shares the tail of w.points unless Pixel had to grow it.
		w.points = append(w.points[:start], pts...)
		w.ends[x] = len(w.points)
	}
	return nil
}

func (w *rowWorker) resample() error {
	w.row.Reset()
	start := 0
	for x, end := range w.ends {
		if end == start {
			w.row.AddHole(x)
			continue
		}
		if err := w.strategy.Process(w.points[start:end], &w.px); err != nil {
			return fmt.Errorf("dtex: pixel (%d, %d): %w", x, w.y, err)
		}
		if err := w.row.AddPixel(x, &w.px); err != nil {
			return err
		}
		start = end
	}
	return w.row.Build()
}

func (c *Converter) write(src PointSource, out *exr.DeepScanlineOutputFile) (Stats, error) {
	hdr := out.Header()
	width, height := c.outputSize(src)
	stats := Stats{Width: width, Height: height}
	rgba := src.NumChannels() == 4
	tl := log.NewTimeLog()

	spc := hdr.ScanlinesPerChunk()
	batch := (batchRows + spc - 1) / spc * spc
	if batch > height {
		batch = height
	}
	workers := make([]*rowWorker, batch)
	for i := range workers {
		s, err := resample.NewStrategy(src.NumChannels(), c.opts.Params)
		if err != nil {
			return stats, err
		}
		workers[i] = &rowWorker{
			strategy: s,
			row:      resample.NewDeepRow(width, rgba),
			ends:     make([]int, width),
		}
	}

	names := hdr.Channels().Names()
	data := make(map[string][]float32, len(names))
	for y0 := 0; y0 < height; y0 += batch {
		n := min(batch, height-y0)
		rows := workers[:n]
		for i, w := range rows {
			if err := w.gather(c, src, y0+i); err != nil {
				return stats, err
			}
		}
		var g errgroup.Group
		g.SetLimit(runtime.GOMAXPROCS(0))
		for _, w := range rows {
			g.Go(w.resample)
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}

		fb := exr.NewDeepFrameBuffer(exr.Box2i{
			Min: exr.V2i{X: 0, Y: int32(y0)},
			Max: exr.V2i{X: int32(width - 1), Y: int32(y0 + n - 1)},
		})
		for _, name := range names {
			ch := hdr.Channels().Get(name)
			if err := fb.Insert(name, exr.NewDeepSlice(ch.Type)); err != nil {
				return stats, err
			}
			data[name] = data[name][:0]
		}
		for i, w := range rows {
			for x, cnt := range w.row.Counts() {
				fb.SetSampleCount(x, y0+i, cnt)
				if cnt == 0 {
					stats.Holes++
				}
				stats.MaxSamples = max(stats.MaxSamples, int(cnt))
			}
			stats.Samples += int64(w.row.Total())
			appendRow(data, w.row)
		}
		if err := fb.Allocate(); err != nil {
			return stats, err
		}
		for _, name := range names {
			if err := fb.SetFloat32Samples(name, data[name]); err != nil {
				return stats, err
			}
		}
		if err := out.SetFrameBuffer(fb); err != nil {
			return stats, err
		}
		if err := out.WritePixels(n); err != nil {
			return stats, err
		}
	}
	tl.Debugf("dtex: resampled %dx%d image into %d samples", width, height, stats.Samples)
	return stats, nil
}

// appendRow adds the samples of a built row to the per-channel buffers.
func appendRow(data map[string][]float32, row *resample.DeepRow) {
	a := row.Arena()
	n := row.Total()
	data["Z"] = append(data["Z"], a.Front[:n]...)
	data["ZBack"] = append(data["ZBack"], a.Back[:n]...)
	data["A"] = appendFloat64s(data["A"], a.Alpha[:n])
	if row.RGBA() {
		data["R"] = appendFloat64s(data["R"], a.Red[:n])
		data["G"] = appendFloat64s(data["G"], a.Green[:n])
		data["B"] = appendFloat64s(data["B"], a.Blue[:n])
	}
}

func appendFloat64s(dst []float32, src []float64) []float32 {
	for _, v := range src {
		dst = append(dst, float32(v))
	}
	return dst
}
