// exrdeepinfo checks deep OpenEXR files and reports how their samples are
// stored.
//
// Usage:
//
//	exrdeepinfo [options] <filename> [<filename> ...]
//
// Options:
//
//	-q, --quiet      Only output errors. Exit code indicates pass/fail.
//	-d, --decode     Decode every chunk and report sample statistics.
//	-c, --composite  Flatten scanline parts with Z and A and report coverage.
//	--config <file>  Threads and logging settings (TOML).
//	-h, --help       Show this help message.
//	--version        Show version information.
//
// Exit codes:
//
//	0: All files valid
//	1: One or more files invalid
//	2: Error (file not found, etc.)
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mrjoshuak/go-openexr-deep/exr"
	"github.com/mrjoshuak/go-openexr-deep/internal/config"
	"github.com/mrjoshuak/go-openexr-deep/internal/log"
)

const version = "1.0.0"

// Issue is a single problem found in a file.
type Issue struct {
	Severity string // "error" or "warning"
	Message  string
}

// Report holds everything learned about one file.
type Report struct {
	Filename string
	Size     int64
	Version  uint32
	Parts    []PartReport
	Issues   []Issue
}

// PartReport describes one part.
type PartReport struct {
	Index       int
	Header      *exr.Header
	Chunks      int
	Missing     int
	TableBytes  uint64
	PackedBytes uint64
	RawBytes    uint64

	// Filled by --decode.
	Decoded    bool
	Samples    uint64
	MaxSamples uint32
	Empty      int64

	// Filled by --composite.
	Composited bool
	Covered    int64
	MeanAlpha  float64
}

// IsValid reports whether the file has no error-level issues.
func (r *Report) IsValid() bool {
	for _, issue := range r.Issues {
		if issue.Severity == "error" {
			return false
		}
	}
	return true
}

func (r *Report) addErrorf(format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Severity: "error", Message: fmt.Sprintf(format, args...)})
}

func (r *Report) addWarningf(format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Severity: "warning", Message: fmt.Sprintf(format, args...)})
}

type options struct {
	quiet, decode, composite bool
	configPath               string
	files                    []string
	input                    []exr.InputOption
}

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	o, err := parseArgs(args)
	if errors.Is(err, errUsage) {
		printUsage(stdout)
		return 0
	}
	if errors.Is(err, errVersion) {
		fmt.Fprintf(stdout, "exrdeepinfo version %s\n", version)
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		printUsage(stderr)
		return 2
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	o.input = cfg.Apply()
	defer log.Shutdown()

	valid := 0
	failed := false
	for _, name := range o.files {
		r, err := inspectFile(name, o)
		if err != nil {
			fmt.Fprintf(stderr, "%s: error: %v\n", name, err)
			failed = true
			continue
		}
		if r.IsValid() {
			valid++
		}
		if o.quiet {
			for _, issue := range r.Issues {
				if issue.Severity == "error" {
					fmt.Fprintf(stderr, "%s: %s\n", name, issue.Message)
				}
			}
			continue
		}
		printReport(stdout, r)
	}

	if len(o.files) > 1 && !o.quiet {
		fmt.Fprintf(stdout, "\nSummary: %d of %d files valid\n", valid, len(o.files))
	}
	switch {
	case failed:
		return 2
	case valid < len(o.files):
		return 1
	}
	return 0
}

var errVersion = errors.New("version")

func parseArgs(args []string) (*options, error) {
	o := &options{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-q", "--quiet":
			o.quiet = true
		case "-d", "--decode":
			o.decode = true
		case "-c", "--composite":
			o.composite = true
		case "--config":
			if i+1 >= len(args) {
				return nil, errors.New("--config needs a file name")
			}
			i++
			o.configPath = args[i]
		case "-h", "--help":
			return nil, errUsage
		case "--version":
			return nil, errVersion
		default:
			if strings.HasPrefix(arg, "-") {
				return nil, fmt.Errorf("unknown option: %s", arg)
			}
			o.files = append(o.files, arg)
		}
	}
	if len(o.files) == 0 {
		return nil, errors.New("no input files specified")
	}
	return o, nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: exrdeepinfo [options] <filename> [<filename> ...]

Check deep OpenEXR files and report how their samples are stored.

Options:
  -q, --quiet      Only output errors. Exit code indicates pass/fail.
  -d, --decode     Decode every chunk and report sample statistics.
  -c, --composite  Flatten scanline parts with Z and A and report coverage.
  --config <file>  Threads and logging settings (TOML).
  -h, --help       Show this help message.
  --version        Show version information.

Exit codes:
  0: All files valid
  1: One or more files invalid
  2: Error (file not found, permission denied, etc.)
`)
}

// inspectFile opens a file and checks every part. Structural problems
// become issues; only failures to open the file are returned as errors.
func inspectFile(name string, o *options) (*Report, error) {
	st, err := os.Stat(name)
	if err != nil {
		return nil, err
	}
	r := &Report{Filename: name, Size: st.Size()}

	f, err := exr.OpenFile(name)
	if err != nil {
		r.addErrorf("failed to parse file: %v", err)
		return r, nil
	}
	defer f.Close()
	r.Version = f.Version()

	for part := 0; part < f.NumParts(); part++ {
		h := f.Header(part)
		pr := PartReport{Index: part, Header: h, Chunks: len(f.Offsets(part))}
		prefix := ""
		if f.NumParts() > 1 {
			prefix = fmt.Sprintf("part %d: ", part)
		}
		if !h.IsDeep() {
			r.addWarningf("%snot a deep part (type %q), skipped", prefix, h.Type())
			r.Parts = append(r.Parts, pr)
			continue
		}
		if err := h.Validate(); err != nil {
			r.addErrorf("%s%v", prefix, err)
			r.Parts = append(r.Parts, pr)
			continue
		}

		checkChunks(f, &pr, r, prefix)
		if o.decode && pr.Missing == 0 {
			if err := decodePart(f, &pr, o.input); err != nil {
				r.addErrorf("%sdecode failed: %v", prefix, err)
			} else if max := h.MaxSamplesPerPixel(); max >= 0 && int(pr.MaxSamples) > max {
				r.addWarningf("%s%d samples in one pixel, header allows %d", prefix, pr.MaxSamples, max)
			}
		}
		if o.composite && !h.IsTiled() && pr.Missing == 0 {
			if err := compositePart(f, &pr, o.input); err != nil {
				r.addWarningf("%scomposite skipped: %v", prefix, err)
			}
		}
		r.Parts = append(r.Parts, pr)
	}
	return r, nil
}

// checkChunks reads every chunk header of a part and totals its sizes.
func checkChunks(f *exr.File, pr *PartReport, r *Report, prefix string) {
	h := pr.Header
	idx := 0
	visit := func(ci exr.ChunkInfo, err error) {
		i := idx
		idx++
		if errors.Is(err, exr.ErrIncompleteFile) {
			pr.Missing++
			return
		}
		if err != nil {
			r.addErrorf("%schunk %d: %v", prefix, i, err)
			return
		}
		pr.TableBytes += ci.SampleCountTableSize
		pr.PackedBytes += ci.PackedSize
		pr.RawBytes += ci.UnpackedSize
	}

	if !h.IsTiled() {
		dw := h.DataWindow()
		for y := int(dw.Min.Y); y <= int(dw.Max.Y); y += h.ScanlinesPerChunk() {
			visit(f.ScanlineChunk(pr.Index, y))
		}
	} else {
		forEachLevel(h, func(lx, ly int) {
			for ty := 0; ty < h.NumYTiles(ly); ty++ {
				for tx := 0; tx < h.NumXTiles(lx); tx++ {
					visit(f.TileChunk(pr.Index, tx, ty, lx, ly))
				}
			}
		})
	}
	if pr.Missing > 0 {
		r.addErrorf("%s%d of %d chunks missing", prefix, pr.Missing, pr.Chunks)
	}
}

func forEachLevel(h *exr.Header, fn func(lx, ly int)) {
	td, _ := h.TileDescription()
	if td.Mode == exr.LevelModeRipmap {
		for ly := 0; ly < h.NumYLevels(); ly++ {
			for lx := 0; lx < h.NumXLevels(); lx++ {
				fn(lx, ly)
			}
		}
		return
	}
	for l := 0; l < h.NumXLevels(); l++ {
		fn(l, l)
	}
}

// newFrameBuffer returns a float frame buffer for every channel of h.
func newFrameBuffer(h *exr.Header, window exr.Box2i) *exr.DeepFrameBuffer {
	fb := exr.NewDeepFrameBuffer(window)
	for _, name := range h.Channels().Names() {
		fb.Insert(name, exr.NewDeepSlice(exr.PixelTypeFloat))
	}
	return fb
}

func addStats(pr *PartReport, fb *exr.DeepFrameBuffer) {
	for _, n := range fb.SampleCounts() {
		if n == 0 {
			pr.Empty++
		}
	}
	pr.Samples += fb.TotalSamples()
	pr.MaxSamples = max(pr.MaxSamples, fb.MaxSamplesPerPixel())
}

// decodePart reads every sample of a part. Scanline parts are read one
// chunk at a time; tiled parts one level at a time.
func decodePart(f *exr.File, pr *PartReport, opts []exr.InputOption) error {
	h := pr.Header
	if h.IsTiled() {
		in, err := exr.OpenDeepTiled(f, pr.Index, opts...)
		if err != nil {
			return err
		}
		var ferr error
		forEachLevel(h, func(lx, ly int) {
			if ferr != nil {
				return
			}
			win, _ := in.DataWindowForLevel(lx, ly)
			fb := newFrameBuffer(h, win)
			nx, ny := in.NumXTiles(lx)-1, in.NumYTiles(ly)-1
			if ferr = in.SetFrameBuffer(fb); ferr != nil {
				return
			}
			if ferr = in.ReadPixelSampleCounts(0, nx, 0, ny, lx, ly); ferr != nil {
				return
			}
			if ferr = fb.Allocate(); ferr != nil {
				return
			}
			if ferr = in.ReadTiles(0, nx, 0, ny, lx, ly); ferr != nil {
				return
			}
			addStats(pr, fb)
		})
		pr.Decoded = ferr == nil
		return ferr
	}

	in, err := exr.OpenDeepScanline(f, pr.Index, opts...)
	if err != nil {
		return err
	}
	dw := in.DataWindow()
	for y := int(dw.Min.Y); y <= int(dw.Max.Y); y = in.LastScanlineInChunk(y) + 1 {
		last := in.LastScanlineInChunk(y)
		band := exr.Box2i{Min: exr.V2i{X: dw.Min.X, Y: int32(y)}, Max: exr.V2i{X: dw.Max.X, Y: int32(last)}}
		fb := newFrameBuffer(h, band)
		if err := in.SetFrameBuffer(fb); err != nil {
			return err
		}
		if err := in.ReadPixelSampleCounts(y, last); err != nil {
			return err
		}
		if err := fb.Allocate(); err != nil {
			return err
		}
		if err := in.ReadPixels(y, last); err != nil {
			return err
		}
		addStats(pr, fb)
	}
	pr.Decoded = true
	return nil
}

// compositePart flattens a scanline part and measures its coverage.
func compositePart(f *exr.File, pr *PartReport, opts []exr.InputOption) error {
	in, err := exr.OpenDeepScanline(f, pr.Index, opts...)
	if err != nil {
		return err
	}
	c := exr.NewCompositeDeepScanline()
	if err := c.AddSource(in); err != nil {
		return err
	}
	dw := c.DataWindow()
	img := exr.NewFlatImage(dw)
	if err := c.ReadPixels(img, int(dw.Min.Y), int(dw.Max.Y)); err != nil {
		return err
	}
	var sum float64
	for _, a := range img.A {
		if a > 0 {
			pr.Covered++
		}
		sum += float64(a)
	}
	if len(img.A) > 0 {
		pr.MeanAlpha = sum / float64(len(img.A))
	}
	pr.Composited = true
	return nil
}

func printReport(w io.Writer, r *Report) {
	status := "OK"
	if !r.IsValid() {
		status = "INVALID"
	}
	fmt.Fprintf(w, "%s: %s (%s, version 0x%x)\n", r.Filename, status, humanize.IBytes(uint64(r.Size)), r.Version)

	for _, pr := range r.Parts {
		h := pr.Header
		dw := h.DataWindow()
		fmt.Fprintf(w, "  part %d: %s", pr.Index, h.Type())
		if name := h.Name(); name != "" {
			fmt.Fprintf(w, " %q", name)
		}
		fmt.Fprintf(w, ", %dx%d at (%d,%d), %s, %s\n",
			dw.Width(), dw.Height(), dw.Min.X, dw.Min.Y, h.Compression(), h.LineOrder())
		if td, ok := h.TileDescription(); ok && h.IsTiled() {
			fmt.Fprintf(w, "    tiles %dx%d, %d x %d levels\n", td.XSize, td.YSize, h.NumXLevels(), h.NumYLevels())
		}
		var channels []string
		for _, c := range h.Channels().Channels() {
			channels = append(channels, fmt.Sprintf("%s(%s)", c.Name, c.Type))
		}
		fmt.Fprintf(w, "    channels: %s\n", strings.Join(channels, " "))
		if !h.IsDeep() {
			continue
		}

		fmt.Fprintf(w, "    chunks: %s", humanize.Comma(int64(pr.Chunks)))
		if pr.Missing > 0 {
			fmt.Fprintf(w, " (%s missing)", humanize.Comma(int64(pr.Missing)))
		}
		fmt.Fprintf(w, ", count tables %s, samples %s packed / %s raw",
			humanize.IBytes(pr.TableBytes), humanize.IBytes(pr.PackedBytes), humanize.IBytes(pr.RawBytes))
		if pr.PackedBytes > 0 {
			fmt.Fprintf(w, " (%.2f:1)", float64(pr.RawBytes)/float64(pr.PackedBytes))
		}
		fmt.Fprintln(w)
		if pr.Decoded {
			fmt.Fprintf(w, "    samples: %s, at most %d per pixel, %s empty pixels\n",
				humanize.Comma(int64(pr.Samples)), pr.MaxSamples, humanize.Comma(pr.Empty))
		}
		if pr.Composited {
			fmt.Fprintf(w, "    coverage: %s of %s pixels, mean alpha %.4f\n",
				humanize.Comma(pr.Covered), humanize.Comma(dw.Area()), pr.MeanAlpha)
		}
	}
	for _, issue := range r.Issues {
		fmt.Fprintf(w, "  [%s] %s\n", strings.ToUpper(issue.Severity), issue.Message)
	}
}
