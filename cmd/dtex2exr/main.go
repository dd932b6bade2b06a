// dtex2exr converts a deep point image into a deep scanline OpenEXR file.
//
// Usage:
//
//	dtex2exr <in.dpt> <out.exr> [options]
//
// Options:
//
//	--deepOpacity         points hold accumulated opacity (default)
//	--deepAlpha           points hold per-point alpha
//	--discrete            point samples (default)
//	--continuous          samples span to the next depth
//	--full                32-bit float R, G, B, A
//	--half                16-bit half R, G, B, A (default)
//	--multRgb             source colour is unpremultiplied
//	--sideways [true|false]
//	                      rotate the image 90 degrees counterclockwise
//	--compressionError <float>
//	                      simplify pixels before converting (default 0)
//	--keepZeroAlpha       keep samples with zero alpha
//	--discardZeroAlpha    discard samples with zero alpha (default)
//	--config <file.toml>  threads and logging settings
//	-v, --verbose         print conversion statistics
//	-h, --help            show this help message
//
// Any failure prints "ERROR EXCEPTION: <what>" and exits with status 255.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mrjoshuak/go-openexr-deep/dtex"
	"github.com/mrjoshuak/go-openexr-deep/internal/config"
	"github.com/mrjoshuak/go-openexr-deep/internal/log"
)

var errUsage = errors.New("usage")

// exitFailure is the status of exit(-1).
const exitFailure = 255

type arguments struct {
	in, out    string
	configPath string
	verbose    bool
	opts       dtex.Options
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(stderr, "UNKNOWN EXCEPTION.")
			code = exitFailure
		}
	}()

	a, err := parseArgs(args)
	if errors.Is(err, errUsage) {
		printUsage(stderr)
		return exitFailure
	}
	if err != nil {
		printUsage(stderr)
		fmt.Fprintf(stderr, "ERROR EXCEPTION: %v\n", err)
		return exitFailure
	}

	if err := convert(a, stdout); err != nil {
		fmt.Fprintf(stderr, "ERROR EXCEPTION: %v\n", err)
		return exitFailure
	}
	return 0
}

func convert(a *arguments, stdout io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	cfg.Apply()
	defer log.Shutdown()

	src, err := dtex.Open(a.in)
	if err != nil {
		return err
	}
	defer src.Close()

	stats, err := dtex.NewConverter(a.opts).ConvertFile(src, a.out)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote file: %s\n", a.out)

	if a.verbose {
		var size uint64
		if st, err := os.Stat(a.out); err == nil {
			size = uint64(st.Size())
		}
		fmt.Fprintf(stdout, "  %dx%d pixels, %s holes\n", stats.Width, stats.Height, humanize.Comma(stats.Holes))
		fmt.Fprintf(stdout, "  %s samples, at most %d per pixel\n", humanize.Comma(stats.Samples), stats.MaxSamples)
		fmt.Fprintf(stdout, "  %s on disk\n", humanize.IBytes(size))
	}
	return nil
}

func goodFileName(s string) bool {
	return s != "" && !strings.HasPrefix(s, "-")
}

// parseArgs reads the two file names followed by options. Later options
// override earlier ones.
func parseArgs(args []string) (*arguments, error) {
	a := &arguments{opts: dtex.DefaultOptions()}
	if len(args) < 2 {
		return nil, errUsage
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-h" || arg == "-help" || arg == "--help":
			return nil, errUsage
		case i == 0:
			if !goodFileName(arg) {
				return nil, fmt.Errorf("bad file name: %s", arg)
			}
			a.in = arg
			continue
		case i == 1:
			if !goodFileName(arg) {
				return nil, fmt.Errorf("bad file name: %s", arg)
			}
			a.out = arg
			continue
		}

		p := &a.opts.Params
		switch arg {
		case "--deepOpacity":
			p.DeepOpacity = true
		case "--deepAlpha":
			p.DeepOpacity = false
		case "--discrete":
			p.Discrete = true
		case "--continuous":
			p.Discrete = false
		case "--full":
			a.opts.Full = true
		case "--half":
			a.opts.Full = false
		case "--multRgb":
			p.MultiplyColorByAlpha = true
		case "--keepZeroAlpha":
			p.DiscardZeroAlpha = false
		case "--discardZeroAlpha":
			p.DiscardZeroAlpha = true
		case "--sideways":
			// An optional true or false follows; another option or the end
			// of the arguments means true.
			a.opts.Sideways = true
			if i+1 < len(args) {
				switch next := args[i+1]; {
				case next == "true":
					i++
				case next == "false":
					a.opts.Sideways = false
					i++
				case !strings.HasPrefix(next, "-"):
					return nil, fmt.Errorf("invalid parameter for --sideways: %s", next)
				}
			}
		case "--compressionError":
			if i+1 >= len(args) {
				return nil, errors.New("unspecified compression error")
			}
			i++
			v, err := strconv.ParseFloat(args[i], 32)
			if err != nil {
				return nil, fmt.Errorf("invalid compression error %q: %w", args[i], err)
			}
			p.CompressionError = float32(v)
		case "--config":
			if i+1 >= len(args) {
				return nil, errors.New("unspecified config file")
			}
			i++
			a.configPath = args[i]
		case "-v", "--verbose":
			a.verbose = true
		default:
			return nil, fmt.Errorf("unknown command line argument: %s", arg)
		}
	}
	return a, nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: dtex2exr <in.dpt> <out.exr> [options]

Convert a deep point image into a deep scanline OpenEXR file.

Options:
  --deepOpacity             points hold accumulated opacity (default)
  --deepAlpha               points hold per-point alpha
  --discrete                point samples (default)
  --continuous              samples span to the next depth
  --full                    32-bit float R, G, B, A
  --half                    16-bit half R, G, B, A (default)
  --multRgb                 source colour is unpremultiplied
  --sideways [true|false]   rotate the image 90 degrees counterclockwise
  --compressionError <f>    simplify pixels before converting (default 0)
  --keepZeroAlpha           keep samples with zero alpha
  --discardZeroAlpha        discard samples with zero alpha (default)
  --config <file.toml>      threads and logging settings
  -v, --verbose             print conversion statistics
  -h, --help                show this help message
`)
}
