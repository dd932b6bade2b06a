package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrjoshuak/go-openexr-deep/exr"
)

// sampleFrameBuffer holds (x+y)%3 samples per pixel, each with alpha 0.5.
func sampleFrameBuffer(t *testing.T, window exr.Box2i) *exr.DeepFrameBuffer {
	t.Helper()
	fb := exr.NewDeepFrameBuffer(window)
	fb.Insert("A", exr.NewDeepSlice(exr.PixelTypeFloat))
	fb.Insert("Z", exr.NewDeepSlice(exr.PixelTypeFloat))
	var a, z []float32
	for y := int(window.Min.Y); y <= int(window.Max.Y); y++ {
		for x := int(window.Min.X); x <= int(window.Max.X); x++ {
			n := (x + y) % 3
			fb.SetSampleCount(x, y, uint32(n))
			for i := 0; i < n; i++ {
				a = append(a, 0.5)
				z = append(z, float32(i+1))
			}
		}
	}
	if err := fb.Allocate(); err != nil {
		t.Fatal(err)
	}
	fb.SetFloat32Samples("A", a)
	fb.SetFloat32Samples("Z", z)
	return fb
}

func deepChannels() *exr.ChannelList {
	cl := exr.NewChannelList()
	cl.Add(exr.NewChannel("A", exr.PixelTypeHalf))
	cl.Add(exr.NewChannel("Z", exr.PixelTypeFloat))
	return cl
}

// writeScanline writes a 4x3 ZIPS file, stopping after lines scanlines.
func writeScanline(t *testing.T, lines int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deep.exr")
	hdr := exr.NewDeepScanlineHeader(4, 3)
	hdr.SetChannels(deepChannels())
	out, err := exr.CreateDeepScanlineFile(path, hdr)
	if err != nil {
		t.Fatal(err)
	}
	if err := out.SetFrameBuffer(sampleFrameBuffer(t, hdr.DataWindow())); err != nil {
		t.Fatal(err)
	}
	if err := out.WritePixels(lines); err != nil {
		t.Fatal(err)
	}
	err = out.Close()
	if lines == 3 && err != nil {
		t.Fatal(err)
	}
	return path
}

func writeTiled(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiled.exr")
	hdr := exr.NewDeepTiledHeader(4, 3, exr.TileDescription{XSize: 2, YSize: 2, Mode: exr.LevelModeMipmap})
	hdr.SetChannels(deepChannels())
	out, err := exr.CreateDeepTiledFile(path, hdr)
	if err != nil {
		t.Fatal(err)
	}
	if err := out.SetFrameBuffer(sampleFrameBuffer(t, hdr.DataWindow())); err != nil {
		t.Fatal(err)
	}
	for l := 0; l < out.NumLevels(); l++ {
		if err := out.WriteTiles(0, out.NumXTiles(l)-1, 0, out.NumYTiles(l)-1, l, l); err != nil {
			t.Fatal(err)
		}
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseArgs(t *testing.T) {
	o, err := parseArgs([]string{"-q", "--decode", "-c", "--config", "deep.toml", "a.exr", "b.exr"})
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if !o.quiet || !o.decode || !o.composite || o.configPath != "deep.toml" || len(o.files) != 2 {
		t.Errorf("parseArgs() = %+v", o)
	}

	tests := []struct {
		args []string
		want error
	}{
		{[]string{"-h"}, errUsage},
		{[]string{"--version"}, errVersion},
		{nil, nil},
		{[]string{"--bogus", "a.exr"}, nil},
		{[]string{"a.exr", "--config"}, nil},
	}
	for _, tt := range tests {
		_, err := parseArgs(tt.args)
		if err == nil {
			t.Errorf("parseArgs(%v) succeeded", tt.args)
			continue
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("parseArgs(%v) error = %v, want %v", tt.args, err, tt.want)
		}
	}
}

func TestRunScanline(t *testing.T) {
	path := writeScanline(t, 3)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-d", "-c", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("run() = %d, stderr %q", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{
		"OK",
		"deepscanline, 4x3 at (0,0), zips, increasing_y",
		"channels: A(half) Z(float)",
		"chunks: 3,",
		"samples: 12, at most 2 per pixel, 4 empty pixels",
		"coverage: 8 of 12 pixels",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunTiled(t *testing.T) {
	path := writeTiled(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--decode", "--composite", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("run() = %d, stderr %q", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"deeptile", "tiles 2x2, 3 x 3 levels", "samples:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "coverage:") {
		t.Errorf("tiled part was composited:\n%s", out)
	}
}

func TestRunIncompleteFile(t *testing.T) {
	path := writeScanline(t, 1)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-d", path}, &stdout, &stderr); code != 1 {
		t.Errorf("run() = %d, want 1", code)
	}
	if out := stdout.String(); !strings.Contains(out, "INVALID") || !strings.Contains(out, "2 of 3 chunks missing") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(stdout.String(), "samples:") {
		t.Error("incomplete part was decoded")
	}

	stdout.Reset()
	stderr.Reset()
	if code := run([]string{"-q", path, writeScanline(t, 3)}, &stdout, &stderr); code != 1 {
		t.Errorf("run(-q) = %d, want 1", code)
	}
	if stdout.Len() != 0 {
		t.Errorf("quiet run wrote %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "chunks missing") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{filepath.Join(t.TempDir(), "missing.exr")}, &stdout, &stderr); code != 2 {
		t.Errorf("run(missing) = %d, want 2", code)
	}
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Errorf("run() = %d, want 2", code)
	}
	stdout.Reset()
	if code := run([]string{"--version"}, &stdout, &stderr); code != 0 || !strings.Contains(stdout.String(), version) {
		t.Errorf("run(--version) = %d, %q", code, stdout.String())
	}
}
