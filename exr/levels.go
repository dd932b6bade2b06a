package exr

// roundLog2 returns floor(log2(x)) or ceil(log2(x)) depending on the
// rounding mode.
func roundLog2(x int, rm LevelRoundingMode) int {
	y := 0
	if rm == LevelRoundDown {
		for x > 1 {
			y++
			x >>= 1
		}
		return y
	}
	for (1 << uint(y)) < x {
		y++
	}
	return y
}

// levelSize returns the size of level l of an axis that is size pixels
// long at level 0. It never returns less than 1.
func levelSize(size, l int, rm LevelRoundingMode) int {
	b := 1 << uint(l)
	s := size / b
	if rm == LevelRoundUp && s*b < size {
		s++
	}
	if s < 1 {
		s = 1
	}
	return s
}

// NumXLevels returns the number of resolution levels along x.
func (h *Header) NumXLevels() int {
	td, ok := h.TileDescription()
	if !ok {
		return 1
	}
	dw := h.DataWindow()
	switch td.Mode {
	case LevelModeMipmap:
		w, ht := int(dw.Width()), int(dw.Height())
		if ht > w {
			w = ht
		}
		return roundLog2(w, td.RoundingMode) + 1
	case LevelModeRipmap:
		return roundLog2(int(dw.Width()), td.RoundingMode) + 1
	}
	return 1
}

// NumYLevels returns the number of resolution levels along y.
func (h *Header) NumYLevels() int {
	td, ok := h.TileDescription()
	if !ok {
		return 1
	}
	dw := h.DataWindow()
	switch td.Mode {
	case LevelModeMipmap:
		return h.NumXLevels()
	case LevelModeRipmap:
		return roundLog2(int(dw.Height()), td.RoundingMode) + 1
	}
	return 1
}

// LevelWidth returns the width in pixels of x level lx.
func (h *Header) LevelWidth(lx int) int {
	td, _ := h.TileDescription()
	return levelSize(int(h.DataWindow().Width()), lx, td.RoundingMode)
}

// LevelHeight returns the height in pixels of y level ly.
func (h *Header) LevelHeight(ly int) int {
	td, _ := h.TileDescription()
	return levelSize(int(h.DataWindow().Height()), ly, td.RoundingMode)
}

// NumXTiles returns the number of tile columns at x level lx.
func (h *Header) NumXTiles(lx int) int {
	td, ok := h.TileDescription()
	if !ok || td.XSize == 0 {
		return 0
	}
	ts := int(td.XSize)
	return (h.LevelWidth(lx) + ts - 1) / ts
}

// NumYTiles returns the number of tile rows at y level ly.
func (h *Header) NumYTiles(ly int) int {
	td, ok := h.TileDescription()
	if !ok || td.YSize == 0 {
		return 0
	}
	ts := int(td.YSize)
	return (h.LevelHeight(ly) + ts - 1) / ts
}

// validLevel reports whether (lx, ly) names a stored level.
func (h *Header) validLevel(lx, ly int) bool {
	if lx < 0 || ly < 0 || lx >= h.NumXLevels() || ly >= h.NumYLevels() {
		return false
	}
	td, _ := h.TileDescription()
	if td.Mode != LevelModeRipmap && lx != ly {
		return false
	}
	return true
}

// tileChunkIndex returns the offset table index of a tile. Levels are
// stored in order; ripmap levels run x-fastest within each y level.
func (h *Header) tileChunkIndex(tx, ty, lx, ly int) int {
	td, _ := h.TileDescription()
	idx := 0
	switch td.Mode {
	case LevelModeRipmap:
		for y := 0; y < ly; y++ {
			for x := 0; x < h.NumXLevels(); x++ {
				idx += h.NumXTiles(x) * h.NumYTiles(y)
			}
		}
		for x := 0; x < lx; x++ {
			idx += h.NumXTiles(x) * h.NumYTiles(ly)
		}
	default:
		for l := 0; l < lx; l++ {
			idx += h.NumXTiles(l) * h.NumYTiles(l)
		}
	}
	return idx + ty*h.NumXTiles(lx) + tx
}

// tileBox returns the pixel region covered by a tile, in level coordinates
// offset by the data window origin.
func (h *Header) tileBox(tx, ty, lx, ly int) Box2i {
	td, _ := h.TileDescription()
	dw := h.DataWindow()
	x0 := int(dw.Min.X) + tx*int(td.XSize)
	y0 := int(dw.Min.Y) + ty*int(td.YSize)
	x1 := x0 + int(td.XSize) - 1
	y1 := y0 + int(td.YSize) - 1
	if maxX := int(dw.Min.X) + h.LevelWidth(lx) - 1; x1 > maxX {
		x1 = maxX
	}
	if maxY := int(dw.Min.Y) + h.LevelHeight(ly) - 1; y1 > maxY {
		y1 = maxY
	}
	return Box2i{Min: V2i{int32(x0), int32(y0)}, Max: V2i{int32(x1), int32(y1)}}
}
