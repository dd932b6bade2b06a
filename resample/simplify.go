package resample

import (
	"math"
	"sort"
)

// simplifier reduces the points of a pixel to those needed to reproduce
// its accumulated opacity (and colour) curve within a tolerance.
type simplifier struct {
	pts  []RawPoint
	acc  []float64
	col  [][3]float64
	keep []int
}

// simplify appends to dst the points that survive simplification of
// points. Interior points whose accumulated values lie within tol of the
// straight line between the surrounding kept points are removed; the
// remaining points are rebuilt so that compositing them gives the same
// accumulated values at every kept depth.
func (s *simplifier) simplify(dst, points []RawPoint, tol float32, p Parameters, rgba bool) []RawPoint {
	s.pts = append(s.pts[:0], points...)
	pts := s.pts
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Depth < pts[j].Depth })

	opacity := p.DeepOpacity && !rgba
	n := len(pts)
	s.acc = growFloats(s.acc, n)
	if rgba {
		if cap(s.col) < n {
			s.col = make([][3]float64, n)
		}
		s.col = s.col[:n]
	}

	prevAcc := 0.0
	var prevCol [3]float64
	for i, pt := range pts {
		a := ClampAlpha(float64(pt.Alpha))
		if opacity {
			s.acc[i] = math.Max(a, prevAcc)
		} else {
			s.acc[i] = 1 - (1-prevAcc)*(1-a)
		}
		if rgba {
			c := [3]float64{ZeroNaN(float64(pt.R)), ZeroNaN(float64(pt.G)), ZeroNaN(float64(pt.B))}
			for k := range c {
				if p.MultiplyColorByAlpha {
					c[k] *= a
				}
				s.col[i][k] = prevCol[k] + (1-prevAcc)*c[k]
			}
			prevCol = s.col[i]
		}
		prevAcc = s.acc[i]
	}

	s.keep = append(s.keep[:0], 0)
	for i := 1; i < n-1; i++ {
		if !s.removable(s.keep[len(s.keep)-1], i, i+1, float64(tol), rgba) {
			s.keep = append(s.keep, i)
		}
	}
	s.keep = append(s.keep, n-1)

	prevAcc = 0
	prevCol = [3]float64{}
	for _, i := range s.keep {
		pt := RawPoint{Depth: pts[i].Depth}
		if opacity {
			pt.Alpha = float32(s.acc[i])
			dst = append(dst, pt)
			prevAcc = s.acc[i]
			continue
		}
		trans := 1 - prevAcc
		var a float64
		if trans > 0 {
			a = ClampAlpha(1 - (1-s.acc[i])/trans)
		}
		pt.Alpha = float32(a)
		if rgba {
			var c [3]float64
			for k := range c {
				if trans > 0 {
					c[k] = (s.col[i][k] - prevCol[k]) / trans
				}
				if p.MultiplyColorByAlpha && a > 0 {
					c[k] /= a
				}
			}
			pt.R, pt.G, pt.B = float32(c[0]), float32(c[1]), float32(c[2])
			prevCol = s.col[i]
		}
		dst = append(dst, pt)
		prevAcc = s.acc[i]
	}
	return dst
}

// removable reports whether every point in (from, to) except the ones
// already removed, up to and including i, lies within tol of the line from
// point from to point to.
func (s *simplifier) removable(from, i, to int, tol float64, rgba bool) bool {
	z0 := float64(s.pts[from].Depth)
	z1 := float64(s.pts[to].Depth)
	if z1 <= z0 {
		return false
	}
	for j := from + 1; j <= i; j++ {
		t := (float64(s.pts[j].Depth) - z0) / (z1 - z0)
		if math.Abs(s.acc[j]-lerp(s.acc[from], s.acc[to], t)) > tol {
			return false
		}
		if rgba {
			for k := 0; k < 3; k++ {
				if math.Abs(s.col[j][k]-lerp(s.col[from][k], s.col[to][k], t)) > tol {
					return false
				}
			}
		}
	}
	return true
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func growFloats(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}
	return buf[:n]
}
