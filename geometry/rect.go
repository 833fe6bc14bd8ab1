package geometry

import "math"

// Rect is a 1-dimensional span in millimeters along the keyboard/strip
// axis. Every physical computation in this package reduces to Rect math.
type Rect struct {
	StartMM float64
	EndMM   float64
}

// OverlapMM returns the overlap in millimeters between two rectangles,
// or 0 if they don't intersect: max(0, min(a.end,b.end) - max(a.start,b.start)).
func OverlapMM(a, b Rect) float64 {
	lo := math.Max(a.StartMM, b.StartMM)
	hi := math.Min(a.EndMM, b.EndMM)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// CenterMM returns the midpoint of the rectangle.
func (r Rect) CenterMM() float64 { return (r.StartMM + r.EndMM) / 2 }

// WidthMM returns the span of the rectangle.
func (r Rect) WidthMM() float64 { return r.EndMM - r.StartMM }

// Contains reports whether point p (mm) falls within [start, end).
func (r Rect) Contains(p float64) bool { return p >= r.StartMM && p < r.EndMM }
