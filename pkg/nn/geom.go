package nn

import "math"

// Vec2 is a floating point position in pixel space, used for centroids
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Sub(b Vec2) Vec2 {
	return Vec2{X: v.X - b.X, Y: v.Y - b.Y}
}

func (v Vec2) Length() float64 {
	return math.Hypot(v.X, v.Y)
}

func (v Vec2) Distance(b Vec2) float64 {
	return v.Sub(b).Length()
}

// Rect is an axis-aligned pixel box. X2/Y2 are exclusive of Width/Height,
// so a box from x1..x2 has Width = x2 - x1.
type Rect struct {
	X      int32 `json:"x"`
	Y      int32 `json:"y"`
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

// MakeRect builds a Rect from corner coordinates
func MakeRect(x1, y1, x2, y2 int32) Rect {
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

func (r Rect) X2() int32 {
	return r.X + r.Width
}

func (r Rect) Y2() int32 {
	return r.Y + r.Height
}

// Empty is true for rectangles with no area
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Centroid is the exact geometric center, without integer truncation
func (r Rect) Centroid() Vec2 {
	return Vec2{
		X: float64(r.X) + float64(r.Width)/2,
		Y: float64(r.Y) + float64(r.Height)/2,
	}
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X2(), b.X2())
	y2 := min(r.Y2(), b.Y2())
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// ClampTo returns the part of r that lies inside a width x height frame.
// The result may be Empty().
func (r Rect) ClampTo(width, height int) Rect {
	return r.Intersection(Rect{X: 0, Y: 0, Width: int32(width), Height: int32(height)})
}
