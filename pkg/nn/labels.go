package nn

import "math"

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// RawDetection is a detection as it arrives from an external detector,
// with the box expressed as [x1, y1, x2, y2].
type RawDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	BBox       []int   `json:"bbox"`
}

// ToDetection validates the raw detection. ok is false if the box is missing,
// has the wrong number of coordinates, has no area, or does not fit in a Rect.
func (r *RawDetection) ToDetection() (det ObjectDetection, ok bool) {
	if len(r.BBox) != 4 {
		return
	}
	c := float64(r.Confidence)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return
	}
	for _, v := range r.BBox {
		if int64(v) < math.MinInt32 || int64(v) > math.MaxInt32 {
			return
		}
	}
	x1, y1, x2, y2 := int64(r.BBox[0]), int64(r.BBox[1]), int64(r.BBox[2]), int64(r.BBox[3])
	if x2 <= x1 || y2 <= y1 || x2-x1 > math.MaxInt32 || y2-y1 > math.MaxInt32 {
		return
	}
	det = ObjectDetection{
		Class:      r.Class,
		Confidence: r.Confidence,
		Box:        MakeRect(int32(x1), int32(y1), int32(x2), int32(y2)),
	}
	return det, true
}

// NormalizeDetections converts raw detections into ObjectDetections, dropping
// any that are malformed. It returns the number of dropped detections.
func NormalizeDetections(raw []RawDetection) ([]ObjectDetection, int) {
	out := make([]ObjectDetection, 0, len(raw))
	skipped := 0
	for i := range raw {
		if det, ok := raw[i].ToDetection(); ok {
			out = append(out, det)
		} else {
			skipped++
		}
	}
	return out, skipped
}
