package tracking

import (
	"math"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/trafficwatch/pkg/nn"
)

// HistoryPoint is a centroid observation of a track
type HistoryPoint struct {
	Time     time.Time
	Centroid nn.Vec2
}

// Track is a vehicle that we believe is the same physical object across frames.
// Tracks are owned by the Registry. Callers outside the frame loop must only
// see copies (see Snapshot).
type Track struct {
	ID           int64
	Class        int
	Confidence   float32
	Box          nn.Rect
	Centroid     nn.Vec2
	FirstSeen    time.Time
	LastUpdate   time.Time // Never moves backwards
	SpeedKMH     float64   // Speed computed on the most recent match
	Overspeeding bool      // SpeedKMH is above the configured limit
	Sightings    int       // Number of detections bound to this track, including the first

	// MinY is the smallest centroid Y ever observed, which is the only thing
	// that the stop-line check needs from the full history.
	MinY float64

	fired   uint32
	history ringbuffer.RingP[HistoryPoint] // Recent centroids, oldest first. Bounded.
}

func newTrack(id int64, det *nn.ObjectDetection, now time.Time, historySize int) *Track {
	c := det.Box.Centroid()
	t := &Track{
		ID:         id,
		Class:      det.Class,
		Confidence: det.Confidence,
		Box:        det.Box,
		Centroid:   c,
		FirstSeen:  now,
		LastUpdate: now,
		Sightings:  1,
		MinY:       c.Y,
		history:    ringbuffer.NewRingP[HistoryPoint](historySize),
	}
	// A timestamp that goes backwards is stamped with the latest time, so that history stays in order
	t.history.Add(HistoryPoint{Time: t.LastUpdate, Centroid: c})
	return t
}

// Returns the pixel displacement and elapsed seconds since the previous observation
func (t *Track) observe(det *nn.ObjectDetection, now time.Time) (displacement, elapsed float64) {
	c := det.Box.Centroid()
	displacement = c.Distance(t.Centroid)
	elapsed = now.Sub(t.LastUpdate).Seconds()

	t.Class = det.Class
	t.Confidence = det.Confidence
	t.Box = det.Box
	t.Centroid = c
	t.Sightings++
	t.MinY = math.Min(t.MinY, c.Y)
	if now.After(t.LastUpdate) {
		t.LastUpdate = now
	}
	// A timestamp that goes backwards is stamped with the latest time, so that history stays in order
	t.history.Add(HistoryPoint{Time: t.LastUpdate, Centroid: c})
	return
}

// History returns a copy of the retained centroid history, oldest first
func (t *Track) History() []HistoryPoint {
	h := make([]HistoryPoint, t.history.Len())
	for i := range h {
		h[i] = t.history.Peek(i)
	}
	return h
}

// MarkFired records that a violation of the given kind has been emitted for this track.
// kind must be less than 32.
func (t *Track) MarkFired(kind int) {
	t.fired |= 1 << uint(kind)
}

func (t *Track) HasFired(kind int) bool {
	return t.fired&(1<<uint(kind)) != 0
}

// Age is the time between the first and the most recent sighting
func (t *Track) Age() time.Duration {
	return t.LastUpdate.Sub(t.FirstSeen)
}

func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}
