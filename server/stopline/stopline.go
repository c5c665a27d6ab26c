// Package stopline detects vehicles that cross the stop line while the signal is red.
package stopline

// SignalState is the traffic signal phase, and the stop line that it guards.
// It is passed by value into every evaluation.
type SignalState struct {
	Red   bool `json:"red"`
	LineY int  `json:"stopLineY"` // Pixel row of the stop line. Y grows downwards, toward the camera.
}

type Phase int

const (
	BeforeLine Phase = iota
	Crossed          // Terminal
)

func (p Phase) String() string {
	switch p {
	case BeforeLine:
		return "before_line"
	case Crossed:
		return "crossed"
	}
	return "unknown"
}

// CrossedLine is true if a vehicle that was at or before the line at some
// point (minY <= LineY) now has the bottom edge of its box past the line.
// It does not look at the signal phase.
func CrossedLine(sig SignalState, minY float64, bottom int32) bool {
	line := float64(sig.LineY)
	return minY <= line && float64(bottom) > line
}

// Monitor holds the crossing state of every track.
// A track that has no entry is BeforeLine.
//
// Only the minimum centroid Y over the whole life of the track is considered.
// A track that was briefly before the line, wandered off, and later shows up
// past the line while the signal is red will be reported. Tracks that expire
// lose this memory, because their ID is never seen again.
type Monitor struct {
	crossed map[int64]bool
	cleared map[int64]bool // Tracks that were already past the line while the signal was not red
}

func NewMonitor() *Monitor {
	return &Monitor{
		crossed: map[int64]bool{},
		cleared: map[int64]bool{},
	}
}

// Evaluate advances the state machine of a track, and returns true if the
// track transitioned to Crossed during this call. This happens at most once per track.
//
// Call it on every frame, whatever the signal phase. When the signal is not red
// there is never a transition, but a track that is already past the line is
// remembered, so that its crossing is not reported later when the signal turns red.
func (m *Monitor) Evaluate(sig SignalState, trackID int64, minY float64, bottom int32) bool {
	if m.crossed[trackID] || m.cleared[trackID] {
		return false
	}
	if !CrossedLine(sig, minY, bottom) {
		return false
	}
	if !sig.Red {
		m.cleared[trackID] = true
		return false
	}
	m.crossed[trackID] = true
	return true
}

func (m *Monitor) Phase(trackID int64) Phase {
	if m.crossed[trackID] {
		return Crossed
	}
	return BeforeLine
}

// Forget drops the state of a track that no longer exists
func (m *Monitor) Forget(trackID int64) {
	delete(m.crossed, trackID)
	delete(m.cleared, trackID)
}

// ClearedOnGreen is true if the track crossed the line while the signal was not red
func (m *Monitor) ClearedOnGreen(trackID int64) bool {
	return m.cleared[trackID]
}

// NumCrossed is the number of live tracks in the Crossed phase
func (m *Monitor) NumCrossed() int {
	return len(m.crossed)
}
