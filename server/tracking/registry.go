// Package tracking turns per-frame vehicle detections into tracks with a
// stable identity, and measures the speed of each track.
package tracking

import (
	"time"

	"github.com/cyclopcam/trafficwatch/pkg/idgen"
	"github.com/cyclopcam/trafficwatch/pkg/nn"
	"github.com/cyclopcam/trafficwatch/pkg/speed"
)

const DefaultHistorySize = 64

type Config struct {
	MaxMatchDistance float64       // Max centroid distance in pixels for a detection to continue a track
	MaxLostTime      time.Duration // A track that is unseen for longer than this is destroyed
	HistorySize      int           // Number of centroids retained per track. Rounded up to a power of 2.
	Speed            speed.Estimator
	Matcher          Matcher // If nil, GreedyMatcher is used
}

// Registry owns the set of active tracks.
// It is not safe for concurrent use. It is meant to be driven by a single frame loop.
type Registry struct {
	// OnExpired, if not nil, is called for every track that is destroyed by the timeout sweep
	OnExpired func(t *Track)

	config      Config
	matcher     Matcher
	historySize int
	nextID      idgen.Int64
	tracks      []*Track // In order of creation
}

func NewRegistry(config Config) *Registry {
	r := &Registry{
		config:      config,
		matcher:     config.Matcher,
		historySize: nextPowerOf2(config.HistorySize),
	}
	if r.matcher == nil {
		r.matcher = GreedyMatcher{}
	}
	if config.HistorySize <= 0 {
		r.historySize = DefaultHistorySize
	}
	return r
}

// Update binds the detections of a single frame to tracks, creates tracks for
// detections that don't match anything, and then destroys tracks that have not
// been seen for longer than MaxLostTime.
// Returns the active tracks, in order of creation.
func (r *Registry) Update(detections []nn.ObjectDetection, now time.Time) []*Track {
	detCentroids := make([]nn.Vec2, len(detections))
	for i := range detections {
		detCentroids[i] = detections[i].Box.Centroid()
	}
	trackCentroids := make([]nn.Vec2, len(r.tracks))
	for i, t := range r.tracks {
		trackCentroids[i] = t.Centroid
	}

	assign := r.matcher.Match(detCentroids, trackCentroids, r.config.MaxMatchDistance)

	// Tracks are only appended after matching, so that a new track can never
	// be matched by another detection of the same frame.
	existing := r.tracks
	for i := range detections {
		det := &detections[i]
		if j := assign[i]; j >= 0 {
			t := existing[j]
			displacement, elapsed := t.observe(det, now)
			t.SpeedKMH = r.config.Speed.Estimate(displacement, elapsed)
			t.Overspeeding = r.config.Speed.IsOverspeeding(t.SpeedKMH)
		} else {
			r.tracks = append(r.tracks, newTrack(r.nextID.Next(), det, now, r.historySize))
		}
	}

	r.sweep(now)

	out := make([]*Track, len(r.tracks))
	copy(out, r.tracks)
	return out
}

// Destroy tracks whose last update is more than MaxLostTime before now
func (r *Registry) sweep(now time.Time) {
	remaining := r.tracks[:0]
	for _, t := range r.tracks {
		if now.Sub(t.LastUpdate) > r.config.MaxLostTime {
			if r.OnExpired != nil {
				r.OnExpired(t)
			}
			continue
		}
		remaining = append(remaining, t)
	}
	for i := len(remaining); i < len(r.tracks); i++ {
		r.tracks[i] = nil
	}
	r.tracks = remaining
}

// Tracks returns the active tracks, in order of creation
func (r *Registry) Tracks() []*Track {
	out := make([]*Track, len(r.tracks))
	copy(out, r.tracks)
	return out
}

// Track returns the active track with the given ID, or nil
func (r *Registry) Track(id int64) *Track {
	for _, t := range r.tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (r *Registry) Len() int {
	return len(r.tracks)
}

// LastID is the most recently assigned track ID
func (r *Registry) LastID() int64 {
	return r.nextID.Last()
}
