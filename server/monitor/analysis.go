package monitor

import (
	"time"

	"github.com/cyclopcam/trafficwatch/pkg/nn"
	"github.com/cyclopcam/trafficwatch/server/stopline"
	"github.com/cyclopcam/trafficwatch/server/tracking"
)

// TrackInfo is a copy of a track's state, safe to share outside the frame loop
type TrackInfo struct {
	ID           int64           `json:"id"`
	Class        int             `json:"class"`
	Box          nn.Rect         `json:"box"`
	Centroid     nn.Vec2         `json:"centroid"`
	SpeedKMH     float64         `json:"speedKmph"`
	Overspeeding bool            `json:"overspeeding"`
	Sightings    int             `json:"sightings"`
	Crossing     string          `json:"crossing"` // Stop line phase
	Violations   []ViolationKind `json:"violations"`
	Trail        []nn.Vec2       `json:"trail"` // Recent centroids, oldest first
}

// AnalysisState is the result of analyzing one frame. It is immutable once published.
type AnalysisState struct {
	FrameIndex int64                `json:"frameIndex"`
	Time       time.Time            `json:"time"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Signal     stopline.SignalState `json:"signal"`
	Tracks     []TrackInfo          `json:"tracks"`
}

func makeTrackInfo(t *tracking.Track, phase stopline.Phase) TrackInfo {
	info := TrackInfo{
		ID:           t.ID,
		Class:        t.Class,
		Box:          t.Box,
		Centroid:     t.Centroid,
		SpeedKMH:     t.SpeedKMH,
		Overspeeding: t.Overspeeding,
		Sightings:    t.Sightings,
		Crossing:     phase.String(),
		Violations:   []ViolationKind{},
	}
	for _, k := range AllViolationKinds {
		if t.HasFired(int(k)) {
			info.Violations = append(info.Violations, k)
		}
	}
	for _, h := range t.History() {
		info.Trail = append(info.Trail, h.Centroid)
	}
	return info
}

// Track returns the info of a track in this state, or nil
func (s *AnalysisState) Track(id int64) *TrackInfo {
	for i := range s.Tracks {
		if s.Tracks[i].ID == id {
			return &s.Tracks[i]
		}
	}
	return nil
}
