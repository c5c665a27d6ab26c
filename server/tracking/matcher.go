package tracking

import (
	"math"
	"slices"

	"github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/trafficwatch/pkg/gen"
	"github.com/cyclopcam/trafficwatch/pkg/nn"
)

// Matcher assigns new detections to existing tracks.
//
// Match returns a slice with one element per detection. Element i is the index
// into tracks of the track that detection i binds to, or -1 if detection i must
// start a new track. No track index appears more than once, and no pair further
// apart than maxDistance is ever bound.
type Matcher interface {
	Match(detections []nn.Vec2, tracks []nn.Vec2, maxDistance float64) []int
}

// MatcherByName returns the matcher for a configuration name.
// An empty name selects the greedy matcher.
func MatcherByName(name string) (Matcher, bool) {
	switch name {
	case "", "greedy":
		return GreedyMatcher{}, true
	case "hungarian":
		return HungarianMatcher{}, true
	}
	return nil, false
}

// GreedyMatcher visits detections in input order, and binds each one to the
// closest track that is still unmatched. Ties go to the track with the lowest
// index (i.e. the oldest track).
//
// This is not a globally optimal assignment. A detection that is processed
// early can steal a track that would have been a better fit for a later
// detection, so the result depends on the order of the detections.
type GreedyMatcher struct{}

func (GreedyMatcher) Match(detections []nn.Vec2, tracks []nn.Vec2, maxDistance float64) []int {
	assign := make([]int, len(detections))
	for i := range assign {
		assign[i] = -1
	}
	if len(tracks) == 0 {
		return assign
	}

	// Spatial index on track centroids, so that we only measure distance to tracks
	// that could possibly be within maxDistance.
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(tracks))
	for _, c := range tracks {
		fb.Add(int32(math.Floor(c.X)), int32(math.Floor(c.Y)), int32(math.Ceil(c.X)), int32(math.Ceil(c.Y)))
	}
	fb.Finish()

	// The search window is computed in float64 and clamped, so that a huge
	// maxDistance becomes "everything" instead of wrapping around.
	radius := math.Ceil(maxDistance) + 1
	matched := make([]bool, len(tracks))
	candidates := []int{}

	for i, d := range detections {
		x := math.Floor(d.X)
		y := math.Floor(d.Y)
		candidates = fb.SearchFast(clampInt32(x-radius), clampInt32(y-radius), clampInt32(x+radius+1), clampInt32(y+radius+1), candidates)
		// The index returns hits in tree order. Scan in track order to keep tie-breaking stable.
		slices.Sort(candidates)

		best := -1
		bestDistance := math.Inf(1)
		for _, j := range candidates {
			if matched[j] {
				continue
			}
			dist := d.Distance(tracks[j])
			if dist < bestDistance && dist <= maxDistance {
				best = j
				bestDistance = dist
			}
		}
		if best != -1 {
			matched[best] = true
			assign[i] = best
		}
	}
	return assign
}

func clampInt32(v float64) int32 {
	return int32(gen.Clamp(v, math.MinInt32, math.MaxInt32))
}
