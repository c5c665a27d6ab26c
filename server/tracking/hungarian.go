package tracking

import (
	"math"

	"github.com/cyclopcam/trafficwatch/pkg/nn"
)

// HungarianMatcher finds the assignment with the largest number of pairs within
// maxDistance, and among those, the smallest total centroid distance.
// Unlike GreedyMatcher, the result does not depend on detection order.
type HungarianMatcher struct{}

func (HungarianMatcher) Match(detections []nn.Vec2, tracks []nn.Vec2, maxDistance float64) []int {
	n := len(detections)
	m := len(tracks)
	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	if n == 0 || m == 0 {
		return assign
	}

	dim := max(n, m)

	cost := make([][]float64, dim)
	legal := make([][]bool, dim)
	longest := 0.0
	for i := 0; i < dim; i++ {
		cost[i] = make([]float64, dim)
		legal[i] = make([]bool, dim)
		for j := 0; j < dim; j++ {
			if i < n && j < m {
				if d := detections[i].Distance(tracks[j]); d <= maxDistance {
					cost[i][j] = d
					legal[i][j] = true
					longest = max(longest, d)
				}
			}
		}
	}

	// Forbidden pairs (and padding) cost more than any full set of legal pairs,
	// so the solver first maximizes the number of legal pairs, and then minimizes
	// their total distance. Deriving this from the longest legal pair, instead of
	// using something like 1e18 or maxDistance, preserves precision in the potentials.
	forbidden := longest*float64(dim+1) + 1
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			if !legal[i][j] {
				cost[i][j] = forbidden
			}
		}
	}

	rowToCol := solveAssignment(cost)
	for i := 0; i < n; i++ {
		j := rowToCol[i]
		if j >= 0 && j < m && legal[i][j] {
			assign[i] = j
		}
	}
	return assign
}

// solveAssignment is the Kuhn-Munkres algorithm with row/column potentials
// (Jonker-Volgenant style shortest augmenting paths), O(n^3).
// cost must be square. Returns the column assigned to each row.
func solveAssignment(cost [][]float64) []int {
	dim := len(cost)
	inf := math.MaxFloat64 / 2

	// 1-based internally. Column 0 is a virtual column.
	u := make([]float64, dim+1) // row potentials
	v := make([]float64, dim+1) // column potentials
	p := make([]int, dim+1)     // p[j] = row assigned to column j
	way := make([]int, dim+1)   // previous column on the augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowToCol := make([]int, dim)
	for i := range rowToCol {
		rowToCol[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 {
			rowToCol[p[j]-1] = j - 1
		}
	}
	return rowToCol
}
