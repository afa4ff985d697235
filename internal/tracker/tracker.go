package tracker

import "sort"

// DefaultMaxDistance is the default identity matching radius in pixels.
const DefaultMaxDistance = 100.0

// Result summarises one Update call.
type Result struct {
	Matched int
	Added   int
	Total   uint64
}

// Tracker keeps the previous frame's centroids and the running object total.
// It is not safe for concurrent use; one goroutine owns it.
type Tracker struct {
	maxDistance float64
	previous    []Centroid
	total       uint64
}

// New creates a Tracker with an empty centroid set and a zero total.
func New(maxDistance float64) *Tracker {
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}
	return &Tracker{maxDistance: maxDistance}
}

type candidate struct {
	cur, prev int
	dist      float64
}

// Update matches current against the previous frame's centroids, counts the
// unmatched ones as new objects and then replaces the stored set with current.
//
// Candidate pairs closer than the match distance are assigned shortest first,
// so the outcome does not depend on the order regions were enumerated in. A
// previous centroid is consumed by at most one current centroid.
func (t *Tracker) Update(current []Centroid) Result {
	var pairs []candidate
	for i, c := range current {
		for j, p := range t.previous {
			if d := c.Distance(p); d < t.maxDistance {
				pairs = append(pairs, candidate{cur: i, prev: j, dist: d})
			}
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		if pairs[a].dist != pairs[b].dist {
			return pairs[a].dist < pairs[b].dist
		}
		if pairs[a].cur != pairs[b].cur {
			return pairs[a].cur < pairs[b].cur
		}
		return pairs[a].prev < pairs[b].prev
	})

	curUsed := make([]bool, len(current))
	prevUsed := make([]bool, len(t.previous))
	matched := 0
	for _, p := range pairs {
		if curUsed[p.cur] || prevUsed[p.prev] {
			continue
		}
		curUsed[p.cur] = true
		prevUsed[p.prev] = true
		matched++
	}

	added := len(current) - matched
	t.total += uint64(added)
	t.previous = append(t.previous[:0:0], current...)

	return Result{Matched: matched, Added: added, Total: t.total}
}

// Count returns the number of distinct objects seen so far.
func (t *Tracker) Count() uint64 {
	return t.total
}

// Centroids returns a copy of the centroid set retained for the next Update.
func (t *Tracker) Centroids() []Centroid {
	return append([]Centroid(nil), t.previous...)
}

// MaxDistance returns the matching radius.
func (t *Tracker) MaxDistance() float64 {
	return t.maxDistance
}
