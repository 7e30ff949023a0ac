package timeline

import (
	"fmt"
	"math"
	"sort"

	"nonlinear-editor-backend/internal/models"
)

// SnapOptions tunes how a desired position is adjusted before placement.
type SnapOptions struct {
	Disabled bool
	// GridInterval defaults to SnapInterval when zero.
	GridInterval float64
	// Threshold defaults to SnapThreshold when zero.
	Threshold float64
	// Extra holds additional snap targets such as the playhead.
	Extra []float64
}

func (o SnapOptions) grid() float64 {
	if o.GridInterval == 0 {
		return SnapInterval
	}
	return o.GridInterval
}

func (o SnapOptions) threshold() float64 {
	if o.Threshold == 0 {
		return SnapThreshold
	}
	return o.Threshold
}

// SnapToGrid rounds v to the nearest multiple of interval. The result is
// never negative; a non-positive interval leaves v unchanged.
func SnapToGrid(v, interval float64) float64 {
	if interval > 0 && finite(v) {
		v = math.Round(v/interval) * interval
		// Clean float noise such as 0.30000000000000004.
		v = math.Round(v*1e6) / 1e6
	}
	if v < 0 || !finite(v) {
		return 0
	}
	return v
}

// SnapCandidates collects the edges a clip may snap to: 0, every other clip's
// start and end, overlay edges, and extra. The result is sorted and unique.
func SnapCandidates(t *Timeline, excludeID string, extra ...float64) []float64 {
	points := []float64{0}
	for _, c := range t.Clips {
		if c.ID == excludeID {
			continue
		}
		points = append(points, c.TimelinePosition, ClipEnd(c))
	}
	for _, o := range t.TextOverlays {
		points = append(points, o.TimelinePosition, o.TimelinePosition+o.Duration)
	}
	for _, e := range extra {
		if finite(e) && e >= 0 {
			points = append(points, e)
		}
	}
	sort.Float64s(points)
	out := points[:0]
	for _, p := range points {
		if len(out) > 0 && math.Abs(out[len(out)-1]-p) < epsilon {
			continue
		}
		out = append(out, p)
	}
	return out
}

// SnapToCandidates returns the candidate closest to v when it lies within
// threshold, and whether a snap happened.
func SnapToCandidates(v float64, candidates []float64, threshold float64) (float64, bool) {
	best, bestDist := v, math.Inf(1)
	for _, c := range candidates {
		d := math.Abs(c - v)
		if d <= threshold+epsilon && d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, !math.IsInf(bestDist, 1)
}

// snapPosition snaps either edge of a clip of the given duration to the
// nearest candidate, falling back to the grid.
func snapPosition(t *Timeline, clipID string, desired, duration float64, opts SnapOptions) float64 {
	candidates := SnapCandidates(t, clipID, opts.Extra...)
	th := opts.threshold()

	startSnap, startOK := SnapToCandidates(desired, candidates, th)
	endSnap, endOK := SnapToCandidates(desired+duration, candidates, th)

	switch {
	case startOK && endOK:
		if math.Abs(startSnap-desired) <= math.Abs(endSnap-(desired+duration)) {
			return startSnap
		}
		return endSnap - duration
	case startOK:
		return startSnap
	case endOK:
		return endSnap - duration
	}
	return SnapToGrid(desired, opts.grid())
}

type gap struct {
	lo, hi float64
}

// SafePosition returns where clipID should land on track when dragged to
// desired: snapped, clamped at zero, then moved to the nearest slot where it
// overlaps no other clip on that track. Ties resolve to the earlier slot.
func SafePosition(t *Timeline, clipID string, desired float64, track int, opts SnapOptions) (float64, error) {
	clip, ok := t.Clip(clipID)
	if !ok {
		return 0, fmt.Errorf("%w: clip %q", models.ErrNotFound, clipID)
	}
	if track < 0 || track >= MaxTracks {
		return 0, fmt.Errorf("%w: track must be between 0 and %d", models.ErrInvalidInput, MaxTracks-1)
	}
	duration := ClipDuration(*clip)

	if !finite(desired) || desired < 0 {
		desired = 0
	}
	if !opts.Disabled {
		desired = snapPosition(t, clipID, desired, duration, opts)
	}
	if desired < 0 {
		desired = 0
	}

	best, bestDist := desired, math.Inf(1)
	for _, g := range freeGaps(t, clipID, track, duration) {
		pos := math.Max(g.lo, math.Min(desired, g.hi-duration))
		if d := math.Abs(pos - desired); d < bestDist-epsilon {
			best, bestDist = pos, d
		}
	}
	return best, nil
}

// freeGaps lists the spaces on track that can hold duration, ending with the
// open space after the last clip.
func freeGaps(t *Timeline, excludeID string, track int, duration float64) []gap {
	var busy []gap
	for _, c := range t.Clips {
		if c.ID == excludeID || c.TrackIndex != track {
			continue
		}
		busy = append(busy, gap{lo: c.TimelinePosition, hi: ClipEnd(c)})
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].lo < busy[j].lo })

	var gaps []gap
	cursor := 0.0
	for _, b := range busy {
		if b.lo-cursor >= duration-epsilon {
			gaps = append(gaps, gap{lo: cursor, hi: b.lo})
		}
		cursor = math.Max(cursor, b.hi)
	}
	return append(gaps, gap{lo: cursor, hi: math.Inf(1)})
}
