package geometry

import (
	"math"
	"sort"
)

// IoU returns the intersection-over-union of a and b in the range [0, 1].
//
// The intersection width and height are clamped at zero, so disjoint boxes
// score 0. When the union has no area (both boxes degenerate) the result is
// 0 rather than NaN. IoU(a, b) == IoU(b, a).
func IoU(a, b Box) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)

	inter := math.Max(0, ix2-ix1) * math.Max(0, iy2-iy1)
	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	union := areaA + areaB - inter

	if union <= 0 {
		return 0
	}
	return inter / union
}

// Deduplicate drops detections that overlap an earlier kept detection.
//
// The walk is greedy and follows input order: the first remaining detection
// is kept, every remaining detection whose IoU with it is >= overlapThreshold
// is discarded, and the process repeats. Confidence plays no part, so the
// caller controls which member of a cluster survives by how it orders the
// input. Kept detections appear in their original relative order.
//
// The input slice is left untouched.
func Deduplicate(dets []Detection, overlapThreshold float64) []Detection {
	remaining := make([]Detection, len(dets))
	copy(remaining, dets)

	kept := make([]Detection, 0, len(dets))
	for len(remaining) > 0 {
		current := remaining[0]
		kept = append(kept, current)

		next := remaining[:0]
		for _, other := range remaining[1:] {
			if IoU(current.Box, other.Box) < overlapThreshold {
				next = append(next, other)
			}
		}
		remaining = next
	}
	return kept
}

// SortByTop returns a copy of dets ordered by the top edge (Y1), ascending.
// Detections with equal Y1 keep their relative order.
func SortByTop(dets []Detection) []Detection {
	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Box.Y1 < sorted[j].Box.Y1
	})
	return sorted
}

// SuppressNonMax is the confidence-ordered non-maximum suppression a detector
// applies to its own raw candidates.
//
// Candidates are visited highest confidence first; a candidate is dropped when
// its IoU with an already kept candidate exceeds iouThreshold. With agnostic
// set, boxes of different classes suppress each other; otherwise suppression
// only happens within a class. The result is ordered by descending confidence.
func SuppressNonMax(dets []Detection, iouThreshold float64, agnostic bool) []Detection {
	ordered := make([]Detection, len(dets))
	copy(ordered, dets)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Confidence > ordered[j].Confidence
	})

	kept := make([]Detection, 0, len(ordered))
	for _, cand := range ordered {
		suppressed := false
		for _, k := range kept {
			if !agnostic && k.Class != cand.Class {
				continue
			}
			if IoU(k.Box, cand.Box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, cand)
		}
	}
	return kept
}
