// Package geometry holds the box arithmetic used to clean up region detections.
//
// Everything here is pure: no package state, no I/O, and no mutation of the
// slices passed in. Boxes use the image convention shared by the rest of the
// module: origin at the top-left, X grows rightward, Y grows downward, and
// (X1, Y1) is the top-left corner while (X2, Y2) is the bottom-right corner.
//
// # Overlap
//
// IoU computes the intersection-over-union ratio of two boxes. Degenerate
// inputs never divide by zero; the ratio is 0 when the union has no area.
//
// # Suppression
//
// Two different suppression passes exist and must not be confused:
//
//   - SuppressNonMax is the detector-internal pass. It orders by confidence
//     and may run per class or class-agnostic.
//   - Deduplicate is the post-detection pass. It walks detections in the order
//     it is given and keeps the first member of every overlapping cluster,
//     regardless of confidence. Callers sort by top edge first so the
//     earliest-top box wins.
package geometry
