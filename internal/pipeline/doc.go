// Package pipeline turns a prescription photo into an ordered transcript and
// an annotated copy of the photo.
//
// A Run call goes through these steps:
//
//  1. the Detector proposes regions (its own thresholds and NMS apply)
//  2. regions are sorted top to bottom by their upper edge
//  3. overlapping regions are collapsed with geometry.Deduplicate, keeping
//     the first (topmost) region of every cluster
//  4. each surviving region is cropped from the untouched input image,
//     transcribed, and drawn onto a separate annotation canvas
//  5. the canvas is JPEG encoded and base64 wrapped
//
// Sorting happens before deduplication on purpose: Deduplicate is greedy in
// input order, so the order decides which box of a cluster survives.
//
// Crops always come from the input image, never from the canvas, so boxes
// and labels drawn for earlier regions can not leak into later crops.
//
// # Errors
//
// A region whose box has no overlap with the image is skipped with a warning
// and reported in Result.Skipped; the call still succeeds. Every other
// failure aborts the call with an *InferenceError and no partial result.
// Nothing is retried.
package pipeline
