// Package detection locates handwritten text regions on a prescription photo.
//
// A Detector turns one image into an unordered list of geometry.Detection
// values: a box, a confidence and a class (heading or body). The list may
// contain several boxes for the same physical region; cleaning that up is the
// caller's job (see geometry.Deduplicate).
//
// # Backends
//
//   - Remote calls an inference service hosting the trained region model.
//     The service receives the confidence threshold, its own NMS IoU
//     threshold and the class-agnostic flag with every request.
//   - EdgeDensity is an offline heuristic that needs no model. It scores
//     sliding windows by edge density and horizontal structure and applies
//     geometry.SuppressNonMax itself. Useful for smoke tests and for running
//     without the inference service; accuracy on real handwriting is poor.
//
// # Readiness
//
// Backends that depend on something outside the process implement
// Ready(ctx) error. The process root calls it once at startup and refuses to
// serve when it fails.
//
// # Concurrency
//
// Serialized wraps any Detector so that at most one Detect call runs at a
// time, for model runtimes that are not safe for concurrent use.
package detection
