// Package imaging provides the pixel-level operations of the transcription
// pipeline: decoding prescription photos, cutting detected regions out of them,
// drawing region annotations, and encoding the annotated result for transport.
//
// All operations work with standard Go image.Image types and the usual
// coordinate system where (0,0) is the top-left corner, X increases rightward,
// and Y increases downward. Regions are half-open: Min is inclusive, Max is
// exclusive.
//
// # Two Buffers
//
// Crops and annotations never share pixels. CropRect always returns a fresh
// copy of the source region, and NewCanvas clones the source before anything
// is drawn. The source image passed to either is never written to, so a caller
// may crop from it after drawing on a canvas made from it.
//
// # Decoding
//
// Decode, DecodeBase64 and ImageCache.Load honour EXIF orientation, since
// phone photographs of prescriptions are frequently stored rotated.
//
// # Thread Safety
//
// ImageCache is safe for concurrent use. A Canvas is not; each inference call
// owns its own.
package imaging
