// Package transcribe turns a cropped region of a prescription photo into text.
//
// A Transcriber receives one crop at a time. Crops are never empty: the
// pipeline drops degenerate regions before they get here.
//
// Recognition models trained on file-per-line datasets sometimes echo the
// file extension of their training samples ("amoxicillin 500mg.png").
// StripArtifacts removes those suffixes and folds multi-line output onto
// one line, so each region contributes exactly one transcript line. Every
// backend in this module applies it before returning, and the pipeline
// applies it again to whatever a caller-supplied Transcriber returns.
//
// Backends:
//
//   - Remote posts the crop to a text-recognition service.
//   - tesseract.Engine (subpackage) runs Tesseract in-process via gosseract.
//
// Serialized wraps a Transcriber so at most one call runs at a time.
package transcribe
