package pipeline

import (
	"errors"
	"fmt"

	"github.com/ironsheep/rx-transcriber/internal/imaging"
)

var (
	// ErrModelUnavailable means a detector or transcriber could not be
	// reached or loaded. It is fatal at startup.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrInvalidCrop means a region had zero width or height after clipping
	// to the image. The region is skipped.
	ErrInvalidCrop = imaging.ErrEmptyCrop

	// ErrInferenceFailure matches every *InferenceError via errors.Is.
	ErrInferenceFailure = errors.New("inference failed")

	// ErrNilImage is returned when Run or Detect is called without an image.
	ErrNilImage = errors.New("no image provided")
)

// Stage names where an inference call failed.
const (
	StageDetect     = "detect"
	StageCrop       = "crop"
	StageTranscribe = "transcribe"
	StageEncode     = "encode"
)

// InferenceError reports the stage at which a call was aborted.
type InferenceError struct {
	Stage string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed during %s: %v", e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrInferenceFailure.
func (e *InferenceError) Is(target error) bool {
	return target == ErrInferenceFailure
}
