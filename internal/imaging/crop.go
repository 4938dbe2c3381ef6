package imaging

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ErrEmptyCrop is returned when a region has no pixels inside the image.
var ErrEmptyCrop = errors.New("crop region is empty")

// CropRect copies the part of r that lies inside img into a new image whose
// bounds start at (0,0).
//
// A region hanging over the image edge is clipped, so the crop may be smaller
// than r. A region with no pixels inside the image (inverted, zero-sized, or
// entirely outside) yields ErrEmptyCrop. The returned image never aliases
// img's pixels.
func CropRect(img image.Image, r image.Rectangle) (*image.NRGBA, error) {
	clipped := r.Intersect(img.Bounds())
	if clipped.Empty() {
		return nil, fmt.Errorf("%w: region %v, image bounds %v", ErrEmptyCrop, r, img.Bounds())
	}
	return imaging.Crop(img, clipped), nil
}

// Upscale enlarges img so its height is at least minHeight, keeping the aspect
// ratio. Images that are already tall enough are returned unchanged.
func Upscale(img image.Image, minHeight int) image.Image {
	h := img.Bounds().Dy()
	if minHeight <= 0 || h == 0 || h >= minHeight {
		return img
	}
	return imaging.Resize(img, 0, minHeight, imaging.Lanczos)
}
