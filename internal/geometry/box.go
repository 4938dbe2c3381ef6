package geometry

import (
	"fmt"
	"image"
	"strings"
)

// Box is an axis-aligned rectangle in pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"` // Left edge
	Y1 float64 `json:"y1"` // Top edge
	X2 float64 `json:"x2"` // Right edge
	Y2 float64 `json:"y2"` // Bottom edge
}

// Width returns the horizontal extent, or 0 for an inverted box.
func (b Box) Width() float64 {
	if b.X2 <= b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

// Height returns the vertical extent, or 0 for an inverted box.
func (b Box) Height() float64 {
	if b.Y2 <= b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

// Area returns Width * Height.
func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// Empty reports whether the box encloses no area.
func (b Box) Empty() bool {
	return b.Area() == 0
}

// Rect truncates the coordinates toward zero and returns the integer
// rectangle used for cropping and drawing. The result is not clipped to any
// image bounds.
func (b Box) Rect() image.Rectangle {
	return image.Rectangle{
		Min: image.Point{X: int(b.X1), Y: int(b.Y1)},
		Max: image.Point{X: int(b.X2), Y: int(b.Y2)},
	}
}

func (b Box) String() string {
	return fmt.Sprintf("(%.1f,%.1f)-(%.1f,%.1f)", b.X1, b.Y1, b.X2, b.Y2)
}

// Class identifies which kind of prescription text a region holds.
type Class int

const (
	// ClassHeading is the superscription/inscription block ("Prescriptio").
	ClassHeading Class = 0
	// ClassBody is the directions block ("Signatura").
	ClassBody Class = 1
)

var classNames = map[Class]string{
	ClassHeading: "Prescriptio",
	ClassBody:    "Signatura",
}

// String returns the label used in annotations.
func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// Valid reports whether c is one of the known classes.
func (c Class) Valid() bool {
	_, ok := classNames[c]
	return ok
}

// ParseClass accepts a display name ("Prescriptio"), a role name
// ("heading", "body") or the numeric id as a string.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "heading", "prescriptio":
		return ClassHeading, nil
	case "1", "body", "signatura":
		return ClassBody, nil
	}
	return 0, fmt.Errorf("unknown class: %q", s)
}

// Detection is one candidate text region reported by a detector.
type Detection struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
	Class      Class   `json:"class"`
}
