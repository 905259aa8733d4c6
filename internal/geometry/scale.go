package geometry

import (
	"errors"
	"math"
)

// DefaultMaxWidth bounds the preview width in pixels.
const DefaultMaxWidth = 800

// ErrInvalidDimension is returned when a width used for scaling is not positive.
var ErrInvalidDimension = errors.New("geometry: dimension must be positive")

// Point is a coordinate in a single space, either original-image pixels or
// preview pixels. Convert between the two only through ScalePoint.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle anchored at its top-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ComputeScale returns the factor that fits originalWidth into maxWidth.
// It never upscales.
func ComputeScale(originalWidth, maxWidth float64) (float64, error) {
	if originalWidth <= 0 || maxWidth <= 0 {
		return 0, ErrInvalidDimension
	}
	return math.Min(1, maxWidth/originalWidth), nil
}

// ScalePoint maps p by s.
func ScalePoint(p Point, s float64) Point {
	return Point{X: p.X * s, Y: p.Y * s}
}

// ScaleRect maps every component of r by s. No rounding is applied.
func ScaleRect(r Rect, s float64) Rect {
	return Rect{X: r.X * s, Y: r.Y * s, Width: r.Width * s, Height: r.Height * s}
}

// PreviewSize returns the pixel dimensions of the preview surface.
func PreviewSize(width, height int, s float64) (int, int) {
	return int(math.Round(float64(width) * s)), int(math.Round(float64(height) * s))
}
