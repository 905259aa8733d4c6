package geometry

import (
	"image"
	"math"
)

// Policy sizes the accessory relative to the eye distance.
type Policy struct {
	WidthFactor float64
	AspectRatio float64
}

// DefaultPolicy makes the accessory twice as wide as the eye distance and
// three times wider than it is tall.
var DefaultPolicy = Policy{WidthFactor: 2.0, AspectRatio: 3}

// Box is the accessory placement in preview space.
type Box struct {
	TopLeft Point
	Width   float64
	Height  float64
}

// Center returns the middle of the box.
func (b Box) Center() Point {
	return Point{X: b.TopLeft.X + b.Width/2, Y: b.TopLeft.Y + b.Height/2}
}

// Rect rounds the box to whole pixels for drawing.
func (b Box) Rect() image.Rectangle {
	x0 := int(math.Round(b.TopLeft.X))
	y0 := int(math.Round(b.TopLeft.Y))
	return image.Rect(x0, y0, x0+int(math.Round(b.Width)), y0+int(math.Round(b.Height)))
}

// PlaceAccessory centres a box on the eye midpoint. The pair must already be
// in the space the box is drawn in.
func PlaceAccessory(pair EyePair, policy Policy) Box {
	width := pair.Distance() * policy.WidthFactor
	height := width / policy.AspectRatio
	center := pair.Midpoint()
	return Box{
		TopLeft: Point{X: center.X - width/2, Y: center.Y - height/2},
		Width:   width,
		Height:  height,
	}
}
