package geometry

import (
	"math"
	"sort"
)

const (
	// LandmarkEye is the only landmark type the selector interprets.
	LandmarkEye = "eye"
	// AlignmentThreshold is the largest vertical gap, in original-image
	// pixels, for which two eye landmarks count as a horizontal pair.
	AlignmentThreshold = 50.0
)

// Landmark is a typed point on a detected face.
type Landmark struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Type string  `json:"type"`
}

// Point drops the type tag.
func (l Landmark) Point() Point {
	return Point{X: l.X, Y: l.Y}
}

// EyePair is the left/right eye pair chosen to anchor an accessory, with the
// metrics that won the selection.
type EyePair struct {
	Left  Point
	Right Point
	YDiff float64
	XDist float64
}

// SelectEyePair picks the most horizontal pair of eye landmarks. Among pairs
// closer than AlignmentThreshold vertically it prefers the smallest vertical
// gap, then the smallest horizontal distance. When no pair qualifies it falls
// back to the two top-most eyes. It reports false when fewer than two eye
// landmarks exist.
func SelectEyePair(landmarks []Landmark) (EyePair, bool) {
	eyes := make([]Point, 0, len(landmarks))
	for _, lm := range landmarks {
		if lm.Type == LandmarkEye {
			eyes = append(eyes, lm.Point())
		}
	}
	if len(eyes) < 2 {
		return EyePair{}, false
	}

	// Canonical order makes the result independent of input order.
	sort.Slice(eyes, func(i, j int) bool {
		if eyes[i].Y != eyes[j].Y {
			return eyes[i].Y < eyes[j].Y
		}
		return eyes[i].X < eyes[j].X
	})

	bestI, bestJ := 0, 1
	found := false
	var bestY, bestX float64
	for i := 0; i < len(eyes); i++ {
		for j := i + 1; j < len(eyes); j++ {
			yDiff := math.Abs(eyes[i].Y - eyes[j].Y)
			if yDiff >= AlignmentThreshold {
				continue
			}
			xDist := math.Abs(eyes[i].X - eyes[j].X)
			if !found || yDiff < bestY || (yDiff == bestY && xDist < bestX) {
				bestI, bestJ = i, j
				bestY, bestX = yDiff, xDist
				found = true
			}
		}
	}

	return newEyePair(eyes[bestI], eyes[bestJ]), true
}

func newEyePair(a, b Point) EyePair {
	if b.X < a.X {
		a, b = b, a
	}
	return EyePair{
		Left:  a,
		Right: b,
		YDiff: math.Abs(a.Y - b.Y),
		XDist: math.Abs(a.X - b.X),
	}
}

// Scale maps both eyes into another space. The metrics scale with them.
func (p EyePair) Scale(s float64) EyePair {
	return EyePair{
		Left:  ScalePoint(p.Left, s),
		Right: ScalePoint(p.Right, s),
		YDiff: p.YDiff * s,
		XDist: p.XDist * s,
	}
}

// Distance is the euclidean distance between the eyes.
func (p EyePair) Distance() float64 {
	return math.Hypot(p.Right.X-p.Left.X, p.Right.Y-p.Left.Y)
}

// Midpoint is the point halfway between the eyes.
func (p EyePair) Midpoint() Point {
	return Point{X: (p.Left.X + p.Right.X) / 2, Y: (p.Left.Y + p.Right.Y) / 2}
}
