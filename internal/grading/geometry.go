package grading

import "math"

const (
	penaltyOutOfBounds = 0.5
	penaltyFarAway     = 0.7
	penaltyTooSmall    = 0.8
	penaltyTooLarge    = 0.8

	minRegionSide      = 10
	maxRegionFraction  = 0.8
	locationThreshold  = 0.5
	fallbackWidth      = 100
	fallbackHeight     = 50
	fallbackConfidence = 0.3
	fallbackReasoning  = "unable to localize precisely; centered on question region"
)

// Center returns the centroid of b.
func (b BoundingBox) Center() (float64, float64) {
	return float64(b.X) + float64(b.Width)/2, float64(b.Y) + float64(b.Height)/2
}

// Valid reports non-negative origin and positive size.
func (b BoundingBox) Valid() bool {
	return b.X >= 0 && b.Y >= 0 && b.Width > 0 && b.Height > 0
}

// Within reports whether b lies entirely inside a width x height image.
func (b BoundingBox) Within(width, height int) bool {
	return b.X >= 0 && b.Y >= 0 && b.X+b.Width <= width && b.Y+b.Height <= height
}

// GeometryCheck lists the validation rules that fired and the resulting
// confidence multiplier.
type GeometryCheck struct {
	Multiplier float64
	Rules      []string
}

// CheckGeometry applies the sanity rules for a proposed error box in order:
// out of bounds, far from the question, too small, too large.
func CheckGeometry(box BoundingBox, imageWidth, imageHeight int, question BoundingBox) GeometryCheck {
	check := GeometryCheck{Multiplier: 1}

	if !box.Within(imageWidth, imageHeight) {
		check.Multiplier *= penaltyOutOfBounds
		check.Rules = append(check.Rules, "out_of_bounds")
	}

	_, boxCY := box.Center()
	_, questionCY := question.Center()
	if math.Abs(boxCY-questionCY) > float64(question.Height) {
		check.Multiplier *= penaltyFarAway
		check.Rules = append(check.Rules, "far_from_question")
	}

	if box.Width < minRegionSide || box.Height < minRegionSide {
		check.Multiplier *= penaltyTooSmall
		check.Rules = append(check.Rules, "too_small")
	}

	if float64(box.Width) > maxRegionFraction*float64(imageWidth) || float64(box.Height) > maxRegionFraction*float64(imageHeight) {
		check.Multiplier *= penaltyTooLarge
		check.Rules = append(check.Rules, "too_large")
	}

	return check
}

// FallbackLocation is the low-confidence box centred on the question, kept
// inside a width x height image. A non-positive dimension is not clipped.
func FallbackLocation(question BoundingBox, width, height int) ErrorLocation {
	cx, cy := question.Center()
	x, w := fitSpan(int(cx-fallbackWidth/2), fallbackWidth, width)
	y, h := fitSpan(int(cy-fallbackHeight/2), fallbackHeight, height)
	return ErrorLocation{
		BBox:       BoundingBox{X: x, Y: y, Width: w, Height: h},
		Kind:       LocatorArea,
		Confidence: fallbackConfidence,
		Reasoning:  fallbackReasoning,
		Fallback:   true,
	}
}

// fitSpan shifts [start, start+size) into [0, limit), shrinking size when the
// limit is smaller.
func fitSpan(start, size, limit int) (int, int) {
	if limit > 0 {
		size = min(size, limit)
		start = min(start, limit-size)
	}
	return max(start, 0), size
}

// clipBox intersects b with the image. ok is false when nothing remains.
func clipBox(b BoundingBox, width, height int) (BoundingBox, bool) {
	x0, y0 := max(b.X, 0), max(b.Y, 0)
	x1, y1 := min(b.X+b.Width, width), min(b.Y+b.Height, height)
	if x1 <= x0 || y1 <= y0 {
		return BoundingBox{}, false
	}
	return BoundingBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, true
}
