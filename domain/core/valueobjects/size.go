package valueobjects

import (
	"math"

	pkgerrors "canvaschat/pkg/errors"
)

// Size is a rendered footprint: width and height in canvas units.
type Size struct {
	width  float64
	height float64
}

// NewSize creates a size; both dimensions must be finite and positive.
func NewSize(width, height float64) (Size, error) {
	if !isValidCoordinate(width) || !isValidCoordinate(height) || width <= 0 || height <= 0 {
		return Size{}, pkgerrors.NewValidationError("invalid size: dimensions must be positive finite numbers")
	}
	return Size{width: width, height: height}, nil
}

func (s Size) Width() float64 {
	return s.width
}

func (s Size) Height() float64 {
	return s.height
}

func (s Size) IsZero() bool {
	return s.width == 0 && s.height == 0
}

func (s Size) Equals(other Size) bool {
	const epsilon = 1e-9
	return math.Abs(s.width-other.width) < epsilon && math.Abs(s.height-other.height) < epsilon
}
