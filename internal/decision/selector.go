package decision

import (
	"errors"

	"carbondelay/internal/types"
)

// ErrEmptyInput is returned by SelectOptimal when there is nothing to choose
// from. The Engine always recovers it into a run-now decision.
var ErrEmptyInput = errors.New("decision: no forecast points in window")

// SelectOptimal returns the point with the lowest value. Ties go to the point
// that appears first in the input.
func SelectOptimal(points []types.ForecastPoint) (types.ForecastPoint, error) {
	if len(points) == 0 {
		return types.ForecastPoint{}, ErrEmptyInput
	}

	best := points[0]
	for _, p := range points[1:] {
		// Strict comparison keeps the earliest of equal values.
		if p.Value < best.Value {
			best = p
		}
	}
	return best, nil
}
