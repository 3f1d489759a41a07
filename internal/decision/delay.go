package decision

import (
	"fmt"
	"math"
	"time"

	"carbondelay/internal/types"
)

// CalculateDelay turns the current reading and the selected forecast point
// into a decision. optimal may be nil when nothing was selectable.
//
// The delay is measured from the reading's timestamp. A reading older than now
// is stale, and the delay is measured from now instead so the job never waits
// past the chosen point. A negative result means the reading claims to be newer
// than the chosen point; that is reported as decision_invalid_timing.
func CalculateDelay(current types.IntensityReading, optimal *types.ForecastPoint, now time.Time) (types.DelayDecision, error) {
	if optimal == nil {
		return types.NoDelay(types.ReasonNoForecast), nil
	}
	// A non-positive baseline has no meaningful reduction.
	if current.Value <= 0 || optimal.Value >= current.Value {
		return types.NoDelay(types.ReasonNoImprovement), nil
	}

	anchor := current.ObservedAt
	if anchor.Before(now) {
		anchor = now
	}

	minutes := math.Round(optimal.Timestamp.Sub(anchor).Minutes())
	if minutes < 0 {
		return types.DelayDecision{}, types.NewAppErrorWithDetails(
			types.ErrCodeDecisionInvalidTiming,
			fmt.Sprintf("reading observed at %s is later than chosen point %s",
				current.ObservedAt.Format(time.RFC3339), optimal.Timestamp.Format(time.RFC3339)),
			nil,
			map[string]any{"delay_minutes": minutes},
		)
	}
	if minutes == 0 {
		return types.NoDelay(types.ReasonAlreadyCurrent), nil
	}

	chosen := *optimal
	reduction := (current.Value - optimal.Value) / current.Value * 100

	return types.DelayDecision{
		DelayMinutes:     int(minutes),
		ChosenPoint:      &chosen,
		PercentReduction: &reduction,
		Reason:           types.ReasonDelayed,
	}, nil
}
