// Package decision implements the delay decision engine: given the current
// carbon intensity of a region and a forecast series, it picks the cleanest
// forecast point inside the caller's tolerance window and turns it into a
// whole-minute delay.
//
// Everything here is pure apart from the clock, which the Engine samples once
// per decision so that every stage sees the same "now".
package decision

import (
	"time"

	"carbondelay/internal/types"
)

// FilterWindow returns the points whose timestamp t satisfies
// now <= t <= now+tolerance, in their original order. Both bounds are
// inclusive. A tolerance of zero or less yields an empty result.
func FilterWindow(points []types.ForecastPoint, toleranceMinutes int, now time.Time) []types.ForecastPoint {
	if len(points) == 0 || toleranceMinutes <= 0 {
		return nil
	}

	end := now.Add(time.Duration(toleranceMinutes) * time.Minute)

	var out []types.ForecastPoint
	for _, p := range points {
		if p.Timestamp.Before(now) || p.Timestamp.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}
