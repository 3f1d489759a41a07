package decision

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbondelay/internal/types"
)

var t0 = time.Date(2022, 11, 2, 10, 20, 0, 0, time.UTC)

func point(offset time.Duration, value float64) types.ForecastPoint {
	return types.ForecastPoint{
		Region:          "eastus",
		Timestamp:       t0.Add(offset),
		DurationMinutes: 5,
		Value:           value,
	}
}

func TestFilterWindow_InclusiveBounds(t *testing.T) {
	points := []types.ForecastPoint{
		point(-time.Minute, 1),
		point(0, 2),
		point(10*time.Minute, 3),
		point(15*time.Minute, 4),
		point(15*time.Minute+time.Second, 5),
	}

	got := FilterWindow(points, 15, t0)

	require.Len(t, got, 3)
	assert.Equal(t, 2.0, got[0].Value, "point exactly at now is included")
	assert.Equal(t, 3.0, got[1].Value)
	assert.Equal(t, 4.0, got[2].Value, "point exactly at now+tolerance is included")
}

func TestFilterWindow_EmptyInputs(t *testing.T) {
	points := []types.ForecastPoint{point(time.Minute, 1)}

	assert.Empty(t, FilterWindow(nil, 15, t0))
	assert.Empty(t, FilterWindow(points, 0, t0))
	assert.Empty(t, FilterWindow(points, -5, t0))
}

func TestFilterWindow_ZeroToleranceDropsPointAtNow(t *testing.T) {
	points := []types.ForecastPoint{point(0, 1), point(0, 2)}

	assert.Empty(t, FilterWindow(points, 0, t0))
}

func randomForecast(r *rand.Rand, n int) []types.ForecastPoint {
	points := make([]types.ForecastPoint, n)
	for i := range points {
		offset := time.Duration(r.IntN(120)-30) * time.Minute
		points[i] = point(offset, float64(r.IntN(600)))
	}
	return points
}

func TestFilterWindow_ContainmentAndOrder(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 200; i++ {
		forecast := randomForecast(r, r.IntN(40))
		tolerance := r.IntN(90)

		got := FilterWindow(forecast, tolerance, t0)

		end := t0.Add(time.Duration(tolerance) * time.Minute)
		next := 0
		for _, p := range got {
			require.False(t, p.Timestamp.Before(t0), "point before now")
			require.False(t, p.Timestamp.After(end), "point after now+tolerance")

			// Each kept point must appear in the input after the previous one.
			found := false
			for ; next < len(forecast); next++ {
				if forecast[next] == p {
					found = true
					next++
					break
				}
			}
			require.True(t, found, "result is not an order-preserving subsequence")
		}
	}
}

func TestFilterWindow_Idempotent(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))

	for i := 0; i < 100; i++ {
		forecast := randomForecast(r, r.IntN(30))
		tolerance := r.IntN(60)

		once := FilterWindow(forecast, tolerance, t0)
		twice := FilterWindow(once, tolerance, t0)

		assert.Equal(t, once, twice)
	}
}
