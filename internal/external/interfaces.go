package external

import (
	"context"
	"time"

	"carbondelay/internal/types"
)

// LocationProvider places the runner geographically.
type LocationProvider interface {
	// ResolveLocation returns the runner's location. A lookup that succeeds
	// but yields no region returns ErrCodeResolutionNoRegion.
	ResolveLocation(ctx context.Context) (types.Location, error)
}

// IntensityProvider abstracts the carbon intensity data source.
type IntensityProvider interface {
	// FetchCurrent returns the latest observed intensity for a region.
	FetchCurrent(ctx context.Context, region string) (types.IntensityReading, error)

	// FetchForecast returns forecast points for a region between start and end.
	// An empty, non-nil-error result means no forecast is available.
	FetchForecast(ctx context.Context, region string, start, end time.Time) ([]types.ForecastPoint, error)
}

// ControlPlane abstracts the CI system's delay primitive.
type ControlPlane interface {
	// EnactDelay makes the run's job wait minutes before starting and
	// returns the name of the resource that carries the delay.
	EnactDelay(ctx context.Context, rc types.RunContext, minutes int) (string, error)

	// ClearDelay removes any delay this run created. Idempotent.
	ClearDelay(ctx context.Context, rc types.RunContext) error

	// LookupMarker returns the marker left by an earlier attempt, or nil.
	LookupMarker(ctx context.Context, rc types.RunContext) (*types.DelayMarker, error)
}

// Compile-time interface assertions.
var (
	_ LocationProvider  = (*IPInfoClient)(nil)
	_ IntensityProvider = (*CarbonAwareClient)(nil)
	_ ControlPlane      = (*GitHubClient)(nil)
)
