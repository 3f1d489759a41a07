package pipeline

import (
	"context"
	"time"

	"carbondelay/internal/types"
)

// LocationResolver places the runner. Implemented by external.IPInfoClient.
type LocationResolver interface {
	ResolveLocation(ctx context.Context) (types.Location, error)
}

// RegionResolver maps a state to a grid region code. Implemented by
// location.RegionTable.
type RegionResolver interface {
	ResolveRegion(state string) (string, error)
}

// IntensityProvider serves current and forecast carbon intensity.
type IntensityProvider interface {
	FetchCurrent(ctx context.Context, region string) (types.IntensityReading, error)
	FetchForecast(ctx context.Context, region string, start, end time.Time) ([]types.ForecastPoint, error)
}

// ControlPlane enacts or clears the CI-level delay.
type ControlPlane interface {
	EnactDelay(ctx context.Context, rc types.RunContext, minutes int) (string, error)
	ClearDelay(ctx context.Context, rc types.RunContext) error
	LookupMarker(ctx context.Context, rc types.RunContext) (*types.DelayMarker, error)
}

// Decider turns a reading and a forecast into a decision.
// Implemented by decision.Engine.
type Decider interface {
	Decide(current types.IntensityReading, forecast []types.ForecastPoint, toleranceMinutes int) types.DelayDecision
}

// DecisionMetrics records the invocation's outcome.
type DecisionMetrics interface {
	RecordDecision(ctx context.Context, rec types.DecisionRecord)
}

// OutputWriter publishes step outputs to the CI system.
type OutputWriter interface {
	WriteOutputs(outputs []Output) error
}
