package types

import "time"

// IntensityReading is the carbon intensity of a grid region at the moment the
// provider was queried. Lower values are cleaner.
type IntensityReading struct {
	Region          string    `json:"region"`
	ObservedAt      time.Time `json:"observed_at"`
	Value           float64   `json:"value"`
	DurationMinutes int       `json:"duration_minutes"`
}

// ForecastPoint is a predicted intensity for a future interval starting at
// Timestamp.
type ForecastPoint struct {
	Region          string    `json:"region"`
	Timestamp       time.Time `json:"timestamp"`
	DurationMinutes int       `json:"duration_minutes"`
	Value           float64   `json:"value"`
}

// Location is where the runner appears to be, as reported by IP geolocation
// or supplied by the caller.
type Location struct {
	IP      string `json:"ip,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"region"`
	Country string `json:"country,omitempty"`
}

// DecisionReason explains how a DelayDecision was reached.
type DecisionReason string

const (
	ReasonDelayed          DecisionReason = "delayed"
	ReasonNoForecast       DecisionReason = "no_forecast"
	ReasonNoImprovement    DecisionReason = "no_improvement"
	ReasonAlreadyCurrent   DecisionReason = "already_current"
	ReasonInvalidTiming    DecisionReason = "invalid_timing"
	ReasonResolutionFailed DecisionReason = "resolution_failed"
)

// DelayDecision is the output of the decision engine for a single invocation.
// DelayMinutes is zero exactly when ChosenPoint is nil.
type DelayDecision struct {
	DelayMinutes     int            `json:"delay_minutes"`
	ChosenPoint      *ForecastPoint `json:"chosen_point,omitempty"`
	PercentReduction *float64       `json:"percent_reduction,omitempty"`
	Reason           DecisionReason `json:"reason"`
}

// NoDelay builds a run-now decision.
func NoDelay(reason DecisionReason) DelayDecision {
	return DelayDecision{Reason: reason}
}

// ShouldDelay reports whether the job should wait before running.
func (d DelayDecision) ShouldDelay() bool {
	return d.DelayMinutes > 0 && d.ChosenPoint != nil
}
