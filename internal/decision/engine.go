package decision

import (
	"errors"
	"time"

	"carbondelay/internal/types"
)

// Engine runs filter, select and calculate against a single clock sample.
type Engine struct {
	nowFn  func() time.Time
	logger types.Logger
}

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*Engine)

// WithClock overrides the clock. Intended for tests.
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		e.nowFn = fn
	}
}

// WithLogger sets the logger used to report recovered conditions.
func WithLogger(logger types.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine backed by the wall clock.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = types.NewSlogLogger(nil)
	}
	return e
}

// Decide produces the delay decision for current against forecast. It never
// fails: an empty window and invalid timing both recover into run-now.
func (e *Engine) Decide(current types.IntensityReading, forecast []types.ForecastPoint, toleranceMinutes int) types.DelayDecision {
	now := e.nowFn().UTC()

	window := FilterWindow(forecast, toleranceMinutes, now)

	var optimal *types.ForecastPoint
	best, err := SelectOptimal(window)
	switch {
	case errors.Is(err, ErrEmptyInput):
		e.logger.Info("no forecast points inside tolerance window",
			"forecast_points", len(forecast),
			"tolerance_minutes", toleranceMinutes,
		)
	case err == nil:
		optimal = &best
	}

	decision, err := CalculateDelay(current, optimal, now)
	if err != nil {
		e.logger.Warn("discarding delay with invalid timing",
			"error", err.Error(),
			"region", current.Region,
		)
		return types.NoDelay(types.ReasonInvalidTiming)
	}
	return decision
}
