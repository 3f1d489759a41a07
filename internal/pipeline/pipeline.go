// Package pipeline runs one carbon-delay invocation end to end: locate the
// runner, fetch intensity data, decide, then enact or clear the delay.
//
// Stages run strictly in order and are never retried here; retries belong to
// the HTTP client layer. Failures fall into two classes:
//   - Resolution failures (the runner cannot be mapped to a region) are not
//     errors. Any leftover delay is cleared and the job runs now.
//   - Provider failures abort the invocation. Stages after the failing one
//     are skipped, and enact and clear are never both attempted.
package pipeline

import (
	"context"
	"errors"
	"runtime"
	"time"

	"carbondelay/internal/location"
	"carbondelay/internal/types"
)

// Options carries the step inputs.
type Options struct {
	ToleranceMinutes int
	LocationOverride string // state name; skips IP geolocation
	RegionOverride   string // region code; skips location and table lookup
}

// Config holds the collaborators and inputs for a Pipeline.
type Config struct {
	Location  LocationResolver
	Regions   RegionResolver
	Intensity IntensityProvider
	Control   ControlPlane
	Decider   Decider
	Metrics   DecisionMetrics // optional
	Outputs   OutputWriter    // optional
	Options   Options
	Logger    types.Logger
	Clock     func() time.Time // defaults to time.Now
	GOOS      string           // defaults to runtime.GOOS
}

// Result describes what one invocation decided and did.
type Result struct {
	RunnerOS          string
	Location          types.Location
	Region            string
	Current           *types.IntensityReading
	ForecastPoints    int
	Decision          types.DelayDecision
	Environment       string             // set when a delay was enacted
	PreviouslyDelayed *types.DelayMarker // marker from an earlier attempt, if any
	Outcome           types.DecisionOutcome
}

// Pipeline is the orchestration sequence for a single invocation.
type Pipeline struct {
	location  LocationResolver
	regions   RegionResolver
	intensity IntensityProvider
	control   ControlPlane
	decider   Decider
	metrics   DecisionMetrics
	outputs   OutputWriter
	opts      Options
	logger    types.Logger
	nowFn     func() time.Time
	goos      string
}

// New creates a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = types.NewSlogLogger(nil)
	}
	nowFn := cfg.Clock
	if nowFn == nil {
		nowFn = time.Now
	}
	goos := cfg.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	return &Pipeline{
		location:  cfg.Location,
		regions:   cfg.Regions,
		intensity: cfg.Intensity,
		control:   cfg.Control,
		decider:   cfg.Decider,
		metrics:   cfg.Metrics,
		outputs:   cfg.Outputs,
		opts:      cfg.Options,
		logger:    logger,
		nowFn:     nowFn,
		goos:      goos,
	}
}

// Run executes the sequence for rc. A nil error means the job may proceed
// according to Result.Decision. On error the returned Result carries
// whatever was learned before the failing stage, with Outcome aborted.
func (p *Pipeline) Run(ctx context.Context, rc types.RunContext) (*Result, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}

	ctx = types.WithInvocationID(ctx, rc.InvocationID)
	logger := p.logger.With(
		"repository", rc.Repository(),
		"run_id", rc.RunID,
		"run_attempt", rc.RunAttempt,
		"invocation_id", rc.InvocationID,
	)
	ctx = types.WithLogger(ctx, logger)

	res := &Result{}

	// 1. Runner OS. Informational only.
	if runnerOS, ok := location.RunnerOS(p.goos); ok {
		res.RunnerOS = runnerOS
		logger.Info("detected runner OS", "os", runnerOS)
	} else {
		logger.Warn("unable to determine the runner OS; continuing", "goos", p.goos)
	}

	// 2-3. Location and region.
	region, err := p.resolveRegion(ctx, logger, res)
	if err != nil {
		if types.CodeOf(err).IsResolution() {
			return p.finishResolutionFailure(ctx, logger, rc, res, err)
		}
		return p.abort(ctx, logger, rc, res, "resolve region", err)
	}
	res.Region = region
	logger = logger.With("region", region)
	ctx = types.WithLogger(ctx, logger)

	// 4. Current intensity.
	current, err := p.intensity.FetchCurrent(ctx, region)
	if err != nil {
		return p.abort(ctx, logger, rc, res, "fetch current intensity", err)
	}
	res.Current = &current

	// 5. Forecast.
	var forecast []types.ForecastPoint
	if p.opts.ToleranceMinutes > 0 {
		start := p.nowFn().UTC()
		end := start.Add(time.Duration(p.opts.ToleranceMinutes) * time.Minute)
		forecast, err = p.intensity.FetchForecast(ctx, region, start, end)
		if err != nil {
			return p.abort(ctx, logger, rc, res, "fetch forecast", err)
		}
	} else {
		logger.Info("delay tolerance is zero; skipping forecast")
	}
	res.ForecastPoints = len(forecast)

	// 6. Decide.
	res.Decision = p.decider.Decide(current, forecast, p.opts.ToleranceMinutes)
	logger.Info("delay decision",
		"current_value", current.Value,
		"forecast_points", len(forecast),
		"delay_minutes", res.Decision.DelayMinutes,
		"reason", string(res.Decision.Reason),
	)

	// 7. Enact or clear, exactly one.
	marker, err := p.control.LookupMarker(ctx, rc)
	if err != nil {
		return p.abort(ctx, logger, rc, res, "look up delay marker", err)
	}
	if marker != nil && marker.FromEarlierAttempt(rc) {
		res.PreviouslyDelayed = marker
		logger.Info("earlier attempt of this run was delayed; deciding again",
			"previous_attempt", marker.RunAttempt,
			"previous_delay_minutes", marker.DelayMinutes,
			"previous_invocation_id", marker.InvocationID,
		)
	}

	if res.Decision.ShouldDelay() {
		env, err := p.control.EnactDelay(ctx, rc, res.Decision.DelayMinutes)
		if err != nil {
			return p.abort(ctx, logger, rc, res, "enact delay", err)
		}
		res.Environment = env
		res.Outcome = types.OutcomeDelayed
	} else {
		if err := p.clear(ctx, logger, rc); err != nil {
			return p.abort(ctx, logger, rc, res, "clear delay", err)
		}
		res.Outcome = types.OutcomeRunNow
	}

	// 8-9. Outputs and metrics.
	p.publish(ctx, logger, rc, res)
	return res, nil
}

// resolveRegion applies the overrides before falling back to geolocation and
// the region table.
func (p *Pipeline) resolveRegion(ctx context.Context, logger types.Logger, res *Result) (string, error) {
	if p.opts.RegionOverride != "" {
		logger.Info("using region override", "region", p.opts.RegionOverride)
		return p.opts.RegionOverride, nil
	}

	if p.opts.LocationOverride != "" {
		res.Location = types.Location{State: p.opts.LocationOverride}
		logger.Info("using location override", "state", p.opts.LocationOverride)
	} else {
		loc, err := p.location.ResolveLocation(ctx)
		if err != nil {
			return "", err
		}
		res.Location = loc
		logger.Info("runner location", "ip", loc.IP, "state", loc.State, "country", loc.Country)
	}

	region, err := p.regions.ResolveRegion(res.Location.State)
	if err != nil {
		return "", err
	}
	logger.Info("matched region", "region", region, "state", res.Location.State)
	return region, nil
}

// finishResolutionFailure clears any leftover delay and reports a neutral
// decision. Resolution failures never fail the step.
func (p *Pipeline) finishResolutionFailure(ctx context.Context, logger types.Logger, rc types.RunContext, res *Result, cause error) (*Result, error) {
	logger.Warn("could not resolve a region for the runner; running now",
		"error", cause.Error(),
		"state", res.Location.State,
	)

	if err := p.clear(ctx, logger, rc); err != nil {
		return p.abort(ctx, logger, rc, res, "clear delay", err)
	}

	res.Decision = types.NoDelay(types.ReasonResolutionFailed)
	res.Outcome = types.OutcomeRunNow
	p.publish(ctx, logger, rc, res)
	return res, nil
}

// clear removes this run's delay. An environment that belongs to someone
// else is left alone and is not an error for a run-now decision.
func (p *Pipeline) clear(ctx context.Context, logger types.Logger, rc types.RunContext) error {
	err := p.control.ClearDelay(ctx, rc)
	if types.CodeOf(err) == types.ErrCodeConflictForeignEnvironment {
		logger.Warn("leaving foreign delay environment in place", "error", err.Error())
		return nil
	}
	return err
}

// abort records the failed invocation and returns err annotated with stage.
func (p *Pipeline) abort(ctx context.Context, logger types.Logger, rc types.RunContext, res *Result, stage string, err error) (*Result, error) {
	logger.Error("carbon delay aborted",
		"stage", stage,
		"error", err.Error(),
		"code", string(types.CodeOf(err)),
	)
	res.Outcome = types.OutcomeAborted
	res.Decision = types.DelayDecision{}
	if p.metrics != nil {
		p.metrics.RecordDecision(ctx, types.DecisionRecord{
			Outcome:    types.OutcomeAborted,
			Region:     res.Region,
			Repository: rc.Repository(),
		})
	}
	return res, &StageError{Stage: stage, Err: err}
}

// publish writes step outputs and metrics. Neither can fail the invocation:
// by now the control plane already reflects the decision.
func (p *Pipeline) publish(ctx context.Context, logger types.Logger, rc types.RunContext, res *Result) {
	if p.outputs != nil {
		if err := p.outputs.WriteOutputs(outputsFor(res)); err != nil {
			logger.Error("failed to write step outputs", "error", err.Error())
		}
	}
	if p.metrics != nil {
		p.metrics.RecordDecision(ctx, types.DecisionRecord{
			Outcome:    res.Outcome,
			Region:     res.Region,
			Repository: rc.Repository(),
			Decision:   res.Decision,
		})
	}
}

// StageError names the stage an invocation aborted in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsAbort reports whether err came from an aborted pipeline stage.
func IsAbort(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}
