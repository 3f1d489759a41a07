package external

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"carbondelay/internal/types"
)

// ---------------------------------------------------------------------------
// Stub Implementations
//
// Stubs let the step run locally (APP_ENV=local) or in test mode without
// network access or credentials. They log every call and return
// predictable data anchored to the current time so the decision engine has
// something realistic to work on.
// ---------------------------------------------------------------------------

// StubLocationProvider always reports a runner in Virginia, US.
type StubLocationProvider struct {
	logger *slog.Logger
}

// NewStubLocationProvider creates a new StubLocationProvider.
func NewStubLocationProvider(logger *slog.Logger) *StubLocationProvider {
	return &StubLocationProvider{logger: logger}
}

func (s *StubLocationProvider) ResolveLocation(ctx context.Context) (types.Location, error) {
	s.logger.InfoContext(ctx, "stub: ResolveLocation called")
	return types.Location{
		IP:      "192.0.2.1",
		City:    "Ashburn",
		State:   "Virginia",
		Country: "US",
	}, nil
}

// StubIntensityProvider serves a current reading and a 15-minute forecast
// whose cleanest point lies one hour after the requested start.
type StubIntensityProvider struct {
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewStubIntensityProvider creates a new StubIntensityProvider.
func NewStubIntensityProvider(logger *slog.Logger) *StubIntensityProvider {
	return &StubIntensityProvider{logger: logger, nowFn: time.Now}
}

func (s *StubIntensityProvider) FetchCurrent(ctx context.Context, region string) (types.IntensityReading, error) {
	s.logger.InfoContext(ctx, "stub: FetchCurrent called", "region", region)
	return types.IntensityReading{
		Region:          region,
		ObservedAt:      s.nowFn().UTC().Truncate(time.Minute),
		Value:           545.67,
		DurationMinutes: 5,
	}, nil
}

func (s *StubIntensityProvider) FetchForecast(ctx context.Context, region string, start, end time.Time) ([]types.ForecastPoint, error) {
	s.logger.InfoContext(ctx, "stub: FetchForecast called",
		"region", region,
		"start", start,
		"end", end,
	)

	values := []float64{547.31, 547.66, 540.12, 530.44, 512.90, 519.03, 528.75}
	base := start.UTC().Truncate(time.Minute)
	points := make([]types.ForecastPoint, 0, len(values))
	for i, v := range values {
		ts := base.Add(time.Duration(i*15) * time.Minute)
		if ts.After(end) {
			break
		}
		points = append(points, types.ForecastPoint{
			Region:          region,
			Timestamp:       ts,
			DurationMinutes: 15,
			Value:           v,
		})
	}
	return points, nil
}

// StubControlPlane records delays in memory instead of calling the CI
// system.
type StubControlPlane struct {
	logger *slog.Logger
	prefix string

	mu      sync.Mutex
	markers map[string]types.DelayMarker
}

// NewStubControlPlane creates a new StubControlPlane.
func NewStubControlPlane(logger *slog.Logger, prefix string) *StubControlPlane {
	return &StubControlPlane{
		logger:  logger,
		prefix:  prefix,
		markers: make(map[string]types.DelayMarker),
	}
}

func (s *StubControlPlane) EnactDelay(ctx context.Context, rc types.RunContext, minutes int) (string, error) {
	env := rc.EnvironmentName(s.prefix)
	s.logger.InfoContext(ctx, "stub: EnactDelay called",
		"environment", env,
		"minutes", minutes,
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[env] = types.DelayMarker{
		InvocationID: rc.InvocationID,
		RunID:        rc.RunID,
		RunAttempt:   rc.RunAttempt,
		DelayMinutes: minutes,
		CreatedAt:    time.Now().UTC(),
	}
	return env, nil
}

func (s *StubControlPlane) ClearDelay(ctx context.Context, rc types.RunContext) error {
	env := rc.EnvironmentName(s.prefix)
	s.logger.InfoContext(ctx, "stub: ClearDelay called", "environment", env)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, env)
	return nil
}

func (s *StubControlPlane) LookupMarker(ctx context.Context, rc types.RunContext) (*types.DelayMarker, error) {
	env := rc.EnvironmentName(s.prefix)
	s.logger.InfoContext(ctx, "stub: LookupMarker called", "environment", env)

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[env]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

var (
	_ LocationProvider  = (*StubLocationProvider)(nil)
	_ IntensityProvider = (*StubIntensityProvider)(nil)
	_ ControlPlane      = (*StubControlPlane)(nil)
)
