package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"carbondelay/internal/types"
)

// CarbonAwareClientConfig holds the configuration for creating a
// CarbonAwareClient.
type CarbonAwareClientConfig struct {
	BaseURL    string
	APIKey     string // sent as x-api-key when set
	WindowSize int    // forecast window size in minutes
	Logger     *slog.Logger
}

// emissionsData is one element of GET /emissions/bylocation.
type emissionsData struct {
	Location string    `json:"location"`
	Time     time.Time `json:"time"`
	Rating   float64   `json:"rating"`
	Duration string    `json:"duration"` // "hh:mm:ss"
}

// forecastEnvelope is one element of GET /emissions/forecasts/current.
type forecastEnvelope struct {
	GeneratedAt  time.Time           `json:"generatedAt"`
	Location     string              `json:"location"`
	DataStartAt  time.Time           `json:"dataStartAt"`
	DataEndAt    time.Time           `json:"dataEndAt"`
	WindowSize   int                 `json:"windowSize"`
	ForecastData []forecastDataPoint `json:"forecastData"`
}

type forecastDataPoint struct {
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
	Duration  int       `json:"duration"` // minutes
	Value     float64   `json:"value"`
}

// CarbonAwareClient reads current and forecast grid intensity from a Carbon
// Aware SDK WebAPI deployment.
type CarbonAwareClient struct {
	base       *BaseClient
	baseURL    string
	apiKey     string
	windowSize int
	logger     *slog.Logger
}

// NewCarbonAwareClient creates a CarbonAwareClient with the default retry
// policy.
func NewCarbonAwareClient(httpClient *http.Client, userAgent string, cfg CarbonAwareClientConfig) *CarbonAwareClient {
	return NewCarbonAwareClientWithBase(
		NewBaseClient(httpClient, "carbon-aware", DefaultRetryPolicy(), userAgent),
		cfg,
	)
}

// NewCarbonAwareClientWithBase creates a CarbonAwareClient around a
// pre-configured BaseClient.
func NewCarbonAwareClientWithBase(base *BaseClient, cfg CarbonAwareClientConfig) *CarbonAwareClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	windowSize := cfg.WindowSize
	if windowSize <= 0 {
		windowSize = 5
	}
	return &CarbonAwareClient{
		base:       base,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		windowSize: windowSize,
		logger:     logger,
	}
}

// FetchCurrent returns the latest observed intensity for region.
func (c *CarbonAwareClient) FetchCurrent(ctx context.Context, region string) (types.IntensityReading, error) {
	q := url.Values{}
	q.Set("location", region)

	var body []emissionsData
	if err := c.get(ctx, "/emissions/bylocation", q, "current emissions", &body); err != nil {
		return types.IntensityReading{}, err
	}
	if len(body) == 0 {
		return types.IntensityReading{}, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamCarbon,
			"carbon aware returned no current emissions",
			nil,
			map[string]any{"region": region},
		)
	}

	first := body[0]
	minutes, err := parseClockDuration(first.Duration)
	if err != nil {
		return types.IntensityReading{}, types.NewAppError(
			types.ErrCodeUpstreamMalformedResponse,
			fmt.Sprintf("invalid emissions duration %q", first.Duration),
			err,
		)
	}

	reading := types.IntensityReading{
		Region:          region,
		ObservedAt:      first.Time.UTC(),
		Value:           first.Rating,
		DurationMinutes: minutes,
	}
	c.logger.InfoContext(ctx, "fetched current intensity",
		"region", region,
		"grid_location", first.Location,
		"value", reading.Value,
		"observed_at", reading.ObservedAt,
	)
	return reading, nil
}

// FetchForecast returns the forecast series for region between start and
// end. An empty series is valid and means no forecast is available.
func (c *CarbonAwareClient) FetchForecast(ctx context.Context, region string, start, end time.Time) ([]types.ForecastPoint, error) {
	q := url.Values{}
	q.Set("location", region)
	q.Set("dataStartAt", start.UTC().Format(time.RFC3339))
	q.Set("dataEndAt", end.UTC().Format(time.RFC3339))
	q.Set("windowSize", strconv.Itoa(c.windowSize))

	var body []forecastEnvelope
	if err := c.get(ctx, "/emissions/forecasts/current", q, "forecast", &body); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		c.logger.InfoContext(ctx, "carbon aware returned no forecast", "region", region)
		return nil, nil
	}

	points := make([]types.ForecastPoint, 0, len(body[0].ForecastData))
	for _, p := range body[0].ForecastData {
		points = append(points, types.ForecastPoint{
			Region:          region,
			Timestamp:       p.Timestamp.UTC(),
			DurationMinutes: p.Duration,
			Value:           p.Value,
		})
	}

	c.logger.InfoContext(ctx, "fetched forecast",
		"region", region,
		"points", len(points),
		"generated_at", body[0].GeneratedAt,
	)
	return points, nil
}

func (c *CarbonAwareClient) get(ctx context.Context, path string, q url.Values, what string, out any) error {
	spec := requestSpec{
		method: http.MethodGet,
		url:    c.baseURL + path + "?" + q.Encode(),
	}
	if c.apiKey != "" {
		spec.headers = map[string]string{"x-api-key": c.apiKey}
	}

	resp, err := c.base.doJSON(ctx, spec)
	if err != nil {
		return wrapError(types.ErrCodeUpstreamCarbon, "carbonaware", what, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return statusError(resp, types.ErrCodeUpstreamCarbon, "carbonaware", what)
	}
	return decodeJSON(resp, out, types.ErrCodeUpstreamMalformedResponse, "carbonaware "+what)
}

// parseClockDuration converts an "hh:mm:ss" span to whole minutes, rounding
// leftover seconds down.
func parseClockDuration(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("expected hh:mm:ss, got %q", s)
	}
	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid component %q in %q", p, s)
		}
		fields[i] = n
	}
	if fields[1] > 59 || fields[2] > 59 {
		return 0, fmt.Errorf("minutes and seconds must be below 60 in %q", s)
	}
	return fields[0]*60 + fields[1], nil
}
