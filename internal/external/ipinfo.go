package external

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"carbondelay/internal/types"
)

// ipinfoAPIBase is the default geolocation endpoint.
// Overridable in tests via IPInfoClientConfig.BaseURL.
const ipinfoAPIBase = "https://ipinfo.io"

// IPInfoClientConfig holds the configuration for creating an IPInfoClient.
type IPInfoClientConfig struct {
	Token   string // optional; anonymous lookups are rate limited
	BaseURL string
	Logger  *slog.Logger
}

// ipinfoResponse is the subset of the /json payload the step needs.
type ipinfoResponse struct {
	IP      string `json:"ip"`
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
	Loc     string `json:"loc"`
}

// IPInfoClient resolves the runner's public IP to a coarse location.
type IPInfoClient struct {
	base    *BaseClient
	token   string
	baseURL string
	logger  *slog.Logger
}

// NewIPInfoClient creates an IPInfoClient with the default retry policy.
func NewIPInfoClient(httpClient *http.Client, userAgent string, cfg IPInfoClientConfig) *IPInfoClient {
	return NewIPInfoClientWithBase(
		NewBaseClient(httpClient, "ipinfo", DefaultRetryPolicy(), userAgent),
		cfg,
	)
}

// NewIPInfoClientWithBase creates an IPInfoClient around a pre-configured
// BaseClient.
func NewIPInfoClientWithBase(base *BaseClient, cfg IPInfoClientConfig) *IPInfoClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ipinfoAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IPInfoClient{
		base:    base,
		token:   cfg.Token,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// ResolveLocation looks up the caller's public IP. A response without a
// region is reported as a resolution failure rather than a provider error:
// the service answered, it just could not place the runner.
func (c *IPInfoClient) ResolveLocation(ctx context.Context) (types.Location, error) {
	spec := requestSpec{method: http.MethodGet, url: c.baseURL + "/json"}
	if c.token != "" {
		spec.headers = map[string]string{"Authorization": "Bearer " + c.token}
	}

	resp, err := c.base.doJSON(ctx, spec)
	if err != nil {
		return types.Location{}, wrapError(types.ErrCodeUpstreamLocation, "ipinfo", "lookup", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return types.Location{}, statusError(resp, types.ErrCodeUpstreamLocation, "ipinfo", "lookup")
	}

	var body ipinfoResponse
	if err := decodeJSON(resp, &body, types.ErrCodeUpstreamMalformedResponse, "ipinfo response"); err != nil {
		return types.Location{}, err
	}

	loc := types.Location{
		IP:      body.IP,
		City:    body.City,
		State:   body.Region,
		Country: body.Country,
	}

	if loc.State == "" {
		return loc, types.NewAppErrorWithDetails(
			types.ErrCodeResolutionNoRegion,
			"geolocation returned no region",
			nil,
			map[string]any{"country": loc.Country},
		)
	}

	c.logger.InfoContext(ctx, "resolved runner location",
		"city", loc.City,
		"region", loc.State,
		"country", loc.Country,
	)
	return loc, nil
}
