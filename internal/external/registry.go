package external

import (
	"log/slog"
	"net/http"

	"carbondelay/internal/config"
)

// ---------------------------------------------------------------------------
// Client Registry
//
// Central factory that instantiates all external service clients based on
// configuration. In test/local mode, returns stub implementations that log
// actions without requiring real credentials. Otherwise, returns real client
// implementations with per-provider timeouts.
// ---------------------------------------------------------------------------

// ClientRegistry holds all external service client interfaces. It is the single
// point of access for the rest of the step to interact with third-party
// services (ipinfo, Carbon Aware SDK, GitHub).
type ClientRegistry struct {
	Location     LocationProvider
	Intensity    IntensityProvider
	ControlPlane ControlPlane
}

// NewClientRegistry initializes all external service clients.
// If cfg.IsTestMode is true or cfg.Environment is "local", the registry is
// populated with Stub implementations.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.UseStubs() {
		logger.Info("initializing external clients in STUB mode",
			"is_test_mode", cfg.IsTestMode,
			"environment", cfg.Environment,
		)
		return newStubRegistry(cfg, logger), nil
	}

	logger.Info("initializing external clients in PRODUCTION mode",
		"environment", cfg.Environment,
	)
	return newProductionRegistry(cfg, logger), nil
}

func newStubRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	stubLogger := logger.With("mode", "stub")

	return &ClientRegistry{
		Location:     NewStubLocationProvider(stubLogger),
		Intensity:    NewStubIntensityProvider(stubLogger),
		ControlPlane: NewStubControlPlane(stubLogger, cfg.Delay.EnvironmentPrefix),
	}
}

func newProductionRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	userAgent := cfg.Build.UserAgent()

	return &ClientRegistry{
		Location: NewIPInfoClient(
			&http.Client{Timeout: cfg.Location.Timeout},
			userAgent,
			IPInfoClientConfig{
				Token:   cfg.Location.Token.Unmask(),
				BaseURL: cfg.Location.IPInfoURL,
				Logger:  logger.With("client", "ipinfo"),
			},
		),
		Intensity: NewCarbonAwareClient(
			&http.Client{Timeout: cfg.CarbonAware.Timeout},
			userAgent,
			CarbonAwareClientConfig{
				BaseURL:    cfg.CarbonAware.BaseURL,
				APIKey:     cfg.CarbonAware.APIKey.Unmask(),
				WindowSize: cfg.Delay.WindowSizeMinutes,
				Logger:     logger.With("client", "carbon-aware"),
			},
		),
		ControlPlane: NewGitHubClient(
			&http.Client{Timeout: cfg.GitHub.Timeout},
			userAgent,
			GitHubClientConfig{
				BaseURL:           cfg.GitHub.APIURL,
				Token:             cfg.GitHub.Token.Unmask(),
				EnvironmentPrefix: cfg.Delay.EnvironmentPrefix,
				Logger:            logger.With("client", "github"),
			},
		),
	}
}
