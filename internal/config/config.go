// Package config defines the configuration structure for the carbon-delay step.
// Configuration is loaded once when the step starts and is immutable thereafter.
// Most values come from the CI runner environment (GITHUB_* variables and the
// INPUT_* variables the workflow sets for step inputs).
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails the load; main treats
// that as a step error and still lets the job run.
package config

import (
	"strings"
	"time"

	"carbondelay/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// MaxToleranceMinutes is the largest wait timer a GitHub environment accepts
// (30 days).
const MaxToleranceMinutes = 43200

// Config is the top-level configuration struct for the carbon-delay step.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"ci" validate:"required,oneof=local ci"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`
	FailOnError bool   `envconfig:"FAIL_ON_ERROR" default:"false"`

	// Domain Configurations
	Delay         DelayConfig
	CarbonAware   CarbonAwareConfig
	Location      LocationConfig
	GitHub        GitHubConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// DelayConfig holds the step inputs that shape the decision.
type DelayConfig struct {
	ToleranceMinutes  int    `envconfig:"INPUT_DELAY_TOLERANCE" default:"60" validate:"gte=0,lte=43200"`
	LocationOverride  string `envconfig:"INPUT_LOCATION"` // e.g. "Virginia"; skips IP lookup
	RegionOverride    string `envconfig:"INPUT_REGION"`   // e.g. "eastus"; skips the region table
	EnvironmentPrefix string `envconfig:"INPUT_ENVIRONMENT_PREFIX" default:"carbon-delay" validate:"required,max=200"`
	WindowSizeMinutes int    `envconfig:"FORECAST_WINDOW_SIZE" default:"5" validate:"gte=1,lte=1440"`
}

// CarbonAwareConfig holds the Carbon Aware SDK WebAPI endpoint and credentials.
type CarbonAwareConfig struct {
	BaseURL string        `envconfig:"CARBON_AWARE_API_URL" validate:"required,url"`
	APIKey  SecretString  `envconfig:"CARBON_AWARE_API_KEY"`
	Timeout time.Duration `envconfig:"CARBON_AWARE_TIMEOUT" default:"10s"`
}

// LocationConfig holds the IP geolocation service settings.
type LocationConfig struct {
	IPInfoURL string        `envconfig:"IPINFO_URL" default:"https://ipinfo.io" validate:"required,url"`
	Token     SecretString  `envconfig:"IPINFO_TOKEN"`
	Timeout   time.Duration `envconfig:"IPINFO_TIMEOUT" default:"5s"`
}

// GitHubConfig holds the control-plane API settings and the run coordinates
// the Actions runner exports.
type GitHubConfig struct {
	APIURL     string        `envconfig:"GITHUB_API_URL" default:"https://api.github.com" validate:"required,url"`
	Token      SecretString  `envconfig:"GITHUB_TOKEN"`
	Repository string        `envconfig:"GITHUB_REPOSITORY" validate:"required"` // owner/repo
	RunID      string        `envconfig:"GITHUB_RUN_ID" validate:"required,numeric"`
	RunAttempt int           `envconfig:"GITHUB_RUN_ATTEMPT" default:"1" validate:"gte=1"`
	Workflow   string        `envconfig:"GITHUB_WORKFLOW"`
	Job        string        `envconfig:"GITHUB_JOB"`
	OutputPath string        `envconfig:"GITHUB_OUTPUT"`
	Timeout    time.Duration `envconfig:"GITHUB_TIMEOUT" default:"15s"`
}

// Owner returns the owner half of GITHUB_REPOSITORY.
func (g GitHubConfig) Owner() string {
	owner, _, _ := strings.Cut(g.Repository, "/")
	return owner
}

// Repo returns the repository-name half of GITHUB_REPOSITORY.
func (g GitHubConfig) Repo() string {
	_, repo, _ := strings.Cut(g.Repository, "/")
	return repo
}

// AWSConfig holds regional configuration for the metrics and SSM clients.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"CarbonDelay"`
}

// UseStubs reports whether external clients should be replaced by stubs.
func (c *Config) UseStubs() bool {
	return c.IsTestMode || c.Environment == localEnv
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
