// Package main is the carbon-delay workflow step.
//
// It runs once per job. It locates the runner, reads current and forecast
// grid carbon intensity for the matching cloud region, and, when a cleaner
// window lies within the configured tolerance, puts a wait timer on a
// per-run deployment environment so the job starts later.
//
// Usage (inside a workflow step; configuration comes from the environment):
//
//	carbon-delay
//	carbon-delay --version
//
// The step fails open: unless FAIL_ON_ERROR=true, any error is logged and
// the process exits 0 so the job runs undelayed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"carbondelay/internal/config"
	"carbondelay/internal/decision"
	"carbondelay/internal/external"
	"carbondelay/internal/location"
	"carbondelay/internal/metrics"
	"carbondelay/internal/pipeline"
	"carbondelay/internal/types"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print build information and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: carbon-delay [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Delay a CI job to a lower-carbon window. Configured through environment variables.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		b := config.NewBuildInfo()
		fmt.Printf("carbon-delay %s (commit %s, built %s)\n", b.Version, b.Commit, b.BuildTime)
		return
	}

	failOnError, _ := strconv.ParseBool(os.Getenv("FAIL_ON_ERROR"))

	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		newLogger("info").Error("failed to load configuration", "error", err)
		os.Exit(exitCode(err, failOnError))
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("carbon-delay starting",
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"environment", cfg.Environment,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, cfg, logger)
	if err != nil {
		msg := "carbon-delay failed; the job will run without delay"
		if !pipeline.IsAbort(err) {
			msg = "carbon-delay could not start; the job will run without delay"
		}
		logger.Error(msg,
			"error", err,
			"code", string(types.CodeOf(err)),
			"provider_failure", types.CodeOf(err).IsProvider(),
			"fail_on_error", cfg.FailOnError,
		)
	}
	os.Exit(exitCode(err, cfg.FailOnError))
}

// run wires the collaborators and executes one pipeline invocation.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry, err := external.NewClientRegistry(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing clients: %w", err)
	}

	regions, err := location.DefaultRegionTable()
	if err != nil {
		return fmt.Errorf("loading region table: %w", err)
	}
	if code := cfg.Delay.RegionOverride; code != "" {
		if r, ok := regions.Lookup(code); ok {
			logger.Info("region override", "region", code, "display_name", r.DisplayName)
		} else {
			logger.Warn("region override is not in the region table; passing it through", "region", code)
		}
	}

	typedLogger := types.NewSlogLogger(logger)

	p := pipeline.New(pipeline.Config{
		Location:  registry.Location,
		Regions:   regions,
		Intensity: registry.Intensity,
		Control:   registry.ControlPlane,
		Decider:   decision.NewEngine(decision.WithLogger(typedLogger)),
		Metrics:   newDecisionMetrics(ctx, cfg, typedLogger),
		Outputs:   pipeline.NewFileOutputWriter(cfg.GitHub.OutputPath),
		Options: pipeline.Options{
			ToleranceMinutes: cfg.Delay.ToleranceMinutes,
			LocationOverride: cfg.Delay.LocationOverride,
			RegionOverride:   cfg.Delay.RegionOverride,
		},
		Logger: typedLogger,
	})

	res, err := p.Run(ctx, buildRunContext(cfg, uuid.NewString()))
	if err != nil {
		return err
	}

	attrs := []any{
		"outcome", string(res.Outcome),
		"reason", string(res.Decision.Reason),
		"region", res.Region,
		"delay_minutes", res.Decision.DelayMinutes,
	}
	if res.Decision.PercentReduction != nil {
		attrs = append(attrs, "percent_reduction", *res.Decision.PercentReduction)
	}
	if res.Environment != "" {
		attrs = append(attrs, "environment", res.Environment)
	}
	logger.Info("carbon-delay finished", attrs...)
	return nil
}

// buildRunContext reads the run coordinates once so nothing downstream
// touches the environment.
func buildRunContext(cfg *config.Config, invocationID string) types.RunContext {
	return types.RunContext{
		Owner:        cfg.GitHub.Owner(),
		Repo:         cfg.GitHub.Repo(),
		RunID:        cfg.GitHub.RunID,
		RunAttempt:   cfg.GitHub.RunAttempt,
		Workflow:     cfg.GitHub.Workflow,
		Job:          cfg.GitHub.Job,
		InvocationID: invocationID,
	}
}

// newDecisionMetrics returns CloudWatch metrics when enabled, and a no-op
// recorder otherwise or when the AWS config cannot be loaded.
func newDecisionMetrics(ctx context.Context, cfg *config.Config, logger types.Logger) pipeline.DecisionMetrics {
	if !cfg.Observability.EnableMetrics || cfg.UseStubs() {
		return metrics.NoopDecisionMetrics{}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Warn("metrics disabled: failed to load AWS config", "error", err.Error())
		return metrics.NoopDecisionMetrics{}
	}

	client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	return metrics.NewCloudWatchDecisionMetrics(client, cfg.Observability.MetricNamespace, logger)
}

// exitCode maps the invocation error to a process exit status.
func exitCode(err error, failOnError bool) int {
	if err == nil || !failOnError {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}

// secretProvider picks the backend for _SSM_PARAM pointers. SECRET_PROVIDER=env
// treats each pointer as the name of another environment variable, which lets
// a workflow map repository secrets without AWS.
func secretProvider() config.SecretProvider {
	if os.Getenv("SECRET_PROVIDER") == "env" {
		return config.NewEnvVarProvider()
	}
	return config.NewSSMProvider(awsRegion(), config.WithSSMEndpoint(os.Getenv("AWS_ENDPOINT_URL")))
}

// awsRegion is read before config loading because the SSM provider needs
// it to resolve secrets that config loading depends on.
func awsRegion() string {
	if r := os.Getenv("AWS_REGION"); r != "" {
		return r
	}
	return "us-east-1"
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
