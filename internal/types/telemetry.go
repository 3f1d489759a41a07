package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricDelayDecision             = "DelayDecision"
	MetricDelayMinutes              = "DelayMinutes"
	MetricIntensityReductionPercent = "IntensityReductionPercent"

	// Dimension Keys
	DimOutcome    = "Outcome"
	DimRegion     = "Region"
	DimRepository = "Repository"

	// Metric Namespace
	MetricNamespace = "CarbonDelay"
)

// DecisionOutcome is the Outcome dimension of the DelayDecision metric.
type DecisionOutcome string

const (
	OutcomeDelayed DecisionOutcome = "delayed"
	OutcomeRunNow  DecisionOutcome = "run_now"
	OutcomeAborted DecisionOutcome = "aborted"
)

// DecisionRecord is what one invocation reports to metrics.
type DecisionRecord struct {
	Outcome    DecisionOutcome
	Region     string // empty when resolution never reached a region
	Repository string
	Decision   DelayDecision
}
