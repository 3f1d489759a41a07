// Package metrics publishes per-invocation decision telemetry.
package metrics

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"carbondelay/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchDecisionMetrics emits one PutMetricData call per invocation.
//
// Metrics emitted:
//   - DelayDecision: Dims {Outcome, Region, Repository}, value 1
//   - DelayMinutes: Dims {Region, Repository}, only when delayed
//   - IntensityReductionPercent: Dims {Region, Repository}, only when delayed
type CloudWatchDecisionMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchDecisionMetrics creates metrics that publish to namespace.
// An empty namespace falls back to types.MetricNamespace.
func NewCloudWatchDecisionMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchDecisionMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = types.NewSlogLogger(nil)
	}
	return &CloudWatchDecisionMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordDecision publishes the record. Failures are logged and swallowed;
// telemetry never changes the step's outcome.
func (m *CloudWatchDecisionMetrics) RecordDecision(ctx context.Context, rec types.DecisionRecord) {
	dims := baseDimensions(rec)

	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricDelayDecision),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: append([]cwtypes.Dimension{{
				Name:  aws.String(types.DimOutcome),
				Value: aws.String(string(rec.Outcome)),
			}}, dims...),
		},
	}

	if rec.Outcome == types.OutcomeDelayed {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricDelayMinutes),
			Value:      aws.Float64(float64(rec.Decision.DelayMinutes)),
			// CloudWatch has no minutes unit; the metric name carries it.
			Unit:       cwtypes.StandardUnitNone,
			Dimensions: dims,
		})
		if rec.Decision.PercentReduction != nil {
			data = append(data, cwtypes.MetricDatum{
				MetricName: aws.String(types.MetricIntensityReductionPercent),
				Value:      aws.Float64(*rec.Decision.PercentReduction),
				Unit:       cwtypes.StandardUnitPercent,
				Dimensions: dims,
			})
		}
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		logger := m.logger
		if l := types.LoggerFromContext(ctx); l != nil {
			logger = l
		}
		logger.Error("failed to record decision metric",
			"error", err.Error(),
			"outcome", string(rec.Outcome),
			"region", rec.Region,
		)
	}
}

func baseDimensions(rec types.DecisionRecord) []cwtypes.Dimension {
	var dims []cwtypes.Dimension
	if rec.Region != "" {
		dims = append(dims, cwtypes.Dimension{
			Name:  aws.String(types.DimRegion),
			Value: aws.String(rec.Region),
		})
	}
	if rec.Repository != "" {
		dims = append(dims, cwtypes.Dimension{
			Name:  aws.String(types.DimRepository),
			Value: aws.String(rec.Repository),
		})
	}
	return dims
}

// NoopDecisionMetrics discards every record. Used when metrics are disabled.
type NoopDecisionMetrics struct{}

func (NoopDecisionMetrics) RecordDecision(context.Context, types.DecisionRecord) {}
