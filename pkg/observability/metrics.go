package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// CloudWatchAPI is the subset of the CloudWatch client used for metrics
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// PutMetricData accepts at most 20 datums per call
const metricsBatchSize = 20

// Metrics buffers metric data and ships it to CloudWatch in batches. A nil
// Metrics is valid and disables recording: every method degrades to a no-op.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	logger    *zap.Logger

	mu     sync.Mutex
	buffer []types.MetricDatum
}

// NewMetrics creates a metrics recorder publishing under the namespace
func NewMetrics(client CloudWatchAPI, namespace string, logger *zap.Logger) *Metrics {
	return &Metrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		buffer:    make([]types.MetricDatum, 0, metricsBatchSize),
	}
}

// RecordCount records a count metric
func (m *Metrics) RecordCount(ctx context.Context, name string, value float64) {
	m.record(types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       types.StandardUnitCount,
		Timestamp:  aws.Time(time.Now()),
	})
}

// RecordDuration records a latency metric in milliseconds
func (m *Metrics) RecordDuration(ctx context.Context, name string, d time.Duration) {
	m.record(types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       types.StandardUnitMilliseconds,
		Timestamp:  aws.Time(time.Now()),
	})
}

// Flush ships any buffered datums synchronously
func (m *Metrics) Flush(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}

	m.mu.Lock()
	batch := m.buffer
	m.buffer = make([]types.MetricDatum, 0, metricsBatchSize)
	m.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: batch,
	})
	if err != nil {
		return fmt.Errorf("failed to flush metrics: %w", err)
	}
	return nil
}

// record buffers a datum and ships a full batch in the background so
// recording never blocks the operation being measured
func (m *Metrics) record(datum types.MetricDatum) {
	if m == nil || m.client == nil {
		return
	}

	m.mu.Lock()
	m.buffer = append(m.buffer, datum)
	if len(m.buffer) < metricsBatchSize {
		m.mu.Unlock()
		return
	}
	batch := m.buffer
	m.buffer = make([]types.MetricDatum, 0, metricsBatchSize)
	m.mu.Unlock()

	go m.send(batch)
}

func (m *Metrics) send(batch []types.MetricDatum) {
	_, err := m.client.PutMetricData(context.Background(), &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: batch,
	})
	if err != nil && m.logger != nil {
		m.logger.Warn("Failed to publish metrics batch",
			zap.Error(err),
			zap.Int("datums", len(batch)),
		)
	}
}
