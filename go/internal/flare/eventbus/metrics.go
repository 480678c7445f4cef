package eventbus

import (
	"context"
	"time"

	"github.com/mobflare/mobflare/go/internal/flare/events"
)

// MetricsCollector records publish outcomes.
type MetricsCollector interface {
	RecordEventProcessed(eventType string, success bool, duration time.Duration)
}

type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordEventProcessed(string, bool, time.Duration) {}

// MetricPublisher wraps a Publisher with metrics collection.
type MetricPublisher struct {
	publisher Publisher
	metrics   MetricsCollector
}

func NewMetricPublisher(publisher Publisher, metrics MetricsCollector) *MetricPublisher {
	return &MetricPublisher{publisher: publisher, metrics: metrics}
}

func (p *MetricPublisher) Publish(ctx context.Context, event events.Event) error {
	start := time.Now()
	err := p.publisher.Publish(ctx, event)
	p.metrics.RecordEventProcessed(string(event.Type), err == nil, time.Since(start))
	return err
}

func (p *MetricPublisher) Close() error {
	return p.publisher.Close()
}
