// Package telemetry records run metrics through OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Craig-0219/potato-autoA/internal/report"
)

const instrumentationName = "github.com/Craig-0219/potato-autoA"

// Setup installs a global meter provider that periodically writes metrics
// to w as JSON. The returned function flushes and shuts it down.
func Setup(ctx context.Context, w io.Writer, interval time.Duration) (*sdkmetric.MeterProvider, func(context.Context) error, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	opts := []sdkmetric.PeriodicReaderOption{}
	if interval > 0 {
		opts = append(opts, sdkmetric.WithInterval(interval))
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, opts...)))
	otel.SetMeterProvider(mp)
	return mp, mp.Shutdown, nil
}

// Recorder counts steps and recipients as a run progresses.
type Recorder struct {
	steps      metric.Int64Counter
	recipients metric.Int64Counter
	stepTime   metric.Float64Histogram
	attempts   metric.Int64Counter
}

// NewRecorder creates the instruments on mp. A nil provider uses the
// global one.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	steps, err := meter.Int64Counter("autoa.steps",
		metric.WithDescription("Steps executed, by action and outcome kind"),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric: %w", err)
	}
	recipients, err := meter.Int64Counter("autoa.recipients",
		metric.WithDescription("Recipients handled, by final status"),
		metric.WithUnit("{recipient}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric: %w", err)
	}
	stepTime, err := meter.Float64Histogram("autoa.step.duration",
		metric.WithDescription("Wall time per step"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric: %w", err)
	}
	attempts, err := meter.Int64Counter("autoa.locate.attempts",
		metric.WithDescription("Locate attempts, including retries"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric: %w", err)
	}
	return &Recorder{steps: steps, recipients: recipients, stepTime: stepTime, attempts: attempts}, nil
}

// Noop returns a Recorder that discards everything.
func Noop() *Recorder {
	r, _ := NewRecorder(noop.NewMeterProvider())
	return r
}

// Step records one step outcome.
func (r *Recorder) Step(ctx context.Context, o report.StepOutcome) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action", o.Action),
		attribute.String("kind", string(o.Kind)),
		attribute.String("phase", string(o.Phase)),
	)
	r.steps.Add(ctx, 1, attrs)
	if o.Attempts > 0 {
		r.attempts.Add(ctx, int64(o.Attempts), metric.WithAttributes(attribute.String("action", o.Action)))
	}
	if !o.StartedAt.IsZero() && !o.FinishedAt.IsZero() {
		r.stepTime.Record(ctx, o.FinishedAt.Sub(o.StartedAt).Seconds(), metric.WithAttributes(attribute.String("action", o.Action)))
	}
}

// Recipient records one recipient's final status.
func (r *Recorder) Recipient(ctx context.Context, o report.RecipientOutcome) {
	if r == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("status", string(o.Status))}
	if o.Reason != "" {
		attrs = append(attrs, attribute.String("reason", o.Reason))
	}
	r.recipients.Add(ctx, 1, metric.WithAttributes(attrs...))
}
