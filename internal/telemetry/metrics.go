package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dispatchwatch/dispatchwatch/internal/telemetry"

// ProviderMetrics holds metrics for upstream panel calls.
type ProviderMetrics struct {
	requestDuration metric.Float64Histogram
	requestTotal    metric.Int64Counter
}

// NewProviderMetrics creates metrics for monitoring upstream panel calls.
func NewProviderMetrics() (*ProviderMetrics, error) {
	meter := otel.Meter(meterName)

	requestDuration, err := meter.Float64Histogram(
		"provider.request.duration",
		metric.WithDescription("Duration of provider requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requestTotal, err := meter.Int64Counter(
		"provider.request.total",
		metric.WithDescription("Total number of provider requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &ProviderMetrics{
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
	}, nil
}

// RecordRequest records metrics for a provider request. A nil receiver is a no-op.
func (m *ProviderMetrics) RecordRequest(provider, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider.name", provider),
		attribute.String("provider.operation", operation),
	}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	// Background context so a cancelled request still gets recorded.
	ctx := context.TODO()
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// PollMetrics holds metrics for the station poll loop.
type PollMetrics struct {
	pollsIssued      metric.Int64Counter
	pollFailures     metric.Int64Counter
	staleDropped     metric.Int64Counter
	snapshotsApplied metric.Int64Counter
	occupancyChanges metric.Int64Counter
	pollDuration     metric.Float64Histogram
}

// NewPollMetrics creates the poll loop instruments.
func NewPollMetrics() (*PollMetrics, error) {
	meter := otel.Meter(meterName)

	pollsIssued, err := meter.Int64Counter(
		"dispatch.poll.issued",
		metric.WithDescription("Station list fetches issued"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, err
	}

	pollFailures, err := meter.Int64Counter(
		"dispatch.poll.failures",
		metric.WithDescription("Station list fetches that failed or could not be decoded"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, err
	}

	staleDropped, err := meter.Int64Counter(
		"dispatch.poll.stale_dropped",
		metric.WithDescription("Station lists dropped because the selection changed while in flight"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, err
	}

	snapshotsApplied, err := meter.Int64Counter(
		"dispatch.snapshot.applied",
		metric.WithDescription("Station lists applied to the occupancy log"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, err
	}

	occupancyChanges, err := meter.Int64Counter(
		"dispatch.occupancy.changes",
		metric.WithDescription("Occupancy events appended to station histories"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	pollDuration, err := meter.Float64Histogram(
		"dispatch.poll.duration",
		metric.WithDescription("Duration of station list fetches in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &PollMetrics{
		pollsIssued:      pollsIssued,
		pollFailures:     pollFailures,
		staleDropped:     staleDropped,
		snapshotsApplied: snapshotsApplied,
		occupancyChanges: occupancyChanges,
		pollDuration:     pollDuration,
	}, nil
}

func serverAttr(serverCode string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("server.code", serverCode))
}

// PollIssued records a fetch leaving for serverCode.
func (m *PollMetrics) PollIssued(serverCode string) {
	if m == nil {
		return
	}
	m.pollsIssued.Add(context.TODO(), 1, serverAttr(serverCode))
}

// PollCompleted records a finished fetch and whether it failed.
func (m *PollMetrics) PollCompleted(serverCode string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.pollDuration.Record(context.TODO(), duration.Seconds(), serverAttr(serverCode))
	if err != nil {
		m.pollFailures.Add(context.TODO(), 1, serverAttr(serverCode))
	}
}

// StaleDropped records a result discarded after a selection change.
func (m *PollMetrics) StaleDropped(serverCode string) {
	if m == nil {
		return
	}
	m.staleDropped.Add(context.TODO(), 1, serverAttr(serverCode))
}

// SnapshotApplied records an applied snapshot and the number of events it appended.
func (m *PollMetrics) SnapshotApplied(serverCode string, changes int) {
	if m == nil {
		return
	}
	m.snapshotsApplied.Add(context.TODO(), 1, serverAttr(serverCode))
	if changes > 0 {
		m.occupancyChanges.Add(context.TODO(), int64(changes), serverAttr(serverCode))
	}
}
