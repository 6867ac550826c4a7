// Package telemetry exposes the engine's operational counters through the
// OpenTelemetry metric API. Only numeric counters and histograms are
// published; the export format is the collaborator's concern.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dreamware/kotare"

// TransferTotals feeds the observable transfer counters. The engine
// aggregates these from its shard coordinators on collection.
type TransferTotals struct {
	Submitted uint64
	Committed uint64
	Aborted   uint64
}

// Metrics holds the engine's instruments. A nil *Metrics is a valid no-op
// receiver so callers never need to branch on telemetry being configured.
type Metrics struct {
	txApplied    metric.Int64Counter
	txRejected   metric.Int64Counter
	conflicts    metric.Int64Counter
	batchLatency metric.Float64Histogram
}

// New creates the engine instruments on the global meter provider and
// registers observable counters for transfer totals via totals, which is
// invoked at collection time.
func New(totals func() TransferTotals) (*Metrics, error) {
	meter := otel.Meter(meterName)

	m := &Metrics{}
	var err error

	if m.txApplied, err = meter.Int64Counter("kotare.tx.applied",
		metric.WithDescription("Transactions committed per shard")); err != nil {
		return nil, err
	}
	if m.txRejected, err = meter.Int64Counter("kotare.tx.rejected",
		metric.WithDescription("Transactions rejected per shard")); err != nil {
		return nil, err
	}
	if m.conflicts, err = meter.Int64Counter("kotare.batch.conflicts",
		metric.WithDescription("Conflicts detected per batch")); err != nil {
		return nil, err
	}
	if m.batchLatency, err = meter.Float64Histogram("kotare.batch.latency",
		metric.WithDescription("Batch execution latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	submitted, err := meter.Int64ObservableCounter("kotare.transfer.submitted",
		metric.WithDescription("Cross-shard transfers submitted"))
	if err != nil {
		return nil, err
	}
	committed, err := meter.Int64ObservableCounter("kotare.transfer.committed",
		metric.WithDescription("Cross-shard transfers committed"))
	if err != nil {
		return nil, err
	}
	aborted, err := meter.Int64ObservableCounter("kotare.transfer.aborted",
		metric.WithDescription("Cross-shard transfers aborted"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		t := totals()
		o.ObserveInt64(submitted, int64(t.Submitted))
		o.ObserveInt64(committed, int64(t.Committed))
		o.ObserveInt64(aborted, int64(t.Aborted))
		return nil
	}, submitted, committed, aborted)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordBatch records one executed batch's outcome counts and latency.
func (m *Metrics) RecordBatch(ctx context.Context, shard int, applied, rejected, conflicts int, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Int("shard", shard))
	m.txApplied.Add(ctx, int64(applied), attrs)
	m.txRejected.Add(ctx, int64(rejected), attrs)
	m.conflicts.Add(ctx, int64(conflicts), attrs)
	m.batchLatency.Record(ctx, seconds, attrs)
}
