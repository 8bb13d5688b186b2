package bundle

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type bundleMetrics struct {
	opsCreated     metric.Int64Counter
	opsRetired     metric.Int64Counter
	opsTerminal    metric.Int64Counter
	opLifetime     metric.Int64Histogram
	commitDuration metric.Int64Histogram
	commitSize     metric.Int64Histogram
}

func newBundleMetrics(logger pslog.Logger) *bundleMetrics {
	meter := otel.Meter("pkt.systems/bundled/bundle")
	m := &bundleMetrics{}
	var err error

	m.opsCreated, err = meter.Int64Counter(
		"bundled.bundle.ops.created",
		metric.WithDescription("Bundle operations created"),
	)
	logMetricInitError(logger, "bundled.bundle.ops.created", err)

	m.opsRetired, err = meter.Int64Counter(
		"bundled.bundle.ops.retired",
		metric.WithDescription("Bundle operations retired from the registry"),
	)
	logMetricInitError(logger, "bundled.bundle.ops.retired", err)

	m.opsTerminal, err = meter.Int64Counter(
		"bundled.bundle.ops.terminal",
		metric.WithDescription("Terminal transitions by status"),
	)
	logMetricInitError(logger, "bundled.bundle.ops.terminal", err)

	m.opLifetime, err = meter.Int64Histogram(
		"bundled.bundle.ops.lifetime_ms",
		metric.WithDescription("Operation lifetime from creation to terminal status"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "bundled.bundle.ops.lifetime_ms", err)

	m.commitDuration, err = meter.Int64Histogram(
		"bundled.bundle.commit.duration_ms",
		metric.WithDescription("Time spent in the batched storage write"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "bundled.bundle.commit.duration_ms", err)

	m.commitSize, err = meter.Int64Histogram(
		"bundled.bundle.commit.resources",
		metric.WithDescription("Resources written per batched commit"),
	)
	logMetricInitError(logger, "bundled.bundle.commit.resources", err)

	return m
}

func (m *bundleMetrics) recordCreated(ctx context.Context, kind Kind) {
	if m == nil || m.opsCreated == nil {
		return
	}
	m.opsCreated.Add(metricContext(ctx), 1, metric.WithAttributes(kindAttr(kind)))
}

func (m *bundleMetrics) recordRetired(ctx context.Context, kind Kind, status Status) {
	if m == nil || m.opsRetired == nil {
		return
	}
	m.opsRetired.Add(metricContext(ctx), 1, metric.WithAttributes(
		kindAttr(kind),
		attribute.String("bundled.op.status", string(status)),
	))
}

func (m *bundleMetrics) recordTerminal(kind Kind, status Status, lifetime time.Duration) {
	if m == nil || m.opsTerminal == nil {
		return
	}
	attrs := metric.WithAttributes(
		kindAttr(kind),
		attribute.String("bundled.op.status", string(status)),
	)
	m.opsTerminal.Add(context.Background(), 1, attrs)
	if m.opLifetime != nil {
		m.opLifetime.Record(context.Background(), lifetime.Milliseconds(), attrs)
	}
}

func (m *bundleMetrics) recordCommit(ctx context.Context, kind Kind, resources int, duration time.Duration) {
	if m == nil || m.commitDuration == nil {
		return
	}
	ctx = metricContext(ctx)
	attrs := metric.WithAttributes(kindAttr(kind))
	m.commitDuration.Record(ctx, duration.Milliseconds(), attrs)
	if m.commitSize != nil {
		m.commitSize.Record(ctx, int64(resources), attrs)
	}
}

func kindAttr(kind Kind) attribute.KeyValue {
	return attribute.String("bundled.op.kind", string(kind))
}

func metricContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
