package stream

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/quanta/internal/telemetry"
)

type streamMetrics struct {
	environment string
	venue       string

	reconnects       metric.Int64Counter
	controlMessages  metric.Int64Counter
	messagesReceived metric.Int64Counter
	messageBytes     metric.Int64Histogram
	decodeErrors     metric.Int64Counter
	subscriptions    metric.Int64UpDownCounter
}

func newStreamMetrics(venue string) *streamMetrics {
	meter := otel.Meter("adapter.stream")
	sm := &streamMetrics{environment: telemetry.Environment(), venue: venue}

	sm.reconnects, _ = meter.Int64Counter("quanta_stream_reconnects",
		metric.WithDescription("Number of stream websocket dial attempts"),
		metric.WithUnit("{reconnect}"))

	sm.controlMessages, _ = meter.Int64Counter("quanta_stream_control_messages",
		metric.WithDescription("Control frames sent on the stream websocket"),
		metric.WithUnit("{message}"))

	sm.messagesReceived, _ = meter.Int64Counter("quanta_stream_messages",
		metric.WithDescription("Frames received from the stream websocket"),
		metric.WithUnit("{message}"))

	sm.messageBytes, _ = meter.Int64Histogram("quanta_stream_message_bytes",
		metric.WithDescription("Size of stream websocket frames"),
		metric.WithUnit("By"))

	sm.decodeErrors, _ = meter.Int64Counter("quanta_stream_decode_errors",
		metric.WithDescription("Frames the stream client could not decode"),
		metric.WithUnit("{message}"))

	sm.subscriptions, _ = meter.Int64UpDownCounter("quanta_stream_active_subscriptions",
		metric.WithDescription("Active stream subscriptions"),
		metric.WithUnit("{subscription}"))

	return sm
}

func (sm *streamMetrics) baseAttrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		telemetry.AttrEnvironment.String(sm.environment),
		telemetry.AttrVenue.String(sm.venue),
	}
}

func (sm *streamMetrics) recordReconnect(ctx context.Context, result string) {
	if sm == nil || sm.reconnects == nil {
		return
	}
	attrs := append(sm.baseAttrs(), telemetry.AttrResult.String(result))
	sm.reconnects.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (sm *streamMetrics) recordControl(ctx context.Context, op string) {
	if sm == nil || sm.controlMessages == nil {
		return
	}
	attrs := append(sm.baseAttrs(), telemetry.AttrOperation.String(op))
	sm.controlMessages.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (sm *streamMetrics) recordMessage(ctx context.Context, bytes int) {
	if sm == nil || sm.messagesReceived == nil || sm.messageBytes == nil || bytes <= 0 {
		return
	}
	attrs := sm.baseAttrs()
	sm.messagesReceived.Add(ctx, 1, metric.WithAttributes(attrs...))
	sm.messageBytes.Record(ctx, int64(bytes), metric.WithAttributes(attrs...))
}

func (sm *streamMetrics) recordDecodeError(ctx context.Context) {
	if sm == nil || sm.decodeErrors == nil {
		return
	}
	sm.decodeErrors.Add(ctx, 1, metric.WithAttributes(sm.baseAttrs()...))
}

func (sm *streamMetrics) adjustSubscriptions(ctx context.Context, delta int) {
	if sm == nil || sm.subscriptions == nil || delta == 0 {
		return
	}
	sm.subscriptions.Add(ctx, int64(delta), metric.WithAttributes(sm.baseAttrs()...))
}
