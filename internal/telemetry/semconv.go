package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys attached to quanta metrics.
const (
	AttrEnvironment = attribute.Key("environment")
	AttrTopic       = attribute.Key("msgbus.topic")
	AttrEndpoint    = attribute.Key("msgbus.endpoint")
	AttrVenue       = attribute.Key("venue")
	AttrInstrument  = attribute.Key("instrument.id")
	AttrOrderSide   = attribute.Key("order.side")
	AttrOrderType   = attribute.Key("order.type")
	AttrDataKind    = attribute.Key("data.kind")
	AttrOperation   = attribute.Key("operation")
	AttrResult      = attribute.Key("result")
	AttrReason      = attribute.Key("reason")
)

// BusAttributes returns attributes for message bus counters. Either topic or endpoint may be empty.
func BusAttributes(topic, endpoint string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrEnvironment.String(Environment())}
	if topic != "" {
		attrs = append(attrs, AttrTopic.String(topic))
	}
	if endpoint != "" {
		attrs = append(attrs, AttrEndpoint.String(endpoint))
	}
	return attrs
}

// OrderAttributes returns attributes for order-related metrics.
func OrderAttributes(venue, instrument, side, orderType string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(Environment()),
		AttrVenue.String(venue),
	}
	if instrument != "" {
		attrs = append(attrs, AttrInstrument.String(instrument))
	}
	if side != "" {
		attrs = append(attrs, AttrOrderSide.String(side))
	}
	if orderType != "" {
		attrs = append(attrs, AttrOrderType.String(orderType))
	}
	return attrs
}

// OperationResultAttributes returns attributes for operation outcome metrics.
func OperationResultAttributes(operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(Environment()),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}
