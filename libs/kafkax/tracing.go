package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/md-rashed-zaman/studiobook/libs/kafkax"

// headers adapts a message's header list to the OTel carrier interface. Set replaces an
// existing key so re-injecting never duplicates traceparent.
type headers struct{ list *[]kafka.Header }

var _ propagation.TextMapCarrier = headers{}

func (h headers) Get(key string) string { return HeaderValue(*h.list, key) }

func (h headers) Keys() []string {
	keys := make([]string, len(*h.list))
	for i, hd := range *h.list {
		keys[i] = hd.Key
	}
	return keys
}

func (h headers) Set(key, value string) {
	for i := range *h.list {
		if (*h.list)[i].Key == key {
			(*h.list)[i].Value = []byte(value)
			return
		}
	}
	*h.list = append(*h.list, kafka.Header{Key: key, Value: []byte(value)})
}

// InjectTraceHeaders writes the W3C trace context of ctx into hs and returns the result.
func InjectTraceHeaders(ctx context.Context, hs []kafka.Header) []kafka.Header {
	otel.GetTextMapPropagator().Inject(ctx, headers{list: &hs})
	return hs
}

// ExtractTraceContext returns ctx with the remote span context carried by msg.
func ExtractTraceContext(ctx context.Context, msg kafka.Message) context.Context {
	hs := msg.Headers
	return otel.GetTextMapPropagator().Extract(ctx, headers{list: &hs})
}

// StartConsumeSpan opens a consumer span parented on the producer's trace. The caller ends it.
func StartConsumeSpan(ctx context.Context, groupID string, msg kafka.Message) (context.Context, trace.Span) {
	meta := ExtractEventMeta(msg)
	return otel.Tracer(tracerName).Start(ExtractTraceContext(ctx, msg), msg.Topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.operation", "process"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.consumer.group.name", groupID),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
			attribute.String("messaging.message.id", meta.EventID),
		),
	)
}
