package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type fakeProducer struct {
	messages    []*kafka.Message
	deliveryErr error
	produceErr  error
	remaining   int
	closed      bool
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	if f.produceErr != nil {
		return f.produceErr
	}
	f.messages = append(f.messages, msg)
	delivered := *msg
	delivered.TopicPartition.Error = f.deliveryErr
	deliveryChan <- &delivered
	return nil
}

func (f *fakeProducer) Flush(int) int { return f.remaining }
func (f *fakeProducer) Close()        { f.closed = true }

func guardSpans(t *testing.T) []sdktrace.ReadOnlySpan {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, parent := tp.Tracer("test").Start(context.Background(), "guardrails.session")
	_, span := tp.Tracer("test").Start(ctx, "guardrails.prompt", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.Bool("prompt.pii.detected", true), attribute.Float64("prompt.pii.score", 0.9))
	span.AddEvent("guardrail.triggered", trace.WithAttributes(attribute.String("guardrail.type", "pii")))
	span.End()
	parent.End()
	return recorder.Ended()
}

func TestValidateConfig(t *testing.T) {
	e := NewKafkaExporter()
	assert.NoError(t, e.ValidateConfig(map[string]any{"host": "localhost", "port": 9092, "topic": "guard-spans"}))
	assert.ErrorContains(t, e.ValidateConfig(map[string]any{"port": "9092", "topic": "t"}), "host")
	assert.ErrorContains(t, e.ValidateConfig(map[string]any{"host": "h", "topic": "t"}), "port")
	assert.ErrorContains(t, e.ValidateConfig(map[string]any{"host": "h", "port": "1"}), "topic")
}

func TestExportSpans(t *testing.T) {
	fp := &fakeProducer{}
	e := newExporter(Config{Topic: "guard-spans"}, fp)

	spans := guardSpans(t)
	require.NoError(t, e.ExportSpans(context.Background(), spans))
	require.Len(t, fp.messages, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(fp.messages[0].Value, &rec))
	assert.Equal(t, "guardrails.prompt", rec["name"])
	assert.Equal(t, "client", rec["kind"])
	assert.NotEmpty(t, rec["parent_span_id"])
	attrs := rec["attributes"].(map[string]any)
	assert.Equal(t, true, attrs["prompt.pii.detected"])
	assert.Equal(t, 0.9, attrs["prompt.pii.score"])
	events := rec["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "guardrail.triggered", events[0].(map[string]any)["name"])

	assert.Equal(t, "guard-spans", *fp.messages[0].TopicPartition.Topic)
	assert.Equal(t, spans[0].SpanContext().TraceID().String(), string(fp.messages[0].Key))
}

func TestExportSpans_DeliveryError(t *testing.T) {
	fp := &fakeProducer{deliveryErr: errors.New("broker down")}
	e := newExporter(Config{Topic: "guard-spans"}, fp)

	err := e.ExportSpans(context.Background(), guardSpans(t))
	assert.ErrorContains(t, err, "broker down")
}

func TestExportSpans_ProduceError(t *testing.T) {
	fp := &fakeProducer{produceErr: errors.New("queue full")}
	e := newExporter(Config{Topic: "guard-spans"}, fp)

	err := e.ExportSpans(context.Background(), guardSpans(t))
	assert.ErrorContains(t, err, "queue full")
}

func TestShutdown(t *testing.T) {
	fp := &fakeProducer{}
	e := newExporter(Config{Topic: "guard-spans"}, fp)

	require.NoError(t, e.Shutdown(context.Background()))
	assert.True(t, fp.closed)
	assert.NoError(t, e.Shutdown(context.Background()))
	assert.Error(t, e.ExportSpans(context.Background(), guardSpans(t)))
}

func TestShutdown_Undelivered(t *testing.T) {
	fp := &fakeProducer{remaining: 3}
	e := newExporter(Config{Topic: "guard-spans"}, fp)

	assert.ErrorContains(t, e.Shutdown(context.Background()), "3 messages")
	assert.True(t, fp.closed)
}
