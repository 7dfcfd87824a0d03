package kafka

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type spanRecord struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Name         string         `json:"name"`
	Kind         string         `json:"kind"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	Status       string         `json:"status"`
	StatusDesc   string         `json:"status_description,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Events       []eventRecord  `json:"events,omitempty"`
	Service      string         `json:"service,omitempty"`
}

type eventRecord struct {
	Name       string         `json:"name"`
	Time       time.Time      `json:"time"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func newSpanRecord(s sdktrace.ReadOnlySpan) spanRecord {
	rec := spanRecord{
		TraceID:    s.SpanContext().TraceID().String(),
		SpanID:     s.SpanContext().SpanID().String(),
		Name:       s.Name(),
		Kind:       s.SpanKind().String(),
		StartTime:  s.StartTime(),
		EndTime:    s.EndTime(),
		Status:     s.Status().Code.String(),
		StatusDesc: s.Status().Description,
		Attributes: attributeMap(s.Attributes()),
	}
	if s.Parent().IsValid() {
		rec.ParentSpanID = s.Parent().SpanID().String()
	}
	if res := s.Resource(); res != nil {
		if v, ok := res.Set().Value("service.name"); ok {
			rec.Service = v.AsString()
		}
	}
	for _, e := range s.Events() {
		rec.Events = append(rec.Events, eventRecord{
			Name:       e.Name,
			Time:       e.Time,
			Attributes: attributeMap(e.Attributes),
		})
	}
	return rec
}

func attributeMap(kvs []attribute.KeyValue) map[string]any {
	if len(kvs) == 0 {
		return nil
	}
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
