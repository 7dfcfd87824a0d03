package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/mitchellh/mapstructure"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	ExporterName = "kafka"

	flushTimeoutMs = 5000
)

type Config struct {
	Host  string `mapstructure:"host"`
	Port  string `mapstructure:"port"`
	Topic string `mapstructure:"topic"`
}

// producer is the subset of *kafka.Producer used by the exporter.
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// Exporter publishes every finished span as one JSON message. Guard spans
// carry the detection attributes, so the topic doubles as an audit log.
type Exporter struct {
	cfg      Config
	producer producer

	mu       sync.Mutex
	shutdown bool
}

func NewKafkaExporter() *Exporter {
	return &Exporter{}
}

func (p *Exporter) Name() string {
	return ExporterName
}

func (p *Exporter) ValidateConfig(settings map[string]any) error {
	var conf Config
	if err := mapstructure.WeakDecode(settings, &conf); err != nil {
		return fmt.Errorf("invalid kafka config: %w", err)
	}
	if conf.Host == "" {
		return errors.New("kafka host is required")
	}
	if conf.Port == "" {
		return errors.New("kafka port is required")
	}
	if conf.Topic == "" {
		return errors.New("kafka topic is required")
	}
	return nil
}

func (p *Exporter) WithSettings(_ context.Context, settings map[string]any) (sdktrace.SpanExporter, error) {
	var conf Config
	if err := mapstructure.WeakDecode(settings, &conf); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	kp, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": fmt.Sprintf("%s:%s", conf.Host, conf.Port),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newExporter(conf, kp), nil
}

func newExporter(cfg Config, p producer) *Exporter {
	return &Exporter{cfg: cfg, producer: p}
}

// ExportSpans produces one message per span and waits for every delivery
// report or for ctx to end.
func (p *Exporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return errors.New("kafka exporter is shut down")
	}
	if p.producer == nil {
		return errors.New("kafka producer is not initialized")
	}
	if len(spans) == 0 {
		return nil
	}

	deliveryChan := make(chan kafka.Event, len(spans))
	produced := 0
	var errs []error
	for _, span := range spans {
		data, err := json.Marshal(newSpanRecord(span))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to marshal span %s: %w", span.Name(), err))
			continue
		}
		err = p.producer.Produce(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &p.cfg.Topic, Partition: kafka.PartitionAny},
			Key:            []byte(span.SpanContext().TraceID().String()),
			Value:          data,
		}, deliveryChan)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to produce message: %w", err))
			continue
		}
		produced++
	}

	for i := 0; i < produced; i++ {
		select {
		case e := <-deliveryChan:
			m, ok := e.(*kafka.Message)
			if !ok {
				errs = append(errs, fmt.Errorf("unexpected delivery event %T", e))
				continue
			}
			if m.TopicPartition.Error != nil {
				errs = append(errs, fmt.Errorf("delivery failed: %w", m.TopicPartition.Error))
			}
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		}
	}
	return errors.Join(errs...)
}

func (p *Exporter) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown || p.producer == nil {
		p.shutdown = true
		return nil
	}
	p.shutdown = true

	timeout := flushTimeoutMs
	if deadline, ok := ctx.Deadline(); ok {
		timeout = int(time.Until(deadline).Milliseconds())
	}
	if remaining := p.producer.Flush(timeout); remaining > 0 {
		p.producer.Close()
		return fmt.Errorf("kafka exporter: %d messages not delivered", remaining)
	}
	p.producer.Close()
	return nil
}

var _ sdktrace.SpanExporter = (*Exporter)(nil)
