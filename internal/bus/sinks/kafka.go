package sinks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"qcbridge/internal/bus"
	"qcbridge/internal/logging"
)

// KafkaSink publishes bus events to a Kafka topic, one record per event.
// Like MQTTSink, this mirrors live operational events only; it is not a
// replay log and nothing in this module ever reads the topic back.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger

	enabled atomic.Bool
	mu      sync.Mutex
}

// NewKafkaSink dials the given brokers and returns a ready sink.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) (*KafkaSink, error) {
	if topic == "" {
		topic = "qcbridge.events"
	}
	logger = logging.Default(logger).With("component", "bus-sink", "sink", "kafka")

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.NoCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: client: %w", err)
	}

	s := &KafkaSink{client: client, topic: topic, logger: logger}
	s.enabled.Store(true)
	return s, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ev bus.Event) error {
	if !s.enabled.Load() {
		return nil
	}
	payload, err := encode(ev)
	if err != nil {
		return fmt.Errorf("kafka sink: encode: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var produceErr error
	var wg sync.WaitGroup
	wg.Add(1)
	s.client.Produce(ctx, &kgo.Record{Topic: s.topic, Value: payload}, func(_ *kgo.Record, err error) {
		produceErr = err
		wg.Done()
	})
	wg.Wait()

	if produceErr != nil {
		s.disable()
		return fmt.Errorf("kafka sink: produce: %w", produceErr)
	}
	return nil
}

func (s *KafkaSink) disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled.CompareAndSwap(true, false) {
		s.logger.Warn("kafka sink disabled after publish failure")
	}
}

func (s *KafkaSink) Close() error {
	s.client.Close()
	return nil
}
