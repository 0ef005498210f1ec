// Package sinks provides optional external publishers for bus events:
// operational signals only (memory pressure, cleanup, eviction, error),
// never control values or event history, so forwarding them carries none
// of the persistence/replay semantics the Non-goals exclude.
package sinks

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"qcbridge/internal/bus"
	"qcbridge/internal/logging"
)

// wirePayload is the compact, sink-agnostic encoding of a bus.Event.
type wirePayload struct {
	Kind      int    `msgpack:"kind"`
	At        int64  `msgpack:"at"`
	GroupID   string `msgpack:"groupId,omitempty"`
	Level     string `msgpack:"level,omitempty"`
	Summary   string `msgpack:"summary"`
}

func encode(ev bus.Event) ([]byte, error) {
	p := wirePayload{Kind: int(ev.Kind), At: ev.At.UnixMilli()}
	switch {
	case ev.Changes != nil:
		p.GroupID = ev.Changes.GroupID
		p.Summary = fmt.Sprintf("%d control(s) changed", len(ev.Changes.Changes))
	case ev.Pressure != nil:
		p.Level = ev.Pressure.Level
		p.Summary = fmt.Sprintf("memory at %.1f%%", ev.Pressure.Percentage)
	case ev.Cleanup != nil:
		p.Summary = fmt.Sprintf("%d event(s) aged out", ev.Cleanup.TotalEvicted)
	case ev.Emergency != nil:
		p.Summary = fmt.Sprintf("emergency eviction dropped %d event(s)", ev.Emergency.TotalEvicted)
	case ev.Err != nil:
		p.GroupID = ev.Err.GroupID
		p.Summary = ev.Err.Error
	}
	return msgpack.Marshal(p)
}

// MQTTSink publishes bus events to an MQTT broker under
// "<topicPrefix>/<kind>". Publish waits up to two seconds for the broker
// to acknowledge each message; a timeout or a broken connection surfaces
// as a Publish error, which the bus logs, and the sink disables itself so
// later events are skipped.
type MQTTSink struct {
	client      mqtt.Client
	topicPrefix string
	qos         byte
	logger      *slog.Logger

	mu      sync.Mutex
	enabled bool
}

// NewMQTTSink connects to broker and returns a ready sink. Connection is
// attempted with a bounded timeout; callers should treat a returned error
// as non-fatal (the manager continues without the sink).
func NewMQTTSink(broker, topicPrefix string, logger *slog.Logger) (*MQTTSink, error) {
	if topicPrefix == "" {
		topicPrefix = "qcbridge/events"
	}
	logger = logging.Default(logger).With("component", "bus-sink", "sink", "mqtt")

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("qcbridge-" + fmt.Sprint(time.Now().UnixNano())).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt sink: connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt sink: connect: %w", err)
	}

	return &MQTTSink{
		client:      client,
		topicPrefix: topicPrefix,
		qos:         0,
		logger:      logger,
		enabled:     true,
	}, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Publish(ev bus.Event) error {
	s.mu.Lock()
	enabled := s.enabled
	s.mu.Unlock()
	if !enabled {
		return nil
	}

	payload, err := encode(ev)
	if err != nil {
		return fmt.Errorf("mqtt sink: encode: %w", err)
	}
	topic := fmt.Sprintf("%s/%s", s.topicPrefix, kindTopic(ev.Kind))
	token := s.client.Publish(topic, s.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		s.disable()
		return fmt.Errorf("mqtt sink: publish timed out, disabling")
	}
	if err := token.Error(); err != nil {
		s.disable()
		return fmt.Errorf("mqtt sink: publish: %w", err)
	}
	return nil
}

func (s *MQTTSink) disable() {
	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()
	s.logger.Warn("mqtt sink disabled after publish failure")
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}

func kindTopic(k bus.EventKind) string {
	switch k {
	case bus.KindChangeGroupChanges:
		return "changes"
	case bus.KindMemoryPressure:
		return "memory-pressure"
	case bus.KindMemoryPressureResolved:
		return "memory-pressure-resolved"
	case bus.KindCleanup:
		return "cleanup"
	case bus.KindEmergencyEviction:
		return "emergency-eviction"
	default:
		return "error"
	}
}
