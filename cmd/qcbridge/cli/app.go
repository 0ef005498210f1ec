package cli

import (
	"fmt"
	"log/slog"
	"time"

	"qcbridge/internal/bus"
	"qcbridge/internal/bus/sinks"
	"qcbridge/internal/config"
	"qcbridge/internal/control"
	"qcbridge/internal/engine"
	"qcbridge/internal/eventcache"
	"qcbridge/internal/poller"
	"qcbridge/internal/reconnect"
)

// app wires together the bridge's components: the ControlAdapter, the
// PollerEngine, the EventCacheManager, the shared bus, and the reconnect
// coordinator that ties connection lifecycle events back into the
// adapter and cache.
//
// The engine SDK's real transport is out of scope for this module (see
// internal/engine's package doc); app always wires engine.NewFakeClient,
// an in-memory stand-in, so every command here is runnable without a real
// audio-DSP engine attached.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	client  *engine.FakeClient
	adapter *control.Adapter
	bus     *bus.Bus
	cache   *eventcache.Manager
	poller  *poller.Engine
	coord   *reconnect.Coordinator
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client := engine.NewFakeClient()

	adapter := control.NewAdapter(client, control.Options{
		Retry: control.RetryPolicy{
			MaxRetries: cfg.Adapter.MaxRetries,
			Delay:      cfg.Adapter.RetryDelay(),
			Backoff:    cfg.Adapter.RetryBackoff,
		},
		StringMaxLength: cfg.Validation.StringMaxLength,
		SkipValidation:  cfg.Validation.SkipValidation,
		Logger:          logger,
	})

	b := bus.New(cfg.Bus.SinkQueueDepth, logger)
	if cfg.Bus.MQTT.Broker != "" {
		if sink, err := sinks.NewMQTTSink(cfg.Bus.MQTT.Broker, cfg.Bus.MQTT.TopicPrefix, logger); err != nil {
			logger.Warn("mqtt sink unavailable, continuing without it", "error", err)
		} else {
			b.AddSink(sink)
		}
	}
	if len(cfg.Bus.Kafka.Brokers) > 0 {
		if sink, err := sinks.NewKafkaSink(cfg.Bus.Kafka.Brokers, cfg.Bus.Kafka.Topic, logger); err != nil {
			logger.Warn("kafka sink unavailable, continuing without it", "error", err)
		} else {
			b.AddSink(sink)
		}
	}

	cache, err := eventcache.NewManager(eventcache.Config{
		RingCapacity:          cfg.Cache.RingCapacity,
		LimitBytes:            cfg.Cache.LimitBytes(),
		MemoryCheckInterval:   time.Duration(cfg.Cache.MemoryCheckIntervalMs) * time.Millisecond,
		CleanupInterval:       time.Duration(cfg.Cache.CleanupIntervalMs) * time.Millisecond,
		DefaultMaxAgeMs:       cfg.Cache.DefaultMaxAgeMs,
		QueryCacheCapacity:    cfg.QueryCache.Capacity,
		QueryCacheTTL:         time.Duration(cfg.QueryCache.TTLMs) * time.Millisecond,
		Logger:                logger,
	}, b)
	if err != nil {
		return nil, fmt.Errorf("create event cache manager: %w", err)
	}

	pe := poller.NewEngine(adapter, b, logger)
	cache.AttachPoller(b)

	coord := reconnect.New(client, adapter, cache, reconnect.Options{
		LongDowntimeThreshold: time.Duration(cfg.Engine.LongDowntimeThresholdMs) * time.Millisecond,
		Logger:                logger,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		adapter: adapter,
		bus:     b,
		cache:   cache,
		poller:  pe,
		coord:   coord,
	}, nil
}

func (a *app) close() {
	a.poller.Close()
	_ = a.cache.Close()
	a.coord.Stop()
	a.bus.Close()
	a.client.Close()
}
