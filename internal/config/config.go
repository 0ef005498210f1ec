// Package config describes the desired shape of a running bridge: the
// engine connection, the poller's timing, the adapter's validation and
// retry behavior, and the event cache's memory and query-cache budgets
// (spec §6, SPEC_FULL §4.8).
//
// Config is declarative: it defines what should exist, not how to create
// it. Loading mechanics (file, env, flags) are out of scope; cmd/qcbridge
// owns binding Config fields to cobra flags.
package config

import (
	"fmt"
	"time"
)

// Config is the desired shape of one qcbridge instance.
type Config struct {
	Engine     EngineConfig
	Poller     PollerConfig
	Adapter    AdapterConfig
	Validation ValidationConfig
	Cache      CacheConfig
	QueryCache QueryCacheConfig
	Bus        BusConfig
}

// EngineConfig describes how to reach the audio-DSP engine.
type EngineConfig struct {
	Host                    string
	Port                    int
	Secure                  bool
	ConnectionTimeoutMs     int
	HeartbeatMs             int
	ReconnectMs             int
	LongDowntimeThresholdMs int
}

// PollerConfig holds the poller's high-frequency cutoff. Validate checks
// it, but poller.Engine does not read it: the engine always switches modes
// at its own fixed 100ms cutoff.
type PollerConfig struct {
	HighFrequencyCutoffMs int
}

// AdapterConfig configures the ControlAdapter's retry policy.
type AdapterConfig struct {
	MaxRetries   int
	RetryDelayMs int
	RetryBackoff float64
}

// ValidationConfig configures Control.Set value coercion.
type ValidationConfig struct {
	StringMaxLength int
	SkipValidation  bool
}

// CacheConfig configures the EventCacheManager's memory budget and
// background maintenance cadence.
type CacheConfig struct {
	RingCapacity          int
	MaxMemoryMB           int
	MemoryCheckIntervalMs int
	CleanupIntervalMs     int
	DefaultMaxAgeMs       int64
}

// QueryCacheConfig configures the LRU fronting repeated queries.
type QueryCacheConfig struct {
	Capacity int
	TTLMs    int
}

// BusConfig configures the event bus and its optional external sinks
// (SPEC_FULL §2's addition over the base spec).
type BusConfig struct {
	SinkQueueDepth int
	MQTT           MQTTSinkConfig
	Kafka          KafkaSinkConfig
}

// MQTTSinkConfig configures the optional MQTT mirror sink. Broker empty
// means disabled.
type MQTTSinkConfig struct {
	Broker      string
	TopicPrefix string
}

// KafkaSinkConfig configures the optional Kafka mirror sink. Empty
// Brokers means disabled.
type KafkaSinkConfig struct {
	Brokers []string
	Topic   string
}

// Default returns a Config populated with spec §6's documented defaults.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Host:                    "localhost",
			Port:                    1710,
			Secure:                  false,
			ConnectionTimeoutMs:     10000,
			HeartbeatMs:             30000,
			ReconnectMs:             5000,
			LongDowntimeThresholdMs: 30000,
		},
		Poller: PollerConfig{
			HighFrequencyCutoffMs: 100,
		},
		Adapter: AdapterConfig{
			MaxRetries:   3,
			RetryDelayMs: 1000,
			RetryBackoff: 2.0,
		},
		Validation: ValidationConfig{
			StringMaxLength: 255,
		},
		Cache: CacheConfig{
			RingCapacity:          1000,
			MaxMemoryMB:           500,
			MemoryCheckIntervalMs: 1000,
			CleanupIntervalMs:     1000,
			DefaultMaxAgeMs:       1800000,
		},
		QueryCache: QueryCacheConfig{
			Capacity: 100,
			TTLMs:    5000,
		},
		Bus: BusConfig{
			SinkQueueDepth: 256,
		},
	}
}

// Validate rejects configurations that would make the bridge impossible
// to start correctly.
func (c Config) Validate() error {
	if c.Engine.Host == "" {
		return fmt.Errorf("config: engine.host must not be empty")
	}
	if c.Engine.Port <= 0 || c.Engine.Port > 65535 {
		return fmt.Errorf("config: engine.port %d out of range", c.Engine.Port)
	}
	if c.Poller.HighFrequencyCutoffMs <= 0 {
		return fmt.Errorf("config: poller.highFrequencyCutoffMs must be positive")
	}
	if c.Adapter.MaxRetries < 0 {
		return fmt.Errorf("config: adapter.maxRetries must not be negative")
	}
	if c.Adapter.RetryBackoff < 1 {
		return fmt.Errorf("config: adapter.retryBackoff must be >= 1")
	}
	if c.Validation.StringMaxLength <= 0 {
		return fmt.Errorf("config: validation.stringMaxLength must be positive")
	}
	if c.Cache.RingCapacity <= 0 {
		return fmt.Errorf("config: cache.ringCapacity must be positive")
	}
	if c.Cache.MaxMemoryMB < 0 {
		return fmt.Errorf("config: cache.maxMemoryMB must not be negative")
	}
	return nil
}

// RetryDelay returns the adapter's retry delay as a time.Duration.
func (a AdapterConfig) RetryDelay() time.Duration {
	return time.Duration(a.RetryDelayMs) * time.Millisecond
}

// LimitBytes converts the configured megabyte budget to bytes; 0 means no
// budget (memory checks disabled).
func (c CacheConfig) LimitBytes() int64 {
	if c.MaxMemoryMB <= 0 {
		return 0
	}
	return int64(c.MaxMemoryMB) * 1024 * 1024
}
