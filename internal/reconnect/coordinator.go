// Package reconnect implements the ReconnectCoordinator (spec §4.7 /
// SPEC_FULL §4.8): the sole subscriber of the engine SDK's connection
// event channel. It forwards lifecycle transitions to the ControlAdapter's
// state machine and, on a downtime long enough that cached topology and
// query results are no longer trustworthy, invalidates the control index
// and the event cache's query cache.
package reconnect

import (
	"log/slog"
	"sync"
	"time"

	"qcbridge/internal/control"
	"qcbridge/internal/engine"
	"qcbridge/internal/eventcache"
	"qcbridge/internal/logging"
)

// defaultLongDowntimeThreshold is the downtime, per spec SPEC_FULL §4.8,
// beyond which a reconnect is treated as having possibly missed topology
// changes (controls added/removed/renamed) rather than a brief blip.
const defaultLongDowntimeThreshold = 30 * time.Second

// Cache is the subset of *eventcache.Manager the coordinator needs; kept
// as an interface so tests can substitute a fake.
type Cache interface {
	ClearQueryCache()
}

var _ Cache = (*eventcache.Manager)(nil)

// Coordinator subscribes to an engine.Client's connection events and
// drives the adapter's state machine plus cache invalidation policy.
type Coordinator struct {
	client   engine.Client
	adapter  *control.Adapter
	cache    Cache
	threshold time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu             sync.Mutex
	disconnectedAt time.Time

	done chan struct{}
}

// Options configures a Coordinator.
type Options struct {
	LongDowntimeThreshold time.Duration
	Logger                *slog.Logger
}

// New constructs a Coordinator. Run must be called to start consuming
// client.Events().
func New(client engine.Client, adapter *control.Adapter, cache Cache, opts Options) *Coordinator {
	if opts.LongDowntimeThreshold <= 0 {
		opts.LongDowntimeThreshold = defaultLongDowntimeThreshold
	}
	return &Coordinator{
		client:    client,
		adapter:   adapter,
		cache:     cache,
		threshold: opts.LongDowntimeThreshold,
		logger:    logging.Default(opts.Logger).With("component", "reconnect-coordinator", "session", adapter.SessionLabel()),
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Run consumes client.Events() until the channel closes or Stop is called.
// Intended to run in its own goroutine.
func (c *Coordinator) Run() {
	events := c.client.Events()
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.handle(evt)
		case <-c.done:
			return
		}
	}
}

// Stop ends Run's loop without closing the underlying client.
func (c *Coordinator) Stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Coordinator) handle(evt engine.ConnEvent) {
	c.adapter.HandleConnEvent(evt)

	switch evt.Kind {
	case engine.EventDisconnected, engine.EventReconnecting:
		c.mu.Lock()
		if c.disconnectedAt.IsZero() {
			c.disconnectedAt = c.now()
		}
		c.mu.Unlock()

	case engine.EventConnected:
		c.mu.Lock()
		since := c.disconnectedAt
		c.disconnectedAt = time.Time{}
		c.mu.Unlock()

		downtime := evt.DowntimeMs
		if downtime == 0 && !since.IsZero() {
			downtime = c.now().Sub(since).Milliseconds()
		}

		if evt.RequiresCacheInvalidation || time.Duration(downtime)*time.Millisecond >= c.threshold {
			c.logger.Info("long downtime on reconnect, invalidating caches", "downtimeMs", downtime)
			c.adapter.Index().Invalidate()
			if c.cache != nil {
				c.cache.ClearQueryCache()
			}
		}
	}
}
