// Package bus implements the explicit publish/subscribe mechanism spec §9
// substitutes for the source's EventEmitter style. Subscribers register
// typed callbacks; delivery uses a bounded per-subscriber queue so a slow
// subscriber cannot block the publisher. Queue overflow drops the oldest
// queued event and increments a counter — never the newest, and a
// publisher never blocks (spec §5).
package bus

import (
	"log/slog"
	"sync"
	"time"

	"qcbridge/internal/model"
)

// EventKind identifies which of the emitted event shapes a BusEvent holds.
type EventKind int

const (
	KindChangeGroupChanges EventKind = iota
	KindMemoryPressure
	KindMemoryPressureResolved
	KindCleanup
	KindEmergencyEviction
	KindError
)

// ChangeBatch is the payload of a ChangeGroup.Changes event: one poller
// tick's worth of changes for a single group, sharing one timestamp.
type ChangeBatch struct {
	GroupID     string
	Changes     []model.ChangeEvent
	Timestamp   int64
	TimestampMs int64
}

// MemoryPressure is the payload of memoryPressure / memoryPressureResolved.
type MemoryPressure struct {
	Level         string // "high" | "critical"
	Percentage    float64
	TotalUsage    int64
	Freed         int64
	CurrentUsage  int64
}

// Cleanup is the payload of a cleanup (age eviction) event.
type Cleanup struct {
	TotalEvicted int
}

// EmergencyEviction is the payload of an emergencyEviction event.
type EmergencyEviction struct {
	TotalEvicted int
	Timestamp    int64
}

// ErrorEvent is the payload of an error event.
type ErrorEvent struct {
	Error     string
	Context   string
	GroupID   string
	Timestamp int64
}

// Event is the envelope handed to subscribers and sinks. Exactly one of
// the typed fields is populated, selected by Kind.
type Event struct {
	Kind      EventKind
	At        time.Time
	Changes   *ChangeBatch
	Pressure  *MemoryPressure
	Cleanup   *Cleanup
	Emergency *EmergencyEviction
	Err       *ErrorEvent
}

// Subscriber receives bus events through a bounded queue.
type Subscriber struct {
	name    string
	ch      chan Event
	mu      sync.Mutex
	dropped uint64
}

// Dropped returns the number of events dropped because this subscriber's
// queue was full.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// C returns the subscriber's delivery channel.
func (s *Subscriber) C() <-chan Event { return s.ch }

// Bus fans out Events to Subscribers and optional Sinks without ever
// blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	sinks       map[string]*sinkWorker
	queueDepth  int
	logger      *slog.Logger
}

// Sink is an optional external publisher of bus events (spec SPEC_FULL §2,
// §4.4 added detail). A Sink's own Publish may be slow or blocking (a
// broker round trip); the Bus is what guarantees the publisher never
// waits on it, by queuing events to each sink on a dedicated goroutine
// with the same bounded, drop-oldest discipline it uses for Subscribers.
type Sink interface {
	Name() string
	Publish(Event) error
	Close() error
}

// sinkWorker decouples a Sink's (possibly slow) Publish from the bus
// publisher: Publish enqueues onto a bounded channel drained by a single
// background goroutine, so a stalled broker only ever backs up this
// sink's own queue, never the caller of Bus.Publish.
type sinkWorker struct {
	sink    Sink
	ch      chan Event
	mu      sync.Mutex
	dropped uint64
	done    chan struct{}
}

func newSinkWorker(sink Sink, queueDepth int, logger *slog.Logger) *sinkWorker {
	w := &sinkWorker{sink: sink, ch: make(chan Event, queueDepth), done: make(chan struct{})}
	go w.run(logger)
	return w
}

func (w *sinkWorker) run(logger *slog.Logger) {
	defer close(w.done)
	for ev := range w.ch {
		if err := w.sink.Publish(ev); err != nil && logger != nil {
			logger.Warn("bus sink publish failed", "sink", w.sink.Name(), "error", err)
		}
	}
}

func (w *sinkWorker) enqueue(ev Event) {
	select {
	case w.ch <- ev:
		return
	default:
	}
	// Queue full: drop the oldest queued event, then enqueue the new one,
	// same discipline as Subscriber delivery.
	w.mu.Lock()
	select {
	case <-w.ch:
		w.dropped++
	default:
	}
	w.mu.Unlock()
	select {
	case w.ch <- ev:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
	}
}

// stop closes the worker's queue and waits for the drain goroutine to
// finish delivering whatever was already queued. It does not close the
// underlying sink: RemoveSink hands the sink back to its caller, who owns
// its lifecycle from that point; Bus.Close closes it itself.
func (w *sinkWorker) stop() {
	close(w.ch)
	<-w.done
}

func New(queueDepth int, logger *slog.Logger) *Bus {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
		sinks:       make(map[string]*sinkWorker),
		queueDepth:  queueDepth,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber with a bounded queue.
func (b *Bus) Subscribe(name string) *Subscriber {
	s := &Subscriber{name: name, ch: make(chan Event, b.queueDepth)}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
}

// AddSink attaches an external sink, starting its background drain
// goroutine. If a sink is already registered under the same name, it is
// stopped and replaced.
func (b *Bus) AddSink(sink Sink) {
	w := newSinkWorker(sink, b.queueDepth, b.logger)
	b.mu.Lock()
	old := b.sinks[sink.Name()]
	b.sinks[sink.Name()] = w
	b.mu.Unlock()
	if old != nil {
		old.stop()
	}
}

// RemoveSink detaches a previously-attached sink, disabling it without
// affecting in-memory ingestion (spec SPEC_FULL §4.4: a failing sink is
// disabled, buffering continues). It stops the sink's drain goroutine and
// returns the underlying Sink so the caller can close it; the Bus itself
// does not close a sink removed this way.
func (b *Bus) RemoveSink(name string) Sink {
	b.mu.Lock()
	w, ok := b.sinks[name]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.sinks, name)
	b.mu.Unlock()
	w.stop()
	return w.sink
}

// SinkNames returns the names of currently attached sinks.
func (b *Bus) SinkNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.sinks))
	for name := range b.sinks {
		names = append(names, name)
	}
	return names
}

// Close stops every attached sink's drain goroutine and closes the sink
// itself. Intended for process shutdown; Publish must not be called
// concurrently with Close.
func (b *Bus) Close() {
	b.mu.Lock()
	sinks := make([]*sinkWorker, 0, len(b.sinks))
	for name, w := range b.sinks {
		sinks = append(sinks, w)
		delete(b.sinks, name)
	}
	b.mu.Unlock()
	for _, w := range sinks {
		w.stop()
		_ = w.sink.Close()
	}
}

// Publish delivers ev to every subscriber and sink. Never blocks: a full
// subscriber queue drops its oldest event to make room (never drops the
// new one, spec §5), and a sink's own Publish runs on its own background
// goroutine so a slow or unreachable sink only ever backs up its own
// queue.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subscribers {
		deliver(s, ev)
	}
	for _, w := range b.sinks {
		w.enqueue(ev)
	}
}

func deliver(s *Subscriber, ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	// Queue full: drop the oldest queued event, then enqueue the new one.
	s.mu.Lock()
	select {
	case <-s.ch:
		s.dropped++
	default:
	}
	s.mu.Unlock()
	select {
	case s.ch <- ev:
	default:
		// Another publisher raced us and refilled the queue; count this
		// event as dropped rather than spin.
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}
