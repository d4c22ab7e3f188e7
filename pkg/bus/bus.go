package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayatori-dev/ayatori/internal/observability"
)

// Policy selects what Publish does when a subscriber's queue is full.
type Policy string

const (
	// PolicyBlock makes the publisher wait until the subscriber drains.
	PolicyBlock Policy = "block"
	// PolicyDropOldest evicts the oldest queued event to make room.
	PolicyDropOldest Policy = "drop_oldest"
)

// DefaultBufferSize bounds each subscriber queue unless overridden.
const DefaultBufferSize = 64

// ErrClosed indicates the bus has been shut down.
var ErrClosed = errors.New("bus closed")

// Subscription is one consumer's bounded event queue. Events arrives
// on C in the order they were published for any given session.
type Subscription struct {
	C <-chan Event

	id        int
	sessionID string
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Close detaches the subscription. A blocked publisher targeting this
// subscriber is released immediately.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done is closed when the subscription ends, whether by Close, by
// CloseSession on its session, or by the bus shutting down. Consumers
// select on it alongside C; C itself is never closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Bus fans session events out to subscribers. Each subscriber owns an
// independent bounded queue so one slow consumer never stalls another
// under the drop-oldest policy.
type Bus struct {
	policy  Policy
	bufSize int
	logger  zerolog.Logger

	mu      sync.RWMutex
	nextID  int
	subs    map[string]map[int]*Subscription
	globals map[int]*Subscription
	closed  bool
}

// Options configures a Bus.
type Options struct {
	Policy     Policy
	BufferSize int
}

// New creates a bus. Zero options get the block policy and default
// buffer size.
func New(opts Options, logger zerolog.Logger) *Bus {
	policy := opts.Policy
	if policy == "" {
		policy = PolicyBlock
	}
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Bus{
		policy:  policy,
		bufSize: size,
		logger:  logger.With().Str("component", "bus").Logger(),
		subs:    make(map[string]map[int]*Subscription),
		globals: make(map[int]*Subscription),
	}
}

// Subscribe registers a consumer for one session's events.
func (b *Bus) Subscribe(sessionID string) (*Subscription, error) {
	return b.subscribe(sessionID)
}

// SubscribeAll registers a consumer for every session's events.
func (b *Bus) SubscribeAll() (*Subscription, error) {
	return b.subscribe("")
}

func (b *Bus) subscribe(sessionID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	b.nextID++
	sub := &Subscription{
		id:        b.nextID,
		sessionID: sessionID,
		ch:        make(chan Event, b.bufSize),
		done:      make(chan struct{}),
	}
	sub.C = sub.ch

	if sessionID == "" {
		b.globals[sub.id] = sub
	} else {
		byID, ok := b.subs[sessionID]
		if !ok {
			byID = make(map[int]*Subscription)
			b.subs[sessionID] = byID
		}
		byID[sub.id] = sub
	}
	observability.SetBusSubscribers(b.countLocked())
	return sub, nil
}

func (b *Bus) countLocked() int {
	n := len(b.globals)
	for _, byID := range b.subs {
		n += len(byID)
	}
	return n
}

// Publish delivers ev to every subscriber of its session plus all
// global subscribers. Delivery order matches publish order as long as
// events for one session come from a single goroutine, which is how
// runners drive the bus. Under the block policy a full subscriber
// stalls the publisher until space opens, the subscriber closes, or
// ctx is done.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*Subscription, 0, len(b.globals)+len(b.subs[ev.SessionID]))
	for _, sub := range b.subs[ev.SessionID] {
		targets = append(targets, sub)
	}
	for _, sub := range b.globals {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	observability.RecordEventPublished(string(ev.Type))
	for _, sub := range targets {
		b.deliver(ctx, sub, ev)
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, sub *Subscription, ev Event) {
	if b.policy == PolicyBlock {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		case <-ctx.Done():
		}
		return
	}

	// Drop-oldest: evict until the new event fits. The loop settles
	// because only the publisher writes to sub.ch.
	for {
		select {
		case <-sub.done:
			return
		default:
		}
		select {
		case sub.ch <- ev:
			return
		default:
		}
		select {
		case old := <-sub.ch:
			observability.RecordEventDropped(string(old.Type))
			b.logger.Debug().
				Str("session_id", old.SessionID).
				Str("type", string(old.Type)).
				Msg("Dropped oldest queued event")
		default:
		}
	}
}

// CloseSession detaches every subscriber scoped to the session.
// Global subscribers are unaffected.
func (b *Bus) CloseSession(sessionID string) {
	b.mu.Lock()
	byID := b.subs[sessionID]
	delete(b.subs, sessionID)
	count := b.countLocked()
	b.mu.Unlock()

	for _, sub := range byID {
		sub.Close()
	}
	observability.SetBusSubscribers(count)
}

// Unsubscribe removes a subscription from the bus and closes it.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if sub.sessionID == "" {
		delete(b.globals, sub.id)
	} else if byID, ok := b.subs[sub.sessionID]; ok {
		delete(byID, sub.id)
		if len(byID) == 0 {
			delete(b.subs, sub.sessionID)
		}
	}
	count := b.countLocked()
	b.mu.Unlock()

	sub.Close()
	observability.SetBusSubscribers(count)
}

// Close shuts the bus down and detaches all subscribers. Publish and
// Subscribe fail with ErrClosed afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, byID := range b.subs {
		for _, sub := range byID {
			all = append(all, sub)
		}
	}
	for _, sub := range b.globals {
		all = append(all, sub)
	}
	b.subs = make(map[string]map[int]*Subscription)
	b.globals = make(map[int]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
	observability.SetBusSubscribers(0)
}
