package yacache

import (
	"sync"

	"github.com/YaCodeDev/yahttpcache/yaerrors"
)

// EventKind names one of the ten closed event variants the engine emits.
// The source's free-form event emitter is replaced here by a closed set of
// strongly-typed payloads plus a subscription registry, per the design
// notes' re-architecture of the dynamic event emitter.
type EventKind string

const (
	EventEntryWrite               EventKind = "entry:write"
	EventEntryDelete              EventKind = "entry:delete"
	EventTagDelete                EventKind = "tag:delete"
	EventSubscriptionEntryAdd     EventKind = "subscription:entry:add"
	EventSubscriptionEntryDelete  EventKind = "subscription:entry:delete"
	EventTrackingAdd              EventKind = "tracking:add"
	EventTrackingDelete           EventKind = "tracking:delete"
	EventCleanupTask              EventKind = "cleanup:task"
	EventCleanupComplete          EventKind = "cleanup:complete"
	EventError                    EventKind = "error"
)

// Event is the common shape of every payload the bus carries. Kind
// discriminates which of the payload fields below are meaningful.
type Event struct {
	Kind EventKind

	Prefix string
	Id     string
	Entry  *CacheEntry
	Tag    string
	Origin string
	Path   string
	Method string
	Headers map[string][]string

	Task *cleanupTask
	Err  yaerrors.Error
}

// EventBus fans a single stream of Event values out to any number of
// subscribers. Publishing never blocks: a subscriber whose channel is full
// simply misses events, so a slow admin listener can never stall the hot
// path, matching the "never let background failures crash the host" policy.
type EventBus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewEventBus returns an empty, ready-to-use EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener with the given channel buffer size and
// returns the channel to receive from plus an unsubscribe function.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}

	return ch, unsubscribe
}

// Publish delivers ev to every current subscriber, dropping it for
// subscribers whose buffer is full.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
