package yacache

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// CleanupQueue is a single-consumer FIFO of deferred index mutations
// discovered on the read/delete hot paths but too expensive to apply inline.
// It runs on its own goroutine against the secondary Redis connection so hot
// path pipelining is never blocked by cleanup I/O, per §4.7 and §5.
type CleanupQueue struct {
	client *redis.Client
	bus    *EventBus

	mu      sync.Mutex
	tasks   []cleanupTask
	armed   bool
	closed  bool
	drained chan struct{}
}

// NewCleanupQueue returns a CleanupQueue that issues its commands against
// client and reports progress on bus.
func NewCleanupQueue(client *redis.Client, bus *EventBus) *CleanupQueue {
	return &CleanupQueue{
		client:  client,
		bus:     bus,
		drained: make(chan struct{}, 1),
	}
}

// Enqueue appends a task and arms the background turn if one is not already
// running. scheduleCleanup in the source becomes this single-flight arm.
func (q *CleanupQueue) Enqueue(task cleanupTask) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.tasks = append(q.tasks, task)

	if !q.armed {
		q.armed = true
		go q.run()
	}
}

// run executes tasks one at a time on a single goroutine, looping until the
// queue is empty, emitting cleanup:task per task and cleanup:complete once it
// runs dry. The goroutine exits when the queue empties; the next Enqueue
// starts a new one.
func (q *CleanupQueue) run() {
	for {
		q.mu.Lock()

		if len(q.tasks) == 0 {
			q.armed = false
			q.mu.Unlock()

			q.bus.Publish(Event{Kind: EventCleanupComplete})

			select {
			case q.drained <- struct{}{}:
			default:
			}

			return
		}

		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.bus.Publish(Event{Kind: EventCleanupTask, Task: &task})
		q.execute(task)
	}
}

func (q *CleanupQueue) execute(task cleanupTask) {
	ctx := context.Background()

	switch task.Kind {
	case cleanupTaskMap:
		if len(task.Members) == 0 {
			return
		}

		members := make([]any, len(task.Members))
		for i, m := range task.Members {
			members[i] = m
		}

		q.client.ZRem(ctx, task.SetKey, members...)

	case cleanupTaskTags:
		for _, tag := range task.Tags {
			kb := NewKeyBuilder(task.Prefix)

			card, err := q.client.ZCard(ctx, kb.TagIndex(tag)).Result()
			if err == nil && card == 0 {
				q.client.ZRem(ctx, kb.Tags(), tag)
			}
		}

	case cleanupTaskKey:
		kb := NewKeyBuilder(task.Prefix)
		requestKey := kb.Request(task.Origin, task.Path, task.Method)

		card, err := q.client.ZCard(ctx, requestKey).Result()
		if err == nil && card == 0 {
			requestsKey := kb.Requests(task.Origin, task.Path)
			q.client.ZRem(ctx, requestsKey, task.Method)

			methodCount, err := q.client.ZCard(ctx, requestsKey).Result()
			if err == nil && methodCount == 0 {
				q.client.ZRem(ctx, kb.Routes(), RouteMember(task.Origin, task.Path))
			}
		}
	}
}

// Drain blocks until the queue has no pending or in-flight work. Close uses
// this to ensure the queue is fully flushed before disconnecting Redis.
func (q *CleanupQueue) Drain() {
	for {
		q.mu.Lock()
		empty := len(q.tasks) == 0 && !q.armed
		q.mu.Unlock()

		if empty {
			return
		}

		<-q.drained
	}
}

// Close marks the queue closed; no further tasks are accepted. It does not
// itself drain: Engine.Close calls Drain right after Close, so tasks already
// queued still run.
func (q *CleanupQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
