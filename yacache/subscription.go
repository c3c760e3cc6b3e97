package yacache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/YaCodeDev/yahttpcache/threadsafemap"
	"github.com/YaCodeDev/yahttpcache/yabackoff"
	"github.com/YaCodeDev/yahttpcache/yaerrors"
	"github.com/YaCodeDev/yahttpcache/yalogger"
	"github.com/redis/go-redis/v9"
)

// Subscription owns the two independent subscription clients described in
// §4.6: keyspace notifications for the manager's entry events, and Redis
// client-side tracking invalidations for the local TrackingCache. Each
// reconnects its pub/sub loop with an exponential backoff, grounded on the
// same strategy the rest of the corpus uses for dropped-connection retry
// loops.
type Subscription struct {
	primary  *redis.Client
	logger   yalogger.Logger
	bus      *EventBus
	tracking *TrackingCache

	codec *IdentifierCodec

	prefixes *threadsafemap.ThreadSafeMap[string, struct{}]

	mu                             sync.Mutex
	managerConn                    *redis.Client
	managerPS                      *redis.PubSub
	managerNewConn                 func() *redis.Client
	managerConfigureKeyspaceEvents bool
	trackingConn                   *redis.Client
	trackingPS                     *redis.PubSub
	trackingNewConn                func() *redis.Client
	closed                         bool
}

// NewSubscription returns a Subscription ready to start either plane. The
// client factory for each subscription connection is passed later, to
// SubscribeManager and SubscribeTracking.
func NewSubscription(
	primary *redis.Client,
	bus *EventBus,
	tracking *TrackingCache,
	logger yalogger.Logger,
) *Subscription {
	return &Subscription{
		primary:  primary,
		logger:   logger,
		bus:      bus,
		tracking: tracking,
		codec:    NewIdentifierCodec(),
		prefixes: threadsafemap.NewThreadSafeMap[string, struct{}](),
	}
}

// SubscribeManager starts the manager subscription plane for the given
// prefixes, optionally issuing CONFIG SET notify-keyspace-events AKE first.
func (s *Subscription) SubscribeManager(
	ctx context.Context,
	newConn func() *redis.Client,
	configureKeyspaceEvents bool,
	prefixes ...string,
) yaerrors.Error {
	for _, p := range prefixes {
		s.prefixes.Set(p, struct{}{})
	}

	s.mu.Lock()
	if s.managerPS != nil {
		s.mu.Unlock()

		return nil
	}

	s.managerNewConn = newConn
	s.managerConfigureKeyspaceEvents = configureKeyspaceEvents
	s.mu.Unlock()

	conn, ps, err := s.connectManager(ctx, newConn, configureKeyspaceEvents)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.managerConn = conn
	s.managerPS = ps
	s.mu.Unlock()

	go s.runManagerLoop(ps)

	return nil
}

// connectManager issues the CONFIG SET / PSUBSCRIBE handshake against a
// fresh connection, without touching Subscription state - shared by
// SubscribeManager and the manager reconnect loop.
func (s *Subscription) connectManager(
	ctx context.Context,
	newConn func() *redis.Client,
	configureKeyspaceEvents bool,
) (*redis.Client, *redis.PubSub, yaerrors.Error) {
	conn := newConn()

	if configureKeyspaceEvents {
		if err := conn.ConfigSet(ctx, "notify-keyspace-events", "AKE").Err(); err != nil {
			conn.Close()

			return nil, nil, yaerrors.FromError(
				http.StatusInternalServerError,
				errors.Join(err, ErrFailedToConfigSet),
				"[SUBSCRIPTION] failed to configure keyspace notifications",
			)
		}
	}

	ps := conn.PSubscribe(ctx, "__keyevent@*__:set", "__keyevent@*__:del", "__keyevent@*__:expired")

	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		conn.Close()

		return nil, nil, yaerrors.FromError(
			http.StatusInternalServerError,
			errors.Join(err, ErrFailedToSubscribe),
			"[SUBSCRIPTION] failed to subscribe to keyspace events",
		)
	}

	return conn, ps, nil
}

func (s *Subscription) runManagerLoop(ps *redis.PubSub) {
	for {
		ch := ps.Channel()

		for msg := range ch {
			s.handleManagerMessage(msg)
		}

		s.mu.Lock()
		closed := s.closed
		newConn := s.managerNewConn
		configureKeyspaceEvents := s.managerConfigureKeyspaceEvents
		s.mu.Unlock()

		if closed {
			return
		}

		s.logger.Warn("[SUBSCRIPTION] manager pub/sub channel closed unexpectedly, reconnecting")

		conn, newPS, ok := s.reconnect(func(ctx context.Context) (*redis.Client, *redis.PubSub, yaerrors.Error) {
			return s.connectManager(ctx, newConn, configureKeyspaceEvents)
		})
		if !ok {
			return
		}

		s.mu.Lock()
		s.managerConn = conn
		s.managerPS = newPS
		s.mu.Unlock()

		ps = newPS
	}
}

// reconnect retries connect with an exponential backoff until it succeeds or
// the subscription is closed, returning ok=false in the latter case.
func (s *Subscription) reconnect(
	connect func(ctx context.Context) (*redis.Client, *redis.PubSub, yaerrors.Error),
) (*redis.Client, *redis.PubSub, bool) {
	backoff := yabackoff.NewExponential(
		yabackoff.DefaultInitialInterval,
		yabackoff.DefaultMultiplier,
		yabackoff.DefaultMaxInterval,
		0,
	)

	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return nil, nil, false
		}

		backoff.Wait()

		conn, ps, err := connect(context.Background())
		if err != nil {
			s.logger.Warnf("[SUBSCRIPTION] reconnect attempt failed: %v", err)

			continue
		}

		return conn, ps, true
	}
}

func (s *Subscription) handleManagerMessage(msg *redis.Message) {
	const keyeventPrefix = "__keyevent@"

	if !strings.HasPrefix(msg.Channel, keyeventPrefix) {
		return
	}

	idx := strings.LastIndex(msg.Channel, ":")
	if idx < 0 {
		return
	}

	eventType := msg.Channel[idx+1:]
	key := msg.Payload

	prefix, id, ok := parseMetadataKey(key)
	if !ok {
		return
	}

	if _, known := s.prefixes.Get(prefix); !known {
		return
	}

	switch eventType {
	case "set":
		// Re-fetch before announcing: a fast write-then-delete can leave a
		// stale `set` notification behind the key's actual removal.
		if err := s.primary.Get(context.Background(), key).Err(); err != nil {
			return
		}

		s.bus.Publish(Event{Kind: EventSubscriptionEntryAdd, Prefix: prefix, Id: id})
	case "del", "expired":
		s.bus.Publish(Event{Kind: EventSubscriptionEntryDelete, Prefix: prefix, Id: id})
	}
}

// parseMetadataKey recognizes `P|metadata|id` (or `metadata|id` with no
// prefix) and extracts {prefix, id}.
func parseMetadataKey(key string) (prefix, id string, ok bool) {
	const marker = "metadata|"

	idx := strings.LastIndex(key, marker)
	if idx < 0 {
		return "", "", false
	}

	id = key[idx+len(marker):]

	if idx == 0 {
		return "", id, true
	}

	prefix = strings.TrimSuffix(key[:idx], "|")

	return prefix, id, true
}

// SubscribeTracking starts the client-side-tracking invalidation plane: a
// subscription connection's CLIENT ID is used to redirect the primary
// connection's tracking notifications onto `__redis__:invalidate`.
func (s *Subscription) SubscribeTracking(ctx context.Context, newConn func() *redis.Client) yaerrors.Error {
	s.mu.Lock()
	if s.trackingPS != nil {
		s.mu.Unlock()

		return nil
	}

	s.trackingNewConn = newConn
	s.mu.Unlock()

	conn, ps, err := s.connectTracking(ctx, newConn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.trackingConn = conn
	s.trackingPS = ps
	s.mu.Unlock()

	go s.runTrackingLoop(ps)

	return nil
}

// connectTracking issues the CLIENT ID / CLIENT TRACKING / SUBSCRIBE
// handshake against a fresh connection, without touching Subscription
// state - shared by SubscribeTracking and the tracking reconnect loop.
func (s *Subscription) connectTracking(
	ctx context.Context,
	newConn func() *redis.Client,
) (*redis.Client, *redis.PubSub, yaerrors.Error) {
	conn := newConn()

	subID, err := conn.ClientID(ctx).Result()
	if err != nil {
		conn.Close()

		return nil, nil, yaerrors.FromError(
			http.StatusInternalServerError,
			errors.Join(err, ErrFailedToTrack),
			"[SUBSCRIPTION] failed CLIENT ID on tracking connection",
		)
	}

	if err := s.primary.Do(ctx, "CLIENT", "TRACKING", "ON", "REDIRECT", subID).Err(); err != nil {
		conn.Close()

		return nil, nil, yaerrors.FromError(
			http.StatusInternalServerError,
			errors.Join(err, ErrFailedToTrack),
			"[SUBSCRIPTION] failed CLIENT TRACKING ON",
		)
	}

	ps := conn.Subscribe(ctx, "__redis__:invalidate")

	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		conn.Close()

		return nil, nil, yaerrors.FromError(
			http.StatusInternalServerError,
			errors.Join(err, ErrFailedToSubscribe),
			"[SUBSCRIPTION] failed to subscribe to invalidation channel",
		)
	}

	return conn, ps, nil
}

func (s *Subscription) runTrackingLoop(ps *redis.PubSub) {
	for {
		ch := ps.Channel()

		for msg := range ch {
			s.handleTrackingMessage(msg)
		}

		s.mu.Lock()
		closed := s.closed
		newConn := s.trackingNewConn
		s.mu.Unlock()

		if closed {
			return
		}

		s.logger.Warn("[SUBSCRIPTION] tracking pub/sub channel closed unexpectedly, reconnecting")

		conn, newPS, ok := s.reconnect(func(ctx context.Context) (*redis.Client, *redis.PubSub, yaerrors.Error) {
			return s.connectTracking(ctx, newConn)
		})
		if !ok {
			return
		}

		s.mu.Lock()
		s.trackingConn = conn
		s.trackingPS = newPS
		s.mu.Unlock()

		ps = newPS
	}
}

func (s *Subscription) handleTrackingMessage(msg *redis.Message) {
	// Invalidation messages carry an array of invalidated key names, which
	// go-redis surfaces as PayloadSlice; a single-string Payload is handled
	// too. Every recognized request key in the message is evicted.
	keys := msg.PayloadSlice
	if msg.Payload != "" {
		keys = append(keys, msg.Payload)
	}

	for _, key := range keys {
		prefix, origin, path, method, ok := parseRequestKey(key)
		if !ok {
			continue
		}

		requestKey := trackingRequestKey(prefix, origin, path, method)
		s.tracking.Evict(requestKey)

		s.bus.Publish(Event{
			Kind:   EventTrackingDelete,
			Prefix: prefix,
			Origin: origin,
			Path:   path,
			Method: method,
		})
	}
}

// parseRequestKey recognizes `P|request|origin|path|method`.
func parseRequestKey(key string) (prefix, origin, path, method string, ok bool) {
	const marker = "request|"

	idx := strings.Index(key, marker)
	if idx < 0 {
		return "", "", "", "", false
	}

	if idx > 0 {
		prefix = strings.TrimSuffix(key[:idx], "|")
	}

	rest := key[idx+len(marker):]

	parts := strings.SplitN(rest, "|", 3)
	if len(parts) != 3 {
		return "", "", "", "", false
	}

	return prefix, parts[0], parts[1], parts[2], true
}

// trackingRequestKey builds the logical request key used by TrackingCache,
// per §4.2's `prefix|request|origin|path|method` lookup key.
func trackingRequestKey(prefix, origin, path, method string) string {
	if prefix == "" {
		return "request|" + origin + "|" + path + "|" + method
	}

	return prefix + "|request|" + origin + "|" + path + "|" + method
}

// Close tears down both subscription connections, safe to call multiple
// times.
func (s *Subscription) Close() yaerrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	var firstErr yaerrors.Error

	if s.managerPS != nil {
		if err := s.managerPS.Close(); err != nil && firstErr == nil {
			firstErr = yaerrors.FromError(http.StatusInternalServerError, err, "[SUBSCRIPTION] failed to close manager pubsub")
		}

		s.managerConn.Close()
	}

	if s.trackingPS != nil {
		if err := s.trackingPS.Close(); err != nil && firstErr == nil {
			firstErr = yaerrors.FromError(http.StatusInternalServerError, err, "[SUBSCRIPTION] failed to close tracking pubsub")
		}

		s.trackingConn.Close()
	}

	return firstErr
}
