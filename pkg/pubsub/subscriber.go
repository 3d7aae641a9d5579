/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
)

const defaultRecoveryTimeout = 2 * time.Second

// SubscriberConfig tunes miss recovery and presence watching.
type SubscriberConfig struct {
	KeyPrefix       string          `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
	PresenceBucket  string          `json:"presence_bucket,omitempty" yaml:"presence_bucket,omitempty"`
	PresenceTTL     models.Duration `json:"presence_ttl,omitempty" yaml:"presence_ttl,omitempty"`
	RecoveryTimeout models.Duration `json:"recovery_timeout,omitempty" yaml:"recovery_timeout,omitempty"`
	DisableRecovery bool            `json:"disable_recovery,omitempty" yaml:"disable_recovery,omitempty"`
}

func (c *SubscriberConfig) ApplyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = models.DefaultKeyPrefix
	}

	if c.PresenceBucket == "" {
		c.PresenceBucket = DefaultPresenceBucket
	}

	if c.PresenceTTL <= 0 {
		c.PresenceTTL = models.Duration(defaultLivelinessTTL)
	}

	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = models.Duration(defaultRecoveryTimeout)
	}
}

// Sample is one decoded delivery.
type Sample struct {
	Key       string
	Point     *models.TelemetryPoint
	Publisher string
	Seq       uint64
	// Recovered marks samples fetched from a replay cache after a detected gap.
	Recovered bool
}

// Handler receives samples. Live and recovered samples may be delivered from
// different goroutines.
type Handler func(Sample)

// SubscriberStats is a snapshot of subscriber counters.
type SubscriberStats struct {
	Received     uint64 `json:"received"`
	DecodeErrors uint64 `json:"decode_errors"`
	Missed       uint64 `json:"missed"`
	Recovered    uint64 `json:"recovered"`
}

// PresenceEvent reports a presence marker appearing, being refreshed or going
// away. Refresh is set on keepalive writes of a marker that was already online.
type PresenceEvent struct {
	Key      string
	DeviceID string
	Bridge   string
	Online   bool
	Refresh  bool
	Time     time.Time
}

type streamID struct {
	publisher string
	subject   string
}

// Subscriber consumes samples published by AdvancedPublishers.
type Subscriber struct {
	session *Session
	config  SubscriberConfig
	logger  logger.Logger

	mu     sync.Mutex
	last   map[streamID]uint64
	subs   []*nats.Subscription
	closed bool

	received     atomic.Uint64
	decodeErrors atomic.Uint64
	missed       atomic.Uint64
	recovered    atomic.Uint64

	wg sync.WaitGroup
}

// NewSubscriber acquires a reference on session for the subscriber's lifetime.
func NewSubscriber(session *Session, cfg SubscriberConfig, log logger.Logger) (*Subscriber, error) {
	cfg.ApplyDefaults()

	if _, err := session.Acquire(); err != nil {
		return nil, err
	}

	return &Subscriber{
		session: session,
		config:  cfg,
		logger:  log,
		last:    make(map[streamID]uint64),
	}, nil
}

// Subscribe delivers every sample whose key matches keyExpr to handler.
func (s *Subscriber) Subscribe(keyExpr string, handler Handler) error {
	subject, err := KeyToSubject(keyExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSubscriberClosed
	}

	conn := s.session.Conn()

	dataSub, err := conn.Subscribe(subject, func(msg *nats.Msg) { s.handleSample(msg, handler) })
	if err != nil {
		return fmt.Errorf("%w: subscribe %s: %w", ErrTransport, keyExpr, err)
	}

	hbSub, err := conn.Subscribe(heartbeatSubject(subject), func(msg *nats.Msg) { s.handleHeartbeat(msg, handler) })
	if err != nil {
		_ = dataSub.Unsubscribe()

		return fmt.Errorf("%w: subscribe heartbeat %s: %w", ErrTransport, keyExpr, err)
	}

	s.subs = append(s.subs, dataSub, hbSub)

	s.logger.Info().Str("key_expr", keyExpr).Str("subject", subject).Msg("Subscribed")

	return nil
}

func (s *Subscriber) handleSample(msg *nats.Msg, handler Handler) {
	key, err := SubjectToKey(msg.Subject)
	if err != nil {
		s.received.Add(1)
		s.decodeErrors.Add(1)

		return
	}

	// Status records share the wildcard namespace but are not telemetry.
	if parsed, ok := models.ParseKeyWithPrefix(s.config.KeyPrefix, key); ok && parsed.IsAdmin() {
		return
	}

	s.received.Add(1)

	point, err := decodeWithHeader(msg.Data, msg.Header.Get(HeaderFormat))
	if err != nil {
		s.decodeErrors.Add(1)
		s.logger.Debug().Err(err).Str("key", key).Msg("Dropping undecodable sample")

		return
	}

	publisher := msg.Header.Get(HeaderPublisher)
	seq, _ := strconv.ParseUint(msg.Header.Get(HeaderSeq), 10, 64)

	if publisher != "" && seq > 0 {
		s.track(streamID{publisher: publisher, subject: msg.Subject}, key, seq, true, handler)
	}

	handler(Sample{Key: key, Point: point, Publisher: publisher, Seq: seq})
}

func (s *Subscriber) handleHeartbeat(msg *nats.Msg, handler Handler) {
	publisher := msg.Header.Get(HeaderPublisher)
	seq, err := strconv.ParseUint(msg.Header.Get(HeaderSeq), 10, 64)

	if publisher == "" || err != nil {
		return
	}

	subject := msg.Subject[len(heartbeatSubjectPrefix):]

	key, err := SubjectToKey(subject)
	if err != nil {
		return
	}

	s.track(streamID{publisher: publisher, subject: subject}, key, seq, false, handler)
}

// track advances the last seen sequence of a stream. A sample at seq means
// seq itself was received; a heartbeat at seq means seq was published.
func (s *Subscriber) track(id streamID, key string, seq uint64, delivered bool, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, known := s.last[id]
	if known && seq <= last {
		return
	}

	s.last[id] = seq

	if !known {
		return
	}

	from, to := last+1, seq
	if delivered {
		to = seq - 1
	}

	if to < from {
		return
	}

	s.missed.Add(to - from + 1)

	s.logger.Debug().Str("key", key).Str("publisher_id", id.publisher).
		Uint64("from", from).Uint64("to", to).Msg("Sample gap detected")

	if s.config.DisableRecovery || s.closed {
		return
	}

	s.wg.Add(1)

	go s.recover(id, key, from, to, handler)
}

func (s *Subscriber) recover(id streamID, key string, from, to uint64, handler Handler) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.config.RecoveryTimeout))
	defer cancel()

	samples, format, err := s.queryCache(ctx, id.subject, id.publisher, from-1)
	if err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("Replay cache query failed")

		return
	}

	for _, cached := range samples {
		if cached.Seq < from || cached.Seq > to {
			continue
		}

		point, err := decodeWithHeader(cached.Payload, format)
		if err != nil {
			s.decodeErrors.Add(1)

			continue
		}

		handler(Sample{Key: key, Point: point, Publisher: id.publisher, Seq: cached.Seq, Recovered: true})

		s.recovered.Add(1)
	}
}

// QueryCache asks the publishers of key for cached samples newer than since.
// An empty publisher lets the first responder answer.
func (s *Subscriber) QueryCache(ctx context.Context, key, publisher string, since uint64) ([]CachedSample, error) {
	subject, err := KeyToSubject(key)
	if err != nil {
		return nil, err
	}

	samples, _, err := s.queryCache(ctx, subject, publisher, since)

	return samples, err
}

func (s *Subscriber) queryCache(ctx context.Context, subject, publisher string, since uint64) ([]CachedSample, string, error) {
	req, err := cbor.Marshal(cacheQuery{Publisher: publisher, Since: since})
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrCacheQuery, err)
	}

	msg, err := s.session.Conn().RequestWithContext(ctx, cacheSubject(subject), req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrCacheQuery, subject, err)
	}

	var reply cacheReply
	if err := cbor.Unmarshal(msg.Data, &reply); err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrCacheQuery, subject, err)
	}

	return reply.Samples, reply.Format, nil
}

// DiscoverPublishers collects detection replies for keyExpr until window elapses.
func (s *Subscriber) DiscoverPublishers(ctx context.Context, keyExpr string, window time.Duration) ([]PublisherInfo, error) {
	pattern, err := KeyToSubject(keyExpr)
	if err != nil {
		return nil, err
	}

	root := detectSubject(pattern)
	if root == detectSubjectPrefix+subjectWildcard || root == detectSubjectPrefix+subjectFullWild {
		return nil, fmt.Errorf("%w: discovery needs a concrete first segment: %s", ErrInvalidKey, keyExpr)
	}

	req, err := cbor.Marshal(detectQuery{Pattern: pattern})
	if err != nil {
		return nil, err
	}

	conn := s.session.Conn()
	inbox := conn.NewRespInbox()

	sub, err := conn.SubscribeSync(inbox)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	defer func() { _ = sub.Unsubscribe() }()

	if err := conn.PublishRequest(root, inbox, req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var found []PublisherInfo

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return found, nil
			}

			return found, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		var info PublisherInfo
		if err := cbor.Unmarshal(msg.Data, &info); err != nil {
			continue
		}

		found = append(found, info)
	}
}

// WatchPresence streams presence events of protocol. Markers that are not
// refreshed within the presence TTL are reported offline by a local sweep. The
// channel closes when ctx is done.
func (s *Subscriber) WatchPresence(ctx context.Context, protocol models.Protocol) (<-chan PresenceEvent, error) {
	kv, err := s.session.JetStream().KeyValue(ctx, s.config.PresenceBucket)
	if err != nil {
		return nil, fmt.Errorf("%w: presence bucket %s: %w", ErrTransport, s.config.PresenceBucket, err)
	}

	watcher, err := kv.Watch(ctx, PresenceKeyFilter(s.config.KeyPrefix, protocol))
	if err != nil {
		return nil, fmt.Errorf("%w: watch presence: %w", ErrTransport, err)
	}

	events := make(chan PresenceEvent, 16)
	w := &presenceWatch{
		subscriber: s,
		keyExpr:    models.NewKeyExprWithPrefix(s.config.KeyPrefix, protocol),
		ttl:        time.Duration(s.config.PresenceTTL),
		seen:       make(map[string]presenceState),
		events:     events,
	}

	go w.run(ctx, watcher)

	return events, nil
}

type presenceState struct {
	event   PresenceEvent
	updated time.Time
}

type presenceWatch struct {
	subscriber *Subscriber
	keyExpr    models.KeyExpr
	ttl        time.Duration
	seen       map[string]presenceState
	events     chan PresenceEvent
	synced     bool
}

func (w *presenceWatch) run(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer close(w.events)
	defer func() { _ = watcher.Stop() }()

	sweep := time.NewTicker(w.ttl / 2)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}

			if entry == nil {
				w.synced = true

				continue
			}

			if !w.apply(ctx, entry) {
				return
			}
		case now := <-sweep.C:
			if !w.sweep(ctx, now) {
				return
			}
		}
	}
}

func (w *presenceWatch) apply(ctx context.Context, entry jetstream.KeyValueEntry) bool {
	target, err := parsePresenceKey(entry.Key())
	if err != nil {
		return true
	}

	ev := PresenceEvent{DeviceID: target.deviceID, Time: entry.Created()}
	if target.bridge {
		ev.Key = w.keyExpr.BridgeAliveKey()
	} else {
		ev.Key = w.keyExpr.DeviceAliveKey(target.deviceID)
	}

	switch entry.Operation() {
	case jetstream.KeyValuePut:
		var rec PresenceRecord
		if err := json.Unmarshal(entry.Value(), &rec); err == nil {
			ev.Bridge = rec.Bridge
		}

		ev.Online = true

		_, ev.Refresh = w.seen[entry.Key()]
		w.seen[entry.Key()] = presenceState{event: ev, updated: time.Now()}
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		prev, known := w.seen[entry.Key()]
		if !w.synced && !known {
			return true
		}

		delete(w.seen, entry.Key())

		ev.Bridge = prev.event.Bridge
	}

	return w.emit(ctx, ev)
}

func (w *presenceWatch) sweep(ctx context.Context, now time.Time) bool {
	for key, state := range w.seen {
		if now.Sub(state.updated) <= w.ttl {
			continue
		}

		delete(w.seen, key)

		ev := state.event
		ev.Online = false
		ev.Refresh = false
		ev.Time = now

		w.subscriber.logger.Debug().Str("key", ev.Key).Msg("Presence marker expired")

		if !w.emit(ctx, ev) {
			return false
		}
	}

	return true
}

func (w *presenceWatch) emit(ctx context.Context, ev PresenceEvent) bool {
	select {
	case w.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Subscriber) Stats() SubscriberStats {
	return SubscriberStats{
		Received:     s.received.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		Missed:       s.missed.Load(),
		Recovered:    s.recovered.Load(),
	}
}

// Close unsubscribes, waits for in-flight recoveries and releases the session.
func (s *Subscriber) Close() {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return
	}

	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug().Err(err).Str("subject", sub.Subject).Msg("Unsubscribe failed")
		}
	}

	s.wg.Wait()
	s.session.Release()
}

func decodeWithHeader(data []byte, format string) (*models.TelemetryPoint, error) {
	if format == "" {
		return models.DecodeAuto(data)
	}

	f, err := models.ParseFormat(format)
	if err != nil {
		return models.DecodeAuto(data)
	}

	return models.Decode(data, f)
}
