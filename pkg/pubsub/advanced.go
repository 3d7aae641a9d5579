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
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/nats-io/nats.go"

	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
)

const (
	HeaderSeq       = "Zensight-Seq"
	HeaderFormat    = "Zensight-Format"
	HeaderPublisher = "Zensight-Publisher"
)

// CachedSample is one entry of a publisher's replay cache.
type CachedSample struct {
	Seq       uint64 `cbor:"1,keyasint"`
	Timestamp int64  `cbor:"2,keyasint"`
	Payload   []byte `cbor:"3,keyasint"`
}

type cacheQuery struct {
	Publisher string `cbor:"1,keyasint,omitempty"`
	Since     uint64 `cbor:"2,keyasint"`
}

type cacheReply struct {
	Publisher string         `cbor:"1,keyasint"`
	Format    string         `cbor:"2,keyasint"`
	Samples   []CachedSample `cbor:"3,keyasint"`
}

// PublisherInfo is a detection reply.
type PublisherInfo struct {
	ID  string `cbor:"1,keyasint" json:"id"`
	Key string `cbor:"2,keyasint" json:"key"`
	Seq uint64 `cbor:"3,keyasint" json:"seq"`
}

type detectQuery struct {
	Pattern string `cbor:"1,keyasint"`
}

// AdvancedPublisherConfig tunes one AdvancedPublisher.
type AdvancedPublisherConfig struct {
	Format            models.Format
	CacheSize         int
	HeartbeatInterval time.Duration
	Detection         bool
}

// AdvancedPublisher publishes on one key with sequence numbers, a bounded replay
// cache, periodic heartbeats and an optional detection responder.
type AdvancedPublisher struct {
	conn    *nats.Conn
	key     string
	subject string
	id      string
	config  AdvancedPublisherConfig
	logger  logger.Logger

	mu     sync.Mutex
	seq    uint64
	cache  []CachedSample
	next   int
	filled bool
	closed bool

	subs []*nats.Subscription
	stop chan struct{}
	done chan struct{}
}

// NewAdvancedPublisher declares a publisher on key. The caller keeps ownership of
// the session reference.
func NewAdvancedPublisher(session *Session, key string, cfg AdvancedPublisherConfig, log logger.Logger) (*AdvancedPublisher, error) {
	if cfg.CacheSize < 0 {
		return nil, errNegativeCache
	}

	subject, err := KeyToSubject(key)
	if err != nil {
		return nil, err
	}

	p := &AdvancedPublisher{
		conn:    session.Conn(),
		key:     key,
		subject: subject,
		id:      session.ID() + "/" + strconv.FormatUint(publisherSeq.Add(1), 10),
		config:  cfg,
		logger:  log,
		cache:   make([]CachedSample, cfg.CacheSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if cfg.CacheSize > 0 {
		sub, err := p.conn.Subscribe(cacheSubject(subject), p.handleCacheQuery)
		if err != nil {
			return nil, fmt.Errorf("%w: cache responder for %s: %w", ErrTransport, key, err)
		}

		p.subs = append(p.subs, sub)
	}

	if cfg.Detection {
		sub, err := p.conn.Subscribe(detectSubject(subject), p.handleDetect)
		if err != nil {
			p.unsubscribe()

			return nil, fmt.Errorf("%w: detection responder for %s: %w", ErrTransport, key, err)
		}

		p.subs = append(p.subs, sub)
	}

	if cfg.HeartbeatInterval > 0 {
		go p.heartbeatLoop()
	} else {
		close(p.done)
	}

	return p, nil
}

func (p *AdvancedPublisher) Key() string { return p.key }

func (p *AdvancedPublisher) ID() string { return p.id }

// Seq returns the sequence number of the last sample put.
func (p *AdvancedPublisher) Seq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.seq
}

// Put assigns the next sequence number, caches the payload and sends it. The
// send is never retried.
func (p *AdvancedPublisher) Put(payload []byte) error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrPublisherClosed, p.key)
	}

	p.seq++
	seq := p.seq
	p.remember(CachedSample{Seq: seq, Timestamp: time.Now().UnixMilli(), Payload: payload})
	p.mu.Unlock()

	msg := nats.NewMsg(p.subject)
	msg.Data = payload
	msg.Header.Set(HeaderSeq, strconv.FormatUint(seq, 10))
	msg.Header.Set(HeaderFormat, p.config.Format.String())
	msg.Header.Set(HeaderPublisher, p.id)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublish, p.key, err)
	}

	return nil
}

// remember stores s in the ring, dropping the oldest entry when full. Caller holds mu.
func (p *AdvancedPublisher) remember(s CachedSample) {
	if len(p.cache) == 0 {
		return
	}

	p.cache[p.next] = s
	p.next = (p.next + 1) % len(p.cache)

	if p.next == 0 {
		p.filled = true
	}
}

// cached returns samples newer than since, oldest first.
func (p *AdvancedPublisher) cached(since uint64) []CachedSample {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ordered []CachedSample

	if p.filled {
		ordered = append(ordered, p.cache[p.next:]...)
	}

	ordered = append(ordered, p.cache[:p.next]...)

	out := make([]CachedSample, 0, len(ordered))

	for _, s := range ordered {
		if s.Seq > since {
			out = append(out, s)
		}
	}

	return out
}

func (p *AdvancedPublisher) handleCacheQuery(msg *nats.Msg) {
	var q cacheQuery

	if len(msg.Data) > 0 {
		if err := cbor.Unmarshal(msg.Data, &q); err != nil {
			p.logger.Debug().Err(err).Str("key", p.key).Msg("Ignoring malformed cache query")

			return
		}
	}

	if q.Publisher != "" && q.Publisher != p.id {
		return
	}

	data, err := cbor.Marshal(cacheReply{
		Publisher: p.id,
		Format:    p.config.Format.String(),
		Samples:   p.cached(q.Since),
	})
	if err != nil {
		p.logger.Error().Err(err).Str("key", p.key).Msg("Failed to encode cache reply")

		return
	}

	if err := msg.Respond(data); err != nil {
		p.logger.Debug().Err(err).Str("key", p.key).Msg("Failed to answer cache query")
	}
}

func (p *AdvancedPublisher) handleDetect(msg *nats.Msg) {
	var q detectQuery

	if err := cbor.Unmarshal(msg.Data, &q); err != nil || !subjectMatches(q.Pattern, p.subject) {
		return
	}

	data, err := cbor.Marshal(PublisherInfo{ID: p.id, Key: p.key, Seq: p.Seq()})
	if err != nil {
		return
	}

	if err := msg.Respond(data); err != nil {
		p.logger.Debug().Err(err).Str("key", p.key).Msg("Failed to answer detection query")
	}
}

func (p *AdvancedPublisher) heartbeatLoop() {
	defer close(p.done)

	ticker := time.NewTicker(p.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.heartbeat()
		}
	}
}

func (p *AdvancedPublisher) heartbeat() {
	seq := p.Seq()
	if seq == 0 {
		return
	}

	msg := nats.NewMsg(heartbeatSubject(p.subject))
	msg.Header.Set(HeaderSeq, strconv.FormatUint(seq, 10))
	msg.Header.Set(HeaderPublisher, p.id)

	if err := p.conn.PublishMsg(msg); err != nil {
		p.logger.Debug().Err(err).Str("key", p.key).Msg("Heartbeat failed")
	}
}

func (p *AdvancedPublisher) unsubscribe() {
	for _, sub := range p.subs {
		if err := sub.Unsubscribe(); err != nil {
			p.logger.Debug().Err(err).Str("subject", sub.Subject).Msg("Unsubscribe failed")
		}
	}

	p.subs = nil
}

// Close stops the heartbeat and the responders. It is safe to call more than once.
func (p *AdvancedPublisher) Close() {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return
	}

	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	<-p.done

	p.unsubscribe()
}

//nolint:gochecknoglobals // process wide publisher numbering
var publisherSeq atomic.Uint64
