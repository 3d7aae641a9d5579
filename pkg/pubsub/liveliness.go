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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
)

const (
	DefaultPresenceBucket = "zensight_presence"
	defaultLivelinessTTL  = 30 * time.Second

	presenceBridgeToken  = "bridge"
	presenceDevicesToken = "devices"
)

// LivelinessConfig selects the presence bucket and marker lifetime.
type LivelinessConfig struct {
	KeyPrefix string          `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
	Bucket    string          `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	TTL       models.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

func (c *LivelinessConfig) ApplyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = models.DefaultKeyPrefix
	}

	if c.Bucket == "" {
		c.Bucket = DefaultPresenceBucket
	}

	if c.TTL == 0 {
		c.TTL = models.Duration(defaultLivelinessTTL)
	}
}

func (c *LivelinessConfig) Validate() error {
	if c.TTL <= 0 {
		return errInvalidTTL
	}

	return nil
}

// PresenceRecord is the value stored under a presence marker.
type PresenceRecord struct {
	Bridge    string          `json:"bridge"`
	Protocol  models.Protocol `json:"protocol"`
	DeviceID  string          `json:"device_id,omitempty"`
	Instance  string          `json:"instance"`
	Since     time.Time       `json:"since"`
	Refreshed time.Time       `json:"refreshed"`
}

type deviceMarker struct {
	since time.Time
	gen   uint64
}

// LivelinessManager owns the presence markers of one bridge: its own marker and
// one per reachable device.
type LivelinessManager struct {
	session  *Session
	kv       jetstream.KeyValue
	keyExpr  models.KeyExpr
	bridge   string
	ttl      time.Duration
	logger   logger.Logger
	bridgeAt time.Time

	mu       sync.RWMutex
	devices  map[string]deviceMarker
	gen      uint64
	closed   bool
	inflight sync.WaitGroup

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLivelinessManager opens the presence bucket, declares the bridge marker and
// starts the keepalive loop.
func NewLivelinessManager(ctx context.Context, session *Session, bridge string, protocol models.Protocol,
	cfg LivelinessConfig, log logger.Logger) (*LivelinessManager, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	kv, err := openPresenceBucket(ctx, session.JetStream(), cfg.Bucket, time.Duration(cfg.TTL))
	if err != nil {
		return nil, err
	}

	if _, err := session.Acquire(); err != nil {
		return nil, err
	}

	m := &LivelinessManager{
		session:  session,
		kv:       kv,
		keyExpr:  models.NewKeyExprWithPrefix(cfg.KeyPrefix, protocol),
		bridge:   bridge,
		ttl:      time.Duration(cfg.TTL),
		logger:   log,
		bridgeAt: time.Now(),
		devices:  make(map[string]deviceMarker),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := m.put(ctx, m.bridgeMarker(), "", m.bridgeAt); err != nil {
		session.Release()

		return nil, err
	}

	go m.keepalive()

	m.logger.Info().Str("bridge", bridge).Str("key", m.keyExpr.BridgeAliveKey()).
		Dur("ttl", m.ttl).Msg("Bridge presence declared")

	return m, nil
}

func openPresenceBucket(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "zensight presence markers",
		History:     1,
		TTL:         ttl,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open presence bucket %s: %w", ErrTransport, bucket, err)
	}

	return kv, nil
}

// DeclareDeviceAlive publishes a presence marker for deviceID. Declaring an
// already alive device, or any device after Close, is a no-op.
func (m *LivelinessManager) DeclareDeviceAlive(ctx context.Context, deviceID string) error {
	m.mu.Lock()

	if _, ok := m.devices[deviceID]; ok || m.closed {
		m.mu.Unlock()

		return nil
	}

	m.gen++
	state := deviceMarker{since: time.Now(), gen: m.gen}
	m.devices[deviceID] = state
	m.inflight.Add(1)
	m.mu.Unlock()

	defer m.inflight.Done()

	if err := m.put(ctx, m.deviceMarkerKey(deviceID), deviceID, state.since); err != nil {
		m.mu.Lock()
		if cur, ok := m.devices[deviceID]; ok && cur.gen == state.gen {
			delete(m.devices, deviceID)
		}
		m.mu.Unlock()

		return err
	}

	if err := m.settle(ctx, deviceID, true); err != nil {
		return err
	}

	m.logger.Debug().Str("device_id", deviceID).Msg("Device presence declared")

	return nil
}

// UndeclareDevice removes the device marker; watchers see an explicit offline event.
func (m *LivelinessManager) UndeclareDevice(ctx context.Context, deviceID string) error {
	m.mu.Lock()

	if _, ok := m.devices[deviceID]; !ok || m.closed {
		m.mu.Unlock()

		return nil
	}

	delete(m.devices, deviceID)
	m.inflight.Add(1)
	m.mu.Unlock()

	defer m.inflight.Done()

	if err := m.delete(ctx, m.deviceMarkerKey(deviceID)); err != nil {
		return err
	}

	if err := m.settle(ctx, deviceID, false); err != nil {
		return err
	}

	m.logger.Debug().Str("device_id", deviceID).Msg("Device presence withdrawn")

	return nil
}

// settle reconciles the marker of deviceID with the declared set after a write
// left it online or not. KV writes run outside the lock, so the writer whose
// write lands last observes the final state and corrects the marker.
func (m *LivelinessManager) settle(ctx context.Context, deviceID string, online bool) error {
	for {
		m.mu.RLock()
		state, alive := m.devices[deviceID]
		m.mu.RUnlock()

		if alive == online {
			return nil
		}

		var err error
		if alive {
			err = m.put(ctx, m.deviceMarkerKey(deviceID), deviceID, state.since)
		} else {
			err = m.delete(ctx, m.deviceMarkerKey(deviceID))
		}

		if err != nil {
			return err
		}

		online = alive
	}
}

func (m *LivelinessManager) IsDeviceAlive(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.devices[deviceID]

	return ok
}

// AliveDevices returns the declared devices in sorted order.
func (m *LivelinessManager) AliveDevices() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.devices))

	for id := range m.devices {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)

	return ids
}

func (m *LivelinessManager) keepalive() {
	defer close(m.done)

	ticker := time.NewTicker(m.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.refresh()
		}
	}
}

func (m *LivelinessManager) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), m.ttl/3)
	defer cancel()

	if err := m.put(ctx, m.bridgeMarker(), "", m.bridgeAt); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to refresh bridge presence")
	}

	m.mu.RLock()
	devices := make(map[string]time.Time, len(m.devices))

	for id, state := range m.devices {
		devices[id] = state.since
	}
	m.mu.RUnlock()

	for id, since := range devices {
		err := m.put(ctx, m.deviceMarkerKey(id), id, since)
		if err == nil {
			err = m.settle(ctx, id, true)
		}

		if err != nil {
			m.logger.Warn().Err(err).Str("device_id", id).Msg("Failed to refresh device presence")
		}
	}
}

func (m *LivelinessManager) put(ctx context.Context, marker, deviceID string, since time.Time) error {
	data, err := json.Marshal(PresenceRecord{
		Bridge:    m.bridge,
		Protocol:  m.keyExpr.Protocol(),
		DeviceID:  deviceID,
		Instance:  m.session.ID(),
		Since:     since,
		Refreshed: time.Now(),
	})
	if err != nil {
		return err
	}

	if _, err := m.kv.Put(ctx, marker, data); err != nil {
		return fmt.Errorf("%w: failed to put presence %s: %w", ErrTransport, marker, err)
	}

	return nil
}

func (m *LivelinessManager) delete(ctx context.Context, marker string) error {
	if err := m.kv.Delete(ctx, marker); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("%w: failed to delete presence %s: %w", ErrTransport, marker, err)
	}

	return nil
}

func (m *LivelinessManager) bridgeMarker() string {
	return presenceKey(m.keyExpr.Prefix(), m.keyExpr.Protocol(), presenceBridgeToken)
}

func (m *LivelinessManager) deviceMarkerKey(deviceID string) string {
	return presenceKey(m.keyExpr.Prefix(), m.keyExpr.Protocol(), presenceDevicesToken, escapeKVToken(deviceID))
}

// Close withdraws every marker and releases the session reference.
func (m *LivelinessManager) Close(ctx context.Context) error {
	var err error

	m.closeOnce.Do(func() {
		close(m.stop)
		<-m.done

		m.mu.Lock()
		m.closed = true
		devices := m.devices
		m.devices = make(map[string]deviceMarker)
		m.mu.Unlock()

		// Declarations already in flight settle against the emptied set.
		m.inflight.Wait()

		var errs []error

		for id := range devices {
			errs = append(errs, m.delete(ctx, m.deviceMarkerKey(id)))
		}

		errs = append(errs, m.delete(ctx, m.bridgeMarker()))
		err = errors.Join(errs...)

		m.session.Release()

		m.logger.Info().Str("bridge", m.bridge).Int("devices", len(devices)).Msg("Bridge presence withdrawn")
	})

	return err
}

// presenceKey builds a KV key: <prefix>.<protocol>.bridge or <prefix>.<protocol>.devices.<id>.
func presenceKey(prefix string, protocol models.Protocol, tokens ...string) string {
	return strings.Join(append([]string{escapeKVToken(prefix), string(protocol)}, tokens...), ".")
}

// PresenceKeyFilter matches every marker of protocol under prefix.
func PresenceKeyFilter(prefix string, protocol models.Protocol) string {
	return presenceKey(prefix, protocol, ">")
}

type presenceTarget struct {
	protocol models.Protocol
	deviceID string
	bridge   bool
}

func parsePresenceKey(key string) (presenceTarget, error) {
	tokens := strings.Split(key, ".")

	if len(tokens) < 3 {
		return presenceTarget{}, fmt.Errorf("%w: %s", errBadPresenceKey, key)
	}

	protocol, err := models.ParseProtocol(tokens[1])
	if err != nil {
		return presenceTarget{}, fmt.Errorf("%w: %s", errBadPresenceKey, key)
	}

	switch {
	case len(tokens) == 3 && tokens[2] == presenceBridgeToken:
		return presenceTarget{protocol: protocol, bridge: true}, nil
	case len(tokens) == 4 && tokens[2] == presenceDevicesToken:
		id, err := unescapeKVToken(tokens[3])
		if err != nil {
			return presenceTarget{}, fmt.Errorf("%w: %s", errBadPresenceKey, key)
		}

		return presenceTarget{protocol: protocol, deviceID: id}, nil
	}

	return presenceTarget{}, fmt.Errorf("%w: %s", errBadPresenceKey, key)
}

func isKVSafe(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}

// escapeKVToken keeps [A-Za-z0-9_-] and writes every other byte as =XX.
func escapeKVToken(s string) string {
	var b strings.Builder

	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if isKVSafe(c) {
			b.WriteByte(c)

			continue
		}

		b.WriteByte('=')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}

	return b.String()
}

func unescapeKVToken(s string) (string, error) {
	var b strings.Builder

	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] != '=' {
			b.WriteByte(s[i])

			continue
		}

		if i+2 >= len(s) {
			return "", errBadEscape
		}

		hi, ok1 := fromHex(s[i+1])
		lo, ok2 := fromHex(s[i+2])

		if !ok1 || !ok2 {
			return "", errBadEscape
		}

		b.WriteByte(hi<<4 | lo)

		i += 2
	}

	return b.String(), nil
}
