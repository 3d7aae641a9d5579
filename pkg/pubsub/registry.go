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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
)

const (
	meterName = "github.com/p13marc/zensight-sub001/pkg/pubsub"

	defaultCacheSize         = 16
	defaultHeartbeatInterval = 5 * time.Second
)

// PublisherConfig applies to every publisher a Registry creates.
type PublisherConfig struct {
	KeyPrefix         string          `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
	Format            models.Format   `json:"format,omitempty" yaml:"format,omitempty"`
	CacheSize         int             `json:"cache_size,omitempty" yaml:"cache_size,omitempty"`
	HeartbeatInterval models.Duration `json:"heartbeat_interval,omitempty" yaml:"heartbeat_interval,omitempty"`
	Detection         *bool           `json:"detection,omitempty" yaml:"detection,omitempty"`
}

// ApplyDefaults fills zero values in place. A negative heartbeat interval disables heartbeats.
func (c *PublisherConfig) ApplyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = models.DefaultKeyPrefix
	}

	if c.CacheSize == 0 {
		c.CacheSize = defaultCacheSize
	}

	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = models.Duration(defaultHeartbeatInterval)
	}

	if c.Detection == nil {
		enabled := true
		c.Detection = &enabled
	}
}

func (c *PublisherConfig) Validate() error {
	if c.CacheSize < 0 {
		return errNegativeCache
	}

	return nil
}

func (c *PublisherConfig) advanced() AdvancedPublisherConfig {
	cfg := AdvancedPublisherConfig{
		Format:    c.Format,
		CacheSize: c.CacheSize,
		Detection: c.Detection != nil && *c.Detection,
	}

	if c.HeartbeatInterval > 0 {
		cfg.HeartbeatInterval = time.Duration(c.HeartbeatInterval)
	}

	return cfg
}

// BatchResult summarizes a PublishBatch call.
type BatchResult struct {
	Success     int
	Failed      int
	SuccessRate float64
}

// RegistryStats is a snapshot of registry counters.
type RegistryStats struct {
	Publishers int    `json:"publishers"`
	Published  uint64 `json:"published"`
	Failed     uint64 `json:"failed"`
}

type registryMetrics struct {
	published metric.Int64Counter
	failed    metric.Int64Counter
	attrs     metric.MeasurementOption
}

// Registry lazily creates one AdvancedPublisher per key under prefix/protocol.
type Registry struct {
	session *Session
	keyExpr models.KeyExpr
	config  PublisherConfig
	logger  logger.Logger
	metrics registryMetrics

	mu         sync.RWMutex
	publishers map[string]*AdvancedPublisher
	closed     bool

	published atomic.Uint64
	failed    atomic.Uint64
}

// RegistryOption customizes a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	meterProvider metric.MeterProvider
}

// WithMeterProvider records publish counters on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) RegistryOption {
	return func(o *registryOptions) { o.meterProvider = mp }
}

// NewRegistry acquires a reference on session for the registry's lifetime.
func NewRegistry(session *Session, protocol models.Protocol, cfg PublisherConfig,
	log logger.Logger, opts ...RegistryOption) (*Registry, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := registryOptions{meterProvider: otel.GetMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}

	m, err := newRegistryMetrics(o.meterProvider, protocol)
	if err != nil {
		return nil, err
	}

	if _, err := session.Acquire(); err != nil {
		return nil, err
	}

	return &Registry{
		session:    session,
		keyExpr:    models.NewKeyExprWithPrefix(cfg.KeyPrefix, protocol),
		config:     cfg,
		logger:     log,
		metrics:    m,
		publishers: make(map[string]*AdvancedPublisher),
	}, nil
}

func newRegistryMetrics(mp metric.MeterProvider, protocol models.Protocol) (registryMetrics, error) {
	meter := mp.Meter(meterName)

	published, err := meter.Int64Counter("zensight.publish.samples",
		metric.WithDescription("Samples handed to the transport"))
	if err != nil {
		return registryMetrics{}, fmt.Errorf("failed to create publish counter: %w", err)
	}

	failed, err := meter.Int64Counter("zensight.publish.failures",
		metric.WithDescription("Samples that could not be encoded or sent"))
	if err != nil {
		return registryMetrics{}, fmt.Errorf("failed to create failure counter: %w", err)
	}

	return registryMetrics{
		published: published,
		failed:    failed,
		attrs:     metric.WithAttributes(attribute.String("protocol", protocol.String())),
	}, nil
}

// KeyExpr returns the key builder for this registry's prefix and protocol.
func (r *Registry) KeyExpr() models.KeyExpr { return r.keyExpr }

// Publish encodes point and sends it on prefix/protocol/keySuffix. Failures are
// counted and returned, never retried.
func (r *Registry) Publish(ctx context.Context, keySuffix string, point *models.TelemetryPoint) error {
	err := r.publish(keySuffix, point)

	if err != nil {
		r.failed.Add(1)
		r.metrics.failed.Add(ctx, 1, r.metrics.attrs)

		return err
	}

	r.published.Add(1)
	r.metrics.published.Add(ctx, 1, r.metrics.attrs)

	return nil
}

func (r *Registry) publish(keySuffix string, point *models.TelemetryPoint) error {
	payload, err := models.Encode(point, r.config.Format)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	pub, err := r.publisher(r.keyExpr.Suffix(keySuffix))
	if err != nil {
		return err
	}

	return pub.Put(payload)
}

// publisher returns the publisher for key, creating it exactly once even when
// many goroutines publish to a new key concurrently.
func (r *Registry) publisher(key string) (*AdvancedPublisher, error) {
	r.mu.RLock()
	pub, ok := r.publishers[key]
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return nil, ErrPublisherClosed
	}

	if ok {
		return pub, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrPublisherClosed
	}

	if pub, ok := r.publishers[key]; ok {
		return pub, nil
	}

	pub, err := NewAdvancedPublisher(r.session, key, r.config.advanced(), r.logger)
	if err != nil {
		return nil, err
	}

	r.publishers[key] = pub

	r.logger.Debug().Str("key", key).Str("publisher_id", pub.ID()).Msg("Declared publisher")

	return pub, nil
}

// PublishBatch publishes each point on source/metric. It is best effort: a
// failure does not stop the remaining points.
func (r *Registry) PublishBatch(ctx context.Context, points []*models.TelemetryPoint) BatchResult {
	var result BatchResult

	for _, point := range points {
		if err := r.Publish(ctx, point.Source+models.KeySeparator+point.Metric, point); err != nil {
			result.Failed++

			r.logger.Debug().Err(err).Str("source", point.Source).Str("metric", point.Metric).
				Msg("Batch publish failed")

			continue
		}

		result.Success++
	}

	if total := result.Success + result.Failed; total > 0 {
		result.SuccessRate = float64(result.Success) / float64(total)
	}

	return result
}

// PublisherCount returns the number of declared publishers.
func (r *Registry) PublisherCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.publishers)
}

func (r *Registry) Stats() RegistryStats {
	return RegistryStats{
		Publishers: r.PublisherCount(),
		Published:  r.published.Load(),
		Failed:     r.failed.Load(),
	}
}

// Close undeclares every publisher and releases the session reference.
func (r *Registry) Close() {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return
	}

	r.closed = true
	publishers := r.publishers
	r.publishers = make(map[string]*AdvancedPublisher)
	r.mu.Unlock()

	for _, pub := range publishers {
		pub.Close()
	}

	r.session.Release()

	r.logger.Info().Int("publishers", len(publishers)).Msg("Publisher registry closed")
}
