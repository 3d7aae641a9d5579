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

// Package aggregator keeps the latest value of every telemetry series within a
// bounded budget and renders them in the Prometheus text exposition format.
package aggregator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
)

const (
	defaultNamespace       = "zensight"
	defaultMaxSeries       = 10000
	defaultStaleTimeout    = 5 * time.Minute
	defaultCleanupInterval = 30 * time.Second

	sourceLabel = "source"
	textLabel   = "value"
)

// Config bounds the collector.
type Config struct {
	Namespace         string          `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	MaxSeries         int             `json:"max_series,omitempty" yaml:"max_series,omitempty"`
	StaleTimeout      models.Duration `json:"stale_timeout,omitempty" yaml:"stale_timeout,omitempty"`
	CleanupInterval   models.Duration `json:"cleanup_interval,omitempty" yaml:"cleanup_interval,omitempty"`
	IncludeTimestamps bool            `json:"include_timestamps,omitempty" yaml:"include_timestamps,omitempty"`
	Filters           Filters         `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if c.Namespace == "" {
		c.Namespace = defaultNamespace
	}

	if c.MaxSeries == 0 {
		c.MaxSeries = defaultMaxSeries
	}

	if c.StaleTimeout <= 0 {
		c.StaleTimeout = models.Duration(defaultStaleTimeout)
	}

	if c.CleanupInterval <= 0 {
		c.CleanupInterval = models.Duration(defaultCleanupInterval)
	}
}

func (c *Config) Validate() error {
	if c.MaxSeries < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errInvalidMaxSeries)
	}

	if err := c.Filters.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

// Stats is a snapshot of the collector counters.
type Stats struct {
	PointsReceived uint64 `json:"points_received"`
	PointsAccepted uint64 `json:"points_accepted"`
	PointsFiltered uint64 `json:"points_filtered"`
	SeriesCount    int    `json:"series_count"`
}

type series struct {
	name      string
	labels    []*dto.LabelPair
	kind      dto.MetricType
	value     float64
	timestamp int64
	updated   time.Time
}

// Collector aggregates points into series keyed by sanitized name and labels.
type Collector struct {
	config Config
	logger logger.Logger
	now    func() time.Time

	mu     sync.RWMutex
	series map[string]*series

	received atomic.Uint64
	accepted atomic.Uint64
	filtered atomic.Uint64
}

func NewCollector(cfg Config, log logger.Logger) (*Collector, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Collector{
		config: cfg,
		logger: log,
		now:    time.Now,
		series: make(map[string]*series),
	}, nil
}

// Record folds point into its series. It never fails: filtered, unrepresentable
// and over-budget points only bump the filtered counter.
func (c *Collector) Record(point *models.TelemetryPoint) {
	c.received.Add(1)

	if !c.config.Filters.Allow(point) {
		c.filtered.Add(1)

		return
	}

	kind, value, text, ok := representation(point.Value)
	if !ok {
		c.filtered.Add(1)

		return
	}

	name := metricName(c.config.Namespace, point.Protocol.String(), point.Metric)
	labels := buildLabels(point, text, point.Value.Kind() == models.KindText)
	key := seriesKey(name, labels)
	now := c.now()

	c.mu.Lock()

	s, exists := c.series[key]
	if !exists {
		if c.config.MaxSeries > 0 && len(c.series) >= c.config.MaxSeries {
			c.mu.Unlock()
			c.filtered.Add(1)

			c.logger.Debug().Err(ErrCardinalityExceeded).Str("series", key).
				Int("max_series", c.config.MaxSeries).Msg("Dropping new series")

			return
		}

		s = &series{name: name, labels: labels}
		c.series[key] = s
	}

	s.kind = kind
	s.value = value
	s.timestamp = point.Timestamp
	s.updated = now
	c.mu.Unlock()

	c.accepted.Add(1)
}

// representation maps a value onto a Prometheus sample. Text becomes an info
// style gauge of 1 carrying the text as a label; Binary has no representation.
func representation(v models.TelemetryValue) (dto.MetricType, float64, string, bool) {
	switch v.Kind() {
	case models.KindCounter:
		n, _ := v.Counter()

		return dto.MetricType_COUNTER, float64(n), "", true
	case models.KindGauge, models.KindBoolean:
		f, _ := v.Float64()

		return dto.MetricType_GAUGE, f, "", true
	case models.KindText:
		s, _ := v.Text()

		return dto.MetricType_GAUGE, 1, s, true
	}

	return dto.MetricType_UNTYPED, 0, "", false
}

func buildLabels(point *models.TelemetryPoint, text string, withText bool) []*dto.LabelPair {
	merged := make(map[string]string, len(point.Labels)+2)

	raw := make([]string, 0, len(point.Labels))
	for k := range point.Labels {
		raw = append(raw, k)
	}

	// Names that sanitize to the same label keep the lexically first raw key.
	sort.Strings(raw)

	for _, k := range raw {
		name := sanitizeLabelName(k)
		if _, taken := merged[name]; !taken {
			merged[name] = point.Labels[k]
		}
	}

	merged[sourceLabel] = point.Source

	if withText {
		merged[textLabel] = text
	}

	names := make([]string, 0, len(merged))
	for k := range merged {
		names = append(names, k)
	}

	sort.Strings(names)

	pairs := make([]*dto.LabelPair, len(names))
	for i, k := range names {
		pairs[i] = &dto.LabelPair{Name: proto.String(k), Value: proto.String(merged[k])}
	}

	return pairs
}

// seriesKey is the name followed by the sorted label set; it doubles as the
// label signature used to order series inside a family.
func seriesKey(name string, labels []*dto.LabelPair) string {
	var b strings.Builder

	b.WriteString(name)
	b.WriteByte('{')

	for i, l := range labels {
		if i > 0 {
			b.WriteByte(',')
		}

		fmt.Fprintf(&b, "%s=%q", l.GetName(), l.GetValue())
	}

	b.WriteByte('}')

	return b.String()
}

// CleanupStale drops series not updated within StaleTimeout and returns how many
// were removed.
func (c *Collector) CleanupStale() int {
	threshold := c.now().Add(-time.Duration(c.config.StaleTimeout))
	removed := 0

	c.mu.Lock()

	for key, s := range c.series {
		if s.updated.Before(threshold) {
			delete(c.series, key)
			removed++
		}
	}

	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("Evicted stale series")
	}

	return removed
}

// Run evicts stale series every CleanupInterval until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(c.config.CleanupInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.CleanupStale()
		}
	}
}

type seriesSnapshot struct {
	key string
	series
}

// Render returns the text exposition of every series. Families are sorted by
// name and series by label signature.
func (c *Collector) Render() ([]byte, error) {
	var buf bytes.Buffer

	if err := c.WriteTo(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WriteTo writes the text exposition to w.
func (c *Collector) WriteTo(w io.Writer) error {
	for _, family := range c.families() {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return fmt.Errorf("failed to render %s: %w", family.GetName(), err)
		}
	}

	return nil
}

func (c *Collector) families() []*dto.MetricFamily {
	c.mu.RLock()
	snapshot := make([]seriesSnapshot, 0, len(c.series))

	for key, s := range c.series {
		snapshot = append(snapshot, seriesSnapshot{key: key, series: *s})
	}
	c.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].key < snapshot[j].key })

	var (
		families []*dto.MetricFamily
		current  *dto.MetricFamily
	)

	for i := range snapshot {
		s := &snapshot[i]

		if current == nil || current.GetName() != s.name {
			current = &dto.MetricFamily{Name: proto.String(s.name), Type: s.kind.Enum()}
			families = append(families, current)
		}

		current.Metric = append(current.Metric, c.metric(current.GetType(), &s.series))
	}

	sort.SliceStable(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })

	return families
}

func (c *Collector) metric(kind dto.MetricType, s *series) *dto.Metric {
	m := &dto.Metric{Label: s.labels}

	if c.config.IncludeTimestamps {
		m.TimestampMs = proto.Int64(s.timestamp)
	}

	switch kind {
	case dto.MetricType_COUNTER:
		m.Counter = &dto.Counter{Value: proto.Float64(s.value)}
	default:
		m.Gauge = &dto.Gauge{Value: proto.Float64(s.value)}
	}

	return m
}

func (c *Collector) Stats() Stats {
	c.mu.RLock()
	count := len(c.series)
	c.mu.RUnlock()

	return Stats{
		PointsReceived: c.received.Load(),
		PointsAccepted: c.accepted.Load(),
		PointsFiltered: c.filtered.Load(),
		SeriesCount:    count,
	}
}
