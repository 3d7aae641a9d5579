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

package exporter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/p13marc/zensight-sub001/pkg/aggregator"
	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
	"github.com/p13marc/zensight-sub001/pkg/pubsub"
)

const (
	defaultName            = "zensight-exporter"
	defaultListenAddr      = ":9464"
	defaultMetricsPath     = "/metrics"
	defaultShutdownTimeout = 10 * time.Second
	defaultPresenceRetry   = 5 * time.Second
)

// Config configures the Prometheus text exporter.
type Config struct {
	Name            string                  `json:"name,omitempty" yaml:"name,omitempty"`
	KeyPrefix       string                  `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
	Subscriptions   []string                `json:"subscriptions,omitempty" yaml:"subscriptions,omitempty"`
	Presence        []models.Protocol       `json:"presence,omitempty" yaml:"presence,omitempty"`
	PresenceRetry   models.Duration         `json:"presence_retry,omitempty" yaml:"presence_retry,omitempty"`
	NATS            pubsub.SessionConfig    `json:"nats" yaml:"nats"`
	Subscriber      pubsub.SubscriberConfig `json:"subscriber,omitempty" yaml:"subscriber,omitempty"`
	Aggregator      aggregator.Config       `json:"aggregator,omitempty" yaml:"aggregator,omitempty"`
	ListenAddr      string                  `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
	MetricsPath     string                  `json:"metrics_path,omitempty" yaml:"metrics_path,omitempty"`
	ShutdownTimeout models.Duration         `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
	Logging         *logger.Config          `json:"logging,omitempty" yaml:"logging,omitempty"`
}

func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = defaultName
	}

	if c.KeyPrefix == "" {
		c.KeyPrefix = models.DefaultKeyPrefix
	}

	if len(c.Subscriptions) == 0 {
		c.Subscriptions = []string{models.AllWildcard(c.KeyPrefix)}
	}

	if c.PresenceRetry <= 0 {
		c.PresenceRetry = models.Duration(defaultPresenceRetry)
	}

	if c.NATS.Name == "" {
		c.NATS.Name = c.Name
	}

	c.Subscriber.KeyPrefix = c.KeyPrefix

	c.NATS.ApplyDefaults()
	c.Subscriber.ApplyDefaults()
	c.Aggregator.ApplyDefaults()

	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.MetricsPath == "" {
		c.MetricsPath = defaultMetricsPath
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = models.Duration(defaultShutdownTimeout)
	}
}

func (c *Config) Validate() error {
	var errs []error

	if len(c.Subscriptions) == 0 {
		errs = append(errs, errNoSubscriptions)
	}

	for _, sub := range c.Subscriptions {
		if _, err := pubsub.KeyToSubject(sub); err != nil {
			errs = append(errs, fmt.Errorf("subscription %q: %w", sub, err))
		}
	}

	for _, p := range c.Presence {
		if !p.IsValid() {
			errs = append(errs, fmt.Errorf("presence: %w: %q", models.ErrUnknownProtocol, p))
		}
	}

	if c.ListenAddr == "" {
		errs = append(errs, errEmptyListen)
	}

	if !strings.HasPrefix(c.MetricsPath, "/") {
		errs = append(errs, errBadMetricsPath)
	}

	errs = append(errs, c.NATS.Validate(), c.Aggregator.Validate())

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}
