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

package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
	"github.com/p13marc/zensight-sub001/pkg/pubsub"
)

const defaultShutdownGrace = 10 * time.Second

var (
	errEmptyName    = errors.New("bridge name is required")
	errSlashInName  = errors.New("bridge name must not contain '/'")
	errSlashPrefix  = errors.New("key prefix must not contain '/'")
	errNegativeWait = errors.New("shutdown grace must not be negative")
)

// Config is the runtime section shared by every bridge binary.
type Config struct {
	Name          string                  `json:"name" yaml:"name"`
	Protocol      models.Protocol         `json:"protocol" yaml:"protocol"`
	KeyPrefix     string                  `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
	NATS          pubsub.SessionConfig    `json:"nats" yaml:"nats"`
	Publisher     pubsub.PublisherConfig  `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	Liveliness    pubsub.LivelinessConfig `json:"liveliness,omitempty" yaml:"liveliness,omitempty"`
	ShutdownGrace models.Duration         `json:"shutdown_grace,omitempty" yaml:"shutdown_grace,omitempty"`
	Logging       *logger.Config          `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// ApplyDefaults fills zero values and propagates KeyPrefix to the publisher and
// liveliness sections.
func (c *Config) ApplyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = models.DefaultKeyPrefix
	}

	if c.NATS.Name == "" {
		c.NATS.Name = c.Name
	}

	c.Publisher.KeyPrefix = c.KeyPrefix
	c.Liveliness.KeyPrefix = c.KeyPrefix

	c.NATS.ApplyDefaults()
	c.Publisher.ApplyDefaults()
	c.Liveliness.ApplyDefaults()

	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = models.Duration(defaultShutdownGrace)
	}
}

func (c *Config) Validate() error {
	var err error

	switch {
	case c.Name == "":
		err = errEmptyName
	case strings.Contains(c.Name, "/"):
		err = errSlashInName
	case !c.Protocol.IsValid():
		err = fmt.Errorf("%w: %q", models.ErrUnknownProtocol, c.Protocol)
	case strings.Contains(c.KeyPrefix, "/"):
		err = errSlashPrefix
	case c.ShutdownGrace < 0:
		err = errNegativeWait
	default:
		err = errors.Join(c.NATS.Validate(), c.Publisher.Validate(), c.Liveliness.Validate())
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}
