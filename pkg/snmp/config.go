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

package snmp

import (
	"fmt"
	"strings"
	"time"

	"github.com/p13marc/zensight-sub001/pkg/models"
)

// SNMPVersion is the protocol version used to talk to a target.
type SNMPVersion string

const (
	Version1  SNMPVersion = "v1"
	Version2c SNMPVersion = "v2c"
	Version3  SNMPVersion = "v3"
)

const (
	defaultPort           = 161
	defaultTimeout        = 5 * time.Second
	defaultInterval       = 30 * time.Second
	defaultMaxWalkEntries = 10000
)

// Config is the SNMP section of a bridge configuration.
type Config struct {
	Targets []Target `json:"targets" yaml:"targets"`
	// OIDNames maps exact OIDs to metric names. Entries override DefaultOIDNames.
	OIDNames map[string]string `json:"oid_names,omitempty" yaml:"oid_names,omitempty"`
	// OIDPatterns maps OID prefixes to name templates containing {index}.
	OIDPatterns map[string]string `json:"oid_patterns,omitempty" yaml:"oid_patterns,omitempty"`
	// DisableDefaultNames drops the built-in system and interface mappings.
	DisableDefaultNames bool `json:"disable_default_names,omitempty" yaml:"disable_default_names,omitempty"`
	// MaxWalkEntries caps the GETNEXT requests issued for a single walk root.
	MaxWalkEntries int `json:"max_walk_entries,omitempty" yaml:"max_walk_entries,omitempty"`
}

// Target is one managed device.
type Target struct {
	Name      string            `json:"name" yaml:"name"`
	Host      string            `json:"host" yaml:"host"`
	Port      uint16            `json:"port,omitempty" yaml:"port,omitempty"`
	Version   SNMPVersion       `json:"version,omitempty" yaml:"version,omitempty"`
	Community string            `json:"community,omitempty" yaml:"community,omitempty"`
	V3        *V3Credentials    `json:"v3,omitempty" yaml:"v3,omitempty"`
	Interval  models.Duration   `json:"interval,omitempty" yaml:"interval,omitempty"`
	Timeout   models.Duration   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries   int               `json:"retries,omitempty" yaml:"retries,omitempty"`
	Get       []string          `json:"get,omitempty" yaml:"get,omitempty"`
	Walk      []string          `json:"walk,omitempty" yaml:"walk,omitempty"`
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// V3Credentials configures the SNMPv3 user security model.
type V3Credentials struct {
	Username        string `json:"username" yaml:"username"`
	AuthProtocol    string `json:"auth_protocol,omitempty" yaml:"auth_protocol,omitempty"`
	AuthPassword    string `json:"auth_password,omitempty" yaml:"auth_password,omitempty"`
	PrivacyProtocol string `json:"privacy_protocol,omitempty" yaml:"privacy_protocol,omitempty"`
	PrivacyPassword string `json:"privacy_password,omitempty" yaml:"privacy_password,omitempty"`
	ContextName     string `json:"context_name,omitempty" yaml:"context_name,omitempty"`
}

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if c.MaxWalkEntries <= 0 {
		c.MaxWalkEntries = defaultMaxWalkEntries
	}

	for i := range c.Targets {
		c.Targets[i].ApplyDefaults()
	}
}

// Validate checks every target and that names are unique.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Targets))

	for i := range c.Targets {
		t := &c.Targets[i]

		if err := t.Validate(); err != nil {
			return err
		}

		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: %w: %s", ErrInvalidConfig, errDuplicateTarget, t.Name)
		}

		seen[t.Name] = struct{}{}
	}

	return nil
}

// ApplyDefaults fills port, version, timeout and interval.
func (t *Target) ApplyDefaults() {
	if t.Port == 0 {
		t.Port = defaultPort
	}

	if t.Version == "" {
		t.Version = Version2c
	}

	if t.Timeout <= 0 {
		t.Timeout = models.Duration(defaultTimeout)
	}

	if t.Interval == 0 {
		t.Interval = models.Duration(defaultInterval)
	}
}

// Validate reports the first problem with the target. Call ApplyDefaults first.
func (t *Target) Validate() error {
	var err error

	switch {
	case t.Name == "":
		err = errEmptyTargetName
	case strings.Contains(t.Name, "/"):
		err = fmt.Errorf("%w: %s", errTargetNameSlash, t.Name)
	case t.Host == "":
		err = fmt.Errorf("%w: %s", errEmptyHost, t.Name)
	case t.Interval <= 0:
		err = fmt.Errorf("%w: %s", errInvalidInterval, t.Name)
	case len(t.Get) == 0 && len(t.Walk) == 0:
		err = fmt.Errorf("%w: %s", errNoAddresses, t.Name)
	default:
		err = t.validateCredentials()
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

func (t *Target) validateCredentials() error {
	switch t.Version {
	case Version1, Version2c:
		if t.Community == "" {
			return fmt.Errorf("%w: %s", errMissingCommunity, t.Name)
		}
	case Version3:
		if t.V3 == nil || t.V3.Username == "" {
			return fmt.Errorf("%w: %s", errMissingV3User, t.Name)
		}

		if _, err := authProtocol(t.V3.AuthProtocol); err != nil {
			return err
		}

		if _, err := privProtocol(t.V3.PrivacyProtocol); err != nil {
			return err
		}

		if t.V3.PrivacyProtocol != "" && t.V3.AuthProtocol == "" {
			return fmt.Errorf("%w: %s", errPrivWithoutAuth, t.Name)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedSNMPVersion, t.Version)
	}

	return nil
}
