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

package sysinfo

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/p13marc/zensight-sub001/pkg/models"
)

const (
	defaultInterval       = 30 * time.Second
	defaultSampleInterval = 200 * time.Millisecond
	minSampleInterval     = 50 * time.Millisecond
	maxSampleInterval     = 5 * time.Second
	defaultDiskPath       = "/"
	unknownHost           = "unknown-host"
)

var (
	// ErrInvalidConfig wraps host metrics configuration failures.
	ErrInvalidConfig = errors.New("invalid sysinfo configuration")

	errSourceSlash = errors.New("source must not contain '/'")
	errInterval    = errors.New("interval must be positive")
)

// Config controls the host metrics worker.
type Config struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Source names this host in keys; defaults to the hostname.
	Source         string            `json:"source,omitempty" yaml:"source,omitempty"`
	Interval       models.Duration   `json:"interval,omitempty" yaml:"interval,omitempty"`
	SampleInterval models.Duration   `json:"sample_interval,omitempty" yaml:"sample_interval,omitempty"`
	PerCPU         bool              `json:"per_cpu,omitempty" yaml:"per_cpu,omitempty"`
	Disks          []string          `json:"disks,omitempty" yaml:"disks,omitempty"`
	Labels         map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// ApplyDefaults fills zero values and clamps the CPU sampling window.
func (c *Config) ApplyDefaults() {
	if c.Source == "" {
		c.Source = hostIdentifier()
	}

	if c.Interval == 0 {
		c.Interval = models.Duration(defaultInterval)
	}

	switch d := time.Duration(c.SampleInterval); {
	case d == 0:
		c.SampleInterval = models.Duration(defaultSampleInterval)
	case d < minSampleInterval:
		c.SampleInterval = models.Duration(minSampleInterval)
	case d > maxSampleInterval:
		c.SampleInterval = models.Duration(maxSampleInterval)
	}

	if len(c.Disks) == 0 {
		c.Disks = []string{defaultDiskPath}
	}
}

func (c *Config) Validate() error {
	if strings.Contains(c.Source, "/") {
		return errors.Join(ErrInvalidConfig, errSourceSlash)
	}

	if c.Interval <= 0 {
		return errors.Join(ErrInvalidConfig, errInterval)
	}

	return nil
}

func hostIdentifier() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return strings.ReplaceAll(hostname, "/", "_")
	}

	return unknownHost
}

// diskSegment turns a mount path into a single key segment: "/" is "root" and
// "/var/lib" is "var_lib".
func diskSegment(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "root"
	}

	return strings.ReplaceAll(trimmed, "/", "_")
}
