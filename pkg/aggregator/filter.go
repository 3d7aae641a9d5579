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

package aggregator

import (
	"fmt"
	"path"

	"github.com/p13marc/zensight-sub001/pkg/models"
)

// Filters decides which points reach the collector. Metric and source patterns
// use path.Match globs; an empty include list admits everything.
type Filters struct {
	IncludeProtocols []models.Protocol `json:"include_protocols,omitempty" yaml:"include_protocols,omitempty"`
	ExcludeProtocols []models.Protocol `json:"exclude_protocols,omitempty" yaml:"exclude_protocols,omitempty"`
	IncludeMetrics   []string          `json:"include_metrics,omitempty" yaml:"include_metrics,omitempty"`
	ExcludeMetrics   []string          `json:"exclude_metrics,omitempty" yaml:"exclude_metrics,omitempty"`
	IncludeSources   []string          `json:"include_sources,omitempty" yaml:"include_sources,omitempty"`
	ExcludeSources   []string          `json:"exclude_sources,omitempty" yaml:"exclude_sources,omitempty"`
}

// Validate rejects unknown protocols and malformed globs up front so Allow can
// ignore match errors.
func (f *Filters) Validate() error {
	for _, list := range [][]models.Protocol{f.IncludeProtocols, f.ExcludeProtocols} {
		for _, p := range list {
			if !p.IsValid() {
				return fmt.Errorf("%w: %q", errUnknownProtocol, p)
			}
		}
	}

	for _, list := range [][]string{f.IncludeMetrics, f.ExcludeMetrics, f.IncludeSources, f.ExcludeSources} {
		for _, pattern := range list {
			if _, err := path.Match(pattern, ""); err != nil {
				return fmt.Errorf("%w: %q", errBadPattern, pattern)
			}
		}
	}

	return nil
}

// Allow reports whether point passes every filter. Exclusions win over inclusions.
func (f *Filters) Allow(point *models.TelemetryPoint) bool {
	if !allowProtocol(point.Protocol, f.IncludeProtocols, f.ExcludeProtocols) {
		return false
	}

	if !allowGlob(point.Metric, f.IncludeMetrics, f.ExcludeMetrics) {
		return false
	}

	return allowGlob(point.Source, f.IncludeSources, f.ExcludeSources)
}

func allowProtocol(p models.Protocol, include, exclude []models.Protocol) bool {
	for _, ex := range exclude {
		if ex == p {
			return false
		}
	}

	if len(include) == 0 {
		return true
	}

	for _, in := range include {
		if in == p {
			return true
		}
	}

	return false
}

func allowGlob(value string, include, exclude []string) bool {
	if matchAny(value, exclude) {
		return false
	}

	return len(include) == 0 || matchAny(value, include)
}

func matchAny(value string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, value); ok {
			return true
		}
	}

	return false
}
