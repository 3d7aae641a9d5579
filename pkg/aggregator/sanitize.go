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
	"strings"

	"github.com/prometheus/common/model"
)

// sanitizeMetricName maps name onto [a-zA-Z_:][a-zA-Z0-9_:]*.
func sanitizeMetricName(name string) string {
	if name == "" {
		return "_"
	}

	return model.EscapeName(name, model.UnderscoreEscaping)
}

// sanitizeLabelName maps name onto [a-zA-Z_][a-zA-Z0-9_]*.
func sanitizeLabelName(name string) string {
	return strings.ReplaceAll(sanitizeMetricName(name), ":", "_")
}

func metricName(namespace, protocol, metric string) string {
	parts := make([]string, 0, 3)

	for _, p := range []string{namespace, protocol, metric} {
		if p != "" {
			parts = append(parts, p)
		}
	}

	return sanitizeMetricName(strings.Join(parts, "_"))
}
