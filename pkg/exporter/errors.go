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

import "errors"

var (
	// ErrInvalidConfig wraps exporter configuration validation failures.
	ErrInvalidConfig = errors.New("invalid exporter configuration")
	// ErrAlreadyStarted is returned by Start on a running service.
	ErrAlreadyStarted = errors.New("exporter already started")

	errNoSubscriptions = errors.New("at least one subscription is required")
	errEmptyListen     = errors.New("listen address is required")
	errBadMetricsPath  = errors.New("metrics path must start with '/'")
)
