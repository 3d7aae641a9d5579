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

import "errors"

var (
	// ErrCardinalityExceeded is recorded when a new series would exceed MaxSeries.
	// Record never returns it; it only shows up in logs and the filtered counter.
	ErrCardinalityExceeded = errors.New("series limit reached")
	// ErrInvalidConfig wraps collector configuration validation failures.
	ErrInvalidConfig = errors.New("invalid aggregator configuration")

	errInvalidMaxSeries = errors.New("max_series must not be negative")
	errBadPattern       = errors.New("malformed glob pattern")
	errUnknownProtocol  = errors.New("unknown protocol in filter")
)
