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

package logger

import "errors"

var (
	// ErrInvalidLevel is returned for a level zerolog cannot parse.
	ErrInvalidLevel = errors.New("invalid log level")
	// ErrOTelLoggingDisabled is returned when a writer is requested with OTel disabled.
	ErrOTelLoggingDisabled = errors.New("OTel logging is disabled")
	// ErrOTelEndpointRequired is returned when OTel is enabled without an endpoint.
	ErrOTelEndpointRequired = errors.New("OTel endpoint is required when enabled")
	// ErrOTelMetricsDisabled is returned by InitializeMetrics when exporting is off.
	ErrOTelMetricsDisabled = errors.New("OTel metrics exporter disabled")

	errFailedToParseCACert = errors.New("failed to parse CA certificate")
)
