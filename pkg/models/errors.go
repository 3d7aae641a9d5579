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

package models

import "errors"

var (
	// ErrDecode wraps every failure to turn a wire payload back into a TelemetryPoint.
	ErrDecode = errors.New("failed to decode telemetry point")
	// ErrEncode wraps failures to serialize a TelemetryPoint.
	ErrEncode = errors.New("failed to encode telemetry point")
	// ErrEmptyPayload is returned when there are no bytes to decode.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrInvalidPoint is returned by Validate.
	ErrInvalidPoint = errors.New("invalid telemetry point")
	// ErrUnknownProtocol is returned when a protocol name is not part of the closed set.
	ErrUnknownProtocol = errors.New("unknown protocol")
	// ErrUnknownFormat is returned for an unsupported wire format.
	ErrUnknownFormat = errors.New("unknown wire format")

	errUnknownValueKind = errors.New("unknown value kind")
	errInvalidValue     = errors.New("telemetry value has no kind")
	errInvalidDuration  = errors.New("invalid duration")
	errReservedStatus   = errors.New("metadata key collides with a reserved status field")
)
