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

import "errors"

var (
	// ErrTargetExists is returned when adding a target whose name is already polled.
	ErrTargetExists = errors.New("target already exists")
	// ErrTargetNotFound is returned when removing or querying an unknown target.
	ErrTargetNotFound = errors.New("target not found")
	// ErrRequestTimeout marks a GET or GETNEXT that received no answer in time.
	ErrRequestTimeout = errors.New("snmp request timed out")
	// ErrSession wraps failures to open a session to a device.
	ErrSession = errors.New("failed to open snmp session")
	// ErrPacketError is returned when a response carries a non-zero error status.
	ErrPacketError = errors.New("snmp response carries error status")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid snmp configuration")
	// ErrUnsupportedSNMPVersion is returned for versions other than v1, v2c and v3.
	ErrUnsupportedSNMPVersion = errors.New("unsupported SNMP version")

	errEmptyTargetName   = errors.New("target name is required")
	errTargetNameSlash   = errors.New("target name must not contain '/'")
	errDuplicateTarget   = errors.New("duplicate target name")
	errEmptyHost         = errors.New("target host is required")
	errNoAddresses       = errors.New("target needs at least one get or walk address")
	errInvalidInterval   = errors.New("interval must be positive")
	errMissingCommunity  = errors.New("community is required for v1 and v2c")
	errMissingV3User     = errors.New("v3 credentials need a user name")
	errUnsupportedAuth   = errors.New("unsupported v3 auth protocol")
	errUnsupportedPriv   = errors.New("unsupported v3 privacy protocol")
	errPrivWithoutAuth   = errors.New("v3 privacy requires authentication")
	errServiceNotStarted = errors.New("snmp service is not started")
)
