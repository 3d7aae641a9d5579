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

package pubsub

import "errors"

var (
	// ErrTransport wraps failures of the underlying NATS connection.
	ErrTransport = errors.New("transport error")
	// ErrPublish is returned when a sample could not be handed to the transport.
	ErrPublish = errors.New("publish failed")
	// ErrSessionClosed is returned by Acquire after the last holder released the session.
	ErrSessionClosed = errors.New("session closed")
	// ErrPublisherClosed is returned when publishing through a closed publisher or registry.
	ErrPublisherClosed = errors.New("publisher closed")
	// ErrInvalidKey is returned for key expressions that cannot be mapped to a subject.
	ErrInvalidKey = errors.New("invalid key expression")
	// ErrCacheQuery wraps failures to fetch samples from a publisher's replay cache.
	ErrCacheQuery = errors.New("cache query failed")
	// ErrCAParsingFailed is returned when the CA bundle contains no certificate.
	ErrCAParsingFailed = errors.New("failed to parse CA certificate")

	errEmptySegment     = errors.New("empty key segment")
	errMisplacedWild    = errors.New("multi-segment wildcard must be the last segment")
	errBadEscape        = errors.New("malformed escape sequence")
	errEmptyURL         = errors.New("nats url is required")
	errMTLSIncomplete   = errors.New("mtls requires cert_file, key_file and ca_file")
	errBadPresenceKey   = errors.New("unrecognized presence key")
	errInvalidTTL       = errors.New("liveliness ttl must be positive")
	errNegativeCache    = errors.New("cache size must not be negative")
	errSubscriberClosed = errors.New("subscriber closed")
)
