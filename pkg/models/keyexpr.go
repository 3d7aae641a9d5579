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

import "strings"

const (
	// DefaultKeyPrefix is the root segment of every key expression.
	DefaultKeyPrefix = "zensight"
	// AdminSegment marks the administrative sub-namespace (status, presence).
	AdminSegment = "@"
	// MultiWildcard matches any number of trailing segments.
	MultiWildcard = "**"
	// KeySeparator separates key expression segments.
	KeySeparator = "/"
)

// KeyExpr builds key expressions of the form prefix/protocol/source/metric...
type KeyExpr struct {
	prefix   string
	protocol Protocol
}

// NewKeyExpr returns a builder rooted at DefaultKeyPrefix.
func NewKeyExpr(protocol Protocol) KeyExpr {
	return NewKeyExprWithPrefix(DefaultKeyPrefix, protocol)
}

func NewKeyExprWithPrefix(prefix string, protocol Protocol) KeyExpr {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return KeyExpr{prefix: prefix, protocol: protocol}
}

func (k KeyExpr) Prefix() string { return k.prefix }

func (k KeyExpr) Protocol() Protocol { return k.protocol }

func (k KeyExpr) join(segments ...string) string {
	return k.prefix + KeySeparator + string(k.protocol) + KeySeparator + strings.Join(segments, KeySeparator)
}

// Build returns the data key for one metric of one source.
func (k KeyExpr) Build(source, metric string) string {
	return k.join(source, metric)
}

// Suffix resolves a "source/metric..." suffix into a full key.
func (k KeyExpr) Suffix(suffix string) string {
	return k.join(suffix)
}

// SourceWildcard matches every metric of one source.
func (k KeyExpr) SourceWildcard(source string) string {
	return k.join(source, MultiWildcard)
}

// ProtocolWildcard matches every key of this protocol, administrative keys included.
func (k KeyExpr) ProtocolWildcard() string {
	return k.join(MultiWildcard)
}

// StatusKey is where the bridge publishes its StatusRecord.
func (k KeyExpr) StatusKey() string {
	return k.join(AdminSegment, "status")
}

// BridgeAliveKey is the presence marker of the bridge process itself.
func (k KeyExpr) BridgeAliveKey() string {
	return k.join(AdminSegment, "alive")
}

// DeviceAliveKey is the presence marker of one managed device.
func (k KeyExpr) DeviceAliveKey(deviceID string) string {
	return k.join(AdminSegment, "devices", deviceID, "alive")
}

// DeviceAliveWildcard matches every device presence marker of this protocol.
func (k KeyExpr) DeviceAliveWildcard() string {
	return k.join(AdminSegment, "devices", MultiWildcard)
}

// AllWildcard matches everything published under prefix.
func AllWildcard(prefix string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return prefix + KeySeparator + MultiWildcard
}

// ParsedKey is the decomposition of a data key.
type ParsedKey struct {
	Protocol Protocol
	Source   string
	Metric   string
}

// IsAdmin reports whether the key lives in the reserved administrative namespace.
func (p ParsedKey) IsAdmin() bool {
	return p.Source == AdminSegment
}

// ParseKey decomposes a key rooted at DefaultKeyPrefix.
func ParseKey(key string) (ParsedKey, bool) {
	return ParseKeyWithPrefix(DefaultKeyPrefix, key)
}

// ParseKeyWithPrefix decomposes prefix/protocol/source/metric... A false result means the
// key does not belong to this namespace; it is not an error.
func ParseKeyWithPrefix(prefix, key string) (ParsedKey, bool) {
	parts := strings.SplitN(key, KeySeparator, 4)
	if len(parts) < 4 || parts[0] != prefix {
		return ParsedKey{}, false
	}

	protocol := Protocol(parts[1])
	if !protocol.IsValid() || parts[2] == "" || parts[3] == "" {
		return ParsedKey{}, false
	}

	return ParsedKey{Protocol: protocol, Source: parts[2], Metric: parts[3]}, true
}
