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

// Package models holds the canonical telemetry types shared by every protocol worker
// and exporter: the TelemetryPoint, its wire codec and the key expression grammar.
package models

import (
	"fmt"
	"time"
)

// Protocol is the closed set of telemetry sources a bridge can speak.
type Protocol string

const (
	ProtocolSNMP    Protocol = "snmp"
	ProtocolSyslog  Protocol = "syslog"
	ProtocolGNMI    Protocol = "gnmi"
	ProtocolNetflow Protocol = "netflow"
	ProtocolOPCUA   Protocol = "opcua"
	ProtocolModbus  Protocol = "modbus"
	ProtocolSysinfo Protocol = "sysinfo"
)

// Protocols lists every known protocol in a stable order.
func Protocols() []Protocol {
	return []Protocol{
		ProtocolSNMP,
		ProtocolSyslog,
		ProtocolGNMI,
		ProtocolNetflow,
		ProtocolOPCUA,
		ProtocolModbus,
		ProtocolSysinfo,
	}
}

// ParseProtocol returns the Protocol for its lowercase name.
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(s)
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
	}

	return p, nil
}

func (p Protocol) IsValid() bool {
	switch p {
	case ProtocolSNMP, ProtocolSyslog, ProtocolGNMI, ProtocolNetflow,
		ProtocolOPCUA, ProtocolModbus, ProtocolSysinfo:
		return true
	}

	return false
}

func (p Protocol) String() string { return string(p) }

// TelemetryPoint is a single normalized measurement. Points are treated as immutable
// once built; WithLabel and WithLabels return copies.
type TelemetryPoint struct {
	Timestamp int64             `json:"timestamp" cbor:"1,keyasint"`
	Source    string            `json:"source" cbor:"2,keyasint"`
	Protocol  Protocol          `json:"protocol" cbor:"3,keyasint"`
	Metric    string            `json:"metric" cbor:"4,keyasint"`
	Value     TelemetryValue    `json:"value" cbor:"5,keyasint"`
	Labels    map[string]string `json:"labels,omitempty" cbor:"6,keyasint,omitempty"`
}

// NewTelemetryPoint builds a point stamped with the current wall clock in milliseconds.
func NewTelemetryPoint(source string, protocol Protocol, metric string, value TelemetryValue) *TelemetryPoint {
	return &TelemetryPoint{
		Timestamp: time.Now().UnixMilli(),
		Source:    source,
		Protocol:  protocol,
		Metric:    metric,
		Value:     value,
	}
}

// WithLabel returns a copy of p carrying the extra label.
func (p *TelemetryPoint) WithLabel(key, value string) *TelemetryPoint {
	cp := p.clone(1)
	cp.Labels[key] = value

	return cp
}

// WithLabels returns a copy of p with labels merged over the existing ones.
// An empty map returns p unchanged.
func (p *TelemetryPoint) WithLabels(labels map[string]string) *TelemetryPoint {
	if len(labels) == 0 {
		return p
	}

	cp := p.clone(len(labels))
	for k, v := range labels {
		cp.Labels[k] = v
	}

	return cp
}

func (p *TelemetryPoint) clone(extra int) *TelemetryPoint {
	cp := *p
	cp.Labels = make(map[string]string, len(p.Labels)+extra)

	for k, v := range p.Labels {
		cp.Labels[k] = v
	}

	return &cp
}

// Time returns the point timestamp as a time.Time.
func (p *TelemetryPoint) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Validate checks the invariants every published point must satisfy.
func (p *TelemetryPoint) Validate() error {
	switch {
	case p == nil:
		return fmt.Errorf("%w: nil point", ErrInvalidPoint)
	case p.Source == "":
		return fmt.Errorf("%w: empty source", ErrInvalidPoint)
	case p.Metric == "":
		return fmt.Errorf("%w: empty metric", ErrInvalidPoint)
	case !p.Protocol.IsValid():
		return fmt.Errorf("%w: %w %q", ErrInvalidPoint, ErrUnknownProtocol, p.Protocol)
	case !p.Value.IsValid():
		return fmt.Errorf("%w: %w", ErrInvalidPoint, errInvalidValue)
	}

	return nil
}
