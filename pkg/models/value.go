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

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// ValueKind identifies which member of the TelemetryValue union is set.
type ValueKind uint8

const (
	KindUnknown ValueKind = iota
	KindCounter
	KindGauge
	KindText
	KindBoolean
	KindBinary
)

var valueKindNames = map[ValueKind]string{
	KindCounter: "counter",
	KindGauge:   "gauge",
	KindText:    "text",
	KindBoolean: "boolean",
	KindBinary:  "binary",
}

func (k ValueKind) String() string {
	if name, ok := valueKindNames[k]; ok {
		return name
	}

	return "unknown"
}

func parseValueKind(s string) (ValueKind, error) {
	for kind, name := range valueKindNames {
		if name == s {
			return kind, nil
		}
	}

	return KindUnknown, fmt.Errorf("%w: %q", errUnknownValueKind, s)
}

// TelemetryValue is a tagged union of the value shapes a telemetry point can carry.
// The zero value has KindUnknown and is rejected by TelemetryPoint.Validate.
type TelemetryValue struct {
	kind    ValueKind
	counter uint64
	gauge   float64
	text    string
	boolean bool
	binary  []byte
}

func CounterValue(v uint64) TelemetryValue { return TelemetryValue{kind: KindCounter, counter: v} }

func GaugeValue(v float64) TelemetryValue { return TelemetryValue{kind: KindGauge, gauge: v} }

func TextValue(v string) TelemetryValue { return TelemetryValue{kind: KindText, text: v} }

func BoolValue(v bool) TelemetryValue { return TelemetryValue{kind: KindBoolean, boolean: v} }

// BinaryValue copies v so later mutation of the caller's slice is not observed.
func BinaryValue(v []byte) TelemetryValue {
	var cp []byte
	if v != nil {
		cp = make([]byte, len(v))
		copy(cp, v)
	}

	return TelemetryValue{kind: KindBinary, binary: cp}
}

func (v TelemetryValue) Kind() ValueKind { return v.kind }

func (v TelemetryValue) IsValid() bool { return v.kind != KindUnknown }

func (v TelemetryValue) Counter() (uint64, bool) { return v.counter, v.kind == KindCounter }

func (v TelemetryValue) Gauge() (float64, bool) { return v.gauge, v.kind == KindGauge }

func (v TelemetryValue) Text() (string, bool) { return v.text, v.kind == KindText }

func (v TelemetryValue) Bool() (value, ok bool) { return v.boolean, v.kind == KindBoolean }

func (v TelemetryValue) Binary() ([]byte, bool) { return v.binary, v.kind == KindBinary }

// Float64 returns a numeric view of counters, gauges and booleans.
func (v TelemetryValue) Float64() (float64, bool) {
	switch v.kind {
	case KindCounter:
		return float64(v.counter), true
	case KindGauge:
		return v.gauge, true
	case KindBoolean:
		if v.boolean {
			return 1, true
		}

		return 0, true
	case KindUnknown, KindText, KindBinary:
		return 0, false
	}

	return 0, false
}

func (v TelemetryValue) String() string {
	switch v.kind {
	case KindCounter:
		return strconv.FormatUint(v.counter, 10)
	case KindGauge:
		return strconv.FormatFloat(v.gauge, 'g', -1, 64)
	case KindText:
		return v.text
	case KindBoolean:
		return strconv.FormatBool(v.boolean)
	case KindBinary:
		return base64.StdEncoding.EncodeToString(v.binary)
	case KindUnknown:
	}

	return "<unknown>"
}

func (v TelemetryValue) payload() interface{} {
	switch v.kind {
	case KindCounter:
		return v.counter
	case KindGauge:
		return v.gauge
	case KindText:
		return v.text
	case KindBoolean:
		return v.boolean
	case KindBinary:
		return v.binary
	case KindUnknown:
	}

	return nil
}

type jsonValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"type": "<kind>", "value": <payload>}.
func (v TelemetryValue) MarshalJSON() ([]byte, error) {
	if v.kind == KindUnknown {
		return nil, errInvalidValue
	}

	raw, err := json.Marshal(v.payload())
	if err != nil {
		return nil, err
	}

	return json.Marshal(jsonValue{Type: v.kind.String(), Value: raw})
}

func (v *TelemetryValue) UnmarshalJSON(data []byte) error {
	var wire jsonValue
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	kind, err := parseValueKind(wire.Type)
	if err != nil {
		return err
	}

	decoded := TelemetryValue{kind: kind}

	switch kind {
	case KindCounter:
		err = json.Unmarshal(wire.Value, &decoded.counter)
	case KindGauge:
		err = json.Unmarshal(wire.Value, &decoded.gauge)
	case KindText:
		err = json.Unmarshal(wire.Value, &decoded.text)
	case KindBoolean:
		err = json.Unmarshal(wire.Value, &decoded.boolean)
	case KindBinary:
		err = json.Unmarshal(wire.Value, &decoded.binary)
	case KindUnknown:
		err = errInvalidValue
	}

	if err != nil {
		return fmt.Errorf("%s value: %w", kind, err)
	}

	*v = decoded

	return nil
}

type cborValue struct {
	_     struct{} `cbor:",toarray"`
	Kind  ValueKind
	Value cbor.RawMessage
}

// MarshalCBOR encodes the value as the two element array [kind, payload].
func (v TelemetryValue) MarshalCBOR() ([]byte, error) {
	if v.kind == KindUnknown {
		return nil, errInvalidValue
	}

	raw, err := cbor.Marshal(v.payload())
	if err != nil {
		return nil, err
	}

	return cbor.Marshal(cborValue{Kind: v.kind, Value: raw})
}

func (v *TelemetryValue) UnmarshalCBOR(data []byte) error {
	var wire cborValue
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return err
	}

	decoded := TelemetryValue{kind: wire.Kind}

	var err error

	switch wire.Kind {
	case KindCounter:
		err = cbor.Unmarshal(wire.Value, &decoded.counter)
	case KindGauge:
		err = cbor.Unmarshal(wire.Value, &decoded.gauge)
	case KindText:
		err = cbor.Unmarshal(wire.Value, &decoded.text)
	case KindBoolean:
		err = cbor.Unmarshal(wire.Value, &decoded.boolean)
	case KindBinary:
		err = cbor.Unmarshal(wire.Value, &decoded.binary)
	case KindUnknown:
		err = errInvalidValue
	default:
		err = fmt.Errorf("%w: %d", errUnknownValueKind, wire.Kind)
	}

	if err != nil {
		return fmt.Errorf("%s value: %w", wire.Kind, err)
	}

	*v = decoded

	return nil
}
