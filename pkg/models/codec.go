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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Format selects the wire encoding of a TelemetryPoint.
type Format uint8

const (
	FormatJSON Format = iota
	// FormatBinary is the compact CBOR encoding with integer field keys.
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatBinary:
		return "cbor"
	}

	return "unknown"
}

// ParseFormat accepts "json", "cbor" or "binary" (case insensitive).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json", "":
		return FormatJSON, nil
	case "cbor", "binary":
		return FormatBinary, nil
	}

	return FormatJSON, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(b []byte) error {
	parsed, err := ParseFormat(string(b))
	if err != nil {
		return err
	}

	*f = parsed

	return nil
}

//nolint:gochecknoglobals // encoder mode is immutable and safe for concurrent use
var cborEncMode = func() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	return mode
}()

// Encode serializes p in the requested format.
func Encode(p *TelemetryPoint, format Format) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch format {
	case FormatJSON:
		data, err = json.Marshal(p)
	case FormatBinary:
		data, err = cborEncMode.Marshal(p)
	default:
		return nil, fmt.Errorf("%w: %w %d", ErrEncode, ErrUnknownFormat, format)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	return data, nil
}

// Decode parses data produced by Encode with the same format and validates the result.
func Decode(data []byte, format Format) (*TelemetryPoint, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrDecode, ErrEmptyPayload)
	}

	var (
		p   TelemetryPoint
		err error
	)

	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &p)
	case FormatBinary:
		err = cbor.Unmarshal(data, &p)
	default:
		return nil, fmt.Errorf("%w: %w %d", ErrDecode, ErrUnknownFormat, format)
	}

	if err != nil {
		return nil, fmt.Errorf("%w (%s): %w", ErrDecode, format, err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return &p, nil
}

// DetectFormat guesses the encoding from the first byte: '{' or '[' means JSON and
// anything else is treated as binary. This is a heuristic; callers that need certainty
// must carry the format alongside the payload.
func DetectFormat(data []byte) Format {
	if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
		return FormatJSON
	}

	return FormatBinary
}

// DecodeAuto decodes data using DetectFormat.
func DecodeAuto(data []byte) (*TelemetryPoint, error) {
	return Decode(data, DetectFormat(data))
}
