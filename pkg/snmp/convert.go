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

import (
	"math"
	"unicode"
	"unicode/utf8"

	"github.com/gosnmp/gosnmp"

	"github.com/p13marc/zensight-sub001/pkg/models"
)

// ConvertPDU maps one varbind to a telemetry value. ok is false for sentinels
// (noSuchObject, noSuchInstance, endOfMibView, null) and for values whose Go type
// does not match the declared ASN.1 type.
func ConvertPDU(pdu gosnmp.SnmpPDU) (models.TelemetryValue, bool) {
	switch pdu.Type {
	case gosnmp.Integer:
		if v, ok := toFloat64(pdu.Value); ok {
			return models.GaugeValue(v), true
		}
	case gosnmp.Gauge32, gosnmp.Uinteger32:
		if v, ok := toUint64(pdu.Value); ok {
			return models.GaugeValue(float64(v)), true
		}
	case gosnmp.Counter32, gosnmp.Counter64, gosnmp.TimeTicks:
		if v, ok := toUint64(pdu.Value); ok {
			return models.CounterValue(v), true
		}
	case gosnmp.OctetString, gosnmp.ObjectDescription:
		if b, ok := toBytes(pdu.Value); ok {
			if isPrintable(b) {
				return models.TextValue(string(b)), true
			}

			return models.BinaryValue(b), true
		}
	case gosnmp.ObjectIdentifier:
		if s, ok := pdu.Value.(string); ok {
			return models.TextValue(normalizeOID(s)), true
		}
	case gosnmp.IPAddress:
		if s, ok := pdu.Value.(string); ok {
			return models.TextValue(s), true
		}
	case gosnmp.OpaqueFloat, gosnmp.OpaqueDouble:
		if v, ok := toFloat64(pdu.Value); ok {
			return models.GaugeValue(v), true
		}
	case gosnmp.Boolean:
		switch v := pdu.Value.(type) {
		case bool:
			return models.BoolValue(v), true
		case int:
			return models.BoolValue(v != 0), true
		}
	case gosnmp.BitString:
		if b, ok := toBytes(pdu.Value); ok {
			return models.BinaryValue(b), true
		}
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return models.TelemetryValue{}, false
	default:
	}

	return models.TelemetryValue{}, false
}

// isEndOfData reports the sentinels that terminate a walk.
func isEndOfData(t gosnmp.Asn1BER) bool {
	return t == gosnmp.EndOfMibView || t == gosnmp.NoSuchObject || t == gosnmp.NoSuchInstance
}

// isPrintable accepts valid UTF-8 made of printable runes plus newline, tab and carriage return.
func isPrintable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}

	for _, r := range string(b) {
		if r == '\n' || r == '\t' || r == '\r' {
			continue
		}

		if !unicode.IsPrint(r) {
			return false
		}
	}

	return true
}

func toBytes(v interface{}) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case string:
		return []byte(b), true
	}

	return nil, false
}

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case int:
		if n >= 0 {
			return uint64(n), true
		}
	case int64:
		if n >= 0 {
			return uint64(n), true
		}
	}

	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), isFinite(float64(n))
	case float64:
		return n, isFinite(n)
	}

	return 0, false
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
