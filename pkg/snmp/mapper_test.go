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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePrecedence(t *testing.T) {
	m := NewOIDNameMapper(
		map[string]string{
			"1.3.6.1.2.1.2.2.1.10.7": "uplink/inOctets",
		},
		map[string]string{
			"1.3.6.1.2.1.2.2":       "ifTable/{index}",
			"1.3.6.1.2.1.2.2.1.10":  "if/{index}/ifInOctets",
			".1.3.6.1.4.1.9.9.13.1": "cisco/env",
		},
	)

	tests := []struct {
		name string
		oid  string
		want string
	}{
		{name: "exact beats prefix", oid: "1.3.6.1.2.1.2.2.1.10.7", want: "uplink/inOctets"},
		{name: "leading dot ignored", oid: ".1.3.6.1.2.1.2.2.1.10.7", want: "uplink/inOctets"},
		{name: "longer prefix wins", oid: "1.3.6.1.2.1.2.2.1.10.3", want: "if/3/ifInOctets"},
		{name: "shorter prefix fallback", oid: "1.3.6.1.2.1.2.2.1.16.3", want: "ifTable/1.16.3"},
		{name: "template without placeholder", oid: "1.3.6.1.4.1.9.9.13.1.3.1.3.1", want: "cisco/env/3.1.3.1"},
		{name: "prefix needs dot boundary", oid: "1.3.6.1.2.1.2.20.1", want: "1.3.6.1.2.1.2.20.1"},
		{name: "unknown oid returned raw", oid: ".1.3.6.1.4.1.2021.10.1.3.1", want: "1.3.6.1.4.1.2021.10.1.3.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Resolve(tt.oid))
		})
	}
}

func TestPatternOrderIsDeterministic(t *testing.T) {
	m := NewOIDNameMapper(nil, map[string]string{
		"1.3.6.1.2": "b",
		"1.3.6.1.1": "a",
		"1.3.6.1":   "short",
	})

	got := make([]string, 0, len(m.patterns))
	for _, p := range m.patterns {
		got = append(got, p.prefix)
	}

	assert.Equal(t, []string{"1.3.6.1.1", "1.3.6.1.2", "1.3.6.1"}, got)
}

func TestMapperFromConfig(t *testing.T) {
	m := NewOIDNameMapperFromConfig(&Config{
		OIDNames: map[string]string{"1.3.6.1.2.1.1.5.0": "identity/hostname"},
	})

	assert.Equal(t, "identity/hostname", m.Resolve("1.3.6.1.2.1.1.5.0"))
	assert.Equal(t, "system/sysUpTime", m.Resolve("1.3.6.1.2.1.1.3.0"))
	assert.Equal(t, "if/12/ifHCInOctets", m.Resolve("1.3.6.1.2.1.31.1.1.1.6.12"))

	bare := NewOIDNameMapperFromConfig(&Config{DisableDefaultNames: true})
	assert.Equal(t, "1.3.6.1.2.1.1.3.0", bare.Resolve("1.3.6.1.2.1.1.3.0"))
}
