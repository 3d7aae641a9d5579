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
	"sort"
	"strings"
)

const indexPlaceholder = "{index}"

// DefaultOIDNames covers the MIB-II system group.
func DefaultOIDNames() map[string]string {
	return map[string]string{
		"1.3.6.1.2.1.1.1.0": "system/sysDescr",
		"1.3.6.1.2.1.1.2.0": "system/sysObjectID",
		"1.3.6.1.2.1.1.3.0": "system/sysUpTime",
		"1.3.6.1.2.1.1.4.0": "system/sysContact",
		"1.3.6.1.2.1.1.5.0": "system/sysName",
		"1.3.6.1.2.1.1.6.0": "system/sysLocation",
		"1.3.6.1.2.1.1.7.0": "system/sysServices",
	}
}

// DefaultOIDPatterns covers ifTable, ifXTable and hrProcessorTable columns.
func DefaultOIDPatterns() map[string]string {
	patterns := map[string]string{
		"1.3.6.1.2.1.25.3.3.1.2": "host/cpu/{index}/hrProcessorLoad",
	}

	ifTable := map[string]string{
		"1": "ifIndex", "2": "ifDescr", "3": "ifType", "4": "ifMtu", "5": "ifSpeed",
		"6": "ifPhysAddress", "7": "ifAdminStatus", "8": "ifOperStatus", "9": "ifLastChange",
		"10": "ifInOctets", "11": "ifInUcastPkts", "13": "ifInDiscards", "14": "ifInErrors",
		"16": "ifOutOctets", "17": "ifOutUcastPkts", "19": "ifOutDiscards", "20": "ifOutErrors",
	}
	for column, name := range ifTable {
		patterns["1.3.6.1.2.1.2.2.1."+column] = "if/{index}/" + name
	}

	ifXTable := map[string]string{
		"1": "ifName", "6": "ifHCInOctets", "10": "ifHCOutOctets", "15": "ifHighSpeed", "18": "ifAlias",
	}
	for column, name := range ifXTable {
		patterns["1.3.6.1.2.1.31.1.1.1."+column] = "if/{index}/" + name
	}

	return patterns
}

type oidPattern struct {
	prefix   string
	template string
}

// OIDNameMapper turns numeric OIDs into metric paths.
type OIDNameMapper struct {
	exact    map[string]string
	patterns []oidPattern
}

// NewOIDNameMapper copies names and patterns. Patterns are ordered by descending
// prefix length, ties broken lexicographically, so the most specific one wins.
func NewOIDNameMapper(names, patterns map[string]string) *OIDNameMapper {
	m := &OIDNameMapper{
		exact:    make(map[string]string, len(names)),
		patterns: make([]oidPattern, 0, len(patterns)),
	}

	for oid, name := range names {
		m.exact[normalizeOID(oid)] = name
	}

	for prefix, template := range patterns {
		m.patterns = append(m.patterns, oidPattern{prefix: normalizeOID(prefix), template: template})
	}

	sort.Slice(m.patterns, func(i, j int) bool {
		a, b := m.patterns[i].prefix, m.patterns[j].prefix
		if len(a) != len(b) {
			return len(a) > len(b)
		}

		return a < b
	})

	return m
}

// NewOIDNameMapperFromConfig layers the configured mappings over the defaults.
func NewOIDNameMapperFromConfig(cfg *Config) *OIDNameMapper {
	names := make(map[string]string)
	patterns := make(map[string]string)

	if !cfg.DisableDefaultNames {
		names = DefaultOIDNames()
		patterns = DefaultOIDPatterns()
	}

	for k, v := range cfg.OIDNames {
		names[k] = v
	}

	for k, v := range cfg.OIDPatterns {
		patterns[k] = v
	}

	return NewOIDNameMapper(names, patterns)
}

// Resolve returns the exact name for oid, else the longest matching pattern with the
// remaining sub-identifiers substituted for {index}, else the OID itself.
func (m *OIDNameMapper) Resolve(oid string) string {
	oid = normalizeOID(oid)

	if name, ok := m.exact[oid]; ok {
		return name
	}

	for _, p := range m.patterns {
		if !strings.HasPrefix(oid, p.prefix+".") {
			continue
		}

		index := oid[len(p.prefix)+1:]

		if strings.Contains(p.template, indexPlaceholder) {
			return strings.ReplaceAll(p.template, indexPlaceholder, index)
		}

		return p.template + "/" + index
	}

	return oid
}

func normalizeOID(oid string) string {
	return strings.TrimPrefix(strings.TrimSpace(oid), ".")
}
