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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p13marc/zensight-sub001/pkg/models"
)

func TestKeyToSubject(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		subject string
	}{
		{name: "data key", key: "zensight/snmp/router01/system/sysUpTime", subject: "zensight.snmp.router01.system.sysUpTime"},
		{name: "dotted oid", key: "zensight/snmp/router01/1.3.6.1", subject: "zensight.snmp.router01.1%2E3%2E6%2E1"},
		{name: "multi wildcard", key: "zensight/snmp/**", subject: "zensight.snmp.>"},
		{name: "single wildcard", key: "zensight/*/router01/**", subject: "zensight.*.router01.>"},
		{name: "admin", key: "zensight/snmp/@/devices/core sw/alive", subject: "zensight.snmp.@.devices.core%20sw.alive"},
		{name: "percent and star", key: "zensight/sysinfo/h/50%*", subject: "zensight.sysinfo.h.50%25%2A"},
		{name: "greater than", key: "zensight/syslog/h/>", subject: "zensight.syslog.h.%3E"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, err := KeyToSubject(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.subject, subject)

			key, err := SubjectToKey(subject)
			require.NoError(t, err)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestKeyToSubjectRejects(t *testing.T) {
	for _, key := range []string{"", "zensight//snmp", "zensight/**/snmp", "trailing/"} {
		_, err := KeyToSubject(key)
		require.ErrorIs(t, err, ErrInvalidKey, key)
	}

	for _, subject := range []string{"", "a..b", "a.>.b", "a.bad%2", "a.bad%ZZ"} {
		_, err := SubjectToKey(subject)
		require.ErrorIs(t, err, ErrInvalidKey, subject)
	}
}

func TestSubjectMatches(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"zensight.snmp.r1.if", "zensight.snmp.r1.if", true},
		{"zensight.*.r1.if", "zensight.snmp.r1.if", true},
		{"zensight.snmp.>", "zensight.snmp.r1.if.1", true},
		{"zensight.snmp.>", "zensight.snmp", false},
		{"zensight.snmp.r1", "zensight.snmp.r1.if", false},
		{"zensight.snmp.r1.if.x", "zensight.snmp.r1.if", false},
		{"zensight.syslog.>", "zensight.snmp.r1", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, subjectMatches(tt.pattern, tt.subject), tt.pattern+" ~ "+tt.subject)
	}
}

func TestAuxiliarySubjects(t *testing.T) {
	assert.Equal(t, "_ZCACHE.zensight.snmp.r1.m", cacheSubject("zensight.snmp.r1.m"))
	assert.Equal(t, "_ZHB.zensight.snmp.r1.m", heartbeatSubject("zensight.snmp.r1.m"))
	assert.Equal(t, "_ZPUB.zensight", detectSubject("zensight.snmp.r1.m"))
}

func TestPresenceKeys(t *testing.T) {
	key := presenceKey("zensight", models.ProtocolSNMP, presenceDevicesToken, escapeKVToken("core.sw/1"))
	assert.Equal(t, "zensight.snmp.devices.core=2Esw=2F1", key)

	target, err := parsePresenceKey(key)
	require.NoError(t, err)
	assert.Equal(t, presenceTarget{protocol: models.ProtocolSNMP, deviceID: "core.sw/1"}, target)

	target, err = parsePresenceKey(presenceKey("zensight", models.ProtocolSysinfo, presenceBridgeToken))
	require.NoError(t, err)
	assert.True(t, target.bridge)

	for _, bad := range []string{"zensight.snmp", "zensight.x25.bridge", "zensight.snmp.devices", "zensight.snmp.devices.a=4"} {
		_, err := parsePresenceKey(bad)
		require.ErrorIs(t, err, errBadPresenceKey, bad)
	}

	assert.Equal(t, "zensight.snmp.>", PresenceKeyFilter("zensight", models.ProtocolSNMP))
}

func TestReplayCacheDropsOldest(t *testing.T) {
	p := &AdvancedPublisher{cache: make([]CachedSample, 3)}

	for seq := uint64(1); seq <= 5; seq++ {
		p.remember(CachedSample{Seq: seq})
	}

	seqs := func(samples []CachedSample) []uint64 {
		out := make([]uint64, 0, len(samples))
		for _, s := range samples {
			out = append(out, s.Seq)
		}

		return out
	}

	assert.Equal(t, []uint64{3, 4, 5}, seqs(p.cached(0)))
	assert.Equal(t, []uint64{5}, seqs(p.cached(4)))

	partial := &AdvancedPublisher{cache: make([]CachedSample, 3)}
	partial.remember(CachedSample{Seq: 1})
	assert.Equal(t, []uint64{1}, seqs(partial.cached(0)))

	none := &AdvancedPublisher{}
	none.remember(CachedSample{Seq: 1})
	assert.Empty(t, none.cached(0))
}
