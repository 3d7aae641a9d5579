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

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p13marc/zensight-sub001/pkg/bridge"
	"github.com/p13marc/zensight-sub001/pkg/config"
	"github.com/p13marc/zensight-sub001/pkg/models"
	"github.com/p13marc/zensight-sub001/pkg/pubsub"
	"github.com/p13marc/zensight-sub001/pkg/snmp"
)

const sampleYAML = `
bridge:
  nats:
    url: nats://127.0.0.1:4222
  shutdown_grace: 5s
snmp:
  targets:
    - name: router01
      host: 192.0.2.1
      community: public
      version: v2c
      interval: 10s
      get:
        - 1.3.6.1.2.1.1.3.0
      walk:
        - 1.3.6.1.2.1.2.2.1
sysinfo:
  enabled: true
  source: collector01
  interval: 15s
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadYAMLConfig(t *testing.T) {
	var cfg Config

	err := config.NewConfig(nil).LoadAndValidate(context.Background(), writeConfig(t, "snmp.yaml", sampleYAML), &cfg)
	require.NoError(t, err)

	assert.Equal(t, defaultBridgeName, cfg.Bridge.Name)
	assert.Equal(t, models.ProtocolSNMP, cfg.Bridge.Protocol)
	assert.Equal(t, models.Duration(5*time.Second), cfg.Bridge.ShutdownGrace)
	assert.Equal(t, "zensight-snmp", cfg.Bridge.NATS.Name)

	require.Len(t, cfg.SNMP.Targets, 1)
	target := cfg.SNMP.Targets[0]
	assert.Equal(t, snmp.Version2c, target.Version)
	assert.Equal(t, uint16(161), target.Port)
	assert.Equal(t, models.Duration(10*time.Second), target.Interval)

	assert.Equal(t, "collector01", cfg.Sysinfo.Source)
	assert.Equal(t, models.Duration(15*time.Second), cfg.Sysinfo.Interval)
}

func TestLoadJSONConfigRejectsUnknownFields(t *testing.T) {
	var cfg Config

	path := writeConfig(t, "snmp.json", `{"bridge":{"nats":{"url":"nats://127.0.0.1:4222"}},"snmp":{"targets":[]},"extra":1}`)

	err := config.NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)
	require.Error(t, err)
}

func TestConfigValidationSurfacesSectionErrors(t *testing.T) {
	cfg := Config{
		Bridge: bridge.Config{NATS: pubsub.SessionConfig{URL: "nats://127.0.0.1:4222"}},
		SNMP: snmp.Config{Targets: []snmp.Target{
			{Name: "a/b", Host: "192.0.2.1", Community: "public", Get: []string{"1.3.6.1.2.1.1.3.0"}},
		}},
	}

	require.Error(t, cfg.Validate())

	cfg.SNMP.Targets[0].Name = "router01"
	require.NoError(t, cfg.Validate())
}
