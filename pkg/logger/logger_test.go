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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHonoursLevel(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   zerolog.Level
	}{
		{name: "default", config: Config{}, want: zerolog.InfoLevel},
		{name: "explicit", config: Config{Level: "warn"}, want: zerolog.WarnLevel},
		{name: "debug wins", config: Config{Level: "error", Debug: true}, want: zerolog.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(context.Background(), &tt.config)
			require.NoError(t, err)

			zl, ok := l.(*zerologLogger)
			require.True(t, ok)
			assert.Equal(t, tt.want, zl.logger.GetLevel())
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(context.Background(), &Config{Level: "chatty"})
	require.ErrorIs(t, err, ErrInvalidLevel)
}

func TestWriterLoggerEmitsStructuredFields(t *testing.T) {
	var buf bytes.Buffer

	l := NewWriterLogger(&buf, zerolog.InfoLevel)
	component := l.WithComponent("snmp-poller")
	component.Info().Str("target_name", "router01").Msg("poll complete")
	l.Debug().Msg("suppressed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "snmp-poller", entry["component"])
	assert.Equal(t, "router01", entry["target_name"])
	assert.Equal(t, "poll complete", entry["message"])
}

func TestSetDebugTogglesLevel(t *testing.T) {
	l := NewWriterLogger(&bytes.Buffer{}, zerolog.InfoLevel)
	zl := l.(*zerologLogger)

	l.SetDebug(true)
	assert.Equal(t, zerolog.DebugLevel, zl.logger.GetLevel())

	l.SetDebug(false)
	assert.Equal(t, zerolog.InfoLevel, zl.logger.GetLevel())
}

func TestDefaultConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("OTEL_LOGS_ENABLED", "yes")
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_HEADERS", "x-tenant = lab, authorization=token")

	config := DefaultConfig()

	assert.Equal(t, "debug", config.Level)
	assert.True(t, config.OTel.Enabled)
	assert.Equal(t, "collector:4317", config.OTel.Endpoint)
	assert.Equal(t, map[string]string{"x-tenant": "lab", "authorization": "token"}, config.OTel.Headers)
	assert.Equal(t, defaultServiceName, config.OTel.ServiceName)
}

func TestOTelWriterRequiresEndpoint(t *testing.T) {
	_, err := NewOTELWriter(context.Background(), OTelConfig{})
	require.ErrorIs(t, err, ErrOTelLoggingDisabled)

	_, err = NewOTELWriter(context.Background(), OTelConfig{Enabled: true})
	require.ErrorIs(t, err, ErrOTelEndpointRequired)

	_, err = InitializeMetrics(context.Background(), MetricsConfig{OTel: &OTelConfig{}})
	require.ErrorIs(t, err, ErrOTelMetricsDisabled)
}

func TestTruncateString(t *testing.T) {
	out, cut := truncateString(strings.Repeat("é", 10), 8)
	assert.True(t, cut)
	assert.Equal(t, "éé...", out)

	out, cut = truncateString("short", 8)
	assert.False(t, cut)
	assert.Equal(t, "short", out)
}
