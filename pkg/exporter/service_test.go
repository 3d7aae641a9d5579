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

package exporter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p13marc/zensight-sub001/pkg/aggregator"
	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
	"github.com/p13marc/zensight-sub001/pkg/pubsub"
)

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	require.Eventually(t, srv.JetStreamEnabled, 5*time.Second, 50*time.Millisecond)

	t.Cleanup(srv.Shutdown)

	return srv
}

func connectSession(t *testing.T, srv *server.Server) *pubsub.Session {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := pubsub.Connect(ctx, pubsub.SessionConfig{URL: srv.ClientURL()}, logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(session.Release)

	return session
}

func fetch(url string) (int, string, error) {
	resp, err := http.Get(url) //nolint:gosec,noctx // test against a local listener
	if err != nil {
		return 0, "", err
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)

	return resp.StatusCode, string(body), err
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	status, body, err := fetch(url)
	require.NoError(t, err)

	return status, body
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"zensight/**"}, cfg.Subscriptions)
	assert.Equal(t, defaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, defaultMetricsPath, cfg.MetricsPath)
	assert.Equal(t, "zensight-exporter", cfg.NATS.Name)
	assert.Equal(t, "zensight", cfg.Aggregator.Namespace)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bad subscription", mutate: func(c *Config) { c.Subscriptions = []string{"zensight//snmp"} }},
		{name: "unknown presence protocol", mutate: func(c *Config) { c.Presence = []models.Protocol{"x25"} }},
		{name: "relative metrics path", mutate: func(c *Config) { c.MetricsPath = "metrics" }},
		{name: "negative max series", mutate: func(c *Config) { c.Aggregator.MaxSeries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}
			cfg.ApplyDefaults()
			tt.mutate(&cfg)

			_, err := NewService(cfg, logger.NewTestLogger())
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestPresencePoint(t *testing.T) {
	at := time.UnixMilli(1700000000000)

	device := presencePoint(models.ProtocolSNMP, pubsub.PresenceEvent{
		DeviceID: "router01", Bridge: "zensight-snmp", Online: true, Time: at,
	})
	require.NotNil(t, device)
	assert.Equal(t, "router01", device.Source)
	assert.Equal(t, presenceDeviceMetric, device.Metric)
	assert.Equal(t, int64(1700000000000), device.Timestamp)
	assert.Equal(t, map[string]string{bridgeLabel: "zensight-snmp"}, device.Labels)

	v, ok := device.Value.Bool()
	require.True(t, ok)
	assert.True(t, v)

	bridge := presencePoint(models.ProtocolSNMP, pubsub.PresenceEvent{Bridge: "zensight-snmp"})
	require.NotNil(t, bridge)
	assert.Equal(t, "zensight-snmp", bridge.Source)
	assert.Equal(t, presenceBridgeMetric, bridge.Metric)
	assert.Empty(t, bridge.Labels)

	assert.Nil(t, presencePoint(models.ProtocolSNMP, pubsub.PresenceEvent{}))
}

func TestServiceExportsPublishedTelemetry(t *testing.T) {
	srv := runJetStreamServer(t)
	ctx := context.Background()
	log := logger.NewTestLogger()

	bridgeSession := connectSession(t, srv)

	presence, err := pubsub.NewLivelinessManager(ctx, bridgeSession, "zensight-snmp", models.ProtocolSNMP,
		pubsub.LivelinessConfig{}, log)
	require.NoError(t, err)

	registry, err := pubsub.NewRegistry(bridgeSession, models.ProtocolSNMP, pubsub.PublisherConfig{}, log)
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	svc, err := NewService(Config{
		NATS:          pubsub.SessionConfig{URL: srv.ClientURL()},
		Presence:      []models.Protocol{models.ProtocolSNMP},
		PresenceRetry: models.Duration(100 * time.Millisecond),
		ListenAddr:    "127.0.0.1:0",
	}, log)
	require.NoError(t, err)

	require.NoError(t, svc.Start(ctx))
	require.ErrorIs(t, svc.Start(ctx), ErrAlreadyStarted)

	base := "http://" + svc.Addr()

	require.NoError(t, presence.DeclareDeviceAlive(ctx, "router01"))

	point := models.NewTelemetryPoint("router01", models.ProtocolSNMP, "system/sysUpTime", models.CounterValue(4200))

	require.Eventually(t, func() bool {
		if err := registry.Publish(ctx, "router01/system/sysUpTime", point); err != nil {
			return false
		}

		_, body, err := fetch(base + "/metrics")

		return err == nil && containsAll(body,
			`zensight_snmp_system_sysUpTime{source="router01"} 4200`,
			`zensight_snmp_presence_device_up{bridge="zensight-snmp",source="router01"} 1`,
		)
	}, 10*time.Second, 100*time.Millisecond)

	status, body := get(t, base+"/internal/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "zensight_exporter_samples_received_total")
	assert.Contains(t, body, "zensight_aggregator_points_accepted_total")

	status, _ = get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Positive(t, svc.SubscriberStats().Received)

	require.NoError(t, presence.UndeclareDevice(ctx, "router01"))

	require.Eventually(t, func() bool {
		_, body, err := fetch(base + "/metrics")

		return err == nil && containsAll(body, `zensight_snmp_presence_device_up{bridge="zensight-snmp",source="router01"} 0`)
	}, 10*time.Second, 100*time.Millisecond)

	require.NoError(t, presence.Close(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	require.NoError(t, svc.Stop(stopCtx))
	require.NoError(t, svc.Stop(stopCtx))
	assert.Empty(t, svc.Addr())
	assert.Equal(t, pubsub.SubscriberStats{}, svc.SubscriberStats())
}

func TestPresenceSeriesOutliveStaleTimeout(t *testing.T) {
	srv := runJetStreamServer(t)
	ctx := context.Background()
	log := logger.NewTestLogger()

	ttl := models.Duration(900 * time.Millisecond)

	presence, err := pubsub.NewLivelinessManager(ctx, connectSession(t, srv), "zensight-snmp", models.ProtocolSNMP,
		pubsub.LivelinessConfig{TTL: ttl}, log)
	require.NoError(t, err)

	svc, err := NewService(Config{
		NATS:          pubsub.SessionConfig{URL: srv.ClientURL()},
		Presence:      []models.Protocol{models.ProtocolSNMP},
		PresenceRetry: models.Duration(100 * time.Millisecond),
		Subscriber:    pubsub.SubscriberConfig{PresenceTTL: ttl},
		Aggregator: aggregator.Config{
			StaleTimeout:    models.Duration(time.Second),
			CleanupInterval: models.Duration(100 * time.Millisecond),
		},
		ListenAddr: "127.0.0.1:0",
	}, log)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))

	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		assert.NoError(t, presence.Close(stopCtx))
		assert.NoError(t, svc.Stop(stopCtx))
	}()

	require.NoError(t, presence.DeclareDeviceAlive(ctx, "router01"))

	up := `zensight_snmp_presence_device_up{bridge="zensight-snmp",source="router01"} 1`
	url := "http://" + svc.Addr() + "/metrics"

	require.Eventually(t, func() bool {
		_, body, err := fetch(url)

		return err == nil && containsAll(body, up)
	}, 10*time.Second, 100*time.Millisecond)

	// Three stale timeouts without any transition.
	time.Sleep(3 * time.Second)

	require.True(t, presence.IsDeviceAlive("router01"))

	status, body := get(t, url)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, up)
	assert.Contains(t, body, `zensight_snmp_presence_bridge_up{source="zensight-snmp"} 1`)
}

func TestHandlerWhileStopped(t *testing.T) {
	svc, err := NewService(Config{}, logger.NewTestLogger())
	require.NoError(t, err)

	svc.Collector().Record(models.NewTelemetryPoint("host01", models.ProtocolSysinfo, "load/1", models.GaugeValue(0.5)))

	handler := svc.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "# TYPE zensight_sysinfo_load_1 gauge")
	assert.Contains(t, rec.Body.String(), `zensight_sysinfo_load_1{source="host01"} 0.5`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func containsAll(body string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(body, p) {
			return false
		}
	}

	return true
}
