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

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p13marc/zensight-sub001/pkg/lifecycle"
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

func testConfig(srv *server.Server) Config {
	return Config{
		Name:          "zensight-snmp",
		Protocol:      models.ProtocolSNMP,
		NATS:          pubsub.SessionConfig{URL: srv.ClientURL()},
		ShutdownGrace: models.Duration(5 * time.Second),
	}
}

// statusWatcher follows the raw status subject with a plain NATS connection.
func statusWatcher(t *testing.T, srv *server.Server) *nats.Subscription {
	t.Helper()

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	subject, err := pubsub.KeyToSubject(models.NewKeyExpr(models.ProtocolSNMP).StatusKey())
	require.NoError(t, err)

	sub, err := nc.SubscribeSync(subject)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	return sub
}

func nextStatus(t *testing.T, sub *nats.Subscription) models.StatusRecord {
	t.Helper()

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var rec models.StatusRecord
	require.NoError(t, json.Unmarshal(msg.Data, &rec))

	return rec
}

type recordingService struct {
	name     string
	events   *[]string
	mu       *sync.Mutex
	startErr error
}

func (s *recordingService) record(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	*s.events = append(*s.events, event+" "+s.name)
}

func (s *recordingService) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}

	s.record("start")

	return nil
}

func (s *recordingService) Stop(context.Context) error {
	s.record("stop")

	return nil
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	cfg := Config{Name: "zensight-snmp", Protocol: models.ProtocolSNMP}
	cfg.ApplyDefaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, models.DefaultKeyPrefix, cfg.KeyPrefix)
	assert.Equal(t, models.DefaultKeyPrefix, cfg.Publisher.KeyPrefix)
	assert.Equal(t, models.DefaultKeyPrefix, cfg.Liveliness.KeyPrefix)
	assert.Equal(t, "zensight-snmp", cfg.NATS.Name)
	assert.Equal(t, models.Duration(defaultShutdownGrace), cfg.ShutdownGrace)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing name", mutate: func(c *Config) { c.Name = "" }},
		{name: "slash in name", mutate: func(c *Config) { c.Name = "a/b" }},
		{name: "unknown protocol", mutate: func(c *Config) { c.Protocol = "x25" }},
		{name: "slash in prefix", mutate: func(c *Config) { c.KeyPrefix = "a/b" }},
		{name: "negative grace", mutate: func(c *Config) { c.ShutdownGrace = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := cfg
			tt.mutate(&bad)
			require.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
		})
	}
}

func TestRunLifecycle(t *testing.T) {
	srv := runJetStreamServer(t)
	statuses := statusWatcher(t, srv)

	var (
		mu      sync.Mutex
		events  []string
		runtime *Runtime
	)

	setup := func(ctx context.Context, rt *Runtime) ([]lifecycle.Service, error) {
		runtime = rt

		require.NoError(t, rt.Supervisor().Spawn(ctx, "sysinfo/host", blockUntilDone))

		return []lifecycle.Service{
			&recordingService{name: "first", events: &events, mu: &mu},
			&recordingService{name: "second", events: &events, mu: &mu},
		}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)

	go func() {
		result <- Run(ctx, testConfig(srv), logger.NewTestLogger(), setup)
	}()

	rec := nextStatus(t, statuses)
	assert.Equal(t, models.StatusRunning, rec.Status)
	assert.Equal(t, "zensight-snmp", rec.Bridge)
	assert.Equal(t, "snmp", rec.Metadata["protocol"])
	assert.InDelta(t, 2, rec.Metadata["services"], 0)

	cancel()

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("bridge did not shut down")
	}

	rec = nextStatus(t, statuses)
	assert.Equal(t, models.StatusOffline, rec.Status)

	mu.Lock()
	assert.Equal(t, []string{"start first", "start second", "stop second", "stop first"}, events)
	mu.Unlock()

	assert.Empty(t, runtime.Supervisor().Running())
	assert.True(t, runtime.Session().Closed())
}

func TestRunReportsStartFailure(t *testing.T) {
	srv := runJetStreamServer(t)
	statuses := statusWatcher(t, srv)

	var (
		mu     sync.Mutex
		events []string
	)

	startErr := errors.New("no targets reachable")

	setup := func(context.Context, *Runtime) ([]lifecycle.Service, error) {
		return []lifecycle.Service{
			&recordingService{name: "first", events: &events, mu: &mu},
			&recordingService{name: "second", events: &events, mu: &mu, startErr: startErr},
		}, nil
	}

	err := Run(context.Background(), testConfig(srv), logger.NewTestLogger(), setup)
	require.ErrorIs(t, err, startErr)

	rec := nextStatus(t, statuses)
	assert.Equal(t, models.StatusError, rec.Status)
	assert.Equal(t, startErr.Error(), rec.Metadata["error"])

	rec = nextStatus(t, statuses)
	assert.Equal(t, models.StatusOffline, rec.Status)

	mu.Lock()
	assert.Equal(t, []string{"start first", "stop first"}, events)
	mu.Unlock()
}

func TestRunReportsSetupFailure(t *testing.T) {
	srv := runJetStreamServer(t)
	statuses := statusWatcher(t, srv)

	setupErr := errors.New("bad oid mapping")

	err := Run(context.Background(), testConfig(srv), logger.NewTestLogger(),
		func(context.Context, *Runtime) ([]lifecycle.Service, error) { return nil, setupErr })
	require.ErrorIs(t, err, setupErr)

	rec := nextStatus(t, statuses)
	assert.Equal(t, models.StatusError, rec.Status)
}

func TestRuntimeChannelsShareSession(t *testing.T) {
	srv := runJetStreamServer(t)
	ctx := context.Background()

	rt, err := NewRuntime(ctx, testConfig(srv), logger.NewTestLogger())
	require.NoError(t, err)

	snmp, err := rt.Channel(ctx, models.ProtocolSNMP)
	require.NoError(t, err)

	again, err := rt.Channel(ctx, models.ProtocolSNMP)
	require.NoError(t, err)
	assert.Same(t, snmp, again)

	host, err := rt.Channel(ctx, models.ProtocolSysinfo)
	require.NoError(t, err)
	assert.Equal(t, models.ProtocolSysinfo, host.Registry.KeyExpr().Protocol())

	// status, two registries and two presence managers plus the runtime's own hold.
	assert.Equal(t, 6, rt.Session().Refs())

	require.NoError(t, rt.shutdown(ctx, nil))
	assert.True(t, rt.Session().Closed())
}

func TestNewRuntimeRejectsInvalidConfig(t *testing.T) {
	_, err := NewRuntime(context.Background(), Config{Protocol: models.ProtocolSNMP}, logger.NewTestLogger())
	require.ErrorIs(t, err, ErrInvalidConfig)
}
