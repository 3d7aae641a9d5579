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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
)

type publishedPoint struct {
	key   string
	point *models.TelemetryPoint
}

type recordingPublisher struct {
	mu     sync.Mutex
	points []publishedPoint
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, keySuffix string, point *models.TelemetryPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	r.points = append(r.points, publishedPoint{key: keySuffix, point: point})

	return nil
}

func (r *recordingPublisher) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.points))
	for _, p := range r.points {
		keys = append(keys, p.key)
	}

	return keys
}

func response(pdus ...gosnmp.SnmpPDU) *gosnmp.SnmpPacket {
	return &gosnmp.SnmpPacket{Error: gosnmp.NoError, Variables: pdus}
}

func testTarget() *Target {
	t := &Target{
		Name:      "router01",
		Host:      "192.0.2.10",
		Community: "public",
		Labels:    map[string]string{"site": "lab"},
	}
	t.ApplyDefaults()

	return t
}

func newTestPoller(t *testing.T, target *Target, factory ClientFactory, pub Publisher, presence PresenceTracker) *DevicePoller {
	t.Helper()

	return NewDevicePoller(PollerConfig{
		Target:    target,
		Mapper:    NewOIDNameMapper(DefaultOIDNames(), DefaultOIDPatterns()),
		Factory:   factory,
		Publisher: pub,
		Presence:  presence,
	}, logger.NewTestLogger())
}

func TestWalkStopsAtSubtreeBoundary(t *testing.T) {
	ctrl := gomock.NewController(t)

	target := testTarget()
	target.Walk = []string{"1.3.6.1.2.1.2.2.1"}

	client := NewMockClient(ctrl)
	factory := NewMockClientFactory(ctrl)
	presence := NewMockPresenceTracker(ctrl)
	pub := &recordingPublisher{}

	factory.EXPECT().NewClient(gomock.Any(), target).Return(client, nil)
	client.EXPECT().Connect().Return(nil)

	gomock.InOrder(
		client.EXPECT().GetNext([]string{".1.3.6.1.2.1.2.2.1"}).
			Return(response(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.2.2.1.10.1", Type: gosnmp.Counter32, Value: uint(100)}), nil),
		client.EXPECT().GetNext([]string{".1.3.6.1.2.1.2.2.1.10.1"}).
			Return(response(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.2.2.1.10.2", Type: gosnmp.Counter32, Value: uint(200)}), nil),
		client.EXPECT().GetNext([]string{".1.3.6.1.2.1.2.2.1.10.2"}).
			Return(response(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.3.0", Type: gosnmp.Integer, Value: 1}), nil),
	)

	client.EXPECT().Close().Return(nil)
	presence.EXPECT().DeclareDeviceAlive(gomock.Any(), "router01").Return(nil)

	result := newTestPoller(t, target, factory, pub, presence).PollOnce(context.Background())

	assert.Equal(t, 2, result.Points)
	assert.Equal(t, 2, result.Published)
	assert.Zero(t, result.Failures)
	assert.Equal(t, []string{"router01/if/1/ifInOctets", "router01/if/2/ifInOctets"}, pub.keys())

	first := pub.points[0].point
	assert.Equal(t, "router01", first.Source)
	assert.Equal(t, models.ProtocolSNMP, first.Protocol)
	assert.Equal(t, map[string]string{"site": "lab", "oid": "1.3.6.1.2.1.2.2.1.10.1"}, first.Labels)

	v, ok := first.Value.Counter()
	require.True(t, ok)
	assert.Equal(t, uint64(100), v)
}

func TestWalkStopsOnEndOfMibViewAndNonIncreasingOID(t *testing.T) {
	ctrl := gomock.NewController(t)

	target := testTarget()
	target.Walk = []string{"1.3.6.1.2.1.31.1.1.1.1", "1.3.6.1.2.1.25.3.3.1.2"}

	client := NewMockClient(ctrl)
	factory := NewMockClientFactory(ctrl)
	pub := &recordingPublisher{}

	factory.EXPECT().NewClient(gomock.Any(), gomock.Any()).Return(client, nil)
	client.EXPECT().Connect().Return(nil)
	client.EXPECT().Close().Return(nil)

	gomock.InOrder(
		client.EXPECT().GetNext([]string{".1.3.6.1.2.1.31.1.1.1.1"}).
			Return(response(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.31.1.1.1.1.1", Type: gosnmp.OctetString, Value: []byte("eth0")}), nil),
		client.EXPECT().GetNext([]string{".1.3.6.1.2.1.31.1.1.1.1.1"}).
			Return(response(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.31.1.1.1.1.1", Type: gosnmp.EndOfMibView}), nil),
		client.EXPECT().GetNext([]string{".1.3.6.1.2.1.25.3.3.1.2"}).
			Return(response(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.25.3.3.1.2.196608", Type: gosnmp.Integer, Value: 12}), nil),
		client.EXPECT().GetNext([]string{".1.3.6.1.2.1.25.3.3.1.2.196608"}).
			Return(response(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.25.3.3.1.2.196607", Type: gosnmp.Integer, Value: 3}), nil),
	)

	result := newTestPoller(t, target, factory, pub, nil).PollOnce(context.Background())

	assert.Equal(t, 2, result.Points)
	assert.Equal(t, []string{"router01/if/1/ifName", "router01/host/cpu/196608/hrProcessorLoad"}, pub.keys())
}

func TestWalkRespectsEntryCap(t *testing.T) {
	ctrl := gomock.NewController(t)

	target := testTarget()
	target.Walk = []string{"1.3.6.1.2.1.2.2.1.2"}

	client := NewMockClient(ctrl)
	factory := NewMockClientFactory(ctrl)
	pub := &recordingPublisher{}

	factory.EXPECT().NewClient(gomock.Any(), gomock.Any()).Return(client, nil)
	client.EXPECT().Connect().Return(nil)
	client.EXPECT().Close().Return(nil)

	next := 0
	client.EXPECT().GetNext(gomock.Any()).Times(3).DoAndReturn(func([]string) (*gosnmp.SnmpPacket, error) {
		next++
		name := ".1.3.6.1.2.1.2.2.1.2." + string(rune('0'+next))

		return response(gosnmp.SnmpPDU{Name: name, Type: gosnmp.OctetString, Value: []byte("port")}), nil
	})

	p := NewDevicePoller(PollerConfig{
		Target:         target,
		Mapper:         NewOIDNameMapper(nil, nil),
		Factory:        factory,
		Publisher:      pub,
		MaxWalkEntries: 3,
	}, logger.NewTestLogger())

	result := p.PollOnce(context.Background())
	assert.Equal(t, 3, result.Points)
}

func TestGetFailuresAreIsolated(t *testing.T) {
	ctrl := gomock.NewController(t)

	target := testTarget()
	target.Get = []string{"1.3.6.1.2.1.1.5.0", "1.3.6.1.2.1.1.9.0", ".1.3.6.1.2.1.1.3.0"}

	client := NewMockClient(ctrl)
	factory := NewMockClientFactory(ctrl)
	pub := &recordingPublisher{}

	factory.EXPECT().NewClient(gomock.Any(), gomock.Any()).Return(client, nil)
	client.EXPECT().Connect().Return(nil)
	client.EXPECT().Close().Return(nil)

	gomock.InOrder(
		client.EXPECT().Get([]string{".1.3.6.1.2.1.1.5.0"}).Return(nil, ErrRequestTimeout),
		client.EXPECT().Get([]string{".1.3.6.1.2.1.1.9.0"}).
			Return(response(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.1.9.0", Type: gosnmp.NoSuchObject}), nil),
		client.EXPECT().Get([]string{".1.3.6.1.2.1.1.3.0"}).
			Return(response(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.1.3.0", Type: gosnmp.TimeTicks, Value: uint32(8640000)}), nil),
	)

	p := newTestPoller(t, target, factory, pub, nil)
	result := p.PollOnce(context.Background())

	assert.Equal(t, 1, result.Failures)
	assert.Equal(t, 2, result.Responses)
	assert.Equal(t, 1, result.Points)
	assert.Equal(t, []string{"router01/system/sysUpTime"}, pub.keys())

	status := p.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.True(t, status.Available)
	assert.Equal(t, uint64(1), status.Cycles)
	assert.Equal(t, uint64(1), status.Failures)
	assert.Zero(t, status.RemainingGets)
}

func TestGetErrorStatusYieldsNoPoint(t *testing.T) {
	ctrl := gomock.NewController(t)

	target := testTarget()
	target.Get = []string{"1.3.6.1.2.1.1.5.0"}

	client := NewMockClient(ctrl)
	factory := NewMockClientFactory(ctrl)
	pub := &recordingPublisher{}

	factory.EXPECT().NewClient(gomock.Any(), gomock.Any()).Return(client, nil)
	client.EXPECT().Connect().Return(nil)
	client.EXPECT().Close().Return(nil)
	client.EXPECT().Get(gomock.Any()).Return(&gosnmp.SnmpPacket{Error: gosnmp.GenErr}, nil)

	result := newTestPoller(t, target, factory, pub, nil).PollOnce(context.Background())

	assert.Equal(t, 1, result.Failures)
	assert.Zero(t, result.Points)
	assert.Empty(t, pub.keys())
}

func TestGetNoSuchNameIsNotAFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	target := testTarget()
	target.Version = Version1
	target.Get = []string{"1.3.6.1.2.1.1.5.0"}

	client := NewMockClient(ctrl)
	factory := NewMockClientFactory(ctrl)
	pub := &recordingPublisher{}

	factory.EXPECT().NewClient(gomock.Any(), gomock.Any()).Return(client, nil)
	client.EXPECT().Connect().Return(nil)
	client.EXPECT().Close().Return(nil)
	client.EXPECT().Get(gomock.Any()).Return(&gosnmp.SnmpPacket{Error: gosnmp.NoSuchName, ErrorIndex: 1}, nil)

	result := newTestPoller(t, target, factory, pub, nil).PollOnce(context.Background())

	assert.Zero(t, result.Failures)
	assert.Equal(t, 1, result.Responses)
	assert.Zero(t, result.Points)
	assert.Empty(t, pub.keys())
}

func TestPublishFailuresAreCounted(t *testing.T) {
	ctrl := gomock.NewController(t)

	target := testTarget()
	target.Get = []string{"1.3.6.1.2.1.1.5.0"}

	client := NewMockClient(ctrl)
	factory := NewMockClientFactory(ctrl)
	pub := &recordingPublisher{err: errors.New("transport down")}

	factory.EXPECT().NewClient(gomock.Any(), gomock.Any()).Return(client, nil)
	client.EXPECT().Connect().Return(nil)
	client.EXPECT().Close().Return(nil)
	client.EXPECT().Get(gomock.Any()).
		Return(response(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.1.5.0", Type: gosnmp.OctetString, Value: []byte("r1")}), nil)

	result := newTestPoller(t, target, factory, pub, nil).PollOnce(context.Background())

	assert.Equal(t, 1, result.Points)
	assert.Equal(t, 1, result.PublishFailures)
	assert.Zero(t, result.Published)
}

func TestPresenceFollowsReachabilityTransitions(t *testing.T) {
	ctrl := gomock.NewController(t)

	target := testTarget()
	target.Get = []string{"1.3.6.1.2.1.1.3.0"}

	client := NewMockClient(ctrl)
	factory := NewMockClientFactory(ctrl)
	presence := NewMockPresenceTracker(ctrl)
	pub := &recordingPublisher{}

	factory.EXPECT().NewClient(gomock.Any(), gomock.Any()).Return(client, nil).AnyTimes()
	client.EXPECT().Close().Return(nil).AnyTimes()
	client.EXPECT().Get(gomock.Any()).
		Return(response(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.1.3.0", Type: gosnmp.TimeTicks, Value: uint32(1)}), nil).
		AnyTimes()

	unreachable := errors.New("no route to host")

	gomock.InOrder(
		// cycle 1: session fails while the device was never seen, no presence change
		client.EXPECT().Connect().Return(unreachable),
		// cycle 2 and 3: reachable, declared once
		client.EXPECT().Connect().Return(nil),
		presence.EXPECT().DeclareDeviceAlive(gomock.Any(), "router01").Return(nil),
		client.EXPECT().Connect().Return(nil),
		// cycle 4: unreachable again, undeclared once
		client.EXPECT().Connect().Return(unreachable),
		presence.EXPECT().UndeclareDevice(gomock.Any(), "router01").Return(nil),
	)

	p := newTestPoller(t, target, factory, pub, presence)
	ctx := context.Background()

	first := p.PollOnce(ctx)
	require.ErrorIs(t, first.SessionErr, ErrSession)
	assert.False(t, p.Status().Available)
	assert.NotEmpty(t, p.Status().LastError)

	p.PollOnce(ctx)
	p.PollOnce(ctx)
	assert.True(t, p.Status().Available)

	last := p.PollOnce(ctx)
	require.ErrorIs(t, last.SessionErr, ErrSession)
	assert.Equal(t, uint64(4), p.Status().Cycles)
}

func TestRunPollsImmediatelyAndReleasesPresence(t *testing.T) {
	ctrl := gomock.NewController(t)

	target := testTarget()
	target.Get = []string{"1.3.6.1.2.1.1.3.0"}
	target.Interval = models.Duration(time.Hour)

	client := NewMockClient(ctrl)
	factory := NewMockClientFactory(ctrl)
	presence := NewMockPresenceTracker(ctrl)
	pub := &recordingPublisher{}

	factory.EXPECT().NewClient(gomock.Any(), gomock.Any()).Return(client, nil)
	client.EXPECT().Connect().Return(nil)
	client.EXPECT().Close().Return(nil)
	client.EXPECT().Get(gomock.Any()).
		Return(response(gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.1.3.0", Type: gosnmp.TimeTicks, Value: uint32(1)}), nil)

	declared := make(chan struct{})
	presence.EXPECT().DeclareDeviceAlive(gomock.Any(), "router01").DoAndReturn(func(context.Context, string) error {
		close(declared)
		return nil
	})
	presence.EXPECT().UndeclareDevice(gomock.Any(), "router01").Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	p := newTestPoller(t, target, factory, pub, presence)

	go func() { done <- p.Run(ctx) }()

	select {
	case <-declared:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not run immediately")
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}
