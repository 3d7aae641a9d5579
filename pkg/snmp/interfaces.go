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

//go:generate mockgen -destination=mock_snmp.go -package=snmp github.com/p13marc/zensight-sub001/pkg/snmp Client,ClientFactory,Publisher,PresenceTracker

package snmp

import (
	"context"

	"github.com/gosnmp/gosnmp"

	"github.com/p13marc/zensight-sub001/pkg/models"
)

// Client is a single SNMP session to one device.
type Client interface {
	Connect() error
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	GetNext(oids []string) (*gosnmp.SnmpPacket, error)
	Close() error
}

// ClientFactory opens a new, unconnected Client for a target.
type ClientFactory interface {
	NewClient(ctx context.Context, target *Target) (Client, error)
}

// Publisher is the distribution layer as seen by a protocol worker.
type Publisher interface {
	Publish(ctx context.Context, keySuffix string, point *models.TelemetryPoint) error
}

// PresenceTracker records device reachability transitions.
type PresenceTracker interface {
	DeclareDeviceAlive(ctx context.Context, deviceID string) error
	UndeclareDevice(ctx context.Context, deviceID string) error
}
