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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
)

// PollState is the externally visible state of a DevicePoller.
type PollState string

const (
	StateIdle    PollState = "idle"
	StatePolling PollState = "polling"
)

const (
	oidLabel            = "oid"
	presenceReleaseWait = 2 * time.Second
)

// TargetStatus is a snapshot of one poller.
type TargetStatus struct {
	Name            string    `json:"name"`
	Host            string    `json:"host"`
	State           PollState `json:"state"`
	Available       bool      `json:"available"`
	LastPoll        time.Time `json:"last_poll"`
	LastError       string    `json:"last_error,omitempty"`
	RemainingGets   int       `json:"remaining_gets"`
	RemainingWalks  int       `json:"remaining_walks"`
	Cycles          uint64    `json:"cycles"`
	PointsPublished uint64    `json:"points_published"`
	Failures        uint64    `json:"failures"`
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	// Points is the number of points produced, published or not.
	Points          int
	Published       int
	PublishFailures int
	// Failures counts requests that errored, timed out or returned an error status.
	Failures  int
	Responses int
	// SessionErr is set when the cycle was aborted because no session could be opened.
	SessionErr error
}

// PollerConfig bundles what a DevicePoller needs.
type PollerConfig struct {
	Target         *Target
	Mapper         *OIDNameMapper
	Factory        ClientFactory
	Publisher      Publisher
	Presence       PresenceTracker
	MaxWalkEntries int
}

// DevicePoller runs the GET and WALK battery of one target on a fixed interval.
// Each cycle opens a new session and closes it before returning; nothing but the
// status snapshot and the presence flag survives between cycles.
type DevicePoller struct {
	target    *Target
	mapper    *OIDNameMapper
	factory   ClientFactory
	publisher Publisher
	presence  PresenceTracker
	maxWalk   int
	logger    logger.Logger

	mu     sync.RWMutex
	status TargetStatus
	alive  bool
}

func NewDevicePoller(cfg PollerConfig, log logger.Logger) *DevicePoller {
	maxWalk := cfg.MaxWalkEntries
	if maxWalk <= 0 {
		maxWalk = defaultMaxWalkEntries
	}

	return &DevicePoller{
		target:    cfg.Target,
		mapper:    cfg.Mapper,
		factory:   cfg.Factory,
		publisher: cfg.Publisher,
		presence:  cfg.Presence,
		maxWalk:   maxWalk,
		logger:    log,
		status: TargetStatus{
			Name:  cfg.Target.Name,
			Host:  cfg.Target.Host,
			State: StateIdle,
		},
	}
}

// Run polls immediately, then on every interval tick until ctx is cancelled.
func (p *DevicePoller) Run(ctx context.Context) error {
	interval := time.Duration(p.target.Interval)

	p.logger.Info().
		Str("target_name", p.target.Name).
		Str("target_host", p.target.Host).
		Dur("interval", interval).
		Int("get_count", len(p.target.Get)).
		Int("walk_count", len(p.target.Walk)).
		Msg("Starting device poller")

	defer p.releasePresence(ctx)

	p.PollOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Str("target_name", p.target.Name).Msg("Device poller stopped")

			return nil
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs one full cycle: every GET address in order, then every WALK root.
func (p *DevicePoller) PollOnce(ctx context.Context) CycleResult {
	var result CycleResult

	p.beginCycle()

	client, err := p.openSession(ctx)
	if err != nil {
		result.SessionErr = err

		p.logger.Warn().
			Err(err).
			Str("target_name", p.target.Name).
			Str("target_host", p.target.Host).
			Msg("Failed to open SNMP session, skipping cycle")

		p.endCycle(&result)
		p.updatePresence(ctx, false)

		return result
	}

	for _, oid := range p.target.Get {
		if ctx.Err() != nil {
			break
		}

		p.get(ctx, client, oid, &result)
		p.advance(-1, 0)
	}

	for _, root := range p.target.Walk {
		if ctx.Err() != nil {
			break
		}

		p.walk(ctx, client, root, &result)
		p.advance(0, -1)
	}

	if err := client.Close(); err != nil {
		p.logger.Debug().Err(err).Str("target_name", p.target.Name).Msg("Failed to close SNMP session")
	}

	p.endCycle(&result)
	p.updatePresence(ctx, result.Responses > 0)

	p.logger.Debug().
		Str("target_name", p.target.Name).
		Int("points", result.Points).
		Int("published", result.Published).
		Int("failures", result.Failures).
		Msg("Poll cycle complete")

	return result
}

// Status returns a copy of the current status.
func (p *DevicePoller) Status() TargetStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status
}

func (p *DevicePoller) openSession(ctx context.Context) (Client, error) {
	client, err := p.factory.NewClient(ctx, p.target)
	if err != nil {
		return nil, errors.Join(ErrSession, err)
	}

	if err := client.Connect(); err != nil {
		if !errors.Is(err, ErrSession) {
			err = errors.Join(ErrSession, err)
		}

		return nil, err
	}

	return client, nil
}

func (p *DevicePoller) get(ctx context.Context, client Client, oid string, result *CycleResult) {
	oid = normalizeOID(oid)
	if oid == "" {
		return
	}

	packet, err := client.Get([]string{"." + oid})
	if err != nil {
		result.Failures++

		p.logger.Warn().
			Err(err).
			Str("target_name", p.target.Name).
			Str("oid", oid).
			Bool("timeout", errors.Is(err, ErrRequestTimeout)).
			Msg("SNMP GET failed")

		return
	}

	result.Responses++

	// SNMPv1 agents report an absent object as a NoSuchName error status.
	if packet.Error == gosnmp.NoSuchName {
		p.logger.Debug().
			Str("target_name", p.target.Name).
			Str("oid", oid).
			Msg("SNMP GET object not present")

		return
	}

	if packet.Error != gosnmp.NoError {
		result.Failures++

		p.logger.Warn().
			Str("target_name", p.target.Name).
			Str("oid", oid).
			Str("error_status", packet.Error.String()).
			Msg("SNMP GET returned error status")

		return
	}

	for i := range packet.Variables {
		p.emit(ctx, packet.Variables[i], result)
	}
}

// walk issues GETNEXT from root until the response leaves the subtree, a sentinel
// comes back, a request fails, the OID stops advancing or the entry cap is reached.
func (p *DevicePoller) walk(ctx context.Context, client Client, root string, result *CycleResult) {
	root = normalizeOID(root)
	if root == "" {
		return
	}

	current := root

	for n := 0; n < p.maxWalk; n++ {
		if ctx.Err() != nil {
			return
		}

		packet, err := client.GetNext([]string{"." + current})
		if err != nil {
			result.Failures++

			p.logger.Warn().
				Err(err).
				Str("target_name", p.target.Name).
				Str("root", root).
				Str("oid", current).
				Bool("timeout", errors.Is(err, ErrRequestTimeout)).
				Msg("SNMP WALK request failed")

			return
		}

		result.Responses++

		if packet.Error != gosnmp.NoError {
			if packet.Error != gosnmp.NoSuchName {
				result.Failures++
			}

			return
		}

		if len(packet.Variables) == 0 {
			return
		}

		pdu := packet.Variables[0]
		if isEndOfData(pdu.Type) {
			return
		}

		next := normalizeOID(pdu.Name)
		if !inSubtree(root, next) {
			return
		}

		if compareOIDs(next, current) <= 0 {
			p.logger.Warn().
				Str("target_name", p.target.Name).
				Str("root", root).
				Str("oid", next).
				Msg("Agent returned a non-increasing OID, ending walk")

			return
		}

		p.emit(ctx, pdu, result)
		current = next
	}

	p.logger.Warn().
		Str("target_name", p.target.Name).
		Str("root", root).
		Int("max_walk_entries", p.maxWalk).
		Msg("Walk truncated at entry cap")
}

func (p *DevicePoller) emit(ctx context.Context, pdu gosnmp.SnmpPDU, result *CycleResult) {
	value, ok := ConvertPDU(pdu)
	if !ok {
		return
	}

	oid := normalizeOID(pdu.Name)
	metric := p.mapper.Resolve(oid)

	point := models.NewTelemetryPoint(p.target.Name, models.ProtocolSNMP, metric, value).
		WithLabels(p.target.Labels).
		WithLabel(oidLabel, oid)

	result.Points++

	if err := p.publisher.Publish(ctx, p.target.Name+"/"+metric, point); err != nil {
		result.PublishFailures++

		p.logger.Debug().
			Err(err).
			Str("target_name", p.target.Name).
			Str("metric", metric).
			Msg("Failed to publish point")

		return
	}

	result.Published++
}

func (p *DevicePoller) beginCycle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = StatePolling
	p.status.RemainingGets = len(p.target.Get)
	p.status.RemainingWalks = len(p.target.Walk)
}

func (p *DevicePoller) advance(gets, walks int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.RemainingGets += gets
	p.status.RemainingWalks += walks
}

func (p *DevicePoller) endCycle(result *CycleResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = StateIdle
	p.status.RemainingGets = 0
	p.status.RemainingWalks = 0
	p.status.LastPoll = time.Now()
	p.status.Cycles++
	p.status.PointsPublished += uint64(result.Published)
	p.status.Failures += uint64(result.Failures)
	p.status.Available = result.SessionErr == nil && result.Responses > 0

	switch {
	case result.SessionErr != nil:
		p.status.LastError = result.SessionErr.Error()
	case result.Responses == 0:
		p.status.LastError = "no responses"
	default:
		p.status.LastError = ""
	}
}

// updatePresence declares or undeclares the device only when reachability changes.
func (p *DevicePoller) updatePresence(ctx context.Context, reachable bool) {
	if p.presence == nil {
		return
	}

	p.mu.Lock()
	changed := p.alive != reachable
	p.alive = reachable
	p.mu.Unlock()

	if !changed {
		return
	}

	var err error
	if reachable {
		err = p.presence.DeclareDeviceAlive(ctx, p.target.Name)
	} else {
		err = p.presence.UndeclareDevice(ctx, p.target.Name)
	}

	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("target_name", p.target.Name).
			Bool("reachable", reachable).
			Msg("Failed to update device presence")

		return
	}

	p.logger.Info().
		Str("target_name", p.target.Name).
		Bool("reachable", reachable).
		Msg("Device presence changed")
}

func (p *DevicePoller) releasePresence(ctx context.Context) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceReleaseWait)
	defer cancel()

	p.updatePresence(releaseCtx, false)
}

func inSubtree(root, oid string) bool {
	return strings.HasPrefix(oid, root+".")
}

// compareOIDs orders dotted OIDs by their numeric sub-identifiers.
func compareOIDs(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")

	for i := 0; i < len(as) && i < len(bs); i++ {
		x, errX := strconv.ParseUint(as[i], 10, 64)
		y, errY := strconv.ParseUint(bs[i], 10, 64)

		if errX != nil || errY != nil {
			if c := strings.Compare(as[i], bs[i]); c != 0 {
				return c
			}

			continue
		}

		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}

	return len(as) - len(bs)
}
