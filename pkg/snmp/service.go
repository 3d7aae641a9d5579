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

// Package snmp polls SNMP agents with GET and WALK batteries and hands the
// resulting telemetry points to the distribution layer.
package snmp

import (
	"context"
	"fmt"
	"sync"

	"github.com/p13marc/zensight-sub001/pkg/bridge"
	"github.com/p13marc/zensight-sub001/pkg/logger"
)

const workerPrefix = "snmp/"

// SNMPService owns one DevicePoller per configured target.
type SNMPService struct {
	config     *Config
	mapper     *OIDNameMapper
	factory    ClientFactory
	publisher  Publisher
	presence   PresenceTracker
	supervisor *bridge.Supervisor
	logger     logger.Logger

	mu      sync.RWMutex
	pollers map[string]*DevicePoller
	runCtx  context.Context
}

// ServiceOption customizes an SNMPService.
type ServiceOption func(*SNMPService)

// WithClientFactory replaces the gosnmp client factory.
func WithClientFactory(f ClientFactory) ServiceOption {
	return func(s *SNMPService) { s.factory = f }
}

// WithSupervisor runs pollers under a shared supervisor instead of a private one.
func WithSupervisor(sup *bridge.Supervisor) ServiceOption {
	return func(s *SNMPService) { s.supervisor = sup }
}

// NewSNMPService creates a new SNMP monitoring service.
func NewSNMPService(config *Config, publisher Publisher, presence PresenceTracker,
	log logger.Logger, opts ...ServiceOption) (*SNMPService, error) {
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &SNMPService{
		config:    config,
		mapper:    NewOIDNameMapperFromConfig(config),
		factory:   NewClientFactory(),
		publisher: publisher,
		presence:  presence,
		logger:    log,
		pollers:   make(map[string]*DevicePoller),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.supervisor == nil {
		s.supervisor = bridge.NewSupervisor(log)
	}

	return s, nil
}

// Start spawns a poller for every configured target.
func (s *SNMPService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runCtx = ctx

	s.logger.Info().Int("target_count", len(s.config.Targets)).Msg("Starting SNMP Service")

	for i := range s.config.Targets {
		if err := s.startTargetLocked(&s.config.Targets[i]); err != nil {
			return fmt.Errorf("failed to initialize target %s: %w", s.config.Targets[i].Name, err)
		}
	}

	return nil
}

// Stop aborts every poller and waits for them to exit or ctx to expire.
func (s *SNMPService) Stop(ctx context.Context) error {
	s.mu.Lock()

	pending := make([]<-chan struct{}, 0, len(s.pollers))

	for name := range s.pollers {
		if done, ok := s.supervisor.Abort(workerPrefix + name); ok {
			pending = append(pending, done)
		}
	}

	s.pollers = make(map[string]*DevicePoller)
	s.runCtx = nil
	s.mu.Unlock()

	s.logger.Info().Int("poller_count", len(pending)).Msg("Stopping SNMP Service")

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", bridge.ErrShutdownTimeout, ctx.Err())
		}
	}

	return nil
}

// AddTarget validates target and starts polling it.
func (s *SNMPService) AddTarget(_ context.Context, target *Target) error {
	target.ApplyDefaults()

	if err := target.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runCtx == nil {
		return errServiceNotStarted
	}

	if _, exists := s.pollers[target.Name]; exists {
		return fmt.Errorf("%w: %s", ErrTargetExists, target.Name)
	}

	return s.startTargetLocked(target)
}

// RemoveTarget stops the poller of targetName and waits for it to exit.
func (s *SNMPService) RemoveTarget(ctx context.Context, targetName string) error {
	s.mu.Lock()
	_, exists := s.pollers[targetName]
	delete(s.pollers, targetName)
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, targetName)
	}

	done, ok := s.supervisor.Abort(workerPrefix + targetName)
	if !ok {
		return nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info().Str("target_name", targetName).Msg("Removed target")

	return nil
}

// GetStatus returns a snapshot of every poller keyed by target name.
func (s *SNMPService) GetStatus(_ context.Context) (map[string]TargetStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := make(map[string]TargetStatus, len(s.pollers))
	for name, p := range s.pollers {
		status[name] = p.Status()
	}

	return status, nil
}

func (s *SNMPService) startTargetLocked(target *Target) error {
	poller := NewDevicePoller(PollerConfig{
		Target:         target,
		Mapper:         s.mapper,
		Factory:        s.factory,
		Publisher:      s.publisher,
		Presence:       s.presence,
		MaxWalkEntries: s.config.MaxWalkEntries,
	}, s.logger)

	if err := s.supervisor.Spawn(s.runCtx, workerPrefix+target.Name, poller.Run); err != nil {
		return err
	}

	s.pollers[target.Name] = poller

	s.logger.Info().
		Str("target_name", target.Name).
		Str("target_host", target.Host).
		Msg("Initialized target")

	return nil
}
