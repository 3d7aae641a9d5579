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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/p13marc/zensight-sub001/pkg/lifecycle"
	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
	"github.com/p13marc/zensight-sub001/pkg/pubsub"
)

const offlineStatusTimeout = time.Second

// Channel is the publishing side of one protocol: a publisher registry and the
// presence manager for its devices.
type Channel struct {
	Registry *pubsub.Registry
	Presence *pubsub.LivelinessManager
}

// Runtime owns the transport session and everything built on it for one bridge
// process.
type Runtime struct {
	config     Config
	logger     logger.Logger
	session    *pubsub.Session
	status     *pubsub.StatusPublisher
	supervisor *Supervisor

	mu       sync.Mutex
	channels map[models.Protocol]*Channel
	order    []models.Protocol
}

// NewRuntime connects to NATS and declares the bridge on its own protocol.
func NewRuntime(ctx context.Context, cfg Config, log logger.Logger) (*Runtime, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	session, err := pubsub.Connect(ctx, cfg.NATS, log)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		config:     cfg,
		logger:     log,
		session:    session,
		supervisor: NewSupervisor(log),
		channels:   make(map[models.Protocol]*Channel),
	}

	keyExpr := models.NewKeyExprWithPrefix(cfg.KeyPrefix, cfg.Protocol)

	rt.status, err = pubsub.NewStatusPublisher(session, keyExpr, cfg.Name, log)
	if err != nil {
		session.Release()

		return nil, err
	}

	if _, err := rt.Channel(ctx, cfg.Protocol); err != nil {
		rt.status.Close()
		session.Release()

		return nil, err
	}

	return rt, nil
}

func (r *Runtime) Config() Config { return r.config }

func (r *Runtime) Session() *pubsub.Session { return r.session }

func (r *Runtime) Supervisor() *Supervisor { return r.supervisor }

func (r *Runtime) Status() *pubsub.StatusPublisher { return r.status }

// Channel returns the registry and presence manager for protocol, creating them
// on first use. All channels share the runtime's session.
func (r *Runtime) Channel(ctx context.Context, protocol models.Protocol) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[protocol]; ok {
		return ch, nil
	}

	registry, err := pubsub.NewRegistry(r.session, protocol, r.config.Publisher, r.logger)
	if err != nil {
		return nil, err
	}

	presence, err := pubsub.NewLivelinessManager(ctx, r.session, r.config.Name, protocol, r.config.Liveliness, r.logger)
	if err != nil {
		registry.Close()

		return nil, err
	}

	ch := &Channel{Registry: registry, Presence: presence}
	r.channels[protocol] = ch
	r.order = append(r.order, protocol)

	r.logger.Info().Str("protocol", protocol.String()).Msg("Protocol channel ready")

	return ch, nil
}

// SetupFunc builds the services a bridge runs once the runtime is connected.
type SetupFunc func(ctx context.Context, rt *Runtime) ([]lifecycle.Service, error)

// Run connects, builds services with setup and runs them until ctx is cancelled.
func Run(ctx context.Context, cfg Config, log logger.Logger, setup SetupFunc) error {
	rt, err := NewRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}

	services, err := setup(ctx, rt)
	if err != nil {
		rt.status.PublishError(ctx, err.Error())

		return errors.Join(err, rt.shutdown(ctx, nil))
	}

	return rt.Run(ctx, services...)
}

// Run publishes the running status, starts services, waits for ctx and then
// shuts everything down within ShutdownGrace.
func (r *Runtime) Run(ctx context.Context, services ...lifecycle.Service) error {
	started := make([]lifecycle.Service, 0, len(services))

	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Service failed to start")
			r.status.PublishError(ctx, err.Error())

			return errors.Join(err, r.shutdown(ctx, started))
		}

		started = append(started, svc)
	}

	r.status.PublishRunning(ctx, map[string]interface{}{
		"protocol": r.config.Protocol.String(),
		"instance": r.session.ID(),
		"services": len(started),
	})

	r.logger.Info().Str("bridge", r.config.Name).Int("services", len(started)).Msg("Bridge running")

	<-ctx.Done()

	r.logger.Info().Str("bridge", r.config.Name).Msg("Bridge shutting down")

	return r.shutdown(ctx, started)
}

// shutdown stops services in reverse order, aborts remaining workers, reports
// offline and releases the transport.
func (r *Runtime) shutdown(ctx context.Context, services []lifecycle.Service) error {
	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(r.config.ShutdownGrace))
	defer cancel()

	var errs []error

	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(graceCtx); err != nil {
			r.logger.Warn().Err(err).Msg("Service did not stop cleanly")
			errs = append(errs, err)
		}
	}

	r.supervisor.AbortAll()

	if err := r.supervisor.Wait(graceCtx); err != nil {
		r.logger.Warn().Err(err).Msg("Workers outlived the shutdown grace period")
		errs = append(errs, err)
	}

	offlineCtx, offlineCancel := context.WithTimeout(graceCtx, offlineStatusTimeout)
	r.status.PublishOffline(offlineCtx)
	offlineCancel()

	r.mu.Lock()
	channels := make([]*Channel, 0, len(r.order))

	for _, protocol := range r.order {
		channels = append(channels, r.channels[protocol])
	}
	r.mu.Unlock()

	for _, ch := range channels {
		if err := ch.Presence.Close(graceCtx); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to withdraw presence")
		}

		ch.Registry.Close()
	}

	r.status.Close()
	r.session.Release()

	if len(errs) > 0 {
		return fmt.Errorf("bridge %s shutdown: %w", r.config.Name, errors.Join(errs...))
	}

	r.logger.Info().Str("bridge", r.config.Name).Msg("Bridge stopped")

	return nil
}
