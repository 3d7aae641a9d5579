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

// Package exporter subscribes to bridge telemetry, folds it into an aggregator
// Collector and serves the result in the Prometheus text exposition format.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/p13marc/zensight-sub001/pkg/aggregator"
	"github.com/p13marc/zensight-sub001/pkg/lifecycle"
	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
	"github.com/p13marc/zensight-sub001/pkg/pubsub"
)

const (
	readHeaderTimeout = 5 * time.Second

	presenceDeviceMetric = "presence/device_up"
	presenceBridgeMetric = "presence/bridge_up"
	bridgeLabel          = "bridge"
)

// Service runs the subscription, the collector cleanup loop and the HTTP
// endpoint as one unit.
type Service struct {
	config    Config
	logger    logger.Logger
	collector *aggregator.Collector
	registry  *prometheus.Registry

	mu         sync.Mutex
	session    *pubsub.Session
	subscriber *pubsub.Subscriber
	server     *http.Server
	listener   net.Listener
	cancel     context.CancelFunc
	group      *errgroup.Group
}

var _ lifecycle.Service = (*Service)(nil)

func NewService(cfg Config, log logger.Logger) (*Service, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	collector, err := aggregator.NewCollector(cfg.Aggregator, log)
	if err != nil {
		return nil, err
	}

	s := &Service{
		config:    cfg,
		logger:    log,
		collector: collector,
		registry:  prometheus.NewRegistry(),
	}

	s.registry.MustRegister(
		collector.StatsCollector(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.subscriberCounter("samples_received_total", "Samples delivered by the transport.",
			func(st pubsub.SubscriberStats) uint64 { return st.Received }),
		s.subscriberCounter("decode_errors_total", "Samples dropped because they could not be decoded.",
			func(st pubsub.SubscriberStats) uint64 { return st.DecodeErrors }),
		s.subscriberCounter("samples_missed_total", "Samples detected as missing from a publisher sequence.",
			func(st pubsub.SubscriberStats) uint64 { return st.Missed }),
		s.subscriberCounter("samples_recovered_total", "Missing samples recovered from replay caches.",
			func(st pubsub.SubscriberStats) uint64 { return st.Recovered }),
	)

	return s, nil
}

func (s *Service) subscriberCounter(name, help string, pick func(pubsub.SubscriberStats) uint64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: s.config.Aggregator.Namespace,
		Subsystem: "exporter",
		Name:      name,
		Help:      help,
	}, func() float64 {
		return float64(pick(s.SubscriberStats()))
	})
}

func (s *Service) Collector() *aggregator.Collector { return s.collector }

// Addr is the bound listen address, empty before Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// SubscriberStats reports transport counters, zero while stopped.
func (s *Service) SubscriberStats() pubsub.SubscriberStats {
	s.mu.Lock()
	sub := s.subscriber
	s.mu.Unlock()

	if sub == nil {
		return pubsub.SubscriberStats{}
	}

	return sub.Stats()
}

// Start connects, subscribes and begins serving. It returns once the listener
// is bound; the work continues until Stop or ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	session, err := pubsub.Connect(ctx, s.config.NATS, s.logger)
	if err != nil {
		return err
	}

	subscriber, err := pubsub.NewSubscriber(session, s.config.Subscriber, s.logger)
	if err != nil {
		session.Release()

		return err
	}

	fail := func(err error) error {
		subscriber.Close()
		session.Release()

		return err
	}

	for _, keyExpr := range s.config.Subscriptions {
		if err := subscriber.Subscribe(keyExpr, s.handleSample); err != nil {
			return fail(err)
		}
	}

	var lc net.ListenConfig

	listener, err := lc.Listen(ctx, "tcp", s.config.ListenAddr)
	if err != nil {
		return fail(fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err))
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		return s.collector.Run(groupCtx)
	})

	group.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}

		return nil
	})

	for _, protocol := range s.config.Presence {
		group.Go(func() error {
			s.watchPresence(groupCtx, subscriber, protocol)

			return nil
		})
	}

	s.session = session
	s.subscriber = subscriber
	s.server = server
	s.listener = listener
	s.cancel = cancel
	s.group = group

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Strs("subscriptions", s.config.Subscriptions).
		Msg("Exporter started")

	return nil
}

// Stop shuts the HTTP server down gracefully, stops background loops and
// releases the transport.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()

	if s.cancel == nil {
		s.mu.Unlock()

		return nil
	}

	server, cancel, group := s.server, s.cancel, s.group
	subscriber, session := s.subscriber, s.session

	s.server, s.cancel, s.group = nil, nil, nil
	s.subscriber, s.session, s.listener = nil, nil, nil
	s.mu.Unlock()

	var errs []error

	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
	}

	cancel()

	if err := group.Wait(); err != nil {
		errs = append(errs, err)
	}

	subscriber.Close()
	session.Release()

	s.logger.Info().Msg("Exporter stopped")

	return errors.Join(errs...)
}

func (s *Service) handleSample(sample pubsub.Sample) {
	if sample.Recovered {
		s.logger.Debug().Str("key", sample.Key).Uint64("seq", sample.Seq).Msg("Recording recovered sample")
	}

	s.collector.Record(sample.Point)
}

// watchPresence mirrors presence markers of protocol into the collector,
// reopening the watch until ctx is done.
func (s *Service) watchPresence(ctx context.Context, subscriber *pubsub.Subscriber, protocol models.Protocol) {
	retry := time.Duration(s.config.PresenceRetry)

	for {
		events, err := subscriber.WatchPresence(ctx, protocol)
		if err != nil {
			s.logger.Warn().Err(err).Str("protocol", protocol.String()).Msg("Presence watch unavailable, retrying")
		} else {
			// Keepalive refreshes are recorded too so presence series do not go stale.
			for ev := range events {
				if point := presencePoint(protocol, ev); point != nil {
					s.collector.Record(point)
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func presencePoint(protocol models.Protocol, ev pubsub.PresenceEvent) *models.TelemetryPoint {
	source, metric := ev.DeviceID, presenceDeviceMetric
	if source == "" {
		source, metric = ev.Bridge, presenceBridgeMetric
	}

	if source == "" {
		return nil
	}

	point := models.NewTelemetryPoint(source, protocol, metric, models.BoolValue(ev.Online))
	if !ev.Time.IsZero() {
		point.Timestamp = ev.Time.UnixMilli()
	}

	if ev.DeviceID != "" && ev.Bridge != "" {
		point = point.WithLabel(bridgeLabel, ev.Bridge)
	}

	return point
}
