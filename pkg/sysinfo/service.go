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

// Package sysinfo publishes host metrics (CPU, memory, load, disk, uptime) of
// the machine running the bridge.
package sysinfo

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"

	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
)

// Publisher sends one point on prefix/protocol/keySuffix.
type Publisher interface {
	Publish(ctx context.Context, keySuffix string, point *models.TelemetryPoint) error
}

// PresenceTracker records whether the host is reporting.
type PresenceTracker interface {
	DeclareDeviceAlive(ctx context.Context, deviceID string) error
	UndeclareDevice(ctx context.Context, deviceID string) error
}

// Status summarizes the worker for diagnostics.
type Status struct {
	Source          string    `json:"source"`
	LastSample      time.Time `json:"last_sample"`
	Samples         uint64    `json:"samples"`
	PointsPublished uint64    `json:"points_published"`
	Failures        uint64    `json:"failures"`
}

// Service samples the local host on a fixed interval.
type Service struct {
	config    Config
	publisher Publisher
	presence  PresenceTracker
	logger    logger.Logger

	cpuUsage  func(context.Context, time.Duration, bool) ([]float64, error)
	memory    func(context.Context) (*mem.VirtualMemoryStat, error)
	loadAvg   func(context.Context) (*load.AvgStat, error)
	diskUsage func(context.Context, string) (*disk.UsageStat, error)
	uptime    func(context.Context) (uint64, error)

	lastSample atomic.Int64
	samples    atomic.Uint64
	published  atomic.Uint64
	failures   atomic.Uint64
}

func NewService(cfg Config, publisher Publisher, presence PresenceTracker, log logger.Logger) (*Service, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Service{
		config:    cfg,
		publisher: publisher,
		presence:  presence,
		logger:    log,
		cpuUsage:  cpu.PercentWithContext,
		memory:    mem.VirtualMemoryWithContext,
		loadAvg:   load.AvgWithContext,
		diskUsage: disk.UsageWithContext,
		uptime:    host.UptimeWithContext,
	}, nil
}

// Run samples immediately and then every Interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Str("source", s.config.Source).Dur("interval", time.Duration(s.config.Interval)).
		Msg("Starting host metrics worker")

	alive := false

	defer func() {
		if alive && s.presence != nil {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()

			if err := s.presence.UndeclareDevice(releaseCtx, s.config.Source); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to withdraw host presence")
			}
		}
	}()

	ticker := time.NewTicker(time.Duration(s.config.Interval))
	defer ticker.Stop()

	for {
		if n := s.PublishOnce(ctx); n > 0 && !alive && s.presence != nil {
			if err := s.presence.DeclareDeviceAlive(ctx, s.config.Source); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to declare host presence")
			} else {
				alive = true
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PublishOnce samples the host and publishes every point, returning how many
// were accepted by the publisher.
func (s *Service) PublishOnce(ctx context.Context) int {
	points := s.Sample(ctx)
	sent := 0

	for _, p := range points {
		if err := s.publisher.Publish(ctx, p.Source+"/"+p.Metric, p); err != nil {
			s.failures.Add(1)
			s.logger.Debug().Err(err).Str("metric", p.Metric).Msg("Failed to publish host metric")

			continue
		}

		sent++
	}

	s.published.Add(uint64(sent))

	return sent
}

// Sample collects one round of host metrics. Samplers run concurrently; a
// failing sampler only loses its own points.
func (s *Service) Sample(ctx context.Context) []*models.TelemetryPoint {
	var (
		g       errgroup.Group
		cpus    []*models.TelemetryPoint
		memory  []*models.TelemetryPoint
		loadAvg []*models.TelemetryPoint
		uptime  []*models.TelemetryPoint
	)

	disks := make([][]*models.TelemetryPoint, len(s.config.Disks))

	g.Go(func() (err error) {
		cpus, err = s.sampleCPU(ctx)
		return err
	})
	g.Go(func() (err error) {
		memory, err = s.sampleMemory(ctx)
		return err
	})
	g.Go(func() (err error) {
		loadAvg, err = s.sampleLoad(ctx)
		return err
	})
	g.Go(func() (err error) {
		uptime, err = s.sampleUptime(ctx)
		return err
	})

	for i, path := range s.config.Disks {
		g.Go(func() (err error) {
			disks[i], err = s.sampleDisk(ctx, path)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		s.failures.Add(1)
		s.logger.Warn().Err(err).Str("source", s.config.Source).Msg("Host sample incomplete")
	}

	points := make([]*models.TelemetryPoint, 0, len(cpus)+len(memory)+len(loadAvg)+len(uptime)+2*len(disks))
	points = append(points, cpus...)
	points = append(points, memory...)
	points = append(points, loadAvg...)

	for _, d := range disks {
		points = append(points, d...)
	}

	points = append(points, uptime...)

	s.samples.Add(1)
	s.lastSample.Store(time.Now().UnixMilli())

	return points
}

func (s *Service) point(metric string, v models.TelemetryValue) *models.TelemetryPoint {
	p := models.NewTelemetryPoint(s.config.Source, models.ProtocolSysinfo, metric, v)
	if len(s.config.Labels) > 0 {
		p = p.WithLabels(s.config.Labels)
	}

	return p
}

func (s *Service) sampleCPU(ctx context.Context) ([]*models.TelemetryPoint, error) {
	window := time.Duration(s.config.SampleInterval)

	total, err := s.cpuUsage(ctx, window, false)
	if err != nil {
		return nil, fmt.Errorf("cpu usage: %w", err)
	}

	var points []*models.TelemetryPoint

	if len(total) > 0 {
		points = append(points, s.point("cpu/usage", models.GaugeValue(total[0])))
	}

	if !s.config.PerCPU {
		return points, nil
	}

	perCore, err := s.cpuUsage(ctx, window, true)
	if err != nil {
		return points, fmt.Errorf("per-cpu usage: %w", err)
	}

	for i, pct := range perCore {
		points = append(points, s.point("cpu/"+strconv.Itoa(i)+"/usage", models.GaugeValue(pct)))
	}

	return points, nil
}

func (s *Service) sampleMemory(ctx context.Context) ([]*models.TelemetryPoint, error) {
	vm, err := s.memory(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}

	return []*models.TelemetryPoint{
		s.point("memory/total", models.GaugeValue(float64(vm.Total))),
		s.point("memory/used", models.GaugeValue(float64(vm.Used))),
		s.point("memory/available", models.GaugeValue(float64(vm.Available))),
		s.point("memory/used_percent", models.GaugeValue(vm.UsedPercent)),
	}, nil
}

func (s *Service) sampleLoad(ctx context.Context) ([]*models.TelemetryPoint, error) {
	avg, err := s.loadAvg(ctx)
	if err != nil {
		return nil, fmt.Errorf("load average: %w", err)
	}

	return []*models.TelemetryPoint{
		s.point("load/1", models.GaugeValue(avg.Load1)),
		s.point("load/5", models.GaugeValue(avg.Load5)),
		s.point("load/15", models.GaugeValue(avg.Load15)),
	}, nil
}

func (s *Service) sampleDisk(ctx context.Context, path string) ([]*models.TelemetryPoint, error) {
	usage, err := s.diskUsage(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("disk %s: %w", path, err)
	}

	prefix := "disk/" + diskSegment(path) + "/"

	return []*models.TelemetryPoint{
		s.point(prefix+"total", models.GaugeValue(float64(usage.Total))),
		s.point(prefix+"used", models.GaugeValue(float64(usage.Used))),
		s.point(prefix+"used_percent", models.GaugeValue(usage.UsedPercent)),
	}, nil
}

func (s *Service) sampleUptime(ctx context.Context) ([]*models.TelemetryPoint, error) {
	secs, err := s.uptime(ctx)
	if err != nil {
		return nil, fmt.Errorf("uptime: %w", err)
	}

	return []*models.TelemetryPoint{s.point("host/uptime", models.CounterValue(secs))}, nil
}

// Status reports cumulative counters.
func (s *Service) Status() Status {
	var last time.Time
	if ms := s.lastSample.Load(); ms > 0 {
		last = time.UnixMilli(ms)
	}

	return Status{
		Source:          s.config.Source,
		LastSample:      last,
		Samples:         s.samples.Load(),
		PointsPublished: s.published.Load(),
		Failures:        s.failures.Load(),
	}
}
