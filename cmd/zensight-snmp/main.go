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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/p13marc/zensight-sub001/pkg/bridge"
	"github.com/p13marc/zensight-sub001/pkg/config"
	"github.com/p13marc/zensight-sub001/pkg/lifecycle"
	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
	"github.com/p13marc/zensight-sub001/pkg/snmp"
	"github.com/p13marc/zensight-sub001/pkg/sysinfo"
	"github.com/p13marc/zensight-sub001/pkg/version"
)

var errFailedToLoadConfig = errors.New("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/zensight/snmp.yaml", "Path to bridge config file")
	flag.Parse()

	ctx, stop := lifecycle.SignalContext(context.Background())
	defer stop()

	var cfg Config

	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := cfg.Bridge.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	bridgeLogger, err := lifecycle.CreateComponentLogger(ctx, cfg.Bridge.Name, logConfig)
	if err != nil {
		return err
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			log.Printf("logger shutdown: %v", err)
		}
	}()

	_, err = logger.InitializeMetrics(ctx, logger.MetricsConfig{
		ServiceName:    cfg.Bridge.Name,
		ServiceVersion: version.GetVersion(),
		OTel:           &logConfig.OTel,
	})
	if err != nil && !errors.Is(err, logger.ErrOTelMetricsDisabled) {
		bridgeLogger.Warn().Err(err).Msg("OTLP metrics export unavailable")
	}

	bridgeLogger.Info().
		Str("version", version.GetFullVersion()).
		Int("targets", len(cfg.SNMP.Targets)).
		Bool("sysinfo", cfg.Sysinfo.Enabled).
		Msg("Starting SNMP bridge")

	return bridge.Run(ctx, cfg.Bridge, bridgeLogger, func(ctx context.Context, rt *bridge.Runtime) ([]lifecycle.Service, error) {
		return setup(ctx, rt, &cfg, bridgeLogger)
	})
}

func setup(ctx context.Context, rt *bridge.Runtime, cfg *Config, log logger.Logger) ([]lifecycle.Service, error) {
	channel, err := rt.Channel(ctx, models.ProtocolSNMP)
	if err != nil {
		return nil, err
	}

	snmpService, err := snmp.NewSNMPService(&cfg.SNMP, channel.Registry, channel.Presence, log,
		snmp.WithSupervisor(rt.Supervisor()))
	if err != nil {
		return nil, err
	}

	if !cfg.Sysinfo.Enabled {
		return []lifecycle.Service{snmpService}, nil
	}

	hostChannel, err := rt.Channel(ctx, models.ProtocolSysinfo)
	if err != nil {
		return nil, err
	}

	hostService, err := sysinfo.NewService(cfg.Sysinfo, hostChannel.Registry, hostChannel.Presence, log)
	if err != nil {
		return nil, err
	}

	if err := rt.Supervisor().Spawn(ctx, "sysinfo/"+cfg.Sysinfo.Source, hostService.Run); err != nil {
		return nil, err
	}

	return []lifecycle.Service{snmpService}, nil
}
