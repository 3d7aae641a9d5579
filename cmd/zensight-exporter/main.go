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
	"time"

	"github.com/p13marc/zensight-sub001/pkg/config"
	"github.com/p13marc/zensight-sub001/pkg/exporter"
	"github.com/p13marc/zensight-sub001/pkg/lifecycle"
	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/version"
)

var errFailedToLoadConfig = errors.New("failed to load config")

// fileConfig applies exporter defaults before validation so sparse files load.
type fileConfig struct {
	exporter.Config `yaml:",inline"`
}

func (c *fileConfig) Validate() error {
	c.ApplyDefaults()

	return c.Config.Validate()
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/zensight/exporter.yaml", "Path to exporter config file")
	flag.Parse()

	ctx, stop := lifecycle.SignalContext(context.Background())
	defer stop()

	var cfg fileConfig

	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	exporterLogger, err := lifecycle.CreateComponentLogger(ctx, "exporter", logConfig)
	if err != nil {
		return err
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			log.Printf("logger shutdown: %v", err)
		}
	}()

	svc, err := exporter.NewService(cfg.Config, exporterLogger)
	if err != nil {
		return err
	}

	exporterLogger.Info().Str("version", version.GetFullVersion()).Msg("Starting exporter")

	if err := svc.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(cfg.ShutdownTimeout))
	defer cancel()

	return svc.Stop(stopCtx)
}
