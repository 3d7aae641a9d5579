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

// Package lifecycle holds the start/stop contract shared by bridge and exporter
// services and the helpers binaries use to wire them up.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Service is anything with a managed lifetime. Start must not block; Stop must
// return once the service has released its resources or ctx expires.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
