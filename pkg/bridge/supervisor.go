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
	"sort"
	"sync"

	"github.com/p13marc/zensight-sub001/pkg/logger"
)

// WorkerFunc is the body of a supervised worker. It must return once ctx is done.
type WorkerFunc func(ctx context.Context) error

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor records every worker it spawns so they can be aborted and awaited
// as a group on shutdown.
type Supervisor struct {
	logger logger.Logger

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup
}

func NewSupervisor(log logger.Logger) *Supervisor {
	return &Supervisor{
		logger:  log,
		workers: make(map[string]*worker),
	}
}

// Spawn starts fn in its own goroutine under name. Names must be unique among
// running workers.
func (s *Supervisor) Spawn(ctx context.Context, name string, fn WorkerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workers[name]; exists {
		return fmt.Errorf("%w: %s", ErrWorkerExists, name)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	s.workers[name] = w

	s.wg.Add(1)

	go s.run(workerCtx, name, w, fn)

	return nil
}

func (s *Supervisor) run(ctx context.Context, name string, w *worker, fn WorkerFunc) {
	defer s.wg.Done()
	defer close(w.done)
	defer w.cancel()

	defer func() {
		s.mu.Lock()
		if s.workers[name] == w {
			delete(s.workers, name)
		}
		s.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("worker", name).Interface("panic", r).Msg("Worker panicked")
		}
	}()

	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Str("worker", name).Msg("Worker exited with error")
		return
	}

	s.logger.Debug().Str("worker", name).Msg("Worker exited")
}

// Abort cancels one worker and returns a channel closed once it has exited.
// The second result is false when no worker has that name.
func (s *Supervisor) Abort(name string) (<-chan struct{}, bool) {
	s.mu.Lock()
	w, ok := s.workers[name]
	s.mu.Unlock()

	if !ok {
		return nil, false
	}

	w.cancel()

	return w.done, true
}

// AbortAll cancels every running worker without waiting.
func (s *Supervisor) AbortAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.workers {
		w.cancel()
	}
}

// Wait blocks until every worker has exited or ctx is done, in which case it
// returns ErrShutdownTimeout naming the workers still running.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: still running %v", ErrShutdownTimeout, s.Running())
	}
}

// Running lists the names of live workers in sorted order.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
