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

package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
)

const (
	defaultReconnectWait = 2 * time.Second
	defaultMaxReconnects = -1
	defaultDrainTimeout  = 5 * time.Second
)

// SessionConfig describes how to reach the NATS overlay.
type SessionConfig struct {
	URL           string                 `json:"url" yaml:"url"`
	Name          string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Token         string                 `json:"token,omitempty" yaml:"token,omitempty"`
	Security      *models.SecurityConfig `json:"security,omitempty" yaml:"security,omitempty"`
	ReconnectWait models.Duration        `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	MaxReconnects int                    `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	DrainTimeout  models.Duration        `json:"drain_timeout,omitempty" yaml:"drain_timeout,omitempty"`
}

// ApplyDefaults fills zero values in place.
func (c *SessionConfig) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}

	if c.ReconnectWait <= 0 {
		c.ReconnectWait = models.Duration(defaultReconnectWait)
	}

	if c.MaxReconnects == 0 {
		c.MaxReconnects = defaultMaxReconnects
	}

	if c.DrainTimeout <= 0 {
		c.DrainTimeout = models.Duration(defaultDrainTimeout)
	}
}

func (c *SessionConfig) Validate() error {
	if c.URL == "" {
		return errEmptyURL
	}

	return nil
}

// Session is a reference counted NATS connection shared by every publisher,
// subscriber and presence manager of a process. The connection is drained when
// the last holder releases it.
type Session struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	id     string
	logger logger.Logger

	drainTimeout time.Duration
	closedCh     chan struct{}

	mu     sync.Mutex
	refs   int
	closed bool
}

// Connect dials NATS and returns a session holding one reference.
func Connect(ctx context.Context, cfg SessionConfig, log logger.Logger) (*Session, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:           uuid.New().String(),
		logger:       log,
		drainTimeout: time.Duration(cfg.DrainTimeout),
		closedCh:     make(chan struct{}),
		refs:         1,
	}

	opts, err := s.options(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to NATS: %w", ErrTransport, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("%w: failed to create JetStream context: %w", ErrTransport, err)
	}

	s.conn = conn
	s.js = js

	return s, nil
}

func (s *Session) options(ctx context.Context, cfg *SessionConfig) ([]nats.Option, error) {
	name := cfg.Name
	if name == "" {
		name = "zensight-" + s.id
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWait)),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DrainTimeout(time.Duration(cfg.DrainTimeout)),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			ev := s.logger.Error().Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}

			ev.Msg("NATS async error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			s.logger.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			s.logger.Info().Msg("NATS connection closed")
			close(s.closedCh)
		}),
	}

	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.Security != nil && cfg.Security.Mode == models.SecurityModeMTLS {
		tlsConf, err := tlsConfig(cfg.Security)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	return opts, nil
}

// ID identifies this process on the overlay; publishers derive their IDs from it.
func (s *Session) ID() string { return s.id }

func (s *Session) Conn() *nats.Conn { return s.conn }

func (s *Session) JetStream() jetstream.JetStream { return s.js }

// Acquire adds a holder. Every successful Acquire must be paired with Release.
func (s *Session) Acquire() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	s.refs++

	return s, nil
}

// Refs returns the number of live holders.
func (s *Session) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.refs
}

// Release drops a holder; the last release drains and closes the connection.
func (s *Session) Release() {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return
	}

	s.refs--

	if s.refs > 0 {
		s.mu.Unlock()

		return
	}

	s.closed = true
	s.mu.Unlock()

	if err := s.conn.Drain(); err != nil {
		s.logger.Warn().Err(err).Msg("NATS drain failed, closing")
		s.conn.Close()
	}

	select {
	case <-s.closedCh:
	case <-time.After(s.drainTimeout + time.Second):
		s.logger.Warn().Dur("timeout", s.drainTimeout).Msg("NATS drain did not finish in time")
		s.conn.Close()
	}
}

// Closed reports whether the last holder has released the session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
