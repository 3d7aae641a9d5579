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
	"encoding/json"
	"sync"

	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
	"github.com/p13marc/zensight-sub001/pkg/version"
)

// StatusPublisher reports the bridge lifecycle on the status key. The last record
// stays in a one entry replay cache for late joiners.
type StatusPublisher struct {
	session   *Session
	publisher *AdvancedPublisher
	bridge    string
	version   string
	logger    logger.Logger
	closeOnce sync.Once
}

func NewStatusPublisher(session *Session, keyExpr models.KeyExpr, bridge string, log logger.Logger) (*StatusPublisher, error) {
	if _, err := session.Acquire(); err != nil {
		return nil, err
	}

	pub, err := NewAdvancedPublisher(session, keyExpr.StatusKey(), AdvancedPublisherConfig{
		Format:    models.FormatJSON,
		CacheSize: 1,
		Detection: true,
	}, log)
	if err != nil {
		session.Release()

		return nil, err
	}

	return &StatusPublisher{
		session:   session,
		publisher: pub,
		bridge:    bridge,
		version:   version.BridgeVersion(bridge),
		logger:    log,
	}, nil
}

// Key returns the status key expression.
func (s *StatusPublisher) Key() string { return s.publisher.Key() }

func (s *StatusPublisher) PublishRunning(ctx context.Context, metadata map[string]interface{}) {
	s.publish(ctx, models.StatusRunning, metadata)
}

func (s *StatusPublisher) PublishOffline(ctx context.Context) {
	s.publish(ctx, models.StatusOffline, nil)
}

func (s *StatusPublisher) PublishError(ctx context.Context, reason string) {
	s.publish(ctx, models.StatusError, map[string]interface{}{"error": reason})
}

func (s *StatusPublisher) publish(_ context.Context, status models.BridgeStatus, metadata map[string]interface{}) {
	if err := models.ValidateMetadata(metadata); err != nil {
		s.logger.Warn().Err(err).Msg("Dropping reserved status metadata")

		metadata = withoutReserved(metadata)
	}

	data, err := json.Marshal(models.StatusRecord{
		Bridge:   s.bridge,
		Version:  s.version,
		Status:   status,
		Metadata: metadata,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("status", string(status)).Msg("Failed to encode status record")

		return
	}

	if err := s.publisher.Put(data); err != nil {
		s.logger.Warn().Err(err).Str("status", string(status)).Msg("Failed to publish status")

		return
	}

	s.logger.Debug().Str("status", string(status)).Str("key", s.Key()).Msg("Published bridge status")
}

func withoutReserved(metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata))

	for k, v := range metadata {
		if models.ValidateMetadata(map[string]interface{}{k: v}) == nil {
			out[k] = v
		}
	}

	return out
}

// Close stops the status publisher and releases its session reference.
func (s *StatusPublisher) Close() {
	s.closeOnce.Do(func() {
		s.publisher.Close()
		s.session.Release()
	})
}
