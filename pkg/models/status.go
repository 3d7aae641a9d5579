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

package models

import (
	"encoding/json"
	"fmt"
)

// BridgeStatus is the lifecycle state a bridge reports on its status key.
type BridgeStatus string

const (
	StatusRunning BridgeStatus = "running"
	StatusOffline BridgeStatus = "offline"
	StatusError   BridgeStatus = "error"
)

// StatusRecord is published on the status key. Metadata is flattened into the
// top-level JSON object next to the fixed fields.
type StatusRecord struct {
	Bridge   string
	Version  string
	Status   BridgeStatus
	Metadata map[string]interface{}
}

const (
	statusFieldBridge  = "bridge"
	statusFieldVersion = "version"
	statusFieldStatus  = "status"
)

func (r StatusRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Metadata)+3)

	for k, v := range r.Metadata {
		out[k] = v
	}

	out[statusFieldBridge] = r.Bridge
	out[statusFieldVersion] = r.Version
	out[statusFieldStatus] = r.Status

	return json.Marshal(out)
}

func (r *StatusRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rec := StatusRecord{}

	if v, ok := raw[statusFieldBridge].(string); ok {
		rec.Bridge = v
	}

	if v, ok := raw[statusFieldVersion].(string); ok {
		rec.Version = v
	}

	if v, ok := raw[statusFieldStatus].(string); ok {
		rec.Status = BridgeStatus(v)
	}

	delete(raw, statusFieldBridge)
	delete(raw, statusFieldVersion)
	delete(raw, statusFieldStatus)

	if len(raw) > 0 {
		rec.Metadata = raw
	}

	*r = rec

	return nil
}

// ValidateMetadata rejects metadata that would shadow a fixed field.
func ValidateMetadata(metadata map[string]interface{}) error {
	for _, reserved := range []string{statusFieldBridge, statusFieldVersion, statusFieldStatus} {
		if _, ok := metadata[reserved]; ok {
			return fmt.Errorf("%w: %q", errReservedStatus, reserved)
		}
	}

	return nil
}
