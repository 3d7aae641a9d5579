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
	"errors"

	"github.com/p13marc/zensight-sub001/pkg/bridge"
	"github.com/p13marc/zensight-sub001/pkg/models"
	"github.com/p13marc/zensight-sub001/pkg/snmp"
	"github.com/p13marc/zensight-sub001/pkg/sysinfo"
)

const defaultBridgeName = "zensight-snmp"

// Config is the on-disk configuration of the SNMP bridge binary.
type Config struct {
	Bridge  bridge.Config  `json:"bridge" yaml:"bridge"`
	SNMP    snmp.Config    `json:"snmp" yaml:"snmp"`
	Sysinfo sysinfo.Config `json:"sysinfo,omitempty" yaml:"sysinfo,omitempty"`
}

func (c *Config) ApplyDefaults() {
	if c.Bridge.Name == "" {
		c.Bridge.Name = defaultBridgeName
	}

	if c.Bridge.Protocol == "" {
		c.Bridge.Protocol = models.ProtocolSNMP
	}

	c.Bridge.ApplyDefaults()
	c.SNMP.ApplyDefaults()

	if c.Sysinfo.Enabled {
		c.Sysinfo.ApplyDefaults()
	}
}

// Validate applies defaults first so a sparse file is accepted.
func (c *Config) Validate() error {
	c.ApplyDefaults()

	errs := []error{c.Bridge.Validate(), c.SNMP.Validate()}

	if c.Sysinfo.Enabled {
		errs = append(errs, c.Sysinfo.Validate())
	}

	return errors.Join(errs...)
}
