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

package snmp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/p13marc/zensight-sub001/pkg/logger"
	"github.com/p13marc/zensight-sub001/pkg/models"
)

func TestConfigValidation(t *testing.T) {
	valid := func() Target {
		return Target{Name: "r1", Host: "192.0.2.1", Community: "public", Get: []string{"1.3.6.1.2.1.1.3.0"}}
	}

	tests := []struct {
		name    string
		mutate  func(*Target)
		wantErr error
	}{
		{name: "valid", mutate: func(*Target) {}},
		{name: "missing name", mutate: func(t *Target) { t.Name = "" }, wantErr: errEmptyTargetName},
		{name: "slash in name", mutate: func(t *Target) { t.Name = "a/b" }, wantErr: errTargetNameSlash},
		{name: "missing host", mutate: func(t *Target) { t.Host = "" }, wantErr: errEmptyHost},
		{name: "nothing to poll", mutate: func(t *Target) { t.Get = nil }, wantErr: errNoAddresses},
		{name: "negative interval", mutate: func(t *Target) { t.Interval = models.Duration(-time.Second) }, wantErr: errInvalidInterval},
		{name: "missing community", mutate: func(t *Target) { t.Community = "" }, wantErr: errMissingCommunity},
		{name: "bad version", mutate: func(t *Target) { t.Version = "v4" }, wantErr: ErrUnsupportedSNMPVersion},
		{name: "v3 without user", mutate: func(t *Target) { t.Version = Version3 }, wantErr: errMissingV3User},
		{
			name: "v3 bad auth",
			mutate: func(t *Target) {
				t.Version = Version3
				t.V3 = &V3Credentials{Username: "ops", AuthProtocol: "CRC32"}
			},
			wantErr: errUnsupportedAuth,
		},
		{
			name: "v3 priv without auth",
			mutate: func(t *Target) {
				t.Version = Version3
				t.V3 = &V3Credentials{Username: "ops", PrivacyProtocol: "AES"}
			},
			wantErr: errPrivWithoutAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := valid()
			tt.mutate(&target)

			cfg := Config{Targets: []Target{target}}
			cfg.ApplyDefaults()

			err := cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, ErrInvalidConfig)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfigRejectsDuplicateNames(t *testing.T) {
	target := Target{Name: "r1", Host: "192.0.2.1", Community: "public", Walk: []string{"1.3.6.1.2.1.2.2.1"}}
	cfg := Config{Targets: []Target{target, target}}
	cfg.ApplyDefaults()

	require.ErrorIs(t, cfg.Validate(), errDuplicateTarget)
}

func TestTargetDefaults(t *testing.T) {
	target := Target{}
	target.ApplyDefaults()

	assert.Equal(t, uint16(161), target.Port)
	assert.Equal(t, Version2c, target.Version)
	assert.Equal(t, models.Duration(5*time.Second), target.Timeout)
	assert.Equal(t, models.Duration(30*time.Second), target.Interval)
	assert.Zero(t, target.Retries)
}

func TestConfigureVersionV3(t *testing.T) {
	g := &gosnmp.GoSNMP{}
	target := &Target{
		Name:    "r1",
		Version: Version3,
		V3: &V3Credentials{
			Username:        "ops",
			AuthProtocol:    "sha256",
			AuthPassword:    "authpass",
			PrivacyProtocol: "aes",
			PrivacyPassword: "privpass",
		},
	}

	require.NoError(t, configureVersion(g, target))
	assert.Equal(t, gosnmp.Version3, g.Version)
	assert.Equal(t, gosnmp.AuthPriv, g.MsgFlags)

	usm, ok := g.SecurityParameters.(*gosnmp.UsmSecurityParameters)
	require.True(t, ok)
	assert.Equal(t, gosnmp.SHA256, usm.AuthenticationProtocol)
	assert.Equal(t, gosnmp.AES, usm.PrivacyProtocol)
}

func TestClassifyRequestError(t *testing.T) {
	err := classifyRequestError(errors.New("request timeout (after 0 retries)"))
	require.ErrorIs(t, err, ErrRequestTimeout)

	other := errors.New("connection refused")
	assert.Equal(t, other, classifyRequestError(other))
}

func newServiceConfig() *Config {
	return &Config{
		Targets: []Target{{
			Name:      "router01",
			Host:      "192.0.2.10",
			Community: "public",
			Interval:  models.Duration(time.Hour),
			Get:       []string{"1.3.6.1.2.1.1.3.0"},
		}},
	}
}

func TestSNMPServiceLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)

	factory := NewMockClientFactory(ctrl)
	factory.EXPECT().NewClient(gomock.Any(), gomock.Any()).Return(nil, errors.New("unreachable")).AnyTimes()

	svc, err := NewSNMPService(newServiceConfig(), &recordingPublisher{}, nil, logger.NewTestLogger(),
		WithClientFactory(factory))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))

	status, err := svc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Contains(t, status, "router01")

	err = svc.AddTarget(ctx, &Target{Name: "router01", Host: "192.0.2.11", Community: "public", Get: []string{"1.3.6.1.2.1.1.3.0"}})
	require.ErrorIs(t, err, ErrTargetExists)

	require.NoError(t, svc.AddTarget(ctx, &Target{
		Name: "switch02", Host: "192.0.2.12", Community: "public", Walk: []string{"1.3.6.1.2.1.2.2.1"},
	}))

	status, err = svc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, status, 2)

	require.ErrorIs(t, svc.RemoveTarget(ctx, "missing"), ErrTargetNotFound)
	require.NoError(t, svc.RemoveTarget(ctx, "switch02"))

	assert.Eventually(t, func() bool {
		for _, name := range svc.supervisor.Running() {
			if name == workerPrefix+"switch02" {
				return false
			}
		}

		return true
	}, time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	require.NoError(t, svc.Stop(stopCtx))
	assert.Empty(t, svc.supervisor.Running())
}

func TestSNMPServiceRejectsInvalidConfig(t *testing.T) {
	_, err := NewSNMPService(&Config{Targets: []Target{{Name: "x"}}}, &recordingPublisher{}, nil, logger.NewTestLogger())
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAddTargetBeforeStart(t *testing.T) {
	svc, err := NewSNMPService(&Config{}, &recordingPublisher{}, nil, logger.NewTestLogger())
	require.NoError(t, err)

	err = svc.AddTarget(context.Background(), &Target{Name: "r", Host: "h", Community: "c", Get: []string{"1.3"}})
	require.ErrorIs(t, err, errServiceNotStarted)
}
