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
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

type defaultClientFactory struct{}

// NewClientFactory returns the gosnmp backed factory used in production.
func NewClientFactory() ClientFactory {
	return defaultClientFactory{}
}

func (defaultClientFactory) NewClient(ctx context.Context, target *Target) (Client, error) {
	g := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    target.Host,
		Port:      target.Port,
		Transport: "udp",
		Timeout:   time.Duration(target.Timeout),
		Retries:   target.Retries,
		MaxOids:   gosnmp.MaxOids,
	}

	if err := configureVersion(g, target); err != nil {
		return nil, err
	}

	return &gosnmpClient{conn: g, target: target.Name}, nil
}

// configureVersion sets up the SNMP client based on the target version.
func configureVersion(g *gosnmp.GoSNMP, target *Target) error {
	switch target.Version {
	case Version1:
		g.Version = gosnmp.Version1
		g.Community = target.Community
	case Version2c, "":
		g.Version = gosnmp.Version2c
		g.Community = target.Community
	case Version3:
		if target.V3 == nil {
			return fmt.Errorf("%w: %s", errMissingV3User, target.Name)
		}

		auth, err := authProtocol(target.V3.AuthProtocol)
		if err != nil {
			return err
		}

		priv, err := privProtocol(target.V3.PrivacyProtocol)
		if err != nil {
			return err
		}

		g.Version = gosnmp.Version3
		g.SecurityModel = gosnmp.UserSecurityModel
		g.ContextName = target.V3.ContextName
		g.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 target.V3.Username,
			AuthenticationProtocol:   auth,
			AuthenticationPassphrase: target.V3.AuthPassword,
			PrivacyProtocol:          priv,
			PrivacyPassphrase:        target.V3.PrivacyPassword,
		}

		switch {
		case priv != gosnmp.NoPriv:
			g.MsgFlags = gosnmp.AuthPriv
		case auth != gosnmp.NoAuth:
			g.MsgFlags = gosnmp.AuthNoPriv
		default:
			g.MsgFlags = gosnmp.NoAuthNoPriv
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedSNMPVersion, target.Version)
	}

	return nil
}

func authProtocol(name string) (gosnmp.SnmpV3AuthProtocol, error) {
	switch strings.ToUpper(name) {
	case "", "NONE":
		return gosnmp.NoAuth, nil
	case "MD5":
		return gosnmp.MD5, nil
	case "SHA":
		return gosnmp.SHA, nil
	case "SHA224":
		return gosnmp.SHA224, nil
	case "SHA256":
		return gosnmp.SHA256, nil
	case "SHA384":
		return gosnmp.SHA384, nil
	case "SHA512":
		return gosnmp.SHA512, nil
	}

	return gosnmp.NoAuth, fmt.Errorf("%w: %s", errUnsupportedAuth, name)
}

func privProtocol(name string) (gosnmp.SnmpV3PrivProtocol, error) {
	switch strings.ToUpper(name) {
	case "", "NONE":
		return gosnmp.NoPriv, nil
	case "DES":
		return gosnmp.DES, nil
	case "AES":
		return gosnmp.AES, nil
	case "AES192":
		return gosnmp.AES192, nil
	case "AES256":
		return gosnmp.AES256, nil
	case "AES192C":
		return gosnmp.AES192C, nil
	case "AES256C":
		return gosnmp.AES256C, nil
	}

	return gosnmp.NoPriv, fmt.Errorf("%w: %s", errUnsupportedPriv, name)
}

// gosnmpClient adapts *gosnmp.GoSNMP to Client and classifies timeouts.
type gosnmpClient struct {
	conn   *gosnmp.GoSNMP
	target string
}

func (c *gosnmpClient) Connect() error {
	if err := c.conn.Connect(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSession, c.target, err)
	}

	return nil
}

func (c *gosnmpClient) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	packet, err := c.conn.Get(oids)
	if err != nil {
		return nil, classifyRequestError(err)
	}

	return packet, nil
}

func (c *gosnmpClient) GetNext(oids []string) (*gosnmp.SnmpPacket, error) {
	packet, err := c.conn.GetNext(oids)
	if err != nil {
		return nil, classifyRequestError(err)
	}

	return packet, nil
}

func (c *gosnmpClient) Close() error {
	if c.conn.Conn == nil {
		return nil
	}

	return c.conn.Conn.Close()
}

func classifyRequestError(err error) error {
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout(),
		strings.Contains(strings.ToLower(err.Error()), "timeout"):
		return fmt.Errorf("%w: %w", ErrRequestTimeout, err)
	}

	return err
}
