// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package internal holds the stream-transport plumbing the shim package
// builds on: dialing or listening, TLS material assembly, and the
// grpc.DialOption / keepalive knobs a Client can configure. It is split out
// the way the teacher splits it (shim/internal) so the transport stays
// swappable behind PeerChaincodeStream without dragging grpc types into the
// handler/dispatcher/queue core.
package internal

import (
	"encoding/base64"
	"time"

	"github.com/pkg/errors"
)

// Default request timeout applied to high-level ask-peer operations, not to
// the stream itself.
const DefaultRequestTimeout = 30 * time.Second

// TLSConfig carries the material needed for a grpcs:// connection. All
// three fields are mandatory whenever the scheme is secure, and are
// validated in this order: CA, then key, then cert.
type TLSConfig struct {
	CAPEM              []byte
	ClientKeyBase64    string
	ClientCertBase64   string
	ServerNameOverride string
}

// Validate checks the three mandatory TLS fields are present, in the order
// that lets the first missing one name itself in the returned error.
func (c *TLSConfig) Validate() error {
	if c == nil || len(c.CAPEM) == 0 {
		return errors.New("PEM encoded certificate is required.")
	}
	if c.ClientKeyBase64 == "" {
		return errors.New("encoded Private key is required.")
	}
	if c.ClientCertBase64 == "" {
		return errors.New("encoded client certificate is required.")
	}
	return nil
}

// DecodeKeyPair base64-decodes the client key and certificate into their PEM
// forms.
func (c *TLSConfig) DecodeKeyPair() (certPEM, keyPEM []byte, err error) {
	certPEM, err = base64.StdEncoding.DecodeString(c.ClientCertBase64)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "failed to decode client certificate")
	}
	keyPEM, err = base64.StdEncoding.DecodeString(c.ClientKeyBase64)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "failed to decode client key")
	}
	return certPEM, keyPEM, nil
}

// KeepaliveOptions mirrors the RPC transport knobs. NewClientConn applies
// the message sizes and keepalive timers; only ServerKeepaliveOptions reads
// the http2 ping fields. Zero values mean "leave the grpc/http2 default".
type KeepaliveOptions struct {
	MaxSendMessageLength        int
	MaxReceiveMessageLength     int
	KeepaliveTimeMs             int64
	KeepaliveTimeoutMs          int64
	KeepalivePermitWithoutCalls bool
	Http2MinTimeBetweenPingsMs  int64
	Http2MaxPingsWithoutData    int64
}
