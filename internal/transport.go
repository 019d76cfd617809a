// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package internal

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"time"

	peerpb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
)

// NewClientConn dials the peer's chaincode-support endpoint. tlsCfg is nil
// for an insecure (grpc://) target; for a secure (grpcs://) target it must
// already have passed TLSConfig.Validate.
func NewClientConn(hostport string, tlsCfg *TLSConfig, ka KeepaliveOptions) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{grpc.WithBlock()}

	if tlsCfg == nil {
		opts = append(opts, grpc.WithInsecure())
	} else {
		creds, err := buildTransportCredentials(tlsCfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if tlsCfg.ServerNameOverride != "" {
			opts = append(opts, grpc.WithAuthority(tlsCfg.ServerNameOverride))
		}
	}

	opts = append(opts, keepaliveDialOptions(ka)...)

	if ka.MaxSendMessageLength > 0 || ka.MaxReceiveMessageLength > 0 {
		var callOpts []grpc.CallOption
		if ka.MaxSendMessageLength > 0 {
			callOpts = append(callOpts, grpc.MaxCallSendMsgSize(ka.MaxSendMessageLength))
		}
		if ka.MaxReceiveMessageLength > 0 {
			callOpts = append(callOpts, grpc.MaxCallRecvMsgSize(ka.MaxReceiveMessageLength))
		}
		opts = append(opts, grpc.WithDefaultCallOptions(callOpts...))
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()
	conn, err := grpc.DialContext(ctx, hostport, opts...)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to dial peer at %s", hostport)
	}
	return conn, nil
}

func buildTransportCredentials(tlsCfg *TLSConfig) (credentials.TransportCredentials, error) {
	roots := x509.NewCertPool()
	if ok := roots.AppendCertsFromPEM(tlsCfg.CAPEM); !ok {
		return nil, errors.New("failed to append CA certificate to pool")
	}

	certPEM, keyPEM, err := tlsCfg.DecodeKeyPair()
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse client key pair")
	}

	conf := &tls.Config{
		RootCAs:      roots,
		Certificates: []tls.Certificate{cert},
	}
	if tlsCfg.ServerNameOverride != "" {
		conf.ServerName = tlsCfg.ServerNameOverride
	}
	return credentials.NewTLS(conf), nil
}

func keepaliveDialOptions(ka KeepaliveOptions) []grpc.DialOption {
	if ka.KeepaliveTimeMs == 0 && ka.KeepaliveTimeoutMs == 0 && !ka.KeepalivePermitWithoutCalls {
		return nil
	}
	params := keepalive.ClientParameters{
		PermitWithoutStream: ka.KeepalivePermitWithoutCalls,
	}
	if ka.KeepaliveTimeMs > 0 {
		params.Time = time.Duration(ka.KeepaliveTimeMs) * time.Millisecond
	}
	if ka.KeepaliveTimeoutMs > 0 {
		params.Timeout = time.Duration(ka.KeepaliveTimeoutMs) * time.Millisecond
	}
	return []grpc.DialOption{grpc.WithKeepaliveParams(params)}
}

// NewRegisterClient opens the bidirectional stream a chaincode registers
// itself over (the Chaincode service's Connect rpc, named for what it does
// from this side rather than the rpc's own name).
func NewRegisterClient(conn *grpc.ClientConn) (peerpb.Chaincode_ConnectClient, error) {
	return peerpb.NewChaincodeClient(conn).Connect(context.Background())
}

// ServerKeepaliveOptions maps Http2MinTimeBetweenPingsMs onto grpc's
// server-side keepalive enforcement policy, the closest idiomatic Go-grpc
// equivalent: a server refusing overly aggressive client pings.
// Http2MaxPingsWithoutData is not applied to the policy.
func ServerKeepaliveOptions(ka KeepaliveOptions) []grpc.ServerOption {
	if ka.Http2MinTimeBetweenPingsMs == 0 && ka.Http2MaxPingsWithoutData == 0 {
		return nil
	}
	policy := keepalive.EnforcementPolicy{}
	if ka.Http2MinTimeBetweenPingsMs > 0 {
		policy.MinTime = time.Duration(ka.Http2MinTimeBetweenPingsMs) * time.Millisecond
	}
	return []grpc.ServerOption{grpc.KeepaliveEnforcementPolicy(policy)}
}
