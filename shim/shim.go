// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package shim provides APIs for the chaincode to access its state
// variables, transaction context and call other chaincodes.
package shim

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"os"
	"time"

	peerpb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/ledgerkit/ccshim/internal"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

var peerAddress = flag.String("peer.address", "", "peer address")
var address = flag.String("address", "127.0.0.1:7070", "listen address")

// initializer and invoker let NewClient check the two mandatory chaincode
// methods independently, so the first one missing names itself in the
// returned error, rather than one opaque "does not satisfy Chaincode"
// compile-time failure.
type initializer interface {
	Init(ChaincodeStubInterface) peerpb.Response
}

type invoker interface {
	Invoke(ChaincodeStubInterface) peerpb.Response
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	requestTimeout    time.Duration
	sslTargetOverride string
	tls               *internal.TLSConfig
	keepalive         internal.KeepaliveOptions
}

// WithRequestTimeout overrides the default 30s ask-peer timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.requestTimeout = d }
}

// WithSSLTargetNameOverride sets both the TLS server name and the
// :authority of a grpcs:// connection. It is ignored for grpc:// targets.
func WithSSLTargetNameOverride(name string) Option {
	return func(o *clientOptions) { o.sslTargetOverride = name }
}

// WithTLS supplies the mandatory TLS material for a grpcs:// target: a
// PEM-encoded CA bundle, and a base64-encoded client key and certificate.
func WithTLS(caPEM []byte, clientKeyB64, clientCertB64 string) Option {
	return func(o *clientOptions) {
		o.tls = &internal.TLSConfig{
			CAPEM:            caPEM,
			ClientKeyBase64:  clientKeyB64,
			ClientCertBase64: clientCertB64,
		}
	}
}

// WithKeepalive passes the max message sizes and keepalive timers through
// to the dial unchanged. The http2 ping knobs are not applied to the
// dialed connection.
func WithKeepalive(ka internal.KeepaliveOptions) Option {
	return func(o *clientOptions) { o.keepalive = ka }
}

// Client is the top-level handle a host program uses to connect one
// chaincode to one peer. It owns the transport connection; the Handler it
// creates owns everything downstream of that.
type Client struct {
	url  string
	cc   Chaincode
	opts clientOptions
	conn *grpc.ClientConn
}

// NewClient validates arguments, establishes the transport (dialing
// grpc://host:port or grpcs://host:port), and returns a Client ready to
// Run. Validations run in order, so the first one that fails names itself
// precisely in the returned error.
func NewClient(cc interface{}, rawurl string, opts ...Option) (*Client, error) {
	if cc == nil {
		return nil, errors.New("Missing required argument: chaincode")
	}
	if _, ok := cc.(initializer); !ok {
		return nil, errors.New("chaincode must implement the mandatory Init method")
	}
	if _, ok := cc.(invoker); !ok {
		return nil, errors.New("chaincode must implement the mandatory Invoke method")
	}

	u, err := url.Parse(rawurl)
	if err != nil || u.Host == "" {
		return nil, errors.New("Invalid URL")
	}

	var secure bool
	switch u.Scheme {
	case "grpc":
		secure = false
	case "grpcs":
		secure = true
	default:
		return nil, errors.Errorf("Invalid protocol: %s.  URLs must begin with grpc:// or grpcs://", u.Scheme)
	}

	co := clientOptions{requestTimeout: internal.DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&co)
	}

	var tlsCfg *internal.TLSConfig
	if secure {
		if err := co.tls.Validate(); err != nil {
			return nil, err
		}
		co.tls.ServerNameOverride = co.sslTargetOverride
		tlsCfg = co.tls
	}

	conn, err := internal.NewClientConn(u.Host, tlsCfg, co.keepalive)
	if err != nil {
		return nil, err
	}

	return &Client{
		url:  rawurl,
		cc:   cc.(Chaincode),
		opts: co,
		conn: conn,
	}, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("ChaincodeSupportClient : {url:%s}", c.url)
}

// Run opens the Register stream and drives the handshake and message loop
// until the peer or the transport ends the connection.
func (c *Client) Run(chaincodeName string) error {
	stream, err := internal.NewRegisterClient(c.conn)
	if err != nil {
		return err
	}
	return chatWithPeer(chaincodeName, stream, c.cc, WithHandlerRequestTimeout(c.opts.requestTimeout))
}

// --- host-program entry points, grounded on the teacher's Start/StartInProc ----

type handler struct {
	ccname string
	cc     Chaincode
}

type stream struct {
	peerpb.Chaincode_ConnectServer
}

func (s *stream) CloseSend() error {
	return s.Send(&peerpb.ChaincodeMessage{})
}

func (h *handler) Connect(srv peerpb.Chaincode_ConnectServer) error {
	return chatWithPeer(h.ccname, &stream{srv}, h.cc)
}

func serve(ccname string, cc Chaincode, ka internal.KeepaliveOptions) error {
	lis, err := net.Listen("tcp", *address)
	if err != nil {
		return errors.WithMessagef(err, "failed to listen on %s", *address)
	}
	log.Println("Start listening on", *address)

	grpcServer := grpc.NewServer(internal.ServerKeepaliveOptions(ka)...)
	peerpb.RegisterChaincodeServer(grpcServer, &handler{ccname: ccname, cc: cc})

	if err := grpcServer.Serve(lis); err != nil {
		return errors.WithMessagef(err, "failed to serve grpc")
	}
	return nil
}

// peerStreamGetter separates the chaincode stream interface establishment so
// tests can replace it with a mock peer stream.
type peerStreamGetter func(name string) (PeerChaincodeStream, error)

var streamGetter peerStreamGetter

func userChaincodeStreamGetter(name string) (PeerChaincodeStream, error) {
	if *peerAddress == "" {
		return nil, errors.New("flag 'peer.address' must be set")
	}
	conn, err := internal.NewClientConn(*peerAddress, nil, internal.KeepaliveOptions{})
	if err != nil {
		return nil, err
	}
	return internal.NewRegisterClient(conn)
}

// Start is the entry point a chaincode main() calls: it reads
// CORE_CHAINCODE_ID_NAME from the environment and either dials out to
// peer.address (the common case) or, if that flag is unset, listens for the
// peer to dial in (the system-chaincode bootstrap the teacher's serve()
// already provides for).
func Start(cc Chaincode) error {
	flag.Parse()
	chaincodename := os.Getenv("CORE_CHAINCODE_ID_NAME")
	if chaincodename == "" {
		return errors.New("'CORE_CHAINCODE_ID_NAME' must be set")
	}

	if streamGetter == nil {
		streamGetter = userChaincodeStreamGetter
	}

	if *peerAddress == "" {
		if err := serve(chaincodename, cc, internal.KeepaliveOptions{}); err != nil {
			return errors.WithMessagef(err, "failed to start chaincode server")
		}
		return nil
	}

	stream, err := streamGetter(chaincodename)
	if err != nil {
		return err
	}
	return chatWithPeer(chaincodename, stream, cc)
}

// StartInProc is an entry point for system chaincodes bootstrap. It is not
// an API for chaincodes.
func StartInProc(chaincodename string, stream PeerChaincodeStream, cc Chaincode) error {
	return chatWithPeer(chaincodename, stream, cc)
}

// chatWithPeer drives the handshake (component C's startup transition) and
// then the receive loop for the lifetime of one stream.
func chatWithPeer(chaincodename string, stream PeerChaincodeStream, cc Chaincode, hopts ...HandlerOption) error {
	h := newChaincodeHandler(stream, cc, hopts...)
	defer stream.CloseSend()

	if err := h.register(&peerpb.ChaincodeID{Name: chaincodename}); err != nil {
		return fmt.Errorf("error sending chaincode REGISTER: %s", err)
	}

	type recvMsg struct {
		msg *peerpb.ChaincodeMessage
		err error
	}
	msgAvail := make(chan *recvMsg, 1)

	receiveMessage := func() {
		in, err := stream.Recv()
		msgAvail <- &recvMsg{in, err}
	}

	go receiveMessage()
	for rmsg := range msgAvail {
		switch {
		case rmsg.err == io.EOF:
			return errors.New("received EOF, ending chaincode stream")
		case rmsg.err != nil:
			return fmt.Errorf("receive failed: %s", rmsg.err)
		case rmsg.msg == nil:
			return errors.New("received nil message, ending chaincode stream")
		default:
			if err := h.handleMessage(rmsg.msg); err != nil {
				return fmt.Errorf("error handling message: %s", err)
			}
			go receiveMessage()
		}
	}
	return nil
}
