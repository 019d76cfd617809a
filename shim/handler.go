// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	peerpb "github.com/hyperledger/fabric-protos-go/peer"
)

// connState is the connection FSM's state. It only ever advances
// created -> established -> ready.
type connState int32

const (
	stateCreated connState = iota
	stateEstablished
	stateReady
)

func (s connState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateEstablished:
		return "established"
	case stateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Handler drives the single bidirectional stream for one chaincode process:
// it owns the transport, the per-transaction queue manager, and the
// transaction dispatcher, and classifies every inbound frame against the
// connection FSM.
type Handler struct {
	stream PeerChaincodeStream

	sendMu sync.Mutex
	state  int32 // connState, accessed atomically

	queue      *queueManager
	dispatcher *dispatcher

	// exit is invoked on an unrecognized frame type while ready; it defaults
	// to os.Exit(1) but is swappable so tests can observe the fatal path
	// without killing the test binary.
	exit func(code int)
}

func newChaincodeHandler(stream PeerChaincodeStream, cc Chaincode, opts ...HandlerOption) *Handler {
	h := &Handler{
		stream: stream,
		state:  int32(stateCreated),
		exit:   func(code int) { os.Exit(code) },
	}
	h.queue = newQueueManager(h.serialSend)
	h.dispatcher = newDispatcher(cc, h.queue, h.serialSend)

	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandlerOption customizes a Handler at construction; used by tests to
// inject a fake exit function or a stub factory without module-level
// rebinding.
type HandlerOption func(*Handler)

// WithExitFunc overrides the process-exit hook invoked on an unrecognized
// ready-state frame.
func WithExitFunc(exit func(code int)) HandlerOption {
	return func(h *Handler) { h.exit = exit }
}

// WithStubFactory overrides how the dispatcher builds the Stub passed to
// user code.
func WithStubFactory(factory stubFactory) HandlerOption {
	return func(h *Handler) { h.dispatcher.newStub = factory }
}

// WithHandlerRequestTimeout overrides the dispatcher's ask-peer timeout; a
// zero value leaves the dispatcher's default in place.
func WithHandlerRequestTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.dispatcher.requestTimeout = d
		}
	}
}

func (h *Handler) String() string {
	return "ChaincodeMessageHandler : {}"
}

func (h *Handler) getState() connState {
	return connState(atomic.LoadInt32(&h.state))
}

func (h *Handler) setState(s connState) {
	atomic.StoreInt32(&h.state, int32(s))
}

// serialSend funnels all outbound frame writes through one mutex so the
// transport's write side, which is single-producer, sees one writer even
// when the queue manager and the dispatcher's COMPLETED/ERROR writer race.
func (h *Handler) serialSend(msg *peerpb.ChaincodeMessage) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	return h.stream.Send(msg)
}

// register sends the initial REGISTER frame. It must be called exactly once,
// before any other outbound frame, while the handler is in stateCreated.
func (h *Handler) register(chaincodeID *peerpb.ChaincodeID) error {
	payload, err := marshal(chaincodeID)
	if err != nil {
		return fmt.Errorf("error marshalling chaincodeID during chaincode registration: %s", err)
	}
	return h.serialSend(&peerpb.ChaincodeMessage{
		Type:    peerpb.ChaincodeMessage_REGISTER,
		Payload: payload,
	})
}

// handleMessage classifies one inbound frame per the current FSM state and
// routes it. It never blocks: INIT/TRANSACTION dispatch is handed off to a
// goroutine so a slow chaincode invocation cannot stall the receive loop.
func (h *Handler) handleMessage(msg *peerpb.ChaincodeMessage) error {
	switch h.getState() {
	case stateCreated:
		if msg.Type != peerpb.ChaincodeMessage_REGISTERED {
			return h.protocolError(msg)
		}
		h.setState(stateEstablished)
		return nil

	case stateEstablished:
		if msg.Type != peerpb.ChaincodeMessage_READY {
			return h.protocolError(msg)
		}
		h.setState(stateReady)
		return nil

	case stateReady:
		switch msg.Type {
		case peerpb.ChaincodeMessage_INIT:
			go h.dispatcher.handleInit(msg)
			return nil
		case peerpb.ChaincodeMessage_TRANSACTION:
			go h.dispatcher.handleTransaction(msg)
			return nil
		case peerpb.ChaincodeMessage_RESPONSE, peerpb.ChaincodeMessage_ERROR:
			h.queue.onResponse(msg)
			return nil
		case peerpb.ChaincodeMessage_REGISTERED, peerpb.ChaincodeMessage_READY:
			// idempotent re-delivery; ignore.
			return nil
		default:
			// the peer is speaking a protocol this shim does not know;
			// failing fast beats silently corrupting transaction state.
			h.exit(1)
			return nil
		}

	default:
		h.exit(1)
		return nil
	}
}

// protocolError writes an ERROR frame describing the frame the FSM could not
// handle in its current state. It does not change state.
func (h *Handler) protocolError(msg *peerpb.ChaincodeMessage) error {
	errMsg := fmt.Sprintf(
		"[%s-%s] Chaincode handler FSM cannot handle message (%s) with payload size (%d) while in state: %s",
		msg.ChannelId, msg.Txid, msg.Type.String(), len(msg.Payload), h.getState(),
	)
	return h.serialSend(&peerpb.ChaincodeMessage{
		Type:      peerpb.ChaincodeMessage_ERROR,
		Payload:   []byte(errMsg),
		ChannelId: msg.ChannelId,
		Txid:      msg.Txid,
	})
}
