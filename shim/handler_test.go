// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"strings"
	"sync"
	"testing"

	peerpb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream is a minimal PeerChaincodeStream that records every frame sent
// to it; tests drive handler.handleMessage directly rather than through the
// Recv loop.
type fakeStream struct {
	mu   sync.Mutex
	sent []*peerpb.ChaincodeMessage
}

func (f *fakeStream) Send(msg *peerpb.ChaincodeMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeStream) Recv() (*peerpb.ChaincodeMessage, error) { panic("not used in these tests") }
func (f *fakeStream) CloseSend() error                        { return nil }

func (f *fakeStream) messages() []*peerpb.ChaincodeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*peerpb.ChaincodeMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// noopChaincode satisfies Chaincode without being exercised by these tests.
type noopChaincode struct{}

func (noopChaincode) Init(ChaincodeStubInterface) peerpb.Response   { return NewSuccessResponse(nil) }
func (noopChaincode) Invoke(ChaincodeStubInterface) peerpb.Response { return NewSuccessResponse(nil) }

// Boundary scenario 1: bad handshake. FSM starts in created, receives a
// frame whose type is not REGISTERED; expect one outbound ERROR frame whose
// payload contains "while in state: created", and the state does not
// advance.
func TestHandlerBadHandshake(t *testing.T) {
	fs := &fakeStream{}
	h := newChaincodeHandler(fs, noopChaincode{})

	err := h.handleMessage(&peerpb.ChaincodeMessage{
		Type:      peerpb.ChaincodeMessage_TRANSACTION,
		ChannelId: "theChannelID",
		Txid:      "theTxID",
	})
	require.NoError(t, err)

	msgs := fs.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, peerpb.ChaincodeMessage_ERROR, msgs[0].Type)
	assert.Contains(t, string(msgs[0].Payload), "while in state: created")
	assert.Equal(t, stateCreated, h.getState())
}

func TestHandlerEstablishedRejectsAnythingButReady(t *testing.T) {
	fs := &fakeStream{}
	h := newChaincodeHandler(fs, noopChaincode{})
	h.setState(stateEstablished)

	err := h.handleMessage(&peerpb.ChaincodeMessage{Type: peerpb.ChaincodeMessage_INIT})
	require.NoError(t, err)

	msgs := fs.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, peerpb.ChaincodeMessage_ERROR, msgs[0].Type)
	assert.Contains(t, string(msgs[0].Payload), "while in state: established")
	assert.Equal(t, stateEstablished, h.getState())
}

func TestHandlerMonotonicTransitions(t *testing.T) {
	fs := &fakeStream{}
	h := newChaincodeHandler(fs, noopChaincode{})

	require.NoError(t, h.handleMessage(&peerpb.ChaincodeMessage{Type: peerpb.ChaincodeMessage_REGISTERED}))
	assert.Equal(t, stateEstablished, h.getState())

	require.NoError(t, h.handleMessage(&peerpb.ChaincodeMessage{Type: peerpb.ChaincodeMessage_READY}))
	assert.Equal(t, stateReady, h.getState())

	// idempotent re-delivery never regresses state.
	require.NoError(t, h.handleMessage(&peerpb.ChaincodeMessage{Type: peerpb.ChaincodeMessage_REGISTERED}))
	assert.Equal(t, stateReady, h.getState())
	require.NoError(t, h.handleMessage(&peerpb.ChaincodeMessage{Type: peerpb.ChaincodeMessage_READY}))
	assert.Equal(t, stateReady, h.getState())

	assert.Empty(t, fs.messages())
}

func TestHandlerReadyRoutesResponseToQueue(t *testing.T) {
	fs := &fakeStream{}
	h := newChaincodeHandler(fs, noopChaincode{})
	h.setState(stateReady)

	// a RESPONSE with no matching head is silently dropped (boundary
	// scenario 4), never crashes, never produces an outbound frame.
	require.NoError(t, h.handleMessage(&peerpb.ChaincodeMessage{
		Type:      peerpb.ChaincodeMessage_RESPONSE,
		ChannelId: "c",
		Txid:      "t",
		Payload:   []byte("late"),
	}))
	assert.Empty(t, fs.messages())
}

func TestHandlerReadyUnknownTypeExits(t *testing.T) {
	fs := &fakeStream{}
	var exitCode int
	exited := make(chan struct{})
	h := newChaincodeHandler(fs, noopChaincode{}, WithExitFunc(func(code int) {
		exitCode = code
		close(exited)
	}))
	h.setState(stateReady)

	require.NoError(t, h.handleMessage(&peerpb.ChaincodeMessage{Type: peerpb.ChaincodeMessage_KEEPALIVE}))
	<-exited
	assert.Equal(t, 1, exitCode)
}

func TestHandlerStringer(t *testing.T) {
	h := newChaincodeHandler(&fakeStream{}, noopChaincode{})
	assert.Equal(t, "ChaincodeMessageHandler : {}", h.String())
}

func TestHandlerRegisterSendsRegisterFirst(t *testing.T) {
	fs := &fakeStream{}
	h := newChaincodeHandler(fs, noopChaincode{})

	require.NoError(t, h.register(&peerpb.ChaincodeID{Name: "mycc"}))

	msgs := fs.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, peerpb.ChaincodeMessage_REGISTER, msgs[0].Type)
	assert.True(t, strings.HasPrefix(string(msgs[0].Payload), ""))
}
