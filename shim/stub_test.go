// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"testing"
	"time"

	peerpb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStub(t *testing.T, channelID, txID string, args [][]byte) (*ChaincodeStub, *dispatcher, *recordingSend) {
	d, rs := newTestDispatcher(noopChaincode{})
	stub, err := newChaincodeStub(d, channelID, txID, &peerpb.ChaincodeInput{Args: args}, nil)
	require.NoError(t, err)
	return stub.(*ChaincodeStub), d, rs
}

func TestStubGetFunctionAndParameters(t *testing.T) {
	stub, _, _ := newTestStub(t, "ch", "tx", [][]byte{[]byte("put"), []byte("k"), []byte("v")})
	fn, params := stub.GetFunctionAndParameters()
	assert.Equal(t, "put", fn)
	assert.Equal(t, []string{"k", "v"}, params)
}

func TestStubGetFunctionAndParametersEmptyArgs(t *testing.T) {
	stub, _, _ := newTestStub(t, "ch", "tx", nil)
	fn, params := stub.GetFunctionAndParameters()
	assert.Equal(t, "", fn)
	assert.Empty(t, params)
}

func TestStubPutStateRejectsEmptyKey(t *testing.T) {
	stub, _, _ := newTestStub(t, "ch", "tx", nil)
	err := stub.PutState("", []byte("v"))
	assert.Error(t, err)
}

func TestStubCompositeKeyHelpers(t *testing.T) {
	stub, _, _ := newTestStub(t, "ch", "tx", nil)
	key, err := stub.CreateCompositeKey("asset", []string{"a", "b"})
	require.NoError(t, err)

	objType, attrs, err := stub.SplitCompositeKey(key)
	require.NoError(t, err)
	assert.Equal(t, "asset", objType)
	assert.Equal(t, []string{"a", "b"}, attrs)
}

func TestStubSetEventRejectsEmptyName(t *testing.T) {
	stub, _, _ := newTestStub(t, "ch", "tx", nil)
	err := stub.SetEvent("", nil)
	assert.Error(t, err)
	assert.Nil(t, stub.pendingEvent())
}

func TestStubSetEventRecordsPendingEvent(t *testing.T) {
	stub, _, _ := newTestStub(t, "ch", "tx", nil)
	require.NoError(t, stub.SetEvent("created", []byte("payload")))
	ev := stub.pendingEvent()
	require.NotNil(t, ev)
	assert.Equal(t, "created", ev.EventName)
	assert.Equal(t, []byte("payload"), ev.Payload)
}

func TestStubInvokeChaincodeDefaultsToOwnChannel(t *testing.T) {
	stub, d, rs := newTestStub(t, "theChannelID", "tx", nil)

	respCh := make(chan peerpb.Response, 1)
	go func() { respCh <- stub.InvokeChaincode("othercc", nil, "") }()

	require.Eventually(t, func() bool { return len(rs.messages()) == 1 }, time.Second, time.Millisecond)
	sent := rs.messages()[0]
	assert.Equal(t, "theChannelID", sent.ChannelId)

	inner := &peerpb.ChaincodeMessage{Type: peerpb.ChaincodeMessage_COMPLETED}
	innerPayload, err := marshal(&peerpb.Response{Status: OK})
	require.NoError(t, err)
	inner.Payload = innerPayload
	outerPayload, err := marshal(inner)
	require.NoError(t, err)

	d.queue.onResponse(&peerpb.ChaincodeMessage{
		ChannelId: "theChannelID", Txid: "tx", Type: peerpb.ChaincodeMessage_RESPONSE, Payload: outerPayload,
	})

	resp := <-respCh
	assert.Equal(t, OK, resp.Status)
}

func TestStubPrivateDataRequiresCollection(t *testing.T) {
	stub, _, _ := newTestStub(t, "ch", "tx", nil)
	_, err := stub.GetPrivateData("", "k")
	assert.Error(t, err)
	assert.Error(t, stub.PutPrivateData("", "k", nil))
	assert.Error(t, stub.DelPrivateData("", "k"))
}
