// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"sync"
	"testing"

	peerpb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSend captures every frame handed to the transport and lets tests
// control whether a given send succeeds.
type recordingSend struct {
	mu   sync.Mutex
	sent []*peerpb.ChaincodeMessage
	fail func(*peerpb.ChaincodeMessage) error
}

func (r *recordingSend) send(msg *peerpb.ChaincodeMessage) error {
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	if r.fail != nil {
		return r.fail(msg)
	}
	return nil
}

func (r *recordingSend) messages() []*peerpb.ChaincodeMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peerpb.ChaincodeMessage, len(r.sent))
	copy(out, r.sent)
	return out
}

func newTestQMsg(channelID, txID, tag string) (*qmsg, chan string) {
	result := make(chan string, 1)
	return &qmsg{
		outbound: &peerpb.ChaincodeMessage{ChannelId: channelID, Txid: txID, Payload: []byte(tag)},
		method:   tag,
		resolve:  func(in *peerpb.ChaincodeMessage) { result <- "resolved:" + string(in.Payload) },
		reject:   func(err error) { result <- "rejected:" + err.Error() },
	}, result
}

// Boundary scenario 3: per-tx serialization. On key K, issue PutState then
// DeleteState back to back; the transport sees only the first frame until a
// response for it is injected.
func TestQueueManagerPerTxSerialization(t *testing.T) {
	rs := &recordingSend{}
	qm := newQueueManager(rs.send)

	q1, r1 := newTestQMsg("ch", "tx", "PutState")
	q2, r2 := newTestQMsg("ch", "tx", "DeleteState")

	qm.enqueue(q1)
	qm.enqueue(q2)

	require.Len(t, rs.messages(), 1)
	assert.Equal(t, "PutState", string(rs.messages()[0].Payload))

	qm.onResponse(&peerpb.ChaincodeMessage{ChannelId: "ch", Txid: "tx", Type: peerpb.ChaincodeMessage_RESPONSE, Payload: []byte("ok1")})

	require.Len(t, rs.messages(), 2)
	assert.Equal(t, "DeleteState", string(rs.messages()[1].Payload))
	assert.Equal(t, "resolved:ok1", <-r1)

	qm.onResponse(&peerpb.ChaincodeMessage{ChannelId: "ch", Txid: "tx", Type: peerpb.ChaincodeMessage_RESPONSE, Payload: []byte("ok2")})
	assert.Equal(t, "resolved:ok2", <-r2)

	assert.Equal(t, 0, qm.depth("ch", "tx"))
}

// Boundary scenario 4: a response for an absent/empty queue is dropped
// silently — no crash, no callback firing, no state change.
func TestQueueManagerLateResponseDropped(t *testing.T) {
	rs := &recordingSend{}
	qm := newQueueManager(rs.send)

	assert.NotPanics(t, func() {
		qm.onResponse(&peerpb.ChaincodeMessage{ChannelId: "ch", Txid: "nope", Type: peerpb.ChaincodeMessage_RESPONSE})
	})
	assert.Empty(t, rs.messages())
}

// Concurrent transactions proceed independently and in parallel.
func TestQueueManagerCrossTxParallel(t *testing.T) {
	rs := &recordingSend{}
	qm := newQueueManager(rs.send)

	qA, _ := newTestQMsg("ch", "txA", "GetState")
	qB, _ := newTestQMsg("ch", "txB", "GetState")

	qm.enqueue(qA)
	qm.enqueue(qB)

	assert.Len(t, rs.messages(), 2)
}

// Open question 1 resolution: a synchronous send failure fails the head
// qmsg and drains it from the queue; the next entry (if any) is tried.
func TestQueueManagerSendFailureDrainsHead(t *testing.T) {
	rs := &recordingSend{}
	callCount := 0
	rs.fail = func(msg *peerpb.ChaincodeMessage) error {
		callCount++
		if callCount == 1 {
			return errors.New("boom")
		}
		return nil
	}
	qm := newQueueManager(rs.send)

	q1, r1 := newTestQMsg("ch", "tx", "PutState")
	q2, r2 := newTestQMsg("ch", "tx", "DeleteState")

	qm.enqueue(q1)
	qm.enqueue(q2)

	assert.Equal(t, "rejected:error sending message: boom", <-r1)
	// q2 became head after q1 drained, and its send succeeded.
	assert.Len(t, rs.messages(), 2)
	select {
	case res := <-r2:
		t.Fatalf("q2 should still be in flight, got %q", res)
	default:
	}
	assert.Equal(t, 1, qm.depth("ch", "tx"))
}

func TestQMsgOrderingAcrossSameKey(t *testing.T) {
	rs := &recordingSend{}
	qm := newQueueManager(rs.send)

	var order []string
	var mu sync.Mutex
	record := func(tag string) func(*peerpb.ChaincodeMessage) {
		return func(*peerpb.ChaincodeMessage) {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
		}
	}

	q1 := &qmsg{outbound: &peerpb.ChaincodeMessage{ChannelId: "c", Txid: "t"}, method: "A", resolve: record("A"), reject: func(error) {}}
	q2 := &qmsg{outbound: &peerpb.ChaincodeMessage{ChannelId: "c", Txid: "t"}, method: "B", resolve: record("B"), reject: func(error) {}}

	qm.enqueue(q1)
	qm.enqueue(q2)

	qm.onResponse(&peerpb.ChaincodeMessage{ChannelId: "c", Txid: "t", Type: peerpb.ChaincodeMessage_RESPONSE})
	qm.onResponse(&peerpb.ChaincodeMessage{ChannelId: "c", Txid: "t", Type: peerpb.ChaincodeMessage_RESPONSE})

	assert.Equal(t, []string{"A", "B"}, order)
}
