// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"sync"

	peerpb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

// qmsg is a pending request: the outbound frame, the method symbol of the
// operation that issued it (the issuing dispatcher call decodes the
// response itself, see dispatcher.go), and the one-shot pair of
// callbacks that complete the user-code awaitable which created it. It is
// co-owned by the queue (while enqueued) and the dispatcher call that holds
// the callbacks; whichever fires last conceptually releases it.
type qmsg struct {
	outbound *peerpb.ChaincodeMessage
	method   string
	resolve  func(*peerpb.ChaincodeMessage)
	reject   func(error)
}

func txKey(channelID, txID string) string {
	return channelID + txID
}

// failedSend pairs a drained qmsg with the transport error that drained it,
// so rejection can happen after the queue lock is released.
type failedSend struct {
	q   *qmsg
	err error
}

// queueManager is the per-transaction message queue manager, component B.
// It guarantees at most one in-flight peer request per transaction key while
// allowing unlimited concurrent transactions, by keeping one FIFO per key and
// only ever having the head of each FIFO written to the transport.
type queueManager struct {
	mu     sync.Mutex
	queues map[string][]*qmsg
	send   func(*peerpb.ChaincodeMessage) error
}

func newQueueManager(send func(*peerpb.ChaincodeMessage) error) *queueManager {
	return &queueManager{
		queues: make(map[string][]*qmsg),
		send:   send,
	}
}

// enqueue places q at the tail of the queue for its transaction key. If the
// queue was empty or absent it also triggers a send of the new head. It never
// blocks.
func (qm *queueManager) enqueue(q *qmsg) {
	key := txKey(q.outbound.ChannelId, q.outbound.Txid)

	qm.mu.Lock()
	queue, existed := qm.queues[key]
	wasEmpty := !existed || len(queue) == 0
	qm.queues[key] = append(queue, q)

	var failed []failedSend
	if wasEmpty {
		failed = qm.sendHeadLocked(key)
	}
	qm.mu.Unlock()

	for _, f := range failed {
		f.q.reject(f.err)
	}
}

// onResponse looks up the queue for the frame's transaction key. If no head
// exists the frame is a late or duplicate response and is silently dropped.
// Otherwise the head qmsg is removed and completed with the inbound frame,
// then the new head (if any) is sent.
func (qm *queueManager) onResponse(in *peerpb.ChaincodeMessage) {
	key := txKey(in.ChannelId, in.Txid)

	qm.mu.Lock()
	queue, ok := qm.queues[key]
	if !ok || len(queue) == 0 {
		qm.mu.Unlock()
		return
	}

	head := queue[0]
	queue = queue[1:]
	if len(queue) == 0 {
		delete(qm.queues, key)
	} else {
		qm.queues[key] = queue
	}
	qm.mu.Unlock()

	head.resolve(in)
	if len(queue) == 0 {
		return
	}

	// send the new head only if it is still the head and unsent; an enqueue
	// that found the queue empty in the meantime has already sent its own.
	qm.mu.Lock()
	var failed []failedSend
	if cur := qm.queues[key]; len(cur) > 0 && cur[0] == queue[0] {
		failed = qm.sendHeadLocked(key)
	}
	qm.mu.Unlock()
	for _, f := range failed {
		f.q.reject(f.err)
	}
}

// sendHeadLocked writes the current head of key's queue to the transport. On
// a synchronous send error the head is drained from the queue and the next
// entry (if any) is tried in its place; rejection of drained entries is
// deferred to the caller so it happens outside qm.mu. A send failure drains
// rather than retries, since the peer is never expected to answer a request
// it never received.
//
// Must be called with qm.mu held.
func (qm *queueManager) sendHeadLocked(key string) []failedSend {
	var failed []failedSend
	for {
		queue, ok := qm.queues[key]
		if !ok || len(queue) == 0 {
			return failed
		}
		head := queue[0]

		err := qm.send(head.outbound)
		if err == nil {
			return failed
		}

		queue = queue[1:]
		if len(queue) == 0 {
			delete(qm.queues, key)
		} else {
			qm.queues[key] = queue
		}
		failed = append(failed, failedSend{q: head, err: errors.WithMessage(err, "error sending message")})
	}
}

// depth reports the number of queued (including in-flight) requests for a
// transaction key; it exists for tests asserting queue hygiene.
func (qm *queueManager) depth(channelID, txID string) int {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return len(qm.queues[txKey(channelID, txID)])
}
