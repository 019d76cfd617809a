// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"context"
	"fmt"
	"sync"
	"time"

	peerpb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

// stubFactory builds the per-transaction Stub passed to user code. It is
// injected rather than hard-wired so tests (and alternative Stub
// implementations) can replace newChaincodeStub without module-level rebinding.
type stubFactory func(d *dispatcher, channelID, txID string, input *peerpb.ChaincodeInput, proposal *peerpb.SignedProposal) (ChaincodeStubInterface, error)

// eventEmitter is implemented by Stub implementations that can carry a
// single chaincode event to be attached to the outbound COMPLETED frame.
// It is deliberately not part of ChaincodeStubInterface: most callers never
// need it.
type eventEmitter interface {
	pendingEvent() *peerpb.ChaincodeEvent
}

// dispatcher is the transaction dispatcher, component D. It turns inbound
// INIT/TRANSACTION frames into user-code invocations and exposes the
// synchronous "ask peer" API user code drives through a Stub, built on top
// of the queue manager (component B).
type dispatcher struct {
	cc      Chaincode
	queue   *queueManager
	send    func(*peerpb.ChaincodeMessage) error
	newStub stubFactory

	requestTimeout time.Duration
}

func newDispatcher(cc Chaincode, queue *queueManager, send func(*peerpb.ChaincodeMessage) error) *dispatcher {
	return &dispatcher{
		cc:             cc,
		queue:          queue,
		send:           send,
		newStub:        newChaincodeStub,
		requestTimeout: 30 * time.Second,
	}
}

// ask builds a qmsg for one peer operation, enqueues it, and blocks the
// calling goroutine (one per in-flight transaction, never the receive loop)
// until the matching response, a transport send failure, or the configured
// request-timeout completes it.
func (d *dispatcher) ask(channelID, txID, method string, msgType peerpb.ChaincodeMessage_Type, payload []byte) (*peerpb.ChaincodeMessage, error) {
	ch := make(chan struct {
		msg *peerpb.ChaincodeMessage
		err error
	}, 1)
	var once sync.Once

	q := &qmsg{
		outbound: &peerpb.ChaincodeMessage{
			Type:      msgType,
			Payload:   payload,
			ChannelId: channelID,
			Txid:      txID,
		},
		method: method,
		resolve: func(in *peerpb.ChaincodeMessage) {
			once.Do(func() {
				ch <- struct {
					msg *peerpb.ChaincodeMessage
					err error
				}{msg: in}
			})
		},
		reject: func(err error) {
			once.Do(func() {
				ch <- struct {
					msg *peerpb.ChaincodeMessage
					err error
				}{err: err}
			})
		},
	}

	d.queue.enqueue(q)

	ctx, cancel := context.WithTimeout(context.Background(), d.requestTimeout)
	defer cancel()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return d.decodeEnvelope(channelID, txID, method, r.msg)
	case <-ctx.Done():
		return nil, errors.Errorf("[%s-%s] timed out waiting for %s() response", channelID, txID, method)
	}
}

// decodeEnvelope applies the type check common to every response before the
// method-specific decode.
func (d *dispatcher) decodeEnvelope(channelID, txID, method string, in *peerpb.ChaincodeMessage) (*peerpb.ChaincodeMessage, error) {
	if in.Type == peerpb.ChaincodeMessage_ERROR {
		return nil, errors.New(string(in.Payload))
	}
	if in.Type != peerpb.ChaincodeMessage_RESPONSE {
		return nil, fmt.Errorf(
			"[%s-%s] Received incorrect chaincode in response to the %s() call: type=%q, expecting \"RESPONSE\"",
			channelID, txID, method, in.Type.String(),
		)
	}
	return in, nil
}

// --- ask-peer API --------------------------------------------------------

func (d *dispatcher) getState(channelID, txID, collection, key string) ([]byte, error) {
	payload, err := marshal(&peerpb.GetState{Key: key, Collection: collection})
	if err != nil {
		return nil, err
	}
	in, err := d.ask(channelID, txID, "GetState", peerpb.ChaincodeMessage_GET_STATE, payload)
	if err != nil {
		return nil, err
	}
	return in.Payload, nil
}

func (d *dispatcher) putState(channelID, txID, collection, key string, value []byte) error {
	payload, err := marshal(&peerpb.PutState{Key: key, Value: value, Collection: collection})
	if err != nil {
		return err
	}
	_, err = d.ask(channelID, txID, "PutState", peerpb.ChaincodeMessage_PUT_STATE, payload)
	return err
}

func (d *dispatcher) deleteState(channelID, txID, collection, key string) error {
	payload, err := marshal(&peerpb.DelState{Key: key, Collection: collection})
	if err != nil {
		return err
	}
	_, err = d.ask(channelID, txID, "DeleteState", peerpb.ChaincodeMessage_DEL_STATE, payload)
	return err
}

func (d *dispatcher) getStateMetadata(channelID, txID, collection, key string) (map[string][]byte, error) {
	payload, err := marshal(&peerpb.GetStateMetadata{Key: key, Collection: collection})
	if err != nil {
		return nil, err
	}
	in, err := d.ask(channelID, txID, "GetStateMetadata", peerpb.ChaincodeMessage_GET_STATE_METADATA, payload)
	if err != nil {
		return nil, err
	}
	result := &peerpb.StateMetadataResult{}
	if err := unmarshal(in.Payload, result); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(result.Entries))
	for _, e := range result.Entries {
		out[e.Metakey] = e.Value
	}
	return out, nil
}

func (d *dispatcher) putStateMetadata(channelID, txID, collection, key, metakey string, value []byte) error {
	payload, err := marshal(&peerpb.PutStateMetadata{
		Key:        key,
		Collection: collection,
		Metadata:   &peerpb.StateMetadata{Metakey: metakey, Value: value},
	})
	if err != nil {
		return err
	}
	_, err = d.ask(channelID, txID, "PutStateMetadata", peerpb.ChaincodeMessage_PUT_STATE_METADATA, payload)
	return err
}

func (d *dispatcher) getPrivateDataHash(channelID, txID, collection, key string) ([]byte, error) {
	payload, err := marshal(&peerpb.GetState{Key: key, Collection: collection})
	if err != nil {
		return nil, err
	}
	in, err := d.ask(channelID, txID, "GetPrivateDataHash", peerpb.ChaincodeMessage_GET_PRIVATE_DATA_HASH, payload)
	if err != nil {
		return nil, err
	}
	return in.Payload, nil
}

// rangeResult pairs the paginated iterator GetStateByRange/GetQueryResult
// hand back with the query response metadata (fetched-record count, bookmark)
// the peer attaches to the first page.
type rangeResult struct {
	iterator StateQueryIteratorInterface
	metadata *peerpb.QueryResponseMetadata
}

func decodeQueryResponseMetadata(raw []byte) (*peerpb.QueryResponseMetadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	md := &peerpb.QueryResponseMetadata{}
	if err := unmarshal(raw, md); err != nil {
		return nil, err
	}
	return md, nil
}

func (d *dispatcher) getStateByRange(channelID, txID, collection, startKey, endKey string, metadata []byte) (*rangeResult, error) {
	payload, err := marshal(&peerpb.GetStateByRange{
		StartKey:   startKey,
		EndKey:     endKey,
		Collection: collection,
		Metadata:   metadata,
	})
	if err != nil {
		return nil, err
	}
	in, err := d.ask(channelID, txID, "GetStateByRange", peerpb.ChaincodeMessage_GET_STATE_BY_RANGE, payload)
	if err != nil {
		return nil, err
	}
	return d.buildRangeResult(channelID, txID, in.Payload)
}

func (d *dispatcher) getQueryResult(channelID, txID, collection, query string, metadata []byte) (*rangeResult, error) {
	payload, err := marshal(&peerpb.GetQueryResult{
		Query:      query,
		Collection: collection,
		Metadata:   metadata,
	})
	if err != nil {
		return nil, err
	}
	in, err := d.ask(channelID, txID, "GetQueryResult", peerpb.ChaincodeMessage_GET_QUERY_RESULT, payload)
	if err != nil {
		return nil, err
	}
	return d.buildRangeResult(channelID, txID, in.Payload)
}

func (d *dispatcher) buildRangeResult(channelID, txID string, payload []byte) (*rangeResult, error) {
	qr := &peerpb.QueryResponse{}
	if err := unmarshal(payload, qr); err != nil {
		return nil, err
	}
	md, err := decodeQueryResponseMetadata(qr.Metadata)
	if err != nil {
		return nil, err
	}
	return &rangeResult{
		iterator: newStateQueryIterator(d, channelID, txID, qr),
		metadata: md,
	}, nil
}

// historyResult mirrors rangeResult for GetHistoryForKey.
type historyResult struct {
	iterator HistoryQueryIteratorInterface
	metadata *peerpb.QueryResponseMetadata
}

func (d *dispatcher) getHistoryForKey(channelID, txID, key string) (*historyResult, error) {
	payload, err := marshal(&peerpb.GetHistoryForKey{Key: key})
	if err != nil {
		return nil, err
	}
	in, err := d.ask(channelID, txID, "GetHistoryForKey", peerpb.ChaincodeMessage_GET_HISTORY_FOR_KEY, payload)
	if err != nil {
		return nil, err
	}
	qr := &peerpb.QueryResponse{}
	if err := unmarshal(in.Payload, qr); err != nil {
		return nil, err
	}
	md, err := decodeQueryResponseMetadata(qr.Metadata)
	if err != nil {
		return nil, err
	}
	return &historyResult{
		iterator: newHistoryQueryIterator(d, channelID, txID, qr),
		metadata: md,
	}, nil
}

func (d *dispatcher) queryStateNext(channelID, txID, id string) (*peerpb.QueryResponse, error) {
	payload, err := marshal(&peerpb.QueryStateNext{Id: id})
	if err != nil {
		return nil, err
	}
	in, err := d.ask(channelID, txID, "QueryStateNext", peerpb.ChaincodeMessage_QUERY_STATE_NEXT, payload)
	if err != nil {
		return nil, err
	}
	qr := &peerpb.QueryResponse{}
	if err := unmarshal(in.Payload, qr); err != nil {
		return nil, err
	}
	return qr, nil
}

func (d *dispatcher) queryStateClose(channelID, txID, id string) (*peerpb.QueryResponse, error) {
	payload, err := marshal(&peerpb.QueryStateClose{Id: id})
	if err != nil {
		return nil, err
	}
	in, err := d.ask(channelID, txID, "QueryStateClose", peerpb.ChaincodeMessage_QUERY_STATE_CLOSE, payload)
	if err != nil {
		return nil, err
	}
	qr := &peerpb.QueryResponse{}
	if err := unmarshal(in.Payload, qr); err != nil {
		return nil, err
	}
	return qr, nil
}

func (d *dispatcher) invokeChaincode(channelID, txID, chaincodeName string, args [][]byte) (*peerpb.Response, error) {
	payload, err := marshal(&peerpb.ChaincodeSpec{
		ChaincodeId: &peerpb.ChaincodeID{Name: chaincodeName},
		Input:       &peerpb.ChaincodeInput{Args: args},
	})
	if err != nil {
		return nil, err
	}
	in, err := d.ask(channelID, txID, "InvokeChaincode", peerpb.ChaincodeMessage_INVOKE_CHAINCODE, payload)
	if err != nil {
		return nil, err
	}
	inner := &peerpb.ChaincodeMessage{}
	if err := unmarshal(in.Payload, inner); err != nil {
		return nil, err
	}
	switch inner.Type {
	case peerpb.ChaincodeMessage_COMPLETED:
		resp := &peerpb.Response{}
		if err := unmarshal(inner.Payload, resp); err != nil {
			return nil, err
		}
		return resp, nil
	case peerpb.ChaincodeMessage_ERROR:
		resp := &peerpb.Response{}
		if err := unmarshal(inner.Payload, resp); err != nil {
			return nil, errors.New(string(inner.Payload))
		}
		return nil, errors.New(resp.Message)
	default:
		return &peerpb.Response{Payload: inner.Payload}, nil
	}
}

// --- inbound INIT/TRANSACTION dispatch -----------------------------------

func shortTxID(txid string) string {
	if len(txid) <= 8 {
		return txid
	}
	return txid[:8]
}

func (d *dispatcher) handleInit(msg *peerpb.ChaincodeMessage) {
	d.handleInvocation(msg, "Init", d.cc.Init)
}

func (d *dispatcher) handleTransaction(msg *peerpb.ChaincodeMessage) {
	d.handleInvocation(msg, "Invoke", d.cc.Invoke)
}

func (d *dispatcher) handleInvocation(msg *peerpb.ChaincodeMessage, opName string, call func(ChaincodeStubInterface) peerpb.Response) {
	input := &peerpb.ChaincodeInput{}
	if err := unmarshal(msg.Payload, input); err != nil {
		d.send(&peerpb.ChaincodeMessage{
			Type:      peerpb.ChaincodeMessage_ERROR,
			Payload:   msg.Payload,
			ChannelId: msg.ChannelId,
			Txid:      msg.Txid,
		})
		return
	}

	stub, err := d.newStub(d, msg.ChannelId, msg.Txid, input, msg.Proposal)
	if err != nil {
		d.send(&peerpb.ChaincodeMessage{
			Type:      peerpb.ChaincodeMessage_ERROR,
			Payload:   []byte(err.Error()),
			ChannelId: msg.ChannelId,
			Txid:      msg.Txid,
		})
		return
	}

	resp, callErr := d.invokeSafely(call, stub)
	if callErr != nil {
		d.send(&peerpb.ChaincodeMessage{
			Type:      peerpb.ChaincodeMessage_ERROR,
			Payload:   []byte(callErr.Error()),
			ChannelId: msg.ChannelId,
			Txid:      msg.Txid,
		})
		return
	}

	if resp.Status == 0 {
		resp = peerpb.Response{
			Status: ERROR,
			Message: fmt.Sprintf(
				"[%s-%s] Calling chaincode %s() has not called success or error.",
				msg.ChannelId, shortTxID(msg.Txid), opName,
			),
		}
	}

	payload, err := marshal(&resp)
	if err != nil {
		d.send(&peerpb.ChaincodeMessage{
			Type:      peerpb.ChaincodeMessage_ERROR,
			Payload:   []byte(err.Error()),
			ChannelId: msg.ChannelId,
			Txid:      msg.Txid,
		})
		return
	}

	out := &peerpb.ChaincodeMessage{
		Type:      peerpb.ChaincodeMessage_COMPLETED,
		Payload:   payload,
		ChannelId: msg.ChannelId,
		Txid:      msg.Txid,
	}
	if emitter, ok := stub.(eventEmitter); ok {
		if ev := emitter.pendingEvent(); ev != nil {
			out.ChaincodeEvent = ev
		}
	}
	d.send(out)
}

// invokeSafely recovers a panic from user code and reports it the same way
// as a returned error, since Go chaincode has no throw/catch of its own.
func (d *dispatcher) invokeSafely(call func(ChaincodeStubInterface) peerpb.Response, stub ChaincodeStubInterface) (resp peerpb.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	resp = call(stub)
	return resp, nil
}
