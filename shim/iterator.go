// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"sync"

	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	peerpb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

// stateQueryIterator is a lazy, finite, non-restartable cursor: each
// exhausted batch is refilled with QueryStateNext, and Close is explicit
// (callers must defer it; there is no finalizer — a forgotten Close leaks
// the peer-side cursor until the transaction ends).
type stateQueryIterator struct {
	d         *dispatcher
	channelID string
	txID      string

	mu       sync.Mutex
	response *peerpb.QueryResponse
	pos      int
	closed   bool
}

func newStateQueryIterator(d *dispatcher, channelID, txID string, response *peerpb.QueryResponse) *stateQueryIterator {
	return &stateQueryIterator{d: d, channelID: channelID, txID: txID, response: response}
}

func (it *stateQueryIterator) HasNext() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return false
	}
	return it.pos < len(it.response.Results) || it.response.HasMore
}

func (it *stateQueryIterator) Next() (*KV, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed {
		return nil, errors.New("iterator is closed")
	}

	if it.pos >= len(it.response.Results) {
		if !it.response.HasMore {
			return nil, errors.New("iterator exhausted")
		}
		next, err := it.d.queryStateNext(it.channelID, it.txID, it.response.Id)
		if err != nil {
			return nil, err
		}
		it.response = next
		it.pos = 0
		if it.pos >= len(it.response.Results) {
			return nil, errors.New("iterator exhausted")
		}
	}

	raw := it.response.Results[it.pos]
	it.pos++

	kv := &queryresult.KV{}
	if err := unmarshal(raw.ResultBytes, kv); err != nil {
		return nil, err
	}
	return &KV{Namespace: kv.Namespace, Key: kv.Key, Value: kv.Value}, nil
}

func (it *stateQueryIterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return nil
	}
	it.closed = true
	_, err := it.d.queryStateClose(it.channelID, it.txID, it.response.Id)
	return err
}

// historyQueryIterator mirrors stateQueryIterator for GetHistoryForKey,
// decoding each result as a KeyModification instead of a KV.
type historyQueryIterator struct {
	d         *dispatcher
	channelID string
	txID      string

	mu       sync.Mutex
	response *peerpb.QueryResponse
	pos      int
	closed   bool
}

func newHistoryQueryIterator(d *dispatcher, channelID, txID string, response *peerpb.QueryResponse) *historyQueryIterator {
	return &historyQueryIterator{d: d, channelID: channelID, txID: txID, response: response}
}

func (it *historyQueryIterator) HasNext() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return false
	}
	return it.pos < len(it.response.Results) || it.response.HasMore
}

func (it *historyQueryIterator) Next() (*KeyModification, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed {
		return nil, errors.New("iterator is closed")
	}

	if it.pos >= len(it.response.Results) {
		if !it.response.HasMore {
			return nil, errors.New("iterator exhausted")
		}
		next, err := it.d.queryStateNext(it.channelID, it.txID, it.response.Id)
		if err != nil {
			return nil, err
		}
		it.response = next
		it.pos = 0
		if it.pos >= len(it.response.Results) {
			return nil, errors.New("iterator exhausted")
		}
	}

	raw := it.response.Results[it.pos]
	it.pos++

	km := &queryresult.KeyModification{}
	if err := unmarshal(raw.ResultBytes, km); err != nil {
		return nil, err
	}
	var ts int64
	if km.Timestamp != nil {
		ts = km.Timestamp.Seconds
	}
	return &KeyModification{
		TxId:      km.TxId,
		Value:     km.Value,
		Timestamp: ts,
		IsDelete:  km.IsDelete,
	}, nil
}

func (it *historyQueryIterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return nil
	}
	it.closed = true
	_, err := it.d.queryStateClose(it.channelID, it.txID, it.response.Id)
	return err
}
