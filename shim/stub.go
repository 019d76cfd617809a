// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"bytes"
	"sync"

	peerpb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

// ChaincodeStub is the default ChaincodeStubInterface implementation. It adds
// no protocol behavior of its own: every ledger method is a thin adapter
// onto the dispatcher's ask-peer API, built only so the dispatcher is
// exercised end to end. Argument, composite-key and event methods work on
// local state only.
type ChaincodeStub struct {
	dispatcher *dispatcher
	channelID  string
	txID       string
	input      *peerpb.ChaincodeInput
	proposal   *peerpb.SignedProposal

	eventMu sync.Mutex
	event   *peerpb.ChaincodeEvent
}

// newChaincodeStub is the default stubFactory.
func newChaincodeStub(d *dispatcher, channelID, txID string, input *peerpb.ChaincodeInput, proposal *peerpb.SignedProposal) (ChaincodeStubInterface, error) {
	if input == nil {
		return nil, errors.New("chaincode input cannot be nil")
	}
	return &ChaincodeStub{
		dispatcher: d,
		channelID:  channelID,
		txID:       txID,
		input:      input,
		proposal:   proposal,
	}, nil
}

func (s *ChaincodeStub) GetArgs() [][]byte {
	return s.input.Args
}

func (s *ChaincodeStub) GetStringArgs() []string {
	args := s.GetArgs()
	strargs := make([]string, 0, len(args))
	for _, arg := range args {
		strargs = append(strargs, string(arg))
	}
	return strargs
}

func (s *ChaincodeStub) GetFunctionAndParameters() (string, []string) {
	allargs := s.GetStringArgs()
	function := ""
	params := []string{}
	if len(allargs) >= 1 {
		function = allargs[0]
		params = allargs[1:]
	}
	return function, params
}

func (s *ChaincodeStub) GetArgsSlice() ([]byte, error) {
	return bytes.Join(s.GetArgs(), nil), nil
}

func (s *ChaincodeStub) GetTxID() string {
	return s.txID
}

func (s *ChaincodeStub) GetChannelID() string {
	return s.channelID
}

func (s *ChaincodeStub) GetState(key string) ([]byte, error) {
	return s.dispatcher.getState(s.channelID, s.txID, "", key)
}

func (s *ChaincodeStub) PutState(key string, value []byte) error {
	if len(key) == 0 {
		return errors.New("key must not be an empty string")
	}
	return s.dispatcher.putState(s.channelID, s.txID, "", key, value)
}

func (s *ChaincodeStub) DelState(key string) error {
	return s.dispatcher.deleteState(s.channelID, s.txID, "", key)
}

func (s *ChaincodeStub) GetStateMetadata(key string) (map[string][]byte, error) {
	return s.dispatcher.getStateMetadata(s.channelID, s.txID, "", key)
}

func (s *ChaincodeStub) SetStateMetadata(key string, metadata map[string][]byte) error {
	for metakey, value := range metadata {
		if err := s.dispatcher.putStateMetadata(s.channelID, s.txID, "", key, metakey, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChaincodeStub) GetPrivateDataHash(collection, key string) ([]byte, error) {
	return s.dispatcher.getPrivateDataHash(s.channelID, s.txID, collection, key)
}

func (s *ChaincodeStub) GetPrivateData(collection, key string) ([]byte, error) {
	if collection == "" {
		return nil, errors.New("collection must not be an empty string")
	}
	return s.dispatcher.getState(s.channelID, s.txID, collection, key)
}

func (s *ChaincodeStub) PutPrivateData(collection, key string, value []byte) error {
	if collection == "" {
		return errors.New("collection must not be an empty string")
	}
	return s.dispatcher.putState(s.channelID, s.txID, collection, key, value)
}

func (s *ChaincodeStub) DelPrivateData(collection, key string) error {
	if collection == "" {
		return errors.New("collection must not be an empty string")
	}
	return s.dispatcher.deleteState(s.channelID, s.txID, collection, key)
}

func (s *ChaincodeStub) GetStateByRange(startKey, endKey string) (StateQueryIteratorInterface, error) {
	rr, err := s.dispatcher.getStateByRange(s.channelID, s.txID, "", startKey, endKey, nil)
	if err != nil {
		return nil, err
	}
	return rr.iterator, nil
}

func (s *ChaincodeStub) GetQueryResult(query string) (StateQueryIteratorInterface, error) {
	rr, err := s.dispatcher.getQueryResult(s.channelID, s.txID, "", query, nil)
	if err != nil {
		return nil, err
	}
	return rr.iterator, nil
}

func (s *ChaincodeStub) GetHistoryForKey(key string) (HistoryQueryIteratorInterface, error) {
	hr, err := s.dispatcher.getHistoryForKey(s.channelID, s.txID, key)
	if err != nil {
		return nil, err
	}
	return hr.iterator, nil
}

func (s *ChaincodeStub) InvokeChaincode(chaincodeName string, args [][]byte, channel string) peerpb.Response {
	targetChannel := channel
	if targetChannel == "" {
		targetChannel = s.channelID
	}
	resp, err := s.dispatcher.invokeChaincode(targetChannel, s.txID, chaincodeName, args)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return *resp
}

func (s *ChaincodeStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	return createCompositeKey(objectType, attributes)
}

func (s *ChaincodeStub) SplitCompositeKey(compositeKey string) (string, []string, error) {
	return splitCompositeKey(compositeKey)
}

func (s *ChaincodeStub) SetEvent(name string, payload []byte) error {
	if name == "" {
		return errors.New("event name can not be nil string")
	}
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	s.event = &peerpb.ChaincodeEvent{EventName: name, Payload: payload}
	return nil
}

// pendingEvent implements eventEmitter for the dispatcher to pick up, after
// Init/Invoke returns, the single event (if any) this transaction emitted.
func (s *ChaincodeStub) pendingEvent() *peerpb.ChaincodeEvent {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	return s.event
}
