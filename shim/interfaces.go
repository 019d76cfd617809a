// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	peerpb "github.com/hyperledger/fabric-protos-go/peer"
)

// Chaincode is the capability set user code must provide: Init runs once per
// instantiation/upgrade, Invoke runs once per transaction. Both receive a
// per-transaction Stub and return a Response or fail.
type Chaincode interface {
	Init(stub ChaincodeStubInterface) peerpb.Response
	Invoke(stub ChaincodeStubInterface) peerpb.Response
}

// PeerChaincodeStream is the bidirectional frame channel the connection FSM
// drives. grpc's generated Chaincode_ConnectClient (used as is) and the
// server-side stream type (also wrapped, see shim.go's stream type) both
// satisfy it, which is how the same handler serves dial-out and listen-mode
// chaincodes alike.
type PeerChaincodeStream interface {
	Send(*peerpb.ChaincodeMessage) error
	Recv() (*peerpb.ChaincodeMessage, error)
	CloseSend() error
}

// ChaincodeStubInterface is the per-transaction context passed to user code.
// The default implementation in stub.go exercises the dispatcher's ask-peer
// API end to end and adds no protocol behavior of its own.
type ChaincodeStubInterface interface {
	GetArgs() [][]byte
	GetStringArgs() []string
	GetFunctionAndParameters() (string, []string)
	GetArgsSlice() ([]byte, error)

	GetTxID() string
	GetChannelID() string

	GetState(key string) ([]byte, error)
	PutState(key string, value []byte) error
	DelState(key string) error

	GetStateMetadata(key string) (map[string][]byte, error)
	SetStateMetadata(key string, metadata map[string][]byte) error

	GetPrivateDataHash(collection, key string) ([]byte, error)
	GetPrivateData(collection, key string) ([]byte, error)
	PutPrivateData(collection, key string, value []byte) error
	DelPrivateData(collection, key string) error

	GetStateByRange(startKey, endKey string) (StateQueryIteratorInterface, error)
	GetQueryResult(query string) (StateQueryIteratorInterface, error)
	GetHistoryForKey(key string) (HistoryQueryIteratorInterface, error)

	InvokeChaincode(chaincodeName string, args [][]byte, channel string) peerpb.Response

	CreateCompositeKey(objectType string, attributes []string) (string, error)
	SplitCompositeKey(compositeKey string) (string, []string, error)

	SetEvent(name string, payload []byte) error
}

// CommonIteratorInterface is shared by the two paginated cursor products: a
// lazy, finite, non-restartable sequence backed by
// QueryStateNext/QueryStateClose. The peer-side cursor is released only by
// an explicit Close; dropping the iterator does not close it.
type CommonIteratorInterface interface {
	HasNext() bool
	Close() error
}

// StateQueryIteratorInterface iterates KV pairs returned by a range scan or
// rich query.
type StateQueryIteratorInterface interface {
	CommonIteratorInterface
	Next() (*KV, error)
}

// HistoryQueryIteratorInterface iterates modification records for a single
// key.
type HistoryQueryIteratorInterface interface {
	CommonIteratorInterface
	Next() (*KeyModification, error)
}

// KV is one key/value pair yielded by a StateQueryIteratorInterface.
type KV struct {
	Namespace string
	Key       string
	Value     []byte
}

// KeyModification is one entry yielded by a HistoryQueryIteratorInterface.
type KeyModification struct {
	TxId      string
	Value     []byte
	Timestamp int64
	IsDelete  bool
}
