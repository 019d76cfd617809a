// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Command ccshim is a minimal host program wiring the protocol runtime
// together: it is not itself part of the protocol core, only the thinnest
// possible "some chaincode implements shim.Chaincode and calls shim.Start"
// wrapper the teacher's Start/StartInProc functions were written to support.
package main

import (
	"log"

	peerpb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/ledgerkit/ccshim/shim"
)

// echoChaincode is a placeholder Chaincode: real chaincode business logic is
// an external collaborator out of scope for this module. It exists so this
// binary is runnable end to end against a peer.
type echoChaincode struct{}

func (echoChaincode) Init(stub shim.ChaincodeStubInterface) peerpb.Response {
	return shim.NewSuccessResponse(nil)
}

func (echoChaincode) Invoke(stub shim.ChaincodeStubInterface) peerpb.Response {
	function, params := stub.GetFunctionAndParameters()
	switch function {
	case "get":
		if len(params) != 1 {
			return shim.NewErrorResponse("get expects exactly one argument: key")
		}
		value, err := stub.GetState(params[0])
		if err != nil {
			return shim.NewErrorResponse(err.Error())
		}
		return shim.NewSuccessResponse(value)
	case "put":
		if len(params) != 2 {
			return shim.NewErrorResponse("put expects exactly two arguments: key, value")
		}
		if err := stub.PutState(params[0], []byte(params[1])); err != nil {
			return shim.NewErrorResponse(err.Error())
		}
		return shim.NewSuccessResponse(nil)
	default:
		return shim.NewErrorResponse("unknown function: " + function)
	}
}

func main() {
	log.Fatal(run())
}

func run() error {
	cc := &echoChaincode{}
	return shim.Start(cc)
}
