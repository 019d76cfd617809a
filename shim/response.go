// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package shim

import peerpb "github.com/hyperledger/fabric-protos-go/peer"

// Status codes a Response may carry. These mirror the common/common.proto
// status codes the peer expects on a COMPLETED frame.
const (
	OK             int32 = 200
	ERRORTHRESHOLD int32 = 400
	ERROR          int32 = 500
)

// NewSuccessResponse returns a standard-form successful Response. payload is
// optional; pass nil for none.
func NewSuccessResponse(payload []byte) peerpb.Response {
	return peerpb.Response{
		Status:  OK,
		Payload: payload,
	}
}

// NewErrorResponse returns a standard-form failed Response.
func NewErrorResponse(message string) peerpb.Response {
	return peerpb.Response{
		Status:  ERROR,
		Message: message,
	}
}
