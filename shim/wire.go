// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"github.com/golang/protobuf/proto"
)

// marshal and unmarshal centralize the protocol-buffer codec the teacher
// uses inline (proto.Marshal(chaincodeID) in shim.go); every wire body
// exchanged with the peer goes through these two functions.
func marshal(m proto.Message) ([]byte, error) {
	return proto.Marshal(m)
}

func unmarshal(data []byte, m proto.Message) error {
	return proto.Unmarshal(data, m)
}
