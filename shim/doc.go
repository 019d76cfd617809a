// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package shim implements the chaincode-side protocol runtime: it dials (or
// listens for) a peer, drives the REGISTER/READY handshake, and turns
// INIT/TRANSACTION frames arriving on the resulting stream into calls into
// user-supplied chaincode logic, relaying that logic's state reads/writes
// back to the peer on the same stream.
//
// The package is organized around the four components of the protocol core:
// the stream transport (shim.go, internal/transport.go), the per-transaction
// message queue (queue.go), the connection state machine (handler.go), and
// the transaction dispatcher (dispatcher.go). Everything else (stub.go,
// iterator.go, compositekey.go, response.go) is glue built on top of the
// dispatcher's ask-peer API so the core is exercised end to end.
package shim
