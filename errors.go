// Copyright 2024 Terminos Storage Protocol
// This file is part of the tos library.
//
// The tos library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The tos library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the tos library. If not, see <http://www.gnu.org/licenses/>.

package dht

import "errors"

// Sentinel errors shared by the node facade and the transport. Codec
// errors live in package codec; the search engine defines none of its
// own, since a failed RPC only means that peer contributes nothing.
var (
	// ErrRequestTimeout is returned when a pending request has not
	// received a response before its deadline.
	ErrRequestTimeout = errors.New("dht: request timeout")
	// ErrNotFound is returned by Get when no local value exists for a key.
	ErrNotFound = errors.New("dht: value not found")
	// ErrClosed names an operation attempted after Close. No function in
	// this module returns it: a query issued after Close fails with
	// ErrRequestTimeout or its context's error.
	ErrClosed = errors.New("dht: node closed")
	// ErrNoBootstrapPeers is returned by New when every bootstrap address
	// failed to respond and at least one was configured.
	ErrNoBootstrapPeers = errors.New("dht: bootstrapping failed")
	// ErrBadID names a caller-supplied ID of the wrong length. No
	// function in this module returns it, since NodeID is a fixed-size
	// array.
	ErrBadID = errors.New("dht: node id length is incorrect")
)
