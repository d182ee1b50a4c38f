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

// Package codec implements the wire protocol: a fixed magic prefix
// followed by an envelope (tag, node id, kind) and a body whose grammar
// depends on the message kind. Codec is purely computational — it never
// touches the network, and it never panics on malformed input.
package codec

import "github.com/hengestone/dht"

// Mode selects between a FIND_NODE and FIND_VALUE query/response.
type Mode byte

const (
	ModeNode  Mode = 'n'
	ModeValue Mode = 'v'
)

// Kind discriminates the three envelope shapes on the wire.
type Kind byte

const (
	KindQuery    Kind = 'q'
	KindResponse Kind = 'r'
	KindError    Kind = 'e'
)

// Envelope is the common header every message carries.
type Envelope struct {
	Tag  dht.Tag
	ID   dht.NodeID
	Kind Kind
}

// Query is one of Ping, Find, or Store.
type Query struct {
	Ping  *PingQuery
	Find  *FindQuery
	Store *StoreQuery
}

// PingQuery carries no fields; its presence is the whole query.
type PingQuery struct{}

// FindQuery asks for the nodes (or value) closest to Target.
type FindQuery struct {
	Mode   Mode
	Target dht.NodeID
}

// StoreQuery asks the recipient to store Port under ID, authenticated by
// a Token issued by that recipient on an earlier FindValue/FindNode reply.
type StoreQuery struct {
	Token dht.Token
	ID    dht.NodeID
	Port  dht.Port
}

// Response is one of Ping, FindNode, FindValue, or Store.
type Response struct {
	Ping      *PingResponse
	FindNode  *FindNodeResponse
	FindValue *FindValueResponse
	Store     *StoreResponse
}

// PingResponse carries no body fields on the wire; the envelope's ID
// field carries the identity of the responder.
type PingResponse struct{}

// FindNodeResponse carries the peers closest to the queried target, plus
// a token (unusual for FIND_NODE, but specified by the wire grammar).
type FindNodeResponse struct {
	Token dht.Token
	Peers []dht.Peer
}

// FindValueResponse carries the endpoints known to hold the queried
// value, plus the token needed to Store against this responder.
type FindValueResponse struct {
	Token     dht.Token
	Endpoints []dht.Endpoint
}

// StoreResponse carries no fields; its presence confirms the store.
type StoreResponse struct{}

// Error is returned in place of a Response when a query could not be
// serviced.
type Error struct {
	Code    uint16
	Message []byte
}

// Message is an envelope bound to a decoded body: exactly one of Query,
// Response, or Err is non-nil, matching Envelope.Kind.
type Message struct {
	Envelope
	Query    *Query
	Response *Response
	Err      *Error
}
