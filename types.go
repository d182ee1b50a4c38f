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

import (
	"crypto/rand"
	"encoding/hex"
	"net"
)

const (
	// KeyBits is the width of a NodeID in bits, fixed by the wire format.
	KeyBits = 256
	// KeyBytes is the width of a NodeID in bytes.
	KeyBytes = KeyBits / 8
	// TokenBytes is the width of an opaque Token in bytes.
	TokenBytes = 8
	// K is the default bucket size / lookup replication factor.
	K = 20
	// Alpha is the default search fan-out width.
	Alpha = 32
	// RetryBudget is the default number of non-converging rounds a search
	// tolerates before giving up.
	RetryBudget = 3
	// MaxListLength is the largest number of peers/endpoints a single
	// FindNode/FindValue response can carry (the wire format's count byte
	// is a single unsigned byte).
	MaxListLength = 255
)

// NodeID is an opaque 256-bit identifier, big-endian.
type NodeID [KeyBytes]byte

// ZeroID is the identity element for XOR (distance to self).
var ZeroID NodeID

// InfiniteID is a sentinel standing in for "the distance of an empty
// set", always greater than any real XOR distance.
var InfiniteID = func() NodeID {
	var id NodeID
	for i := range id {
		id[i] = 0xFF
	}
	return id
}()

// RandomID returns a cryptographically random NodeID.
func RandomID() NodeID {
	var id NodeID
	_, _ = rand.Read(id[:])
	return id
}

// String renders the NodeID as lowercase hex.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Tag is a 16-bit correlation token embedded verbatim in a query/response
// pair.
type Tag uint16

// Token is an 8-byte opaque blob issued by a remote peer and echoed back
// on a subsequent Store.
type Token [TokenBytes]byte

// Port is a UDP port number.
type Port uint16

// Endpoint is a network address a peer can be reached at. IP holds either
// 4 (IPv4) or 16 (IPv6, as 8 big-endian u16 groups) bytes.
type Endpoint struct {
	IP   net.IP
	Port Port
}

// IsIPv4 reports whether the endpoint carries a 4-byte (IPv4) address.
func (e Endpoint) IsIPv4() bool {
	return len(e.IP) == net.IPv4len || e.IP.To4() != nil && len(e.IP) != net.IPv6len
}

// UDPAddr renders the endpoint as a *net.UDPAddr for use with the net
// package.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.IP, Port: int(e.Port)}
}

// Peer is a known participant on the network: an identity plus the
// endpoint it can be reached at.
type Peer struct {
	ID   NodeID
	Addr Endpoint
}

// Key returns a comparable, hashable representation of the peer's
// identity for use as a map key (net.IP is a slice and not itself
// comparable).
func (p Peer) Key() PeerKey {
	var k PeerKey
	k.ID = p.ID
	copy(k.ip[:], p.Addr.IP.To16())
	k.port = p.Addr.Port
	return k
}

// PeerKey is the comparable map-key form of a Peer.
type PeerKey struct {
	ID   NodeID
	ip   [16]byte
	port Port
}
