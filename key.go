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
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Key hashes an arbitrary string, byte slice, or int into a NodeID with
// Keccak-256, so callers don't need to pick a hash themselves when
// turning content into an identifier. The DHT itself is
// content-neutral: nothing downstream requires IDs to be produced this
// way.
func Key(k any) NodeID {
	var id NodeID
	hasher := sha3.NewLegacyKeccak256()

	switch v := k.(type) {
	case string:
		hasher.Write([]byte(v))
	case []byte:
		hasher.Write(v)
	case int:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v))
		hasher.Write(b)
	default:
		panic("dht: unsupported key type")
	}

	sum := hasher.Sum(nil)
	copy(id[:], sum)

	return id
}
