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

// Package metric implements the XOR distance used to order peers by
// closeness to a target. The teacher's bucket indexing only needed a
// longest-common-prefix length to pick a bucket; a lookup needs the full
// 256-bit magnitude, ordered and comparable, so this package generalizes
// that idea into a genuine metric.
package metric

import (
	"bytes"
	"sort"

	"github.com/hengestone/dht"
)

// Distance returns the XOR distance between a and b as a 256-bit
// big-endian value. Distance is commutative, Distance(a, a) is the zero
// ID, and larger results mean farther apart.
func Distance(a, b dht.NodeID) dht.NodeID {
	var d dht.NodeID
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether distance da is strictly smaller than distance db
// when both are compared as big-endian unsigned integers. Compare wraps
// it for callers that hold an origin and two candidate IDs rather than
// precomputed distances.
func Less(da, db dht.NodeID) bool {
	return bytes.Compare(da[:], db[:]) < 0
}

// Compare orders two candidate IDs by their distance to origin: it
// returns true if x is strictly closer to origin than y is.
func Compare(origin, x, y dht.NodeID) bool {
	return Less(Distance(origin, x), Distance(origin, y))
}

// Neighborhood returns the k peers from candidates closest to target, in
// ascending distance order, with duplicate peer identities removed
// (keeping the first occurrence). If fewer than k distinct peers are
// supplied, every distinct peer is returned.
func Neighborhood(target dht.NodeID, candidates []dht.Peer, k int) []dht.Peer {
	seen := make(map[dht.NodeID]struct{}, len(candidates))
	dedup := make([]dht.Peer, 0, len(candidates))
	for _, p := range candidates {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		dedup = append(dedup, p)
	}

	sort.SliceStable(dedup, func(i, j int) bool {
		return Compare(target, dedup[i].ID, dedup[j].ID)
	})

	if k >= 0 && len(dedup) > k {
		dedup = dedup[:k]
	}
	return dedup
}
