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

// Package table implements the k-bucket routing table a search engine
// consults for its starting candidates (the dht_state collaborator). It
// reports true XOR-magnitude distance, via package metric, instead of a
// bare longest-common-prefix length.
package table

import (
	"math/bits"
	"time"

	"github.com/hengestone/dht"
	"github.com/hengestone/dht/metric"
)

// DefaultExpiry is how long an entry may go unrefreshed before it is
// considered stale and eligible for eviction.
const DefaultExpiry = 15 * time.Minute

// Table is a k-bucket routing table keyed by bucket index, where bucket
// index i holds peers whose XOR distance from the local ID has its
// highest set bit at position i (i.e. 2^i <= distance < 2^(i+1)).
type Table struct {
	local   dht.NodeID
	k       int
	buckets []*bucket
}

// New creates an empty Table for the given local identity and bucket
// size k.
func New(local dht.NodeID, k int) *Table {
	t := &Table{local: local, k: k, buckets: make([]*bucket, dht.KeyBits)}
	for i := range t.buckets {
		t.buckets[i] = newBucket(k, DefaultExpiry)
	}
	return t
}

// NodeID returns the identity this table is organized around.
func (t *Table) NodeID() dht.NodeID {
	return t.local
}

// bucketIndex returns which bucket id belongs in, relative to the local
// identity: the position (counting from the least significant bit) of
// the highest set bit in the XOR distance. Bucket 0 holds the closest
// peers (differing only in their lowest bit), bucket KeyBits-1 the
// farthest.
func bucketIndex(local, id dht.NodeID) int {
	d := metric.Distance(local, id)
	for i, b := range d {
		if b == 0 {
			continue
		}
		bitInByte := bits.LeadingZeros8(b)
		return dht.KeyBits - 1 - (i*8 + bitInByte)
	}
	// d == 0: id is the local identity itself. There is no well-defined
	// bucket for distance zero; callers are expected not to insert the
	// local identity.
	return 0
}

// Insert adds or refreshes p in its bucket. Inserting the local identity
// is a no-op.
func (t *Table) Insert(p dht.Peer) {
	if p.ID == t.local {
		return
	}
	t.buckets[bucketIndex(t.local, p.ID)].insert(p)
}

// Seen refreshes id's last-seen timestamp and reports whether it was
// being tracked.
func (t *Table) Seen(id dht.NodeID) bool {
	if id == t.local {
		return true
	}
	return t.buckets[bucketIndex(t.local, id)].seen(id)
}

// Remove evicts id from the table, if present.
func (t *Table) Remove(id dht.NodeID) {
	if id == t.local {
		return
	}
	t.buckets[bucketIndex(t.local, id)].remove(id)
}

// ClosestTo returns up to k peers from the table closest to target, in
// ascending distance order. It scans outward from target's own bucket
// in an expanding ring and stops once it has gathered 4k candidates, so
// a well-populated table need not visit all 256 buckets; a table holding
// fewer than 4k peers is scanned in full.
func (t *Table) ClosestTo(target dht.NodeID, k int) []dht.Peer {
	origin := bucketIndex(t.local, target)

	var candidates []dht.Peer
	seen := 0
	for radius := 0; seen < len(t.buckets); radius++ {
		visited := false

		if i := origin + radius; i < len(t.buckets) {
			candidates = append(candidates, t.buckets[i].peers()...)
			visited = true
			seen++
		}
		if radius > 0 {
			if i := origin - radius; i >= 0 {
				candidates = append(candidates, t.buckets[i].peers()...)
				visited = true
				seen++
			}
		}

		if !visited {
			break
		}
		if len(candidates) >= k*4 {
			break
		}
	}

	return metric.Neighborhood(target, candidates, k)
}

// Len returns the total number of peers tracked across all buckets.
func (t *Table) Len() int {
	n := 0
	for _, b := range t.buckets {
		n += b.len()
	}
	return n
}
