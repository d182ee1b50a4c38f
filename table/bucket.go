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

package table

import (
	"sync"
	"time"

	"github.com/hengestone/dht"
)

// entry is a peer tracked within a single bucket, plus bookkeeping the
// bucket uses to decide what to evict when full.
type entry struct {
	peer dht.Peer
	seen time.Time
}

// bucket holds up to k live entries plus an overflow cache of peers
// waiting to be promoted when a live entry goes stale.
type bucket struct {
	mu     sync.Mutex
	k      int
	expiry time.Duration
	nodes  []entry
	cache  []entry
}

func newBucket(k int, expiry time.Duration) *bucket {
	return &bucket{k: k, expiry: expiry, nodes: make([]entry, 0, k)}
}

func (b *bucket) full() bool {
	return len(b.nodes) >= b.k
}

func (b *bucket) indexOf(id dht.NodeID) int {
	for i := range b.nodes {
		if b.nodes[i].peer.ID == id {
			return i
		}
	}
	return -1
}

// insert adds or refreshes p. If the bucket is full and no entry is
// stale, p is held in the promotion cache instead.
func (b *bucket) insert(p dht.Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i := b.indexOf(p.ID); i >= 0 {
		b.nodes[i].seen = time.Now()
		return
	}

	if !b.full() {
		b.nodes = append(b.nodes, entry{peer: p, seen: time.Now()})
		return
	}

	now := time.Now()
	for i := range b.nodes {
		if now.After(b.nodes[i].seen.Add(b.expiry)) {
			b.nodes[i] = entry{peer: p, seen: now}
			return
		}
	}

	b.stash(p)
}

// stash holds a peer in the overflow cache for later promotion.
func (b *bucket) stash(p dht.Peer) {
	for i := range b.cache {
		if b.cache[i].peer.ID == p.ID {
			b.cache[i].seen = time.Now()
			return
		}
	}
	b.cache = append(b.cache, entry{peer: p, seen: time.Now()})
}

// seen refreshes the timestamp of an already-tracked peer and reports
// whether it was found.
func (b *bucket) seen(id dht.NodeID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i := b.indexOf(id); i >= 0 {
		b.nodes[i].seen = time.Now()
		return true
	}
	return false
}

// remove deletes id from the bucket if present, promoting the oldest
// cached peer in its place.
func (b *bucket) remove(id dht.NodeID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexOf(id)
	if i < 0 {
		return
	}
	b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)

	if len(b.cache) > 0 {
		promoted := b.cache[0]
		b.cache = b.cache[1:]
		b.nodes = append(b.nodes, promoted)
	}
}

func (b *bucket) peers() []dht.Peer {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]dht.Peer, len(b.nodes))
	for i, e := range b.nodes {
		out[i] = e.peer
	}
	return out
}

func (b *bucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes)
}
