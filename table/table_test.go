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
	"math/rand/v2"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hengestone/dht"
	"github.com/hengestone/dht/metric"
)

func randID() dht.NodeID {
	var id dht.NodeID
	for i := range id {
		id[i] = byte(rand.IntN(256))
	}
	return id
}

func mkPeer(id dht.NodeID, port int) dht.Peer {
	return dht.Peer{ID: id, Addr: dht.Endpoint{IP: net.IPv4(127, 0, 0, 1), Port: dht.Port(port)}}
}

func TestInsertAndLen(t *testing.T) {
	local := randID()
	tb := New(local, 20)

	for i := 0; i < 10; i++ {
		tb.Insert(mkPeer(randID(), i))
	}
	assert.Equal(t, 10, tb.Len())
}

func TestInsertLocalIdentityIsNoop(t *testing.T) {
	local := randID()
	tb := New(local, 20)
	tb.Insert(mkPeer(local, 1))
	assert.Equal(t, 0, tb.Len())
}

func TestSeenRefreshesKnownPeer(t *testing.T) {
	local := randID()
	tb := New(local, 20)
	p := mkPeer(randID(), 1)
	tb.Insert(p)

	assert.True(t, tb.Seen(p.ID))
	assert.False(t, tb.Seen(randID()))
}

func TestRemoveDeletesPeer(t *testing.T) {
	local := randID()
	tb := New(local, 20)
	p := mkPeer(randID(), 1)
	tb.Insert(p)
	require.Equal(t, 1, tb.Len())

	tb.Remove(p.ID)
	assert.Equal(t, 0, tb.Len())
}

func TestClosestToOrdersByDistance(t *testing.T) {
	local := randID()
	tb := New(local, 20)

	var peers []dht.Peer
	for i := 0; i < 30; i++ {
		p := mkPeer(randID(), i)
		peers = append(peers, p)
		tb.Insert(p)
	}

	target := randID()
	got := tb.ClosestTo(target, 5)
	require.Len(t, got, 5)

	for i := 1; i < len(got); i++ {
		prev := metric.Distance(target, got[i-1].ID)
		cur := metric.Distance(target, got[i].ID)
		assert.False(t, metric.Less(cur, prev), "results not in ascending distance order")
	}
}

func TestClosestToReturnsFewerThanKWhenSparse(t *testing.T) {
	local := randID()
	tb := New(local, 20)
	tb.Insert(mkPeer(randID(), 1))
	tb.Insert(mkPeer(randID(), 2))

	got := tb.ClosestTo(randID(), 20)
	assert.Len(t, got, 2)
}

func TestBucketIndexLowestBit(t *testing.T) {
	local := dht.NodeID{}
	id := dht.NodeID{}
	id[31] = 0x01 // differs only in the lowest bit

	idx := bucketIndex(local, id)
	assert.Equal(t, 0, idx)
}

func TestBucketIndexTopBit(t *testing.T) {
	local := dht.NodeID{}
	id := dht.NodeID{}
	id[0] = 0x80 // differs only in the highest bit

	idx := bucketIndex(local, id)
	assert.Equal(t, dht.KeyBits-1, idx)
}
