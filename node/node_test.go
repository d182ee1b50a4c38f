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

package node

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hengestone/dht"
)

func newTestNode(t *testing.T, bootstrap []string) *Node {
	t.Helper()

	n, err := New(context.Background(), dht.Config{
		ListenAddress:      "127.0.0.1:0",
		BootstrapAddresses: bootstrap,
		Timeout:            2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func addrOf(t *testing.T, n *Node) string {
	t.Helper()
	return n.transport.LocalAddr().(*net.UDPAddr).String()
}

func TestNewStandaloneNode(t *testing.T) {
	n := newTestNode(t, nil)
	assert.Equal(t, 0, n.Len())
}

func TestNewFailsWhenBootstrapUnreachable(t *testing.T) {
	_, err := New(context.Background(), dht.Config{
		ListenAddress:      "127.0.0.1:0",
		BootstrapAddresses: []string{"127.0.0.1:1"},
		Timeout:            200 * time.Millisecond,
	})
	assert.ErrorIs(t, err, dht.ErrNoBootstrapPeers)
}

func TestBootstrapDiscoversSeedPeer(t *testing.T) {
	seed := newTestNode(t, nil)
	joiner := newTestNode(t, []string{addrOf(t, seed)})

	assert.Equal(t, 1, joiner.Len())
}

func TestFindNodeAcrossTwoNodes(t *testing.T) {
	seed := newTestNode(t, nil)
	joiner := newTestNode(t, []string{addrOf(t, seed)})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	peers, err := joiner.FindNode(ctx, seed.ID())
	require.NoError(t, err)
	require.NotEmpty(t, peers)
	assert.Equal(t, seed.ID(), peers[0].ID)
}

func TestStoreAndGetRoundTrip(t *testing.T) {
	seed := newTestNode(t, nil)
	joiner := newTestNode(t, []string{addrOf(t, seed)})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	key := dht.RandomID()
	err := joiner.Store(ctx, key, 4242)
	require.NoError(t, err)

	got, err := seed.Get(key)
	require.NoError(t, err)
	assert.Equal(t, dht.Port(4242), got.Port)
}

func TestFindValueAfterStore(t *testing.T) {
	seed := newTestNode(t, nil)
	joiner := newTestNode(t, []string{addrOf(t, seed)})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	key := dht.RandomID()
	require.NoError(t, joiner.Store(ctx, key, 5555))

	endpoints, err := joiner.FindValue(ctx, key)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, dht.Port(5555), endpoints[0].Port)
}

func TestGetReturnsNotFoundForUnknownKey(t *testing.T) {
	n := newTestNode(t, nil)
	_, err := n.Get(dht.RandomID())
	assert.ErrorIs(t, err, dht.ErrNotFound)
}
