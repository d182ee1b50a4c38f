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

package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hengestone/dht"
)

type fakeHandler struct {
	peers     []dht.Peer
	endpoints []dht.Endpoint
	pinged    chan dht.Peer
}

func (h *fakeHandler) OnPing(from dht.Peer) error {
	if h.pinged != nil {
		h.pinged <- from
	}
	return nil
}

func (h *fakeHandler) OnFindNode(_ dht.Peer, _ dht.NodeID) ([]dht.Peer, error) {
	return h.peers, nil
}

func (h *fakeHandler) OnFindValue(_ dht.Peer, _ dht.NodeID) ([]dht.Peer, []dht.Endpoint, error) {
	if len(h.endpoints) > 0 {
		return nil, h.endpoints, nil
	}
	return h.peers, nil, nil
}

func (h *fakeHandler) OnStore(_ dht.Peer, _ dht.Token, _ dht.NodeID, _ dht.Port) error {
	return nil
}

func startTransport(t *testing.T, handler Handler) (*Transport, dht.Peer) {
	t.Helper()

	tr, err := Listen(context.Background(), Config{
		ListenAddress: "127.0.0.1:0",
		LocalID:       dht.RandomID(),
		Timeout:       2 * time.Second,
	}, handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	addr := tr.LocalAddr().(*net.UDPAddr)
	return tr, dht.Peer{ID: tr.local, Addr: dht.Endpoint{IP: addr.IP, Port: dht.Port(addr.Port)}}
}

func TestPingRoundTrip(t *testing.T) {
	pinged := make(chan dht.Peer, 1)
	_, serverPeer := startTransport(t, &fakeHandler{pinged: pinged})
	client, _ := startTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Ping(ctx, serverPeer)
	require.NoError(t, err)

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the ping")
	}
}

func TestFindNodeRoundTrip(t *testing.T) {
	want := []dht.Peer{
		{ID: dht.RandomID(), Addr: dht.Endpoint{IP: net.IPv4(1, 2, 3, 4), Port: 9}},
	}
	_, serverPeer := startTransport(t, &fakeHandler{peers: want})
	client, _ := startTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, _, err := client.FindNode(ctx, serverPeer, dht.RandomID())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want[0].ID, got[0].ID)
}

func TestFindValueReturnsEndpointsWhenPresent(t *testing.T) {
	want := []dht.Endpoint{{IP: net.IPv4(5, 6, 7, 8), Port: 443}}
	_, serverPeer := startTransport(t, &fakeHandler{endpoints: want})
	client, _ := startTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	peers, endpoints, _, err := client.FindValue(ctx, serverPeer, dht.RandomID())
	require.NoError(t, err)
	assert.Empty(t, peers)
	require.Len(t, endpoints, 1)
	assert.True(t, want[0].IP.Equal(endpoints[0].IP))
}

func TestFindValueFallsBackToPeersWhenAbsent(t *testing.T) {
	want := []dht.Peer{{ID: dht.RandomID(), Addr: dht.Endpoint{IP: net.IPv4(9, 9, 9, 9), Port: 1}}}
	_, serverPeer := startTransport(t, &fakeHandler{peers: want})
	client, _ := startTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	peers, endpoints, token, err := client.FindValue(ctx, serverPeer, dht.RandomID())
	require.NoError(t, err)
	assert.Empty(t, endpoints)
	require.Len(t, peers, 1)
	assert.Equal(t, want[0].ID, peers[0].ID)
	assert.NotEqual(t, dht.Token{}, token)
}

func TestRequestTimesOutWhenUnanswered(t *testing.T) {
	client, _ := startTransport(t, nil)

	deadAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	deadPeer := dht.Peer{ID: dht.RandomID(), Addr: dht.Endpoint{IP: deadAddr.IP, Port: dht.Port(deadAddr.Port)}}

	client.timeout = 200 * time.Millisecond
	client.cache = newRequestCache(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.Ping(ctx, deadPeer)
	assert.Error(t, err)
}
