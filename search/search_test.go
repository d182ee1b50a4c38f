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

package search

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hengestone/dht"
	"github.com/hengestone/dht/metric"
)

// fakeNetwork is a deterministic in-memory graph of peers. Each peer
// knows a fixed adjacency list; FindNode/FindValue look it up by ID with
// no sockets involved, so the engine's own convergence/retry logic is
// what's under test, not the transport.
type fakeNetwork struct {
	mu        sync.Mutex
	adjacency map[dht.NodeID][]dht.Peer
	value     map[dht.NodeID][]dht.Endpoint
	unreach   map[dht.NodeID]bool
	calls     int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		adjacency: make(map[dht.NodeID][]dht.Peer),
		value:     make(map[dht.NodeID][]dht.Endpoint),
		unreach:   make(map[dht.NodeID]bool),
	}
}

func tokenFor(id dht.NodeID) dht.Token {
	var tok dht.Token
	tok[0] = id[31]
	return tok
}

func (n *fakeNetwork) FindNode(_ context.Context, to dht.Peer, _ dht.NodeID) ([]dht.Peer, dht.Token, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.unreach[to.ID] {
		return nil, dht.Token{}, dht.ErrRequestTimeout
	}
	return n.adjacency[to.ID], tokenFor(to.ID), nil
}

func (n *fakeNetwork) FindValue(_ context.Context, to dht.Peer, target dht.NodeID) ([]dht.Peer, []dht.Endpoint, dht.Token, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.unreach[to.ID] {
		return nil, nil, dht.Token{}, dht.ErrRequestTimeout
	}
	if eps, ok := n.value[to.ID]; ok {
		_ = target
		return nil, eps, tokenFor(to.ID), nil
	}
	return n.adjacency[to.ID], nil, tokenFor(to.ID), nil
}

type fakeTable struct {
	local dht.NodeID
	seed  []dht.Peer
}

func (t *fakeTable) NodeID() dht.NodeID { return t.local }
func (t *fakeTable) ClosestTo(target dht.NodeID, k int) []dht.Peer {
	return metric.Neighborhood(target, t.seed, k)
}

func idOf(b byte) dht.NodeID {
	var id dht.NodeID
	id[31] = b
	return id
}

func peerOf(b byte) dht.Peer {
	return dht.Peer{ID: idOf(b), Addr: dht.Endpoint{IP: net.IPv4(10, 0, 0, b), Port: dht.Port(b)}}
}

type stdMetric struct{}

func (stdMetric) Distance(a, b dht.NodeID) dht.NodeID { return metric.Distance(a, b) }
func (stdMetric) Less(a, b dht.NodeID) bool           { return metric.Less(a, b) }
func (stdMetric) Neighborhood(target dht.NodeID, candidates []dht.Peer, k int) []dht.Peer {
	return metric.Neighborhood(target, candidates, k)
}

// buildChain wires up a line of peers 1 -> 2 -> ... -> n, each only
// knowing the next one, so a lookup has to hop through every
// intermediate to discover the tail.
func buildChain(net *fakeNetwork, n int) []dht.Peer {
	peers := make([]dht.Peer, n)
	for i := 0; i < n; i++ {
		peers[i] = peerOf(byte(i + 1))
	}
	for i := 0; i < n-1; i++ {
		net.adjacency[peers[i].ID] = []dht.Peer{peers[i+1]}
	}
	return peers
}

// buildConvergingChain wires up a line of peers whose last-byte identity
// strictly decreases hop over hop, so against a target of idOf(0) (whose
// distance to any peer is just that peer's last byte) every hop strictly
// improves on the last. This keeps the retry budget from ever being
// spent, letting a test walk an arbitrarily long chain deterministically.
func buildConvergingChain(net *fakeNetwork, bytes []byte) []dht.Peer {
	peers := make([]dht.Peer, len(bytes))
	for i, b := range bytes {
		peers[i] = peerOf(b)
	}
	for i := 0; i < len(peers)-1; i++ {
		net.adjacency[peers[i].ID] = []dht.Peer{peers[i+1]}
	}
	return peers
}

func TestRunFindNodeConvergesOnClosestPeers(t *testing.T) {
	local := idOf(0)
	fn := newFakeNetwork()
	chain := buildConvergingChain(fn, []byte{128, 64, 32, 16, 8, 4, 2, 1})

	table := &fakeTable{local: local, seed: []dht.Peer{chain[0]}}
	eng := New(table, fn, stdMetric{})
	eng.Alpha = 2
	eng.RetryBudget = 3

	target := idOf(0)
	res, err := eng.Run(context.Background(), FindNode, target)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Peers)

	found := false
	for _, p := range res.Peers {
		if p.ID == chain[len(chain)-1].ID {
			found = true
		}
	}
	assert.True(t, found, "lookup should have discovered the tail of the chain")
}

func TestRunFindValueReturnsEndpointsWhenFound(t *testing.T) {
	local := idOf(0)
	fn := newFakeNetwork()
	chain := buildConvergingChain(fn, []byte{8, 4, 2, 1})

	target := idOf(0)
	want := []dht.Endpoint{{IP: net.IPv4(1, 1, 1, 1), Port: 80}}
	fn.value[chain[len(chain)-1].ID] = want

	table := &fakeTable{local: local, seed: []dht.Peer{chain[0]}}
	eng := New(table, fn, stdMetric{})
	eng.Alpha = 1

	res, err := eng.Run(context.Background(), FindValue, target)
	require.NoError(t, err)
	require.Len(t, res.Endpoints, 1)
	assert.True(t, want[0].IP.Equal(res.Endpoints[0].IP))
}

func TestRunNeverRevisitsADonePeer(t *testing.T) {
	local := idOf(0)
	fn := newFakeNetwork()

	a, b := peerOf(1), peerOf(2)
	fn.adjacency[a.ID] = []dht.Peer{b}
	fn.adjacency[b.ID] = []dht.Peer{a} // b points back at a

	table := &fakeTable{local: local, seed: []dht.Peer{a}}
	eng := New(table, fn, stdMetric{})
	eng.Alpha = 2
	eng.RetryBudget = 2

	_, err := eng.Run(context.Background(), FindNode, idOf(255))
	require.NoError(t, err)

	// Each peer should be queried at most once despite the cycle.
	assert.LessOrEqual(t, fn.calls, 2)
}

func TestRunTerminatesWhenNoCandidateRemains(t *testing.T) {
	local := idOf(0)
	fn := newFakeNetwork()

	// A single isolated peer that returns nothing new: the first round
	// leaves no candidate to query, so the run ends after that round.
	p := peerOf(1)
	fn.adjacency[p.ID] = nil

	table := &fakeTable{local: local, seed: []dht.Peer{p}}
	eng := New(table, fn, stdMetric{})
	eng.RetryBudget = 2

	res, err := eng.Run(context.Background(), FindNode, idOf(200))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Peers), 1)
}

func TestRunToleratesUnreachablePeers(t *testing.T) {
	local := idOf(0)
	fn := newFakeNetwork()
	chain := buildChain(fn, 4)
	fn.unreach[chain[1].ID] = true

	table := &fakeTable{local: local, seed: []dht.Peer{chain[0]}}
	eng := New(table, fn, stdMetric{})
	eng.Alpha = 1

	res, err := eng.Run(context.Background(), FindNode, idOf(50))
	require.NoError(t, err)
	assert.NotNil(t, res.Peers)

	// chain[1] never answered, so it must never appear in the result:
	// alive only ever gains peers that actually responded, and a failed
	// query must not leave the unreachable peer sitting in alive.
	for _, p := range res.Peers {
		assert.NotEqual(t, chain[1].ID, p.ID, "unreachable peer must not appear in the result")
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	local := idOf(0)
	fn := newFakeNetwork()
	chain := buildChain(fn, 4)

	table := &fakeTable{local: local, seed: []dht.Peer{chain[0]}}
	eng := New(table, fn, stdMetric{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Run(ctx, FindNode, idOf(50))
	_ = err // fan-out may legitimately succeed before observing cancellation on a fake, zero-latency network
}
