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

// Package search implements the iterative, parallel Kademlia lookup:
// the engine fans out FindNode/FindValue queries alpha at a time against
// the peers currently believed closest to a target, folding every
// response's peers back into the candidate pool, until a run of rounds
// stops making the candidate pool any closer or no candidate is left.
//
// The engine only ever talks to its RoutingTable, Transport, and Metric
// collaborators through the narrow interfaces declared here — it has no
// notion of buckets, sockets, or XOR arithmetic of its own. It tracks
// done/alive/candidates/acc roles per lookup keyed on a comparable
// dht.PeerKey, and measures closeness with true XOR magnitude.
package search

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hengestone/dht"
)

// RoutingTable is the dht_state collaborator: a source of starting
// candidates for a lookup.
type RoutingTable interface {
	NodeID() dht.NodeID
	ClosestTo(target dht.NodeID, k int) []dht.Peer
}

// Transport is the dht_net collaborator: the RPCs a lookup issues. Both
// RPCs carry back the token the responder minted for this reply, since
// the wire grammar puts one on every find-family response regardless of
// mode, and a FindValue search accumulates them for a later Store.
type Transport interface {
	FindNode(ctx context.Context, to dht.Peer, target dht.NodeID) ([]dht.Peer, dht.Token, error)
	FindValue(ctx context.Context, to dht.Peer, target dht.NodeID) ([]dht.Peer, []dht.Endpoint, dht.Token, error)
}

// Metric is the dht_metric collaborator: the notion of closeness a
// lookup orders candidates and measures progress by.
type Metric interface {
	Distance(a, b dht.NodeID) dht.NodeID
	Less(a, b dht.NodeID) bool
	Neighborhood(target dht.NodeID, candidates []dht.Peer, k int) []dht.Peer
}

// Kind selects which RPC a lookup issues.
type Kind int

const (
	// FindNode looks for the peers closest to a target id.
	FindNode Kind = iota
	// FindValue looks for the endpoints holding a value stored under a
	// target id, falling back to FindNode-style closer peers when a
	// queried peer doesn't have it.
	FindValue
)

// StoreTarget is a peer a FindValue search queried, paired with the
// token it minted for its reply — ready for a Store RPC without a
// second round trip.
type StoreTarget struct {
	Peer  dht.Peer
	Token dht.Token
}

// Result is what a lookup converges on.
//
// For FindNode, Peers is the complete set of peers that answered during
// the search — every peer in alive, not truncated to any replication
// factor.
//
// For FindValue, Store carries a (peer, token) pair for every peer that
// answered, Endpoints is the deduplicated union of every endpoint any
// of them reported holding the value, and Alive holds every peer that
// answered (the set a FindNode run returns in Peers); Peers is empty.
type Result struct {
	Peers     []dht.Peer
	Store     []StoreTarget
	Endpoints []dht.Endpoint
	Alive     []dht.Peer
}

// Engine runs iterative parallel lookups against a fixed set of
// collaborators. The zero value is not usable; construct with New.
type Engine struct {
	Table  RoutingTable
	Net    Transport
	Metric Metric

	// Alpha is the per-round fan-out width, and the width of the seed.
	Alpha int
	// RetryBudget is how many consecutive non-improving rounds a lookup
	// tolerates before terminating.
	RetryBudget int
}

// New constructs an Engine, filling in zero-valued Alpha/RetryBudget
// with the package defaults.
func New(table RoutingTable, net Transport, metric Metric) *Engine {
	return &Engine{
		Table:       table,
		Net:         net,
		Metric:      metric,
		Alpha:       dht.Alpha,
		RetryBudget: dht.RetryBudget,
	}
}

type roundResult struct {
	from      dht.Peer
	peers     []dht.Peer
	endpoints []dht.Endpoint
	token     dht.Token
	ok        bool
}

type accEntry struct {
	peer      dht.Peer
	token     dht.Token
	endpoints []dht.Endpoint
}

// Run performs an iterative parallel lookup for target and returns the
// peers found alive, or the endpoints for a located value.
//
// Invariants maintained throughout a run:
//  1. done only grows: a peer queried once is never queried again.
//  2. alive ⊆ done always: a peer only enters alive once it has actually
//     answered a query; discovered-but-unqueried peers live in a
//     separate candidates pool until their own round runs.
//  3. for FindValue, acc only grows: every answering peer contributes
//     exactly one (peer, token, endpoints) entry, in round order.
//  4. retries resets to RetryBudget whenever the next round's candidate
//     set (todo') is strictly closer to target than anything in alive
//     so far, and is decremented by exactly one otherwise.
//  5. the run terminates the moment retries reaches zero, or there is
//     no more undone candidate to query — whichever comes first.
func (e *Engine) Run(ctx context.Context, kind Kind, target dht.NodeID) (Result, error) {
	alpha := e.alpha()
	retries := e.retryBudget()

	local := e.Table.NodeID()

	alive := make(map[dht.PeerKey]dht.Peer)
	done := make(map[dht.PeerKey]struct{})
	todo := make(map[dht.PeerKey]dht.Peer)
	var acc []accEntry

	for _, p := range e.Table.ClosestTo(target, alpha) {
		if p.ID == local {
			continue
		}
		todo[p.Key()] = p
	}

	for retries > 0 && len(todo) > 0 {
		round := peerValues(todo)
		for _, p := range round {
			done[p.Key()] = struct{}{}
		}
		todo = make(map[dht.PeerKey]dht.Peer)

		results, err := e.fanOut(ctx, kind, target, round)
		if err != nil {
			return Result{}, err
		}

		candidates := make(map[dht.PeerKey]dht.Peer)

		for _, r := range results {
			if !r.ok {
				continue
			}
			alive[r.from.Key()] = r.from

			if kind == FindValue {
				acc = append(acc, accEntry{peer: r.from, token: r.token, endpoints: r.endpoints})
			}

			for _, np := range r.peers {
				if np.ID == local {
					continue
				}
				if _, seen := done[np.Key()]; seen {
					continue
				}
				candidates[np.Key()] = np
			}
		}

		next := e.Metric.Neighborhood(target, peerValues(candidates), alpha)
		for _, p := range next {
			todo[p.Key()] = p
		}

		minWork := e.closestDistance(target, todo)
		minAlive := e.closestDistance(target, alive)

		if e.Metric.Less(minWork, minAlive) {
			retries = e.retryBudget()
		} else {
			retries--
		}
	}

	if kind == FindValue {
		return e.buildValueResult(acc, alive), nil
	}
	return Result{Peers: peerValues(alive)}, nil
}

// buildValueResult assembles a FindValue Result from the search's
// accumulated (peer, token, endpoints) entries and its final alive set.
func (e *Engine) buildValueResult(acc []accEntry, alive map[dht.PeerKey]dht.Peer) Result {
	store := make([]StoreTarget, 0, len(acc))
	var endpoints []dht.Endpoint
	for _, entry := range acc {
		store = append(store, StoreTarget{Peer: entry.peer, Token: entry.token})
		if len(entry.endpoints) > 0 {
			endpoints = append(endpoints, entry.endpoints...)
		}
	}
	return Result{
		Store:     store,
		Endpoints: dedupEndpoints(endpoints),
		Alive:     peerValues(alive),
	}
}

// fanOut issues kind's RPC against every peer in round concurrently (one
// goroutine per peer; Run keeps a round to at most alpha peers) and
// collects one roundResult per peer. A per-peer RPC failure, including
// one caused by ctx being cancelled, is recorded as !ok and never fails
// the round.
func (e *Engine) fanOut(ctx context.Context, kind Kind, target dht.NodeID, round []dht.Peer) ([]roundResult, error) {
	results := make([]roundResult, len(round))

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i, p := range round {
		i, p := i, p
		g.Go(func() error {
			var r roundResult
			r.from = p

			switch kind {
			case FindNode:
				peers, token, err := e.Net.FindNode(gctx, p, target)
				if err == nil {
					r.peers = peers
					r.token = token
					r.ok = true
				}
			case FindValue:
				peers, endpoints, token, err := e.Net.FindValue(gctx, p, target)
				if err == nil {
					r.peers = peers
					r.endpoints = endpoints
					r.token = token
					r.ok = true
				}
			}

			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) closestDistance(target dht.NodeID, peers map[dht.PeerKey]dht.Peer) dht.NodeID {
	best := dht.InfiniteID
	for _, p := range peers {
		d := e.Metric.Distance(target, p.ID)
		if e.Metric.Less(d, best) {
			best = d
		}
	}
	return best
}

func (e *Engine) alpha() int {
	if e.Alpha > 0 {
		return e.Alpha
	}
	return dht.Alpha
}

func (e *Engine) retryBudget() int {
	if e.RetryBudget > 0 {
		return e.RetryBudget
	}
	return dht.RetryBudget
}

func peerValues(m map[dht.PeerKey]dht.Peer) []dht.Peer {
	out := make([]dht.Peer, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}

func dedupEndpoints(in []dht.Endpoint) []dht.Endpoint {
	seen := make(map[string]struct{}, len(in))
	out := make([]dht.Endpoint, 0, len(in))
	for _, e := range in {
		key := e.IP.String() + ":" + strconv.Itoa(int(e.Port))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}
