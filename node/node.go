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

// Package node wires the table, transport, and search packages into a
// single DHT participant: New opens a socket, seeds a routing table
// from bootstrap peers, and exposes FindNode/FindValue/Store/Get/Close.
// It lives in its own package, not at the module root, so the root dht
// package can stay a dependency-free leaf that table/transport/search/
// codec all import for shared types without an import cycle back
// through node.
package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hengestone/dht"
	"github.com/hengestone/dht/metric"
	"github.com/hengestone/dht/search"
	"github.com/hengestone/dht/table"
	"github.com/hengestone/dht/transport"
)

// stdMetric adapts package metric's free functions to search.Metric.
type stdMetric struct{}

func (stdMetric) Distance(a, b dht.NodeID) dht.NodeID { return metric.Distance(a, b) }
func (stdMetric) Less(a, b dht.NodeID) bool           { return metric.Less(a, b) }
func (stdMetric) Neighborhood(target dht.NodeID, candidates []dht.Peer, k int) []dht.Peer {
	return metric.Neighborhood(target, candidates, k)
}

// storedValue is a local, non-persistent record of a Store a peer asked
// us to keep: there is no storage backend, so Get only ever answers
// from this in-memory bookkeeping, not a replicated value store.
type storedValue struct {
	endpoint dht.Endpoint
}

// Node is a single DHT participant: an identity, a routing table, a UDP
// transport, and a search engine bound together.
type Node struct {
	id        dht.NodeID
	cfg       dht.Config
	table     *table.Table
	transport *transport.Transport
	engine    *search.Engine
	log       *zap.Logger

	mu     sync.Mutex
	values map[dht.NodeID]storedValue

	stop context.CancelFunc
}

// New creates a Node, opens its UDP socket, and attempts to bootstrap
// its routing table from cfg.BootstrapAddresses. It returns
// dht.ErrNoBootstrapPeers if bootstrap addresses were given but none of
// them answered.
func New(ctx context.Context, cfg dht.Config) (*Node, error) {
	cfgCopy := cfg
	cfgCopy.ApplyDefaults()

	id := dht.RandomID()
	if cfgCopy.LocalID != nil {
		id = *cfgCopy.LocalID
	}

	n := &Node{
		id:     id,
		cfg:    cfgCopy,
		table:  table.New(id, cfgCopy.K),
		log:    cfgCopy.Logger,
		values: make(map[dht.NodeID]storedValue),
	}

	tr, err := transport.Listen(ctx, transport.Config{
		ListenAddress:    cfgCopy.ListenAddress,
		LocalID:          id,
		Timeout:          cfgCopy.Timeout,
		SocketBufferSize: cfgCopy.SocketBufferSize,
		Logger:           cfgCopy.Logger,
	}, n)
	if err != nil {
		return nil, fmt.Errorf("dht: listen: %w", err)
	}
	n.transport = tr

	eng := search.New(n.table, n.transport, stdMetric{})
	eng.Alpha = cfgCopy.Alpha
	eng.RetryBudget = cfgCopy.RetryBudget
	n.engine = eng

	if len(cfgCopy.BootstrapAddresses) > 0 {
		if err := n.bootstrap(ctx, cfgCopy.BootstrapAddresses); err != nil {
			_ = tr.Close()
			return nil, err
		}
	}

	lifetime, cancel := context.WithCancel(context.Background())
	n.stop = cancel
	go n.keepalive(lifetime, cfgCopy.Timeout)

	return n, nil
}

func (n *Node) bootstrap(ctx context.Context, addresses []string) error {
	seeded := false

	for _, addr := range addresses {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			n.log.Warn("ignoring unresolvable bootstrap address", zap.String("address", addr), zap.Error(err))
			continue
		}

		peer := dht.Peer{Addr: dht.Endpoint{IP: udpAddr.IP, Port: dht.Port(udpAddr.Port)}}

		pingCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
		identified, peers, err := n.transport.Identify(pingCtx, peer, n.id)
		cancel()
		if err != nil {
			n.log.Warn("bootstrap peer unreachable", zap.String("address", addr), zap.Error(err))
			continue
		}

		seeded = true
		n.table.Insert(identified)
		for _, p := range peers {
			n.table.Insert(p)
		}
	}

	if !seeded {
		return dht.ErrNoBootstrapPeers
	}
	return nil
}

// ID returns the node's own identity.
func (n *Node) ID() dht.NodeID {
	return n.id
}

// Len returns how many peers the routing table currently tracks.
func (n *Node) Len() int {
	return n.table.Len()
}

// Close stops the keepalive sweep and shuts the node's transport down.
func (n *Node) Close() error {
	if n.stop != nil {
		n.stop()
	}
	return n.transport.Close()
}

// FindNode performs an iterative lookup for the peers closest to target.
func (n *Node) FindNode(ctx context.Context, target dht.NodeID) ([]dht.Peer, error) {
	res, err := n.engine.Run(ctx, search.FindNode, target)
	if err != nil {
		return nil, err
	}
	return res.Peers, nil
}

// FindValue performs an iterative lookup for the value stored under
// target, returning the endpoints that hold it if found.
func (n *Node) FindValue(ctx context.Context, target dht.NodeID) ([]dht.Endpoint, error) {
	res, err := n.engine.Run(ctx, search.FindValue, target)
	if err != nil {
		return nil, err
	}
	return res.Endpoints, nil
}

// Store announces that this node can be reached on port for id, to
// every peer visited by a lookup for id. The lookup itself accumulates
// the anti-spoof token each peer minted for its reply, so Store issues
// no round trip beyond the lookup's own.
func (n *Node) Store(ctx context.Context, id dht.NodeID, port dht.Port) error {
	res, err := n.engine.Run(ctx, search.FindValue, id)
	if err != nil {
		return err
	}

	var lastErr error
	stored := false

	for _, target := range res.Store {
		if err := n.transport.Store(ctx, target.Peer, target.Token, id, port); err != nil {
			lastErr = err
			continue
		}
		stored = true
	}

	if !stored {
		if lastErr != nil {
			return lastErr
		}
		return dht.ErrNotFound
	}
	return nil
}

// Get returns the endpoint this node has recorded locally for id, if
// any peer has ever successfully Stored one with us.
func (n *Node) Get(id dht.NodeID) (dht.Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	v, ok := n.values[id]
	if !ok {
		return dht.Endpoint{}, dht.ErrNotFound
	}
	return v.endpoint, nil
}

// OnPing satisfies transport.Handler: the caller is treated as alive and
// inserted into the routing table.
func (n *Node) OnPing(from dht.Peer) error {
	n.table.Insert(from)
	return nil
}

// OnFindNode satisfies transport.Handler.
func (n *Node) OnFindNode(from dht.Peer, target dht.NodeID) ([]dht.Peer, error) {
	n.table.Insert(from)
	return n.table.ClosestTo(target, n.cfg.K), nil
}

// OnFindValue satisfies transport.Handler: if we hold a value for
// target, its endpoint is returned; otherwise the closest peers we know
// are, so the caller's lookup can continue.
func (n *Node) OnFindValue(from dht.Peer, target dht.NodeID) ([]dht.Peer, []dht.Endpoint, error) {
	n.table.Insert(from)

	n.mu.Lock()
	v, ok := n.values[target]
	n.mu.Unlock()

	if ok {
		return nil, []dht.Endpoint{v.endpoint}, nil
	}
	return n.table.ClosestTo(target, n.cfg.K), nil, nil
}

// OnStore satisfies transport.Handler: the sender is recorded as the
// holder of id, reachable on port.
func (n *Node) OnStore(from dht.Peer, _ dht.Token, id dht.NodeID, port dht.Port) error {
	n.table.Insert(from)

	n.mu.Lock()
	n.values[id] = storedValue{endpoint: dht.Endpoint{IP: from.Addr.IP, Port: port}}
	n.mu.Unlock()

	return nil
}

// keepalive issues a Ping, at the given interval until ctx is done, to
// the 2K peers in the table closest to the node's own ID, evicting any
// of them that stops answering. Peers beyond those 2K are not pinged.
func (n *Node) keepalive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.sweep(ctx)
		}
	}
}

func (n *Node) sweep(ctx context.Context) {
	for _, p := range n.table.ClosestTo(n.id, n.cfg.K*2) {
		pingCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
		err := n.transport.Ping(pingCtx, p)
		cancel()

		if err != nil {
			n.table.Remove(p.ID)
		}
	}
}
