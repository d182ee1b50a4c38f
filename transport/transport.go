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

// Package transport implements the dht_net collaborator: a UDP socket
// that exchanges codec-framed Ping/FindNode/FindValue/Store messages
// with remote peers and serves the same RPCs for peers that query us.
// Socket setup uses SO_REUSEADDR/SO_REUSEPORT via golang.org/x/sys/unix
// and batched I/O via golang.org/x/net/ipv4, with a Tag-keyed
// pending-request cache tracking requests awaiting a reply.
package transport

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/hengestone/dht"
	"github.com/hengestone/dht/codec"
)

// Handler answers incoming queries on behalf of the local node. Node
// implementations of the facade package satisfy this so the transport
// stays ignorant of routing-table and storage concerns.
type Handler interface {
	OnPing(from dht.Peer) error
	OnFindNode(from dht.Peer, target dht.NodeID) ([]dht.Peer, error)
	OnFindValue(from dht.Peer, target dht.NodeID) ([]dht.Peer, []dht.Endpoint, error)
	OnStore(from dht.Peer, token dht.Token, id dht.NodeID, port dht.Port) error
}

// Config configures a Transport.
type Config struct {
	ListenAddress    string
	LocalID          dht.NodeID
	Timeout          time.Duration
	SocketBufferSize int
	BatchSize        int
	Logger           *zap.Logger
}

func (c *Config) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = time.Minute
	}
	if c.SocketBufferSize < 1 {
		c.SocketBufferSize = 32 * 1024 * 1024
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1024
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Transport is a UDP-backed dht_net collaborator.
type Transport struct {
	conn    *ipv4.PacketConn
	local   dht.NodeID
	timeout time.Duration
	log     *zap.Logger
	cache   *requestCache
	handler Handler

	readBuf  []ipv4.Message
	writeMu  sync.Mutex
	closing  chan struct{}
	closed   bool
	closedMu sync.Mutex
}

// control sets SO_REUSEADDR and SO_REUSEPORT on the listening socket so
// multiple Transport instances (e.g. one per GOMAXPROCS) can share a
// single UDP port.
func control(_, _ string, c syscall.RawConn) error {
	var err error
	c.Control(func(fd uintptr) {
		if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return
		}
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	return err
}

// Listen opens a UDP socket per cfg and begins serving. handler may be
// nil if this transport only ever issues outbound queries.
func Listen(ctx context.Context, cfg Config, handler Handler) (*Transport, error) {
	cfg.setDefaults()

	lc := net.ListenConfig{Control: control}
	pc, err := lc.ListenPacket(ctx, "udp", cfg.ListenAddress)
	if err != nil {
		return nil, err
	}

	udpConn, ok := pc.(*net.UDPConn)
	if ok {
		_ = udpConn.SetReadBuffer(cfg.SocketBufferSize)
		_ = udpConn.SetWriteBuffer(cfg.SocketBufferSize)
	}

	t := &Transport{
		conn:    ipv4.NewPacketConn(pc),
		local:   cfg.LocalID,
		timeout: cfg.Timeout,
		log:     cfg.Logger,
		cache:   newRequestCache(cfg.Timeout),
		handler: handler,
		readBuf: make([]ipv4.Message, cfg.BatchSize),
		closing: make(chan struct{}),
	}
	for i := range t.readBuf {
		t.readBuf[i].Buffers = [][]byte{make([]byte, 1500)}
	}

	go t.serve()

	return t, nil
}

// LocalAddr returns the address the transport is bound to.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close shuts the transport down.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	t.closedMu.Unlock()

	close(t.closing)
	return t.conn.Close()
}

func (t *Transport) serve() {
	for {
		select {
		case <-t.closing:
			return
		default:
		}

		n, err := t.conn.ReadBatch(t.readBuf, 0)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Warn("read batch failed", zap.Error(err))
			continue
		}

		for i := 0; i < n; i++ {
			raw := t.readBuf[i].Buffers[0][:t.readBuf[i].N]
			addr, ok := t.readBuf[i].Addr.(*net.UDPAddr)
			if !ok {
				continue
			}

			msg, err := codec.Decode(raw)
			if err != nil {
				t.log.Debug("dropping undecodable datagram", zap.Error(err), zap.Stringer("from", addr))
				continue
			}

			t.handle(msg, addr)
		}
	}
}

func (t *Transport) handle(msg codec.Message, addr *net.UDPAddr) {
	from := dht.Peer{ID: msg.ID, Addr: dht.Endpoint{IP: addr.IP, Port: dht.Port(addr.Port)}}

	switch msg.Kind {
	case codec.KindResponse, codec.KindError:
		t.cache.deliver(msg.Tag, msg)
		return
	case codec.KindQuery:
		t.serveQuery(msg, from, addr)
	}
}

func (t *Transport) serveQuery(msg codec.Message, from dht.Peer, addr *net.UDPAddr) {
	if t.handler == nil || msg.Query == nil {
		return
	}

	resp := codec.Message{Envelope: codec.Envelope{Tag: msg.Tag, ID: t.local, Kind: codec.KindResponse}}

	switch {
	case msg.Query.Ping != nil:
		if err := t.handler.OnPing(from); err != nil {
			t.sendError(msg.Tag, addr, err)
			return
		}
		resp.Response = &codec.Response{Ping: &codec.PingResponse{}}

	case msg.Query.Find != nil && msg.Query.Find.Mode == codec.ModeNode:
		peers, err := t.handler.OnFindNode(from, msg.Query.Find.Target)
		if err != nil {
			t.sendError(msg.Tag, addr, err)
			return
		}
		resp.Response = &codec.Response{FindNode: &codec.FindNodeResponse{Token: issueToken(), Peers: peers}}

	case msg.Query.Find != nil && msg.Query.Find.Mode == codec.ModeValue:
		peers, endpoints, err := t.handler.OnFindValue(from, msg.Query.Find.Target)
		if err != nil {
			t.sendError(msg.Tag, addr, err)
			return
		}
		if endpoints != nil {
			resp.Response = &codec.Response{FindValue: &codec.FindValueResponse{Token: issueToken(), Endpoints: endpoints}}
		} else {
			resp.Response = &codec.Response{FindNode: &codec.FindNodeResponse{Token: issueToken(), Peers: peers}}
		}

	case msg.Query.Store != nil:
		sq := msg.Query.Store
		if err := t.handler.OnStore(from, sq.Token, sq.ID, sq.Port); err != nil {
			t.sendError(msg.Tag, addr, err)
			return
		}
		resp.Response = &codec.Response{Store: &codec.StoreResponse{}}

	default:
		return
	}

	t.send(resp, addr)
}

func (t *Transport) sendError(tag dht.Tag, addr *net.UDPAddr, err error) {
	t.send(codec.Message{
		Envelope: codec.Envelope{Tag: tag, ID: t.local, Kind: codec.KindError},
		Err:      &codec.Error{Code: 1, Message: []byte(err.Error())},
	}, addr)
}

func (t *Transport) send(msg codec.Message, addr *net.UDPAddr) {
	wire := codec.Encode(msg)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_, err := t.conn.WriteTo(wire, nil, addr)
	if err != nil {
		t.log.Debug("write failed", zap.Error(err), zap.Stringer("to", addr))
	}
}

func newTag() dht.Tag {
	return dht.Tag(rand.IntN(1 << 16))
}

func issueToken() dht.Token {
	var tok dht.Token
	for i := range tok {
		tok[i] = byte(rand.IntN(256))
	}
	return tok
}

// roundTrip sends q to the peer and waits for its matching response,
// honoring ctx cancellation and the transport's configured timeout.
func (t *Transport) roundTrip(ctx context.Context, to dht.Peer, q *codec.Query) (codec.Message, error) {
	tag := newTag()
	ch := t.cache.register(tag, time.Now().Add(t.timeout))

	t.send(codec.Message{
		Envelope: codec.Envelope{Tag: tag, ID: t.local, Kind: codec.KindQuery},
		Query:    q,
	}, to.Addr.UDPAddr())

	select {
	case <-ctx.Done():
		t.cache.forget(tag)
		return codec.Message{}, ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			return codec.Message{}, dht.ErrRequestTimeout
		}
		if msg.Kind == codec.KindError {
			return codec.Message{}, &RemoteError{Code: msg.Err.Code, Message: string(msg.Err.Message)}
		}
		return msg, nil
	}
}

// Ping asks to is alive and responsive.
func (t *Transport) Ping(ctx context.Context, to dht.Peer) error {
	_, err := t.roundTrip(ctx, to, &codec.Query{Ping: &codec.PingQuery{}})
	return err
}

// FindNode asks to for the peers it knows closest to target, along with
// the token the response carries (the wire grammar includes one on
// every find-family response, store-eligible or not) so a caller can
// authenticate a later Store against to without a second round trip.
func (t *Transport) FindNode(ctx context.Context, to dht.Peer, target dht.NodeID) ([]dht.Peer, dht.Token, error) {
	msg, err := t.roundTrip(ctx, to, &codec.Query{Find: &codec.FindQuery{Mode: codec.ModeNode, Target: target}})
	if err != nil {
		return nil, dht.Token{}, err
	}
	if msg.Response == nil || msg.Response.FindNode == nil {
		return nil, dht.Token{}, nil
	}
	return msg.Response.FindNode.Peers, msg.Response.FindNode.Token, nil
}

// Identify performs a FindNode against to and returns it back as a full
// Peer, with its self-reported NodeID filled in from the response
// envelope. Bootstrap uses this since a freshly configured contact is
// known only by address, not by identity, until it answers.
func (t *Transport) Identify(ctx context.Context, to dht.Peer, target dht.NodeID) (dht.Peer, []dht.Peer, error) {
	msg, err := t.roundTrip(ctx, to, &codec.Query{Find: &codec.FindQuery{Mode: codec.ModeNode, Target: target}})
	if err != nil {
		return dht.Peer{}, nil, err
	}
	to.ID = msg.ID
	if msg.Response == nil || msg.Response.FindNode == nil {
		return to, nil, nil
	}
	return to, msg.Response.FindNode.Peers, nil
}

// FindValue asks to for the value stored under target, along with the
// token the response carries so the caller can authenticate a later
// Store against to. At most one of the returned slices is non-empty:
// peers when to doesn't hold the value and is suggesting who might,
// endpoints when it does. Both are empty when to holds no value and
// knows no peers to suggest.
func (t *Transport) FindValue(ctx context.Context, to dht.Peer, target dht.NodeID) ([]dht.Peer, []dht.Endpoint, dht.Token, error) {
	msg, err := t.roundTrip(ctx, to, &codec.Query{Find: &codec.FindQuery{Mode: codec.ModeValue, Target: target}})
	if err != nil {
		return nil, nil, dht.Token{}, err
	}
	if msg.Response == nil {
		return nil, nil, dht.Token{}, nil
	}
	if msg.Response.FindValue != nil {
		return nil, msg.Response.FindValue.Endpoints, msg.Response.FindValue.Token, nil
	}
	if msg.Response.FindNode != nil {
		return msg.Response.FindNode.Peers, nil, msg.Response.FindNode.Token, nil
	}
	return nil, nil, dht.Token{}, nil
}

// Store asks to remember that id can be reached on port, authenticated
// by a token previously issued by to.
func (t *Transport) Store(ctx context.Context, to dht.Peer, token dht.Token, id dht.NodeID, port dht.Port) error {
	_, err := t.roundTrip(ctx, to, &codec.Query{Store: &codec.StoreQuery{Token: token, ID: id, Port: port}})
	return err
}

// RemoteError is returned when a peer answers a query with an Error body.
type RemoteError struct {
	Code    uint16
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}
