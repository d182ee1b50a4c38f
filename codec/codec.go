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

package codec

import (
	"bytes"
	"encoding/binary"
	"net"

	"github.com/hengestone/dht"
)

// Magic is the 8-byte prefix every current-version datagram begins with.
var Magic = [8]byte{0xAF, 0x40, 0x0D, 0x34, 0xA7, 0x88, 0x37, 0x2D}

// legacyMagic is the prefix of an earlier, incompatible wire format.
// Decode recognizes it and reports ErrOldVersion without parsing further.
var legacyMagic = []byte("EDHT-KDM-\x00")

const (
	familyIPv4 byte = 0x04
	familyIPv6 byte = 0x06
)

// Encode renders m to its exact wire representation. Encode is a total
// function over every well-formed Message value — it never errors and
// never panics, so long as Peer/Endpoint lists are within
// dht.MaxListLength.
func Encode(m Message) []byte {
	var buf bytes.Buffer

	buf.Write(Magic[:])
	writeUint16(&buf, uint16(m.Tag))
	buf.Write(m.ID[:])
	buf.WriteByte(byte(m.Kind))

	switch m.Kind {
	case KindQuery:
		encodeQuery(&buf, m.Query)
	case KindResponse:
		encodeResponse(&buf, m.Response)
	case KindError:
		encodeError(&buf, m.Err)
	}

	return buf.Bytes()
}

func encodeQuery(buf *bytes.Buffer, q *Query) {
	switch {
	case q.Ping != nil:
		buf.WriteByte('p')
	case q.Find != nil:
		buf.WriteByte('f')
		buf.WriteByte(byte(q.Find.Mode))
		buf.Write(q.Find.Target[:])
	case q.Store != nil:
		buf.WriteByte('s')
		buf.Write(q.Store.Token[:])
		buf.Write(q.Store.ID[:])
		writeUint16(buf, uint16(q.Store.Port))
	}
}

func encodeResponse(buf *bytes.Buffer, r *Response) {
	switch {
	case r.Ping != nil:
		buf.WriteByte('p')
	case r.FindNode != nil:
		buf.WriteByte('f')
		buf.WriteByte(byte(ModeNode))
		buf.Write(r.FindNode.Token[:])
		buf.WriteByte(byte(len(r.FindNode.Peers)))
		for _, p := range r.FindNode.Peers {
			encodePeer(buf, p)
		}
	case r.FindValue != nil:
		buf.WriteByte('f')
		buf.WriteByte(byte(ModeValue))
		buf.Write(r.FindValue.Token[:])
		buf.WriteByte(byte(len(r.FindValue.Endpoints)))
		for _, e := range r.FindValue.Endpoints {
			encodeEndpoint(buf, e)
		}
	case r.Store != nil:
		buf.WriteByte('s')
	}
}

func encodeError(buf *bytes.Buffer, e *Error) {
	writeUint16(buf, e.Code)
	buf.Write(e.Message)
}

func encodePeer(buf *bytes.Buffer, p dht.Peer) {
	if v4 := p.Addr.IP.To4(); v4 != nil {
		buf.WriteByte(familyIPv4)
		buf.Write(p.ID[:])
		buf.Write(v4)
		writeUint16(buf, uint16(p.Addr.Port))
		return
	}

	buf.WriteByte(familyIPv6)
	buf.Write(p.ID[:])
	writeIPv6Groups(buf, p.Addr.IP)
	writeUint16(buf, uint16(p.Addr.Port))
}

func encodeEndpoint(buf *bytes.Buffer, e dht.Endpoint) {
	if v4 := e.IP.To4(); v4 != nil {
		buf.WriteByte(familyIPv4)
		buf.Write(v4)
		writeUint16(buf, uint16(e.Port))
		return
	}

	buf.WriteByte(familyIPv6)
	writeIPv6Groups(buf, e.IP)
	writeUint16(buf, uint16(e.Port))
}

func writeIPv6Groups(buf *bytes.Buffer, ip net.IP) {
	ip16 := ip.To16()
	if ip16 == nil {
		ip16 = make(net.IP, net.IPv6len)
	}
	for i := 0; i < 8; i++ {
		writeUint16(buf, binary.BigEndian.Uint16(ip16[i*2:i*2+2]))
	}
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

// Decode parses a datagram into a Message. It recognizes the legacy
// prefix and reports ErrOldVersion without consulting the rest of the
// packet; any truncation or unrecognized discriminator is reported as a
// *DecodeError wrapping one of the Err* sentinels. Decode never panics.
func Decode(b []byte) (Message, error) {
	if bytes.HasPrefix(b, legacyMagic) {
		return Message{}, decodeErr(ErrOldVersion, 0)
	}

	if len(b) < len(Magic) || !bytes.Equal(b[:len(Magic)], Magic[:]) {
		return Message{}, decodeErr(ErrBadMagic, 0)
	}

	off := len(Magic)

	if len(b) < off+2 {
		return Message{}, decodeErr(ErrTruncated, off)
	}
	tag := dht.Tag(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2

	if len(b) < off+dht.KeyBytes {
		return Message{}, decodeErr(ErrTruncated, off)
	}
	var id dht.NodeID
	copy(id[:], b[off:off+dht.KeyBytes])
	off += dht.KeyBytes

	if len(b) < off+1 {
		return Message{}, decodeErr(ErrTruncated, off)
	}
	kind := Kind(b[off])
	off++

	m := Message{Envelope: Envelope{Tag: tag, ID: id, Kind: kind}}

	switch kind {
	case KindQuery:
		q, err := decodeQuery(b, off)
		if err != nil {
			return Message{}, err
		}
		m.Query = q
	case KindResponse:
		r, err := decodeResponse(b, off)
		if err != nil {
			return Message{}, err
		}
		m.Response = r
	case KindError:
		e, err := decodeErrorBody(b, off)
		if err != nil {
			return Message{}, err
		}
		m.Err = e
	default:
		return Message{}, decodeErr(ErrUnknownKind, off)
	}

	return m, nil
}

func decodeQuery(b []byte, off int) (*Query, error) {
	if len(b) < off+1 {
		return nil, decodeErr(ErrTruncated, off)
	}

	switch b[off] {
	case 'p':
		return &Query{Ping: &PingQuery{}}, nil
	case 'f':
		mode, target, _, err := decodeFindHeader(b, off+1)
		if err != nil {
			return nil, err
		}
		return &Query{Find: &FindQuery{Mode: mode, Target: target}}, nil
	case 's':
		start := off + 1
		if len(b) < start+dht.TokenBytes+dht.KeyBytes+2 {
			return nil, decodeErr(ErrTruncated, start)
		}
		var tok dht.Token
		copy(tok[:], b[start:start+dht.TokenBytes])
		start += dht.TokenBytes
		var id dht.NodeID
		copy(id[:], b[start:start+dht.KeyBytes])
		start += dht.KeyBytes
		port := dht.Port(binary.BigEndian.Uint16(b[start : start+2]))
		return &Query{Store: &StoreQuery{Token: tok, ID: id, Port: port}}, nil
	default:
		return nil, decodeErr(ErrUnknownBody, off)
	}
}

// decodeFindHeader reads the 'n'/'v' mode byte and the 32-byte target
// that follow a query's 'f' discriminator, returning the offset just
// past the target.
func decodeFindHeader(b []byte, off int) (Mode, dht.NodeID, int, error) {
	if len(b) < off+1 {
		return 0, dht.NodeID{}, off, decodeErr(ErrTruncated, off)
	}

	mode := Mode(b[off])
	if mode != ModeNode && mode != ModeValue {
		return 0, dht.NodeID{}, off, decodeErr(ErrUnknownBody, off)
	}
	off++

	if len(b) < off+dht.KeyBytes {
		return 0, dht.NodeID{}, off, decodeErr(ErrTruncated, off)
	}
	var target dht.NodeID
	copy(target[:], b[off:off+dht.KeyBytes])
	off += dht.KeyBytes

	return mode, target, off, nil
}

func decodeResponse(b []byte, off int) (*Response, error) {
	if len(b) < off+1 {
		return nil, decodeErr(ErrTruncated, off)
	}

	switch b[off] {
	case 'p':
		return &Response{Ping: &PingResponse{}}, nil
	case 'f':
		if len(b) < off+2 {
			return nil, decodeErr(ErrTruncated, off)
		}
		mode := Mode(b[off+1])
		start := off + 2

		if len(b) < start+dht.TokenBytes+1 {
			return nil, decodeErr(ErrTruncated, start)
		}
		var tok dht.Token
		copy(tok[:], b[start:start+dht.TokenBytes])
		start += dht.TokenBytes
		n := int(b[start])
		start++

		switch mode {
		case ModeNode:
			peers, _, err := decodePeers(b, start, n)
			if err != nil {
				return nil, err
			}
			return &Response{FindNode: &FindNodeResponse{Token: tok, Peers: peers}}, nil
		case ModeValue:
			endpoints, _, err := decodeEndpoints(b, start, n)
			if err != nil {
				return nil, err
			}
			return &Response{FindValue: &FindValueResponse{Token: tok, Endpoints: endpoints}}, nil
		default:
			return nil, decodeErr(ErrUnknownBody, off+1)
		}
	case 's':
		return &Response{Store: &StoreResponse{}}, nil
	default:
		return nil, decodeErr(ErrUnknownBody, off)
	}
}

func decodePeers(b []byte, off, n int) ([]dht.Peer, int, error) {
	peers := make([]dht.Peer, 0, n)

	for i := 0; i < n; i++ {
		if len(b) < off+1 {
			return nil, off, decodeErr(ErrTruncated, off)
		}

		family := b[off]
		off++

		if len(b) < off+dht.KeyBytes {
			return nil, off, decodeErr(ErrTruncated, off)
		}
		var id dht.NodeID
		copy(id[:], b[off:off+dht.KeyBytes])
		off += dht.KeyBytes

		ip, port, next, err := decodeAddr(b, off, family)
		if err != nil {
			return nil, off, err
		}
		off = next

		peers = append(peers, dht.Peer{ID: id, Addr: dht.Endpoint{IP: ip, Port: port}})
	}

	return peers, off, nil
}

func decodeEndpoints(b []byte, off, n int) ([]dht.Endpoint, int, error) {
	endpoints := make([]dht.Endpoint, 0, n)

	for i := 0; i < n; i++ {
		if len(b) < off+1 {
			return nil, off, decodeErr(ErrTruncated, off)
		}

		family := b[off]
		off++

		ip, port, next, err := decodeAddr(b, off, family)
		if err != nil {
			return nil, off, err
		}
		off = next

		endpoints = append(endpoints, dht.Endpoint{IP: ip, Port: port})
	}

	return endpoints, off, nil
}

func decodeAddr(b []byte, off int, family byte) (net.IP, dht.Port, int, error) {
	switch family {
	case familyIPv4:
		if len(b) < off+4+2 {
			return nil, 0, off, decodeErr(ErrTruncated, off)
		}
		ip := make(net.IP, 4)
		copy(ip, b[off:off+4])
		off += 4
		port := dht.Port(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		return ip, port, off, nil
	case familyIPv6:
		if len(b) < off+16+2 {
			return nil, 0, off, decodeErr(ErrTruncated, off)
		}
		ip := make(net.IP, 16)
		copy(ip, b[off:off+16])
		off += 16
		port := dht.Port(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		return ip, port, off, nil
	default:
		return nil, 0, off, decodeErr(ErrUnknownFamily, off-1)
	}
}

func decodeErrorBody(b []byte, off int) (*Error, error) {
	if len(b) < off+2 {
		return nil, decodeErr(ErrTruncated, off)
	}
	code := binary.BigEndian.Uint16(b[off : off+2])
	off += 2

	msg := make([]byte, len(b)-off)
	copy(msg, b[off:])

	return &Error{Code: code, Message: msg}, nil
}
