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
	"sync"
	"time"

	"github.com/hengestone/dht"
	"github.com/hengestone/dht/codec"
)

// pendingRequest is a query awaiting its matching response, keyed by the
// envelope Tag it was sent with — already a comparable, cheap-to-hash
// type, so no additional hashing is needed.
type pendingRequest struct {
	reply chan codec.Message
	ttl   time.Time
}

type requestCache struct {
	mu       sync.Mutex
	requests map[dht.Tag]*pendingRequest
}

func newRequestCache(sweep time.Duration) *requestCache {
	c := &requestCache{requests: make(map[dht.Tag]*pendingRequest)}
	go c.cleanup(sweep)
	return c
}

func (c *requestCache) register(tag dht.Tag, ttl time.Time) chan codec.Message {
	ch := make(chan codec.Message, 1)
	c.mu.Lock()
	c.requests[tag] = &pendingRequest{reply: ch, ttl: ttl}
	c.mu.Unlock()
	return ch
}

func (c *requestCache) forget(tag dht.Tag) {
	c.mu.Lock()
	delete(c.requests, tag)
	c.mu.Unlock()
}

// deliver routes an inbound response/error message to its waiting
// caller, if any is still pending. It reports whether a waiter consumed
// the message.
func (c *requestCache) deliver(tag dht.Tag, m codec.Message) bool {
	c.mu.Lock()
	r, ok := c.requests[tag]
	if ok {
		delete(c.requests, tag)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	r.reply <- m
	return true
}

func (c *requestCache) cleanup(sweep time.Duration) {
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()

		c.mu.Lock()
		for tag, r := range c.requests {
			if now.After(r.ttl) {
				delete(c.requests, tag)
				close(r.reply)
			}
		}
		c.mu.Unlock()
	}
}
