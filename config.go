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

package dht

import (
	"runtime"
	"time"

	"go.uber.org/zap"
)

// Config configures a Node. Zero-valued fields are filled in with
// defaults by New rather than rejected.
type Config struct {
	// LocalID identifies this node. If nil, a random id is generated.
	LocalID *NodeID
	// ListenAddress is the udp ip:port to listen on.
	ListenAddress string
	// BootstrapAddresses are the udp ip:port of known-good peers to seed
	// the routing table from.
	BootstrapAddresses []string
	// Listeners is filled in with GOMAXPROCS by ApplyDefaults. Package
	// node does not read it: a Node opens one listening socket served by
	// a single goroutine.
	Listeners int
	// Timeout is the duration before a request is considered unanswered.
	Timeout time.Duration
	// K is the bucket size / replication factor.
	K int
	// Alpha is the search fan-out width.
	Alpha int
	// RetryBudget is the number of non-converging rounds a search
	// tolerates before terminating.
	RetryBudget int
	// SocketBufferSize sets the OS send/receive buffer size.
	SocketBufferSize int
	// Logger receives structured diagnostic output. A no-op logger is
	// used when nil.
	Logger *zap.Logger
}

// ApplyDefaults fills in zero-valued fields with their defaults. Node
// construction in package node calls this since Config's own defaulting
// logic isn't exported across the package boundary otherwise.
func (c *Config) ApplyDefaults() {
	c.setDefaults()
}

func (c *Config) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = time.Minute
	}
	if c.Listeners < 1 {
		c.Listeners = runtime.GOMAXPROCS(0)
	}
	if c.K < 1 {
		c.K = K
	}
	if c.Alpha < 1 {
		c.Alpha = Alpha
	}
	if c.RetryBudget < 1 {
		c.RetryBudget = RetryBudget
	}
	if c.SocketBufferSize < 1 {
		c.SocketBufferSize = 32 * 1024 * 1024
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}
