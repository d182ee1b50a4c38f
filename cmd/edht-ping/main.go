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

// Command edht-ping starts a single DHT node, optionally joins an
// existing network through a bootstrap peer, and looks up a target
// NodeID. It exists to exercise the module end to end, not as a
// production CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/hengestone/dht"
	"github.com/hengestone/dht/node"
)

func main() {
	daemonCmd := flag.NewFlagSet("daemon", flag.ExitOnError)
	listenAddress := daemonCmd.String("listen", "0.0.0.0:9000", "address to listen on")
	bootstrap := daemonCmd.String("bootstrap", "", "comma-separated bootstrap peer addresses")
	timeout := daemonCmd.Duration("timeout", time.Minute/2, "request timeout")

	lookupCmd := flag.NewFlagSet("lookup", flag.ExitOnError)
	lookupListen := lookupCmd.String("listen", "0.0.0.0:0", "address to listen on")
	lookupBootstrap := lookupCmd.String("bootstrap", "", "comma-separated bootstrap peer addresses")
	lookupTimeout := lookupCmd.Duration("timeout", time.Minute/2, "request timeout")
	lookupTarget := lookupCmd.String("target", "", "key to look up; the text is hashed into the target NodeID")

	if len(os.Args) < 2 {
		fmt.Println("expected 'daemon' or 'lookup' subcommand")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		daemonCmd.Parse(os.Args[2:])
		runDaemon(*listenAddress, splitAddresses(*bootstrap), *timeout)
	case "lookup":
		lookupCmd.Parse(os.Args[2:])
		runLookup(*lookupListen, splitAddresses(*lookupBootstrap), *lookupTimeout, *lookupTarget)
	default:
		fmt.Println("expected 'daemon' or 'lookup' subcommand")
		os.Exit(1)
	}
}

func splitAddresses(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func runDaemon(listen string, bootstrap []string, timeout time.Duration) {
	n, err := node.New(context.Background(), dht.Config{
		ListenAddress:      listen,
		BootstrapAddresses: bootstrap,
		Timeout:            timeout,
	})
	if err != nil {
		log.Fatalf("failed to start edht node: %v", err)
	}

	log.Printf("edht node %x listening on %s\n", n.ID(), listen)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c

	log.Println("edht node shutting down...")
	n.Close()
	log.Println("edht node stopped.")
}

func runLookup(listen string, bootstrap []string, timeout time.Duration, target string) {
	if target == "" {
		log.Fatal("lookup requires -target")
	}

	n, err := node.New(context.Background(), dht.Config{
		ListenAddress:      listen,
		BootstrapAddresses: bootstrap,
		Timeout:            timeout,
	})
	if err != nil {
		log.Fatalf("failed to start edht node: %v", err)
	}
	defer n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	id := dht.Key(target)
	peers, err := n.FindNode(ctx, id)
	if err != nil {
		log.Fatalf("lookup failed: %v", err)
	}

	fmt.Printf("closest peers to %x:\n", id)
	for _, p := range peers {
		fmt.Printf("  %x @ %s:%d\n", p.ID, p.Addr.IP, p.Addr.Port)
	}
}
