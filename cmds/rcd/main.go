// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// rcd is the remote-command daemon. It serves the framed command
// protocol on the command port, child-process output on the stream
// port, and answers UDP discovery probes on the discovery port.
//
// Usage:
//
//	rcd [flags] [discovery_port [command_port [stream_port [cwd]]]]
//
// Ports default to 9000/9001/9002 and cwd to ".". SIGINT and SIGTERM
// shut the server down in an orderly way.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bn3monkey/remote-command/ds"
	"github.com/bn3monkey/remote-command/server"
)

var (
	debug   = flag.Bool("d", false, "enable debug prints")
	klog    = flag.Bool("klog", false, "With -d, log rcd debug messages in kernel log, not stdout")
	network = flag.String("net", "tcp", "network for the command and stream ports (tcp, unix, vsock)")

	dsEnabled   = flag.Bool("ds", false, "advertise the server over DNS-SD as well")
	dsInstance  = flag.String("dsInstance", "", "DNS-SD instance name (default hostname-rcd)")
	dsDomain    = flag.String("dsDomain", ds.DefaultDomain, "DNS-SD domain")
	dsService   = flag.String("dsService", ds.DefaultService, "DNS-SD service type")
	dsInterface = flag.String("dsInterface", "", "DNS-SD interface to announce on")
	dsTxt       = flag.String("dsTxt", "", "DNS-SD TXT meta-data, key=value[,key=value...]")

	// v allows debug printing.
	// Do not call it directly, call verbose instead.
	v = func(string, ...interface{}) {}
)

func verbose(f string, a ...interface{}) {
	v("rcd:"+f, a...)
}

func main() {
	flag.Parse()
	if *debug {
		v = log.Printf
		server.SetVerbose(log.Printf)
		ds.Verbose(log.Printf)
		if *klog {
			setupKlog()
		}
	}

	discoveryPort, commandPort, streamPort, dir := "9000", "9001", "9002", "."
	args := flag.Args()
	if len(args) > 0 {
		discoveryPort = args[0]
	}
	if len(args) > 1 {
		commandPort = args[1]
	}
	if len(args) > 2 {
		streamPort = args[2]
	}
	if len(args) > 3 {
		dir = args[3]
	}

	s, err := server.New(*network, discoveryPort, commandPort, streamPort, dir)
	if err != nil {
		log.Printf("rcd: %v", err)
		os.Exit(1)
	}

	log.Printf("rcd: discovery port %s, command port %s, stream port %s, dir %q", discoveryPort, commandPort, streamPort, dir)

	if *dsEnabled {
		txt := ds.ParseKv(*dsTxt)
		verbose("advertising w/dnssd %v", txt)
		if err := ds.Register(*dsInstance, *dsDomain, *dsService, *dsInterface, s.CommandPort(), s.StreamPort(), txt); err != nil {
			log.Printf("rcd: could not advertise with dns-sd: %v", err)
		} else {
			defer ds.Unregister()
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	got := <-sig
	verbose("signal %v, shutting down", got)

	if err := s.Close(); err != nil {
		log.Printf("rcd: close: %v", err)
	}
	log.Printf("rcd: stopped")
}
