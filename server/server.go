// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"strconv"

	"github.com/hashicorp/go-multierror"
)

// v allows debug printing.
// Do not call it directly, call verbose instead.
var v = func(string, ...interface{}) {}

// SetVerbose sets the debug print function, e.g. log.Printf or t.Logf.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

func verbose(f string, a ...interface{}) {
	v("rcd:"+f, a...)
}

// Server ties the four components together around the one shared
// process supervisor. None of the components owns another; Server is
// the lifetime root.
type Server struct {
	process   *RemoteProcess
	command   *CommandServer
	stream    *StreamServer
	discovery *Discovery
}

// New opens a server. network selects the listener type for the command
// and stream ports (tcp, unix, vsock; see Listen); discoveryPort is
// always UDP and is disabled when it does not parse to a positive
// number. dir is the initial working directory; empty means the process
// working directory. Port "0" binds an ephemeral port, readable back
// via CommandPort and StreamPort.
func New(network, discoveryPort, commandPort, streamPort, dir string) (*Server, error) {
	process := newRemoteProcess()

	command := newCommandServer(process)
	if err := command.Open(network, commandPort, dir); err != nil {
		return nil, err
	}

	stream := newStreamServer(process)
	if err := stream.Open(network, streamPort); err != nil {
		command.Close()
		return nil, err
	}

	s := &Server{process: process, command: command, stream: stream}

	if p, err := strconv.Atoi(discoveryPort); err == nil && p > 0 {
		d := newDiscovery()
		if err := d.Open(p, s.CommandPort(), s.StreamPort()); err != nil {
			stream.Close()
			command.Close()
			return nil, err
		}
		s.discovery = d
	} else {
		verbose("discovery disabled (port %q)", discoveryPort)
	}
	return s, nil
}

// CommandPort returns the bound command port, or 0 for non-TCP networks.
func (s *Server) CommandPort() int {
	return listenerPort(s.command.ln)
}

// StreamPort returns the bound stream port, or 0 for non-TCP networks.
func (s *Server) StreamPort() int {
	return listenerPort(s.stream.ln)
}

// DiscoveryPort returns the bound discovery port, or 0 when disabled.
func (s *Server) DiscoveryPort() int {
	if s.discovery == nil {
		return 0
	}
	return s.discovery.Port()
}

// Close shuts the server down: discovery first, then the command side
// (which wakes a blocked dispatcher and kills any child the session
// left running), then the stream side. A leftover child from a session
// that never reached its accept loop teardown is closed last.
func (s *Server) Close() error {
	var errs *multierror.Error
	if s.discovery != nil {
		errs = multierror.Append(errs, s.discovery.Close())
	}
	errs = multierror.Append(errs, s.command.Close())
	errs = multierror.Append(errs, s.stream.Close())
	if s.process.IsRunning() {
		s.process.Close(ProcessToken)
	}
	return errs.ErrorOrNil()
}
