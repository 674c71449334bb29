// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"net"
	"sync/atomic"
)

// StreamServer owns the stream port. It has no request loop of its
// own: each accepted connection is handed to the process supervisor as
// the new stream sink, and the displaced one is closed. A client that
// reconnects its stream side mid-session simply starts receiving
// output from the next chunk.
type StreamServer struct {
	process *RemoteProcess
	ln      net.Listener
	running atomic.Bool
	done    chan struct{}
}

func newStreamServer(process *RemoteProcess) *StreamServer {
	return &StreamServer{process: process}
}

// Open binds the stream listener and starts the accept loop.
func (s *StreamServer) Open(network, port string) error {
	ln, err := Listen(network, port)
	if err != nil {
		return err
	}
	s.ln = ln
	s.done = make(chan struct{})
	s.running.Store(true)
	go s.acceptLoop()
	return nil
}

// Close stops the accept loop, clears the sink so the readers discard
// further output, and closes the listener.
func (s *StreamServer) Close() error {
	if !s.running.Swap(false) {
		return nil
	}
	<-s.done
	return s.ln.Close()
}

func (s *StreamServer) acceptLoop() {
	defer close(s.done)
	for s.running.Load() {
		conn, err := acceptWithDeadline(s.ln, &s.running)
		if err != nil {
			if err != errStopped {
				verbose("stream: accept: %v", err)
			}
			break
		}
		verbose("stream: client connected from %v", conn.RemoteAddr())
		if old := s.process.SetStreamSocket(conn); old != nil {
			old.Close()
		}
	}
	if last := s.process.SetStreamSocket(nil); last != nil {
		last.Close()
	}
}
