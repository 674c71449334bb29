// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"io"
	"net"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/bn3monkey/remote-command/protocol"
)

const (
	// ProcessToken is the token Execute returns for a live child. The
	// token space is not meaningful beyond "is there a process"; at
	// most one child is alive at any instant.
	ProcessToken int32 = 1

	processIdle int32 = -1

	streamChunk = 4096
)

// RemoteProcess supervises at most one child process. Execute spawns a
// shell-wrapped child with piped stdout/stderr and starts one reader
// goroutine per pipe; the readers frame what they read onto the current
// stream socket. Await blocks until the child is done and both pipes
// have drained; Close terminates the child first and then does the
// same.
//
// Execute, Await and Close are called only from the dispatcher
// goroutine. SetStreamSocket races with the readers and is the one
// operation that needs the stream mutex.
type RemoteProcess struct {
	// streamMu guards stream against the two reader goroutines. A
	// reader holds it only across the header and payload writes of one
	// chunk, never across a pipe read, so replacement never waits on a
	// blocked read and chunks from the two pipes cannot interleave
	// mid-frame.
	streamMu sync.Mutex
	stream   net.Conn

	token atomic.Int32

	// The fields below are confined to the dispatcher goroutine.
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	readers sync.WaitGroup
}

func newRemoteProcess() *RemoteProcess {
	p := &RemoteProcess{}
	p.token.Store(processIdle)
	return p
}

// SetStreamSocket installs conn as the stream sink and returns the
// previous one for the caller to close. A nil conn means "discard
// output".
func (p *RemoteProcess) SetStreamSocket(conn net.Conn) net.Conn {
	p.streamMu.Lock()
	defer p.streamMu.Unlock()
	old := p.stream
	p.stream = conn
	return old
}

// IsRunning reports whether a child process slot is occupied.
func (p *RemoteProcess) IsRunning() bool {
	return p.token.Load() != processIdle
}

// Execute spawns cmdline wrapped in the platform shell, working
// directory dir, and returns ProcessToken; -1 if a process is already
// live or the spawn fails. The child's stdin is the read end of a pipe
// whose write end stays open until Await or Close, so an interactive
// child never sees EOF on stdin.
func (p *RemoteProcess) Execute(dir, cmdline string) int32 {
	if p.IsRunning() {
		return -1
	}
	// Readers from the previous execution are joined by Await/Close;
	// this is a backstop for an execution that never saw either.
	p.readers.Wait()

	cmd := shellCommand(cmdline)
	cmd.Dir = dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		verbose("process: stdin pipe: %v", err)
		return -1
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		verbose("process: stdout pipe: %v", err)
		stdin.Close()
		return -1
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		verbose("process: stderr pipe: %v", err)
		stdin.Close()
		return -1
	}
	if err := cmd.Start(); err != nil {
		verbose("process: start %q: %v", cmdline, err)
		stdin.Close()
		return -1
	}
	verbose("process: started %q in %q, pid %d", cmdline, dir, cmd.Process.Pid)

	p.cmd = cmd
	p.stdin = stdin
	p.readers.Add(2)
	go p.reader(stdout, protocol.StreamOutput)
	go p.reader(stderr, protocol.StreamError)
	p.token.Store(ProcessToken)
	return ProcessToken
}

// reader forwards one pipe onto the stream channel in chunks of up to
// streamChunk bytes until EOF. A missing sink, or a write error, drops
// the chunk; a replacement sink picks up from the next chunk.
func (p *RemoteProcess) reader(r io.Reader, typ protocol.StreamType) {
	defer p.readers.Done()
	buf := make([]byte, streamChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.streamMu.Lock()
			if p.stream != nil {
				if werr := protocol.WriteStream(p.stream, typ, buf[:n]); werr != nil {
					verbose("process: stream write dropped %d bytes: %v", n, werr)
				}
			}
			p.streamMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Await blocks until the child exits and both pipes reach EOF, then
// reaps it. Idempotent; the token argument is accepted for symmetry
// with the wire contract.
func (p *RemoteProcess) Await(int32) {
	if p.cmd == nil {
		return
	}
	p.readers.Wait()
	p.reap()
}

// Close terminates the child, waits out the readers and reaps. Killing
// the child is what closes the child's ends of the pipes; EOF then
// releases any reader blocked mid-read, which is the only portable way
// to get them unstuck. On POSIX the signal goes to the whole process
// group so grandchildren die too. No-op when nothing is running.
func (p *RemoteProcess) Close(int32) {
	if !p.IsRunning() || p.cmd == nil {
		return
	}
	terminate(p.cmd)
	p.readers.Wait()
	p.reap()
}

func (p *RemoteProcess) reap() {
	if p.stdin != nil {
		p.stdin.Close()
		p.stdin = nil
	}
	if p.cmd != nil {
		// A killed child reports "signal: terminated"; not an error here.
		if err := p.cmd.Wait(); err != nil {
			verbose("process: wait: %v", err)
		}
		p.cmd = nil
	}
	p.token.Store(processIdle)
}
