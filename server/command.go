// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bn3monkey/remote-command/protocol"
)

// CommandServer owns the command port. Its accept loop serves one
// client at a time: accept, run the request/response loop until the
// client goes away, close any child process the session left behind,
// loop. The session working directory lives here and is read and
// written only by the dispatcher.
type CommandServer struct {
	process *RemoteProcess
	dir     string
	ln      net.Listener
	running atomic.Bool
	done    chan struct{}

	// clientMu lets Close close the live client socket from outside,
	// which is what wakes a dispatcher blocked in a read.
	clientMu sync.Mutex
	client   net.Conn
}

func newCommandServer(process *RemoteProcess) *CommandServer {
	return &CommandServer{process: process}
}

// Open binds the command listener and starts the accept loop. dir is
// the initial working directory; empty means the process working
// directory.
func (c *CommandServer) Open(network, port, dir string) error {
	c.dir = initialDir(dir)
	ln, err := Listen(network, port)
	if err != nil {
		return err
	}
	c.ln = ln
	c.done = make(chan struct{})
	c.running.Store(true)
	go c.acceptLoop()
	return nil
}

// Close flips the running flag, wakes a blocked dispatcher by closing
// its socket, joins the accept loop and closes the listener.
func (c *CommandServer) Close() error {
	if !c.running.Swap(false) {
		return nil
	}
	c.setClient(nil)
	<-c.done
	return c.ln.Close()
}

// setClient swaps the tracked client socket, closing the old one.
func (c *CommandServer) setClient(conn net.Conn) {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	if c.client != nil {
		c.client.Close()
	}
	c.client = conn
}

func (c *CommandServer) acceptLoop() {
	defer close(c.done)
	for c.running.Load() {
		conn, err := acceptWithDeadline(c.ln, &c.running)
		if err != nil {
			if err != errStopped {
				verbose("command: accept: %v", err)
			}
			return
		}
		session := uuid.New().String()[:8]
		verbose("command: session %s connected from %v", session, conn.RemoteAddr())

		c.setClient(conn)
		c.serve(conn)

		// Don't leave a child running past its session.
		if c.process.IsRunning() {
			c.process.Close(ProcessToken)
		}
		c.setClient(nil)
		verbose("command: session %s disconnected", session)
	}
}

// serve is the request dispatcher: read one framed request, execute it,
// write one framed response, repeat. It returns when the read fails
// (EOF, closed socket), the frame is malformed, the instruction is
// unknown, or the running flag flips.
func (c *CommandServer) serve(conn net.Conn) {
	for c.running.Load() {
		ins, p, err := protocol.ReadRequest(conn)
		if err != nil {
			verbose("command: session ends: %v", err)
			return
		}

		switch ins {
		case protocol.CurrentWorkingDirectory:
			err = protocol.WriteResponse(conn, ins, []byte(c.dir))

		case protocol.MoveCurrentWorkingDirectory:
			target := resolvePath(c.dir, string(p[0]))
			ok := isDir(target)
			if ok {
				c.dir = target
			}
			err = protocol.WriteResponse(conn, ins, boolByte(ok))

		case protocol.DirectoryExists:
			err = protocol.WriteResponse(conn, ins, boolByte(isDir(resolvePath(c.dir, string(p[0])))))

		case protocol.ListDirectoryContents:
			name := string(p[0])
			if name == "" {
				name = "."
			}
			contents := listDir(resolvePath(c.dir, name))
			err = protocol.WriteResponse(conn, ins, protocol.MarshalDirContents(contents))

		case protocol.CreateDirectory:
			err = protocol.WriteResponse(conn, ins, boolByte(createNewDirectory(resolvePath(c.dir, string(p[0])))))

		case protocol.RemoveDirectory:
			err = protocol.WriteResponse(conn, ins, boolByte(removeSubtree(resolvePath(c.dir, string(p[0])))))

		case protocol.CopyDirectory:
			from := resolvePath(c.dir, string(p[0]))
			to := resolvePath(c.dir, string(p[1]))
			err = protocol.WriteResponse(conn, ins, boolByte(copyTree(from, to) == nil))

		case protocol.MoveDirectory:
			from := resolvePath(c.dir, string(p[0]))
			to := resolvePath(c.dir, string(p[1]))
			err = protocol.WriteResponse(conn, ins, boolByte(os.Rename(from, to) == nil))

		case protocol.RunCommand:
			// Synchronous: the empty response goes out only after the
			// child has exited and both pipes have drained, so the
			// client knows the stream is complete.
			if tok := c.process.Execute(c.dir, string(p[0])); tok != -1 {
				c.process.Await(tok)
			}
			err = protocol.WriteResponse(conn, ins, nil)

		case protocol.OpenProcess:
			tok := c.process.Execute(c.dir, string(p[0]))
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, uint32(tok))
			err = protocol.WriteResponse(conn, ins, b)

		case protocol.CloseProcess:
			tok := int32(-1)
			if len(p[0]) >= 4 {
				tok = int32(binary.LittleEndian.Uint32(p[0]))
			}
			if tok != -1 {
				c.process.Close(tok)
			}
			err = protocol.WriteResponse(conn, ins, nil)

		case protocol.UploadFile:
			target := resolvePath(c.dir, string(p[0]))
			os.MkdirAll(filepath.Dir(target), 0o777)
			err = protocol.WriteResponse(conn, ins, boolByte(os.WriteFile(target, p[1], 0o666) == nil))

		case protocol.DownloadFile:
			data, rerr := os.ReadFile(resolvePath(c.dir, string(p[0])))
			if rerr != nil {
				err = protocol.WriteResponse(conn, ins, []byte{0})
			} else {
				err = protocol.WriteResponse(conn, ins, append([]byte{1}, data...))
			}

		default:
			verbose("command: unknown instruction %#x, session ends", int32(ins))
			return
		}

		if err != nil {
			verbose("command: send response: %v", err)
			return
		}
	}
}

func boolByte(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}
