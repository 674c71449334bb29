// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/bn3monkey/remote-command/protocol"
)

// V allows debug printing.
var V = func(string, ...interface{}) {}

// DefaultTimeout bounds the discovery probe wait.
const DefaultTimeout = time.Second

// Client is a connected remote-command session.
type Client struct {
	// OnOutput and OnError receive child-process output chunks. Set
	// them before the first Run/OpenProcess; they are invoked from the
	// stream goroutine.
	OnOutput func([]byte)
	OnError  func([]byte)

	host    string
	cmd     net.Conn
	stream  net.Conn
	drained chan struct{}
}

// Dial connects to a server: command port first, then stream port.
func Dial(host string, commandPort, streamPort int) (*Client, error) {
	cmd, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(commandPort)))
	if err != nil {
		return nil, err
	}
	stream, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(streamPort)))
	if err != nil {
		cmd.Close()
		return nil, err
	}
	c := &Client{host: host, cmd: cmd, stream: stream, drained: make(chan struct{})}
	go c.drain()
	return c, nil
}

// Discover probes the discovery port and dials whatever answers first.
// The probe goes to the broadcast address and to localhost; the reply
// names the command and stream ports.
func Discover(discoveryPort int, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	pc, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	defer pc.Close()

	probe := protocol.DiscoveryProbe()
	for _, ip := range []net.IP{net.IPv4bcast, net.IPv4(127, 0, 0, 1)} {
		if _, err := pc.WriteTo(probe, &net.UDPAddr{IP: ip, Port: discoveryPort}); err != nil {
			V("discover: probe %v: %v", ip, err)
		}
	}

	pc.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 512)
	n, addr, err := pc.ReadFrom(buf)
	if err != nil {
		return nil, fmt.Errorf("discover: no server answered on port %d: %w", discoveryPort, err)
	}
	ports, err := protocol.ParseAdvertisement(buf[:n])
	if err != nil {
		return nil, err
	}
	commandPort, ok := ports[protocol.PortCommand]
	if !ok {
		return nil, fmt.Errorf("discover: advertisement from %v lacks %s", addr, protocol.PortCommand)
	}
	streamPort, ok := ports[protocol.PortStream]
	if !ok {
		return nil, fmt.Errorf("discover: advertisement from %v lacks %s", addr, protocol.PortStream)
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, err
	}
	V("discover: server %v, command %d, stream %d", host, commandPort, streamPort)
	return Dial(host, commandPort, streamPort)
}

// Host returns the server address the client connected to.
func (c *Client) Host() string {
	return c.host
}

// Close tears the session down. The server notices the command socket
// closing and ends the session on its side.
func (c *Client) Close() error {
	var errs *multierror.Error
	errs = multierror.Append(errs, c.cmd.Close())
	errs = multierror.Append(errs, c.stream.Close())
	<-c.drained
	return errs.ErrorOrNil()
}

// drain forwards stream chunks to the callbacks until the stream
// socket closes.
func (c *Client) drain() {
	defer close(c.drained)
	for {
		typ, payload, err := protocol.ReadStream(c.stream)
		if err != nil {
			V("stream: %v", err)
			return
		}
		switch typ {
		case protocol.StreamOutput:
			if c.OnOutput != nil {
				c.OnOutput(payload)
			}
		case protocol.StreamError:
			if c.OnError != nil {
				c.OnError(payload)
			}
		}
	}
}

// request performs one request/response exchange.
func (c *Client) request(ins protocol.Instruction, payloads ...[]byte) ([]byte, error) {
	if err := protocol.WriteRequest(c.cmd, ins, payloads...); err != nil {
		return nil, err
	}
	got, payload, err := protocol.ReadResponse(c.cmd)
	if err != nil {
		return nil, err
	}
	if got != ins {
		return nil, fmt.Errorf("client: response instruction %#x != request %#x", int32(got), int32(ins))
	}
	return payload, nil
}

func (c *Client) requestBool(ins protocol.Instruction, payloads ...[]byte) (bool, error) {
	payload, err := c.request(ins, payloads...)
	if err != nil {
		return false, err
	}
	return len(payload) == 1 && payload[0] != 0, nil
}

// Cwd returns the session working directory.
func (c *Client) Cwd() (string, error) {
	payload, err := c.request(protocol.CurrentWorkingDirectory)
	return string(payload), err
}

// MoveCwd changes the session working directory. False means the
// target does not exist or is not a directory; the cwd is unchanged.
func (c *Client) MoveCwd(path string) (bool, error) {
	return c.requestBool(protocol.MoveCurrentWorkingDirectory, []byte(path))
}

// DirExists reports whether path exists and is a directory.
func (c *Client) DirExists(path string) (bool, error) {
	return c.requestBool(protocol.DirectoryExists, []byte(path))
}

// List returns the entries of path; "" lists the working directory.
func (c *Client) List(path string) ([]protocol.DirContent, error) {
	payload, err := c.request(protocol.ListDirectoryContents, []byte(path))
	if err != nil {
		return nil, err
	}
	return protocol.UnmarshalDirContents(payload)
}

// Mkdir creates a directory (and parents). False when it already
// existed: creation is not idempotent on this protocol.
func (c *Client) Mkdir(path string) (bool, error) {
	return c.requestBool(protocol.CreateDirectory, []byte(path))
}

// RemoveDir removes path recursively. False when nothing inside it was
// removed, which includes the already-empty directory.
func (c *Client) RemoveDir(path string) (bool, error) {
	return c.requestBool(protocol.RemoveDirectory, []byte(path))
}

// CopyDir copies from onto to, recursively.
func (c *Client) CopyDir(from, to string) (bool, error) {
	return c.requestBool(protocol.CopyDirectory, []byte(from), []byte(to))
}

// MoveDir renames from to to.
func (c *Client) MoveDir(from, to string) (bool, error) {
	return c.requestBool(protocol.MoveDirectory, []byte(from), []byte(to))
}

// Run executes cmdline on the server and returns once the child has
// exited and the server has written its output to the stream channel.
// Output arrives through OnOutput/OnError; it travels on the separate
// stream connection, so its tail can reach the callbacks after Run
// returns.
func (c *Client) Run(cmdline string) error {
	_, err := c.request(protocol.RunCommand, []byte(cmdline))
	return err
}

// OpenProcess spawns cmdline without waiting. It returns the process
// token, -1 if the server refused (spawn failure or a process is
// already live).
func (c *Client) OpenProcess(cmdline string) (int32, error) {
	payload, err := c.request(protocol.OpenProcess, []byte(cmdline))
	if err != nil {
		return -1, err
	}
	if len(payload) != 4 {
		return -1, fmt.Errorf("client: open process payload %d bytes != 4", len(payload))
	}
	return int32(binary.LittleEndian.Uint32(payload)), nil
}

// CloseProcess terminates the process identified by token. Passing -1,
// or a token whose process is already gone, is a no-op on the server.
func (c *Client) CloseProcess(token int32) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(token))
	_, err := c.request(protocol.CloseProcess, b)
	return err
}

// Upload writes data to the remote path, creating parent directories.
// data may be empty.
func (c *Client) Upload(remote string, data []byte) (bool, error) {
	return c.requestBool(protocol.UploadFile, []byte(remote), data)
}

// Download reads the remote file. ok is false when the server could
// not open it; the protocol carries no reason.
func (c *Client) Download(remote string) (data []byte, ok bool, err error) {
	payload, err := c.request(protocol.DownloadFile, []byte(remote))
	if err != nil {
		return nil, false, err
	}
	if len(payload) < 1 {
		return nil, false, fmt.Errorf("client: download payload empty")
	}
	if payload[0] == 0 {
		return nil, false, nil
	}
	return payload[1:], true, nil
}
