// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"errors"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bn3monkey/remote-command/protocol"
)

// Discovery answers UDP probes with the advertisement naming the
// command and stream ports, so a client on the same network can find
// the server without knowing its address.
type Discovery struct {
	pc      net.PacketConn
	reply   []byte
	running atomic.Bool
	done    chan struct{}
}

func newDiscovery() *Discovery {
	return &Discovery{}
}

// Open binds the discovery port and starts answering probes.
func (d *Discovery) Open(port, commandPort, streamPort int) error {
	pc, err := net.ListenPacket("udp4", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	d.pc = pc
	d.reply = protocol.EncodeAdvertisement(commandPort, streamPort)
	d.done = make(chan struct{})
	d.running.Store(true)
	go d.loop()
	return nil
}

// Port returns the bound discovery port.
func (d *Discovery) Port() int {
	if a, ok := d.pc.LocalAddr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

// Close stops the responder and closes the socket.
func (d *Discovery) Close() error {
	if !d.running.Swap(false) {
		return nil
	}
	<-d.done
	return d.pc.Close()
}

func (d *Discovery) loop() {
	defer close(d.done)
	buf := make([]byte, 512)
	for d.running.Load() {
		d.pc.SetReadDeadline(time.Now().Add(acceptPoll))
		n, addr, err := d.pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			verbose("discovery: read: %v", err)
			return
		}
		if !protocol.IsDiscoveryProbe(buf[:n]) {
			continue
		}
		verbose("discovery: probe from %v", addr)
		if _, err := d.pc.WriteTo(d.reply, addr); err != nil {
			verbose("discovery: reply to %v: %v", addr, err)
		}
	}
}
