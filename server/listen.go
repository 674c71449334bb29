// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"errors"
	"math"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mdlayher/vsock"
)

const anyContextID = math.MaxUint32

// acceptPoll bounds how long an accept loop blocks before rechecking
// the running flag. There is no portable cancellable accept; a
// deadline-bounded accept plus a polled flag is.
const acceptPoll = 100 * time.Millisecond

// errStopped means an accept loop saw the running flag flip.
var errStopped = errors.New("server: stopped")

// Listen opens a listener for the command or stream port.
// Sadly, vsock is not in the standard Go net package.
// It should be but ...
func Listen(network, port string) (net.Listener, error) {
	var (
		ln  net.Listener
		err error
	)

	switch network {
	case "vsock":
		var p uint64
		p, err = strconv.ParseUint(port, 0, 32)
		if err != nil {
			return nil, err
		}
		ln, err = vsock.ListenContextID(anyContextID, uint32(p), nil)

	case "unix", "unixpacket":
		// net.JoinHostPort really ought to work for UDS, but it's very naive.
		// It does not take the network type as a parameter.
		ln, err = net.Listen(network, port)

	default:
		ln, err = net.Listen(network, net.JoinHostPort("", port))
	}
	return ln, err
}

// acceptWithDeadline accepts one connection, waking every acceptPoll to
// recheck running. It returns errStopped when running flips false and
// the listener's error when accept fails for a reason other than the
// deadline.
func acceptWithDeadline(ln net.Listener, running *atomic.Bool) (net.Conn, error) {
	d, hasDeadline := ln.(interface{ SetDeadline(time.Time) error })
	for running.Load() {
		if hasDeadline {
			if err := d.SetDeadline(time.Now().Add(acceptPoll)); err != nil {
				return nil, err
			}
		}
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return nil, err
		}
		if hasDeadline {
			d.SetDeadline(time.Time{})
		}
		return conn, nil
	}
	return nil, errStopped
}

func listenerPort(ln net.Listener) int {
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}
