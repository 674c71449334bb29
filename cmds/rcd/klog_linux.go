// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/u-root/u-root/pkg/ulog"

	"github.com/bn3monkey/remote-command/ds"
	"github.com/bn3monkey/remote-command/server"
)

// setupKlog routes debug prints to the kernel log, which survives when
// rcd runs as an early boot service with no console.
func setupKlog() {
	ulog.KernelLog.Reinit()
	v = ulog.KernelLog.Printf
	server.SetVerbose(ulog.KernelLog.Printf)
	ds.Verbose(ulog.KernelLog.Printf)
}
