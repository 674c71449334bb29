// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server implements the remote-command daemon core: a command
// channel serving framed filesystem and process requests, a stream
// channel carrying child-process output back to the client, a process
// supervisor owning at most one child at a time, and a UDP discovery
// responder advertising the two TCP ports.
//
// The server deliberately serves one client at a time. The working
// directory, the child-process slot, and the stream sink are process
// singletons; when a client disconnects the accept loops simply wait
// for the next one. There is no authentication and no encryption: the
// intended deployment is a trusted local network, the same assumption
// cpu-style remote execution daemons make.
//
// The basic flow is New followed by Close. New binds the listeners,
// resolves the initial working directory and starts the accept and
// discovery loops; Close flips the running flag of each component in
// turn (every loop has its own; no single flag is shared), wakes every
// blocked read, joins the loops and tears down any leftover child
// process. Accept loops block at most 100 ms at a time so a flipped
// flag is noticed promptly on every platform.
package server
