// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package client is the mirror image of the remote-command protocol:
// it dials the command and stream ports (in that order, as the server
// expects), issues exactly one request at a time and reads exactly one
// response, and drains the stream channel on a background goroutine
// into the OnOutput/OnError callbacks.
//
// Clients are not safe for concurrent use; the protocol itself is
// strictly sequential per session.
package client
