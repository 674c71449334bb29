// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package protocol implements the RMT_ wire format shared by the
// remote-command server and client.
//
// Three fixed-size little-endian headers travel on the wire, each
// prefixed with the 4-byte magic "RMT_": a 24-byte request header
// carrying an instruction and four payload lengths, a 16-byte response
// header carrying one payload length, and a 16-byte stream header
// tagging a chunk of child-process output as stdout or stderr.
// Payloads follow their header immediately.
//
// Strings are not NUL-terminated on the wire; their length is in the
// header. The one exception is the directory listing record, a fixed
// 132-byte struct whose 128-byte name field is NUL-padded.
//
// A receiver that sees a bad magic, or an instruction it does not know
// for its role, must close the session.
//
// The package also defines the UDP discovery datagrams: a probe and a
// reply listing the advertised ports as name=port pairs.
package protocol
