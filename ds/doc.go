// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Decentralized Services (aka ds)
//
// This package provides an opinionated DNS-SD advertisement for the
// remote-command daemon, complementing the plain UDP probe responder.
// The TXT records carry the same RC_CMD/RC_STREAM port labels the
// probe reply uses, plus meta-data about the current configuration and
// state of the system (memory, load, cores) which a client can use to
// pick an appropriate endpoint.
package ds
