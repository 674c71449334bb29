// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux
// +build !linux

package main

// setupKlog is a no-op where there is no kernel log.
func setupKlog() {}
