// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build windows
// +build windows

package server

import "os/exec"

func shellCommand(cmdline string) *exec.Cmd {
	return exec.Command("cmd", "/c", cmdline)
}

func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// TerminateProcess under the covers. The runtime's pipe handling
	// makes the classic CloseHandle/ReadFile deadlock a non-issue: the
	// readers see EOF once the child's write ends close.
	if err := cmd.Process.Kill(); err != nil {
		verbose("process: kill pid %d: %v", cmd.Process.Pid, err)
	}
}
