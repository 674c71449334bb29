// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !windows
// +build !windows

package server

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func shellCommand(cmdline string) *exec.Cmd {
	cmd := exec.Command("/bin/sh", "-c", cmdline)
	// The child leads its own process group so terminate can signal
	// the negative pgid and take down grandchildren, e.g. shells that
	// fork again.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGTERM); err != nil {
		verbose("process: kill pgid %d: %v", cmd.Process.Pid, err)
		cmd.Process.Kill()
	}
}
