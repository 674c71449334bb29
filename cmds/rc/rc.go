// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// rc is a small remote-command client. It locates a server (an
// explicit -h host, or a UDP discovery probe when none is given) and
// runs one operation per invocation.
//
// Usage:
//
//	rc [flags] cwd
//	rc [flags] ls [path]
//	rc [flags] exists <path>
//	rc [flags] mkdir <path>
//	rc [flags] rmdir <path>
//	rc [flags] cpdir <from> <to>
//	rc [flags] mvdir <from> <to>
//	rc [flags] upload <local> <remote>
//	rc [flags] download <remote> <local>
//	rc [flags] run <command...>
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/bn3monkey/remote-command/client"
	"github.com/bn3monkey/remote-command/protocol"
)

var (
	host          = flag.String("h", "", "server host; empty means discover via UDP probe")
	discoveryPort = flag.Int("dp", 9000, "discovery port")
	commandPort   = flag.Int("cp", 9001, "command port")
	streamPort    = flag.Int("sp", 9002, "stream port")
	timeout       = flag.Duration("timeout", time.Second, "discovery timeout")
	debug         = flag.Bool("d", false, "enable debug prints")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: rc [flags] <cwd|ls|exists|mkdir|rmdir|cpdir|mvdir|upload|download|run> [args...]\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func dial() *client.Client {
	var (
		c   *client.Client
		err error
	)
	if *host == "" {
		c, err = client.Discover(*discoveryPort, *timeout)
	} else {
		c, err = client.Dial(*host, *commandPort, *streamPort)
	}
	if err != nil {
		log.Fatalf("rc: %v", err)
	}
	return c
}

func main() {
	flag.Parse()
	if *debug {
		client.V = log.Printf
	}
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	c := dial()
	defer c.Close()
	c.OnOutput = func(b []byte) { os.Stdout.Write(b) }
	c.OnError = func(b []byte) { os.Stderr.Write(b) }

	op, args := args[0], args[1:]
	var (
		ok  bool
		err error
	)
	switch op {
	case "cwd":
		var dir string
		if dir, err = c.Cwd(); err == nil {
			fmt.Println(dir)
		}
		ok = err == nil

	case "ls":
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		var contents []protocol.DirContent
		if contents, err = c.List(path); err == nil {
			for _, e := range contents {
				if e.Type == protocol.ContentDirectory {
					fmt.Printf("%s/\n", e.Name)
				} else {
					fmt.Println(e.Name)
				}
			}
		}
		ok = err == nil

	case "exists":
		if len(args) != 1 {
			usage()
		}
		ok, err = c.DirExists(args[0])

	case "mkdir":
		if len(args) != 1 {
			usage()
		}
		ok, err = c.Mkdir(args[0])

	case "rmdir":
		if len(args) != 1 {
			usage()
		}
		ok, err = c.RemoveDir(args[0])

	case "cpdir":
		if len(args) != 2 {
			usage()
		}
		ok, err = c.CopyDir(args[0], args[1])

	case "mvdir":
		if len(args) != 2 {
			usage()
		}
		ok, err = c.MoveDir(args[0], args[1])

	case "upload":
		if len(args) != 2 {
			usage()
		}
		var data []byte
		if data, err = os.ReadFile(args[0]); err == nil {
			ok, err = c.Upload(args[1], data)
		}

	case "download":
		if len(args) != 2 {
			usage()
		}
		var data []byte
		if data, ok, err = c.Download(args[0]); err == nil && ok {
			err = os.WriteFile(args[1], data, 0o666)
			ok = err == nil
		}

	case "run":
		if len(args) == 0 {
			usage()
		}
		err = c.Run(strings.Join(args, " "))
		ok = err == nil
		// The response and the stream ride different connections; give
		// the tail of the output a moment to arrive before closing.
		time.Sleep(300 * time.Millisecond)

	default:
		usage()
	}

	if err != nil {
		log.Fatalf("rc: %s: %v", op, err)
	}
	if !ok {
		log.Fatalf("rc: %s failed", op)
	}
}
