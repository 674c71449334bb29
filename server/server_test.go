// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bn3monkey/remote-command/client"
	"github.com/bn3monkey/remote-command/protocol"
)

// newTestServer starts a server on ephemeral ports in a fresh
// directory and connects a client to it.
func newTestServer(t *testing.T) (*client.Client, string) {
	t.Helper()
	SetVerbose(t.Logf)
	t.Cleanup(func() { SetVerbose(func(string, ...interface{}) {}) })

	dir := t.TempDir()
	s, err := New("tcp", "0", "0", "0", dir)
	if err != nil {
		t.Fatalf(`New("tcp", "0", "0", "0", %q): %v != nil`, dir, err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v != nil", err)
		}
	})

	c, err := client.Dial("127.0.0.1", s.CommandPort(), s.StreamPort())
	if err != nil {
		t.Fatalf(`Dial: %v != nil`, err)
	}
	t.Cleanup(func() { c.Close() })

	// Give the accept loops a moment to install the stream sink before
	// the test runs anything that produces output.
	time.Sleep(200 * time.Millisecond)
	return c, initialDir(dir)
}

func dialTest(t *testing.T, s *Server) *client.Client {
	t.Helper()
	c, err := client.Dial("127.0.0.1", s.CommandPort(), s.StreamPort())
	if err != nil {
		t.Fatalf(`Dial: %v != nil`, err)
	}
	return c
}

// waitFor polls cond for up to three seconds. Stream chunks travel a
// different TCP connection than responses, so output can trail the
// response that announced its completion.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCwd(t *testing.T) {
	c, dir := newTestServer(t)
	got, err := c.Cwd()
	if err != nil {
		t.Fatalf(`Cwd: %v != nil`, err)
	}
	if got != dir {
		t.Errorf("cwd: %q != %q", got, dir)
	}
}

func TestMoveCwd(t *testing.T) {
	c, dir := newTestServer(t)
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o777); err != nil {
		t.Fatalf(`Mkdir: %v != nil`, err)
	}

	ok, err := c.MoveCwd("subdir")
	if err != nil {
		t.Fatalf(`MoveCwd("subdir"): %v != nil`, err)
	}
	if !ok {
		t.Fatal(`MoveCwd("subdir"): false != true`)
	}
	got, err := c.Cwd()
	if err != nil {
		t.Fatalf(`Cwd: %v != nil`, err)
	}
	if got != filepath.Join(dir, "subdir") {
		t.Errorf("cwd after move: %q != %q", got, filepath.Join(dir, "subdir"))
	}

	// A failed move leaves the cwd unchanged.
	ok, err = c.MoveCwd("nonexistent")
	if err != nil {
		t.Fatalf(`MoveCwd("nonexistent"): %v != nil`, err)
	}
	if ok {
		t.Error(`MoveCwd("nonexistent"): true != false`)
	}
	got, _ = c.Cwd()
	if got != filepath.Join(dir, "subdir") {
		t.Errorf("cwd after failed move: %q != %q", got, filepath.Join(dir, "subdir"))
	}
}

func TestDirExists(t *testing.T) {
	c, dir := newTestServer(t)
	os.Mkdir(filepath.Join(dir, "here"), 0o777)
	os.WriteFile(filepath.Join(dir, "file"), []byte("x"), 0o666)

	for _, tc := range []struct {
		path string
		want bool
	}{
		{"here", true},
		{"missing", false},
		{"file", false}, // a file is not a directory
		{dir, true},     // absolute paths pass through
	} {
		got, err := c.DirExists(tc.path)
		if err != nil {
			t.Fatalf(`DirExists(%q): %v != nil`, tc.path, err)
		}
		if got != tc.want {
			t.Errorf("DirExists(%q): %v != %v", tc.path, got, tc.want)
		}
	}
}

func TestList(t *testing.T) {
	c, dir := newTestServer(t)
	ok, err := c.Upload("f.bin", []byte{1, 2, 3})
	if err != nil || !ok {
		t.Fatalf(`Upload("f.bin"): %v, %v != true, nil`, ok, err)
	}
	os.Mkdir(filepath.Join(dir, "sub"), 0o777)

	contents, err := c.List(".")
	if err != nil {
		t.Fatalf(`List("."): %v != nil`, err)
	}
	got := map[string]protocol.ContentType{}
	for _, e := range contents {
		got[e.Name] = e.Type
	}
	if got["f.bin"] != protocol.ContentFile {
		t.Errorf("f.bin: %#x != ContentFile", int32(got["f.bin"]))
	}
	if got["sub"] != protocol.ContentDirectory {
		t.Errorf("sub: %#x != ContentDirectory", int32(got["sub"]))
	}

	// The empty path lists the working directory.
	viaEmpty, err := c.List("")
	if err != nil {
		t.Fatalf(`List(""): %v != nil`, err)
	}
	if len(viaEmpty) != len(contents) {
		t.Errorf(`List(""): %d entries != List("."): %d`, len(viaEmpty), len(contents))
	}
}

func TestCreateRemoveDirectory(t *testing.T) {
	c, _ := newTestServer(t)

	ok, err := c.Mkdir("a/b")
	if err != nil || !ok {
		t.Fatalf(`Mkdir("a/b"): %v, %v != true, nil`, ok, err)
	}
	// Creation is not idempotent: an existing directory reports false.
	ok, err = c.Mkdir("a/b")
	if err != nil {
		t.Fatalf(`Mkdir("a/b") again: %v != nil`, err)
	}
	if ok {
		t.Error(`Mkdir("a/b") again: true != false`)
	}

	// Removing a non-empty directory succeeds and takes the subtree.
	ok, err = c.RemoveDir("a")
	if err != nil || !ok {
		t.Fatalf(`RemoveDir("a"): %v, %v != true, nil`, ok, err)
	}
	exists, _ := c.DirExists("a")
	if exists {
		t.Error(`DirExists("a") after remove: true != false`)
	}

	// Removing an empty directory reports false (nothing inside it).
	if ok, _ = c.Mkdir("empty"); !ok {
		t.Fatal(`Mkdir("empty"): false != true`)
	}
	ok, err = c.RemoveDir("empty")
	if err != nil {
		t.Fatalf(`RemoveDir("empty"): %v != nil`, err)
	}
	if ok {
		t.Error(`RemoveDir("empty"): true != false`)
	}

	ok, _ = c.RemoveDir("missing")
	if ok {
		t.Error(`RemoveDir("missing"): true != false`)
	}
}

func TestCopyMoveDirectory(t *testing.T) {
	c, dir := newTestServer(t)
	os.Mkdir(filepath.Join(dir, "src"), 0o777)
	os.WriteFile(filepath.Join(dir, "src", "data.txt"), []byte("payload"), 0o666)

	ok, err := c.CopyDir("src", "dst")
	if err != nil || !ok {
		t.Fatalf(`CopyDir("src", "dst"): %v, %v != true, nil`, ok, err)
	}
	for _, f := range []string{"src/data.txt", "dst/data.txt"} {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(f))); err != nil {
			t.Errorf("%s after copy: %v != nil", f, err)
		}
	}

	ok, err = c.MoveDir("src", "moved")
	if err != nil || !ok {
		t.Fatalf(`MoveDir("src", "moved"): %v, %v != true, nil`, ok, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "src")); err == nil {
		t.Error("src still exists after move")
	}
	if _, err := os.Stat(filepath.Join(dir, "moved", "data.txt")); err != nil {
		t.Errorf("moved/data.txt: %v != nil", err)
	}

	ok, _ = c.CopyDir("missing", "x")
	if ok {
		t.Error(`CopyDir("missing", "x"): true != false`)
	}
}

func TestUploadDownload(t *testing.T) {
	c, dir := newTestServer(t)

	for _, tc := range []struct {
		name string
		data []byte
	}{
		{"bytes.bin", []byte{0, 1, 2, 0xff, 0}},
		{"empty.bin", nil},
		{"nested/deep/file.bin", []byte("nested")},
	} {
		ok, err := c.Upload(tc.name, tc.data)
		if err != nil || !ok {
			t.Fatalf(`Upload(%q): %v, %v != true, nil`, tc.name, ok, err)
		}
		got, ok, err := c.Download(tc.name)
		if err != nil || !ok {
			t.Fatalf(`Download(%q): %v, %v != true, nil`, tc.name, ok, err)
		}
		if !bytes.Equal(got, tc.data) {
			t.Errorf("round trip %q: %v != %v", tc.name, got, tc.data)
		}
	}

	// Upload creates parent directories on the way.
	if _, err := os.Stat(filepath.Join(dir, "nested", "deep")); err != nil {
		t.Errorf("nested parents: %v != nil", err)
	}

	// A missing file downloads as a failure status, not a protocol error.
	_, ok, err := c.Download("missing.bin")
	if err != nil {
		t.Fatalf(`Download("missing.bin"): %v != nil`, err)
	}
	if ok {
		t.Error(`Download("missing.bin"): true != false`)
	}
}

func TestSequentialRequests(t *testing.T) {
	c, _ := newTestServer(t)
	// One request, one response, strictly in order: any framing slip
	// would desynchronize the channel and fail fast here.
	for i := 0; i < 50; i++ {
		name := fmt.Sprintf("f%02d", i)
		if ok, err := c.Upload(name, []byte(name)); err != nil || !ok {
			t.Fatalf("Upload %s: %v, %v != true, nil", name, ok, err)
		}
		data, ok, err := c.Download(name)
		if err != nil || !ok || string(data) != name {
			t.Fatalf("Download %s: %q, %v, %v != %q, true, nil", name, data, ok, err, name)
		}
	}
	contents, err := c.List(".")
	if err != nil {
		t.Fatalf(`List: %v != nil`, err)
	}
	if len(contents) != 50 {
		t.Errorf("listing: %d entries != 50", len(contents))
	}
}

func TestReconnect(t *testing.T) {
	SetVerbose(t.Logf)
	t.Cleanup(func() { SetVerbose(func(string, ...interface{}) {}) })

	dir := t.TempDir()
	s, err := New("tcp", "0", "0", "0", dir)
	if err != nil {
		t.Fatalf(`New: %v != nil`, err)
	}
	defer s.Close()

	c1, err := client.Dial("127.0.0.1", s.CommandPort(), s.StreamPort())
	if err != nil {
		t.Fatalf(`Dial: %v != nil`, err)
	}
	if _, err := c1.Cwd(); err != nil {
		t.Fatalf(`Cwd over first session: %v != nil`, err)
	}
	c1.Close()

	// The acceptor loops back for the next client.
	c2, err := client.Dial("127.0.0.1", s.CommandPort(), s.StreamPort())
	if err != nil {
		t.Fatalf(`Dial again: %v != nil`, err)
	}
	defer c2.Close()

	var got string
	waitFor(t, "second session to be served", func() bool {
		got, err = c2.Cwd()
		return err == nil
	})
	if !strings.HasSuffix(got, filepath.Base(dir)) {
		t.Errorf("cwd over second session: %q does not end in %q", got, filepath.Base(dir))
	}
}

func TestServerClose(t *testing.T) {
	dir := t.TempDir()
	s, err := New("tcp", "0", "0", "0", dir)
	if err != nil {
		t.Fatalf(`New: %v != nil`, err)
	}
	c, err := client.Dial("127.0.0.1", s.CommandPort(), s.StreamPort())
	if err != nil {
		t.Fatalf(`Dial: %v != nil`, err)
	}
	defer c.Close()

	commandPort := s.CommandPort()

	// Close must wake the blocked dispatcher and return promptly.
	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v != nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return within 3s")
	}

	// Everything is torn down: the port no longer accepts.
	if c2, err := client.Dial("127.0.0.1", commandPort, commandPort); err == nil {
		c2.Close()
		t.Fatal("Dial after Close: nil != error")
	}
}

func TestBadMagicEndsSession(t *testing.T) {
	SetVerbose(t.Logf)
	t.Cleanup(func() { SetVerbose(func(string, ...interface{}) {}) })

	dir := t.TempDir()
	s, err := New("tcp", "0", "0", "0", dir)
	if err != nil {
		t.Fatalf(`New: %v != nil`, err)
	}
	defer s.Close()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.CommandPort()))
	if err != nil {
		t.Fatalf(`Dial: %v != nil`, err)
	}
	defer conn.Close()

	// A frame without the magic terminates the session: no response,
	// just EOF.
	garbage := make([]byte, protocol.RequestHeaderSize)
	copy(garbage, "NOPE")
	if _, err := conn.Write(garbage); err != nil {
		t.Fatalf(`Write: %v != nil`, err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if n, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("Read after bad magic: %d bytes != EOF", n)
	}

	// The server survives and accepts the next session.
	c, err := client.Dial("127.0.0.1", s.CommandPort(), s.StreamPort())
	if err != nil {
		t.Fatalf(`Dial after bad session: %v != nil`, err)
	}
	defer c.Close()
	waitFor(t, "next session to be served", func() bool {
		_, err := c.Cwd()
		return err == nil
	})
}

func TestUnknownInstructionEndsSession(t *testing.T) {
	dir := t.TempDir()
	s, err := New("tcp", "0", "0", "0", dir)
	if err != nil {
		t.Fatalf(`New: %v != nil`, err)
	}
	defer s.Close()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.CommandPort()))
	if err != nil {
		t.Fatalf(`Dial: %v != nil`, err)
	}
	defer conn.Close()

	if err := protocol.WriteRequest(conn, protocol.Instruction(0x7fffffff)); err != nil {
		t.Fatalf(`WriteRequest: %v != nil`, err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if n, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("Read after unknown instruction: %d bytes != EOF", n)
	}
}
