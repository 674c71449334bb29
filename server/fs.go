// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"io"
	"os"
	"path/filepath"

	"github.com/bn3monkey/remote-command/protocol"
)

// resolvePath joins a request-supplied path onto the session working
// directory. Absolute paths pass through. There is no sandboxing: the
// protocol does not restrict traversal above the working directory.
func resolvePath(cwd, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(cwd, p)
}

// initialDir resolves the daemon's starting working directory: the
// given path, canonicalized, falling back to the literal when
// canonicalization fails; the process working directory when empty.
func initialDir(dir string) string {
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		} else {
			dir = "."
		}
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	return dir
}

// isDir reports whether path exists and is a directory.
func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// listDir returns a best-effort listing: iteration errors yield an
// empty result, entries that are neither regular files nor directories
// are skipped.
func listDir(path string) []protocol.DirContent {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	contents := make([]protocol.DirContent, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.IsDir():
			contents = append(contents, protocol.DirContent{Type: protocol.ContentDirectory, Name: e.Name()})
		case e.Type().IsRegular():
			contents = append(contents, protocol.DirContent{Type: protocol.ContentFile, Name: e.Name()})
		}
	}
	return contents
}

// createNewDirectory creates path (and parents) and reports whether a
// new directory came into being. Creating an already-existing
// directory reports false; clients cannot rely on idempotent success.
func createNewDirectory(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return false
	}
	return os.MkdirAll(path, 0o777) == nil
}

// removeSubtree removes path recursively and reports whether at least
// one entry inside it was removed: true for a file or a non-empty
// directory, false for an empty directory or a missing path.
func removeSubtree(path string) bool {
	fi, err := os.Lstat(path)
	if err != nil {
		return false
	}
	removed := true
	if fi.IsDir() {
		entries, err := os.ReadDir(path)
		removed = err == nil && len(entries) > 0
	}
	if err := os.RemoveAll(path); err != nil {
		return false
	}
	return removed
}

// copyTree copies src to dst recursively, overwriting files that
// already exist under dst.
func copyTree(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return copyFile(src, dst, fi.Mode().Perm())
	}
	if err := os.MkdirAll(dst, fi.Mode().Perm()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
