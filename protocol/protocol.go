// Copyright 2024 the remote-command Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic prefixes every frame on the command and stream channels.
var Magic = [4]byte{'R', 'M', 'T', '_'}

// Instruction identifies a request's operation.
type Instruction int32

const (
	Empty Instruction = 0x0000

	CurrentWorkingDirectory     Instruction = 0x10001000
	MoveCurrentWorkingDirectory Instruction = 0x10001001
	DirectoryExists             Instruction = 0x10001002
	ListDirectoryContents       Instruction = 0x10001003
	CreateDirectory             Instruction = 0x10001004
	RemoveDirectory             Instruction = 0x10001005
	CopyDirectory               Instruction = 0x10001006
	MoveDirectory               Instruction = 0x10001007

	RunCommand   Instruction = 0x10002000
	OpenProcess  Instruction = 0x10002001
	CloseProcess Instruction = 0x10002002

	UploadFile   Instruction = 0x10003000
	DownloadFile Instruction = 0x10003001
)

// Known reports whether ins is an instruction a server accepts.
func (ins Instruction) Known() bool {
	switch ins {
	case CurrentWorkingDirectory, MoveCurrentWorkingDirectory,
		DirectoryExists, ListDirectoryContents, CreateDirectory,
		RemoveDirectory, CopyDirectory, MoveDirectory,
		RunCommand, OpenProcess, CloseProcess,
		UploadFile, DownloadFile:
		return true
	}
	return false
}

// StreamType tags a stream chunk as stdout or stderr.
type StreamType int32

const (
	StreamOutput StreamType = 0x3000
	StreamError  StreamType = 0x4000
)

// ContentType classifies a directory listing entry.
type ContentType int32

const (
	ContentInvalid   ContentType = 0x0000
	ContentFile      ContentType = 0x1000
	ContentDirectory ContentType = 0x2000
)

const (
	// RequestHeaderSize is magic + instruction + four payload lengths.
	RequestHeaderSize = 24
	// ResponseHeaderSize is magic + instruction + payload length + reserved.
	ResponseHeaderSize = 16
	// StreamHeaderSize is magic + type + payload length + reserved.
	StreamHeaderSize = 16
	// NameSize is the fixed, NUL-padded name field of a listing record.
	NameSize = 128
	// ContentSize is one directory listing record: type + name.
	ContentSize = 4 + NameSize

	// MaxRequestPayloads is the number of length slots in a request header.
	MaxRequestPayloads = 4
)

// Port labels used by the discovery advertisement.
const (
	PortCommand = "RC_CMD"
	PortStream  = "RC_STREAM"
)

// ErrBadMagic means a frame did not start with "RMT_". The session
// carrying it is no longer trustworthy and must be closed.
var ErrBadMagic = errors.New("protocol: bad frame magic")

// DirContent is one entry of a directory listing.
type DirContent struct {
	Type ContentType
	Name string
}

func checkMagic(b []byte) error {
	if b[0] != Magic[0] || b[1] != Magic[1] || b[2] != Magic[2] || b[3] != Magic[3] {
		return ErrBadMagic
	}
	return nil
}

// WriteRequest sends one framed request: the 24-byte header followed by
// up to four payloads. A nil slot counts as a zero-length payload.
func WriteRequest(w io.Writer, ins Instruction, payloads ...[]byte) error {
	if len(payloads) > MaxRequestPayloads {
		return fmt.Errorf("protocol: %d payloads > %d", len(payloads), MaxRequestPayloads)
	}
	hdr := make([]byte, RequestHeaderSize)
	copy(hdr, Magic[:])
	binary.LittleEndian.PutUint32(hdr[4:], uint32(ins))
	for i, p := range payloads {
		binary.LittleEndian.PutUint32(hdr[8+4*i:], uint32(len(p)))
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	for _, p := range payloads {
		if len(p) == 0 {
			continue
		}
		if _, err := w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// ReadRequest reads one framed request and returns its instruction and
// the four payloads in header order (empty payloads are nil).
func ReadRequest(r io.Reader) (Instruction, [MaxRequestPayloads][]byte, error) {
	var payloads [MaxRequestPayloads][]byte
	hdr := make([]byte, RequestHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Empty, payloads, err
	}
	if err := checkMagic(hdr); err != nil {
		return Empty, payloads, err
	}
	ins := Instruction(binary.LittleEndian.Uint32(hdr[4:]))
	for i := range payloads {
		n := binary.LittleEndian.Uint32(hdr[8+4*i:])
		if n == 0 {
			continue
		}
		payloads[i] = make([]byte, n)
		if _, err := io.ReadFull(r, payloads[i]); err != nil {
			return Empty, payloads, err
		}
	}
	return ins, payloads, nil
}

// WriteResponse sends one framed response.
func WriteResponse(w io.Writer, ins Instruction, payload []byte) error {
	hdr := make([]byte, ResponseHeaderSize)
	copy(hdr, Magic[:])
	binary.LittleEndian.PutUint32(hdr[4:], uint32(ins))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadResponse reads one framed response.
func ReadResponse(r io.Reader) (Instruction, []byte, error) {
	hdr := make([]byte, ResponseHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Empty, nil, err
	}
	if err := checkMagic(hdr); err != nil {
		return Empty, nil, err
	}
	ins := Instruction(binary.LittleEndian.Uint32(hdr[4:]))
	n := binary.LittleEndian.Uint32(hdr[8:])
	if n == 0 {
		return ins, nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Empty, nil, err
	}
	return ins, payload, nil
}

// WriteStream sends one output chunk: header, then payload. The caller
// serializes concurrent writers; the two writes must reach the socket
// back to back.
func WriteStream(w io.Writer, typ StreamType, payload []byte) error {
	hdr := make([]byte, StreamHeaderSize)
	copy(hdr, Magic[:])
	binary.LittleEndian.PutUint32(hdr[4:], uint32(typ))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadStream reads one output chunk.
func ReadStream(r io.Reader) (StreamType, []byte, error) {
	hdr := make([]byte, StreamHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return 0, nil, err
	}
	if err := checkMagic(hdr); err != nil {
		return 0, nil, err
	}
	typ := StreamType(binary.LittleEndian.Uint32(hdr[4:]))
	if typ != StreamOutput && typ != StreamError {
		return 0, nil, fmt.Errorf("protocol: invalid stream type %#x", int32(typ))
	}
	n := binary.LittleEndian.Uint32(hdr[8:])
	if n == 0 {
		return typ, nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return typ, payload, nil
}

// MarshalDirContents encodes a listing as a uint32 count followed by
// fixed 132-byte records. Names longer than NameSize-1 bytes are
// truncated to fit the NUL-padded field.
func MarshalDirContents(contents []DirContent) []byte {
	b := make([]byte, 4+len(contents)*ContentSize)
	binary.LittleEndian.PutUint32(b, uint32(len(contents)))
	off := 4
	for _, c := range contents {
		binary.LittleEndian.PutUint32(b[off:], uint32(c.Type))
		name := c.Name
		if len(name) > NameSize-1 {
			name = name[:NameSize-1]
		}
		copy(b[off+4:off+4+NameSize], name)
		off += ContentSize
	}
	return b
}

// UnmarshalDirContents decodes a listing payload.
func UnmarshalDirContents(b []byte) ([]DirContent, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("protocol: listing payload %d bytes, need at least 4", len(b))
	}
	count := binary.LittleEndian.Uint32(b)
	if uint64(len(b)) != 4+uint64(count)*ContentSize {
		return nil, fmt.Errorf("protocol: listing payload %d bytes does not hold %d records", len(b), count)
	}
	contents := make([]DirContent, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		typ := ContentType(binary.LittleEndian.Uint32(b[off:]))
		name := b[off+4 : off+4+NameSize]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		contents = append(contents, DirContent{Type: typ, Name: string(name)})
		off += ContentSize
	}
	return contents, nil
}
