// Copyright 2020 The go-mcproto Authors
// This file is part of the go-mcproto library.
//
// The go-mcproto library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-mcproto library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-mcproto library. If not, see <http://www.gnu.org/licenses/>.

package bridge

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/Twister915/go-mcproto/cfb8"
	"github.com/Twister915/go-mcproto/protocol"
)

func unhex(str string) []byte {
	b, err := hex.DecodeString(strings.Replace(str, " ", "", -1))
	if err != nil {
		panic(fmt.Sprintf("invalid hex string: %q", str))
	}
	return b
}

// testPacket carries a pre-built body through the typed WritePacket path.
type testPacket struct {
	id   protocol.Id
	body []byte
}

func (p testPacket) ID() protocol.Id { return p.id }

func (p testPacket) EncodeBody(w io.Writer) error {
	_, err := w.Write(p.body)
	return err
}

func playID(id int32) protocol.Id {
	return protocol.Id{State: protocol.Play, Direction: protocol.ServerBound, ID: id}
}

func newTestWriter() (*Writer, *bytes.Buffer) {
	var buf bytes.Buffer
	w := NewWriter(protocol.ServerBound, &buf)
	w.SetState(protocol.Play)
	return w, &buf
}

func TestWritePlainFrame(t *testing.T) {
	w, buf := newTestWriter()
	err := w.WriteRawPacket(protocol.RawPacket{ID: playID(0x2a), Body: unhex("010203")})
	if err != nil {
		t.Fatalf("WriteRawPacket error: %v", err)
	}
	if want := unhex("042a010203"); !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("output mismatch:\n  got:  %x\n  want: %x", buf.Bytes(), want)
	}
}

func TestWritePacketMatchesRaw(t *testing.T) {
	raw, rawBuf := newTestWriter()
	typed, typedBuf := newTestWriter()

	body := unhex("deadbeef00112233")
	if err := raw.WriteRawPacket(protocol.RawPacket{ID: playID(0x11), Body: body}); err != nil {
		t.Fatalf("WriteRawPacket error: %v", err)
	}
	if err := typed.WritePacket(testPacket{id: playID(0x11), body: body}); err != nil {
		t.Fatalf("WritePacket error: %v", err)
	}
	if !bytes.Equal(rawBuf.Bytes(), typedBuf.Bytes()) {
		t.Fatalf("typed/raw mismatch:\n  raw:   %x\n  typed: %x", rawBuf.Bytes(), typedBuf.Bytes())
	}
}

func TestWriteBelowThreshold(t *testing.T) {
	w, buf := newTestWriter()
	w.SetCompressionThreshold(256)
	err := w.WriteRawPacket(protocol.RawPacket{ID: playID(0x00), Body: unhex("aabb")})
	if err != nil {
		t.Fatalf("WriteRawPacket error: %v", err)
	}
	if want := unhex("040000aabb"); !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("output mismatch:\n  got:  %x\n  want: %x", buf.Bytes(), want)
	}
}

func TestWriteAboveThreshold(t *testing.T) {
	w, buf := newTestWriter()
	w.SetCompressionThreshold(4)
	err := w.WriteRawPacket(protocol.RawPacket{ID: playID(0x00), Body: unhex("00000000")})
	if err != nil {
		t.Fatalf("WriteRawPacket error: %v", err)
	}

	out := buf.Bytes()
	frameLen, n, err := protocol.Varint(out)
	if err != nil {
		t.Fatalf("bad frame length: %v", err)
	}
	frame := out[n:]
	if int(frameLen) != len(frame) {
		t.Fatalf("frame length %d does not cover remaining %d bytes", frameLen, len(frame))
	}
	dataLen, n, err := protocol.Varint(frame)
	if err != nil {
		t.Fatalf("bad data length: %v", err)
	}
	if dataLen != 5 {
		t.Fatalf("data length: got %d, want 5", dataLen)
	}

	zr, err := zlib.NewReader(bytes.NewReader(frame[n:]))
	if err != nil {
		t.Fatalf("payload is not a zlib stream: %v", err)
	}
	inflated, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("inflate error: %v", err)
	}
	if want := unhex("0000000000"); !bytes.Equal(inflated, want) {
		t.Fatalf("inflated payload mismatch:\n  got:  %x\n  want: %x", inflated, want)
	}
}

func TestWriteVarintBoundary(t *testing.T) {
	// A frame of exactly 300 bytes gets the two-byte length prefix ac 02.
	w, buf := newTestWriter()
	body := make([]byte, 299)
	for i := range body {
		body[i] = byte(i)
	}
	if err := w.WriteRawPacket(protocol.RawPacket{ID: playID(0x00), Body: body}); err != nil {
		t.Fatalf("WriteRawPacket error: %v", err)
	}
	out := buf.Bytes()
	if len(out) != 302 {
		t.Fatalf("emitted %d bytes, want 302", len(out))
	}
	if !bytes.Equal(out[:2], unhex("ac02")) {
		t.Fatalf("length prefix: got %x, want ac02", out[:2])
	}
}

func TestWriteEncrypted(t *testing.T) {
	key := unhex("00000000000000000000000000000000")
	w, buf := newTestWriter()
	if err := w.EnableEncryption(key, key); err != nil {
		t.Fatalf("EnableEncryption error: %v", err)
	}
	if err := w.WriteRawPacket(protocol.RawPacket{ID: playID(0x2a), Body: unhex("010203")}); err != nil {
		t.Fatalf("WriteRawPacket error: %v", err)
	}

	// Cross-check against the cipher applied to the known plaintext frame.
	ref, err := cfb8.NewCipher(key, key)
	if err != nil {
		t.Fatal(err)
	}
	want := unhex("042a010203")
	ref.Encrypt(want)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("ciphertext mismatch:\n  got:  %x\n  want: %x", buf.Bytes(), want)
	}
}

func TestWriteGuards(t *testing.T) {
	w, buf := newTestWriter()

	err := w.WriteRawPacket(protocol.RawPacket{
		ID:   protocol.Id{State: protocol.Play, Direction: protocol.ClientBound, ID: 0x01},
		Body: unhex("ff"),
	})
	if !errors.Is(err, ErrDirectionMismatch) {
		t.Fatalf("direction guard: got %v, want ErrDirectionMismatch", err)
	}

	err = w.WritePacket(testPacket{
		id:   protocol.Id{State: protocol.Login, Direction: protocol.ServerBound, ID: 0x01},
		body: unhex("ff"),
	})
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("state guard: got %v, want ErrStateMismatch", err)
	}

	if buf.Len() != 0 {
		t.Fatalf("guarded writes touched the transport: %x", buf.Bytes())
	}
}

func TestWriterDoubleEnableEncryption(t *testing.T) {
	key := unhex("000102030405060708090a0b0c0d0e0f")
	w, _ := newTestWriter()
	if err := w.EnableEncryption(key, key); err != nil {
		t.Fatalf("first enable: %v", err)
	}
	if err := w.EnableEncryption(key, key); !errors.Is(err, ErrEncryptionEnabled) {
		t.Fatalf("second enable: got %v, want ErrEncryptionEnabled", err)
	}
}

func TestWriterKeyMaterial(t *testing.T) {
	w, _ := newTestWriter()
	if err := w.EnableEncryption(unhex("0001"), unhex("0001")); !errors.Is(err, cfb8.ErrKeyMaterial) {
		t.Fatalf("got %v, want cfb8.ErrKeyMaterial", err)
	}
	// The failed call must not count as enabling.
	key := unhex("000102030405060708090a0b0c0d0e0f")
	if err := w.EnableEncryption(key, key); err != nil {
		t.Fatalf("enable after failed attempt: %v", err)
	}
}

func TestWriterBufferReuse(t *testing.T) {
	w, buf := newTestWriter()
	big := make([]byte, 10*1024)
	if err := w.WriteRawPacket(protocol.RawPacket{ID: playID(0x01), Body: big}); err != nil {
		t.Fatalf("big write: %v", err)
	}
	buf.Reset()
	if err := w.WriteRawPacket(protocol.RawPacket{ID: playID(0x01), Body: make([]byte, 100)}); err != nil {
		t.Fatalf("small write: %v", err)
	}
	if len(w.rawBuf) < headerSlack+10*1024 {
		t.Fatalf("staging buffer shrank to %d bytes", len(w.rawBuf))
	}
}
