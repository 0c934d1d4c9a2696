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
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/Twister915/go-mcproto/cfb8"
	"github.com/Twister915/go-mcproto/protocol"
)

// headerSlack is the free space kept ahead of every staged packet body. It
// is partitioned into three 5-byte zones, right to left as the frame is
// assembled: outer frame length, optional data length, packet id. Each zone
// holds one VarInt, serialized at the zone start and then shifted right so
// it ends flush against the region it prefixes. Prefixing therefore never
// moves the body.
//
//	[ len 5 ][ dlen 5 ][ id 5 ][ body ... ]
//	0        5         10      15
const headerSlack = 15

// Writer encodes packets into framed bytes on a byte sink.
//
// The writer stages every packet into an owned buffer with headerSlack bytes
// of leading free space, emits it with a single Write call, and reuses the
// buffer for the next packet. A second buffer holds deflated payloads when
// compression applies.
type Writer struct {
	dst       io.Writer
	direction protocol.Direction
	state     protocol.State
	threshold int
	cipher    *cfb8.Cipher

	rawBuf  []byte
	compBuf []byte
	zw      *zlib.Writer
}

// NewWriter returns a Writer in the Handshaking state with compression and
// encryption off. direction is the direction of travel of the packets this
// writer emits.
func NewWriter(direction protocol.Direction, dst io.Writer) *Writer {
	return &Writer{dst: dst, direction: direction, state: protocol.Handshaking, threshold: -1}
}

// WritePacket serializes packet's body, frames it and emits it. The packet
// id must agree with the writer's direction and state; on a mismatch the
// transport is left untouched.
func (w *Writer) WritePacket(packet protocol.Packet) error {
	id := packet.ID()
	if err := w.checkID(id); err != nil {
		return err
	}
	body := growWriter{buf: w.rawBuf, at: headerSlack}
	if err := packet.EncodeBody(&body); err != nil {
		return fmt.Errorf("bridge: encode %v: %w", id, err)
	}
	w.rawBuf = body.buf
	return w.writeStaged(id, body.at-headerSlack)
}

// WriteRawPacket frames and emits an opaque packet body.
func (w *Writer) WriteRawPacket(packet protocol.RawPacket) error {
	if err := w.checkID(packet.ID); err != nil {
		return err
	}
	w.rawBuf = sizeBuffer(w.rawBuf, headerSlack+len(packet.Body))
	copy(w.rawBuf[headerSlack:], packet.Body)
	return w.writeStaged(packet.ID, len(packet.Body))
}

func (w *Writer) checkID(id protocol.Id) error {
	if id.Direction != w.direction {
		return fmt.Errorf("%w: packet %v, writer is %v", ErrDirectionMismatch, id, w.direction)
	}
	if id.State != w.state {
		return fmt.Errorf("%w: packet %v, writer is %v", ErrStateMismatch, id, w.state)
	}
	return nil
}

// writeStaged finishes the frame around the body staged in rawBuf at
// headerSlack: packet id, compression layer, outer length, encryption, and
// finally a single Write to the sink.
func (w *Writer) writeStaged(id protocol.Id, bodyLen int) error {
	w.rawBuf = sizeBuffer(w.rawBuf, headerSlack+bodyLen)
	buf := w.rawBuf

	// Packet id into the zone just ahead of the body.
	idLen := protocol.PutVarint(buf[headerSlack-5:headerSlack], id.ID)
	shiftRight(buf, headerSlack-5, headerSlack-5+idLen, 5-idLen)

	dataLen := idLen + bodyLen
	dataStart := headerSlack - idLen

	frameBuf := buf
	frameStart := dataStart
	frameEnd := headerSlack + bodyLen

	if w.threshold >= 0 {
		if dataLen < w.threshold {
			// Below the cutoff the payload stays as is, framed with a
			// zero data-length byte.
			frameStart = dataStart - 1
			buf[frameStart] = 0
		} else {
			compLen, err := w.deflate(buf[dataStart : headerSlack+bodyLen])
			if err != nil {
				return err
			}
			comp := w.compBuf
			dlenLen := protocol.PutVarint(comp[headerSlack-5:headerSlack], int32(dataLen))
			shiftRight(comp, headerSlack-5, headerSlack-5+dlenLen, 5-dlenLen)
			frameBuf = comp
			frameStart = headerSlack - dlenLen
			frameEnd = headerSlack + compLen
		}
	}

	frameLen := frameEnd - frameStart
	if frameLen > maxFrameSize {
		return fmt.Errorf("%w: length %d", ErrFrameTooLarge, frameLen)
	}
	lenLen := protocol.PutVarint(frameBuf[frameStart-5:frameStart], int32(frameLen))
	shiftRight(frameBuf, frameStart-5, frameStart-5+lenLen, 5-lenLen)

	out := frameBuf[frameStart-lenLen : frameEnd]
	if w.cipher != nil {
		w.cipher.Encrypt(out)
	}
	_, err := w.dst.Write(out)
	return err
}

// deflate compresses src into the compress buffer after its header slack
// and returns the compressed length. The zlib stream uses the default
// 32 KiB window and the fastest level; the writer is reused across packets.
func (w *Writer) deflate(src []byte) (int, error) {
	staged := growWriter{buf: w.compBuf, at: headerSlack}
	if w.zw == nil {
		zw, err := zlib.NewWriterLevel(&staged, zlib.BestSpeed)
		if err != nil {
			return 0, fmt.Errorf("bridge: deflate: %w", err)
		}
		w.zw = zw
	} else {
		w.zw.Reset(&staged)
	}
	if _, err := w.zw.Write(src); err != nil {
		return 0, fmt.Errorf("bridge: deflate: %w", err)
	}
	if err := w.zw.Close(); err != nil {
		return 0, fmt.Errorf("bridge: deflate: %w", err)
	}
	w.compBuf = staged.buf
	return staged.at - headerSlack, nil
}

// SetState implements Bridge.
func (w *Writer) SetState(next protocol.State) {
	w.state = next
}

// SetCompressionThreshold implements Bridge.
func (w *Writer) SetCompressionThreshold(threshold int) {
	w.threshold = threshold
}

// EnableEncryption implements Bridge.
func (w *Writer) EnableEncryption(key, iv []byte) error {
	if w.cipher != nil {
		return ErrEncryptionEnabled
	}
	cipher, err := cfb8.NewCipher(key, iv)
	if err != nil {
		return err
	}
	w.cipher = cipher
	return nil
}
