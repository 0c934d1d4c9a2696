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
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/Twister915/go-mcproto/cfb8"
	"github.com/Twister915/go-mcproto/protocol"
)

// Reader decodes framed packets from a byte stream.
//
// The reader owns two buffers, one for raw frame bytes and one for inflated
// bodies. Both grow to the largest packet seen and are reused, so the Body of
// a returned RawPacket is only valid until the next ReadPacket call.
type Reader struct {
	src       io.Reader
	direction protocol.Direction
	state     protocol.State
	threshold int
	cipher    *cfb8.Cipher

	rawBuf []byte
	zbuf   []byte
	zsrc   *bytes.Reader
	zr     io.ReadCloser

	one    [1]byte
	varint [protocol.MaxVarintLen]byte
}

// NewReader returns a Reader in the Handshaking state with compression and
// encryption off. direction is the direction of travel of the packets this
// reader receives.
//
// src should be buffered: the frame length prefix is necessarily read one
// byte at a time. Conn wraps the read half in a bufio.Reader for this reason.
func NewReader(direction protocol.Direction, src io.Reader) *Reader {
	return &Reader{src: src, direction: direction, state: protocol.Handshaking, threshold: -1}
}

// ReadPacket reads the next packet. At a clean end of stream, where the
// transport ends exactly on a frame boundary, it returns io.EOF; a stream
// that ends inside a frame yields io.ErrUnexpectedEOF. Any non-nil error is
// terminal for this reader.
func (r *Reader) ReadPacket() (protocol.RawPacket, error) {
	frameLen, err := r.readLengthVarint()
	if err != nil {
		return protocol.RawPacket{}, err
	}
	if frameLen < 0 || frameLen > maxFrameSize {
		return protocol.RawPacket{}, fmt.Errorf("%w: length %d", ErrFrameTooLarge, frameLen)
	}

	r.rawBuf = sizeBuffer(r.rawBuf, int(frameLen))
	buf := r.rawBuf[:frameLen]
	if _, err := io.ReadFull(r.src, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return protocol.RawPacket{}, err
	}
	if r.cipher != nil {
		r.cipher.Decrypt(buf)
	}

	if r.threshold >= 0 {
		dataLen, n, err := protocol.Varint(buf)
		if err != nil {
			return protocol.RawPacket{}, err
		}
		buf = buf[n:]
		if dataLen < 0 {
			return protocol.RawPacket{}, fmt.Errorf("bridge: negative data length %d", dataLen)
		}
		if dataLen != 0 {
			buf, err = r.inflate(buf, int(dataLen))
			if err != nil {
				return protocol.RawPacket{}, err
			}
		}
	}

	id, n, err := protocol.Varint(buf)
	if err != nil {
		return protocol.RawPacket{}, err
	}
	return protocol.RawPacket{
		ID:   protocol.Id{State: r.state, Direction: r.direction, ID: id},
		Body: buf[n:],
	}, nil
}

// readLengthVarint reads the frame length prefix one byte at a time. When
// encryption is enabled each byte is decrypted before its continuation bit
// is inspected; the cipher must consume exactly the bytes read, so no
// prefetching is possible here.
func (r *Reader) readLengthVarint() (int32, error) {
	for i := 0; i < protocol.MaxVarintLen; i++ {
		b, err := r.readWireByte(i == 0)
		if err != nil {
			return 0, err
		}
		r.varint[i] = b
		if b&0x80 == 0 {
			v, _, err := protocol.Varint(r.varint[:i+1])
			return v, err
		}
	}
	return 0, protocol.ErrVarintOverflow
}

// readWireByte reads one byte from the transport, decrypting it if
// encryption is enabled. atBoundary selects the end-of-stream semantics: a
// stream that ends before the byte is a clean io.EOF at a frame boundary and
// io.ErrUnexpectedEOF inside one.
func (r *Reader) readWireByte(atBoundary bool) (byte, error) {
	for {
		n, err := r.src.Read(r.one[:])
		if n > 0 {
			if r.cipher != nil {
				r.cipher.Decrypt(r.one[:])
			}
			return r.one[0], nil
		}
		if err != nil {
			if err == io.EOF && !atBoundary {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
	}
}

// inflate decompresses src into the reader's decompress buffer. The zlib
// stream must decode to exactly dataLen bytes.
func (r *Reader) inflate(src []byte, dataLen int) ([]byte, error) {
	r.zbuf = sizeBuffer(r.zbuf, dataLen)
	if r.zsrc == nil {
		r.zsrc = bytes.NewReader(src)
	} else {
		r.zsrc.Reset(src)
	}
	if r.zr == nil {
		zr, err := zlib.NewReader(r.zsrc)
		if err != nil {
			return nil, fmt.Errorf("bridge: inflate: %w", err)
		}
		r.zr = zr
	} else if err := r.zr.(zlib.Resetter).Reset(r.zsrc, nil); err != nil {
		return nil, fmt.Errorf("bridge: inflate: %w", err)
	}

	out := r.zbuf[:dataLen]
	if _, err := io.ReadFull(r.zr, out); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("bridge: inflate: %w", err)
	}
	if n, err := r.zr.Read(r.one[:]); n > 0 || !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("bridge: inflated data exceeds declared length %d", dataLen)
	}
	return out, nil
}

// SetState implements Bridge.
func (r *Reader) SetState(next protocol.State) {
	r.state = next
}

// SetCompressionThreshold implements Bridge. The reader ignores the cutoff
// value; a non-negative threshold merely switches on the data-length prefix.
func (r *Reader) SetCompressionThreshold(threshold int) {
	r.threshold = threshold
}

// EnableEncryption implements Bridge.
func (r *Reader) EnableEncryption(key, iv []byte) error {
	if r.cipher != nil {
		return ErrEncryptionEnabled
	}
	cipher, err := cfb8.NewCipher(key, iv)
	if err != nil {
		return err
	}
	r.cipher = cipher
	return nil
}
