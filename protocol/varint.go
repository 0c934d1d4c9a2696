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

package protocol

import (
	"errors"
	"io"
)

// MaxVarintLen is the maximum number of bytes a VarInt occupies on the wire.
const MaxVarintLen = 5

// ErrVarintOverflow reports a VarInt whose encoding claims more than
// MaxVarintLen bytes. A fifth byte with its continuation bit set is an
// overflow: no int32 needs the sixth group.
var ErrVarintOverflow = errors.New("protocol: varint overflows 32 bits")

// Varint decodes a VarInt from the start of buf. It returns the value and
// the number of bytes consumed. If buf ends mid-varint the error is
// io.ErrUnexpectedEOF.
func Varint(buf []byte) (int32, int, error) {
	var v uint32
	for i := 0; i < MaxVarintLen; i++ {
		if i >= len(buf) {
			return 0, 0, io.ErrUnexpectedEOF
		}
		b := buf[i]
		v |= uint32(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return int32(v), i + 1, nil
		}
	}
	return 0, 0, ErrVarintOverflow
}

// VarintLen returns the number of bytes PutVarint uses for v.
func VarintLen(v int32) int {
	n := 1
	for u := uint32(v) >> 7; u != 0; u >>= 7 {
		n++
	}
	return n
}

// PutVarint encodes v at the start of buf and returns the number of bytes
// written. It panics if buf is too small; MaxVarintLen bytes always suffice.
func PutVarint(buf []byte, v int32) int {
	u := uint32(v)
	i := 0
	for u >= 0x80 {
		buf[i] = byte(u) | 0x80
		u >>= 7
		i++
	}
	buf[i] = byte(u)
	return i + 1
}

// AppendVarint appends the encoding of v to buf.
func AppendVarint(buf []byte, v int32) []byte {
	u := uint32(v)
	for u >= 0x80 {
		buf = append(buf, byte(u)|0x80)
		u >>= 7
	}
	return append(buf, byte(u))
}

// AppendString appends a VarInt-length-prefixed UTF-8 string to buf.
func AppendString(buf []byte, s string) []byte {
	buf = AppendVarint(buf, int32(len(s)))
	return append(buf, s...)
}

// String decodes a VarInt-length-prefixed string from the start of buf,
// returning the string and the number of bytes consumed.
func String(buf []byte) (string, int, error) {
	size, n, err := Varint(buf)
	if err != nil {
		return "", 0, err
	}
	if size < 0 {
		return "", 0, errors.New("protocol: negative string length")
	}
	end := n + int(size)
	if end > len(buf) {
		return "", 0, io.ErrUnexpectedEOF
	}
	return string(buf[n:end]), end, nil
}
