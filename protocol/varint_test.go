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
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wire samples from the protocol documentation.
var varintTV = []struct {
	v   int32
	enc []byte
}{
	{0, []byte{0x00}},
	{1, []byte{0x01}},
	{2, []byte{0x02}},
	{127, []byte{0x7f}},
	{128, []byte{0x80, 0x01}},
	{255, []byte{0xff, 0x01}},
	{300, []byte{0xac, 0x02}},
	{25565, []byte{0xdd, 0xc7, 0x01}},
	{2097151, []byte{0xff, 0xff, 0x7f}},
	{2147483647, []byte{0xff, 0xff, 0xff, 0xff, 0x07}},
	{-1, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	{-2147483648, []byte{0x80, 0x80, 0x80, 0x80, 0x08}},
}

func TestVarintVectors(t *testing.T) {
	for _, tv := range varintTV {
		var buf [MaxVarintLen]byte
		n := PutVarint(buf[:], tv.v)
		assert.Equal(t, tv.enc, buf[:n], "encoding of %d", tv.v)
		assert.Equal(t, len(tv.enc), VarintLen(tv.v), "length of %d", tv.v)

		v, n, err := Varint(tv.enc)
		require.NoError(t, err, "decoding %x", tv.enc)
		assert.Equal(t, tv.v, v, "decoding %x", tv.enc)
		assert.Equal(t, len(tv.enc), n, "consumed bytes of %x", tv.enc)

		assert.Equal(t, tv.enc, AppendVarint(nil, tv.v), "append encoding of %d", tv.v)
	}
}

func TestVarintRoundTrip(t *testing.T) {
	values := []int32{0, 1, 63, 64, 8191, 8192, 1<<21 - 1, 1 << 21, 1<<28 - 1, 1 << 28, -300}
	for _, want := range values {
		var buf [MaxVarintLen]byte
		n := PutVarint(buf[:], want)
		got, m, err := Varint(buf[:n])
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, n, m)
	}
}

func TestVarintDecodeTrailing(t *testing.T) {
	// Decoding stops at the first byte without a continuation bit.
	v, n, err := Varint([]byte{0xac, 0x02, 0xde, 0xad})
	require.NoError(t, err)
	assert.Equal(t, int32(300), v)
	assert.Equal(t, 2, n)
}

func TestVarintOverflow(t *testing.T) {
	_, _, err := Varint([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00})
	assert.ErrorIs(t, err, ErrVarintOverflow)

	// A fifth byte with the continuation bit set is rejected even though the
	// low bits would fit: nothing legal follows it.
	_, _, err = Varint([]byte{0xff, 0xff, 0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrVarintOverflow)
}

func TestVarintShortBuffer(t *testing.T) {
	for _, buf := range [][]byte{nil, {0x80}, {0xff, 0xff}} {
		_, _, err := Varint(buf)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "decoding %x", buf)
	}
}

func TestString(t *testing.T) {
	for _, s := range []string{"", "localhost", "mc.example.com", "déjà vu"} {
		enc := AppendString(nil, s)
		got, n, err := String(enc)
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.Equal(t, len(enc), n)
	}
}

func TestStringMalformed(t *testing.T) {
	_, _, err := String([]byte{0x05, 'a', 'b'})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// Negative length.
	_, _, err = String([]byte{0xff, 0xff, 0xff, 0xff, 0x0f, 'x'})
	assert.Error(t, err)
}
