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

// Package bridge implements the framing, encryption and compression layer of
// the Minecraft Java-Edition wire protocol (protocol 578).
//
// A Reader turns a byte stream into a sequence of protocol.RawPacket values;
// a Writer turns packets into framed bytes. Both apply, in the order the
// protocol demands, AES-128/CFB8 stream encryption and zlib body compression
// once the host negotiates them. A Conn pairs the two halves over a net.Conn.
//
// Neither half contains any locking: a half must be driven by at most one
// goroutine at a time. Reader and Writer of the same Conn are independent and
// may be driven concurrently with each other.
//
// Any error from ReadPacket or WritePacket other than a clean io.EOF leaves
// the half unusable: the stream position and cipher state cannot be
// resynchronized, so the caller must discard the connection.
package bridge

import (
	"errors"

	"github.com/Twister915/go-mcproto/protocol"
)

// maxFrameSize is the largest frame body the protocol allows, the maximum
// value of a 3-byte VarInt.
const maxFrameSize = 1<<21 - 1

var (
	// ErrEncryptionEnabled reports a second EnableEncryption call on a half
	// whose cipher is already installed. The existing cipher state is left
	// untouched.
	ErrEncryptionEnabled = errors.New("bridge: encryption already enabled")

	// ErrDirectionMismatch reports a write of a packet whose id direction
	// disagrees with the writer's direction.
	ErrDirectionMismatch = errors.New("bridge: packet direction mismatch")

	// ErrStateMismatch reports a write of a packet whose id state disagrees
	// with the writer's current state.
	ErrStateMismatch = errors.New("bridge: packet state mismatch")

	// ErrFrameTooLarge reports a frame length outside the protocol bound.
	ErrFrameTooLarge = errors.New("bridge: frame exceeds protocol maximum")
)

// Bridge is the control surface shared by Reader, Writer and Conn.
type Bridge interface {
	// SetState replaces the protocol state. Reads tag subsequent packets
	// with the new state; writes validate against it. Bytes already in
	// flight are unaffected.
	SetState(next protocol.State)

	// SetCompressionThreshold enables packet compression with the given
	// cutoff, or disables it when threshold is negative. Takes effect on
	// the next packet.
	SetCompressionThreshold(threshold int)

	// EnableEncryption installs the CFB8 cipher for this half. It may be
	// called at most once; the very next byte transits the cipher. key and
	// iv must each be 16 bytes.
	EnableEncryption(key, iv []byte) error
}
