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

// Package protocol defines the wire-level vocabulary of the Minecraft
// Java-Edition protocol: connection states, packet directions, packet
// identifiers and the VarInt codec.
//
// The package does not know about any concrete packet. Typed packets are the
// province of a packet catalog implementing the Packet interface; the framing
// layer in package bridge moves their opaque bodies.
package protocol

import (
	"fmt"
	"io"
)

// State is the protocol phase of a connection. It controls which packet ids
// are legal in either direction. Every connection starts in Handshaking.
type State int

const (
	Handshaking State = iota
	Status
	Login
	Play
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Status:
		return "status"
	case Login:
		return "login"
	case Play:
		return "play"
	default:
		return fmt.Sprintf("unknown state %d", int(s))
	}
}

// Direction is the sense of packet travel relative to the server.
type Direction int

const (
	// ServerBound packets travel from the client to the server.
	ServerBound Direction = iota
	// ClientBound packets travel from the server to the client.
	ClientBound
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == ServerBound {
		return ClientBound
	}
	return ServerBound
}

func (d Direction) String() string {
	switch d {
	case ServerBound:
		return "serverbound"
	case ClientBound:
		return "clientbound"
	default:
		return fmt.Sprintf("unknown direction %d", int(d))
	}
}

// Id identifies a packet type. Numeric ids are only meaningful within a
// (state, direction) pair. Ids on the wire are non-negative; the int32
// carrier matches the VarInt codec.
type Id struct {
	State     State
	Direction Direction
	ID        int32
}

func (id Id) String() string {
	return fmt.Sprintf("%s/%s/0x%02x", id.State, id.Direction, id.ID)
}

// RawPacket is a packet whose body has not been interpreted.
//
// Body is a view into a buffer owned by the producing reader and is only
// valid until its next ReadPacket call. Callers wishing to retain the body
// must copy it.
type RawPacket struct {
	ID   Id
	Body []byte
}

// Packet is the surface a packet catalog presents to the framing layer.
// EncodeBody writes the packet body, excluding the id, to w.
type Packet interface {
	ID() Id
	EncodeBody(w io.Writer) error
}
