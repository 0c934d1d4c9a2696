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
	"bufio"
	"net"
	"time"

	"github.com/Twister915/go-mcproto/protocol"
)

// readBufSize is the bufio buffer ahead of the frame decoder. Length
// prefixes are read byte-wise; without buffering every prefix byte would be
// a transport read.
const readBufSize = 8 * 1024

// Conn pairs a Reader and a Writer over a single net.Conn. Control calls
// fan out to both halves; packet calls forward to the owning half.
//
// The two halves may be driven from two goroutines, but each half by only
// one, and control calls must not race with the half they affect.
type Conn struct {
	fd     net.Conn
	reader *Reader
	writer *Writer
}

// NewConn returns a Conn over fd. readDirection is the direction of the
// packets this endpoint receives; the writer takes the opposite.
func NewConn(fd net.Conn, readDirection protocol.Direction) *Conn {
	return &Conn{
		fd:     fd,
		reader: NewReader(readDirection, bufio.NewReaderSize(fd, readBufSize)),
		writer: NewWriter(readDirection.Opposite(), fd),
	}
}

// Client returns a Conn for the client end of fd: it receives clientbound
// packets and sends serverbound ones.
func Client(fd net.Conn) *Conn {
	return NewConn(fd, protocol.ClientBound)
}

// Server returns a Conn for the server end of fd: it receives serverbound
// packets and sends clientbound ones.
func Server(fd net.Conn) *Conn {
	return NewConn(fd, protocol.ServerBound)
}

// Dial connects to a server at addr and returns the client end. Nagle's
// algorithm is disabled: packets are written whole and latency-sensitive.
func Dial(addr string) (*Conn, error) {
	fd, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := fd.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			fd.Close()
			return nil, err
		}
	}
	return Client(fd), nil
}

// ReadPacket reads the next packet from the remote end.
func (c *Conn) ReadPacket() (protocol.RawPacket, error) {
	return c.reader.ReadPacket()
}

// WritePacket serializes, frames and sends packet.
func (c *Conn) WritePacket(packet protocol.Packet) error {
	return c.writer.WritePacket(packet)
}

// WriteRawPacket frames and sends an opaque packet body.
func (c *Conn) WriteRawPacket(packet protocol.RawPacket) error {
	return c.writer.WriteRawPacket(packet)
}

// Reader returns the read half.
func (c *Conn) Reader() *Reader { return c.reader }

// Writer returns the write half.
func (c *Conn) Writer() *Writer { return c.writer }

// SetState implements Bridge for both halves.
func (c *Conn) SetState(next protocol.State) {
	c.reader.SetState(next)
	c.writer.SetState(next)
}

// SetCompressionThreshold implements Bridge for both halves.
func (c *Conn) SetCompressionThreshold(threshold int) {
	c.reader.SetCompressionThreshold(threshold)
	c.writer.SetCompressionThreshold(threshold)
}

// EnableEncryption implements Bridge for both halves. Both directions share
// the key and iv values but run independent cipher states.
func (c *Conn) EnableEncryption(key, iv []byte) error {
	if err := c.reader.EnableEncryption(key, iv); err != nil {
		return err
	}
	return c.writer.EnableEncryption(key, iv)
}

// SetDeadline sets the read and write deadlines of the underlying net.Conn.
func (c *Conn) SetDeadline(t time.Time) error { return c.fd.SetDeadline(t) }

// LocalAddr returns the local address of the underlying net.Conn.
func (c *Conn) LocalAddr() net.Addr { return c.fd.LocalAddr() }

// RemoteAddr returns the remote address of the underlying net.Conn.
func (c *Conn) RemoteAddr() net.Addr { return c.fd.RemoteAddr() }

// Close closes the underlying net.Conn. Buffers and cipher state are
// discarded with the halves.
func (c *Conn) Close() error { return c.fd.Close() }
