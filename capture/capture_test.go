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

package capture

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Twister915/go-mcproto/protocol"
)

func testRecords() []Record {
	return []Record{
		{Direction: protocol.ServerBound, State: protocol.Handshaking, ID: 0x00, Body: []byte{0x01, 0x02}},
		{Direction: protocol.ClientBound, State: protocol.Login, ID: 0x03, Body: []byte{0x80}},
		{Direction: protocol.ClientBound, State: protocol.Play, ID: 0x26, Body: bytes.Repeat([]byte{0xab}, 4096)},
	}
}

func appendAll(t *testing.T, s *Store, recs []Record) {
	t.Helper()
	for i, rec := range recs {
		seq, err := s.Append(protocol.RawPacket{
			ID:   protocol.Id{State: rec.State, Direction: rec.Direction, ID: rec.ID},
			Body: rec.Body,
		})
		require.NoError(t, err)
		assert.EqualValues(t, i, seq)
	}
}

func TestAppendReplay(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	want := testRecords()
	appendAll(t, s, want)

	var got []Record
	err = s.Replay(func(rec Record) error {
		rec.Body = append([]byte(nil), rec.Body...)
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i, rec := range got {
		assert.EqualValues(t, i, rec.Seq)
		assert.Equal(t, want[i].Direction, rec.Direction)
		assert.Equal(t, want[i].State, rec.State)
		assert.Equal(t, want[i].ID, rec.ID)
		assert.Equal(t, want[i].Body, rec.Body)
	}
}

func TestReopenResumesSequence(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	appendAll(t, s, testRecords())
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	seq, err := s.Append(protocol.RawPacket{
		ID: protocol.Id{State: protocol.Play, Direction: protocol.ServerBound, ID: 0x0f},
	})
	require.NoError(t, err)
	assert.EqualValues(t, len(testRecords()), seq)
}

func TestAppendCopiesBody(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	body := []byte{0x01, 0x02, 0x03}
	_, err = s.Append(protocol.RawPacket{
		ID:   protocol.Id{State: protocol.Play, Direction: protocol.ServerBound, ID: 0x01},
		Body: body,
	})
	require.NoError(t, err)

	// Clobber the caller's buffer, as a bridge reader would on its next read.
	for i := range body {
		body[i] = 0xff
	}
	err = s.Replay(func(rec Record) error {
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, rec.Body)
		return nil
	})
	require.NoError(t, err)
}
