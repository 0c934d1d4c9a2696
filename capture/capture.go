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

// Package capture stores sequences of observed packets for later replay.
//
// Records are keyed by a monotonic sequence number, so iteration returns
// packets in the order they crossed the wire. Bodies are snappy-compressed
// before hitting the store; captured Play traffic is mostly chunk and entity
// data and compresses well even when the session itself was compressed,
// because capture happens after the bridge inflates it.
package capture

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang/snappy"

	"github.com/Twister915/go-mcproto/protocol"
)

// Record is one captured packet.
type Record struct {
	Seq       uint64
	Direction protocol.Direction
	State     protocol.State
	ID        int32
	Body      []byte
}

// Store is an append-only packet log backed by badger. Append may be called
// from multiple goroutines; Replay may run concurrently with appends and
// observes a snapshot.
type Store struct {
	db *badger.DB

	mu  sync.Mutex
	seq uint64
}

// Open opens or creates a store in directory dir. An existing store resumes
// its sequence numbering.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", dir, err)
	}
	s := &Store{db: db}
	err = db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Reverse = true
		iopts.PrefetchValues = false
		it := txn.NewIterator(iopts)
		defer it.Close()
		it.Seek([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
		if it.Valid() {
			s.seq = binary.BigEndian.Uint64(it.Item().Key()) + 1
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Append records one packet and returns its sequence number. The packet body
// is copied, so Append is safe to call with a body borrowed from a bridge
// reader.
func (s *Store) Append(pkt protocol.RawPacket) (uint64, error) {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)

	val := make([]byte, 6, 6+len(pkt.Body))
	val[0] = byte(pkt.ID.Direction)
	val[1] = byte(pkt.ID.State)
	binary.BigEndian.PutUint32(val[2:6], uint32(pkt.ID.ID))
	val = append(val, pkt.Body...)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key[:], snappy.Encode(nil, val))
	})
	if err != nil {
		return 0, fmt.Errorf("capture: append: %w", err)
	}
	return seq, nil
}

// Replay calls fn for every record in capture order. The record passed to fn
// is only valid during the call. fn returning an error stops the replay.
func (s *Store) Replay(fn func(Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			seq := binary.BigEndian.Uint64(item.Key())
			err := item.Value(func(v []byte) error {
				val, err := snappy.Decode(nil, v)
				if err != nil {
					return fmt.Errorf("capture: record %d: %w", seq, err)
				}
				if len(val) < 6 {
					return fmt.Errorf("capture: record %d truncated", seq)
				}
				return fn(Record{
					Seq:       seq,
					Direction: protocol.Direction(val[0]),
					State:     protocol.State(val[1]),
					ID:        int32(binary.BigEndian.Uint32(val[2:6])),
					Body:      val[6:],
				})
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
