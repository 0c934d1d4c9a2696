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

// Package cfb8 implements AES-128 in 8-bit cipher feedback mode, the stream
// cipher the Minecraft protocol applies to every connection byte once
// encryption is negotiated.
//
// CFB8 is self-synchronizing and costs one AES block encryption per byte.
// The crypto/cipher CFB implementation uses the full 128-bit segment size and
// cannot produce this keystream.
package cfb8

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

const blockSize = 16

// ErrKeyMaterial reports a key or iv that is not exactly 16 bytes.
var ErrKeyMaterial = errors.New("cfb8: key and iv must each be 16 bytes")

// Cipher holds the AES block schedule and the shift register. A Cipher
// encrypts or decrypts a single direction of a connection; the register
// state persists across calls, so frames may be processed in any slicing.
//
// Cipher is not safe for concurrent use.
type Cipher struct {
	block   cipher.Block
	iv      [blockSize]byte
	scratch [blockSize]byte
}

// NewCipher returns a Cipher keyed with the given 16-byte key and iv.
func NewCipher(key, iv []byte) (*Cipher, error) {
	if len(key) != blockSize || len(iv) != blockSize {
		return nil, ErrKeyMaterial
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	c := &Cipher{block: block}
	copy(c.iv[:], iv)
	return c, nil
}

// Encrypt enciphers buf in place.
func (c *Cipher) Encrypt(buf []byte) { c.crypt(buf, false) }

// Decrypt deciphers buf in place.
func (c *Cipher) Decrypt(buf []byte) { c.crypt(buf, true) }

// crypt runs the CFB8 loop. The register always shifts in the ciphertext
// byte: the freshly produced one when encrypting, the input byte when
// decrypting.
func (c *Cipher) crypt(buf []byte, decrypt bool) {
	for i, b := range buf {
		c.scratch = c.iv
		c.block.Encrypt(c.iv[:], c.iv[:])
		out := b ^ c.iv[0]
		copy(c.iv[:blockSize-1], c.scratch[1:])
		if decrypt {
			c.iv[blockSize-1] = b
		} else {
			c.iv[blockSize-1] = out
		}
		buf[i] = out
	}
}
