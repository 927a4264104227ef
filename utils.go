// Go MySQL Server Shim - A server-side implementation of the MySQL protocol
//
// Copyright 2024 The msql-srv Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package msqlsrv

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
)

/******************************************************************************
*                       Read data-types from bytes                            *
******************************************************************************/

// readLengthEncodedInteger decodes a length-encoded integer.
// 0xfb is the NULL marker in text rows and parameter blocks.
func readLengthEncodedInteger(b []byte) (num uint64, isNull bool, n int, err error) {
	if len(b) == 0 {
		return 0, false, 0, errMalformPkt
	}

	switch b[0] {
	// 251: NULL
	case 0xfb:
		return 0, true, 1, nil

	// 252: value of following 2 bytes
	case 0xfc:
		n = 3

	// 253: value of following 3 bytes
	case 0xfd:
		n = 4

	// 254: value of following 8 bytes
	case 0xfe:
		n = 9

	// 0-250: value of first byte
	default:
		return uint64(b[0]), false, 1, nil
	}

	if len(b) < n {
		return 0, false, n, errMalformPkt
	}

	switch n {
	case 3:
		num = uint64(b[1]) | uint64(b[2])<<8
	case 4:
		num = uint64(b[1]) | uint64(b[2])<<8 | uint64(b[3])<<16
	default:
		num = binary.LittleEndian.Uint64(b[1:9])
	}
	return num, false, n, nil
}

// readLengthEncodedString returns the string payload, whether the value was
// NULL, and the total number of bytes consumed.
func readLengthEncodedString(b []byte) ([]byte, bool, int, error) {
	num, isNull, n, err := readLengthEncodedInteger(b)
	if err != nil || isNull {
		return nil, isNull, n, err
	}

	if len(b) < n+int(num) {
		return nil, false, n, errMalformPkt
	}

	return b[n : n+int(num)], false, n + int(num), nil
}

// readNullTerminatedString returns the bytes before the first 0x00 and the
// total number of bytes consumed including the terminator.
func readNullTerminatedString(b []byte) ([]byte, int, error) {
	pos := bytes.IndexByte(b, 0x00)
	if pos < 0 {
		return nil, 0, errMalformPkt
	}
	return b[:pos], pos + 1, nil
}

/******************************************************************************
*                       Convert from and to bytes                             *
******************************************************************************/

func appendLengthEncodedInteger(b []byte, n uint64) []byte {
	switch {
	case n <= 250:
		return append(b, byte(n))

	case n <= 0xffff:
		return append(b, 0xfc, byte(n), byte(n>>8))

	case n <= 0xffffff:
		return append(b, 0xfd, byte(n), byte(n>>8), byte(n>>16))
	}
	return append(b, 0xfe, byte(n), byte(n>>8), byte(n>>16), byte(n>>24),
		byte(n>>32), byte(n>>40), byte(n>>48), byte(n>>56))
}

func appendLengthEncodedString(b []byte, s []byte) []byte {
	b = appendLengthEncodedInteger(b, uint64(len(s)))
	return append(b, s...)
}

func appendUint16(b []byte, n uint16) []byte {
	return append(b, byte(n), byte(n>>8))
}

func appendUint32(b []byte, n uint32) []byte {
	return append(b, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
}

func appendUint64(b []byte, n uint64) []byte {
	return append(b, byte(n), byte(n>>8), byte(n>>16), byte(n>>24),
		byte(n>>32), byte(n>>40), byte(n>>48), byte(n>>56))
}

func putUint24(b []byte, n uint32) {
	b[0] = byte(n)
	b[1] = byte(n >> 8)
	b[2] = byte(n >> 16)
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

/******************************************************************************
*                              Authentication                                 *
******************************************************************************/

// newScramble generates the 20-byte auth-plugin-data sent in the handshake.
// Bytes are kept in the printable range so naive clients that treat the
// scramble as a C string do not truncate it.
func newScramble() ([]byte, error) {
	buf := make([]byte, scrambleLen)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	for i, b := range buf {
		buf[i] = b%94 + 33
	}
	return buf, nil
}

// NativePassword computes the mysql_native_password token a client derives
// from the handshake scramble and its password:
// SHA1(password) XOR SHA1(scramble + SHA1(SHA1(password))).
// An Authenticator can compare it against the client's auth response.
func NativePassword(scramble, password []byte) []byte {
	if len(password) == 0 {
		return nil
	}

	// stage1Hash = SHA1(password)
	crypt := sha1.New()
	crypt.Write(password)
	stage1Hash := crypt.Sum(nil)

	// scrambleHash = SHA1(scramble + SHA1(stage1Hash))
	crypt.Reset()
	crypt.Write(stage1Hash)
	scrambleHash := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(scramble)
	crypt.Write(scrambleHash)
	scrambleHash = crypt.Sum(nil)

	// token = scrambleHash XOR stage1Hash
	result := make([]byte, len(scrambleHash))
	for i := range result {
		result[i] = scrambleHash[i] ^ stage1Hash[i]
	}
	return result
}
