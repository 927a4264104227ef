// Go MySQL Server Shim - A server-side implementation of the MySQL protocol
//
// Copyright 2024 The msql-srv Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package msqlsrv

import (
	"errors"
	"io"
)

// Packets documentation:
// https://dev.mysql.com/doc/internals/en/mysql-packet.html

const defaultBufSize = 4096

// errIncomplete signals that the buffered bytes do not yet hold a whole
// logical packet. Never escapes the reader.
var errIncomplete = errors.New("incomplete packet")

/******************************************************************************
*                                 Reader                                      *
******************************************************************************/

// packetReader reassembles logical packets from the client stream.
// Payloads split across 0xffffff-length frames are joined; the sequence
// numbers of the frames of one logical packet must be contiguous mod 256.
type packetReader struct {
	rd    io.Reader
	buf   []byte
	start int // parse position; bytes before it are consumed
}

func newPacketReader(rd io.Reader) *packetReader {
	return &packetReader{
		rd:  rd,
		buf: make([]byte, 0, defaultBufSize),
	}
}

// nextPacket returns the sequence number of the final frame and the payload
// of the next logical packet. The payload is only valid until the following
// call to nextPacket: single-frame packets borrow from the internal buffer,
// reassembled ones are backed by a fresh allocation. A clean close of the
// stream between packets is reported as io.EOF; a close with buffered bytes
// is an unexpectedEOF.
func (pr *packetReader) nextPacket() (uint8, []byte, error) {
	for {
		if len(pr.buf)-pr.start > 0 {
			seq, data, n, err := parsePacket(pr.buf[pr.start:])
			if err == nil {
				pr.start += n
				return seq, data, nil
			}
			if err != errIncomplete {
				return 0, nil, err
			}
		}

		if err := pr.fill(); err != nil {
			return 0, nil, err
		}
	}
}

// fill reclaims consumed bytes, grows the buffer by doubling if it is full,
// and reads more data from the stream.
func (pr *packetReader) fill() error {
	if pr.start > 0 {
		pr.buf = append(pr.buf[:0], pr.buf[pr.start:]...)
		pr.start = 0
	}

	end := len(pr.buf)
	if end == cap(pr.buf) {
		size := 2 * end
		if size < defaultBufSize {
			size = defaultBufSize
		}
		newBuf := make([]byte, end, size)
		copy(newBuf, pr.buf)
		pr.buf = newBuf
	}

	n, err := pr.rd.Read(pr.buf[end:cap(pr.buf)])
	pr.buf = pr.buf[:end+n]
	if n > 0 {
		return nil
	}
	if err == nil || err == io.EOF {
		if len(pr.buf) == 0 {
			return io.EOF
		}
		return &unexpectedEOF{unhandled: len(pr.buf)}
	}
	return err
}

// parsePacket attempts to parse one logical packet from b: zero or more
// frames of exactly maxPacketSize bytes followed by one shorter final frame.
// Returns errIncomplete if b does not hold the whole packet yet.
func parsePacket(b []byte) (seq uint8, data []byte, n int, err error) {
	var full [][]byte
	prevSeq := -1
	pos := 0

	for {
		if len(b)-pos < 4 {
			return 0, nil, 0, errIncomplete
		}
		length := int(uint24(b[pos : pos+3]))
		fseq := b[pos+3]
		if len(b)-pos-4 < length {
			return 0, nil, 0, errIncomplete
		}
		payload := b[pos+4 : pos+4+length]
		pos += 4 + length

		if prevSeq >= 0 && fseq != uint8(prevSeq)+1 {
			return 0, nil, 0, errPktSync
		}
		prevSeq = int(fseq)

		if length < maxPacketSize {
			if full == nil {
				// zero-copy for the common single-frame case
				return fseq, payload, pos, nil
			}
			total := len(payload)
			for _, f := range full {
				total += len(f)
			}
			joined := make([]byte, 0, total)
			for _, f := range full {
				joined = append(joined, f...)
			}
			joined = append(joined, payload...)
			return fseq, joined, pos, nil
		}

		full = append(full, payload)
	}
}

/******************************************************************************
*                                 Writer                                      *
******************************************************************************/

// packetWriter buffers outbound packets. Each frame gets a reserved 4-byte
// header slot that endFrame fills in with the little-endian u24 length and
// the sequence byte. Payloads crossing maxPacketSize are split; a non-empty
// logical packet whose length is an exact multiple of maxPacketSize is closed
// by an empty continuation frame. A zero-length logical packet produces no
// frame at all.
type packetWriter struct {
	w               io.Writer
	buf             []byte
	seq             uint8
	lastPacketStart int

	// set when the previous frame of the current logical packet was
	// max-size, so endPacket must emit a (possibly empty) continuation
	continues bool
}

func newPacketWriter(w io.Writer) *packetWriter {
	pw := &packetWriter{
		w:   w,
		buf: make([]byte, 4, defaultBufSize),
	}
	return pw
}

// packetLen is the payload size of the frame currently being assembled.
func (pw *packetWriter) packetLen() int {
	return len(pw.buf) - 4 - pw.lastPacketStart
}

// Write appends bytes to the current logical packet.
func (pw *packetWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		room := maxPacketSize - pw.packetLen()
		if len(p) < room {
			pw.buf = append(pw.buf, p...)
			break
		}
		pw.buf = append(pw.buf, p[:room]...)
		p = p[room:]
		pw.endFrame()
	}
	return total, nil
}

// WriteByte appends a single byte to the current logical packet.
func (pw *packetWriter) WriteByte(b byte) error {
	_, err := pw.Write([]byte{b})
	return err
}

// endFrame finalizes the frame being assembled: the header slot receives the
// length and sequence byte, the sequence counter advances, and a fresh
// header slot is reserved.
func (pw *packetWriter) endFrame() {
	n := pw.packetLen()
	putUint24(pw.buf[pw.lastPacketStart:pw.lastPacketStart+3], uint32(n))
	pw.buf[pw.lastPacketStart+3] = pw.seq
	pw.seq++
	pw.lastPacketStart = len(pw.buf)
	pw.buf = append(pw.buf, 0, 0, 0, 0)
	pw.continues = n == maxPacketSize
}

// endPacket finalizes the current logical packet, if any. An empty
// continuation frame is emitted when the packet length is an exact multiple
// of maxPacketSize.
func (pw *packetWriter) endPacket() {
	if pw.packetLen() != 0 || pw.continues {
		pw.endFrame()
	}
}

// setSeq sets the sequence number of the next finalized frame.
func (pw *packetWriter) setSeq(seq uint8) {
	pw.seq = seq
}

// flush finalizes any pending packet and writes all finalized bytes to the
// stream. The unfinalized header slot for the next packet is preserved.
func (pw *packetWriter) flush() error {
	pw.endPacket()
	if pw.lastPacketStart == 0 {
		return nil
	}
	if _, err := pw.w.Write(pw.buf[:pw.lastPacketStart]); err != nil {
		return err
	}
	pw.buf = pw.buf[:0]
	pw.buf = append(pw.buf, 0, 0, 0, 0)
	pw.lastPacketStart = 0
	return nil
}
