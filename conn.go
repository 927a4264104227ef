// Go MySQL Server Shim - A server-side implementation of the MySQL protocol
//
// Copyright 2024 The msql-srv Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package msqlsrv

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
)

var connectionIDs uint32

// Conn drives the server side of one MySQL connection over an
// already-accepted byte stream. It owns the socket buffers, the sequence
// counters and the prepared-statement table; everything runs on the single
// goroutine that calls Run.
type Conn struct {
	h        Handler
	pr       *packetReader
	pw       *packetWriter
	connID   uint32
	scramble []byte
	stmts    map[uint32]*statement
}

// statement is one prepared statement, registered at OnPrepare via
// StatementMetaWriter.Reply and dropped at COM_STMT_CLOSE or teardown.
type statement struct {
	id      uint32
	params  []Column
	columns []Column

	// paramTypes caches the type bytes of the last execute so a client
	// sending new_params_flag == 0 keeps its binding
	paramTypes []byte
	longData   map[uint16][]byte
}

// Serve runs the MySQL protocol over rw, dispatching events to h, until the
// client quits, the stream ends, or a protocol or I/O error occurs. A clean
// disconnect (QUIT, or EOF between commands) returns nil.
func Serve(ctx context.Context, rw io.ReadWriter, h Handler) error {
	c, err := NewConn(rw, h)
	if err != nil {
		return err
	}
	return c.Run(ctx)
}

// NewConn wraps an accepted stream. Run performs the handshake and the
// command loop.
func NewConn(rw io.ReadWriter, h Handler) (*Conn, error) {
	scramble, err := newScramble()
	if err != nil {
		return nil, err
	}
	return &Conn{
		h:        h,
		pr:       newPacketReader(rw),
		pw:       newPacketWriter(rw),
		connID:   atomic.AddUint32(&connectionIDs, 1),
		scramble: scramble,
		stmts:    make(map[uint32]*statement),
	}, nil
}

// ConnectionID reports the id sent to the client in the handshake.
func (c *Conn) ConnectionID() uint32 {
	return c.connID
}

// Run performs the handshake and then serves commands until the connection
// ends.
func (c *Conn) Run(ctx context.Context) error {
	if err := c.writeHandshake(); err != nil {
		return err
	}

	seq, user, authResp, db, err := c.readHandshakeResponse()
	if err != nil {
		return err
	}
	c.pw.setSeq(seq + 1)

	if a, ok := c.h.(Authenticator); ok {
		if aerr := a.OnAuth(user, c.scramble, authResp); aerr != nil {
			if err := c.writeErrPacket(ERAccessDeniedError, []byte(aerr.Error())); err != nil {
				return err
			}
			return c.pw.flush()
		}
	}

	if db != "" {
		iw := &InitWriter{c: c}
		if err := c.answerInit(iw, c.h.OnInit(ctx, db, iw)); err != nil {
			return err
		}
		if iw.failed {
			return nil
		}
	} else {
		if err := c.writeOKPacket(0, 0, statusInAutocommit); err != nil {
			return err
		}
		if err := c.pw.flush(); err != nil {
			return err
		}
	}

	return c.commandLoop(ctx)
}

/******************************************************************************
*                               Handshake                                     *
******************************************************************************/

// writeHandshake sends the Handshake V10 packet with sequence 0.
// https://dev.mysql.com/doc/internals/en/connection-phase-packets.html#packet-Protocol::HandshakeV10
func (c *Conn) writeHandshake() error {
	c.pw.setSeq(0)

	b := make([]byte, 0, 128)
	b = append(b, protocolVersion)
	b = append(b, serverVersion...)
	b = append(b, 0x00)
	b = appendUint32(b, c.connID)

	// auth-plugin-data part 1
	b = append(b, c.scramble[:8]...)
	b = append(b, 0x00) // filler

	b = appendUint16(b, uint16(serverCapabilities&0xffff))
	b = append(b, defaultCollationID)
	b = appendUint16(b, uint16(statusInAutocommit))
	b = appendUint16(b, uint16(serverCapabilities>>16))
	b = append(b, scrambleLen+1) // length of auth-plugin-data
	b = append(b, make([]byte, 10)...)

	// auth-plugin-data part 2
	b = append(b, c.scramble[8:]...)
	b = append(b, 0x00)

	b = append(b, defaultAuthPlugin...)
	b = append(b, 0x00)

	if _, err := c.pw.Write(b); err != nil {
		return err
	}
	c.pw.endPacket()
	return c.pw.flush()
}

// readHandshakeResponse parses the Handshake Response 41, returning the
// client's sequence number, username, auth response and requested schema.
func (c *Conn) readHandshakeResponse() (uint8, string, []byte, string, error) {
	seq, data, err := c.pr.nextPacket()
	if err != nil {
		return 0, "", nil, "", err
	}
	if len(data) < 32 {
		return seq, "", nil, "", errBadHandshake
	}

	caps := clientFlag(binary.LittleEndian.Uint32(data[:4]))
	if caps&clientProtocol41 == 0 {
		return seq, "", nil, "", errBadHandshake
	}

	// max packet size [4], character set [1], reserved [23]
	pos := 4 + 4 + 1 + 23

	userBytes, n, err := readNullTerminatedString(data[pos:])
	if err != nil {
		return seq, "", nil, "", errBadHandshake
	}
	user := string(userBytes)
	pos += n

	var authResp []byte
	switch {
	case caps&clientPluginAuthLenEncClientData != 0:
		s, _, n, err := readLengthEncodedString(data[pos:])
		if err != nil {
			return seq, "", nil, "", errBadHandshake
		}
		authResp = s
		pos += n

	case caps&clientSecureConn != 0:
		if pos >= len(data) {
			return seq, "", nil, "", errBadHandshake
		}
		l := int(data[pos])
		pos++
		if len(data) < pos+l {
			return seq, "", nil, "", errBadHandshake
		}
		authResp = data[pos : pos+l]
		pos += l

	default:
		s, n, err := readNullTerminatedString(data[pos:])
		if err != nil {
			authResp = data[pos:]
			pos = len(data)
		} else {
			authResp = s
			pos += n
		}
	}

	var db string
	if caps&clientConnectWithDB != 0 && pos < len(data) {
		if s, n, err := readNullTerminatedString(data[pos:]); err == nil {
			db = string(s)
			pos += n
		} else {
			db = string(data[pos:])
		}
	}

	return seq, user, authResp, db, nil
}

/******************************************************************************
*                              Command loop                                   *
******************************************************************************/

func (c *Conn) commandLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		seq, data, err := c.pr.nextPacket()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return errMalformPkt
		}
		c.pw.setSeq(seq + 1)

		switch data[0] {
		case comQuit:
			return nil

		case comPing:
			if err := c.writeOKPacket(0, 0, statusInAutocommit); err != nil {
				return err
			}
			if err := c.pw.flush(); err != nil {
				return err
			}

		case comInitDB:
			iw := &InitWriter{c: c}
			if err := c.answerInit(iw, c.h.OnInit(ctx, string(data[1:]), iw)); err != nil {
				return err
			}

		case comQuery:
			w := &QueryResultWriter{c: c}
			if err := c.finishResult(w, c.h.OnQuery(ctx, string(data[1:]), w)); err != nil {
				return err
			}

		case comStmtPrepare:
			mw := &StatementMetaWriter{c: c}
			herr := c.h.OnPrepare(ctx, string(data[1:]), mw)
			if !mw.done {
				if herr != nil {
					if err := mw.Error(ERInternalError, []byte(herr.Error())); err != nil {
						return err
					}
				} else {
					if err := mw.Error(ERUnsupportedPS, []byte("statement not handled")); err != nil {
						return err
					}
				}
			}

		case comStmtExecute:
			if err := c.handleExecute(ctx, data); err != nil {
				return err
			}

		case comStmtSendLongData:
			// no reply, even for unknown statements
			if len(data) < 7 {
				return errMalformPkt
			}
			id := binary.LittleEndian.Uint32(data[1:5])
			param := binary.LittleEndian.Uint16(data[5:7])
			if st, ok := c.stmts[id]; ok {
				st.longData[param] = append(st.longData[param], data[7:]...)
			}

		case comStmtClose:
			// no reply
			if len(data) < 5 {
				return errMalformPkt
			}
			id := binary.LittleEndian.Uint32(data[1:5])
			delete(c.stmts, id)
			c.h.OnClose(ctx, id)

		case comStmtReset:
			if len(data) < 5 {
				return errMalformPkt
			}
			id := binary.LittleEndian.Uint32(data[1:5])
			st, ok := c.stmts[id]
			if !ok {
				if err := c.writeErrPacket(ERUnknownStmtHandler,
					[]byte(fmt.Sprintf("unknown statement %d", id))); err != nil {
					return err
				}
			} else {
				st.longData = make(map[uint16][]byte)
				if err := c.writeOKPacket(0, 0, statusInAutocommit); err != nil {
					return err
				}
			}
			if err := c.pw.flush(); err != nil {
				return err
			}

		default:
			if err := c.writeErrPacket(ERUnknownComError,
				[]byte(fmt.Sprintf("unknown command 0x%02x", data[0]))); err != nil {
				return err
			}
			if err := c.pw.flush(); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) handleExecute(ctx context.Context, data []byte) error {
	if len(data) < 10 {
		return errMalformPkt
	}
	id := binary.LittleEndian.Uint32(data[1:5])
	// flags [1], iteration count [4]

	st, ok := c.stmts[id]
	if !ok {
		if err := c.writeErrPacket(ERUnknownStmtHandler,
			[]byte(fmt.Sprintf("unknown statement %d", id))); err != nil {
			return err
		}
		return c.pw.flush()
	}

	params, err := st.bindParams(data[10:])
	if err != nil {
		return err
	}

	w := &QueryResultWriter{c: c, binary: true}
	herr := c.h.OnExecute(ctx, id, params, w)

	// accumulated long data is consumed by the execution
	if len(st.longData) > 0 {
		st.longData = make(map[uint16][]byte)
	}

	return c.finishResult(w, herr)
}

/******************************************************************************
*                          Reply finalization                                 *
******************************************************************************/

// answerInit makes sure an OnInit dispatch terminates with OK or ERR.
func (c *Conn) answerInit(iw *InitWriter, herr error) error {
	if iw.done {
		if herr != nil {
			errLog.Print("handler error after reply: ", herr)
		}
		return nil
	}
	if herr != nil {
		iw.failed = true
		if err := c.writeErrPacket(ERInternalError, []byte(herr.Error())); err != nil {
			return err
		}
		return c.pw.flush()
	}
	return iw.Ok()
}

// finishResult makes sure a query or execute dispatch terminates with
// exactly one terminal packet: the handler's own reply, an auto-finished
// result set for an abandoned row writer, an ERR for a failed callback, or
// a bare OK when the handler did nothing.
func (c *Conn) finishResult(w *QueryResultWriter, herr error) error {
	if herr != nil {
		if w.done {
			errLog.Print("handler error after reply: ", herr)
			return nil
		}
		w.done = true
		w.row = nil
		if err := c.writeErrPacket(ERInternalError, []byte(herr.Error())); err != nil {
			return err
		}
		return c.pw.flush()
	}

	if w.done {
		return nil
	}
	if w.row != nil {
		return w.row.finish(false)
	}
	w.done = true
	if err := c.writeOKPacket(0, 0, statusInAutocommit); err != nil {
		return err
	}
	return c.pw.flush()
}

// registerStatement records a statement announced by a prepare reply.
// Column slices are copied: the caller's are only borrowed for the reply.
func (c *Conn) registerStatement(id uint32, params, columns []Column) {
	c.stmts[id] = &statement{
		id:       id,
		params:   append([]Column(nil), params...),
		columns:  append([]Column(nil), columns...),
		longData: make(map[uint16][]byte),
	}
}
