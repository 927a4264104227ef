// Go MySQL Server Shim - A server-side implementation of the MySQL protocol
//
// Copyright 2024 The msql-srv Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package msqlsrv

/******************************************************************************
*                            Control packets                                  *
******************************************************************************/

// writeOKPacket emits an OK packet:
// 0x00 | affected (LENC) | last_insert_id (LENC) | status (u16) | warnings (u16)
func (c *Conn) writeOKPacket(affectedRows, lastInsertID uint64, status statusFlag) error {
	b := make([]byte, 0, 16)
	b = append(b, 0x00)
	b = appendLengthEncodedInteger(b, affectedRows)
	b = appendLengthEncodedInteger(b, lastInsertID)
	b = appendUint16(b, uint16(status))
	b = appendUint16(b, 0) // warnings
	if _, err := c.pw.Write(b); err != nil {
		return err
	}
	c.pw.endPacket()
	return nil
}

// writeErrPacket emits an ERR packet:
// 0xff | code (u16) | '#' | sqlstate (5 bytes) | message
func (c *Conn) writeErrPacket(kind ErrorKind, msg []byte) error {
	b := make([]byte, 0, 9+len(msg))
	b = append(b, 0xff)
	b = appendUint16(b, uint16(kind))
	b = append(b, '#')
	b = append(b, kind.SQLState()...)
	b = append(b, msg...)
	if _, err := c.pw.Write(b); err != nil {
		return err
	}
	c.pw.endPacket()
	return nil
}

// writeEOFPacket emits an EOF packet:
// 0xfe | warnings (u16) | status (u16)
func (c *Conn) writeEOFPacket(status statusFlag) error {
	b := []byte{0xfe, 0, 0, byte(status), byte(status >> 8)}
	if _, err := c.pw.Write(b); err != nil {
		return err
	}
	c.pw.endPacket()
	return nil
}

/******************************************************************************
*                               InitWriter                                    *
******************************************************************************/

// InitWriter answers a COM_INIT_DB (or the schema selected at handshake).
type InitWriter struct {
	c      *Conn
	done   bool
	failed bool
}

// Ok accepts the schema change.
func (w *InitWriter) Ok() error {
	w.done = true
	if err := w.c.writeOKPacket(0, 0, statusInAutocommit); err != nil {
		return err
	}
	return w.c.pw.flush()
}

// Error rejects the schema change with a client-visible error.
func (w *InitWriter) Error(kind ErrorKind, msg []byte) error {
	w.done = true
	w.failed = true
	if err := w.c.writeErrPacket(kind, msg); err != nil {
		return err
	}
	return w.c.pw.flush()
}

/******************************************************************************
*                          StatementMetaWriter                                *
******************************************************************************/

// StatementMetaWriter answers a COM_STMT_PREPARE.
type StatementMetaWriter struct {
	c    *Conn
	done bool
}

// Reply accepts the statement: id is the handler-chosen statement id the
// client will execute with, params describe the placeholders, columns the
// result set. The statement is registered until COM_STMT_CLOSE or the
// connection ends.
func (w *StatementMetaWriter) Reply(id uint32, params, columns []Column) error {
	w.done = true
	w.c.registerStatement(id, params, columns)

	b := make([]byte, 0, 12)
	b = append(b, 0x00) // PREPARE_OK
	b = appendUint32(b, id)
	b = appendUint16(b, uint16(len(columns)))
	b = appendUint16(b, uint16(len(params)))
	b = append(b, 0x00)    // filler
	b = appendUint16(b, 0) // warnings
	if _, err := w.c.pw.Write(b); err != nil {
		return err
	}
	w.c.pw.endPacket()

	if len(params) > 0 {
		if err := w.c.writeColumnDefinitions(params); err != nil {
			return err
		}
	}
	if len(columns) > 0 {
		if err := w.c.writeColumnDefinitions(columns); err != nil {
			return err
		}
	}
	return w.c.pw.flush()
}

// Error rejects the statement with a client-visible error.
func (w *StatementMetaWriter) Error(kind ErrorKind, msg []byte) error {
	w.done = true
	if err := w.c.writeErrPacket(kind, msg); err != nil {
		return err
	}
	return w.c.pw.flush()
}

// writeColumnDefinitions emits one definition packet per column followed by
// an EOF marker.
func (c *Conn) writeColumnDefinitions(cols []Column) error {
	for i := range cols {
		b := appendColumnDefinition(nil, &cols[i])
		if _, err := c.pw.Write(b); err != nil {
			return err
		}
		c.pw.endPacket()
	}
	return c.writeEOFPacket(0)
}

/******************************************************************************
*                          QueryResultWriter                                  *
******************************************************************************/

// QueryResultWriter answers a COM_QUERY or COM_STMT_EXECUTE. Exactly one of
// Start, Completed or Error terminates the command; after FinishOne on the
// row writer the QueryResultWriter is reusable for the next result set.
type QueryResultWriter struct {
	c      *Conn
	binary bool
	row    *RowWriter
	done   bool
}

// Start begins a result set with the given columns: the column count, the
// definition packets and the header EOF are emitted, and a RowWriter for
// the rows is returned. With no columns the result set is the empty shape —
// a length-encoded 0 whose terminator is the OK written by Finish.
func (w *QueryResultWriter) Start(cols []Column) (*RowWriter, error) {
	if w.done || w.row != nil {
		return nil, errWriterFinished
	}

	b := appendLengthEncodedInteger(nil, uint64(len(cols)))
	if _, err := w.c.pw.Write(b); err != nil {
		return nil, err
	}
	w.c.pw.endPacket()

	if len(cols) > 0 {
		if err := w.c.writeColumnDefinitions(cols); err != nil {
			return nil, err
		}
	}

	w.row = &RowWriter{w: w, cols: cols}
	return w.row, nil
}

// Completed ends the command with a single OK packet carrying the affected
// row count and last insert id; no column definitions or rows are sent.
func (w *QueryResultWriter) Completed(affectedRows, lastInsertID uint64) error {
	if w.done {
		return errWriterFinished
	}
	w.done = true
	if err := w.c.writeOKPacket(affectedRows, lastInsertID, statusInAutocommit); err != nil {
		return err
	}
	return w.c.pw.flush()
}

// Error ends the command with a single ERR packet.
func (w *QueryResultWriter) Error(kind ErrorKind, msg []byte) error {
	if w.done {
		return errWriterFinished
	}
	w.done = true
	w.row = nil
	if err := w.c.writeErrPacket(kind, msg); err != nil {
		return err
	}
	return w.c.pw.flush()
}

/******************************************************************************
*                               RowWriter                                     *
******************************************************************************/

// RowWriter streams the rows of one result set. Values are encoded in the
// text or binary protocol depending on the command that produced the
// writer. One row becomes one logical packet.
type RowWriter struct {
	w    *QueryResultWriter
	cols []Column

	col      int // columns written in the current row
	rowBuf   []byte
	nullMask []byte
}

// WriteCol appends one value to the current row. Values past the declared
// column count are dropped.
func (r *RowWriter) WriteCol(v interface{}) error {
	if r.w.done {
		return errWriterFinished
	}
	if r.col >= len(r.cols) {
		return nil
	}

	if r.w.binary {
		if r.col == 0 {
			maskLen := (len(r.cols) + 7 + 2) / 8
			if r.nullMask == nil {
				r.nullMask = make([]byte, maskLen)
			} else {
				for i := range r.nullMask {
					r.nullMask[i] = 0
				}
			}
		}
		if v == nil {
			bit := r.col + 2
			r.nullMask[bit/8] |= 1 << (uint(bit) & 7)
		} else {
			var err error
			r.rowBuf, err = appendBinaryValue(r.rowBuf, r.cols[r.col].Coltype, v)
			if err != nil {
				return err
			}
		}
	} else {
		var err error
		r.rowBuf, err = appendTextValue(r.rowBuf, v)
		if err != nil {
			return err
		}
	}

	r.col++
	return nil
}

// WriteRow writes a whole row and ends it.
func (r *RowWriter) WriteRow(vals []interface{}) error {
	for _, v := range vals {
		if err := r.WriteCol(v); err != nil {
			return err
		}
	}
	return r.EndRow()
}

// EndRow finishes the current row and emits its packet.
func (r *RowWriter) EndRow() error {
	if r.w.done {
		return errWriterFinished
	}
	if r.col == 0 {
		return nil
	}

	if r.w.binary {
		if err := r.w.c.pw.WriteByte(0x00); err != nil {
			return err
		}
		if _, err := r.w.c.pw.Write(r.nullMask); err != nil {
			return err
		}
	}
	if _, err := r.w.c.pw.Write(r.rowBuf); err != nil {
		return err
	}
	r.w.c.pw.endPacket()

	r.col = 0
	r.rowBuf = r.rowBuf[:0]
	return nil
}

// Finish terminates the result set and the command.
func (r *RowWriter) Finish() error {
	return r.finish(false)
}

// FinishOne terminates the result set with SERVER_MORE_RESULTS_EXISTS set
// and returns the QueryResultWriter for the next result set.
func (r *RowWriter) FinishOne() (*QueryResultWriter, error) {
	if err := r.finish(true); err != nil {
		return nil, err
	}
	return r.w, nil
}

func (r *RowWriter) finish(more bool) error {
	if r.w.done {
		return errWriterFinished
	}
	if r.col > 0 {
		if err := r.EndRow(); err != nil {
			return err
		}
	}

	var status statusFlag
	if more {
		status = statusMoreResultsExists
	}

	var err error
	if len(r.cols) == 0 {
		err = r.w.c.writeOKPacket(0, 0, statusInAutocommit|status)
	} else {
		err = r.w.c.writeEOFPacket(status)
	}
	if err != nil {
		return err
	}

	if more {
		r.w.row = nil
		return nil
	}
	r.w.done = true
	r.w.row = nil
	return r.w.c.pw.flush()
}
