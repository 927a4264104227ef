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
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

type testHandler struct {
	DefaultHandler
	onQuery   func(ctx context.Context, query string, w *QueryResultWriter) error
	onPrepare func(ctx context.Context, query string, w *StatementMetaWriter) error
	onExecute func(ctx context.Context, stmtID uint32, params []ParamValue, w *QueryResultWriter) error
	onInit    func(ctx context.Context, schema string, w *InitWriter) error
	onClose   func(stmtID uint32)
}

func (h *testHandler) OnQuery(ctx context.Context, query string, w *QueryResultWriter) error {
	if h.onQuery != nil {
		return h.onQuery(ctx, query, w)
	}
	return h.DefaultHandler.OnQuery(ctx, query, w)
}

func (h *testHandler) OnPrepare(ctx context.Context, query string, w *StatementMetaWriter) error {
	if h.onPrepare != nil {
		return h.onPrepare(ctx, query, w)
	}
	return h.DefaultHandler.OnPrepare(ctx, query, w)
}

func (h *testHandler) OnExecute(ctx context.Context, stmtID uint32, params []ParamValue, w *QueryResultWriter) error {
	if h.onExecute != nil {
		return h.onExecute(ctx, stmtID, params, w)
	}
	return h.DefaultHandler.OnExecute(ctx, stmtID, params, w)
}

func (h *testHandler) OnInit(ctx context.Context, schema string, w *InitWriter) error {
	if h.onInit != nil {
		return h.onInit(ctx, schema, w)
	}
	return h.DefaultHandler.OnInit(ctx, schema, w)
}

func (h *testHandler) OnClose(ctx context.Context, stmtID uint32) {
	if h.onClose != nil {
		h.onClose(stmtID)
	}
}

func newTestConn(h Handler) (*mockConn, *Conn) {
	conn := new(mockConn)
	c := &Conn{
		h:        h,
		pr:       newPacketReader(conn),
		pw:       newPacketWriter(conn),
		connID:   1,
		scramble: bytes.Repeat([]byte{0x2a}, scrambleLen),
		stmts:    make(map[uint32]*statement),
	}
	return conn, c
}

// cmdPacket frames one client command with the given sequence number.
func cmdPacket(seq uint8, payload ...byte) []byte {
	b := make([]byte, 0, 4+len(payload))
	b = append(b, byte(len(payload)), byte(len(payload)>>8), byte(len(payload)>>16), seq)
	return append(b, payload...)
}

type reply struct {
	seq  uint8
	data []byte
}

// parseReplies decodes everything the server wrote into logical packets.
func parseReplies(t *testing.T, wire []byte) []reply {
	t.Helper()
	conn := new(mockConn)
	conn.data = wire
	pr := newPacketReader(conn)

	var out []reply
	for {
		seq, data, err := pr.nextPacket()
		if err != nil {
			return out
		}
		out = append(out, reply{seq, append([]byte(nil), data...)})
	}
}

func runCommands(t *testing.T, h Handler, wire ...[]byte) []reply {
	t.Helper()
	conn, c := newTestConn(h)
	for _, w := range wire {
		conn.data = append(conn.data, w...)
	}
	if err := c.commandLoop(context.Background()); err != nil {
		t.Fatalf("command loop: %v", err)
	}
	return parseReplies(t, conn.written)
}

func TestCommandPing(t *testing.T) {
	conn, c := newTestConn(&testHandler{})
	conn.data = cmdPacket(0, comPing)
	if err := c.commandLoop(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []byte{0x07, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
	if !bytes.Equal(conn.written, want) {
		t.Errorf("unexpected ping reply:\n got %x\nwant %x", conn.written, want)
	}
}

func TestCommandQuit(t *testing.T) {
	conn, c := newTestConn(&testHandler{})
	conn.data = cmdPacket(0, comQuit)
	if err := c.commandLoop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(conn.written) != 0 {
		t.Errorf("QUIT must not be answered, wrote %x", conn.written)
	}
}

func TestCommandUnknown(t *testing.T) {
	replies := runCommands(t, &testHandler{}, cmdPacket(0, 0xfa))
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	data := replies[0].data
	if data[0] != 0xff {
		t.Fatalf("expected ERR packet, got %x", data)
	}
	if code := binary.LittleEndian.Uint16(data[1:3]); code != uint16(ERUnknownComError) {
		t.Errorf("expected code 1047, got %d", code)
	}
}

// Replies start at the client's sequence + 1, and every command resets.
func TestSequencePerCommand(t *testing.T) {
	replies := runCommands(t, &testHandler{},
		cmdPacket(0, comPing), cmdPacket(0, comPing))
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	for i, r := range replies {
		if r.seq != 1 {
			t.Errorf("reply %d: expected sequence 1, got %d", i, r.seq)
		}
	}
}

func TestInitDBOk(t *testing.T) {
	var got string
	h := &testHandler{
		onInit: func(_ context.Context, schema string, w *InitWriter) error {
			got = schema
			return w.Ok()
		},
	}
	replies := runCommands(t, h, cmdPacket(0, append([]byte{comInitDB}, "test"...)...))
	if got != "test" {
		t.Errorf("expected schema test, got %q", got)
	}
	if len(replies) != 1 || replies[0].data[0] != 0x00 {
		t.Fatalf("expected OK, got %+v", replies)
	}
}

func TestInitDBError(t *testing.T) {
	h := &testHandler{
		onInit: func(_ context.Context, schema string, w *InitWriter) error {
			return w.Error(ERBadDb, []byte("Database "+schema+" not found"))
		},
	}
	replies := runCommands(t, h, cmdPacket(0, append([]byte{comInitDB}, "test"...)...))
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	data := replies[0].data
	if data[0] != 0xff {
		t.Fatalf("expected ERR packet, got %x", data)
	}
	if code := binary.LittleEndian.Uint16(data[1:3]); code != 1049 {
		t.Errorf("expected code 1049, got %d", code)
	}
	if state := string(data[4:9]); state != "42000" {
		t.Errorf("expected SQLSTATE 42000, got %q", state)
	}
	if msg := string(data[9:]); msg != "Database test not found" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestQueryTextRow(t *testing.T) {
	cols := []Column{{Column: "a", Coltype: TypeShort}}
	h := &testHandler{
		onQuery: func(_ context.Context, query string, w *QueryResultWriter) error {
			if query != "SELECT a FROM foo" {
				t.Errorf("unexpected query %q", query)
			}
			rw, err := w.Start(cols)
			if err != nil {
				return err
			}
			if err := rw.WriteCol(1024); err != nil {
				return err
			}
			return rw.Finish()
		},
	}
	replies := runCommands(t, h, cmdPacket(0, append([]byte{comQuery}, "SELECT a FROM foo"...)...))

	// column count, definition, EOF, row, EOF
	if len(replies) != 5 {
		t.Fatalf("expected 5 packets, got %d", len(replies))
	}
	if !bytes.Equal(replies[0].data, []byte{0x01}) {
		t.Errorf("unexpected column count packet %x", replies[0].data)
	}
	if !bytes.Equal(replies[3].data, []byte{0x04, '1', '0', '2', '4'}) {
		t.Errorf("unexpected row packet %x", replies[3].data)
	}
	for _, i := range []int{2, 4} {
		if !bytes.Equal(replies[i].data, []byte{0xfe, 0x00, 0x00, 0x00, 0x00}) {
			t.Errorf("packet %d: expected EOF, got %x", i, replies[i].data)
		}
	}
	for i, r := range replies {
		if r.seq != uint8(i+1) {
			t.Errorf("packet %d: expected sequence %d, got %d", i, i+1, r.seq)
		}
	}
}

func TestQueryNullRow(t *testing.T) {
	cols := []Column{{Column: "a", Coltype: TypeShort}}
	h := &testHandler{
		onQuery: func(_ context.Context, _ string, w *QueryResultWriter) error {
			rw, err := w.Start(cols)
			if err != nil {
				return err
			}
			if err := rw.WriteCol(nil); err != nil {
				return err
			}
			return rw.Finish()
		},
	}
	replies := runCommands(t, h, cmdPacket(0, append([]byte{comQuery}, "SELECT a FROM foo"...)...))
	if len(replies) != 5 {
		t.Fatalf("expected 5 packets, got %d", len(replies))
	}
	if !bytes.Equal(replies[3].data, []byte{0xfb}) {
		t.Errorf("expected NULL marker row, got %x", replies[3].data)
	}
}

// Zero columns: length-encoded 0 followed directly by the OK terminator.
func TestQueryEmptyResultSet(t *testing.T) {
	h := &testHandler{
		onQuery: func(_ context.Context, _ string, w *QueryResultWriter) error {
			rw, err := w.Start(nil)
			if err != nil {
				return err
			}
			return rw.Finish()
		},
	}
	replies := runCommands(t, h, cmdPacket(0, append([]byte{comQuery}, "CREATE TABLE t (a int)"...)...))
	if len(replies) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(replies))
	}
	if !bytes.Equal(replies[0].data, []byte{0x00}) {
		t.Errorf("unexpected column count packet %x", replies[0].data)
	}
	if replies[1].data[0] != 0x00 {
		t.Errorf("expected OK terminator, got %x", replies[1].data)
	}
}

// Values written past the declared column count are dropped; the command
// still terminates with zero rows.
func TestQueryValuesPastColumnCount(t *testing.T) {
	h := &testHandler{
		onQuery: func(_ context.Context, _ string, w *QueryResultWriter) error {
			rw, err := w.Start(nil)
			if err != nil {
				return err
			}
			return rw.WriteCol(42)
		},
	}
	replies := runCommands(t, h, cmdPacket(0, append([]byte{comQuery}, "SELECT a, b FROM foo"...)...))
	if len(replies) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(replies))
	}
	if replies[1].data[0] != 0x00 {
		t.Errorf("expected OK terminator, got %x", replies[1].data)
	}
}

// A started writer abandoned by the handler still yields a complete,
// zero-row reply.
func TestQueryDropWithoutFinish(t *testing.T) {
	cols := []Column{{Column: "a", Coltype: TypeShort}}
	h := &testHandler{
		onQuery: func(_ context.Context, _ string, w *QueryResultWriter) error {
			_, err := w.Start(cols)
			return err
		},
	}
	replies := runCommands(t, h, cmdPacket(0, append([]byte{comQuery}, "SELECT a FROM foo"...)...))
	// column count, definition, EOF, terminating EOF
	if len(replies) != 4 {
		t.Fatalf("expected 4 packets, got %d", len(replies))
	}
	if !bytes.Equal(replies[3].data, []byte{0xfe, 0x00, 0x00, 0x00, 0x00}) {
		t.Errorf("expected terminating EOF, got %x", replies[3].data)
	}
}

// A handler returning nil without touching the writer is answered with OK.
func TestQueryDefaultOK(t *testing.T) {
	h := &testHandler{
		onQuery: func(_ context.Context, _ string, _ *QueryResultWriter) error {
			return nil
		},
	}
	replies := runCommands(t, h, cmdPacket(0, append([]byte{comQuery}, "SET NAMES utf8"...)...))
	if len(replies) != 1 || replies[0].data[0] != 0x00 {
		t.Fatalf("expected bare OK, got %+v", replies)
	}
}

func TestQueryCompleted(t *testing.T) {
	h := &testHandler{
		onQuery: func(_ context.Context, _ string, w *QueryResultWriter) error {
			return w.Completed(42, 1)
		},
	}
	replies := runCommands(t, h, cmdPacket(0, append([]byte{comQuery}, "INSERT INTO t VALUES (1)"...)...))
	if len(replies) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(replies))
	}
	want := []byte{0x00, 0x2a, 0x01, 0x02, 0x00, 0x00, 0x00}
	if !bytes.Equal(replies[0].data, want) {
		t.Errorf("unexpected OK packet:\n got %x\nwant %x", replies[0].data, want)
	}
}

func TestMultiResult(t *testing.T) {
	cols := []Column{{Column: "a", Coltype: TypeShort}}
	h := &testHandler{
		onQuery: func(_ context.Context, _ string, w *QueryResultWriter) error {
			rw, err := w.Start(cols)
			if err != nil {
				return err
			}
			if err := rw.WriteCol(1024); err != nil {
				return err
			}
			next, err := rw.FinishOne()
			if err != nil {
				return err
			}
			rw, err = next.Start(cols)
			if err != nil {
				return err
			}
			if err := rw.WriteCol(1025); err != nil {
				return err
			}
			return rw.Finish()
		},
	}
	replies := runCommands(t, h,
		cmdPacket(0, append([]byte{comQuery}, "SELECT a FROM foo; SELECT a FROM foo"...)...))
	if len(replies) != 10 {
		t.Fatalf("expected 10 packets, got %d", len(replies))
	}

	intermediate := replies[4].data
	if !bytes.Equal(intermediate, []byte{0xfe, 0x00, 0x00, 0x08, 0x00}) {
		t.Errorf("intermediate EOF must carry SERVER_MORE_RESULTS_EXISTS, got %x", intermediate)
	}
	final := replies[9].data
	if !bytes.Equal(final, []byte{0xfe, 0x00, 0x00, 0x00, 0x00}) {
		t.Errorf("final EOF must not carry SERVER_MORE_RESULTS_EXISTS, got %x", final)
	}
	if !bytes.Equal(replies[8].data, []byte{0x04, '1', '0', '2', '5'}) {
		t.Errorf("unexpected second-set row %x", replies[8].data)
	}
}

// A failing handler is reported to the client and the loop keeps serving.
func TestHandlerErrorContinues(t *testing.T) {
	h := &testHandler{
		onQuery: func(_ context.Context, _ string, _ *QueryResultWriter) error {
			return errors.New("backend exploded")
		},
	}
	replies := runCommands(t, h,
		cmdPacket(0, append([]byte{comQuery}, "SELECT 1"...)...),
		cmdPacket(0, comPing))
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	data := replies[0].data
	if data[0] != 0xff {
		t.Fatalf("expected ERR packet, got %x", data)
	}
	if code := binary.LittleEndian.Uint16(data[1:3]); code != uint16(ERInternalError) {
		t.Errorf("expected code 1815, got %d", code)
	}
	if !strings.Contains(string(data[9:]), "backend exploded") {
		t.Errorf("error text missing, got %q", data[9:])
	}
	if replies[1].data[0] != 0x00 {
		t.Errorf("expected the loop to keep serving, got %x", replies[1].data)
	}
}

func executePacket(stmtID uint32, body ...byte) []byte {
	payload := []byte{comStmtExecute}
	payload = appendUint32(payload, stmtID)
	payload = append(payload, 0x00)       // flags
	payload = appendUint32(payload, 1)    // iteration count
	payload = append(payload, body...)
	return cmdPacket(0, payload...)
}

func TestPrepareExecute(t *testing.T) {
	cols := []Column{
		{Column: "a", Coltype: TypeShort},
		{Column: "b", Coltype: TypeShort},
	}
	params := []Column{
		{Column: "c", Coltype: TypeShort},
		{Column: "d", Coltype: TypeShort},
	}

	h := &testHandler{
		onPrepare: func(_ context.Context, query string, w *StatementMetaWriter) error {
			if query != "SELECT a, b FROM x WHERE c = ? AND d = ?" {
				t.Errorf("unexpected query %q", query)
			}
			return w.Reply(41, params, cols)
		},
		onExecute: func(_ context.Context, stmtID uint32, ps []ParamValue, w *QueryResultWriter) error {
			if stmtID != 41 {
				t.Errorf("unexpected statement id %d", stmtID)
			}
			if len(ps) != 2 {
				t.Fatalf("expected 2 params, got %d", len(ps))
			}
			if !ps[0].IsNull() || ps[0].Coltype != TypeNULL {
				t.Errorf("param 0: expected NULL, got %+v", ps[0])
			}
			if ps[1].Coltype != TypeLongLong {
				t.Errorf("param 1: expected LONGLONG, got %#x", byte(ps[1].Coltype))
			}
			if v, _ := ps[1].Value.(int64); v != 42 {
				t.Errorf("param 1: expected 42, got %#v", ps[1].Value)
			}

			rw, err := w.Start(cols)
			if err != nil {
				return err
			}
			if err := rw.WriteRow([]interface{}{nil, 42}); err != nil {
				return err
			}
			return rw.Finish()
		},
	}

	var execBody []byte
	execBody = append(execBody, 0x01)       // null bitmap: param 0
	execBody = append(execBody, 0x01)       // new-params-bound
	execBody = append(execBody, 0x06, 0x00) // NULL
	execBody = append(execBody, 0x08, 0x00) // LONGLONG
	execBody = appendUint64(execBody, 42)

	replies := runCommands(t, h,
		cmdPacket(0, append([]byte{comStmtPrepare}, "SELECT a, b FROM x WHERE c = ? AND d = ?"...)...),
		executePacket(41, execBody...))

	// prepare: PREPARE_OK, 2 param defs, EOF, 2 column defs, EOF = 7 packets
	// execute: column count, 2 defs, EOF, row, EOF = 6 packets
	if len(replies) != 13 {
		t.Fatalf("expected 13 packets, got %d", len(replies))
	}

	prepareOK := replies[0].data
	want := []byte{0x00, 0x29, 0x00, 0x00, 0x00, 0x02, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(prepareOK, want) {
		t.Errorf("unexpected PREPARE_OK:\n got %x\nwant %x", prepareOK, want)
	}

	row := replies[11].data
	// header, null bitmap (bit 2 set for column 0), int16 42
	if !bytes.Equal(row, []byte{0x00, 0x04, 0x2a, 0x00}) {
		t.Errorf("unexpected binary row %x", row)
	}
}

func TestExecuteUnknownStatement(t *testing.T) {
	replies := runCommands(t, &testHandler{}, executePacket(99))
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	data := replies[0].data
	if data[0] != 0xff {
		t.Fatalf("expected ERR packet, got %x", data)
	}
	if code := binary.LittleEndian.Uint16(data[1:3]); code != uint16(ERUnknownStmtHandler) {
		t.Errorf("expected code 1243, got %d", code)
	}
}

func TestStmtCloseAndReset(t *testing.T) {
	var closed uint32
	h := &testHandler{
		onPrepare: func(_ context.Context, _ string, w *StatementMetaWriter) error {
			return w.Reply(7, nil, nil)
		},
		onClose: func(id uint32) { closed = id },
	}

	conn, c := newTestConn(h)
	conn.data = append(conn.data, cmdPacket(0, append([]byte{comStmtPrepare}, "foo"...)...)...)

	resetPayload := append([]byte{comStmtReset}, 0x07, 0x00, 0x00, 0x00)
	conn.data = append(conn.data, cmdPacket(0, resetPayload...)...)
	closePayload := append([]byte{comStmtClose}, 0x07, 0x00, 0x00, 0x00)
	conn.data = append(conn.data, cmdPacket(0, closePayload...)...)

	if err := c.commandLoop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if closed != 7 {
		t.Errorf("expected OnClose(7), got %d", closed)
	}
	if _, ok := c.stmts[7]; ok {
		t.Error("statement 7 must be dropped after COM_STMT_CLOSE")
	}

	replies := parseReplies(t, conn.written)
	// PREPARE_OK, then OK for the reset; nothing for the close
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	if replies[1].data[0] != 0x00 {
		t.Errorf("expected OK for COM_STMT_RESET, got %x", replies[1].data)
	}
}

func TestSendLongData(t *testing.T) {
	params := []Column{{Column: "c", Coltype: TypeBLOB}}
	var got []byte
	h := &testHandler{
		onPrepare: func(_ context.Context, _ string, w *StatementMetaWriter) error {
			return w.Reply(3, params, nil)
		},
		onExecute: func(_ context.Context, _ uint32, ps []ParamValue, w *QueryResultWriter) error {
			if len(ps) == 1 {
				got = append([]byte(nil), ps[0].Value.([]byte)...)
				if ps[0].Coltype != TypeBLOB {
					t.Errorf("expected declared BLOB type, got %#x", byte(ps[0].Coltype))
				}
			}
			return w.Completed(0, 0)
		},
	}

	long1 := append([]byte{comStmtSendLongData}, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00)
	long1 = append(long1, "Hello "...)
	long2 := append([]byte{comStmtSendLongData}, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00)
	long2 = append(long2, "world"...)

	var execBody []byte
	execBody = append(execBody, 0x00)                        // null bitmap
	execBody = append(execBody, 0x01)                        // new-params-bound
	execBody = append(execBody, byte(TypeVarString), 0x00)   // type sent by client

	conn, c := newTestConn(h)
	conn.data = append(conn.data, cmdPacket(0, append([]byte{comStmtPrepare}, "foo"...)...)...)
	conn.data = append(conn.data, cmdPacket(0, long1...)...)
	conn.data = append(conn.data, cmdPacket(0, long2...)...)
	conn.data = append(conn.data, executePacket(3, execBody...)...)

	if err := c.commandLoop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if string(got) != "Hello world" {
		t.Errorf("expected accumulated long data, got %q", got)
	}
	if len(c.stmts[3].longData) != 0 {
		t.Error("long data must be consumed by the execute")
	}
}

func handshakeResponse(seq uint8, caps clientFlag, user, db string) []byte {
	payload := appendUint32(nil, uint32(caps))
	payload = appendUint32(payload, 1<<24) // max packet size
	payload = append(payload, defaultCollationID)
	payload = append(payload, make([]byte, 23)...)
	payload = append(payload, user...)
	payload = append(payload, 0x00)
	payload = append(payload, 0x00) // empty auth response
	if db != "" {
		payload = append(payload, db...)
		payload = append(payload, 0x00)
	}
	b := []byte{byte(len(payload)), byte(len(payload) >> 8), byte(len(payload) >> 16), seq}
	return append(b, payload...)
}

func TestRunHandshake(t *testing.T) {
	conn, c := newTestConn(&testHandler{})
	conn.queuedReplies = [][]byte{
		handshakeResponse(1, clientProtocol41|clientSecureConn, "root", ""),
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	replies := parseReplies(t, conn.written)
	if len(replies) != 2 {
		t.Fatalf("expected handshake + OK, got %d packets", len(replies))
	}

	hs := replies[0]
	if hs.seq != 0 {
		t.Errorf("handshake must use sequence 0, got %d", hs.seq)
	}
	if hs.data[0] != protocolVersion {
		t.Errorf("expected protocol version 10, got %d", hs.data[0])
	}
	if !bytes.Contains(hs.data, []byte("mysql_native_password\x00")) {
		t.Error("handshake must advertise mysql_native_password")
	}

	ok := replies[1]
	if ok.seq != 2 {
		t.Errorf("OK must continue the client sequence, got %d", ok.seq)
	}
	if ok.data[0] != 0x00 {
		t.Errorf("expected OK packet, got %x", ok.data)
	}
}

func TestRunHandshakeWithSchema(t *testing.T) {
	var schema string
	h := &testHandler{
		onInit: func(_ context.Context, s string, w *InitWriter) error {
			schema = s
			return w.Ok()
		},
	}
	conn, c := newTestConn(h)
	conn.queuedReplies = [][]byte{
		handshakeResponse(1, clientProtocol41|clientSecureConn|clientConnectWithDB, "root", "test"),
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if schema != "test" {
		t.Errorf("expected OnInit(test), got %q", schema)
	}
}

type authHandler struct {
	testHandler
	err  error
	user string
}

func (h *authHandler) OnAuth(user string, scramble, authResponse []byte) error {
	h.user = user
	return h.err
}

func TestRunAuthReject(t *testing.T) {
	h := &authHandler{err: errors.New("who are you")}
	conn, c := newTestConn(h)
	conn.queuedReplies = [][]byte{
		handshakeResponse(1, clientProtocol41|clientSecureConn, "mallory", ""),
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.user != "mallory" {
		t.Errorf("expected username mallory, got %q", h.user)
	}

	replies := parseReplies(t, conn.written)
	if len(replies) != 2 {
		t.Fatalf("expected handshake + ERR, got %d packets", len(replies))
	}
	data := replies[1].data
	if data[0] != 0xff {
		t.Fatalf("expected ERR packet, got %x", data)
	}
	if code := binary.LittleEndian.Uint16(data[1:3]); code != uint16(ERAccessDeniedError) {
		t.Errorf("expected code 1045, got %d", code)
	}
}
