// Go MySQL Server Shim - A server-side implementation of the MySQL protocol
//
// Copyright 2024 The msql-srv Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package msqlsrv

import "context"

// Handler receives the protocol events of one connection. The core never
// interprets SQL: query text, statement metadata and result contents are
// entirely the handler's business. Callbacks run serially on the
// connection's goroutine.
//
// A callback that returns an error without having used its writer is
// answered on its behalf with ER_INTERNAL_ERROR and the error's text; the
// connection stays up, except when OnInit fails for the schema requested in
// the handshake, which ends the connection. A callback that returns nil
// without having used its writer is answered with OK, except OnPrepare,
// which is answered with ER_UNSUPPORTED_PS (for OnExecute and OnQuery, an
// abandoned started result set is terminated with zero rows).
//
// Embed DefaultHandler to implement only the callbacks you need.
type Handler interface {
	// OnQuery is called for every COM_QUERY.
	OnQuery(ctx context.Context, query string, w *QueryResultWriter) error

	// OnPrepare is called for every COM_STMT_PREPARE. The handler chooses
	// the statement id passed to w.Reply; ids must be unique for the
	// lifetime of the connection.
	OnPrepare(ctx context.Context, query string, w *StatementMetaWriter) error

	// OnExecute is called for every COM_STMT_EXECUTE of a known statement.
	OnExecute(ctx context.Context, stmtID uint32, params []ParamValue, w *QueryResultWriter) error

	// OnInit is called when the client selects a schema, at handshake or
	// via COM_INIT_DB.
	OnInit(ctx context.Context, schema string, w *InitWriter) error

	// OnClose is called for COM_STMT_CLOSE, after the statement has been
	// dropped from the connection's table. No reply is sent.
	OnClose(ctx context.Context, stmtID uint32)
}

// Authenticator is optionally implemented by handlers that want to check
// client credentials. It receives the username from the handshake response,
// the 20-byte scramble the server sent, and the client's auth response
// (for mysql_native_password, the token NativePassword computes). A non-nil
// error rejects the connection with ER_ACCESS_DENIED_ERROR.
type Authenticator interface {
	OnAuth(user string, scramble, authResponse []byte) error
}

// DefaultHandler answers every event sensibly: queries and schema changes
// succeed with empty results, prepared statements are refused. Embed it and
// override what you need.
type DefaultHandler struct{}

func (DefaultHandler) OnQuery(ctx context.Context, query string, w *QueryResultWriter) error {
	return w.Completed(0, 0)
}

func (DefaultHandler) OnPrepare(ctx context.Context, query string, w *StatementMetaWriter) error {
	return w.Error(ERUnsupportedPS, []byte("prepared statements are not supported"))
}

func (DefaultHandler) OnExecute(ctx context.Context, stmtID uint32, params []ParamValue, w *QueryResultWriter) error {
	return w.Error(ERUnsupportedPS, []byte("prepared statements are not supported"))
}

func (DefaultHandler) OnInit(ctx context.Context, schema string, w *InitWriter) error {
	return w.Ok()
}

func (DefaultHandler) OnClose(ctx context.Context, stmtID uint32) {}

var _ Handler = DefaultHandler{}
