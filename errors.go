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
	"fmt"
)

var (
	errMalformPkt     = errors.New("malformed packet")
	errPktSync        = errors.New("commands out of sync: non-contiguous sequence number")
	errBadHandshake   = errors.New("malformed handshake response")
	errWriterFinished = errors.New("result writer already finished")
)

// unexpectedEOF is reported by the packet reader when the peer closes the
// stream in the middle of a logical packet.
type unexpectedEOF struct {
	unhandled int
}

func (e *unexpectedEOF) Error() string {
	return fmt.Sprintf("unexpected EOF: %d unhandled bytes", e.unhandled)
}

// ErrorKind is a client-visible MySQL error code. Values map 1:1 onto the
// server errno space; numbers originate in include/mysqld_error.h.
type ErrorKind uint16

const (
	ERNo                  ErrorKind = 1002
	ERYes                 ErrorKind = 1003
	ERDbCreateExists      ErrorKind = 1007
	ERDBAccessDenied      ErrorKind = 1044
	ERAccessDeniedError   ErrorKind = 1045
	ERNoDb                ErrorKind = 1046
	ERUnknownComError     ErrorKind = 1047
	ERBadNullError        ErrorKind = 1048
	ERBadDb               ErrorKind = 1049
	ERTableExists         ErrorKind = 1050
	ERBadTable            ErrorKind = 1051
	ERNonUniq             ErrorKind = 1052
	ERBadFieldError       ErrorKind = 1054
	ERDupFieldName        ErrorKind = 1060
	ERDupEntry            ErrorKind = 1062
	ERParseError          ErrorKind = 1064
	EREmptyQuery          ErrorKind = 1065
	ERNoSuchTable         ErrorKind = 1146
	ERNotAllowedCommand   ErrorKind = 1148
	ERSyntaxError         ErrorKind = 1149
	ERAbortingConnection  ErrorKind = 1152
	ERLockWaitTimeout     ErrorKind = 1205
	ERLockDeadlock        ErrorKind = 1213
	ERNoReferencedRow     ErrorKind = 1216
	ERRowIsReferenced     ErrorKind = 1217
	ERNotSupportedYet     ErrorKind = 1235
	ERUnknownStmtHandler  ErrorKind = 1243
	ERUnsupportedPS       ErrorKind = 1295
	ERQueryInterrupted    ErrorKind = 1317
	ERDataTooLong         ErrorKind = 1406
	ERInternalError       ErrorKind = 1815
	ERServerIsntAvailable ErrorKind = 3168
)

// SQLState reports the SQLSTATE accompanying this errno in an ERR packet.
// States originate in include/mysql/sql_state.h; anything unmapped gets the
// client library's catch-all "HY000".
func (e ErrorKind) SQLState() string {
	switch e {
	case ERDBAccessDenied, ERUnknownComError, ERBadNullError, ERBadDb,
		ERBadTable, ERNonUniq, ERParseError, EREmptyQuery,
		ERNotAllowedCommand, ERSyntaxError, ERNotSupportedYet:
		return "42000"
	case ERAccessDeniedError:
		return "28000"
	case ERTableExists:
		return "42S01"
	case ERDupFieldName:
		return "42S21"
	case ERBadFieldError:
		return "42S22"
	case ERNoSuchTable:
		return "42S02"
	case ERDupEntry, ERNoReferencedRow, ERRowIsReferenced:
		return "23000"
	case ERNoDb:
		return "3D000"
	case ERLockDeadlock:
		return "40001"
	case ERDataTooLong:
		return "22001"
	case ERQueryInterrupted:
		return "70100"
	case ERAbortingConnection:
		return "08S01"
	default:
		return "HY000"
	}
}
