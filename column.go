// Go MySQL Server Shim - A server-side implementation of the MySQL protocol
//
// Copyright 2024 The msql-srv Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package msqlsrv

// Column describes a result-set column or a prepared-statement parameter.
// Fields the protocol carries but handlers rarely care about (schema,
// character set, display length, decimals) are emitted with protocol
// defaults; the original table and column names repeat Table and Column.
type Column struct {
	Table    string
	Column   string
	Coltype  ColumnType
	Colflags ColumnFlag
}

// appendColumnDefinition encodes a Column Definition packet payload.
// https://dev.mysql.com/doc/internals/en/com-query-response.html#packet-Protocol::ColumnDefinition41
func appendColumnDefinition(b []byte, c *Column) []byte {
	b = appendLengthEncodedString(b, []byte("def")) // catalog
	b = appendLengthEncodedString(b, nil)           // schema
	b = appendLengthEncodedString(b, []byte(c.Table))
	b = appendLengthEncodedString(b, []byte(c.Table)) // org_table
	b = appendLengthEncodedString(b, []byte(c.Column))
	b = appendLengthEncodedString(b, []byte(c.Column)) // org_name

	b = append(b, 0x0c) // length of fixed-length fields
	b = appendUint16(b, defaultCollationID)
	b = appendUint32(b, 1024) // column_length
	b = append(b, byte(c.Coltype))
	b = appendUint16(b, uint16(c.Colflags))
	b = append(b, 0x00)    // decimals
	b = appendUint16(b, 0) // filler
	return b
}
