// Go MySQL Server Shim - A server-side implementation of the MySQL protocol
//
// Copyright 2024 The msql-srv Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package msqlsrv

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

/******************************************************************************
*                           Text protocol encoding                            *
******************************************************************************/

// appendTextValue encodes one column value for a text-protocol row. Every
// non-NULL value is a length-encoded string; NULL is the single byte 0xfb.
func appendTextValue(b []byte, v interface{}) ([]byte, error) {
	if v == nil {
		return append(b, 0xfb), nil
	}

	switch v := v.(type) {
	case []byte:
		return appendLengthEncodedString(b, v), nil
	case string:
		return appendLengthEncodedString(b, []byte(v)), nil
	case time.Time:
		return appendLengthEncodedString(b, []byte(formatDateTime(v))), nil
	case time.Duration:
		return appendLengthEncodedString(b, []byte(formatDuration(v))), nil
	}

	if i, ok := asInt64(v); ok {
		return appendLengthEncodedString(b, strconv.AppendInt(nil, i, 10)), nil
	}
	if u, ok := asUint64(v); ok {
		return appendLengthEncodedString(b, strconv.AppendUint(nil, u, 10)), nil
	}
	switch v := v.(type) {
	case float32:
		return appendLengthEncodedString(b, strconv.AppendFloat(nil, float64(v), 'f', -1, 32)), nil
	case float64:
		return appendLengthEncodedString(b, strconv.AppendFloat(nil, v, 'f', -1, 64)), nil
	}
	return b, fmt.Errorf("msqlsrv: cannot encode value of type %T", v)
}

// formatDateTime renders the canonical MySQL datetime literal, with a
// microsecond suffix only when the value carries one.
func formatDateTime(t time.Time) string {
	if t.Nanosecond() != 0 {
		return t.Format("2006-01-02 15:04:05.000000")
	}
	return t.Format("2006-01-02 15:04:05")
}

// formatDuration renders the canonical MySQL TIME literal. Hours may exceed
// 24; negative durations carry a leading minus.
func formatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	us := (d % time.Second) / time.Microsecond
	if us != 0 {
		return fmt.Sprintf("%s%02d:%02d:%02d.%06d", sign, h, m, s, us)
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
}

/******************************************************************************
*                          Binary protocol encoding                           *
******************************************************************************/

// appendBinaryValue encodes one non-NULL column value for a binary-protocol
// row. The wire layout is chosen by the declared column type, so the value
// is coerced to fit; a value that cannot represent the column type is an
// error.
func appendBinaryValue(b []byte, coltype ColumnType, v interface{}) ([]byte, error) {
	switch coltype {
	case TypeTiny:
		u, err := binaryBits(coltype, v)
		if err != nil {
			return b, err
		}
		return append(b, byte(u)), nil

	case TypeShort, TypeYear:
		u, err := binaryBits(coltype, v)
		if err != nil {
			return b, err
		}
		return appendUint16(b, uint16(u)), nil

	case TypeInt24, TypeLong:
		u, err := binaryBits(coltype, v)
		if err != nil {
			return b, err
		}
		return appendUint32(b, uint32(u)), nil

	case TypeLongLong:
		u, err := binaryBits(coltype, v)
		if err != nil {
			return b, err
		}
		return appendUint64(b, u), nil

	case TypeFloat:
		f, ok := asFloat64(v)
		if !ok {
			return b, typeMismatch(coltype, v)
		}
		return appendUint32(b, math.Float32bits(float32(f))), nil

	case TypeDouble:
		f, ok := asFloat64(v)
		if !ok {
			return b, typeMismatch(coltype, v)
		}
		return appendUint64(b, math.Float64bits(f)), nil

	case TypeDate, TypeNewDate, TypeDateTime, TypeTimestamp:
		t, ok := v.(time.Time)
		if !ok {
			return b, typeMismatch(coltype, v)
		}
		return appendBinaryDateTime(b, t), nil

	case TypeTime:
		d, ok := v.(time.Duration)
		if !ok {
			return b, typeMismatch(coltype, v)
		}
		return appendBinaryDuration(b, d), nil

	default:
		// VARCHAR, VAR_STRING, STRING, the BLOB family, DECIMAL,
		// NEWDECIMAL, BIT, ENUM, SET, GEOMETRY, JSON: length-encoded bytes.
		switch v := v.(type) {
		case []byte:
			return appendLengthEncodedString(b, v), nil
		case string:
			return appendLengthEncodedString(b, []byte(v)), nil
		}
		if i, ok := asInt64(v); ok {
			return appendLengthEncodedString(b, strconv.AppendInt(nil, i, 10)), nil
		}
		if u, ok := asUint64(v); ok {
			return appendLengthEncodedString(b, strconv.AppendUint(nil, u, 10)), nil
		}
		if f, ok := asFloat64(v); ok {
			return appendLengthEncodedString(b, strconv.AppendFloat(nil, f, 'f', -1, 64)), nil
		}
		return b, typeMismatch(coltype, v)
	}
}

// appendBinaryDateTime encodes the 0/4/7/11-byte temporal form with its
// length prefix. The zero time encodes as the zero-date (length 0).
func appendBinaryDateTime(b []byte, t time.Time) []byte {
	if t.IsZero() {
		return append(b, 0)
	}
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	usec := t.Nanosecond() / 1000

	switch {
	case usec != 0:
		b = append(b, 11)
	case hour|min|sec != 0:
		b = append(b, 7)
	default:
		b = append(b, 4)
	}
	b = appendUint16(b, uint16(year))
	b = append(b, byte(month), byte(day))
	if hour|min|sec != 0 || usec != 0 {
		b = append(b, byte(hour), byte(min), byte(sec))
	}
	if usec != 0 {
		b = appendUint32(b, uint32(usec))
	}
	return b
}

// appendBinaryDuration encodes the 0/8/12-byte TIME form with its length
// prefix, including sign and day component.
func appendBinaryDuration(b []byte, d time.Duration) []byte {
	if d == 0 {
		return append(b, 0)
	}
	var sign byte
	if d < 0 {
		sign = 1
		d = -d
	}
	days := uint32(d / (24 * time.Hour))
	hour := byte(d / time.Hour % 24)
	min := byte(d / time.Minute % 60)
	sec := byte(d / time.Second % 60)
	usec := uint32(d / time.Microsecond % 1e6)

	if usec != 0 {
		b = append(b, 12)
	} else {
		b = append(b, 8)
	}
	b = append(b, sign)
	b = appendUint32(b, days)
	b = append(b, hour, min, sec)
	if usec != 0 {
		b = appendUint32(b, usec)
	}
	return b
}

/******************************************************************************
*                              Value coercion                                 *
******************************************************************************/

func binaryBits(coltype ColumnType, v interface{}) (uint64, error) {
	if i, ok := asInt64(v); ok {
		return uint64(i), nil
	}
	if u, ok := asUint64(v); ok {
		return u, nil
	}
	return 0, typeMismatch(coltype, v)
}

func asInt64(v interface{}) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func asUint64(v interface{}) (uint64, bool) {
	switch v := v.(type) {
	case uint:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	}
	return 0, false
}

func asFloat64(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	if u, ok := asUint64(v); ok {
		return float64(u), true
	}
	return 0, false
}

func typeMismatch(coltype ColumnType, v interface{}) error {
	return fmt.Errorf("msqlsrv: cannot encode %T as column type 0x%02x", v, byte(coltype))
}
