// Go MySQL Server Shim - A server-side implementation of the MySQL protocol
//
// Copyright 2024 The msql-srv Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package msqlsrv

import (
	"encoding/binary"
	"math"
	"time"
)

// ParamValue is one bound parameter of a COM_STMT_EXECUTE.
//
// Coltype is the type the client sent with the execute frame, not the type
// declared at prepare time: clients routinely bind every number as LONGLONG
// and every string as VAR_STRING regardless of the prepared definition.
// The exception is a parameter fed through COM_STMT_SEND_LONG_DATA: it
// carries the declared parameter type and the accumulated bytes.
// Value is nil, int64, uint64, float32, float64, []byte, time.Time or
// time.Duration; []byte values borrow from the command packet and are only
// valid for the duration of the OnExecute call.
type ParamValue struct {
	Coltype  ColumnType
	Unsigned bool
	Value    interface{}
}

// IsNull reports whether the parameter was bound as SQL NULL.
func (p ParamValue) IsNull() bool {
	return p.Value == nil
}

// bindParams decodes the parameter block of a COM_STMT_EXECUTE, data being
// the payload after statement id, flags and iteration count. Type bytes are
// cached on the statement so executions with new_params_flag == 0 reuse the
// previous binding. Parameters fed through COM_STMT_SEND_LONG_DATA take
// their accumulated bytes and the declared parameter type.
func (st *statement) bindParams(data []byte) ([]ParamValue, error) {
	count := len(st.params)
	if count == 0 {
		return nil, nil
	}

	maskLen := (count + 7) / 8
	if len(data) < maskLen+1 {
		return nil, errMalformPkt
	}
	nullMask := data[:maskLen]
	pos := maskLen

	if data[pos] == 1 { // new-params-bound flag
		pos++
		if len(data) < pos+2*count {
			return nil, errMalformPkt
		}
		st.paramTypes = append(st.paramTypes[:0], data[pos:pos+2*count]...)
		pos += 2 * count
	} else {
		pos++
		if st.paramTypes == nil {
			return nil, errMalformPkt
		}
	}

	params := make([]ParamValue, count)
	for i := 0; i < count; i++ {
		if long, ok := st.longData[uint16(i)]; ok {
			params[i] = ParamValue{
				Coltype: st.params[i].Coltype,
				Value:   long,
			}
			continue
		}

		coltype := ColumnType(st.paramTypes[2*i])
		unsigned := st.paramTypes[2*i+1]&0x80 != 0
		params[i] = ParamValue{Coltype: coltype, Unsigned: unsigned}

		if nullMask[i/8]>>(uint(i)&7)&1 == 1 || coltype == TypeNULL {
			continue
		}

		value, n, err := decodeBinaryValue(coltype, unsigned, data[pos:])
		if err != nil {
			return nil, err
		}
		params[i].Value = value
		pos += n
	}
	return params, nil
}

// decodeBinaryValue decodes one binary-protocol value of the given type,
// returning the value and the number of bytes consumed.
func decodeBinaryValue(coltype ColumnType, unsigned bool, data []byte) (interface{}, int, error) {
	switch coltype {
	case TypeTiny:
		if len(data) < 1 {
			return nil, 0, errMalformPkt
		}
		if unsigned {
			return uint64(data[0]), 1, nil
		}
		return int64(int8(data[0])), 1, nil

	case TypeShort, TypeYear:
		if len(data) < 2 {
			return nil, 0, errMalformPkt
		}
		if unsigned {
			return uint64(binary.LittleEndian.Uint16(data)), 2, nil
		}
		return int64(int16(binary.LittleEndian.Uint16(data))), 2, nil

	case TypeInt24, TypeLong:
		if len(data) < 4 {
			return nil, 0, errMalformPkt
		}
		if unsigned {
			return uint64(binary.LittleEndian.Uint32(data)), 4, nil
		}
		return int64(int32(binary.LittleEndian.Uint32(data))), 4, nil

	case TypeLongLong:
		if len(data) < 8 {
			return nil, 0, errMalformPkt
		}
		if unsigned {
			return binary.LittleEndian.Uint64(data), 8, nil
		}
		return int64(binary.LittleEndian.Uint64(data)), 8, nil

	case TypeFloat:
		if len(data) < 4 {
			return nil, 0, errMalformPkt
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), 4, nil

	case TypeDouble:
		if len(data) < 8 {
			return nil, 0, errMalformPkt
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), 8, nil

	case TypeDate, TypeNewDate, TypeDateTime, TypeTimestamp:
		return decodeBinaryDateTime(data)

	case TypeTime:
		return decodeBinaryDuration(data)

	default:
		// DECIMAL, NEWDECIMAL, VARCHAR, VAR_STRING, STRING, the BLOB
		// family, BIT, ENUM, SET, GEOMETRY, JSON
		s, isNull, n, err := readLengthEncodedString(data)
		if err != nil {
			return nil, 0, err
		}
		if isNull {
			return nil, n, nil
		}
		return s, n, nil
	}
}

func decodeBinaryDateTime(data []byte) (interface{}, int, error) {
	if len(data) < 1 {
		return nil, 0, errMalformPkt
	}
	length := int(data[0])
	if len(data) < 1+length {
		return nil, 0, errMalformPkt
	}
	b := data[1 : 1+length]

	switch length {
	case 0:
		return time.Time{}, 1, nil
	case 4:
		return time.Date(int(binary.LittleEndian.Uint16(b)), time.Month(b[2]),
			int(b[3]), 0, 0, 0, 0, time.UTC), 5, nil
	case 7:
		return time.Date(int(binary.LittleEndian.Uint16(b)), time.Month(b[2]),
			int(b[3]), int(b[4]), int(b[5]), int(b[6]), 0, time.UTC), 8, nil
	case 11:
		usec := binary.LittleEndian.Uint32(b[7:11])
		return time.Date(int(binary.LittleEndian.Uint16(b)), time.Month(b[2]),
			int(b[3]), int(b[4]), int(b[5]), int(b[6]),
			int(usec)*1000, time.UTC), 12, nil
	default:
		return nil, 0, errMalformPkt
	}
}

func decodeBinaryDuration(data []byte) (interface{}, int, error) {
	if len(data) < 1 {
		return nil, 0, errMalformPkt
	}
	length := int(data[0])
	if len(data) < 1+length {
		return nil, 0, errMalformPkt
	}
	b := data[1 : 1+length]

	switch length {
	case 0:
		return time.Duration(0), 1, nil
	case 8, 12:
		d := time.Duration(binary.LittleEndian.Uint32(b[1:5]))*24*time.Hour +
			time.Duration(b[5])*time.Hour +
			time.Duration(b[6])*time.Minute +
			time.Duration(b[7])*time.Second
		if length == 12 {
			d += time.Duration(binary.LittleEndian.Uint32(b[8:12])) * time.Microsecond
		}
		if b[0] == 1 {
			d = -d
		}
		return d, 1 + length, nil
	default:
		return nil, 0, errMalformPkt
	}
}
