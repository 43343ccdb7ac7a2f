// Copyright (c) 2023-2024 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package wire

import (
	"encoding/binary"
	"fmt"
)

// encodeTableBody serializes t's entries, in insertion order, as a bare
// entry* sequence (no surrounding length prefix -- callers that need one
// wrap the type/length header themselves, as encodeValue does for nested
// tables).
func encodeTableBody(t *Table) ([]byte, error) {
	var out []byte
	for _, k := range t.Keys() {
		v, _ := t.Get(k)
		if len(k) > 255 {
			return nil, fmt.Errorf("%w: key %q too long", ErrBadArgumentType, k)
		}
		ev, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		out = append(out, byte(len(k)))
		out = append(out, k...)
		out = append(out, ev...)
	}
	return out, nil
}

// encodeValue serializes a single Value including its type and length
// prefix.
func encodeValue(v Value) ([]byte, error) {
	switch v.Kind {
	case KindString:
		out := make([]byte, 5, 5+len(v.Bytes))
		out[0] = typeBinary
		binary.BigEndian.PutUint32(out[1:5], uint32(len(v.Bytes)))
		out = append(out, v.Bytes...)
		return out, nil
	case KindTable:
		body, err := encodeTableBody(v.Table)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 5, 5+len(body))
		out[0] = typeTable
		binary.BigEndian.PutUint32(out[1:5], uint32(len(body)))
		out = append(out, body...)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownDataType, v.Kind)
	}
}

// decodeTableBody parses buf as a bare entry* sequence, consuming it to
// the end; an entry cut short fails with ErrShortRead. On success the
// returned remainder is always empty.
func decodeTableBody(buf []byte) (*Table, []byte, error) {
	t := NewTable()
	for len(buf) > 0 {
		klen := int(buf[0])
		buf = buf[1:]
		if len(buf) < klen {
			return nil, nil, ErrShortRead
		}
		key := string(buf[:klen])
		buf = buf[klen:]

		v, rest, err := decodeValue(buf)
		if err != nil {
			return nil, nil, err
		}
		buf = rest

		if err := t.SetNew(key, v); err != nil {
			return nil, nil, err
		}
	}
	return t, buf, nil
}

// decodeValue parses one type-tagged value from the front of buf and
// returns the value plus the remaining bytes.
func decodeValue(buf []byte) (Value, []byte, error) {
	if len(buf) < 5 {
		return Value{}, nil, ErrShortRead
	}
	typ := buf[0]
	vlen := int(binary.BigEndian.Uint32(buf[1:5]))
	buf = buf[5:]
	if len(buf) < vlen {
		return Value{}, nil, ErrShortRead
	}
	payload := buf[:vlen]
	rest := buf[vlen:]

	switch typ {
	case typeBinary:
		return Bin(payload), rest, nil
	case typeTable:
		sub, trailing, err := decodeTableBody(payload)
		if err != nil {
			return Value{}, nil, err
		}
		if len(trailing) != 0 {
			return Value{}, nil, fmt.Errorf("%w: trailing bytes in table", ErrShortRead)
		}
		return TableValue(sub), rest, nil
	case typeList:
		var list []Value
		remaining := payload
		for len(remaining) > 0 {
			item, r, err := decodeValue(remaining)
			if err != nil {
				return Value{}, nil, err
			}
			list = append(list, item)
			remaining = r
		}
		return Value{Kind: KindList, List: list}, rest, nil
	default:
		return Value{}, nil, fmt.Errorf("%w: type byte %d", ErrUnknownDataType, typ)
	}
}
