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

import "fmt"

// Kind identifies which variant of Value is populated.
type Kind int

const (
	// KindString is a raw byte string.
	KindString Kind = iota
	// KindTable is an ordered mapping of string keys to Values.
	KindTable
	// KindList is a decode-only ordered sequence of Values.
	KindList
)

// Value is the tagged sum type at the leaves and branches of an RNDC
// packet: a byte string, an ordered table, or (decode-only) a list.
type Value struct {
	Kind  Kind
	Bytes []byte
	Table *Table
	List  []Value
}

// String builds a KindString Value from a Go string.
func String(s string) Value { return Value{Kind: KindString, Bytes: []byte(s)} }

// Bin builds a KindString Value from raw bytes.
func Bin(b []byte) Value { return Value{Kind: KindString, Bytes: b} }

// TableValue builds a KindTable Value wrapping t.
func TableValue(t *Table) Value { return Value{Kind: KindTable, Table: t} }

// Str returns the value's bytes as a string. Valid for KindString values
// only; other kinds return an empty string.
func (v Value) Str() string {
	if v.Kind != KindString {
		return ""
	}
	return string(v.Bytes)
}

// entry is one key/value pair in a Table, kept in insertion order.
type entry struct {
	key   string
	value Value
}

// Table is an ordered mapping of short ASCII keys to Values, preserving
// insertion order the way the wire format requires for the leading _auth
// entry and reproduces for the rest on encode.
type Table struct {
	entries []entry
	index   map[string]int
}

// NewTable returns an empty Table ready for use.
func NewTable() *Table {
	return &Table{index: make(map[string]int)}
}

// Set inserts or replaces the value at key, preserving the original
// position of key if it already existed. Set never fails; SetNew is the
// variant that rejects an existing key with ErrDuplicateKey.
func (t *Table) Set(key string, v Value) {
	if i, ok := t.index[key]; ok {
		t.entries[i].value = v
		return
	}
	t.index[key] = len(t.entries)
	t.entries = append(t.entries, entry{key: key, value: v})
}

// SetNew inserts a value at key, failing with ErrDuplicateKey if key is
// already present. Used while decoding, where a duplicate key is a
// protocol violation rather than an update.
func (t *Table) SetNew(key string, v Value) error {
	if _, ok := t.index[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}
	t.index[key] = len(t.entries)
	t.entries = append(t.entries, entry{key: key, value: v})
	return nil
}

// SetString is a convenience wrapper around Set for string leaves.
func (t *Table) SetString(key, val string) { t.Set(key, String(val)) }

// Get returns the value at key and whether it was present.
func (t *Table) Get(key string) (Value, bool) {
	i, ok := t.index[key]
	if !ok {
		return Value{}, false
	}
	return t.entries[i].value, true
}

// GetTable returns the sub-table at key, or nil if key is absent or not a
// table.
func (t *Table) GetTable(key string) *Table {
	v, ok := t.Get(key)
	if !ok || v.Kind != KindTable {
		return nil
	}
	return v.Table
}

// GetString returns the string at key, or "" if absent or not a string.
func (t *Table) GetString(key string) string {
	v, ok := t.Get(key)
	if !ok {
		return ""
	}
	return v.Str()
}

// Keys returns the table's keys in insertion order.
func (t *Table) Keys() []string {
	keys := make([]string, len(t.entries))
	for i, e := range t.entries {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of entries in the table.
func (t *Table) Len() int { return len(t.entries) }
