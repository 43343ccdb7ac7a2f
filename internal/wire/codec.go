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
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // RNDC v1 mandates HMAC-MD5; not a choice this package makes
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// TimestampSkew is how far past _ctrl._tim a packet's _ctrl._exp is set,
// matching the window real named/rndc peers expect a signed request to
// remain valid for.
const TimestampSkew = 60 * time.Second

// Packet is the logical content of one RNDC message: the key used to sign
// it, the protocol version, and the data table carrying _ctrl and _data.
type Packet struct {
	Key     string
	Version uint32
	Data    *Table
}

// NewPacket returns a Packet with an empty _ctrl/_data data table and the
// default version.
func NewPacket(key string) *Packet {
	data := NewTable()
	data.Set(keyCtrl, TableValue(NewTable()))
	data.Set(keyData, TableValue(NewTable()))
	return &Packet{Key: key, Version: Version, Data: data}
}

// Ctrl returns the packet's _ctrl sub-table, creating it if absent.
func (p *Packet) Ctrl() *Table {
	if t := p.Data.GetTable(keyCtrl); t != nil {
		return t
	}
	t := NewTable()
	p.Data.Set(keyCtrl, TableValue(t))
	return t
}

// Body returns the packet's _data sub-table, creating it if absent.
func (p *Packet) Body() *Table {
	if t := p.Data.GetTable(keyData); t != nil {
		return t
	}
	t := NewTable()
	p.Data.Set(keyData, TableValue(t))
	return t
}

// SetNonce records an integer nonce under _ctrl._nonce, encoded as decimal
// ASCII per the wire format's integers-as-strings convention.
func (p *Packet) SetNonce(nonce uint32) {
	p.Ctrl().SetString(keyNonce, fmt.Sprintf("%d", nonce))
}

// Nonce returns the packet's _ctrl._nonce as an integer, and whether it was
// present and well-formed.
func (p *Packet) Nonce() (uint32, bool) {
	ctrl := p.Data.GetTable(keyCtrl)
	if ctrl == nil {
		return 0, false
	}
	s := ctrl.GetString(keyNonce)
	if s == "" {
		return 0, false
	}
	var n uint32
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// SetTimestamps records _ctrl._tim as now and _ctrl._exp as now plus
// TimestampSkew, both as decimal ASCII seconds since the epoch, so a
// receiving peer that checks packet freshness has something to check
// against. This package itself only ever validates the signature.
func (p *Packet) SetTimestamps(now time.Time) {
	p.Ctrl().SetString(keyTim, fmt.Sprintf("%d", now.Unix()))
	p.Ctrl().SetString(keyExp, fmt.Sprintf("%d", now.Add(TimestampSkew).Unix()))
}

// Encode serializes p, signing it with p.Key, and returns the complete
// on-wire packet including the 4-byte length prefix.
func Encode(p *Packet) ([]byte, error) {
	key, err := decodeKey(p.Key)
	if err != nil {
		return nil, err
	}
	if p.Data == nil {
		return nil, fmt.Errorf("%w: data", ErrMissingKey)
	}

	body := NewTable()
	sig := NewTable()
	sig.SetString(keyHMD5, string(make([]byte, sigPayloadLen)))
	if err := body.SetNew(keyAuth, TableValue(sig)); err != nil {
		return nil, err
	}
	for _, k := range p.Data.Keys() {
		v, _ := p.Data.Get(k)
		if err := body.SetNew(k, v); err != nil {
			return nil, err
		}
	}

	buf, err := encodeTableBody(body)
	if err != nil {
		return nil, err
	}

	version := make([]byte, 4)
	binary.BigEndian.PutUint32(version, p.Version)
	full := append(version, buf...)

	// The _auth entry is: 1 byte klen + 5 bytes key + 1 byte type +
	// 4 bytes vlen + 1 byte hmd5-klen + 4 bytes "hmd5" + 1 byte value
	// type + 4 bytes value length, immediately followed by the
	// sigPayloadLen-byte zeroed signature payload.
	sigStart, sigEnd, err := locateSignatureSlot(full)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(md5.New, key)
	mac.Write(full[sigEnd:])
	digest := mac.Sum(nil)

	payload := make([]byte, sigPayloadLen)
	payload[0] = sigAlgo
	encoded := base64.StdEncoding.EncodeToString(digest)
	copy(payload[1:1+sigDigestLen], encoded)
	copy(full[sigStart:sigEnd], payload)

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(full)))
	return append(length, full...), nil
}

// Decode parses a complete on-wire packet (including its length prefix),
// verifies its HMAC-MD5 signature against key, and returns the
// reconstructed Packet.
func Decode(raw []byte, key string) (*Packet, error) {
	rawKey, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	if len(raw) < 4 {
		return nil, ErrShortRead
	}
	length := binary.BigEndian.Uint32(raw[:4])
	if int(length) != len(raw)-4 {
		return nil, fmt.Errorf("%w: length prefix mismatch", ErrShortRead)
	}
	body := raw[4:]
	if len(body) < 4 {
		return nil, ErrShortRead
	}
	version := binary.BigEndian.Uint32(body[:4])
	if version != Version {
		return nil, fmt.Errorf("%w: version %d", ErrBadMagic, version)
	}
	full := body

	sigStart, sigEnd, err := locateSignatureSlot(full)
	if err != nil {
		return nil, err
	}
	sigCopy := make([]byte, sigEnd-sigStart)
	copy(sigCopy, full[sigStart:sigEnd])
	for i := sigStart; i < sigEnd; i++ {
		full[i] = 0
	}

	mac := hmac.New(md5.New, rawKey)
	mac.Write(full[sigEnd:])
	digest := mac.Sum(nil)
	expected := base64.RawStdEncoding.EncodeToString(digest)

	if len(sigCopy) < 1+sigDigestLen || sigCopy[0] != sigAlgo {
		return nil, fmt.Errorf("%w: unrecognized algorithm tag", ErrBadSignature)
	}
	got := string(sigCopy[1 : 1+sigDigestLen])
	if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return nil, ErrBadSignature
	}

	table, rest, err := decodeTableBody(full[4:])
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrShortRead)
	}

	if _, ok := table.Get(keyAuth); !ok || table.Keys()[0] != keyAuth {
		return nil, fmt.Errorf("%w: _auth must be first", ErrBadSignature)
	}

	data := NewTable()
	for _, k := range table.Keys() {
		if k == keyAuth {
			continue
		}
		v, _ := table.Get(k)
		data.Set(k, v)
	}

	return &Packet{Key: key, Version: version, Data: data}, nil
}

// locateSignatureSlot re-parses full (version-prefixed body) far enough to
// find the byte range of the _auth.hmd5 signature payload, without fully
// decoding the rest of the table. full must start with the _auth entry.
func locateSignatureSlot(full []byte) (start, end int, err error) {
	pos := 4 // skip version
	if len(full) < pos+1 {
		return 0, 0, ErrShortRead
	}
	klen := int(full[pos])
	pos++
	if klen != len(keyAuth) || len(full) < pos+klen {
		return 0, 0, fmt.Errorf("%w: expected _auth first", ErrBadSignature)
	}
	if string(full[pos:pos+klen]) != keyAuth {
		return 0, 0, fmt.Errorf("%w: expected _auth first", ErrBadSignature)
	}
	pos += klen
	if len(full) < pos+5 {
		return 0, 0, ErrShortRead
	}
	typ := full[pos]
	if typ != typeTable {
		return 0, 0, fmt.Errorf("%w: _auth must be a table", ErrBadArgumentType)
	}
	pos++
	vlen := int(binary.BigEndian.Uint32(full[pos : pos+4]))
	pos += 4
	if len(full) < pos+vlen {
		return 0, 0, ErrShortRead
	}
	sub := full[pos : pos+vlen]

	spos := 0
	if len(sub) < spos+1 {
		return 0, 0, ErrShortRead
	}
	sklen := int(sub[spos])
	spos++
	if sklen != len(keyHMD5) || len(sub) < spos+sklen || string(sub[spos:spos+sklen]) != keyHMD5 {
		return 0, 0, fmt.Errorf("%w: expected hmd5 key", ErrBadSignature)
	}
	spos += sklen
	if len(sub) < spos+5 {
		return 0, 0, ErrShortRead
	}
	if sub[spos] != typeBinary {
		return 0, 0, fmt.Errorf("%w: hmd5 must be a binary string", ErrBadArgumentType)
	}
	spos++
	svlen := int(binary.BigEndian.Uint32(sub[spos : spos+4]))
	spos += 4
	if svlen != sigPayloadLen {
		return 0, 0, fmt.Errorf("%w: signature slot must be %d bytes", ErrBadSignature, sigPayloadLen)
	}

	payloadStart := pos + spos
	return payloadStart, payloadStart + sigPayloadLen, nil
}
