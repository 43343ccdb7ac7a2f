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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "YWJjZGVmZ2hpamtsbW5vcA=="

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := NewPacket(testKey)
	p.Body().SetString("type", "status")

	raw, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(raw, testKey)
	require.NoError(t, err)

	assert.Equal(t, "status", got.Body().GetString("type"))
	assert.Equal(t, uint32(Version), got.Version)
}

func TestEncodeMinimalPacket(t *testing.T) {
	p := NewPacket(testKey)

	raw, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(raw, testKey)
	require.NoError(t, err)

	assert.NotNil(t, got.Data.GetTable("_ctrl"))
	assert.NotNil(t, got.Data.GetTable("_data"))
	assert.Equal(t, uint32(1), got.Version)
}

func TestEncodeWithNonce(t *testing.T) {
	p := NewPacket(testKey)
	p.SetNonce(121)

	raw, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(raw, testKey)
	require.NoError(t, err)

	n, ok := got.Nonce()
	require.True(t, ok)
	assert.Equal(t, uint32(121), n)
}

func TestEncodeMissingKey(t *testing.T) {
	p := NewPacket("")

	_, err := Encode(p)
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestEncodeBadKey(t *testing.T) {
	p := NewPacket("not valid base64!!")

	_, err := Encode(p)
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestDecodeWrongKeyFailsSignature(t *testing.T) {
	p := NewPacket(testKey)
	raw, err := Encode(p)
	require.NoError(t, err)

	otherKey := "cXJzdHV2d3h5ejAxMjM0NTY3ODk="
	_, err = Decode(raw, otherKey)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestDecodeTamperedBodyFailsSignature(t *testing.T) {
	p := NewPacket(testKey)
	p.Body().SetString("type", "status")
	raw, err := Encode(p)
	require.NoError(t, err)

	// Flip a byte well past the fixed-size signature slot, inside the
	// _data.type string payload.
	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = Decode(tampered, testKey)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestDecodeShortRead(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x00, 0x00}, testKey)
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestDecodeBadMagic(t *testing.T) {
	p := NewPacket(testKey)
	raw, err := Encode(p)
	require.NoError(t, err)

	// Overwrite the version field (bytes 4:8) with an unsupported value.
	tampered := append([]byte(nil), raw...)
	tampered[7] = 9

	_, err = Decode(tampered, testKey)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestEncodeUnknownDataType(t *testing.T) {
	p := NewPacket(testKey)
	p.Body().Set("weird", Value{Kind: KindList})

	_, err := Encode(p)
	assert.ErrorIs(t, err, ErrUnknownDataType)
}

func TestTableSetNewDuplicateKey(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.SetNew("a", String("1")))

	err := tbl.SetNew("a", String("2"))
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestEncodeDeterministic(t *testing.T) {
	build := func() *Packet {
		p := NewPacket(testKey)
		p.Body().SetString("type", "reload")
		p.SetNonce(7)
		return p
	}

	raw1, err := Encode(build())
	require.NoError(t, err)
	raw2, err := Encode(build())
	require.NoError(t, err)

	assert.Equal(t, raw1, raw2)
}

func TestReadPacketRoundTrip(t *testing.T) {
	p := NewPacket(testKey)
	raw, err := Encode(p)
	require.NoError(t, err)

	got, err := ReadPacket(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}
