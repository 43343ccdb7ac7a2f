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

// Package wire implements the BIND RNDC version 1 wire format: a
// length-prefixed, HMAC-MD5-authenticated table of named values.
package wire

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// Errors returned by Encode and Decode. Callers should match against these
// with errors.Is; the concrete error may be wrapped with additional context.
var (
	ErrMissingKey      = errors.New("wire: missing required key")
	ErrBadArgumentType = errors.New("wire: bad argument type")
	ErrUnknownDataType = errors.New("wire: unknown data type")
	ErrShortRead       = errors.New("wire: short read")
	ErrBadMagic        = errors.New("wire: bad magic/version")
	ErrBadSignature    = errors.New("wire: bad signature")
	ErrDuplicateKey    = errors.New("wire: duplicate key")
	ErrBadKey          = errors.New("wire: malformed key material")
)

// Version is the only RNDC protocol version this package speaks.
const Version = 1

const (
	typeBinary = 1
	typeTable  = 2
	typeList   = 3
)

// sigAlgo is the single-byte algorithm tag occupying the first byte of the
// _auth.hmd5 signature payload. RNDC v1 only ever uses HMAC-MD5.
const sigAlgo = 'A'

// sigDigestLen is the length, in bytes, of the base64-encoded 16-byte MD5
// digest ("22 characters" in the base spec).
const sigDigestLen = 22

// sigPayloadLen is the total length of the _auth.hmd5 value payload: the
// algorithm tag, the encoded digest, and zero padding out to BIND's fixed
// slot size.
const sigPayloadLen = 88

const (
	keyAuth  = "_auth"
	keyHMD5  = "hmd5"
	keyCtrl  = "_ctrl"
	keyData  = "_data"
	keyNonce = "_nonce"
	keyTim   = "_tim"
	keyExp   = "_exp"
)

// decodeKey base64-decodes a client-supplied HMAC key, wrapping malformed
// input in ErrBadKey.
func decodeKey(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadKey, err)
	}
	return raw, nil
}
