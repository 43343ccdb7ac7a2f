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

// Package rndckey provides a portable, self-describing encoding of an
// RNDC key so that rndc-confgen can hand one generated secret to both the
// client's rndc.conf stanza and the daemon's YAML config without either
// re-deriving the encoding.
package rndckey

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DefaultAlgorithm is the only HMAC algorithm RNDC v1 speaks.
const DefaultAlgorithm = "hmac-md5"

// Key is a named HMAC secret.
type Key struct {
	Name      string `json:"name"`
	Algorithm string `json:"algorithm"`
	Secret    string `json:"secret"`
}

// Generate creates a new random 16-byte HMAC-MD5 key named name, encoded
// as base64 the way rndc.conf and the daemon config both expect.
func Generate(name string) (Key, error) {
	if name == "" {
		return Key{}, fmt.Errorf("rndckey: name is required")
	}
	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		return Key{}, fmt.Errorf("rndckey: generate secret: %w", err)
	}
	return Key{
		Name:      name,
		Algorithm: DefaultAlgorithm,
		Secret:    base64.StdEncoding.EncodeToString(secret),
	}, nil
}

// MarshalText encodes Key into base64-encoded JSON, a compact,
// copy-pasteable single-line token.
func (k Key) MarshalText() ([]byte, error) {
	type plain Key // drops the methods so json.Marshal does not call back here
	raw, err := json.Marshal(plain(k))
	if err != nil {
		return nil, fmt.Errorf("rndckey: marshal: %w", err)
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

// UnmarshalText decodes a token produced by MarshalText.
func (k *Key) UnmarshalText(data []byte) error {
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return fmt.Errorf("rndckey: decode base64: %w", err)
	}
	type plain Key
	if err := json.Unmarshal(raw, (*plain)(k)); err != nil {
		return fmt.Errorf("rndckey: unmarshal: %w", err)
	}
	return nil
}

// ConfStanza renders the key as an rndc.conf key {} block.
func (k Key) ConfStanza() string {
	return fmt.Sprintf("key %q {\n\talgorithm %s;\n\tsecret %q;\n};\n", k.Name, k.Algorithm, k.Secret)
}
