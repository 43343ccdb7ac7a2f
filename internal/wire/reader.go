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
	"io"

	"github.com/dustin/go-humanize"
)

// MaxPacketSize bounds how large a single packet's length prefix is
// allowed to claim, guarding against a malicious or corrupt peer asking
// callers to allocate unbounded memory.
const MaxPacketSize = 1 << 20

// ReadPacket reads one complete length-prefixed RNDC packet from r,
// including the 4-byte length prefix, and returns it ready to pass to
// Decode.
func ReadPacket(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShortRead, err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxPacketSize {
		return nil, fmt.Errorf("%w: packet claims %s, exceeds %s limit",
			ErrShortRead, humanize.Bytes(uint64(length)), humanize.Bytes(MaxPacketSize))
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShortRead, err)
	}
	out := make([]byte, 0, 4+length)
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	return out, nil
}
