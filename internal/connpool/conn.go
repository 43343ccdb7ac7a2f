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

package connpool

import (
	"net"
	"sync"
)

// Conn wraps a pooled net.Conn so that Close returns it to its pool
// instead of tearing down the underlying socket.
type Conn struct {
	net.Conn
	pool     *rndcPool
	mu       sync.Mutex
	unusable bool
}

// Close releases conn back to its pool, unless MarkUnusable was called
// on it, in which case the underlying connection is closed for good.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unusable {
		if c.Conn != nil {
			return c.Conn.Close()
		}
		return nil
	}

	return c.pool.release(c.Conn)
}

// MarkUnusable flags conn as broken, so the pool closes it on Close
// instead of returning it to the idle set. rndcclient calls this after
// a protocol error, since a connection that failed mid-session can't be
// trusted for the next command.
func (c *Conn) MarkUnusable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unusable = true
}
