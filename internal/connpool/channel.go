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

// Pooling strategy (buffered channel as a idle-connection ring, wrap on
// Get, return-to-pool on Close) is adapted from Fatih Arslan's
// go-pool, MIT licensed:
//
// The MIT License (MIT)
//
// Copyright (c) 2013 Fatih Arslan
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

package connpool

import (
	"errors"
	"net"
	"sync"
)

// Factory dials a fresh connection to the pool's rndcd endpoint.
type Factory func() (net.Conn, error)

// rndcPool is the Pool implementation used by rndcclient: a buffered
// channel of idle connections to one server, topped up on demand via
// dial.
type rndcPool struct {
	idle chan net.Conn
	dial Factory
	mu   sync.RWMutex
}

// New returns a Pool that keeps at most maxIdle idle connections to the
// server dial reaches, dialing a fresh one whenever Get finds the idle
// set empty.
func New(maxIdle int, dial Factory) (Pool, error) {
	if dial == nil {
		return nil, errors.New("connpool: dial factory is nil")
	}
	if maxIdle <= 0 {
		return nil, errors.New("connpool: maxIdle must be positive")
	}

	return &rndcPool{
		idle: make(chan net.Conn, maxIdle),
		dial: dial,
	}, nil
}

// Get returns an idle connection if one is available, otherwise dials a
// new one. On a pool that has already been closed it returns ErrClosed.
func (p *rndcPool) Get() (net.Conn, error) {
	idle, dial := p.snapshot()
	if idle == nil {
		return nil, ErrClosed
	}

	select {
	case conn := <-idle:
		if conn == nil {
			return nil, ErrClosed
		}
		return p.wrap(conn), nil
	default:
		conn, err := dial()
		if err != nil {
			return nil, err
		}
		return p.wrap(conn), nil
	}
}

// Close closes the pool and every connection idling in it. Connections
// currently checked out are closed as they're returned instead.
func (p *rndcPool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.dial = nil
	p.mu.Unlock()

	if idle == nil {
		return
	}

	close(idle)
	for conn := range idle {
		//nolint:errcheck // best effort during teardown
		_ = conn.Close()
	}
}

// Len reports the number of idle connections held.
func (p *rndcPool) Len() int {
	idle, _ := p.snapshot()
	return len(idle)
}

// release returns conn to the idle set, or closes it if the pool is
// closed or already full. A nil conn is rejected outright.
func (p *rndcPool) release(conn net.Conn) error {
	if conn == nil {
		return errors.New("connpool: refusing to release a nil connection")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.idle == nil {
		return conn.Close()
	}

	select {
	case p.idle <- conn:
		return nil
	default:
		return conn.Close()
	}
}

func (p *rndcPool) snapshot() (chan net.Conn, Factory) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.idle, p.dial
}

// wrap adapts conn so that Close returns it to the pool instead of
// tearing it down.
func (p *rndcPool) wrap(conn net.Conn) net.Conn {
	pc := &Conn{pool: p}
	pc.Conn = conn
	return pc
}
