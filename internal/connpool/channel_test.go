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
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const poolCap = 30

// startFakeRNDCD runs an echo listener standing in for an rndcd control
// channel: it accepts connections and never closes them on its own, so
// tests can dial into a bounded idle pool without a real daemon.
func startFakeRNDCD(t *testing.T) (addr string, shutdown func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}(conn)
		}
	}()

	return ln.Addr().String(), func() { _ = ln.Close() }
}

func dialer(addr string) Factory {
	return func() (net.Conn, error) { return net.Dial("tcp", addr) }
}

func TestNewRejectsInvalidArgs(t *testing.T) {
	addr, shutdown := startFakeRNDCD(t)
	defer shutdown()

	_, err := New(0, dialer(addr))
	assert.Error(t, err)

	_, err = New(poolCap, nil)
	assert.Error(t, err)
}

func TestPoolGetDialsWhenEmpty(t *testing.T) {
	addr, shutdown := startFakeRNDCD(t)
	defer shutdown()

	p, err := New(poolCap, dialer(addr))
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Get()
	require.NoError(t, err)
	require.NotNil(t, conn)

	// nothing has been returned to the idle set yet
	assert.Equal(t, 0, p.Len())
}

func TestPoolCloseReturnsConnectionToIdleSet(t *testing.T) {
	addr, shutdown := startFakeRNDCD(t)
	defer shutdown()

	p, err := New(poolCap, dialer(addr))
	require.NoError(t, err)
	defer p.Close()

	conns := make([]net.Conn, poolCap)
	for i := range poolCap {
		conn, err := p.Get()
		require.NoError(t, err)
		conns[i] = conn
	}

	for _, conn := range conns {
		assert.NoError(t, conn.Close())
	}
	assert.Equal(t, poolCap, p.Len())

	conn, err := p.Get()
	require.NoError(t, err)
	p.Close()

	assert.NoError(t, conn.Close())
	assert.Equal(t, 0, p.Len())
}

func TestPoolMarkUnusableDropsConnectionInsteadOfReturningIt(t *testing.T) {
	addr, shutdown := startFakeRNDCD(t)
	defer shutdown()

	p, err := New(poolCap, dialer(addr))
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Get()
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	before := p.Len()

	conn, err = p.Get()
	require.NoError(t, err)
	pc, ok := conn.(*Conn)
	require.True(t, ok)
	pc.MarkUnusable()

	require.NoError(t, conn.Close())
	assert.Equal(t, before-1, p.Len())
}

func TestPoolLenStartsEmpty(t *testing.T) {
	addr, shutdown := startFakeRNDCD(t)
	defer shutdown()

	p, err := New(poolCap, dialer(addr))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 0, p.Len())
}

func TestPoolCloseTearsDownInternals(t *testing.T) {
	addr, shutdown := startFakeRNDCD(t)
	defer shutdown()

	p, err := New(poolCap, dialer(addr))
	require.NoError(t, err)
	p.Close()

	rp, ok := p.(*rndcPool)
	require.True(t, ok)
	assert.Nil(t, rp.idle)
	assert.Nil(t, rp.dial)

	_, err = p.Get()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, p.Len())
}

func TestPoolConcurrentGetAndClose(t *testing.T) {
	addr, shutdown := startFakeRNDCD(t)
	defer shutdown()

	p, err := New(poolCap, dialer(addr))
	require.NoError(t, err)

	pipe := make(chan net.Conn)
	go func() { p.Close() }()

	for range poolCap {
		go func() {
			conn, _ := p.Get()
			pipe <- conn
		}()
		go func() {
			conn := <-pipe
			if conn != nil {
				_ = conn.Close()
			}
		}()
	}
}

func TestPoolWriteThroughPooledConnection(t *testing.T) {
	addr, shutdown := startFakeRNDCD(t)
	defer shutdown()

	p, err := New(poolCap, dialer(addr))
	require.NoError(t, err)

	conn, err := p.Get()
	require.NoError(t, err)

	_, err = conn.Write([]byte("rndc status"))
	assert.NoError(t, err)
}

func TestPoolConcurrentGetAndRelease(t *testing.T) {
	addr, shutdown := startFakeRNDCD(t)
	defer shutdown()

	p, err := New(poolCap, dialer(addr))
	require.NoError(t, err)

	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		conn, _ := p.Get()
		time.Sleep(rand.N(20 * time.Millisecond))
		if conn != nil {
			_ = conn.Close()
		}
	}

	wg.Add(20)
	for range 20 {
		go worker()
	}
	wg.Wait()
}

func TestPoolClosingWhileCheckoutInFlight(t *testing.T) {
	addr, shutdown := startFakeRNDCD(t)
	defer shutdown()

	p, err := New(1, dialer(addr))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Close()
	}()

	if conn, err := p.Get(); err == nil {
		_ = conn.Close()
	}
	wg.Wait()
}
