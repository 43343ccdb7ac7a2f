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
	"net/netip"
	"sync"
	"testing"
	"time"
)

// fakeRNDCDConn is a no-op net.Conn standing in for a connection to
// rndcd, so the benchmark measures pool overhead rather than socket I/O.
type fakeRNDCDConn struct {
	net.Conn
}

func (f *fakeRNDCDConn) Close() error { return nil }

// BenchmarkPoolPerServer models the shape rndcclient actually uses the
// pool in: one Pool per rndcd address, checked out and released by a
// burst of concurrent callers.
func BenchmarkPoolPerServer(b *testing.B) {
	const inFlight = 100

	dial := func() (net.Conn, error) {
		return &fakeRNDCDConn{}, nil
	}

	pool, _ := New(10, dial)

	servers := map[netip.Addr]Pool{
		netip.MustParseAddr("127.0.0.1"): pool,
	}
	rndcd := netip.MustParseAddr("127.0.0.1")

	for range 10 {
		conn, _ := servers[rndcd].Get()
		_ = conn.Close()
	}

	burst := func() {
		var wg sync.WaitGroup
		wg.Add(inFlight)
		for range inFlight {
			go func() {
				defer wg.Done()
				conn, _ := servers[rndcd].Get()
				time.Sleep(10 * time.Millisecond)
				_ = conn.Close()
			}()
		}
		wg.Wait()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		burst()
	}

	if pool.Len() > 10 {
		b.Fail()
	}
}
