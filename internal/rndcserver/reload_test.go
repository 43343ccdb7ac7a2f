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

package rndcserver

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"go.isc.org/rndc/internal/zonecheck"
)

var errFake = errors.New("handler failed")

func startZoneAuthority(t *testing.T, zone string, serial uint32) (addr string, shutdown func()) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(dns.Fqdn(zone), func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Answer = append(m.Answer, &dns.SOA{
			Hdr:     dns.RR_Header{Name: dns.Fqdn(zone), Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 60},
			Ns:      "ns1." + dns.Fqdn(zone),
			Mbox:    "hostmaster." + dns.Fqdn(zone),
			Serial:  serial,
			Refresh: 3600, Retry: 900, Expire: 604800, Minttl: 60,
		})
		_ = w.WriteMsg(m)
	})

	srv := &dns.Server{PacketConn: pc, Handler: mux}
	ready := make(chan struct{})
	srv.NotifyStartedFunc = func() { close(ready) }
	go func() { _ = srv.ActivateAndServe() }()
	<-ready

	return pc.LocalAddr().String(), func() { _ = srv.Shutdown() }
}

func TestWithZoneCheckMatchingSerial(t *testing.T) {
	addr, shutdown := startZoneAuthority(t, "example.test.", 100)
	defer shutdown()

	base := func(context.Context, string) (string, error) { return "zone reloaded", nil }
	h := WithZoneCheck(base, zonecheck.NewChecker(addr))

	resp, err := h(context.Background(), "retransfer example.test. 100")
	require.NoError(t, err)
	require.Equal(t, "zone reloaded", resp)
}

func TestWithZoneCheckMismatchedSerial(t *testing.T) {
	addr, shutdown := startZoneAuthority(t, "example.test.", 99)
	defer shutdown()

	base := func(context.Context, string) (string, error) { return "zone reloaded", nil }
	h := WithZoneCheck(base, zonecheck.NewChecker(addr))

	_, err := h(context.Background(), "retransfer example.test. 100")
	require.Error(t, err)
}

func TestWithZoneCheckIgnoresOtherCommands(t *testing.T) {
	base := func(context.Context, string) (string, error) { return "server up", nil }
	h := WithZoneCheck(base, zonecheck.NewChecker("127.0.0.1:1"))

	resp, err := h(context.Background(), "status")
	require.NoError(t, err)
	require.Equal(t, "server up", resp)
}

func TestWithZoneCheckPassesThroughHandlerError(t *testing.T) {
	base := func(context.Context, string) (string, error) { return "", errFake }
	h := WithZoneCheck(base, zonecheck.NewChecker("127.0.0.1:1"))

	_, err := h(context.Background(), "retransfer example.test. 1")
	require.ErrorIs(t, err, errFake)
}
