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

// Package zonecheck cross-checks an rndc reload/retransfer result against
// the SOA serial actually being served, letting rndcd report a reload as
// applied only once the answering nameserver agrees.
package zonecheck

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// Checker queries a nameserver's SOA record to confirm a zone reload took
// effect.
type Checker struct {
	// Server is the nameserver to query, host:port. Defaults to
	// 127.0.0.1:53.
	Server string
	// Timeout bounds a single query. Defaults to 3s.
	Timeout time.Duration

	client *dns.Client
}

// NewChecker constructs a Checker against server.
func NewChecker(server string) *Checker {
	if server == "" {
		server = "127.0.0.1:53"
	}
	return &Checker{
		Server:  server,
		Timeout: 3 * time.Second,
		client:  new(dns.Client),
	}
}

// Serial queries the SOA record for zone and returns its serial number.
func (c *Checker) Serial(ctx context.Context, zone string) (uint32, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(zone), dns.TypeSOA)
	m.RecursionDesired = false

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client := c.client
	if client == nil {
		client = new(dns.Client)
	}
	client.Timeout = timeout

	in, _, err := client.ExchangeContext(ctx, m, c.Server)
	if err != nil {
		return 0, fmt.Errorf("zonecheck: query %s SOA: %w", zone, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return 0, fmt.Errorf("zonecheck: %s SOA query returned %s", zone, dns.RcodeToString[in.Rcode])
	}
	for _, rr := range in.Answer {
		if soa, ok := rr.(*dns.SOA); ok {
			return soa.Serial, nil
		}
	}
	return 0, fmt.Errorf("zonecheck: no SOA record in response for %s", zone)
}

// VerifySerial reports whether zone is currently being served with serial
// reported, e.g. the value rndc's own reload/retransfer response claimed.
func (c *Checker) VerifySerial(ctx context.Context, zone string, reported uint32) (bool, error) {
	got, err := c.Serial(ctx, zone)
	if err != nil {
		return false, err
	}
	return got == reported, nil
}
