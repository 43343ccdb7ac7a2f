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

// Package rndcclient binds the RNDC session state machine to a blocking
// TCP socket, giving callers a single synchronous Do method.
package rndcclient

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"go.isc.org/rndc/internal/connpool"
	"go.isc.org/rndc/internal/session"
	"go.isc.org/rndc/internal/wire"
)

// DefaultPort is the standard TCP port `named` listens for RNDC
// connections on.
const DefaultPort = 953

// Option configures a Client at construction time.
type Option func(*Client)

// WithConnPool enables connection reuse across Do calls, up to maxIdle
// idle connections held open to the same server.
func WithConnPool(maxIdle int) Option {
	return func(c *Client) { c.poolSize = maxIdle }
}

// WithDialTimeout bounds how long a single TCP dial is allowed to take.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithRetry enables dial retry with exponential backoff, bounded by the
// context passed to Do.
func WithRetry(b backoff.BackOff) Option {
	return func(c *Client) { c.retry = b }
}

// DoOption overrides one field of the destination or credentials for a
// single Do call, without disturbing the Client's own configuration or
// its idle connection pool.
type DoOption func(*doOverrides)

type doOverrides struct {
	host    string
	hasHost bool
	port    int
	hasPort bool
	key     string
	hasKey  bool
}

// WithHost targets a different host for this call only. Mirrors named's
// own rndc, which lets a single configured client issue a one-off
// command against an arbitrary server.
func WithHost(host string) DoOption {
	return func(o *doOverrides) { o.host, o.hasHost = host, true }
}

// WithServer is an undocumented legacy alias for WithHost, mirroring the
// Client.Server field's own alias for Client.Host.
func WithServer(server string) DoOption {
	return WithHost(server)
}

// WithPort targets a different port for this call only.
func WithPort(port int) DoOption {
	return func(o *doOverrides) { o.port, o.hasPort = port, true }
}

// WithKey signs this call with a different key than the Client's own,
// for talking to a server that authenticates with a key the Client
// wasn't constructed with.
func WithKey(key string) DoOption {
	return func(o *doOverrides) { o.key, o.hasKey = key, true }
}

// Client issues RNDC commands against one server.
type Client struct {
	// Host is the RNDC server's address. Server is accepted as an
	// undocumented legacy alias for Host, mirroring names historically
	// seen in ad hoc rndc wrapper scripts.
	Host   string
	Server string
	Port   int
	Key    string

	poolSize    int
	dialTimeout time.Duration
	retry       backoff.BackOff

	pool connpool.Pool
}

// New constructs a Client for host:port authenticating with key.
func New(host string, port int, key string, opts ...Option) *Client {
	if port == 0 {
		port = DefaultPort
	}
	c := &Client{Host: host, Port: port, Key: key, dialTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	if c.poolSize > 0 {
		addr := c.addr()
		pool, err := connpool.New(c.poolSize, func() (net.Conn, error) {
			return net.DialTimeout("tcp", addr, c.dialTimeout)
		})
		if err == nil {
			c.pool = pool
		}
	}
	return c
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.host(), strconv.Itoa(c.Port))
}

func (c *Client) host() string {
	if c.Host != "" {
		return c.Host
	}
	return c.Server
}

// Do runs command against the server and returns its response text.
// Per-call DoOptions override the Client's own Host, Port, or Key for
// this call only; a call that overrides the destination bypasses the
// Client's idle connection pool, which was built for its own address.
func (c *Client) Do(ctx context.Context, command string, opts ...DoOption) (string, error) {
	var ov doOverrides
	for _, opt := range opts {
		opt(&ov)
	}

	addr := c.addr()
	usePool := c.pool != nil
	if ov.hasHost || ov.hasPort {
		host, port := c.host(), c.Port
		if ov.hasHost {
			host = ov.host
		}
		if ov.hasPort {
			port = ov.port
		}
		addr = net.JoinHostPort(host, strconv.Itoa(port))
		usePool = false
	}
	key := c.Key
	if ov.hasKey {
		key = ov.key
	}

	conn, err := c.dial(ctx, addr, usePool)
	if err != nil {
		return "", fmt.Errorf("rndcclient: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	sess, err := session.New(key, command)
	if err != nil {
		return "", err
	}

	var response string
	var sessionErr error
	session.Pump(sess, &connDriver{
		conn: conn,
		finish: func(r string) { response = r },
		fail:   func(e error) { sessionErr = e },
	})
	if sessionErr != nil {
		if pc, ok := conn.(*wrappedConn); ok {
			pc.markUnusable()
		}
		return "", fmt.Errorf("rndcclient: %w", sessionErr)
	}
	return response, nil
}

// dial obtains a connection to addr, either from the pool (when usePool
// allows it) or via a fresh dial, optionally retried with backoff.
func (c *Client) dial(ctx context.Context, addr string, usePool bool) (net.Conn, error) {
	if usePool && c.pool != nil {
		conn, err := c.pool.Get()
		if err == nil {
			return &wrappedConn{Conn: conn}, nil
		}
		log.Debug().Err(err).Msg("rndcclient: pool exhausted, dialing directly")
	}

	dialOnce := func() (net.Conn, error) {
		return net.DialTimeout("tcp", addr, c.dialTimeout)
	}
	if c.retry == nil {
		conn, err := dialOnce()
		return &wrappedConn{Conn: conn}, err
	}

	b := backoff.WithContext(c.retry, ctx)
	conn, err := backoff.RetryWithData(dialOnce, b)
	if err != nil {
		return nil, err
	}
	return &wrappedConn{Conn: conn}, nil
}

// wrappedConn lets Do mark a connection unusable (so it is closed rather
// than returned to the pool) after a protocol-level failure, without
// depending on connpool.Conn directly.
type wrappedConn struct {
	net.Conn
	unusable bool
}

func (w *wrappedConn) markUnusable() {
	w.unusable = true
	if m, ok := w.Conn.(interface{ MarkUnusable() }); ok {
		m.MarkUnusable()
	}
}

// connDriver adapts a net.Conn to session.Driver.
type connDriver struct {
	conn   net.Conn
	finish func(string)
	fail   func(error)
}

func (d *connDriver) WantWrite(b []byte) error {
	_, err := d.conn.Write(b)
	return err
}

func (d *connDriver) WantRead() ([]byte, error) {
	return wire.ReadPacket(d.conn)
}

func (d *connDriver) WantFinish(response string) { d.finish(response) }
func (d *connDriver) WantError(err error)        { d.fail(err) }

// Close releases the client's connection pool, if any.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}
