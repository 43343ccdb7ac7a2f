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

// Package rndcserver accepts RNDC control connections and drives one
// server-role session.Session per connection from a bounded worker pool.
package rndcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"go.isc.org/rndc/internal/lifecycle"
	"go.isc.org/rndc/internal/session"
	"go.isc.org/rndc/internal/wire"
	"go.isc.org/rndc/internal/wpool"
)

// ErrNonceReplayed is returned when an incoming response echoes a nonce
// that this listener already issued to, and expects back from, a
// different session.
var ErrNonceReplayed = errors.New("rndcserver: nonce already claimed by a different session")

// Handler dispatches a decoded RNDC command and returns its result text.
type Handler func(ctx context.Context, command string) (string, error)

// DefaultHandler recognizes a handful of commands for smoke tests and
// demos; real deployments supply their own Handler.
func DefaultHandler(_ context.Context, command string) (string, error) {
	switch command {
	case "status":
		return "server is up and running", nil
	case "reload":
		return "reload queued", nil
	case "stop":
		return "stopping", nil
	default:
		return "", fmt.Errorf("rndcserver: unknown command %q", command)
	}
}

// Options configures a Server at construction time.
type Options struct {
	// Keys maps a key name to its base64 secret, mirroring rndc.conf's
	// support for multiple named keys. The wire protocol itself only
	// ever carries the raw key, so the server tries each configured key
	// in turn when authenticating an incoming session.
	Keys map[string]string
	// Handler dispatches authenticated commands. Defaults to
	// DefaultHandler.
	Handler Handler
	// Workers bounds the number of sessions handled concurrently.
	// Defaults to 16.
	Workers int
	// SessionTimeout bounds how long a single connection's handshake is
	// allowed to take. Defaults to 10s.
	SessionTimeout time.Duration
	// MaxAuthFailures bounds how many failed handshakes a single remote
	// address may accumulate before Serve starts refusing its
	// connections outright. Tracked per address in an LRU cache so a
	// misconfigured or hostile client cannot grow the tracking table
	// without bound. Zero means the default of 5; a negative value
	// disables the check.
	MaxAuthFailures int
}

// Server accepts RNDC connections on a net.Listener.
type Server struct {
	opts    Options
	pool    *wpool.Pool
	strikes *lru.Cache[string, int]

	// nonces tracks which session (by correlation ID) is entitled to
	// redeem each nonce this listener has issued, across every
	// connection it currently has open. A response that echoes a nonce
	// owned by some other session, or one that has already been
	// redeemed, is rejected before it ever reaches that session's
	// state machine.
	nonces *lru.Cache[uint32, string]

	metrics *metrics

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	stopped  chan struct{}
}

// New constructs a Server with opts.
func New(opts Options) (*Server, error) {
	if len(opts.Keys) == 0 {
		return nil, errors.New("rndcserver: at least one key is required")
	}
	if opts.Handler == nil {
		opts.Handler = DefaultHandler
	}
	if opts.Workers <= 0 {
		opts.Workers = 16
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = 10 * time.Second
	}
	if opts.MaxAuthFailures == 0 {
		opts.MaxAuthFailures = 5
	}

	strikes, err := lru.New[string, int](4096)
	if err != nil {
		return nil, fmt.Errorf("rndcserver: strike cache: %w", err)
	}
	nonces, err := lru.New[uint32, string](4096)
	if err != nil {
		return nil, fmt.Errorf("rndcserver: nonce cache: %w", err)
	}

	return &Server{
		opts:    opts,
		pool:    wpool.New(opts.Workers),
		strikes: strikes,
		nonces:  nonces,
		metrics: newMetrics(),
		stopped: make(chan struct{}),
	}, nil
}

var _ lifecycle.Controller = (*Server)(nil)

// Start listens on addr and serves until ctx is canceled or Stop is
// called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", addrFromContext(ctx))
	if err != nil {
		return fmt.Errorf("rndcserver: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// addrFromContext exists purely so Start satisfies lifecycle.Controller;
// most callers should use ListenAndServe or Serve directly with an
// explicit address.
func addrFromContext(ctx context.Context) string {
	if addr, ok := ctx.Value(addrKey{}).(string); ok {
		return addr
	}
	return "127.0.0.1:953"
}

type addrKey struct{}

// WithAddr attaches addr to ctx for a subsequent Start call.
func WithAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, addrKey{}, addr)
}

// ListenAndServe listens on addr and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rndcserver: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled or Stop is
// called, dispatching each to the worker pool.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-s.stopped:
			ln.Close()
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.stopped:
				return nil
			default:
				return fmt.Errorf("rndcserver: accept: %w", err)
			}
		}
		s.wg.Add(1)
		s.pool.Submit(func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		})
	}
}

// Stop closes the listener and waits for in-flight sessions to finish.
func (s *Server) Stop(ctx context.Context) error {
	close(s.stopped)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.pool.Close()
	return nil
}

// Status reports whether the server currently has a listener bound.
func (s *Server) Status(context.Context) (lifecycle.ServiceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return lifecycle.StatusStopped, nil
	}
	return lifecycle.StatusRunning, nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.opts.SessionTimeout))

	remote := conn.RemoteAddr().String()
	correlationID := uuid.NewString()
	logCtx := log.With().Str("remote", remote).Str("session_id", correlationID).Logger()

	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	if s.blocked(host) {
		logCtx.Warn().Msg("rndcserver: refusing connection, too many recent auth failures")
		s.metrics.sessionsTotal.WithLabelValues("blocked").Inc()
		return
	}

	logCtx.Debug().Msg("rndcserver: accepted connection")

	result, err := s.runSession(ctx, conn, correlationID)
	if err != nil {
		s.metrics.sessionsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, session.ErrNotAuthorized) {
			s.strike(host)
		}
		logCtx.Warn().Err(err).Msg("rndcserver: session failed")
		return
	}
	s.metrics.sessionsTotal.WithLabelValues("ok").Inc()
	logCtx.Debug().Str("result", result).Msg("rndcserver: session completed")
}

// blocked reports whether host has already accumulated MaxAuthFailures
// failed handshakes.
func (s *Server) blocked(host string) bool {
	if s.opts.MaxAuthFailures <= 0 {
		return false
	}
	n, ok := s.strikes.Get(host)
	return ok && n >= s.opts.MaxAuthFailures
}

// strike records an authentication failure from host.
func (s *Server) strike(host string) {
	n, _ := s.strikes.Get(host)
	s.strikes.Add(host, n+1)
}

// runSession authenticates the incoming connection against every
// configured key in turn (the wire protocol carries only the raw key, not
// its name, so the server cannot know in advance which key a client is
// using) and drives the resulting session to completion.
func (s *Server) runSession(ctx context.Context, conn net.Conn, correlationID string) (string, error) {
	raw, err := wire.ReadPacket(conn)
	if err != nil {
		return "", fmt.Errorf("read opening packet: %w", err)
	}

	for _, secret := range s.opts.Keys {
		// Decode mutates its input while verifying the signature, so
		// each candidate key needs its own copy of the opening packet.
		attempt := make([]byte, len(raw))
		copy(attempt, raw)

		result, err := s.tryKey(ctx, conn, secret, attempt, correlationID)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, session.ErrNotAuthorized) {
			return "", err
		}
	}
	s.metrics.authFailuresTotal.Inc()
	return "", session.ErrNotAuthorized
}

func (s *Server) tryKey(ctx context.Context, conn net.Conn, key string, opening []byte, correlationID string) (string, error) {
	start := time.Now()
	var result string
	var sessionErr error

	sess := session.NewServer(key, func(command string) (string, error) {
		return s.opts.Handler(ctx, command)
	})

	first := true
	session.Pump(sess, &firstBufDriver{
		conn: conn,
		first: func() []byte {
			if first {
				first = false
				return opening
			}
			return nil
		},
		finish: func(r string) { result = r },
		fail:   func(e error) { sessionErr = e },

		key:           key,
		correlationID: correlationID,
		nonces:        s.nonces,
	})

	s.metrics.handlerDuration.Observe(time.Since(start).Seconds())

	if sessionErr != nil {
		return "", sessionErr
	}
	return result, nil
}

// firstBufDriver adapts a net.Conn to session.Driver, but returns a
// caller-supplied buffer (the already-read opening packet) the first time
// WantRead is invoked instead of reading from the socket again. It also
// registers and redeems this session's nonce in the listener-wide nonces
// cache, so a nonce this listener issued can only ever be claimed back by
// the session it was issued to.
type firstBufDriver struct {
	conn   net.Conn
	first  func() []byte
	finish func(string)
	fail   func(error)

	key           string
	correlationID string
	nonces        *lru.Cache[uint32, string]

	writes int
	reads  int
}

func (d *firstBufDriver) WantWrite(b []byte) error {
	d.writes++
	// The first write a server-role session makes is always the nonce
	// challenge (see session.serverHandleOpening); the second is the
	// final result and carries no nonce.
	if d.writes == 1 {
		if nonce, ok := peekNonce(b, d.key); ok {
			d.nonces.Add(nonce, d.correlationID)
		}
	}
	_, err := d.conn.Write(b)
	return err
}

func (d *firstBufDriver) WantRead() ([]byte, error) {
	d.reads++
	buf := d.first()
	if buf == nil {
		var err error
		buf, err = wire.ReadPacket(d.conn)
		if err != nil {
			return nil, err
		}
	}
	// The second read is the client's signed response, echoing the
	// nonce from the first write above.
	if d.reads == 2 {
		nonce, ok := peekNonce(buf, d.key)
		if !ok {
			return buf, nil
		}
		owner, tracked := d.nonces.Get(nonce)
		if !tracked || owner != d.correlationID {
			return nil, ErrNonceReplayed
		}
		d.nonces.Remove(nonce)
	}
	return buf, nil
}

func (d *firstBufDriver) WantFinish(r string) { d.finish(r) }
func (d *firstBufDriver) WantError(err error) { d.fail(err) }

// peekNonce decodes a copy of b to read its _ctrl._nonce without
// disturbing b itself: wire.Decode zeroes the signature slot of the
// buffer it verifies, and b still needs to reach session.Next intact.
func peekNonce(b []byte, key string) (uint32, bool) {
	cp := make([]byte, len(b))
	copy(cp, b)
	p, err := wire.Decode(cp, key)
	if err != nil {
		return 0, false
	}
	return p.Nonce()
}
