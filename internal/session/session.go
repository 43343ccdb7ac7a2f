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

// Package session implements the RNDC v1 two-round-trip handshake as a
// pure, non-blocking state machine. It performs no I/O of its own: callers
// drive it by responding to emitted Events with bytes read from, or
// intended for, a transport of their choosing.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.isc.org/rndc/internal/wire"
)

// State names the session's position in the handshake.
type State int

const (
	Start State = iota
	SentOpening
	SentResponse
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Start:
		return "Start"
	case SentOpening:
		return "SentOpening"
	case SentResponse:
		return "SentResponse"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Kind identifies which of the four events Next/Start emitted.
type Kind int

const (
	// WantWrite carries bytes the caller must write to the transport.
	// The following call to Next must pass nil once the write completes.
	WantWrite Kind = iota
	// WantRead signals the caller must read one complete packet (see
	// wire.ReadPacket) and pass its bytes to Next.
	WantRead
	// WantFinish carries the final response text; the session is Done.
	WantFinish
	// WantError carries a terminal error; the session is Failed.
	WantError
)

// Event is emitted by Start and Next to tell the caller what to do next.
type Event struct {
	Kind     Kind
	Bytes    []byte // for WantWrite
	Response string // for WantFinish
	Err      error  // for WantError
}

// Driver is an alternative to switching on Event.Kind: callers that prefer
// four named methods over a single dispatch function can implement Driver
// and use Pump to run a session to completion.
type Driver interface {
	WantWrite(b []byte) error
	WantRead() ([]byte, error)
	WantFinish(response string)
	WantError(err error)
}

var (
	ErrNoCommand      = errors.New("session: client role requires a command")
	ErrNonceMismatch  = errors.New("session: nonce mismatch")
	ErrUnexpectedCall = errors.New("session: Next called out of sequence")
	ErrNotAuthorized  = errors.New("session: unrecognized key")
)

// step is a continuation: the function to run when the caller supplies buf
// in response to the most recently emitted event.
type step func(buf []byte) Event

// Session drives one RNDC handshake to completion. It is single-use and
// not safe for concurrent use.
type Session struct {
	key      string
	isClient bool
	command  string
	nonce    uint32

	// fixedNonce and hasFixedNonce let a server-role Session skip
	// crypto/rand and issue a caller-supplied nonce instead, for tests
	// and other callers that need a reproducible challenge.
	fixedNonce    uint32
	hasFixedNonce bool

	state State
	next  step
	// wantRead records that the last emitted event was WantRead, so Next
	// can reject a nil buffer where a packet is expected.
	wantRead bool

	// handle is the server-role callback invoked once the signed
	// response has been authenticated, producing the result text.
	handle func(command string) (string, error)
}

// Option configures optional behavior of a server-role Session at
// construction time.
type Option func(*Session)

// WithNonce overrides crypto/rand-generated nonce issuance with a fixed
// value. Intended for tests; a server that reuses nonces across sessions
// gives up the replay protection nonce freshness normally provides.
func WithNonce(nonce uint32) Option {
	return func(s *Session) {
		s.fixedNonce = nonce
		s.hasFixedNonce = true
	}
}

// New constructs a client-role session that will send command, signed
// with key.
func New(key, command string) (*Session, error) {
	if command == "" {
		return nil, ErrNoCommand
	}
	s := &Session{key: key, isClient: true, command: command, state: Start}
	return s, nil
}

// NewServer constructs a server-role session that validates incoming
// requests against key and produces its result text via handle.
func NewServer(key string, handle func(command string) (string, error), opts ...Option) *Session {
	s := &Session{key: key, isClient: false, state: Start, handle: handle}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// Start begins the handshake and returns its first event.
func (s *Session) Start() Event {
	if s.state != Start || s.next != nil {
		return s.fail(ErrUnexpectedCall)
	}
	if s.isClient {
		return s.sendOpening()
	}
	s.next = s.serverHandleOpening
	s.wantRead = true
	return Event{Kind: WantRead}
}

// Next continues the handshake: pass nil after a WantWrite event, or the
// bytes of one complete packet after a WantRead event.
func (s *Session) Next(buf []byte) Event {
	if s.next == nil || (s.wantRead && buf == nil) {
		return s.fail(ErrUnexpectedCall)
	}
	next := s.next
	s.next = nil
	ev := next(buf)
	s.wantRead = ev.Kind == WantRead
	return ev
}

// Pump drives s to completion using d for I/O, blocking as d's methods
// block. It is a convenience for callers that would otherwise hand-write
// the WantRead/WantWrite loop.
func Pump(s *Session, d Driver) {
	ev := s.Start()
	for {
		switch ev.Kind {
		case WantWrite:
			if err := d.WantWrite(ev.Bytes); err != nil {
				d.WantError(err)
				return
			}
			ev = s.Next(nil)
		case WantRead:
			buf, err := d.WantRead()
			if err != nil {
				d.WantError(err)
				return
			}
			ev = s.Next(buf)
		case WantFinish:
			d.WantFinish(ev.Response)
			return
		case WantError:
			d.WantError(ev.Err)
			return
		}
	}
}

// EventFunc handles one Event and returns the buffer to feed into the
// session's next step: the bytes just read in response to a WantRead
// event, or nil in every other case. A non-nil error aborts the pump
// immediately, without giving the session a chance to reach WantError.
//
// EventFunc is an alternative to Driver for callers who would rather
// switch on ev.Kind in one function than implement four named methods.
type EventFunc func(ev Event) ([]byte, error)

// PumpFunc drives s to completion like Pump, but calls fn once per Event
// instead of dispatching to a Driver's methods.
func PumpFunc(s *Session, fn EventFunc) error {
	ev := s.Start()
	for {
		switch ev.Kind {
		case WantFinish:
			_, err := fn(ev)
			return err
		case WantError:
			if _, err := fn(ev); err != nil {
				return err
			}
			return ev.Err
		default: // WantWrite, WantRead
			buf, err := fn(ev)
			if err != nil {
				return err
			}
			ev = s.Next(buf)
		}
	}
}

func (s *Session) sendOpening() Event {
	p := wire.NewPacket(s.key)
	p.SetTimestamps(time.Now())
	p.Body().SetString("type", s.command)
	raw, err := wire.Encode(p)
	if err != nil {
		return s.fail(err)
	}
	s.state = SentOpening
	s.next = s.afterSendOpening
	return Event{Kind: WantWrite, Bytes: raw}
}

func (s *Session) afterSendOpening(buf []byte) Event {
	s.next = s.clientHandleChallenge
	return Event{Kind: WantRead}
}

// clientHandleChallenge processes the server's nonce challenge and sends
// the signed response.
func (s *Session) clientHandleChallenge(buf []byte) Event {
	p, err := wire.Decode(buf, s.key)
	if err != nil {
		return s.fail(err)
	}
	nonce, ok := p.Nonce()
	if !ok {
		return s.fail(fmt.Errorf("%w: challenge missing nonce", ErrNonceMismatch))
	}

	resp := wire.NewPacket(s.key)
	resp.SetTimestamps(time.Now())
	resp.SetNonce(nonce)
	resp.Body().SetString("type", s.command)
	raw, err := wire.Encode(resp)
	if err != nil {
		return s.fail(err)
	}
	s.state = SentResponse
	s.next = s.afterSendResponse
	return Event{Kind: WantWrite, Bytes: raw}
}

func (s *Session) afterSendResponse(buf []byte) Event {
	s.next = s.clientHandleResult
	return Event{Kind: WantRead}
}

// clientHandleResult processes the server's final result packet.
func (s *Session) clientHandleResult(buf []byte) Event {
	p, err := wire.Decode(buf, s.key)
	if err != nil {
		return s.fail(err)
	}
	text := p.Body().GetString("err")
	if text == "" {
		text = p.Body().GetString("text")
	}
	s.state = Done
	return Event{Kind: WantFinish, Response: text}
}

// serverHandleOpening processes the client's opening request and issues a
// nonce challenge.
func (s *Session) serverHandleOpening(buf []byte) Event {
	if _, err := wire.Decode(buf, s.key); err != nil {
		return s.fail(fmt.Errorf("%w: %w", ErrNotAuthorized, err))
	}

	nonce, err := s.issueNonce()
	if err != nil {
		return s.fail(err)
	}

	challenge := wire.NewPacket(s.key)
	challenge.SetTimestamps(time.Now())
	challenge.SetNonce(nonce)
	raw, err := wire.Encode(challenge)
	if err != nil {
		return s.fail(err)
	}
	s.state = SentOpening
	s.next = s.afterSendChallenge
	return Event{Kind: WantWrite, Bytes: raw}
}

func (s *Session) afterSendChallenge(buf []byte) Event {
	s.next = s.serverHandleResponse
	return Event{Kind: WantRead}
}

// serverHandleResponse validates the client's signed response, echoing
// the nonce, and dispatches to the handler.
func (s *Session) serverHandleResponse(buf []byte) Event {
	p, err := wire.Decode(buf, s.key)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %w", ErrNotAuthorized, err))
	}
	got, ok := p.Nonce()
	if !ok || got != s.nonce {
		return s.fail(ErrNonceMismatch)
	}
	command := p.Body().GetString("type")

	result, herr := s.handle(command)

	reply := wire.NewPacket(s.key)
	reply.SetTimestamps(time.Now())
	if herr != nil {
		reply.Body().SetString("err", herr.Error())
	} else {
		reply.Body().SetString("text", result)
	}
	raw, err := wire.Encode(reply)
	if err != nil {
		return s.fail(err)
	}
	s.state = SentResponse
	s.next = func(buf []byte) Event {
		s.state = Done
		return Event{Kind: WantFinish, Response: result}
	}
	return Event{Kind: WantWrite, Bytes: raw}
}

func (s *Session) issueNonce() (uint32, error) {
	if s.hasFixedNonce {
		s.nonce = s.fixedNonce
		return s.nonce, nil
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	s.nonce = binary.BigEndian.Uint32(b[:])
	return s.nonce, nil
}

func (s *Session) fail(err error) Event {
	s.state = Failed
	s.next = nil
	return Event{Kind: WantError, Err: err}
}
